package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/content"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/projects"
	"github.com/gin-gonic/gin"
)

type articlePayload struct {
	ID             string                `json:"id" binding:"omitempty,max=190"`
	Text           content.LocalizedText `json:"text"`
	NotInteractive *bool                 `json:"notInteractive"`
	Deleted        bool                  `json:"deleted"`
}

type createProjectRequest struct {
	Slug       string                `json:"slug" binding:"required,slug"`
	Title      string                `json:"title" binding:"required,max=512"`
	ShortAbout string                `json:"shortAbout"`
	About      content.LocalizedText `json:"about"`
	CoverURL   string                `json:"coverUrl" binding:"omitempty,url"`
	VideoURL   string                `json:"videoUrl" binding:"omitempty,url"`
	Stage      string                `json:"stage"`
	ClosedAt   *time.Time            `json:"closedAt"`
	Articles   []articlePayload      `json:"articles" binding:"dive"`
}

type projectFieldsPayload struct {
	Slug          *string               `json:"slug" binding:"omitempty,slug"`
	Title         *string               `json:"title" binding:"omitempty,max=512"`
	ShortAbout    *string               `json:"shortAbout"`
	About         content.LocalizedText `json:"about"`
	AuthorNotes   content.LocalizedText `json:"authorNotes"`
	CoverURL      *string               `json:"coverUrl" binding:"omitempty,url"`
	VideoURL      *string               `json:"videoUrl" binding:"omitempty,url"`
	Stage         *string               `json:"stage"`
	ClosedAt      *time.Time            `json:"closedAt"`
	ClearClosedAt bool                  `json:"clearClosedAt"`
	AuthorID      *string               `json:"authorId"`
}

type editProjectRequest struct {
	projectFieldsPayload
	Articles []articlePayload `json:"articles" binding:"dive"`
}

type cutVersionRequest struct {
	projectFieldsPayload
	BaseVersion int              `json:"baseVersion" binding:"required,min=1"`
	Articles    []articlePayload `json:"articles" binding:"required,dive"`
}

func (p projectFieldsPayload) fields() projects.ProjectFields {
	fields := projects.ProjectFields{
		Slug:          p.Slug,
		Title:         p.Title,
		ShortAbout:    p.ShortAbout,
		About:         p.About,
		AuthorNotes:   p.AuthorNotes,
		CoverURL:      p.CoverURL,
		VideoURL:      p.VideoURL,
		ClosedAt:      p.ClosedAt,
		ClearClosedAt: p.ClearClosedAt,
		AuthorID:      p.AuthorID,
	}
	if p.Stage != nil {
		stage := content.Stage(*p.Stage)
		fields.Stage = &stage
	}
	return fields
}

// articleInputs keeps nil-ness: an absent list leaves the stored one untouched.
func articleInputs(payload []articlePayload) []projects.ArticleInput {
	if payload == nil {
		return nil
	}
	inputs := make([]projects.ArticleInput, 0, len(payload))
	for _, article := range payload {
		inputs = append(inputs, projects.ArticleInput{
			ID:             strings.TrimSpace(article.ID),
			Text:           article.Text,
			NotInteractive: article.NotInteractive,
			Deleted:        article.Deleted,
		})
	}
	return inputs
}

func (h *httpHandler) handleCreateProject(c *gin.Context) {
	var request createProjectRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalid(c, "invalid_request", err)
		return
	}
	actor := actorFrom(c)
	project, err := h.projects.Create(c.Request.Context(), actor, projects.CreateInput{
		Slug:       request.Slug,
		Title:      request.Title,
		ShortAbout: request.ShortAbout,
		About:      request.About,
		CoverURL:   request.CoverURL,
		VideoURL:   request.VideoURL,
		Stage:      content.Stage(request.Stage),
		ClosedAt:   request.ClosedAt,
		Articles:   articleInputs(request.Articles),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondProject(c, http.StatusCreated, project.ID)
}

func (h *httpHandler) handleEditProject(c *gin.Context) {
	var request editProjectRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalid(c, "invalid_request", err)
		return
	}
	project, err := h.projects.Edit(c.Request.Context(), actorFrom(c), c.Param("projectID"), projects.EditInput{
		Fields:   request.fields(),
		Articles: articleInputs(request.Articles),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondProject(c, http.StatusOK, project.ID)
}

func (h *httpHandler) handlePublishProject(c *gin.Context) {
	project, err := h.projects.Publish(c.Request.Context(), actorFrom(c), c.Param("projectID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondProject(c, http.StatusOK, project.ID)
}

func (h *httpHandler) handleToggleHide(c *gin.Context) {
	project, err := h.projects.ToggleHide(c.Request.Context(), actorFrom(c), c.Param("projectID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondProject(c, http.StatusOK, project.ID)
}

func (h *httpHandler) handleCutVersion(c *gin.Context) {
	var request cutVersionRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalid(c, "invalid_request", err)
		return
	}
	project, err := h.projects.CutVersion(c.Request.Context(), actorFrom(c), c.Param("projectID"), projects.CutInput{
		BaseVersion: request.BaseVersion,
		Fields:      request.fields(),
		Articles:    articleInputs(request.Articles),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondProject(c, http.StatusCreated, project.ID)
}

func (h *httpHandler) handleReadProject(c *gin.Context) {
	version, ok := h.intQuery(c, "version")
	if !ok {
		return
	}
	view, err := h.reader.ReadProject(c.Request.Context(), c.Param("projectID"), version, actorFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleListVersions(c *gin.Context) {
	versions, err := h.reader.ListVersions(c.Request.Context(), c.Param("projectID"), actorFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

// respondProject renders the current version of a project after a write.
func (h *httpHandler) respondProject(c *gin.Context, status int, projectID string) {
	view, err := h.reader.ReadProject(c.Request.Context(), projectID, 0, actorFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(status, view)
}

// intQuery parses an optional integer query parameter; absent means 0.
func (h *httpHandler) intQuery(c *gin.Context, name string) (int, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		h.respondInvalid(c, "invalid_"+name, err)
		return 0, false
	}
	return value, true
}
