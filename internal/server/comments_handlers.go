package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/comments"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/reader"
	"github.com/gin-gonic/gin"
)

type createCommentRequest struct {
	ArticleID string `json:"articleId" binding:"omitempty,max=190"`
	Text      string `json:"text" binding:"required,max=5000"`
}

type createReplyRequest struct {
	Text string `json:"text" binding:"required,max=5000"`
}

type toggleLikeRequest struct {
	ProjectID string `json:"projectId" binding:"required,max=190"`
	ArticleID string `json:"articleId" binding:"omitempty,max=190"`
	CommentID string `json:"commentId" binding:"omitempty,max=190"`
	ReplyID   string `json:"replyId" binding:"omitempty,max=190"`
	Type      string `json:"type" binding:"required,reaction"`
}

func (h *httpHandler) handleListComments(c *gin.Context) {
	version, ok := h.intQuery(c, "version")
	if !ok {
		return
	}
	page, ok := h.intQuery(c, "page")
	if !ok {
		return
	}
	limit, ok := h.intQuery(c, "limit")
	if !ok {
		return
	}
	result, err := h.reader.ListComments(c.Request.Context(), reader.CommentQuery{
		ProjectID: c.Param("projectID"),
		ArticleID: c.Query("articleId"),
		Version:   version,
		Page:      page,
		Limit:     limit,
	}, actorFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleListReplies(c *gin.Context) {
	page, ok := h.intQuery(c, "page")
	if !ok {
		return
	}
	limit, ok := h.intQuery(c, "limit")
	if !ok {
		return
	}
	result, err := h.reader.ListReplies(c.Request.Context(), c.Param("commentID"), page, limit, actorFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleCreateComment(c *gin.Context) {
	var request createCommentRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalid(c, "invalid_request", err)
		return
	}
	comment, err := h.comments.CreateComment(c.Request.Context(), actorFrom(c), comments.CreateCommentInput{
		ProjectID: c.Param("projectID"),
		ArticleID: request.ArticleID,
		Text:      request.Text,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

func (h *httpHandler) handleCreateReply(c *gin.Context) {
	var request createReplyRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalid(c, "invalid_request", err)
		return
	}
	reply, err := h.comments.CreateReply(c.Request.Context(), actorFrom(c), c.Param("commentID"), request.Text)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, reply)
}

func (h *httpHandler) handleDeleteComment(c *gin.Context) {
	summary, err := h.comments.DeleteComment(c.Request.Context(), actorFrom(c), c.Param("commentID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": summary})
}

func (h *httpHandler) handleDeleteReply(c *gin.Context) {
	summary, err := h.comments.DeleteReply(c.Request.Context(), actorFrom(c), c.Param("replyID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": summary})
}

func (h *httpHandler) handleToggleHighlight(c *gin.Context) {
	comment, err := h.comments.ToggleHighlight(c.Request.Context(), actorFrom(c), c.Param("commentID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, comment)
}

func (h *httpHandler) handleToggleResolve(c *gin.Context) {
	comment, err := h.comments.ToggleResolve(c.Request.Context(), actorFrom(c), c.Param("commentID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, comment)
}

func (h *httpHandler) handleToggleLike(c *gin.Context) {
	var request toggleLikeRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalid(c, "invalid_request", err)
		return
	}
	result, err := h.comments.React(c.Request.Context(), actorFrom(c), comments.ReactInput{
		ProjectID: request.ProjectID,
		ArticleID: request.ArticleID,
		CommentID: request.CommentID,
		ReplyID:   request.ReplyID,
		Type:      request.Type,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}
