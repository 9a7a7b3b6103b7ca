package server_test

import (
	"net/http"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/reader"
	"github.com/stretchr/testify/require"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func TestProjectLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t)
	author := h.token(t, "author-1", auth.RoleAuthor, "AR")
	alice := h.token(t, "alice", auth.RoleUser, "UY")

	var created reader.ProjectView
	status := h.call(t, http.MethodPost, "/projects", author, map[string]any{
		"slug":  "water-law",
		"title": "Water law",
		"about": map[string]string{"es": "sobre v1"},
		"articles": []map[string]any{
			{"text": map[string]string{"es": "Artículo 1"}},
		},
	}, &created)
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, 1, created.Version)
	require.True(t, created.Hidden)
	require.Len(t, created.Articles, 1)
	articleID := created.Articles[0].ID

	var denied errorBody
	status = h.call(t, http.MethodGet, "/projects/water-law", "", nil, &denied)
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "reader.read_project.project_inaccessible", denied.Code)

	status = h.call(t, http.MethodPost, "/projects/"+created.ID+"/publish", author, nil, nil)
	require.Equal(t, http.StatusOK, status)

	var comment struct {
		ID               string `json:"id"`
		CreatedInVersion int    `json:"createdInVersion"`
	}
	status = h.call(t, http.MethodPost, "/projects/"+created.ID+"/comments", alice, map[string]any{
		"articleId": articleID,
		"text":      "Falta el caudal mínimo",
	}, &comment)
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, 1, comment.CreatedInVersion)

	var toggled struct {
		Result string `json:"result"`
	}
	status = h.call(t, http.MethodPost, "/likes", alice, map[string]any{
		"projectId": created.ID,
		"articleId": articleID,
		"type":      "like",
	}, &toggled)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "new", toggled.Result)

	var cut reader.ProjectView
	status = h.call(t, http.MethodPost, "/projects/"+created.ID+"/versions", author, map[string]any{
		"baseVersion": 1,
		"about":       map[string]string{"es": "sobre v2"},
		"articles": []map[string]any{
			{"id": articleID, "text": map[string]string{"es": "Artículo 1 revisado"}},
		},
	}, &cut)
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, 2, cut.Version)
	require.Equal(t, "Artículo 1 revisado", cut.Articles[0].Text["es"])

	var stale errorBody
	status = h.call(t, http.MethodPost, "/projects/"+created.ID+"/versions", author, map[string]any{
		"baseVersion": 1,
		"authorNotes": map[string]string{"es": "notas"},
		"articles":    []map[string]any{{"id": articleID}},
	}, &stale)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "stale_base_version", stale.Error)

	var past reader.ProjectView
	status = h.call(t, http.MethodGet, "/projects/water-law?version=1", "", nil, &past)
	require.Equal(t, http.StatusOK, status)
	require.True(t, past.Historical)
	require.Equal(t, "sobre v1", past.About["es"])
	require.Equal(t, "Artículo 1", past.Articles[0].Text["es"])
	require.NotNil(t, past.Articles[0].Stats)
	require.EqualValues(t, 1, past.Articles[0].Stats.Likes)
	require.EqualValues(t, 1, past.Articles[0].Stats.Comments)
	require.EqualValues(t, 1, past.Articles[0].Stats.UniqueUsersWhoInteractedPerCountry["UY"])

	var page reader.Page[reader.CommentView]
	status = h.call(t, http.MethodGet, "/projects/"+created.ID+"/comments?articleId="+articleID, alice, nil, &page)
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 1, page.Total)
	require.Equal(t, comment.ID, page.Items[0].ID)

	var versions struct {
		Versions []reader.VersionSummary `json:"versions"`
	}
	status = h.call(t, http.MethodGet, "/projects/"+created.ID+"/versions", "", nil, &versions)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, versions.Versions, 2)
	require.True(t, versions.Versions[1].Current)
}

func TestCutVersionRequestContractOverHTTP(t *testing.T) {
	h := newHarness(t)
	author := h.token(t, "author-1", auth.RoleAuthor, "")

	var created reader.ProjectView
	require.Equal(t, http.StatusCreated, h.call(t, http.MethodPost, "/projects", author, map[string]any{
		"slug":  "budget",
		"title": "Budget",
		"articles": []map[string]any{
			{"text": map[string]string{"es": "cerrado"}, "notInteractive": true},
			{"text": map[string]string{"es": "abierto"}},
		},
	}, &created))
	require.Len(t, created.Articles, 2)
	require.True(t, created.Articles[0].NotInteractive)
	require.Equal(t, http.StatusOK, h.call(t, http.MethodPost, "/projects/"+created.ID+"/publish", author, nil, nil))

	var invalid errorBody
	require.Equal(t, http.StatusBadRequest, h.call(t, http.MethodPost, "/projects/"+created.ID+"/versions", author, map[string]any{
		"baseVersion": 1,
	}, &invalid))
	require.Equal(t, "http.invalid_request", invalid.Code)

	var cut reader.ProjectView
	require.Equal(t, http.StatusCreated, h.call(t, http.MethodPost, "/projects/"+created.ID+"/versions", author, map[string]any{
		"baseVersion": 1,
		"articles": []map[string]any{
			{"id": created.Articles[0].ID},
			{"id": created.Articles[1].ID, "text": map[string]string{"es": "abierto v2"}},
		},
	}, &cut))
	require.Equal(t, 2, cut.Version)
	require.Len(t, cut.Articles, 2)
	require.True(t, cut.Articles[0].NotInteractive)
	require.Equal(t, "cerrado", cut.Articles[0].Text["es"])
	require.False(t, cut.Articles[1].NotInteractive)
	require.Equal(t, "abierto v2", cut.Articles[1].Text["es"])

	var emptied reader.ProjectView
	require.Equal(t, http.StatusCreated, h.call(t, http.MethodPost, "/projects/"+created.ID+"/versions", author, map[string]any{
		"baseVersion": 2,
		"authorNotes": map[string]string{"es": "sin artículos"},
		"articles":    []map[string]any{},
	}, &emptied))
	require.Equal(t, 3, emptied.Version)
	require.Empty(t, emptied.Articles)
}

func TestCommentModerationOverHTTP(t *testing.T) {
	h := newHarness(t)
	author := h.token(t, "author-1", auth.RoleAuthor, "")
	alice := h.token(t, "alice", auth.RoleUser, "")
	bob := h.token(t, "bob", auth.RoleUser, "")

	var project reader.ProjectView
	require.Equal(t, http.StatusCreated, h.call(t, http.MethodPost, "/projects", author, map[string]any{"slug": "parks", "title": "Parks"}, &project))
	require.Equal(t, http.StatusOK, h.call(t, http.MethodPost, "/projects/"+project.ID+"/publish", author, nil, nil))

	var comment struct {
		ID string `json:"id"`
	}
	require.Equal(t, http.StatusCreated, h.call(t, http.MethodPost, "/projects/"+project.ID+"/comments", alice, map[string]any{"text": "more trees"}, &comment))
	var reply struct {
		ID string `json:"id"`
	}
	require.Equal(t, http.StatusCreated, h.call(t, http.MethodPost, "/comments/"+comment.ID+"/replies", bob, map[string]any{"text": "agreed"}, &reply))

	var replies reader.Page[reader.ReplyView]
	require.Equal(t, http.StatusOK, h.call(t, http.MethodGet, "/comments/"+comment.ID+"/replies", "", nil, &replies))
	require.Len(t, replies.Items, 1)

	require.Equal(t, http.StatusForbidden, h.call(t, http.MethodPost, "/comments/"+comment.ID+"/highlight", bob, nil, nil))
	var highlighted struct {
		HighlightedInVersion int `json:"highlightedInVersion"`
	}
	require.Equal(t, http.StatusOK, h.call(t, http.MethodPost, "/comments/"+comment.ID+"/highlight", author, nil, &highlighted))
	require.Equal(t, 1, highlighted.HighlightedInVersion)

	var deleted struct {
		Deleted struct {
			Replies int64 `json:"replies"`
		} `json:"deleted"`
	}
	require.Equal(t, http.StatusForbidden, h.call(t, http.MethodDelete, "/comments/"+comment.ID, bob, nil, nil))
	require.Equal(t, http.StatusOK, h.call(t, http.MethodDelete, "/comments/"+comment.ID, alice, nil, &deleted))
	require.EqualValues(t, 1, deleted.Deleted.Replies)
	require.Equal(t, http.StatusNotFound, h.call(t, http.MethodGet, "/comments/"+comment.ID+"/replies", "", nil, nil))
}

func TestRequestValidationOverHTTP(t *testing.T) {
	h := newHarness(t)
	author := h.token(t, "author-1", auth.RoleAuthor, "")
	viewer := h.token(t, "reader-1", auth.RoleUser, "")

	require.Equal(t, http.StatusUnauthorized, h.call(t, http.MethodPost, "/projects", "", map[string]any{"slug": "x", "title": "X"}, nil))
	require.Equal(t, http.StatusUnauthorized, h.call(t, http.MethodGet, "/projects/x", "not-a-token", nil, nil))

	var invalid errorBody
	require.Equal(t, http.StatusBadRequest, h.call(t, http.MethodPost, "/projects", author, map[string]any{"slug": "Not A Slug", "title": "X"}, &invalid))
	require.Equal(t, "http.invalid_request", invalid.Code)

	var forbidden errorBody
	require.Equal(t, http.StatusForbidden, h.call(t, http.MethodPost, "/projects", viewer, map[string]any{"slug": "ok", "title": "X"}, &forbidden))
	require.Equal(t, "projects.create.not_author", forbidden.Code)

	require.Equal(t, http.StatusBadRequest, h.call(t, http.MethodPost, "/likes", viewer, map[string]any{"projectId": "p", "type": "love"}, nil))
	require.Equal(t, http.StatusBadRequest, h.call(t, http.MethodGet, "/projects/x?version=abc", "", nil, nil))

	var missing errorBody
	require.Equal(t, http.StatusNotFound, h.call(t, http.MethodGet, "/projects/unknown", "", nil, &missing))
	require.True(t, strings.HasSuffix(missing.Code, ".project_not_found"))

	require.Equal(t, http.StatusOK, h.call(t, http.MethodGet, "/healthz", "", nil, nil))
	require.Equal(t, http.StatusOK, h.call(t, http.MethodGet, "/metrics", "", nil, nil))
}
