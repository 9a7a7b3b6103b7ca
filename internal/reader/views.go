package reader

import (
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/content"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/engagement"
)

// ProjectView is a project rendered for one requested version. Live counts
// and the viewer's reaction are only filled for the current version; past
// versions carry the stats frozen at their boundary instead.
type ProjectView struct {
	ID             string                 `json:"id"`
	Slug           string                 `json:"slug"`
	AuthorID       string                 `json:"authorId"`
	Title          string                 `json:"title"`
	ShortAbout     string                 `json:"shortAbout"`
	About          content.LocalizedText  `json:"about"`
	AuthorNotes    content.LocalizedText  `json:"authorNotes,omitempty"`
	CoverURL       string                 `json:"coverUrl,omitempty"`
	VideoURL       string                 `json:"videoUrl,omitempty"`
	Stage          content.Stage          `json:"stage"`
	Version        int                    `json:"version"`
	CurrentVersion int                    `json:"currentVersion"`
	Historical     bool                   `json:"historical"`
	Hidden         bool                   `json:"hidden"`
	Closed         bool                   `json:"closed"`
	PublishedAt    *time.Time             `json:"publishedAt"`
	ClosedAt       *time.Time             `json:"closedAt"`
	CanEdit        bool                   `json:"canEdit"`
	Articles       []ArticleView          `json:"articles"`
	Counts         *engagement.Counts     `json:"counts,omitempty"`
	Reaction       *engagement.Reaction   `json:"reaction,omitempty"`
	Stats          *content.StatsSnapshot `json:"stats,omitempty"`
}

// ArticleView is one article as it stood in the requested version.
// FromHistory is false when the live text stood in for a missing snapshot.
type ArticleView struct {
	ID             string                 `json:"id"`
	Text           content.LocalizedText  `json:"text"`
	NotInteractive bool                   `json:"notInteractive"`
	Position       int                    `json:"position"`
	FromHistory    bool                   `json:"fromHistory"`
	Counts         *engagement.Counts     `json:"counts,omitempty"`
	Reaction       *engagement.Reaction   `json:"reaction,omitempty"`
	Stats          *content.StatsSnapshot `json:"stats,omitempty"`
}

// CommentView always carries live counts, whatever version selected it.
type CommentView struct {
	ID                   string              `json:"id"`
	ProjectID            string              `json:"projectId"`
	ArticleID            string              `json:"articleId,omitempty"`
	UserID               string              `json:"userId"`
	Text                 string              `json:"text"`
	CreatedInVersion     int                 `json:"createdInVersion"`
	HighlightedInVersion int                 `json:"highlightedInVersion"`
	ResolvedInVersion    int                 `json:"resolvedInVersion"`
	CreatedAt            time.Time           `json:"createdAt"`
	Likes                int64               `json:"likes"`
	Dislikes             int64               `json:"dislikes"`
	Replies              int64               `json:"replies"`
	Reaction             engagement.Reaction `json:"reaction"`
}

// ReplyView is a reply with live counts.
type ReplyView struct {
	ID        string              `json:"id"`
	CommentID string              `json:"commentId"`
	UserID    string              `json:"userId"`
	Text      string              `json:"text"`
	CreatedAt time.Time           `json:"createdAt"`
	Likes     int64               `json:"likes"`
	Dislikes  int64               `json:"dislikes"`
	Reaction  engagement.Reaction `json:"reaction"`
}

// VersionSummary lists one entry of a project's version history.
type VersionSummary struct {
	Version    int                    `json:"version"`
	Current    bool                   `json:"current"`
	ArchivedAt *time.Time             `json:"archivedAt,omitempty"`
	ArticleIDs []string               `json:"articleIds"`
	Stats      *content.StatsSnapshot `json:"stats,omitempty"`
}

// Page is the pagination envelope of list reads.
type Page[T any] struct {
	Items    []T   `json:"items"`
	Page     int   `json:"page"`
	Pages    int   `json:"pages"`
	Total    int64 `json:"total"`
	Limit    int   `json:"limit"`
	NextPage *int  `json:"nextPage"`
	PrevPage *int  `json:"prevPage"`
}

func newPage[T any](items []T, page, limit int, total int64) Page[T] {
	pages := int((total + int64(limit) - 1) / int64(limit))
	result := Page[T]{
		Items: items,
		Page:  page,
		Pages: pages,
		Total: total,
		Limit: limit,
	}
	if page < pages {
		next := page + 1
		result.NextPage = &next
	}
	if page > 1 {
		prev := page - 1
		result.PrevPage = &prev
	}
	return result
}
