package content

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidProjectID indicates an empty or oversized project identifier.
	ErrInvalidProjectID = errors.New("content: invalid project id")
	// ErrInvalidArticleID indicates an empty or oversized article identifier.
	ErrInvalidArticleID = errors.New("content: invalid article id")
	// ErrInvalidCommentID indicates an empty or oversized comment identifier.
	ErrInvalidCommentID = errors.New("content: invalid comment id")
	// ErrInvalidReplyID indicates an empty or oversized reply identifier.
	ErrInvalidReplyID = errors.New("content: invalid reply id")
	// ErrInvalidSlug indicates a slug outside [a-z0-9-].
	ErrInvalidSlug = errors.New("content: invalid slug")
)

// ValidateID trims and bounds-checks a raw identifier, wrapping sentinel on failure.
func ValidateID(rawInput string, sentinel error) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", sentinel)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", sentinel, maxIdentifierLength)
	}
	return trimmed, nil
}

// ValidateSlug accepts lowercase ascii letters, digits and single dashes.
func ValidateSlug(raw string) (string, error) {
	slug := strings.TrimSpace(raw)
	if slug == "" || len(slug) > maxIdentifierLength {
		return "", fmt.Errorf("%w: %q", ErrInvalidSlug, raw)
	}
	if strings.HasPrefix(slug, "-") || strings.HasSuffix(slug, "-") || strings.Contains(slug, "--") {
		return "", fmt.Errorf("%w: %q", ErrInvalidSlug, raw)
	}
	for _, r := range slug {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
			return "", fmt.Errorf("%w: %q", ErrInvalidSlug, raw)
		}
	}
	return slug, nil
}

// LocalizedText holds one text variant per locale code.
type LocalizedText map[string]string

// IsBlank reports whether no locale carries non-whitespace text.
func (t LocalizedText) IsBlank() bool {
	for _, value := range t {
		if strings.TrimSpace(value) != "" {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (t LocalizedText) Clone() LocalizedText {
	if t == nil {
		return nil
	}
	out := make(LocalizedText, len(t))
	for locale, value := range t {
		out[locale] = value
	}
	return out
}

// Stage is the lifecycle tag shown alongside a project.
type Stage string

const (
	StageDraft        Stage = "draft"
	StageConsultation Stage = "consultation"
	StageDeliberation Stage = "deliberation"
	StageClosed       Stage = "closed"
)

// Project is a versioned publishable proposal. ArticleIDs is the ordered
// article membership of the current version only.
type Project struct {
	ID          string        `gorm:"column:id;primaryKey;size:190;not null"`
	Slug        string        `gorm:"column:slug;size:190;not null;uniqueIndex"`
	AuthorID    string        `gorm:"column:author_id;size:190;not null;index"`
	Title       string        `gorm:"column:title;size:512;not null"`
	ShortAbout  string        `gorm:"column:short_about;type:text"`
	About       LocalizedText `gorm:"column:about;type:text;serializer:json"`
	AuthorNotes LocalizedText `gorm:"column:author_notes;type:text;serializer:json"`
	CoverURL    string        `gorm:"column:cover_url;size:1024"`
	VideoURL    string        `gorm:"column:video_url;size:1024"`
	Stage       Stage         `gorm:"column:stage;size:32;not null;default:'draft'"`
	Version     int           `gorm:"column:version;not null;default:1"`
	ArticleIDs  []string      `gorm:"column:article_ids;type:text;serializer:json"`
	Hidden      bool          `gorm:"column:hidden;not null;default:true"`
	PublishedAt *time.Time    `gorm:"column:published_at"`
	ClosedAt    *time.Time    `gorm:"column:closed_at"`
	CreatedAt   time.Time     `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time     `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Project) TableName() string {
	return "projects"
}

// Published reports whether the project left the draft state.
func (p *Project) Published() bool {
	return p.PublishedAt != nil
}

// Closed reports whether the contribution deadline passed at now.
func (p *Project) Closed(now time.Time) bool {
	return p.ClosedAt != nil && !now.Before(*p.ClosedAt)
}

// Accessible reports whether a viewer may read the project. Editors always may.
func (p *Project) Accessible(canEdit bool) bool {
	if canEdit {
		return true
	}
	return p.Published() && !p.Hidden
}

// HasArticle reports whether articleID belongs to the current version.
func (p *Project) HasArticle(articleID string) bool {
	for _, id := range p.ArticleIDs {
		if id == articleID {
			return true
		}
	}
	return false
}

// Article is a positioned text block of a project.
type Article struct {
	ID             string        `gorm:"column:id;primaryKey;size:190;not null"`
	ProjectID      string        `gorm:"column:project_id;size:190;not null;index"`
	Text           LocalizedText `gorm:"column:text;type:text;serializer:json"`
	NotInteractive bool          `gorm:"column:not_interactive;not null;default:false"`
	Position       int           `gorm:"column:position;not null"`
	CreatedAt      time.Time     `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time     `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Article) TableName() string {
	return "articles"
}

// Comment is a project-level (ArticleID == "") or article-level comment.
// Version fields are 0 when the annotation was never applied.
type Comment struct {
	ID                   string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	ProjectID            string    `gorm:"column:project_id;size:190;not null;index:idx_comments_scope,priority:1" json:"projectId"`
	ArticleID            string    `gorm:"column:article_id;size:190;not null;default:'';index:idx_comments_scope,priority:2" json:"articleId,omitempty"`
	UserID               string    `gorm:"column:user_id;size:190;not null;index" json:"userId"`
	Text                 string    `gorm:"column:text;type:text;not null" json:"text"`
	CreatedInVersion     int       `gorm:"column:created_in_version;not null;default:1" json:"createdInVersion"`
	HighlightedInVersion int       `gorm:"column:highlighted_in_version;not null;default:0" json:"highlightedInVersion"`
	ResolvedInVersion    int       `gorm:"column:resolved_in_version;not null;default:0" json:"resolvedInVersion"`
	CreatedAt            time.Time `gorm:"column:created_at;not null;index:idx_comments_scope,priority:3" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "comments"
}

// Reply answers a comment. Replies are ordered by creation time.
type Reply struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	CommentID string    `gorm:"column:comment_id;size:190;not null;index:idx_replies_comment,priority:1" json:"commentId"`
	UserID    string    `gorm:"column:user_id;size:190;not null;index" json:"userId"`
	Text      string    `gorm:"column:text;type:text;not null" json:"text"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_replies_comment,priority:2" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (Reply) TableName() string {
	return "replies"
}
