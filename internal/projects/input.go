package projects

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/content"
)

var (
	errMissingTitle     = errors.New("title is required")
	errUnknownStage     = errors.New("unknown stage")
	errDuplicateArticle = errors.New("article listed more than once")
	errDeleteNewArticle = errors.New("a new article cannot be marked deleted")
	errAuthorChange     = errors.New("only administrators may reassign the author")
)

// ArticleInput is one entry of an article list payload. An empty ID creates a
// new article; Deleted removes an existing article from the new list. A nil
// Text or NotInteractive keeps the stored value of an existing article.
type ArticleInput struct {
	ID             string
	Text           content.LocalizedText
	NotInteractive *bool
	Deleted        bool
}

// applyTo merges the submitted edits into an existing article.
func (in ArticleInput) applyTo(article *content.Article) {
	if in.Text != nil {
		article.Text = in.Text.Clone()
	}
	if in.NotInteractive != nil {
		article.NotInteractive = *in.NotInteractive
	}
}

// ProjectFields carries optional field edits; nil fields are left unchanged.
type ProjectFields struct {
	Slug          *string
	Title         *string
	ShortAbout    *string
	About         content.LocalizedText
	AuthorNotes   content.LocalizedText
	CoverURL      *string
	VideoURL      *string
	Stage         *content.Stage
	ClosedAt      *time.Time
	ClearClosedAt bool
	AuthorID      *string
}

// CreateInput describes a new project. The creating actor becomes the author.
type CreateInput struct {
	Slug       string
	Title      string
	ShortAbout string
	About      content.LocalizedText
	CoverURL   string
	VideoURL   string
	Stage      content.Stage
	ClosedAt   *time.Time
	Articles   []ArticleInput
}

// EditInput updates a project within its current version. A nil Articles
// slice leaves the article list untouched.
type EditInput struct {
	Fields   ProjectFields
	Articles []ArticleInput
}

// CutInput advances a project to the next version. BaseVersion is the
// version the edit was prepared against; a mismatch is a conflict. Articles
// is the complete list of the next version: current articles it omits are
// left out of that version, and a nil slice yields an empty list.
type CutInput struct {
	BaseVersion int
	Fields      ProjectFields
	Articles    []ArticleInput
}

func parseStage(raw content.Stage) (content.Stage, error) {
	switch content.Stage(strings.ToLower(strings.TrimSpace(string(raw)))) {
	case content.StageDraft, "":
		return content.StageDraft, nil
	case content.StageConsultation:
		return content.StageConsultation, nil
	case content.StageDeliberation:
		return content.StageDeliberation, nil
	case content.StageClosed:
		return content.StageClosed, nil
	default:
		return "", fmt.Errorf("%w: %q", errUnknownStage, raw)
	}
}

// checkArticleList validates ids against the current membership and rejects
// duplicates. It returns the reason code on failure.
func checkArticleList(project *content.Project, articles []ArticleInput) (string, error) {
	seen := make(map[string]struct{}, len(articles))
	for _, article := range articles {
		if article.ID == "" {
			if article.Deleted {
				return "invalid_article", errDeleteNewArticle
			}
			continue
		}
		if _, err := content.ValidateID(article.ID, content.ErrInvalidArticleID); err != nil {
			return "invalid_article", err
		}
		if _, dup := seen[article.ID]; dup {
			return "duplicate_article", fmt.Errorf("%w: %s", errDuplicateArticle, article.ID)
		}
		seen[article.ID] = struct{}{}
		if !project.HasArticle(article.ID) {
			return "article_not_found", fmt.Errorf("%w: %s", content.ErrInvalidArticleID, article.ID)
		}
	}
	return "", nil
}
