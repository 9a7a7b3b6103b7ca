package engagement

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrMissingProject indicates a target without its project reference.
	ErrMissingProject = errors.New("engagement: project id is required")
	// ErrReplyWithoutComment indicates a reply target missing its parent comment.
	ErrReplyWithoutComment = errors.New("engagement: reply target requires a comment id")
	// ErrUnknownReaction indicates a reaction type outside like/dislike.
	ErrUnknownReaction = errors.New("engagement: unknown reaction type")
)

// ReactionType is the direction of a ledger entry.
type ReactionType string

const (
	Like    ReactionType = "like"
	Dislike ReactionType = "dislike"
)

// ParseReactionType maps raw input onto a ReactionType.
func ParseReactionType(raw string) (ReactionType, error) {
	switch ReactionType(strings.ToLower(strings.TrimSpace(raw))) {
	case Like:
		return Like, nil
	case Dislike:
		return Dislike, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownReaction, raw)
	}
}

// TargetKind names the innermost non-empty reference of a Target.
type TargetKind string

const (
	TargetProject TargetKind = "project"
	TargetArticle TargetKind = "article"
	TargetComment TargetKind = "comment"
	TargetReply   TargetKind = "reply"
)

// Target is the exact reference tuple a reaction points at. Empty strings
// stand for absent references and are stored as such, so a comment reached
// through an article and the same comment reached through its project are
// different targets.
type Target struct {
	ProjectID string
	ArticleID string
	CommentID string
	ReplyID   string
}

// NewTarget trims the references and checks the containment chain.
// Missing ancestors are never inferred.
func NewTarget(projectID, articleID, commentID, replyID string) (Target, error) {
	target := Target{
		ProjectID: strings.TrimSpace(projectID),
		ArticleID: strings.TrimSpace(articleID),
		CommentID: strings.TrimSpace(commentID),
		ReplyID:   strings.TrimSpace(replyID),
	}
	if target.ProjectID == "" {
		return Target{}, ErrMissingProject
	}
	if target.ReplyID != "" && target.CommentID == "" {
		return Target{}, ErrReplyWithoutComment
	}
	return target, nil
}

// ProjectTarget addresses the project itself.
func ProjectTarget(projectID string) Target {
	return Target{ProjectID: projectID}
}

// ArticleTarget addresses an article of a project.
func ArticleTarget(projectID, articleID string) Target {
	return Target{ProjectID: projectID, ArticleID: articleID}
}

// CommentTarget addresses a comment; articleID is "" for project-level comments.
func CommentTarget(projectID, articleID, commentID string) Target {
	return Target{ProjectID: projectID, ArticleID: articleID, CommentID: commentID}
}

// ReplyTarget addresses a reply of a comment.
func ReplyTarget(projectID, articleID, commentID, replyID string) Target {
	return Target{ProjectID: projectID, ArticleID: articleID, CommentID: commentID, ReplyID: replyID}
}

// Kind reports the innermost referenced entity.
func (t Target) Kind() TargetKind {
	switch {
	case t.ReplyID != "":
		return TargetReply
	case t.CommentID != "":
		return TargetComment
	case t.ArticleID != "":
		return TargetArticle
	default:
		return TargetProject
	}
}

// ToggleResult tags the effect of a toggle.
type ToggleResult string

const (
	ResultNew     ToggleResult = "new"
	ResultRemoved ToggleResult = "removed"
	ResultChanged ToggleResult = "changed"
)

// Reaction is a viewer's current reaction on one target.
type Reaction struct {
	Liked    bool `json:"liked"`
	Disliked bool `json:"disliked"`
}

// Counts carries the like and dislike totals of one target.
type Counts struct {
	Likes    int64 `json:"likes"`
	Dislikes int64 `json:"dislikes"`
}

// Entry is one persisted reaction. The unique index spans the user and the
// whole target tuple; the count index spans the tuple and the type.
type Entry struct {
	ID        string       `gorm:"column:id;primaryKey;size:190;not null"`
	UserID    string       `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_likes_user_target,priority:1"`
	ProjectID string       `gorm:"column:project_id;size:190;not null;uniqueIndex:idx_likes_user_target,priority:2;index:idx_likes_target,priority:1"`
	ArticleID string       `gorm:"column:article_id;size:190;not null;default:'';uniqueIndex:idx_likes_user_target,priority:3;index:idx_likes_target,priority:2"`
	CommentID string       `gorm:"column:comment_id;size:190;not null;default:'';uniqueIndex:idx_likes_user_target,priority:4;index:idx_likes_target,priority:3"`
	ReplyID   string       `gorm:"column:reply_id;size:190;not null;default:'';uniqueIndex:idx_likes_user_target,priority:5;index:idx_likes_target,priority:4"`
	Type      ReactionType `gorm:"column:type;size:16;not null;index:idx_likes_target,priority:5"`
	CreatedAt time.Time    `gorm:"column:created_at;not null"`
	UpdatedAt time.Time    `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "likes"
}

// Target returns the reference tuple of the entry.
func (e Entry) Target() Target {
	return Target{ProjectID: e.ProjectID, ArticleID: e.ArticleID, CommentID: e.CommentID, ReplyID: e.ReplyID}
}
