// Package stats computes the engagement aggregate frozen into a version boundary.
package stats

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/content"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/engagement"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const opSnapshot = "stats.snapshot"

var errMissingSubject = errors.New("snapshot subject requires a project id")

// Kind selects the entity a snapshot aggregates.
type Kind string

const (
	KindProject Kind = "project"
	KindArticle Kind = "article"
)

// Subject identifies the entity being snapshotted. Version is the project's
// current version, against which the comment lifecycle fields are compared.
type Subject struct {
	Kind      Kind
	ProjectID string
	ArticleID string
	Version   int
}

// ProjectSubject addresses project-level engagement (comments with no article).
func ProjectSubject(projectID string, version int) Subject {
	return Subject{Kind: KindProject, ProjectID: projectID, Version: version}
}

// ArticleSubject addresses the engagement of one article.
func ArticleSubject(projectID, articleID string, version int) Subject {
	return Subject{Kind: KindArticle, ProjectID: projectID, ArticleID: articleID, Version: version}
}

func (s Subject) articleScope() string {
	if s.Kind == KindArticle {
		return s.ArticleID
	}
	return ""
}

// Engine computes snapshots. It holds no state besides its logger.
type Engine struct {
	logger *zap.Logger
}

// NewEngine constructs an Engine; a nil logger disables logging.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

type commentRow struct {
	ID                   string
	UserID               string
	CreatedInVersion     int
	HighlightedInVersion int
	ResolvedInVersion    int
}

type replyRow struct {
	ID        string
	CommentID string
	UserID    string
}

type reactionRow struct {
	UserID    string
	CommentID string
	ReplyID   string
	Type      engagement.ReactionType
}

// Snapshot aggregates the current engagement of subject using db, which should
// be the transaction that will also archive the subject so no reaction can be
// attributed to the wrong side of the boundary. It never writes.
func (e *Engine) Snapshot(ctx context.Context, db *gorm.DB, subject Subject) (content.StatsSnapshot, error) {
	if subject.ProjectID == "" {
		return content.StatsSnapshot{}, apperr.Validation(opSnapshot, "missing_subject", errMissingSubject)
	}
	scope := subject.articleScope()
	db = db.WithContext(ctx)

	var comments []commentRow
	err := db.Model(&content.Comment{}).
		Select("id", "user_id", "created_in_version", "highlighted_in_version", "resolved_in_version").
		Where("project_id = ? AND article_id = ?", subject.ProjectID, scope).
		Scan(&comments).Error
	if err != nil {
		return content.StatsSnapshot{}, e.fail("comments_query_failed", err, subject)
	}

	commentIDs := make([]string, 0, len(comments))
	commentSet := make(map[string]struct{}, len(comments))
	participants := make(map[string]struct{})
	snapshot := content.StatsSnapshot{Comments: int64(len(comments))}
	for _, comment := range comments {
		commentIDs = append(commentIDs, comment.ID)
		commentSet[comment.ID] = struct{}{}
		participants[comment.UserID] = struct{}{}
		if comment.CreatedInVersion == subject.Version {
			snapshot.CommentsCreatedInVersion++
		}
		if comment.HighlightedInVersion == subject.Version {
			snapshot.CommentsHighlightedInVersion++
		}
		if comment.ResolvedInVersion == subject.Version {
			snapshot.CommentsResolvedInVersion++
		}
	}

	replySet := make(map[string]struct{})
	if len(commentIDs) > 0 {
		var replies []replyRow
		err := db.Model(&content.Reply{}).
			Select("id", "comment_id", "user_id").
			Where("comment_id IN ?", commentIDs).
			Scan(&replies).Error
		if err != nil {
			return content.StatsSnapshot{}, e.fail("replies_query_failed", err, subject)
		}
		snapshot.CommentsReplies = int64(len(replies))
		for _, reply := range replies {
			replySet[reply.ID] = struct{}{}
			participants[reply.UserID] = struct{}{}
		}
	}

	var reactions []reactionRow
	err = db.Model(&engagement.Entry{}).
		Select("user_id", "comment_id", "reply_id", "type").
		Where("project_id = ? AND article_id = ?", subject.ProjectID, scope).
		Scan(&reactions).Error
	if err != nil {
		return content.StatsSnapshot{}, e.fail("reactions_query_failed", err, subject)
	}
	for _, reaction := range reactions {
		switch {
		case reaction.CommentID == "":
			tally(reaction.Type, &snapshot.Likes, &snapshot.Dislikes)
		case reaction.ReplyID == "":
			if _, ok := commentSet[reaction.CommentID]; !ok {
				continue
			}
			tally(reaction.Type, &snapshot.CommentsLikes, &snapshot.CommentsDislikes)
		default:
			if _, ok := replySet[reaction.ReplyID]; !ok {
				continue
			}
			tally(reaction.Type, &snapshot.CommentsRepliesLikes, &snapshot.CommentsRepliesDislikes)
		}
		participants[reaction.UserID] = struct{}{}
	}

	userIDs := make([]string, 0, len(participants))
	for userID := range participants {
		userIDs = append(userIDs, userID)
	}
	buckets, err := users.CountryBuckets(db, userIDs)
	if err != nil {
		return content.StatsSnapshot{}, e.fail("countries_query_failed", err, subject)
	}
	snapshot.UniqueUsersWhoInteracted = int64(len(userIDs))
	snapshot.UniqueUsersWhoInteractedPerCountry = make(map[string]int64)
	for _, bucket := range buckets {
		snapshot.UniqueUsersWhoInteractedPerCountry[bucket]++
	}
	return snapshot, nil
}

func tally(reaction engagement.ReactionType, likes, dislikes *int64) {
	switch reaction {
	case engagement.Like:
		*likes++
	case engagement.Dislike:
		*dislikes++
	}
}

func (e *Engine) fail(reason string, err error, subject Subject) error {
	e.logger.Error("stats snapshot error",
		zap.String("operation", opSnapshot),
		zap.String("reason", reason),
		zap.Error(err),
		zap.String("kind", string(subject.Kind)),
		zap.String("project_id", subject.ProjectID),
		zap.String("article_id", subject.ArticleID))
	return apperr.Internal(opSnapshot, reason, err)
}
