// Package comments owns comment and reply writes, moderation annotations and
// guarded reactions.
package comments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/content"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/engagement"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/notify"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew      = "comments.service.new"
	opCreateComment   = "comments.create"
	opCreateReply     = "comments.create_reply"
	opDeleteComment   = "comments.delete"
	opDeleteReply     = "comments.delete_reply"
	opToggleHighlight = "comments.toggle_highlight"
	opToggleResolve   = "comments.toggle_resolve"
	opReact           = "comments.react"

	// MaxTextLength bounds comment and reply bodies, in runes.
	MaxTextLength = 5000
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingLedger     = errors.New("engagement ledger is required")
	errAnonymous         = errors.New("sign in required")
	errInaccessible      = errors.New("project is not accessible")
	errProjectClosed     = errors.New("project is closed")
	errNotInteractive    = errors.New("article does not accept interaction")
	errEmptyText         = errors.New("text is required")
	errTextTooLong       = fmt.Errorf("text exceeds %d characters", MaxTextLength)
	errNotAllowed        = errors.New("actor may not change this item")
	errStaleAnnotation   = errors.New("comment carries an annotation from a past version")
	errConcurrentChange  = errors.New("comment changed concurrently")
	errInconsistentChain = errors.New("reaction target is inconsistent")
)

// ServiceConfig describes the dependencies of the comment service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Ledger     *engagement.Ledger
	Notifier   notify.Notifier
	Logger     *zap.Logger
}

// Service owns comment, reply and reaction writes.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	ledger     *engagement.Ledger
	notifier   notify.Notifier
	logger     *zap.Logger
}

// NewService constructs the comment service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.Internal(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, apperr.Internal(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Ledger == nil {
		return nil, apperr.Internal(opServiceNew, "missing_ledger", errMissingLedger)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Discard
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		ledger:     cfg.Ledger,
		notifier:   notifier,
		logger:     logger,
	}, nil
}

// CreateCommentInput describes a new comment. An empty ArticleID targets the
// project itself.
type CreateCommentInput struct {
	ProjectID string
	ArticleID string
	Text      string
}

// CreateComment stores a comment stamped with the project's current version.
// The project row stays locked until the insert commits, so a concurrent cut
// either sees the comment in its snapshot or stamps it with the next version.
func (s *Service) CreateComment(ctx context.Context, actor *auth.Actor, input CreateCommentInput) (content.Comment, error) {
	if actor.ID() == "" {
		return content.Comment{}, apperr.Forbidden(opCreateComment, "anonymous", errAnonymous)
	}
	body, err := normalizeText(input.Text)
	if err != nil {
		return content.Comment{}, apperr.Validation(opCreateComment, "invalid_text", err)
	}
	var (
		project content.Project
		comment content.Comment
	)
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		project, err = s.openProject(tx, opCreateComment, input.ProjectID, actor)
		if err != nil {
			return err
		}
		articleID := strings.TrimSpace(input.ArticleID)
		if articleID != "" {
			if !project.HasArticle(articleID) {
				return apperr.NotFound(opCreateComment, "article_not_found", content.ErrInvalidArticleID)
			}
			if err := s.interactiveArticle(tx, opCreateComment, project.ID, articleID); err != nil {
				return err
			}
		}

		commentID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opCreateComment, "id_generation_failed", err)
			return apperr.Internal(opCreateComment, "id_generation_failed", err)
		}
		comment = content.Comment{
			ID:               commentID,
			ProjectID:        project.ID,
			ArticleID:        articleID,
			UserID:           actor.UserID,
			Text:             body,
			CreatedInVersion: project.Version,
			CreatedAt:        s.clock().UTC(),
		}
		if err := tx.Create(&comment).Error; err != nil {
			s.logError(opCreateComment, "insert_failed", err, zap.String("project_id", project.ID))
			return apperr.Internal(opCreateComment, "insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return content.Comment{}, txErr
	}

	if project.AuthorID != actor.UserID {
		s.notifier.Notify(ctx, notify.Event{
			Type:        notify.EventCommentCreated,
			RecipientID: project.AuthorID,
			ActorID:     actor.UserID,
			ProjectID:   project.ID,
			ArticleID:   comment.ArticleID,
			CommentID:   comment.ID,
			Version:     comment.CreatedInVersion,
			OccurredAt:  comment.CreatedAt,
		})
	}
	return comment, nil
}

// CreateReply answers a comment.
func (s *Service) CreateReply(ctx context.Context, actor *auth.Actor, commentID, text string) (content.Reply, error) {
	if actor.ID() == "" {
		return content.Reply{}, apperr.Forbidden(opCreateReply, "anonymous", errAnonymous)
	}
	body, err := normalizeText(text)
	if err != nil {
		return content.Reply{}, apperr.Validation(opCreateReply, "invalid_text", err)
	}
	var (
		project content.Project
		comment content.Comment
		reply   content.Reply
	)
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		comment, err = s.loadComment(tx, opCreateReply, commentID)
		if err != nil {
			return err
		}
		project, err = s.openProject(tx, opCreateReply, comment.ProjectID, actor)
		if err != nil {
			return err
		}
		if comment.ArticleID != "" {
			if err := s.interactiveArticle(tx, opCreateReply, project.ID, comment.ArticleID); err != nil {
				return err
			}
		}

		replyID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opCreateReply, "id_generation_failed", err)
			return apperr.Internal(opCreateReply, "id_generation_failed", err)
		}
		reply = content.Reply{
			ID:        replyID,
			CommentID: comment.ID,
			UserID:    actor.UserID,
			Text:      body,
			CreatedAt: s.clock().UTC(),
		}
		if err := tx.Create(&reply).Error; err != nil {
			s.logError(opCreateReply, "insert_failed", err, zap.String("comment_id", comment.ID))
			return apperr.Internal(opCreateReply, "insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return content.Reply{}, txErr
	}

	if comment.UserID != actor.UserID {
		s.notifier.Notify(ctx, notify.Event{
			Type:        notify.EventReplyCreated,
			RecipientID: comment.UserID,
			ActorID:     actor.UserID,
			ProjectID:   project.ID,
			ArticleID:   comment.ArticleID,
			CommentID:   comment.ID,
			ReplyID:     reply.ID,
			OccurredAt:  reply.CreatedAt,
		})
	}
	return reply, nil
}

// DeleteSummary reports what a cascading delete removed besides the item itself.
type DeleteSummary struct {
	Replies   int64 `json:"replies"`
	Reactions int64 `json:"reactions"`
}

// DeleteComment removes a comment, its replies and every reaction on either,
// atomically. The comment's author and project moderators may delete it.
func (s *Service) DeleteComment(ctx context.Context, actor *auth.Actor, commentID string) (DeleteSummary, error) {
	var summary DeleteSummary
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		comment, err := s.loadComment(tx, opDeleteComment, commentID)
		if err != nil {
			return err
		}
		if err := s.ensureOwnerOrModerator(tx, opDeleteComment, actor, comment.UserID, comment.ProjectID); err != nil {
			return err
		}

		reactions, err := s.ledger.WithDB(tx).DeleteForComment(ctx, comment.ID)
		if err != nil {
			return err
		}
		replies := tx.Where("comment_id = ?", comment.ID).Delete(&content.Reply{})
		if replies.Error != nil {
			s.logError(opDeleteComment, "replies_delete_failed", replies.Error, zap.String("comment_id", comment.ID))
			return apperr.Internal(opDeleteComment, "replies_delete_failed", replies.Error)
		}
		if err := tx.Where("id = ?", comment.ID).Delete(&content.Comment{}).Error; err != nil {
			s.logError(opDeleteComment, "comment_delete_failed", err, zap.String("comment_id", comment.ID))
			return apperr.Internal(opDeleteComment, "comment_delete_failed", err)
		}
		summary = DeleteSummary{Replies: replies.RowsAffected, Reactions: reactions}
		return nil
	})
	if txErr != nil {
		return DeleteSummary{}, txErr
	}
	s.logger.Info("comment deleted",
		zap.String("comment_id", strings.TrimSpace(commentID)),
		zap.String("actor_id", actor.ID()),
		zap.Int64("replies", summary.Replies),
		zap.Int64("reactions", summary.Reactions))
	return summary, nil
}

// DeleteReply removes a reply and its reactions.
func (s *Service) DeleteReply(ctx context.Context, actor *auth.Actor, replyID string) (DeleteSummary, error) {
	id, err := content.ValidateID(replyID, content.ErrInvalidReplyID)
	if err != nil {
		return DeleteSummary{}, apperr.Validation(opDeleteReply, "invalid_reply_id", err)
	}
	var summary DeleteSummary
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reply, err := content.LoadReply(tx, id)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound(opDeleteReply, "reply_not_found", err)
		}
		if err != nil {
			s.logError(opDeleteReply, "reply_select_failed", err, zap.String("reply_id", id))
			return apperr.Internal(opDeleteReply, "reply_select_failed", err)
		}
		comment, err := s.loadComment(tx, opDeleteReply, reply.CommentID)
		if err != nil {
			return err
		}
		if err := s.ensureOwnerOrModerator(tx, opDeleteReply, actor, reply.UserID, comment.ProjectID); err != nil {
			return err
		}
		reactions, err := s.ledger.WithDB(tx).DeleteForReply(ctx, reply.ID)
		if err != nil {
			return err
		}
		if err := tx.Where("id = ?", reply.ID).Delete(&content.Reply{}).Error; err != nil {
			s.logError(opDeleteReply, "reply_delete_failed", err, zap.String("reply_id", reply.ID))
			return apperr.Internal(opDeleteReply, "reply_delete_failed", err)
		}
		summary = DeleteSummary{Reactions: reactions}
		return nil
	})
	if txErr != nil {
		return DeleteSummary{}, txErr
	}
	return summary, nil
}

func (s *Service) openProject(db *gorm.DB, operation, projectID string, actor *auth.Actor) (content.Project, error) {
	id, err := content.ValidateID(projectID, content.ErrInvalidProjectID)
	if err != nil {
		return content.Project{}, apperr.Validation(operation, "invalid_project_id", err)
	}
	project, err := content.LockProject(db, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return content.Project{}, apperr.NotFound(operation, "project_not_found", err)
	}
	if err != nil {
		s.logError(operation, "project_select_failed", err, zap.String("project_id", id))
		return content.Project{}, apperr.Internal(operation, "project_select_failed", err)
	}
	canEdit := auth.CanEdit(actor, project.AuthorID)
	if !project.Accessible(canEdit) {
		return content.Project{}, apperr.Forbidden(operation, "project_inaccessible", errInaccessible)
	}
	if !canEdit && project.Closed(s.clock()) {
		return content.Project{}, apperr.Forbidden(operation, "project_closed", errProjectClosed)
	}
	return project, nil
}

func (s *Service) interactiveArticle(db *gorm.DB, operation, projectID, articleID string) error {
	article, err := content.LoadArticle(db, articleID)
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && article.ProjectID != projectID) {
		return apperr.NotFound(operation, "article_not_found", content.ErrInvalidArticleID)
	}
	if err != nil {
		s.logError(operation, "article_select_failed", err, zap.String("article_id", articleID))
		return apperr.Internal(operation, "article_select_failed", err)
	}
	if article.NotInteractive {
		return apperr.Forbidden(operation, "article_not_interactive", errNotInteractive)
	}
	return nil
}

func (s *Service) loadComment(db *gorm.DB, operation, commentID string) (content.Comment, error) {
	id, err := content.ValidateID(commentID, content.ErrInvalidCommentID)
	if err != nil {
		return content.Comment{}, apperr.Validation(operation, "invalid_comment_id", err)
	}
	comment, err := content.LoadComment(db, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return content.Comment{}, apperr.NotFound(operation, "comment_not_found", err)
	}
	if err != nil {
		s.logError(operation, "comment_select_failed", err, zap.String("comment_id", id))
		return content.Comment{}, apperr.Internal(operation, "comment_select_failed", err)
	}
	return comment, nil
}

func (s *Service) ensureOwnerOrModerator(db *gorm.DB, operation string, actor *auth.Actor, ownerID, projectID string) error {
	if actor.ID() == "" {
		return apperr.Forbidden(operation, "anonymous", errAnonymous)
	}
	if actor.UserID == ownerID {
		return nil
	}
	project, err := content.LoadProject(db, projectID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(operation, "project_select_failed", err, zap.String("project_id", projectID))
		return apperr.Internal(operation, "project_select_failed", err)
	}
	if !auth.CanModerate(actor, project.AuthorID) {
		return apperr.Forbidden(operation, "not_allowed", errNotAllowed)
	}
	return nil
}

func normalizeText(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", errEmptyText
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		return "", errTextTooLong
	}
	return text, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("comment service error", attrs...)
}
