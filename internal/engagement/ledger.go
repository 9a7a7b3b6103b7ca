package engagement

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opLedgerNew      = "engagement.ledger.new"
	opToggle         = "engagement.toggle"
	opCount          = "engagement.count"
	opUserReaction   = "engagement.user_reaction"
	opDeleteComment  = "engagement.delete_for_comment"
	opDeleteReply    = "engagement.delete_for_reply"
	reasonMissingDB  = "missing_database"
	reasonMissingIDs = "missing_id_provider"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingUserID     = errors.New("user identifier is required")
)

// LedgerConfig describes the dependencies of a Ledger.
type LedgerConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
}

// Ledger records one reaction per (user, target) and answers count queries.
type Ledger struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	logger     *zap.Logger
}

// NewLedger constructs a Ledger.
func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if cfg.Database == nil {
		return nil, apperr.Internal(opLedgerNew, reasonMissingDB, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, apperr.Internal(opLedgerNew, reasonMissingIDs, errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// WithDB returns a copy of the ledger bound to db, typically an open transaction.
func (l *Ledger) WithDB(db *gorm.DB) *Ledger {
	clone := *l
	clone.db = db
	return &clone
}

// Toggle applies direction to the user's reaction on target: no entry creates
// one, the same type removes it, the other type flips it. A lost insert race
// on the unique index is resolved by re-reading and continuing as an update.
func (l *Ledger) Toggle(ctx context.Context, userID string, target Target, direction ReactionType) (ToggleResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", apperr.Validation(opToggle, "missing_user_id", errMissingUserID)
	}
	if target.ProjectID == "" {
		return "", apperr.Validation(opToggle, "invalid_target", ErrMissingProject)
	}
	if target.ReplyID != "" && target.CommentID == "" {
		return "", apperr.Validation(opToggle, "invalid_target", ErrReplyWithoutComment)
	}
	if direction != Like && direction != Dislike {
		return "", apperr.Validation(opToggle, "invalid_type", ErrUnknownReaction)
	}

	var result ToggleResult
	txErr := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Entry
		err := exactTarget(tx, target).Where("user_id = ?", userID).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			inserted, insertErr := l.insert(tx, userID, target, direction)
			if insertErr != nil {
				return insertErr
			}
			if inserted {
				result = ResultNew
				return nil
			}
			err = exactTarget(tx, target).Where("user_id = ?", userID).Take(&existing).Error
		}
		if err != nil {
			l.logError(opToggle, "select_failed", err, zap.String("user_id", userID))
			return apperr.Internal(opToggle, "select_failed", err)
		}

		if existing.Type == direction {
			if err := tx.Where("id = ?", existing.ID).Delete(&Entry{}).Error; err != nil {
				l.logError(opToggle, "delete_failed", err, zap.String("user_id", userID))
				return apperr.Internal(opToggle, "delete_failed", err)
			}
			result = ResultRemoved
			return nil
		}

		err = tx.Model(&Entry{}).Where("id = ?", existing.ID).Updates(map[string]any{
			"type":       direction,
			"updated_at": l.clock().UTC(),
		}).Error
		if err != nil {
			l.logError(opToggle, "update_failed", err, zap.String("user_id", userID))
			return apperr.Internal(opToggle, "update_failed", err)
		}
		result = ResultChanged
		return nil
	})
	if txErr != nil {
		return "", txErr
	}

	metrics.ReactionTogglesTotal.WithLabelValues(string(direction), string(result)).Inc()
	return result, nil
}

func (l *Ledger) insert(tx *gorm.DB, userID string, target Target, direction ReactionType) (bool, error) {
	entryID, err := l.idProvider.NewID()
	if err != nil {
		l.logError(opToggle, "id_generation_failed", err)
		return false, apperr.Internal(opToggle, "id_generation_failed", err)
	}
	now := l.clock().UTC()
	entry := Entry{
		ID:        entryID,
		UserID:    userID,
		ProjectID: target.ProjectID,
		ArticleID: target.ArticleID,
		CommentID: target.CommentID,
		ReplyID:   target.ReplyID,
		Type:      direction,
		CreatedAt: now,
		UpdatedAt: now,
	}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
	if res.Error != nil {
		l.logError(opToggle, "insert_failed", res.Error, zap.String("user_id", userID))
		return false, apperr.Internal(opToggle, "insert_failed", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Count returns the number of entries of type on exactly target.
func (l *Ledger) Count(ctx context.Context, target Target, reaction ReactionType) (int64, error) {
	var total int64
	err := exactTarget(l.db.WithContext(ctx).Model(&Entry{}), target).
		Where("type = ?", reaction).
		Count(&total).Error
	if err != nil {
		l.logError(opCount, "count_failed", err, zap.String("project_id", target.ProjectID))
		return 0, apperr.Internal(opCount, "count_failed", err)
	}
	return total, nil
}

// Counts returns likes and dislikes on exactly target in one query.
func (l *Ledger) Counts(ctx context.Context, target Target) (Counts, error) {
	var rows []struct {
		Type  ReactionType
		Total int64
	}
	err := exactTarget(l.db.WithContext(ctx).Model(&Entry{}), target).
		Select("type, COUNT(*) AS total").
		Group("type").
		Scan(&rows).Error
	if err != nil {
		l.logError(opCount, "count_failed", err, zap.String("project_id", target.ProjectID))
		return Counts{}, apperr.Internal(opCount, "count_failed", err)
	}
	var counts Counts
	for _, row := range rows {
		switch row.Type {
		case Like:
			counts.Likes = row.Total
		case Dislike:
			counts.Dislikes = row.Total
		}
	}
	return counts, nil
}

// UserReaction reports the viewer's reaction on target. Anonymous viewers get
// the zero Reaction.
func (l *Ledger) UserReaction(ctx context.Context, target Target, userID string) (Reaction, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Reaction{}, nil
	}
	var entry Entry
	err := exactTarget(l.db.WithContext(ctx), target).Where("user_id = ?", userID).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Reaction{}, nil
	}
	if err != nil {
		l.logError(opUserReaction, "select_failed", err, zap.String("user_id", userID))
		return Reaction{}, apperr.Internal(opUserReaction, "select_failed", err)
	}
	return Reaction{Liked: entry.Type == Like, Disliked: entry.Type == Dislike}, nil
}

// DeleteForComment removes every entry on the comment and on any of its replies.
func (l *Ledger) DeleteForComment(ctx context.Context, commentID string) (int64, error) {
	res := l.db.WithContext(ctx).Where("comment_id = ?", commentID).Delete(&Entry{})
	if res.Error != nil {
		l.logError(opDeleteComment, "delete_failed", res.Error, zap.String("comment_id", commentID))
		return 0, apperr.Internal(opDeleteComment, "delete_failed", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteForReply removes every entry on the reply.
func (l *Ledger) DeleteForReply(ctx context.Context, replyID string) (int64, error) {
	res := l.db.WithContext(ctx).Where("reply_id = ?", replyID).Delete(&Entry{})
	if res.Error != nil {
		l.logError(opDeleteReply, "delete_failed", res.Error, zap.String("reply_id", replyID))
		return 0, apperr.Internal(opDeleteReply, "delete_failed", res.Error)
	}
	return res.RowsAffected, nil
}

// exactTarget matches all four reference columns; "" only matches "".
func exactTarget(db *gorm.DB, target Target) *gorm.DB {
	return db.Where("project_id = ? AND article_id = ? AND comment_id = ? AND reply_id = ?",
		target.ProjectID, target.ArticleID, target.CommentID, target.ReplyID)
}

func (l *Ledger) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	l.logger.Error("engagement ledger error", attrs...)
}
