package comments

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/content"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/notify"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Annotation selects one of the two mutually exclusive comment marks.
type Annotation int

const (
	Highlight Annotation = iota + 1
	Resolve
)

func (a Annotation) operation() string {
	if a == Resolve {
		return opToggleResolve
	}
	return opToggleHighlight
}

func (a Annotation) event() notify.EventType {
	if a == Resolve {
		return notify.EventCommentResolved
	}
	return notify.EventCommentHighlighted
}

// ToggleHighlight marks or unmarks a comment as highlighted in the current version.
func (s *Service) ToggleHighlight(ctx context.Context, actor *auth.Actor, commentID string) (content.Comment, error) {
	return s.toggleAnnotation(ctx, actor, commentID, Highlight)
}

// ToggleResolve marks or unmarks a comment as resolved in the current version.
func (s *Service) ToggleResolve(ctx context.Context, actor *auth.Actor, commentID string) (content.Comment, error) {
	return s.toggleAnnotation(ctx, actor, commentID, Resolve)
}

// toggleAnnotation applies the toggle against the project's current version C:
//   - own mark at C is cleared;
//   - the other mark at C is cleared and own is set to C;
//   - the other mark from an earlier version is a conflict;
//   - otherwise own is set to C.
func (s *Service) toggleAnnotation(ctx context.Context, actor *auth.Actor, commentID string, annotation Annotation) (content.Comment, error) {
	operation := annotation.operation()
	var (
		updated content.Comment
		marked  bool
	)
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		comment, err := s.loadComment(tx, operation, commentID)
		if err != nil {
			return err
		}
		project, err := content.LockProject(tx, comment.ProjectID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound(operation, "project_not_found", err)
		}
		if err != nil {
			s.logError(operation, "project_select_failed", err, zap.String("project_id", comment.ProjectID))
			return apperr.Internal(operation, "project_select_failed", err)
		}
		if !auth.CanModerate(actor, project.AuthorID) {
			return apperr.Forbidden(operation, "not_moderator", errNotAllowed)
		}

		current := project.Version
		own, other := comment.HighlightedInVersion, comment.ResolvedInVersion
		if annotation == Resolve {
			own, other = other, own
		}
		nextOwn, nextOther := own, other
		switch {
		case own == current:
			nextOwn = 0
		case other == current:
			nextOther, nextOwn = 0, current
		case other != 0:
			return apperr.Conflict(operation, "stale_annotation", errStaleAnnotation)
		default:
			nextOwn = current
		}
		marked = nextOwn == current

		highlighted, resolved := nextOwn, nextOther
		if annotation == Resolve {
			highlighted, resolved = nextOther, nextOwn
		}
		res := tx.Model(&content.Comment{}).
			Where("id = ? AND highlighted_in_version = ? AND resolved_in_version = ?",
				comment.ID, comment.HighlightedInVersion, comment.ResolvedInVersion).
			Updates(map[string]any{
				"highlighted_in_version": highlighted,
				"resolved_in_version":    resolved,
			})
		if res.Error != nil {
			s.logError(operation, "update_failed", res.Error, zap.String("comment_id", comment.ID))
			return apperr.Internal(operation, "update_failed", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.Conflict(operation, "concurrent_change", errConcurrentChange)
		}
		comment.HighlightedInVersion, comment.ResolvedInVersion = highlighted, resolved
		updated = comment
		return nil
	})
	if txErr != nil {
		return content.Comment{}, txErr
	}

	if marked && updated.UserID != actor.ID() {
		s.notifier.Notify(ctx, notify.Event{
			Type:        annotation.event(),
			RecipientID: updated.UserID,
			ActorID:     actor.ID(),
			ProjectID:   updated.ProjectID,
			ArticleID:   updated.ArticleID,
			CommentID:   updated.ID,
			Version:     max(updated.HighlightedInVersion, updated.ResolvedInVersion),
			OccurredAt:  s.clock().UTC(),
		})
	}
	return updated, nil
}
