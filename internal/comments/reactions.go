package comments

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/content"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/engagement"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReactInput is a reaction request against any node of the containment chain.
type ReactInput struct {
	ProjectID string
	ArticleID string
	CommentID string
	ReplyID   string
	Type      string
}

// React toggles the actor's reaction once the submitted chain checks out.
func (s *Service) React(ctx context.Context, actor *auth.Actor, input ReactInput) (engagement.ToggleResult, error) {
	if actor.ID() == "" {
		return "", apperr.Forbidden(opReact, "anonymous", errAnonymous)
	}
	direction, err := engagement.ParseReactionType(input.Type)
	if err != nil {
		return "", apperr.Validation(opReact, "invalid_type", err)
	}
	target, err := engagement.NewTarget(input.ProjectID, input.ArticleID, input.CommentID, input.ReplyID)
	if err != nil {
		return "", apperr.Validation(opReact, "invalid_target", err)
	}
	if err := s.checkChain(ctx, actor, target); err != nil {
		return "", err
	}
	return s.ledger.Toggle(ctx, actor.UserID, target, direction)
}

func (s *Service) checkChain(ctx context.Context, actor *auth.Actor, target engagement.Target) error {
	db := s.db.WithContext(ctx)
	project, err := s.openProject(db, opReact, target.ProjectID, actor)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return apperr.Validation(opReact, "unknown_project", err)
		}
		return err
	}

	if target.ArticleID != "" {
		article, err := content.LoadArticle(db, target.ArticleID)
		if err := s.chainLink(err, "article", target.ArticleID); err != nil {
			return err
		}
		if article.ProjectID != project.ID {
			return inconsistent("article", target.ArticleID)
		}
		if article.NotInteractive {
			return apperr.Forbidden(opReact, "article_not_interactive", errNotInteractive)
		}
	}
	if target.CommentID == "" {
		return nil
	}
	comment, err := content.LoadComment(db, target.CommentID)
	if err := s.chainLink(err, "comment", target.CommentID); err != nil {
		return err
	}
	if comment.ProjectID != project.ID || comment.ArticleID != target.ArticleID {
		return inconsistent("comment", target.CommentID)
	}
	if target.ReplyID == "" {
		return nil
	}
	reply, err := content.LoadReply(db, target.ReplyID)
	if err := s.chainLink(err, "reply", target.ReplyID); err != nil {
		return err
	}
	if reply.CommentID != comment.ID {
		return inconsistent("reply", target.ReplyID)
	}
	return nil
}

func (s *Service) chainLink(err error, kind, id string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.Validation(opReact, "unknown_"+kind, fmt.Errorf("%w: %s %s not found", errInconsistentChain, kind, id))
	}
	s.logError(opReact, kind+"_select_failed", err, zap.String(kind+"_id", id))
	return apperr.Internal(opReact, kind+"_select_failed", err)
}

func inconsistent(kind, id string) error {
	return apperr.Validation(opReact, "inconsistent_target", fmt.Errorf("%w: %s %s", errInconsistentChain, kind, id))
}
