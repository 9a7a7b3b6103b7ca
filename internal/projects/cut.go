package projects

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/content"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/notify"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/stats"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("projects")

var (
	errMissingBaseVersion = errors.New("base version is required")
	errStaleBaseVersion   = errors.New("project advanced past the base version")
	errMissingAuthorNotes = errors.New("author notes are required after the first version")
	errConcurrentCut      = errors.New("project version changed during the cut")
)

// CutVersion freezes version N of the project (text, article membership and
// stats) into history, applies the payload and advances to N+1. Every write
// happens in one transaction; the version row update is conditional on N so
// a concurrent cut cannot advance the same version twice.
func (s *Service) CutVersion(ctx context.Context, actor *auth.Actor, projectID string, input CutInput) (content.Project, error) {
	ctx, span := tracer.Start(ctx, "projects.CutVersion",
		trace.WithAttributes(
			attribute.String("project.id", projectID),
			attribute.Int("project.base_version", input.BaseVersion),
		))
	defer span.End()

	started := time.Now()
	project, err := s.cutVersion(ctx, actor, projectID, input)
	metrics.VersionCutDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		outcome := "failed"
		if apperr.Is(err, apperr.KindConflict) {
			outcome = "conflict"
		}
		metrics.VersionCutsTotal.WithLabelValues(outcome).Inc()
		return content.Project{}, err
	}
	metrics.VersionCutsTotal.WithLabelValues("committed").Inc()
	span.SetAttributes(attribute.Int("project.version", project.Version))

	s.notifier.Notify(ctx, notify.Event{
		Type:      notify.EventVersionCut,
		ActorID:   actor.ID(),
		ProjectID: project.ID,
		Version:   project.Version,
	})
	return project, nil
}

func (s *Service) cutVersion(ctx context.Context, actor *auth.Actor, projectID string, input CutInput) (content.Project, error) {
	if input.BaseVersion < 1 {
		return content.Project{}, apperr.Validation(opCutVersion, "missing_base_version", errMissingBaseVersion)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		project, err := s.lockEditable(tx, opCutVersion, actor, projectID)
		if err != nil {
			return err
		}
		if !project.Published() {
			return apperr.Conflict(opCutVersion, "not_published", errNotPublished)
		}
		version := project.Version
		if version != input.BaseVersion {
			return apperr.Conflict(opCutVersion, "stale_base_version",
				fmt.Errorf("%w: base %d, current %d", errStaleBaseVersion, input.BaseVersion, version))
		}
		if version > 1 && input.Fields.AuthorNotes.IsBlank() {
			return apperr.Conflict(opCutVersion, "missing_author_notes", errMissingAuthorNotes)
		}
		if reason, err := checkArticleList(&project, input.Articles); err != nil {
			return articleListError(opCutVersion, reason, err)
		}

		archivedAt := s.clock().UTC()
		projectStats, err := s.stats.Snapshot(ctx, tx, stats.ProjectSubject(project.ID, version))
		if err != nil {
			return err
		}
		err = content.AppendProjectVersion(tx, content.ProjectVersion{
			ProjectID:   project.ID,
			Version:     version,
			About:       project.About.Clone(),
			AuthorNotes: project.AuthorNotes.Clone(),
			ArticleIDs:  append([]string{}, project.ArticleIDs...),
			Stats:       projectStats,
			ArchivedAt:  archivedAt,
		})
		if err != nil {
			s.logError(opCutVersion, "project_history_failed", err, zap.String("project_id", project.ID))
			return apperr.Internal(opCutVersion, "project_history_failed", err)
		}

		current, err := content.ArticlesByID(tx, project.ID, project.ArticleIDs)
		if err != nil {
			s.logError(opCutVersion, "articles_query_failed", err, zap.String("project_id", project.ID))
			return apperr.Internal(opCutVersion, "articles_query_failed", err)
		}

		kept := make(map[string]content.Article, len(input.Articles))
		next := make([]string, 0, len(input.Articles))
		for _, payload := range input.Articles {
			if payload.ID == "" {
				created, err := s.createArticle(tx, opCutVersion, project.ID, payload, len(next)+1)
				if err != nil {
					return err
				}
				next = append(next, created.ID)
				continue
			}

			article, ok := current[payload.ID]
			if !ok {
				return apperr.NotFound(opCutVersion, "article_not_found", content.ErrInvalidArticleID)
			}
			articleStats, err := s.stats.Snapshot(ctx, tx, stats.ArticleSubject(project.ID, article.ID, version))
			if err != nil {
				return err
			}
			err = content.AppendArticleVersion(tx, content.ArticleVersion{
				ArticleID:      article.ID,
				Version:        version,
				ProjectID:      project.ID,
				Text:           article.Text.Clone(),
				Position:       article.Position,
				NotInteractive: article.NotInteractive,
				Stats:          articleStats,
				ArchivedAt:     archivedAt,
			})
			if err != nil {
				s.logError(opCutVersion, "article_history_failed", err, zap.String("article_id", article.ID))
				return apperr.Internal(opCutVersion, "article_history_failed", err)
			}
			if payload.Deleted {
				continue
			}
			payload.applyTo(&article)
			kept[article.ID] = article
			next = append(next, article.ID)
		}
		if err := s.persistPositions(tx, opCutVersion, kept, next); err != nil {
			return err
		}

		if err := s.applyFields(tx, opCutVersion, actor, &project, input.Fields); err != nil {
			return err
		}
		project.ArticleIDs = next
		project.Version = version + 1

		advanced := tx.Model(&content.Project{}).
			Where("id = ? AND version = ?", project.ID, version).
			Update("version", version+1)
		if advanced.Error != nil {
			s.logError(opCutVersion, "version_advance_failed", advanced.Error, zap.String("project_id", project.ID))
			return apperr.Internal(opCutVersion, "version_advance_failed", advanced.Error)
		}
		if advanced.RowsAffected == 0 {
			return apperr.Conflict(opCutVersion, "concurrent_version_cut", errConcurrentCut)
		}
		if err := tx.Save(&project).Error; err != nil {
			s.logError(opCutVersion, "project_save_failed", err, zap.String("project_id", project.ID))
			return apperr.Internal(opCutVersion, "project_save_failed", err)
		}

		s.logger.Info("project version cut",
			zap.String("project_id", project.ID),
			zap.Int("from_version", version),
			zap.Int("to_version", project.Version),
			zap.Int("articles", len(next)))
		return nil
	})
	if txErr != nil {
		return content.Project{}, txErr
	}
	return s.reload(ctx, opCutVersion, projectID)
}
