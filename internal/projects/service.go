// Package projects implements the project lifecycle: creation, in-version
// edits, publication, visibility and the version cut.
package projects

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/content"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/notify"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/stats"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew  = "projects.service.new"
	opCreate      = "projects.create"
	opEdit        = "projects.edit"
	opPublish     = "projects.publish"
	opToggleHide  = "projects.toggle_hide"
	opCutVersion  = "projects.cut_version"
	reasonMissing = "project_not_found"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errNotAuthor         = errors.New("actor cannot author projects")
	errNotEditor         = errors.New("actor cannot edit this project")
	errProjectClosed     = errors.New("project is closed")
	errAlreadyPublished  = errors.New("project is already published")
	errNotPublished      = errors.New("project is not published")
	errPublishedDelete   = errors.New("articles cannot be deleted after publication")
	errSlugTaken         = errors.New("slug is already in use")
)

// ServiceConfig describes the dependencies of the project service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Stats      *stats.Engine
	Notifier   notify.Notifier
	Logger     *zap.Logger
}

// Service owns every project write.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	stats      *stats.Engine
	notifier   notify.Notifier
	logger     *zap.Logger
}

// NewService constructs the project service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.Internal(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, apperr.Internal(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	engine := cfg.Stats
	if engine == nil {
		engine = stats.NewEngine(logger)
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Discard
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		stats:      engine,
		notifier:   notifier,
		logger:     logger,
	}, nil
}

// Create stores a draft project at version 1 with its initial articles.
func (s *Service) Create(ctx context.Context, actor *auth.Actor, input CreateInput) (content.Project, error) {
	if !auth.CanAuthor(actor) {
		return content.Project{}, apperr.Forbidden(opCreate, "not_author", errNotAuthor)
	}
	slug, err := content.ValidateSlug(input.Slug)
	if err != nil {
		return content.Project{}, apperr.Validation(opCreate, "invalid_slug", err)
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return content.Project{}, apperr.Validation(opCreate, "missing_title", errMissingTitle)
	}
	stage, err := parseStage(input.Stage)
	if err != nil {
		return content.Project{}, apperr.Validation(opCreate, "invalid_stage", err)
	}
	for _, article := range input.Articles {
		if article.ID != "" || article.Deleted {
			return content.Project{}, apperr.Validation(opCreate, "invalid_article", content.ErrInvalidArticleID)
		}
	}

	projectID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return content.Project{}, apperr.Internal(opCreate, "id_generation_failed", err)
	}
	project := content.Project{
		ID:         projectID,
		Slug:       slug,
		AuthorID:   actor.UserID,
		Title:      title,
		ShortAbout: strings.TrimSpace(input.ShortAbout),
		About:      input.About.Clone(),
		CoverURL:   strings.TrimSpace(input.CoverURL),
		VideoURL:   strings.TrimSpace(input.VideoURL),
		Stage:      stage,
		Version:    1,
		Hidden:     true,
		ClosedAt:   utcPointer(input.ClosedAt),
		ArticleIDs: []string{},
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureSlugFree(tx, opCreate, slug, ""); err != nil {
			return err
		}
		for index, article := range input.Articles {
			created, err := s.createArticle(tx, opCreate, project.ID, article, index+1)
			if err != nil {
				return err
			}
			project.ArticleIDs = append(project.ArticleIDs, created.ID)
		}
		if err := tx.Create(&project).Error; err != nil {
			s.logError(opCreate, "project_insert_failed", err, zap.String("project_id", project.ID))
			return apperr.Internal(opCreate, "project_insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return content.Project{}, txErr
	}
	return s.reload(ctx, opCreate, project.ID)
}

// Edit applies field and article edits without changing the version.
// Closed projects reject edits.
func (s *Service) Edit(ctx context.Context, actor *auth.Actor, projectID string, input EditInput) (content.Project, error) {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		project, err := s.lockEditable(tx, opEdit, actor, projectID)
		if err != nil {
			return err
		}
		if project.Closed(s.clock()) {
			return apperr.Forbidden(opEdit, "project_closed", errProjectClosed)
		}
		if err := s.applyFields(tx, opEdit, actor, &project, input.Fields); err != nil {
			return err
		}

		if input.Articles != nil {
			if reason, err := checkArticleList(&project, input.Articles); err != nil {
				return articleListError(opEdit, reason, err)
			}
			current, err := content.ArticlesByID(tx, project.ID, project.ArticleIDs)
			if err != nil {
				s.logError(opEdit, "articles_query_failed", err, zap.String("project_id", project.ID))
				return apperr.Internal(opEdit, "articles_query_failed", err)
			}

			submitted := make(map[string]struct{}, len(input.Articles))
			next := make([]string, 0, len(project.ArticleIDs)+len(input.Articles))
			for _, payload := range input.Articles {
				if payload.ID == "" {
					created, err := s.createArticle(tx, opEdit, project.ID, payload, len(next)+1)
					if err != nil {
						return err
					}
					next = append(next, created.ID)
					continue
				}
				submitted[payload.ID] = struct{}{}
				if payload.Deleted {
					if project.Published() {
						return apperr.Conflict(opEdit, "article_delete_after_publish", errPublishedDelete)
					}
					if err := tx.Where("id = ? AND project_id = ?", payload.ID, project.ID).Delete(&content.Article{}).Error; err != nil {
						s.logError(opEdit, "article_delete_failed", err, zap.String("article_id", payload.ID))
						return apperr.Internal(opEdit, "article_delete_failed", err)
					}
					continue
				}
				article, ok := current[payload.ID]
				if !ok {
					return apperr.NotFound(opEdit, "article_not_found", content.ErrInvalidArticleID)
				}
				payload.applyTo(&article)
				current[payload.ID] = article
				next = append(next, payload.ID)
			}
			for _, articleID := range project.ArticleIDs {
				if _, ok := submitted[articleID]; !ok {
					next = append(next, articleID)
				}
			}
			if err := s.persistPositions(tx, opEdit, current, next); err != nil {
				return err
			}
			project.ArticleIDs = next
		}

		if err := tx.Save(&project).Error; err != nil {
			s.logError(opEdit, "project_save_failed", err, zap.String("project_id", project.ID))
			return apperr.Internal(opEdit, "project_save_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return content.Project{}, txErr
	}
	return s.reload(ctx, opEdit, projectID)
}

// Publish moves a draft to published-v1 and makes it visible.
func (s *Service) Publish(ctx context.Context, actor *auth.Actor, projectID string) (content.Project, error) {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		project, err := s.lockEditable(tx, opPublish, actor, projectID)
		if err != nil {
			return err
		}
		if project.Published() {
			return apperr.Conflict(opPublish, "already_published", errAlreadyPublished)
		}
		now := s.clock().UTC()
		project.PublishedAt = &now
		project.Hidden = false
		if err := tx.Save(&project).Error; err != nil {
			s.logError(opPublish, "project_save_failed", err, zap.String("project_id", project.ID))
			return apperr.Internal(opPublish, "project_save_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return content.Project{}, txErr
	}
	project, err := s.reload(ctx, opPublish, projectID)
	if err != nil {
		return content.Project{}, err
	}
	s.notifier.Notify(ctx, notify.Event{
		Type:      notify.EventProjectPublished,
		ActorID:   actor.ID(),
		ProjectID: project.ID,
		Version:   project.Version,
	})
	return project, nil
}

// ToggleHide flips the hidden flag of a published project.
func (s *Service) ToggleHide(ctx context.Context, actor *auth.Actor, projectID string) (content.Project, error) {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		project, err := s.lockEditable(tx, opToggleHide, actor, projectID)
		if err != nil {
			return err
		}
		if !project.Published() {
			return apperr.Conflict(opToggleHide, "not_published", errNotPublished)
		}
		project.Hidden = !project.Hidden
		if err := tx.Save(&project).Error; err != nil {
			s.logError(opToggleHide, "project_save_failed", err, zap.String("project_id", project.ID))
			return apperr.Internal(opToggleHide, "project_save_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return content.Project{}, txErr
	}
	return s.reload(ctx, opToggleHide, projectID)
}

// lockEditable loads the project for update and checks the edit capability.
func (s *Service) lockEditable(tx *gorm.DB, operation string, actor *auth.Actor, projectID string) (content.Project, error) {
	id, err := content.ValidateID(projectID, content.ErrInvalidProjectID)
	if err != nil {
		return content.Project{}, apperr.Validation(operation, "invalid_project_id", err)
	}
	project, err := content.LockProject(tx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return content.Project{}, apperr.NotFound(operation, reasonMissing, err)
	}
	if err != nil {
		s.logError(operation, "project_select_failed", err, zap.String("project_id", id))
		return content.Project{}, apperr.Internal(operation, "project_select_failed", err)
	}
	if !auth.CanEdit(actor, project.AuthorID) {
		return content.Project{}, apperr.Forbidden(operation, "not_editor", errNotEditor)
	}
	return project, nil
}

func (s *Service) applyFields(tx *gorm.DB, operation string, actor *auth.Actor, project *content.Project, fields ProjectFields) error {
	if fields.Slug != nil {
		slug, err := content.ValidateSlug(*fields.Slug)
		if err != nil {
			return apperr.Validation(operation, "invalid_slug", err)
		}
		if slug != project.Slug {
			if err := s.ensureSlugFree(tx, operation, slug, project.ID); err != nil {
				return err
			}
			project.Slug = slug
		}
	}
	if fields.Title != nil {
		title := strings.TrimSpace(*fields.Title)
		if title == "" {
			return apperr.Validation(operation, "missing_title", errMissingTitle)
		}
		project.Title = title
	}
	if fields.ShortAbout != nil {
		project.ShortAbout = strings.TrimSpace(*fields.ShortAbout)
	}
	if fields.About != nil {
		project.About = fields.About.Clone()
	}
	if fields.AuthorNotes != nil {
		project.AuthorNotes = fields.AuthorNotes.Clone()
	}
	if fields.CoverURL != nil {
		project.CoverURL = strings.TrimSpace(*fields.CoverURL)
	}
	if fields.VideoURL != nil {
		project.VideoURL = strings.TrimSpace(*fields.VideoURL)
	}
	if fields.Stage != nil {
		stage, err := parseStage(*fields.Stage)
		if err != nil {
			return apperr.Validation(operation, "invalid_stage", err)
		}
		project.Stage = stage
	}
	if fields.ClearClosedAt {
		project.ClosedAt = nil
	} else if fields.ClosedAt != nil {
		project.ClosedAt = utcPointer(fields.ClosedAt)
	}
	if fields.AuthorID != nil && strings.TrimSpace(*fields.AuthorID) != project.AuthorID {
		if actor == nil || actor.Role != auth.RoleAdmin {
			return apperr.Forbidden(operation, "author_change_forbidden", errAuthorChange)
		}
		authorID, err := content.ValidateID(*fields.AuthorID, content.ErrInvalidProjectID)
		if err != nil {
			return apperr.Validation(operation, "invalid_author_id", err)
		}
		project.AuthorID = authorID
	}
	return nil
}

func (s *Service) ensureSlugFree(tx *gorm.DB, operation, slug, projectID string) error {
	var taken int64
	err := tx.Model(&content.Project{}).Where("slug = ? AND id <> ?", slug, projectID).Count(&taken).Error
	if err != nil {
		s.logError(operation, "slug_query_failed", err, zap.String("slug", slug))
		return apperr.Internal(operation, "slug_query_failed", err)
	}
	if taken > 0 {
		return apperr.Conflict(operation, "slug_taken", errSlugTaken)
	}
	return nil
}

func (s *Service) createArticle(tx *gorm.DB, operation, projectID string, input ArticleInput, position int) (content.Article, error) {
	articleID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(operation, "id_generation_failed", err)
		return content.Article{}, apperr.Internal(operation, "id_generation_failed", err)
	}
	article := content.Article{
		ID:             articleID,
		ProjectID:      projectID,
		Text:           input.Text.Clone(),
		Position:       position,
	}
	if input.NotInteractive != nil {
		article.NotInteractive = *input.NotInteractive
	}
	if err := tx.Create(&article).Error; err != nil {
		s.logError(operation, "article_insert_failed", err, zap.String("project_id", projectID))
		return content.Article{}, apperr.Internal(operation, "article_insert_failed", err)
	}
	return article, nil
}

// persistPositions renumbers order 1..n and saves every article of byID that is in order.
func (s *Service) persistPositions(tx *gorm.DB, operation string, byID map[string]content.Article, order []string) error {
	for index, articleID := range order {
		article, ok := byID[articleID]
		if !ok {
			if err := tx.Model(&content.Article{}).Where("id = ?", articleID).Update("position", index+1).Error; err != nil {
				s.logError(operation, "article_save_failed", err, zap.String("article_id", articleID))
				return apperr.Internal(operation, "article_save_failed", err)
			}
			continue
		}
		article.Position = index + 1
		if err := tx.Save(&article).Error; err != nil {
			s.logError(operation, "article_save_failed", err, zap.String("article_id", articleID))
			return apperr.Internal(operation, "article_save_failed", err)
		}
	}
	return nil
}

func (s *Service) reload(ctx context.Context, operation, projectID string) (content.Project, error) {
	project, err := content.LoadProject(s.db.WithContext(ctx), strings.TrimSpace(projectID))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return content.Project{}, apperr.NotFound(operation, reasonMissing, err)
	}
	if err != nil {
		s.logError(operation, "project_reload_failed", err, zap.String("project_id", projectID))
		return content.Project{}, apperr.Internal(operation, "project_reload_failed", err)
	}
	return project, nil
}

func articleListError(operation, reason string, err error) error {
	if reason == "article_not_found" {
		return apperr.NotFound(operation, reason, err)
	}
	return apperr.Validation(operation, reason, err)
}

func utcPointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	utc := value.UTC()
	return &utc
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
	s.logger.Error("projects service error", attrs...)
}
