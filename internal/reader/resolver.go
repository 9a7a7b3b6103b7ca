// Package reader resolves version-scoped reads: which text a requested
// version renders and which comments it shows.
package reader

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/content"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/engagement"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	opResolverNew   = "reader.resolver.new"
	opReadProject   = "reader.read_project"
	opListComments  = "reader.list_comments"
	opListReplies   = "reader.list_replies"
	opListVersions  = "reader.list_versions"
	defaultLimit    = 20
	maxLimit        = 100
	defaultParallel = 8
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingLedger   = errors.New("engagement ledger is required")
	errNegativeVersion = errors.New("version must not be negative")
	errInaccessible    = errors.New("project is not accessible")
	errMissingHistory  = errors.New("version history entry is missing")
)

// Config describes the dependencies of a Resolver.
type Config struct {
	Database     *gorm.DB
	Ledger       *engagement.Ledger
	Clock        func() time.Time
	Logger       *zap.Logger
	DefaultLimit int
	MaxLimit     int
	Parallelism  int
}

// Resolver is the single entry point for version-aware reads.
type Resolver struct {
	db           *gorm.DB
	ledger       *engagement.Ledger
	clock        func() time.Time
	logger       *zap.Logger
	defaultLimit int
	maxLimit     int
	parallelism  int
}

// NewResolver constructs a Resolver.
func NewResolver(cfg Config) (*Resolver, error) {
	if cfg.Database == nil {
		return nil, apperr.Internal(opResolverNew, "missing_database", errMissingDatabase)
	}
	if cfg.Ledger == nil {
		return nil, apperr.Internal(opResolverNew, "missing_ledger", errMissingLedger)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	resolver := &Resolver{
		db:           cfg.Database,
		ledger:       cfg.Ledger,
		clock:        clock,
		logger:       logger,
		defaultLimit: cfg.DefaultLimit,
		maxLimit:     cfg.MaxLimit,
		parallelism:  cfg.Parallelism,
	}
	if resolver.maxLimit <= 0 {
		resolver.maxLimit = maxLimit
	}
	if resolver.defaultLimit <= 0 || resolver.defaultLimit > resolver.maxLimit {
		resolver.defaultLimit = min(defaultLimit, resolver.maxLimit)
	}
	if resolver.parallelism <= 0 {
		resolver.parallelism = defaultParallel
	}
	return resolver, nil
}

// ResolveVersion maps a requested version onto the version to render.
// 0 means "current"; anything at or above current is clamped to current.
func ResolveVersion(requested, current int) (version int, historical bool, err error) {
	if requested < 0 {
		return 0, false, fmt.Errorf("%w: %d", errNegativeVersion, requested)
	}
	if requested == 0 || requested >= current {
		return current, false, nil
	}
	return requested, true, nil
}

// ReadProject renders the project (by id or slug) as of requestedVersion.
func (r *Resolver) ReadProject(ctx context.Context, idOrSlug string, requestedVersion int, viewer *auth.Actor) (ProjectView, error) {
	project, canEdit, err := r.accessibleProject(ctx, opReadProject, idOrSlug, viewer)
	if err != nil {
		return ProjectView{}, err
	}
	version, historical, err := ResolveVersion(requestedVersion, project.Version)
	if err != nil {
		return ProjectView{}, apperr.Validation(opReadProject, "invalid_version", err)
	}

	view := ProjectView{
		ID:             project.ID,
		Slug:           project.Slug,
		AuthorID:       project.AuthorID,
		Title:          project.Title,
		ShortAbout:     project.ShortAbout,
		CoverURL:       project.CoverURL,
		VideoURL:       project.VideoURL,
		Stage:          project.Stage,
		Version:        version,
		CurrentVersion: project.Version,
		Historical:     historical,
		Hidden:         project.Hidden,
		Closed:         project.Closed(r.clock()),
		PublishedAt:    project.PublishedAt,
		ClosedAt:       project.ClosedAt,
		CanEdit:        canEdit,
	}
	if historical {
		err = r.fillHistorical(ctx, &view, project, version)
	} else {
		err = r.fillCurrent(ctx, &view, project, viewer)
	}
	if err != nil {
		return ProjectView{}, err
	}
	return view, nil
}

func (r *Resolver) fillCurrent(ctx context.Context, view *ProjectView, project content.Project, viewer *auth.Actor) error {
	db := r.db.WithContext(ctx)
	view.About = project.About
	view.AuthorNotes = project.AuthorNotes

	articles, err := content.ArticlesByID(db, project.ID, project.ArticleIDs)
	if err != nil {
		r.logError(opReadProject, "articles_query_failed", err, zap.String("project_id", project.ID))
		return apperr.Internal(opReadProject, "articles_query_failed", err)
	}
	view.Articles = make([]ArticleView, 0, len(project.ArticleIDs))
	for _, articleID := range project.ArticleIDs {
		article, ok := articles[articleID]
		if !ok {
			r.logger.Warn("current article missing", zap.String("project_id", project.ID), zap.String("article_id", articleID))
			continue
		}
		view.Articles = append(view.Articles, ArticleView{
			ID:             article.ID,
			Text:           article.Text,
			NotInteractive: article.NotInteractive,
			Position:       article.Position,
		})
	}
	sortArticles(view.Articles)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.parallelism)
	group.Go(func() error {
		counts, reaction, err := r.engagementOf(groupCtx, engagement.ProjectTarget(project.ID), viewer)
		if err != nil {
			return err
		}
		view.Counts, view.Reaction = &counts, &reaction
		return nil
	})
	for index := range view.Articles {
		article := &view.Articles[index]
		group.Go(func() error {
			counts, reaction, err := r.engagementOf(groupCtx, engagement.ArticleTarget(project.ID, article.ID), viewer)
			if err != nil {
				return err
			}
			article.Counts, article.Reaction = &counts, &reaction
			return nil
		})
	}
	return group.Wait()
}

// fillHistorical renders the archived entry for version. A missing entry is
// an integrity violation reported as NotFound. Articles without their own
// snapshot at this boundary fall back to their live text.
func (r *Resolver) fillHistorical(ctx context.Context, view *ProjectView, project content.Project, version int) error {
	db := r.db.WithContext(ctx)
	entry, found, err := content.FindProjectVersion(db, project.ID, version)
	if err != nil {
		r.logError(opReadProject, "history_query_failed", err, zap.String("project_id", project.ID))
		return apperr.Internal(opReadProject, "history_query_failed", err)
	}
	if !found {
		r.logger.Error("project history gap",
			zap.String("project_id", project.ID),
			zap.Int("version", version),
			zap.Int("current_version", project.Version))
		return apperr.NotFound(opReadProject, "version_not_found", errMissingHistory)
	}
	view.About = entry.About
	view.AuthorNotes = entry.AuthorNotes
	frozen := entry.Stats
	view.Stats = &frozen

	live, err := content.ArticlesByID(db, project.ID, entry.ArticleIDs)
	if err != nil {
		r.logError(opReadProject, "articles_query_failed", err, zap.String("project_id", project.ID))
		return apperr.Internal(opReadProject, "articles_query_failed", err)
	}
	archived, err := content.ArticleVersionsAt(db, entry.ArticleIDs, version)
	if err != nil {
		r.logError(opReadProject, "article_history_query_failed", err, zap.String("project_id", project.ID))
		return apperr.Internal(opReadProject, "article_history_query_failed", err)
	}

	view.Articles = make([]ArticleView, 0, len(entry.ArticleIDs))
	for _, articleID := range entry.ArticleIDs {
		if snapshot, ok := archived[articleID]; ok {
			stats := snapshot.Stats
			view.Articles = append(view.Articles, ArticleView{
				ID:             articleID,
				Text:           snapshot.Text,
				NotInteractive: snapshot.NotInteractive,
				Position:       snapshot.Position,
				FromHistory:    true,
				Stats:          &stats,
			})
			continue
		}
		article, ok := live[articleID]
		if !ok {
			r.logger.Warn("historical article missing", zap.String("project_id", project.ID), zap.String("article_id", articleID))
			continue
		}
		view.Articles = append(view.Articles, ArticleView{
			ID:             article.ID,
			Text:           article.Text,
			NotInteractive: article.NotInteractive,
			Position:       article.Position,
		})
	}
	sortArticles(view.Articles)
	return nil
}

// ListVersions returns every version of the project, oldest first, the
// current one last.
func (r *Resolver) ListVersions(ctx context.Context, idOrSlug string, viewer *auth.Actor) ([]VersionSummary, error) {
	project, _, err := r.accessibleProject(ctx, opListVersions, idOrSlug, viewer)
	if err != nil {
		return nil, err
	}
	history, err := content.ProjectHistory(r.db.WithContext(ctx), project.ID)
	if err != nil {
		r.logError(opListVersions, "history_query_failed", err, zap.String("project_id", project.ID))
		return nil, apperr.Internal(opListVersions, "history_query_failed", err)
	}
	summaries := make([]VersionSummary, 0, len(history)+1)
	for _, entry := range history {
		archivedAt := entry.ArchivedAt
		stats := entry.Stats
		summaries = append(summaries, VersionSummary{
			Version:    entry.Version,
			ArchivedAt: &archivedAt,
			ArticleIDs: entry.ArticleIDs,
			Stats:      &stats,
		})
	}
	summaries = append(summaries, VersionSummary{
		Version:    project.Version,
		Current:    true,
		ArticleIDs: project.ArticleIDs,
	})
	return summaries, nil
}

// accessibleProject loads a project and checks the viewer may read it.
func (r *Resolver) accessibleProject(ctx context.Context, operation, idOrSlug string, viewer *auth.Actor) (content.Project, bool, error) {
	key, err := content.ValidateID(idOrSlug, content.ErrInvalidProjectID)
	if err != nil {
		return content.Project{}, false, apperr.Validation(operation, "invalid_project_id", err)
	}
	project, err := content.LoadProject(r.db.WithContext(ctx), key)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return content.Project{}, false, apperr.NotFound(operation, "project_not_found", err)
	}
	if err != nil {
		r.logError(operation, "project_select_failed", err, zap.String("project_id", key))
		return content.Project{}, false, apperr.Internal(operation, "project_select_failed", err)
	}
	canEdit := auth.CanEdit(viewer, project.AuthorID)
	if !project.Accessible(canEdit) {
		return content.Project{}, false, apperr.Forbidden(operation, "project_inaccessible", errInaccessible)
	}
	return project, canEdit, nil
}

func (r *Resolver) engagementOf(ctx context.Context, target engagement.Target, viewer *auth.Actor) (engagement.Counts, engagement.Reaction, error) {
	counts, err := r.ledger.Counts(ctx, target)
	if err != nil {
		return engagement.Counts{}, engagement.Reaction{}, err
	}
	reaction, err := r.ledger.UserReaction(ctx, target, viewer.ID())
	if err != nil {
		return engagement.Counts{}, engagement.Reaction{}, err
	}
	return counts, reaction, nil
}

func (r *Resolver) pageBounds(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = r.defaultLimit
	}
	if limit > r.maxLimit {
		limit = r.maxLimit
	}
	// Keeps (page-1)*limit from overflowing into a negative offset.
	if maxPage := math.MaxInt / limit; page > maxPage {
		page = maxPage
	}
	return page, limit
}

func sortArticles(articles []ArticleView) {
	sort.SliceStable(articles, func(i, j int) bool {
		return articles[i].Position < articles[j].Position
	})
}

func (r *Resolver) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	r.logger.Error("reader error", attrs...)
}

func trimmed(value string) string {
	return strings.TrimSpace(value)
}
