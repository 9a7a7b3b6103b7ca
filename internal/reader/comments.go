package reader

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/content"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/engagement"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// CommentQuery selects the comments of a project or of one of its articles.
// Version 0 requests the current version.
type CommentQuery struct {
	ProjectID string
	ArticleID string
	Version   int
	Page      int
	Limit     int
}

// VisibleComments scopes a comments query to what version shows. For the
// current version a comment is hidden once it was highlighted or resolved in
// a superseded version. For a past version only comments highlighted and
// resolved exactly at that boundary are shown.
func VisibleComments(db *gorm.DB, version int, historical bool) *gorm.DB {
	if historical {
		return db.Where("created_in_version <= ? AND highlighted_in_version = ? AND resolved_in_version = ?",
			version, version, version)
	}
	return db.Where("created_in_version <= ? AND highlighted_in_version IN ? AND resolved_in_version IN ?",
		version, []int{0, version}, []int{0, version})
}

// ListComments returns the visible comments for the requested version,
// newest first, each with live counts.
func (r *Resolver) ListComments(ctx context.Context, query CommentQuery, viewer *auth.Actor) (Page[CommentView], error) {
	project, _, err := r.accessibleProject(ctx, opListComments, query.ProjectID, viewer)
	if err != nil {
		return Page[CommentView]{}, err
	}
	version, historical, err := ResolveVersion(query.Version, project.Version)
	if err != nil {
		return Page[CommentView]{}, apperr.Validation(opListComments, "invalid_version", err)
	}

	articleID := trimmed(query.ArticleID)
	db := r.db.WithContext(ctx)
	if articleID != "" {
		article, err := content.LoadArticle(db, articleID)
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && article.ProjectID != project.ID) {
			return Page[CommentView]{}, apperr.NotFound(opListComments, "article_not_found", content.ErrInvalidArticleID)
		}
		if err != nil {
			r.logError(opListComments, "article_select_failed", err, zap.String("article_id", articleID))
			return Page[CommentView]{}, apperr.Internal(opListComments, "article_select_failed", err)
		}
	}

	page, limit := r.pageBounds(query.Page, query.Limit)
	scope := func() *gorm.DB {
		base := db.Model(&content.Comment{}).Where("project_id = ? AND article_id = ?", project.ID, articleID)
		return VisibleComments(base, version, historical)
	}

	var total int64
	if err := scope().Count(&total).Error; err != nil {
		r.logError(opListComments, "count_failed", err, zap.String("project_id", project.ID))
		return Page[CommentView]{}, apperr.Internal(opListComments, "count_failed", err)
	}
	var comments []content.Comment
	err = scope().
		Order("created_at DESC").
		Order("id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&comments).Error
	if err != nil {
		r.logError(opListComments, "query_failed", err, zap.String("project_id", project.ID))
		return Page[CommentView]{}, apperr.Internal(opListComments, "query_failed", err)
	}

	items := make([]CommentView, len(comments))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.parallelism)
	for index, comment := range comments {
		group.Go(func() error {
			target := engagement.CommentTarget(comment.ProjectID, comment.ArticleID, comment.ID)
			counts, reaction, err := r.engagementOf(groupCtx, target, viewer)
			if err != nil {
				return err
			}
			var replies int64
			if err := r.db.WithContext(groupCtx).Model(&content.Reply{}).Where("comment_id = ?", comment.ID).Count(&replies).Error; err != nil {
				r.logError(opListComments, "reply_count_failed", err, zap.String("comment_id", comment.ID))
				return apperr.Internal(opListComments, "reply_count_failed", err)
			}
			items[index] = CommentView{
				ID:                   comment.ID,
				ProjectID:            comment.ProjectID,
				ArticleID:            comment.ArticleID,
				UserID:               comment.UserID,
				Text:                 comment.Text,
				CreatedInVersion:     comment.CreatedInVersion,
				HighlightedInVersion: comment.HighlightedInVersion,
				ResolvedInVersion:    comment.ResolvedInVersion,
				CreatedAt:            comment.CreatedAt,
				Likes:                counts.Likes,
				Dislikes:             counts.Dislikes,
				Replies:              replies,
				Reaction:             reaction,
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return Page[CommentView]{}, err
	}
	return newPage(items, page, limit, total), nil
}

// ListReplies returns a comment's replies in creation order with live counts.
func (r *Resolver) ListReplies(ctx context.Context, commentID string, page, limit int, viewer *auth.Actor) (Page[ReplyView], error) {
	id, err := content.ValidateID(commentID, content.ErrInvalidCommentID)
	if err != nil {
		return Page[ReplyView]{}, apperr.Validation(opListReplies, "invalid_comment_id", err)
	}
	db := r.db.WithContext(ctx)
	comment, err := content.LoadComment(db, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Page[ReplyView]{}, apperr.NotFound(opListReplies, "comment_not_found", err)
	}
	if err != nil {
		r.logError(opListReplies, "comment_select_failed", err, zap.String("comment_id", id))
		return Page[ReplyView]{}, apperr.Internal(opListReplies, "comment_select_failed", err)
	}
	if _, _, err := r.accessibleProject(ctx, opListReplies, comment.ProjectID, viewer); err != nil {
		return Page[ReplyView]{}, err
	}

	page, limit = r.pageBounds(page, limit)
	var total int64
	if err := db.Model(&content.Reply{}).Where("comment_id = ?", comment.ID).Count(&total).Error; err != nil {
		r.logError(opListReplies, "count_failed", err, zap.String("comment_id", comment.ID))
		return Page[ReplyView]{}, apperr.Internal(opListReplies, "count_failed", err)
	}
	var replies []content.Reply
	err = db.Where("comment_id = ?", comment.ID).
		Order("created_at ASC").
		Order("id ASC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&replies).Error
	if err != nil {
		r.logError(opListReplies, "query_failed", err, zap.String("comment_id", comment.ID))
		return Page[ReplyView]{}, apperr.Internal(opListReplies, "query_failed", err)
	}

	items := make([]ReplyView, len(replies))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.parallelism)
	for index, reply := range replies {
		group.Go(func() error {
			target := engagement.ReplyTarget(comment.ProjectID, comment.ArticleID, comment.ID, reply.ID)
			counts, reaction, err := r.engagementOf(groupCtx, target, viewer)
			if err != nil {
				return err
			}
			items[index] = ReplyView{
				ID:        reply.ID,
				CommentID: reply.CommentID,
				UserID:    reply.UserID,
				Text:      reply.Text,
				CreatedAt: reply.CreatedAt,
				Likes:     counts.Likes,
				Dislikes:  counts.Dislikes,
				Reaction:  reaction,
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return Page[ReplyView]{}, err
	}
	return newPage(items, page, limit, total), nil
}
