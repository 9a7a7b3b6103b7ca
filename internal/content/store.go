package content

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LoadProject fetches a project by id or, failing that, by slug.
// Missing rows surface as gorm.ErrRecordNotFound.
func LoadProject(db *gorm.DB, idOrSlug string) (Project, error) {
	var project Project
	err := db.Where("id = ? OR slug = ?", idOrSlug, idOrSlug).Take(&project).Error
	return project, err
}

// LockProject fetches a project by id or slug with a row lock for the
// enclosing transaction.
func LockProject(tx *gorm.DB, idOrSlug string) (Project, error) {
	return LoadProject(tx.Clauses(clause.Locking{Strength: "UPDATE"}), idOrSlug)
}

// ArticlesByID loads articles of a project keyed by id.
func ArticlesByID(db *gorm.DB, projectID string, articleIDs []string) (map[string]Article, error) {
	out := make(map[string]Article, len(articleIDs))
	if len(articleIDs) == 0 {
		return out, nil
	}
	var articles []Article
	if err := db.Where("project_id = ? AND id IN ?", projectID, articleIDs).Find(&articles).Error; err != nil {
		return nil, err
	}
	for _, article := range articles {
		out[article.ID] = article
	}
	return out, nil
}

// LoadArticle fetches an article by id.
func LoadArticle(db *gorm.DB, articleID string) (Article, error) {
	var article Article
	err := db.Where("id = ?", articleID).Take(&article).Error
	return article, err
}

// LoadComment fetches a comment by id.
func LoadComment(db *gorm.DB, commentID string) (Comment, error) {
	var comment Comment
	err := db.Where("id = ?", commentID).Take(&comment).Error
	return comment, err
}

// LoadReply fetches a reply by id.
func LoadReply(db *gorm.DB, replyID string) (Reply, error) {
	var reply Reply
	err := db.Where("id = ?", replyID).Take(&reply).Error
	return reply, err
}

// ReplyIDs lists the ids of every reply under the given comments.
func ReplyIDs(db *gorm.DB, commentIDs []string) ([]string, error) {
	if len(commentIDs) == 0 {
		return nil, nil
	}
	var ids []string
	err := db.Model(&Reply{}).Where("comment_id IN ?", commentIDs).Order("created_at ASC").Pluck("id", &ids).Error
	return ids, err
}
