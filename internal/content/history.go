package content

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrHistoryImmutable is returned when a write tries to rewrite archived history.
var ErrHistoryImmutable = errors.New("content: version history is append-only")

// ErrInvalidHistoryVersion indicates a history row with a non-positive version.
var ErrInvalidHistoryVersion = errors.New("content: invalid history version")

// StatsSnapshot is the engagement aggregate frozen at a version boundary.
type StatsSnapshot struct {
	Likes                              int64            `json:"likes"`
	Dislikes                           int64            `json:"dislikes"`
	Comments                           int64            `json:"comments"`
	CommentsLikes                      int64            `json:"commentsLikes"`
	CommentsDislikes                   int64            `json:"commentsDislikes"`
	CommentsReplies                    int64            `json:"commentsReplies"`
	CommentsRepliesLikes               int64            `json:"commentsRepliesLikes"`
	CommentsRepliesDislikes            int64            `json:"commentsRepliesDislikes"`
	CommentsCreatedInVersion           int64            `json:"commentsCreatedInVersion"`
	CommentsHighlightedInVersion       int64            `json:"commentsHighlightedInVersion"`
	CommentsResolvedInVersion          int64            `json:"commentsResolvedInVersion"`
	UniqueUsersWhoInteracted           int64            `json:"uniqueUsersWhoInteracted"`
	UniqueUsersWhoInteractedPerCountry map[string]int64 `json:"uniqueUsersWhoInteractedPerCountry"`
}

// ProjectVersion archives one past version of a project: its text, its
// article membership and the stats frozen when the version was closed.
type ProjectVersion struct {
	ProjectID   string        `gorm:"column:project_id;primaryKey;size:190;not null"`
	Version     int           `gorm:"column:version;primaryKey;not null;autoIncrement:false"`
	About       LocalizedText `gorm:"column:about;type:text;serializer:json"`
	AuthorNotes LocalizedText `gorm:"column:author_notes;type:text;serializer:json"`
	ArticleIDs  []string      `gorm:"column:article_ids;type:text;serializer:json"`
	Stats       StatsSnapshot `gorm:"column:stats;type:text;serializer:json"`
	ArchivedAt  time.Time     `gorm:"column:archived_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ProjectVersion) TableName() string {
	return "project_versions"
}

// BeforeUpdate rejects any rewrite of archived project history.
func (ProjectVersion) BeforeUpdate(*gorm.DB) error {
	return ErrHistoryImmutable
}

// BeforeDelete rejects any removal of archived project history.
func (ProjectVersion) BeforeDelete(*gorm.DB) error {
	return ErrHistoryImmutable
}

// ArticleVersion archives an article's text and position as they stood in Version.
type ArticleVersion struct {
	ArticleID      string        `gorm:"column:article_id;primaryKey;size:190;not null"`
	Version        int           `gorm:"column:version;primaryKey;not null;autoIncrement:false"`
	ProjectID      string        `gorm:"column:project_id;size:190;not null;index"`
	Text           LocalizedText `gorm:"column:text;type:text;serializer:json"`
	Position       int           `gorm:"column:position;not null"`
	NotInteractive bool          `gorm:"column:not_interactive;not null;default:false"`
	Stats          StatsSnapshot `gorm:"column:stats;type:text;serializer:json"`
	ArchivedAt     time.Time     `gorm:"column:archived_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ArticleVersion) TableName() string {
	return "article_versions"
}

// BeforeUpdate rejects any rewrite of archived article history.
func (ArticleVersion) BeforeUpdate(*gorm.DB) error {
	return ErrHistoryImmutable
}

// BeforeDelete rejects any removal of archived article history.
func (ArticleVersion) BeforeDelete(*gorm.DB) error {
	return ErrHistoryImmutable
}

// AppendProjectVersion inserts a history row. An existing row for the same
// version makes the insert fail on the primary key.
func AppendProjectVersion(tx *gorm.DB, entry ProjectVersion) error {
	if entry.Version < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidHistoryVersion, entry.Version)
	}
	return tx.Create(&entry).Error
}

// AppendArticleVersion inserts an article history row.
func AppendArticleVersion(tx *gorm.DB, entry ArticleVersion) error {
	if entry.Version < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidHistoryVersion, entry.Version)
	}
	return tx.Create(&entry).Error
}

// ProjectHistory returns every archived version of a project, oldest first.
func ProjectHistory(db *gorm.DB, projectID string) ([]ProjectVersion, error) {
	var history []ProjectVersion
	err := db.Where("project_id = ?", projectID).Order("version ASC").Find(&history).Error
	return history, err
}

// FindProjectVersion loads the history row for exactly version.
func FindProjectVersion(db *gorm.DB, projectID string, version int) (ProjectVersion, bool, error) {
	var entry ProjectVersion
	err := db.Where("project_id = ? AND version = ?", projectID, version).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ProjectVersion{}, false, nil
	}
	if err != nil {
		return ProjectVersion{}, false, err
	}
	return entry, true, nil
}

// ArticleVersionsAt returns article id -> history row for exactly version.
// Articles without a row at that boundary are absent from the map.
func ArticleVersionsAt(db *gorm.DB, articleIDs []string, version int) (map[string]ArticleVersion, error) {
	out := make(map[string]ArticleVersion, len(articleIDs))
	if len(articleIDs) == 0 {
		return out, nil
	}
	var rows []ArticleVersion
	if err := db.Where("article_id IN ? AND version = ?", articleIDs, version).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ArticleID] = row
	}
	return out, nil
}

// ArticleHistory returns every archived version of an article, oldest first.
func ArticleHistory(db *gorm.DB, articleID string) ([]ArticleVersion, error) {
	var history []ArticleVersion
	err := db.Where("article_id = ?", articleID).Order("version ASC").Find(&history).Error
	return history, err
}
