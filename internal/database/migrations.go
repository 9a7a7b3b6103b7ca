package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/content"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeArticlePositions = "2026-06-01_normalize_article_positions"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeArticlePositions, apply: normalizeArticlePositions},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := db.Transaction(migration.apply); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// normalizeArticlePositions rewrites the live position of every article in a
// project's current list to its 1-indexed place in that list.
func normalizeArticlePositions(tx *gorm.DB) error {
	var projects []content.Project
	if err := tx.Select("id", "article_ids").Find(&projects).Error; err != nil {
		return err
	}
	for _, project := range projects {
		for index, articleID := range project.ArticleIDs {
			err := tx.Model(&content.Article{}).
				Where("id = ? AND project_id = ? AND position <> ?", articleID, project.ID, index+1).
				Update("position", index+1).Error
			if err != nil {
				return err
			}
		}
	}
	return nil
}
