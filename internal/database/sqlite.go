package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/content"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/engagement"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Models lists every table owned by the backend, in migration order.
func Models() []any {
	return []any{
		&users.User{},
		&content.Project{},
		&content.ProjectVersion{},
		&content.Article{},
		&content.ArticleVersion{},
		&content.Comment{},
		&content.Reply{},
		&engagement.Entry{},
		&migrationRecord{},
	}
}

// OpenSQLite establishes a SQLite connection and performs schema migrations.
// The pool is capped at one connection so every transaction is serialized.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
