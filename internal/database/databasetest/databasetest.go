// Package databasetest opens isolated, fully migrated in-memory databases for tests.
package databasetest

import (
	"strconv"
	"sync"
	"testing"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/database"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Open returns a migrated shared-cache in-memory database unique to the test.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := database.OpenSQLite(dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// SequentialIDs issues "<prefix>-1", "<prefix>-2", ... for deterministic tests.
type SequentialIDs struct {
	Prefix string

	mu   sync.Mutex
	next int
}

func (s *SequentialIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	prefix := s.Prefix
	if prefix == "" {
		prefix = "id"
	}
	return prefix + "-" + strconv.Itoa(s.next), nil
}
