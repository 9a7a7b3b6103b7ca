package content

import (
	"errors"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func openContentDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Project{}, &ProjectVersion{}, &Article{}, &ArticleVersion{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func TestValidateSlug(t *testing.T) {
	valid := []string{"reforma-2026", "a", "ley-de-agua"}
	for _, slug := range valid {
		if _, err := ValidateSlug(slug); err != nil {
			t.Fatalf("expected %q to be valid: %v", slug, err)
		}
	}
	invalid := []string{"", "-lead", "trail-", "dou--ble", "Upper", "spa ce", "ñ"}
	for _, slug := range invalid {
		if _, err := ValidateSlug(slug); !errors.Is(err, ErrInvalidSlug) {
			t.Fatalf("expected %q to be rejected, got %v", slug, err)
		}
	}
}

func TestValidateID(t *testing.T) {
	id, err := ValidateID("  p-1 ", ErrInvalidProjectID)
	if err != nil || id != "p-1" {
		t.Fatalf("unexpected result %q, %v", id, err)
	}
	if _, err := ValidateID(" ", ErrInvalidCommentID); !errors.Is(err, ErrInvalidCommentID) {
		t.Fatalf("expected ErrInvalidCommentID, got %v", err)
	}
}

func TestLocalizedTextIsBlank(t *testing.T) {
	if !(LocalizedText{}).IsBlank() {
		t.Fatalf("empty text must be blank")
	}
	if !(LocalizedText{"es": "  ", "en": ""}).IsBlank() {
		t.Fatalf("whitespace text must be blank")
	}
	if (LocalizedText{"es": "", "en": "notes"}).IsBlank() {
		t.Fatalf("one filled locale is not blank")
	}
}

func TestProjectAccessibility(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	project := Project{Hidden: true}
	if project.Accessible(false) {
		t.Fatalf("draft project must not be accessible to non-editors")
	}
	if !project.Accessible(true) {
		t.Fatalf("editors always have access")
	}
	project.PublishedAt = &now
	project.Hidden = false
	if !project.Accessible(false) {
		t.Fatalf("published visible project must be accessible")
	}

	if project.Closed(now) {
		t.Fatalf("project without deadline is open")
	}
	deadline := now.Add(time.Hour)
	project.ClosedAt = &deadline
	if project.Closed(now) {
		t.Fatalf("deadline in the future keeps the project open")
	}
	if !project.Closed(deadline) {
		t.Fatalf("project closes at the deadline instant")
	}
}

func TestProjectHistoryIsAppendOnly(t *testing.T) {
	db := openContentDB(t)
	entry := ProjectVersion{
		ProjectID:  "p-1",
		Version:    1,
		About:      LocalizedText{"es": "v1"},
		ArticleIDs: []string{"a-1", "a-2"},
		Stats:      StatsSnapshot{Likes: 3, UniqueUsersWhoInteractedPerCountry: map[string]int64{"AR": 2}},
		ArchivedAt: time.Unix(1700000000, 0).UTC(),
	}
	if err := AppendProjectVersion(db, entry); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := AppendProjectVersion(db, entry); err == nil {
		t.Fatalf("expected duplicate version insert to fail")
	}
	if err := AppendProjectVersion(db, ProjectVersion{ProjectID: "p-1", Version: 0}); !errors.Is(err, ErrInvalidHistoryVersion) {
		t.Fatalf("expected ErrInvalidHistoryVersion, got %v", err)
	}

	err := db.Model(&ProjectVersion{}).Where("project_id = ? AND version = ?", "p-1", 1).Update("about", `{"es":"rewritten"}`).Error
	if !errors.Is(err, ErrHistoryImmutable) {
		t.Fatalf("expected ErrHistoryImmutable on update, got %v", err)
	}
	err = db.Where("project_id = ?", "p-1").Delete(&ProjectVersion{}).Error
	if !errors.Is(err, ErrHistoryImmutable) {
		t.Fatalf("expected ErrHistoryImmutable on delete, got %v", err)
	}

	stored, found, err := FindProjectVersion(db, "p-1", 1)
	if err != nil || !found {
		t.Fatalf("expected stored version: found=%v err=%v", found, err)
	}
	if stored.About["es"] != "v1" || len(stored.ArticleIDs) != 2 || stored.Stats.Likes != 3 {
		t.Fatalf("unexpected stored entry %#v", stored)
	}
	if stored.Stats.UniqueUsersWhoInteractedPerCountry["AR"] != 2 {
		t.Fatalf("per-country stats not round-tripped: %#v", stored.Stats)
	}

	if _, found, err := FindProjectVersion(db, "p-1", 2); err != nil || found {
		t.Fatalf("expected missing version 2: found=%v err=%v", found, err)
	}
}

func TestArticleVersionsAtReturnsOnlyExactBoundary(t *testing.T) {
	db := openContentDB(t)
	archived := time.Unix(1700000000, 0).UTC()
	rows := []ArticleVersion{
		{ArticleID: "a-1", ProjectID: "p-1", Version: 1, Text: LocalizedText{"es": "a1v1"}, Position: 1, ArchivedAt: archived},
		{ArticleID: "a-1", ProjectID: "p-1", Version: 2, Text: LocalizedText{"es": "a1v2"}, Position: 2, ArchivedAt: archived},
		{ArticleID: "a-2", ProjectID: "p-1", Version: 2, Text: LocalizedText{"es": "a2v2"}, Position: 1, ArchivedAt: archived},
	}
	for _, row := range rows {
		if err := AppendArticleVersion(db, row); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	atOne, err := ArticleVersionsAt(db, []string{"a-1", "a-2"}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(atOne) != 1 || atOne["a-1"].Text["es"] != "a1v1" {
		t.Fatalf("unexpected rows at version 1: %#v", atOne)
	}

	history, err := ArticleHistory(db, "a-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 2 || history[0].Version != 1 || history[1].Version != 2 {
		t.Fatalf("unexpected history order: %#v", history)
	}
}
