package users

import (
	"context"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/auth"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func openUsersDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&User{}); err != nil {
		t.Fatalf("failed to migrate user schema: %v", err)
	}
	return db
}

func TestResolveActorStoresUserAndRole(t *testing.T) {
	db := openUsersDB(t)
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock: func() time.Time {
			return time.Unix(1, 0)
		},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	claims := auth.SessionClaims{
		UserID:          "12345",
		UserEmail:       "user@example.com",
		UserDisplayName: "Example User",
		UserRole:        "author",
		UserLang:        "es",
		UserCountry:     "ar",
	}
	actor, err := service.ResolveActor(context.Background(), claims)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if actor.UserID != "12345" || actor.Role != auth.RoleAuthor || actor.CountryCode != "AR" {
		t.Fatalf("unexpected actor %#v", actor)
	}

	stored, err := service.Get(context.Background(), "12345")
	if err != nil {
		t.Fatalf("expected stored user: %v", err)
	}
	if stored.CountryBucket() != "AR" {
		t.Fatalf("unexpected country bucket %q", stored.CountryBucket())
	}

	// a changed role must reach storage even though the user is cached.
	claims.UserRole = "moderator"
	if _, err := service.ResolveActor(context.Background(), claims); err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	stored, err = service.Get(context.Background(), "12345")
	if err != nil {
		t.Fatalf("expected stored user: %v", err)
	}
	if stored.Role != string(auth.RoleModerator) {
		t.Fatalf("expected role update, got %q", stored.Role)
	}

	var count int64
	if err := db.Model(&User{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single user row, got %d", count)
	}
}

func TestResolveActorRejectsEmptyIdentity(t *testing.T) {
	service, err := NewService(ServiceConfig{Database: openUsersDB(t)})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	if _, err := service.ResolveActor(context.Background(), auth.SessionClaims{}); err != ErrInvalidIdentity {
		t.Fatalf("expected ErrInvalidIdentity, got %v", err)
	}
}

func TestCountryBucketsDefaultsToUnknown(t *testing.T) {
	db := openUsersDB(t)
	if err := db.Create(&User{ID: "u-1", CountryCode: "uy"}).Error; err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if err := db.Create(&User{ID: "u-2"}).Error; err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	buckets, err := CountryBuckets(db, []string{"u-1", "u-2", "u-missing"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buckets["u-1"] != "UY" {
		t.Fatalf("unexpected bucket for u-1: %q", buckets["u-1"])
	}
	if buckets["u-2"] != UnknownCountry || buckets["u-missing"] != UnknownCountry {
		t.Fatalf("expected unknown buckets, got %#v", buckets)
	}
}
