package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/auth"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ServiceConfig describes the dependencies required for user resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service maps session claims onto stored users and request actors.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the user service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:    cfg.Database,
		now:   clock,
		cache: sync.Map{},
	}, nil
}

// ResolveActor upserts the user described by the claims and returns the request actor.
// Writes are skipped while the claims match what this process last stored.
func (s *Service) ResolveActor(ctx context.Context, claims auth.SessionClaims) (*auth.Actor, error) {
	userID := normalize(claims.UserID)
	if userID == "" {
		userID = normalize(claims.Subject)
	}
	if userID == "" {
		return nil, ErrInvalidIdentity
	}
	role, err := auth.ParseRole(claims.UserRole)
	if err != nil {
		return nil, err
	}

	user := User{
		ID:          userID,
		Email:       normalize(claims.UserEmail),
		DisplayName: normalize(claims.UserDisplayName),
		Role:        string(role),
		Lang:        normalize(claims.UserLang),
		CountryCode: strings.ToUpper(normalize(claims.UserCountry)),
		LastSeenAt:  s.now().UTC(),
	}
	actor := &auth.Actor{
		UserID:      user.ID,
		Role:        role,
		Lang:        user.Lang,
		CountryCode: user.CountryCode,
	}

	fingerprint := strings.Join([]string{user.Email, user.DisplayName, user.Role, user.Lang, user.CountryCode}, "|")
	if cached, ok := s.cache.Load(userID); ok {
		if cachedFingerprint, ok := cached.(string); ok && cachedFingerprint == fingerprint {
			return actor, nil
		}
	}

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "display_name", "role", "lang", "country_code", "last_seen_at", "updated_at"}),
	}).Create(&user).Error
	if err != nil {
		return nil, err
	}

	s.cache.Store(userID, fingerprint)
	return actor, nil
}

// Get loads a stored user by id.
func (s *Service) Get(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("id = ?", normalize(userID)).Take(&user).Error
	return user, err
}

// CountryBuckets returns user id -> country bucket for the given ids using db,
// which may be a transaction. Ids without a stored user map to UnknownCountry.
func CountryBuckets(db *gorm.DB, userIDs []string) (map[string]string, error) {
	buckets := make(map[string]string, len(userIDs))
	if len(userIDs) == 0 {
		return buckets, nil
	}
	var stored []User
	if err := db.Select("id", "country_code").Where("id IN ?", userIDs).Find(&stored).Error; err != nil {
		return nil, err
	}
	for _, user := range stored {
		buckets[user.ID] = user.CountryBucket()
	}
	for _, id := range userIDs {
		if _, ok := buckets[id]; !ok {
			buckets[id] = UnknownCountry
		}
	}
	return buckets, nil
}
