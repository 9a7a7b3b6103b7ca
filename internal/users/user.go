package users

import (
	"strings"
	"time"
)

// UnknownCountry buckets users that never reported a country code.
const UnknownCountry = "unknown"

// User is the platform-side record of an authenticated principal.
type User struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null"`
	Email       string    `gorm:"column:email;size:320"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	Role        string    `gorm:"column:role;size:32;not null;default:'user'"`
	Lang        string    `gorm:"column:lang;size:16"`
	CountryCode string    `gorm:"column:country_code;size:8;index"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing users.
func (User) TableName() string {
	return "users"
}

// CountryBucket returns the country code used for per-country aggregates.
func (u User) CountryBucket() string {
	code := strings.ToUpper(normalize(u.CountryCode))
	if code == "" {
		return UnknownCountry
	}
	return code
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
