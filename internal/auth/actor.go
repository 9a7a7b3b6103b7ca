package auth

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownRole indicates a role string outside the closed role set.
var ErrUnknownRole = errors.New("auth: unknown role")

// Role is the closed set of platform roles.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleAuthor    Role = "author"
	RoleModerator Role = "moderator"
	RoleUser      Role = "user"
)

// ParseRole maps raw claim input onto a Role. Empty input is a plain user.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleAuthor:
		return RoleAuthor, nil
	case RoleModerator:
		return RoleModerator, nil
	case RoleUser, "":
		return RoleUser, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
	}
}

// Actor is the authenticated principal acting on a request.
// A nil *Actor is an anonymous viewer.
type Actor struct {
	UserID      string
	Role        Role
	Lang        string
	CountryCode string
}

// ID returns the user id, or "" for anonymous viewers.
func (a *Actor) ID() string {
	if a == nil {
		return ""
	}
	return a.UserID
}

// CanAuthor reports whether the actor may create projects.
func CanAuthor(actor *Actor) bool {
	if actor == nil {
		return false
	}
	return actor.Role == RoleAdmin || actor.Role == RoleAuthor
}

// CanEdit is true iff the actor is an admin, or an author who owns the project.
func CanEdit(actor *Actor, projectAuthorID string) bool {
	if actor == nil {
		return false
	}
	switch actor.Role {
	case RoleAdmin:
		return true
	case RoleAuthor:
		return actor.UserID != "" && actor.UserID == projectAuthorID
	default:
		return false
	}
}

// CanModerate extends CanEdit with the moderator role.
func CanModerate(actor *Actor, projectAuthorID string) bool {
	if CanEdit(actor, projectAuthorID) {
		return true
	}
	return actor != nil && actor.Role == RoleModerator
}
