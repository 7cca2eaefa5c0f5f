// Package authz holds the one authorization policy used by page middleware,
// API middleware and the account service.
package authz

import (
	"errors"
	"strings"

	"github.com/geocoder89/useradmin/internal/auth"
	"github.com/geocoder89/useradmin/internal/domain/user"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("insufficient role")
)

// Require is the capability check run at the entry of every protected operation.
func Require(s *auth.Session, required user.Role) error {
	if s == nil || s.UserID == "" {
		return ErrUnauthenticated
	}
	if !satisfies(s.Role, required) {
		return ErrForbidden
	}
	return nil
}

func IsAdmin(s *auth.Session) bool {
	return Require(s, user.RoleAdmin) == nil
}

// ADMIN satisfies USER, not the other way round.
func satisfies(have, want user.Role) bool {
	switch want {
	case user.RoleUser:
		return have == user.RoleUser || have == user.RoleAdmin
	case user.RoleAdmin:
		return have == user.RoleAdmin
	default:
		return false
	}
}

type Decision int

const (
	Allow Decision = iota
	RedirectToLogin
)

const LoginPath = "/login"

var (
	publicPrefixes    = []string{"/login", "/register", "/api/register"}
	protectedPrefixes = []string{"/admin", "/dashboard"}
)

// Route decides page access from authentication alone. Role checks happen
// downstream through Require.
func Route(path string, authenticated bool) Decision {
	for _, p := range publicPrefixes {
		if underPrefix(path, p) {
			return Allow
		}
	}

	for _, p := range protectedPrefixes {
		if underPrefix(path, p) {
			if authenticated {
				return Allow
			}
			return RedirectToLogin
		}
	}

	return Allow
}

// underPrefix matches whole path segments: /admin and /admin/x, not /administrator.
func underPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	rest := path[len(prefix):]
	return rest == "" || rest[0] == '/'
}
