package session

import (
	"errors"
	"time"
)

var (
	ErrRefreshNotFound = errors.New("refresh token not found")
	ErrRefreshRevoked  = errors.New("refresh token revoked")
	ErrRefreshExpired  = errors.New("refresh token expired")
	ErrRefreshMismatch = errors.New("refresh token hash mismatch")
)

// RefreshToken is the server-side record of an issued refresh token.
// Only the HMAC of the raw token is stored.
type RefreshToken struct {
	ID         string
	UserID     string
	TokenHash  string
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	ReplacedBy *string
	CreatedAt  time.Time
}

// CheckRotatable validates a stored token against the presented hash at now.
func (t RefreshToken) CheckRotatable(presentedHash string, now time.Time) error {
	if t.RevokedAt != nil {
		return ErrRefreshRevoked
	}
	if now.After(t.ExpiresAt) {
		return ErrRefreshExpired
	}
	// prevents token substitution
	if t.TokenHash != presentedHash {
		return ErrRefreshMismatch
	}
	return nil
}
