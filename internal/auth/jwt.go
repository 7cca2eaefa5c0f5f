package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/geocoder89/useradmin/internal/domain/user"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionCookieName is the HttpOnly cookie carrying the session token.
const SessionCookieName = "session"

const (
	tokenTypeSession = "session"
	tokenTypeRefresh = "refresh"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrInvalidTokenType = errors.New("invalid token type")
)

// Session is the identity resolved for a request. Role travels in the token
// so downstream checks need no extra store round trip.
type Session struct {
	UserID string    `json:"id"`
	Name   string    `json:"name"`
	Email  string    `json:"email"`
	Role   user.Role `json:"role"`
}

func SessionFor(u user.User) Session {
	return Session{UserID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role}
}

// Claims carries the session fields next to the registered ones. The user id
// lives in "sub" and the token id in "jti".
type Claims struct {
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email"`
	Role      user.Role `json:"role"`
	TokenType string    `json:"typ"`
	jwt.RegisteredClaims
}

func (c *Claims) Session() Session {
	return Session{UserID: c.Subject, Name: c.Name, Email: c.Email, Role: c.Role}
}

type Manager struct {
	secret     []byte
	sessionTTL time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewManager(secret string, sessionTTL time.Duration, refreshTTL time.Duration) *Manager {
	return &Manager{
		secret:     []byte(secret),
		sessionTTL: sessionTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

func (m *Manager) GenerateSessionToken(s Session) (token string, expiresAt time.Time, err error) {
	now := m.now().UTC()
	expiresAt = now.Add(m.sessionTTL)

	token, err = m.sign(s, tokenTypeSession, uuid.NewString(), now, expiresAt)
	return
}

func (m *Manager) GenerateRefreshToken(s Session) (raw string, jti string, expiresAt time.Time, err error) {
	now := m.now().UTC()
	jti = uuid.NewString()
	expiresAt = now.Add(m.refreshTTL)

	raw, err = m.sign(s, tokenTypeRefresh, jti, now, expiresAt)

	return
}

func (m *Manager) sign(s Session, typ, jti string, now, expiresAt time.Time) (string, error) {
	claims := Claims{
		Name:      s.Name,
		Email:     s.Email,
		Role:      s.Role,
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Subject:   s.UserID,
			ID:        jti,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *Manager) ParseAndValidate(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		// Enforce HS256
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifySessionToken returns the session carried by a valid, unexpired session token.
func (m *Manager) VerifySessionToken(tokenStr string) (*Session, error) {
	claims, err := m.ParseAndValidate(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != tokenTypeSession {
		return nil, ErrInvalidTokenType
	}
	if claims.Subject == "" || !claims.Role.Valid() {
		return nil, ErrInvalidToken
	}
	s := claims.Session()
	return &s, nil
}

func (m *Manager) VerifyRefreshToken(tokenStr string) (*Claims, error) {
	claims, err := m.ParseAndValidate(tokenStr)

	if err != nil {
		return nil, err
	}

	if claims.TokenType != tokenTypeRefresh {
		return nil, ErrInvalidTokenType
	}

	if claims.ID == "" {
		return nil, errors.New("missing jti")
	}

	return claims, nil
}

// Deterministic HMAC hash (server-side pepper = JWT secret bytes).
// Store this in DB (never store raw refresh token).
func (m *Manager) HashRefreshToken(raw string) string {
	h := hmac.New(sha256.New, m.secret)
	h.Write([]byte(raw))
	return hex.EncodeToString(h.Sum(nil))
}
