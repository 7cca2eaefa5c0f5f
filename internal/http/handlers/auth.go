package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/geocoder89/useradmin/internal/accounts"
	"github.com/geocoder89/useradmin/internal/actorctx"
	"github.com/geocoder89/useradmin/internal/auth"
	"github.com/geocoder89/useradmin/internal/config"
	"github.com/geocoder89/useradmin/internal/domain/session"
	"github.com/geocoder89/useradmin/internal/domain/user"
	"github.com/gin-gonic/gin"
)

const refreshCookieName = "refresh_token"

type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (user.User, error)
	Register(ctx context.Context, in accounts.RegisterInput) (user.User, error)
	Current(ctx context.Context, id string) (user.User, error)
}

type RefreshTokenStore interface {
	Create(ctx context.Context, t session.RefreshToken) error
	Rotate(ctx context.Context, oldID, presentedHash string, next session.RefreshToken) (session.RefreshToken, error)
	Revoke(ctx context.Context, id string) error
}

// LoginRecorder counts login outcomes; *observability.Prom satisfies it.
type LoginRecorder interface {
	ObserveLogin(result string)
}

type AuthHandler struct {
	accounts      Authenticator
	jwt           *auth.Manager
	refreshStore  RefreshTokenStore
	metrics       LoginRecorder
	secureCookies bool
}

func NewAuthHandler(accounts Authenticator, jwtManager *auth.Manager, refreshStore RefreshTokenStore, metrics LoginRecorder, cfg config.Config) *AuthHandler {
	return &AuthHandler{
		accounts:      accounts,
		jwt:           jwtManager,
		refreshStore:  refreshStore,
		metrics:       metrics,
		secureCookies: cfg.IsProd(),
	}
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}
	// short timeout for DB lookup
	cctx, cancel := config.RequestTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	u, err := h.SignIn(cctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, user.ErrInvalidCredentials) {
			RespondUnauthorized(ctx, "invalid_credentials", "Invalid email or password")
			return
		}
		RespondServiceError(ctx, err, "Could not sign in")
		return
	}

	token, expiresAt, err := h.StartSession(cctx, ctx, u)
	if err != nil {
		RespondServiceError(ctx, err, "Could not create session")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"user":         u.Public(),
		"sessionToken": token,
		"expiresAt":    expiresAt,
	})
}

func (h *AuthHandler) Register(ctx *gin.Context) {
	var req RegisterRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.RequestTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	u, err := h.accounts.Register(cctx, accounts.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		RespondServiceError(ctx, err, "Could not create user")
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"message": "User created successfully",
		"user":    u.Public(),
	})
}

// Refresh rotates the refresh token and issues a new session token built from
// the stored account, so name, email and role changes show up at the next
// refresh.
func (h *AuthHandler) Refresh(ctx *gin.Context) {
	raw, err := ctx.Cookie(refreshCookieName)

	if err != nil || raw == "" {
		RespondUnauthorized(ctx, "no_refresh", "Missing refresh token")
		return
	}

	claims, err := h.jwt.VerifyRefreshToken(raw)

	if err != nil {
		RespondUnauthorized(ctx, "invalid_refresh", "Invalid refresh token")
		return
	}

	cctx, cancel := config.RequestTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	u, err := h.accounts.Current(cctx, claims.Subject)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			_ = h.refreshStore.Revoke(cctx, claims.ID)
			h.clearCookies(ctx)
			RespondUnauthorized(ctx, "invalid_refresh", "Invalid refresh token")
			return
		}
		RespondServiceError(ctx, err, "Could not refresh session")
		return
	}
	s := auth.SessionFor(u)

	newRaw, newJTI, newExpiresAt, err := h.jwt.GenerateRefreshToken(s)
	if err != nil {
		RespondInternal(ctx, "Could not refresh session")
		return
	}

	_, err = h.refreshStore.Rotate(cctx, claims.ID, h.jwt.HashRefreshToken(raw), session.RefreshToken{
		ID:        newJTI,
		UserID:    s.UserID,
		TokenHash: h.jwt.HashRefreshToken(newRaw),
		ExpiresAt: newExpiresAt,
		CreatedAt: time.Now().UTC(),
	})

	switch {
	case err == nil:
	case errors.Is(err, session.ErrRefreshExpired):
		h.clearCookies(ctx)
		RespondUnauthorized(ctx, "expired_refresh", "Refresh token expired")
		return
	case errors.Is(err, session.ErrRefreshNotFound),
		errors.Is(err, session.ErrRefreshRevoked),
		errors.Is(err, session.ErrRefreshMismatch):
		h.clearCookies(ctx)
		RespondUnauthorized(ctx, "invalid_refresh", "Invalid refresh token")
		return
	default:
		RespondServiceError(ctx, err, "Could not refresh session")
		return
	}

	token, expiresAt, err := h.jwt.GenerateSessionToken(s)
	if err != nil {
		RespondInternal(ctx, "Could not generate session token")
		return
	}

	h.setCookie(ctx, auth.SessionCookieName, token, "/", expiresAt)
	h.setCookie(ctx, refreshCookieName, newRaw, "/", newExpiresAt)

	ctx.JSON(http.StatusOK, gin.H{
		"sessionToken": token,
		"expiresAt":    expiresAt,
	})
}

func (h *AuthHandler) Logout(ctx *gin.Context) {
	h.EndSession(ctx)
	ctx.Status(http.StatusNoContent)
}

// Session reports the identity attached to the request, or 401.
func (h *AuthHandler) Session(ctx *gin.Context) {
	s, ok := actorctx.SessionFrom(ctx.Request.Context())
	if !ok {
		RespondUnauthorized(ctx, "unauthorized", "Unauthorized")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"user": s})
}

// SignIn checks credentials and records the outcome.
func (h *AuthHandler) SignIn(ctx context.Context, email, password string) (user.User, error) {
	u, err := h.accounts.Authenticate(ctx, email, password)

	switch {
	case err == nil:
		h.observe("success")
	case errors.Is(err, user.ErrInvalidCredentials):
		h.observe("invalid")
	default:
		h.observe("error")
	}

	return u, err
}

// StartSession issues the session and refresh tokens for u and sets both cookies.
func (h *AuthHandler) StartSession(cctx context.Context, ctx *gin.Context, u user.User) (string, time.Time, error) {
	s := auth.SessionFor(u)

	token, expiresAt, err := h.jwt.GenerateSessionToken(s)
	if err != nil {
		return "", time.Time{}, err
	}

	rawRefresh, jti, refreshExpiresAt, err := h.jwt.GenerateRefreshToken(s)
	if err != nil {
		return "", time.Time{}, err
	}

	err = h.refreshStore.Create(cctx, session.RefreshToken{
		ID:        jti,
		UserID:    u.ID,
		TokenHash: h.jwt.HashRefreshToken(rawRefresh),
		ExpiresAt: refreshExpiresAt,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return "", time.Time{}, err
	}

	h.setCookie(ctx, auth.SessionCookieName, token, "/", expiresAt)
	h.setCookie(ctx, refreshCookieName, rawRefresh, "/", refreshExpiresAt)

	return token, expiresAt, nil
}

// EndSession revokes the presented refresh token, if any, and clears both cookies.
func (h *AuthHandler) EndSession(ctx *gin.Context) {
	defer h.clearCookies(ctx)

	raw, err := ctx.Cookie(refreshCookieName)
	if err != nil || raw == "" {
		return
	}

	claims, err := h.jwt.VerifyRefreshToken(raw)
	if err != nil {
		return
	}

	cctx, cancel := config.RequestTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	// revoke that one token (idempotent)
	_ = h.refreshStore.Revoke(cctx, claims.ID)
}

func (h *AuthHandler) observe(result string) {
	if h.metrics != nil {
		h.metrics.ObserveLogin(result)
	}
}

// Helper functions

func (h *AuthHandler) setCookie(ctx *gin.Context, name, value, path string, expiresAt time.Time) {
	maxAge := int(time.Until(expiresAt).Seconds())

	ctx.SetSameSite(http.SameSiteLaxMode)

	ctx.SetCookie(
		name,
		value,
		maxAge,
		path,
		"",
		h.secureCookies,
		true, // HttpOnly.
	)
}

func (h *AuthHandler) clearCookies(ctx *gin.Context) {
	ctx.SetSameSite(http.SameSiteLaxMode)
	ctx.SetCookie(auth.SessionCookieName, "", -1, "/", "", h.secureCookies, true)
	ctx.SetCookie(refreshCookieName, "", -1, "/", "", h.secureCookies, true)
}
