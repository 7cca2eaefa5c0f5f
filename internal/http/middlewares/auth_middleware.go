package middlewares

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/geocoder89/useradmin/internal/actorctx"
	"github.com/geocoder89/useradmin/internal/auth"
	"github.com/geocoder89/useradmin/internal/authz"
	"github.com/gin-gonic/gin"
)

// Keep this small interface so tests can fake it easily.
type SessionVerifier interface {
	VerifySessionToken(token string) (*auth.Session, error)
}

type AuthMiddleware struct {
	verifier SessionVerifier
}

func NewAuthMiddleware(verifier SessionVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// LoadSession resolves the session from a bearer token or the session cookie.
// It never rejects; gates further down decide what an absent session means.
func (m *AuthMiddleware) LoadSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := tokenFromRequest(c)
		if raw == "" {
			c.Next()
			return
		}

		s, err := m.verifier.VerifySessionToken(raw)
		if err != nil {
			c.Next()
			return
		}

		// Stash the session on both contexts
		c.Set(CtxSession, s)
		c.Request = c.Request.WithContext(actorctx.WithSession(c.Request.Context(), s))

		c.Next()
	}
}

func tokenFromRequest(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
	}

	cookie, err := c.Cookie(auth.SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie
}

// PageGate redirects unauthenticated requests for protected pages to /login.
func (m *AuthMiddleware) PageGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, ok := SessionFromContext(c)

		if authz.Route(c.Request.URL.Path, ok) == authz.RedirectToLogin {
			target := authz.LoginPath + "?callbackUrl=" + url.QueryEscape(c.Request.URL.RequestURI())
			c.Redirect(http.StatusFound, target)
			c.Abort()
			return
		}

		c.Next()
	}
}

func SessionFromContext(c *gin.Context) (*auth.Session, bool) {
	v, ok := c.Get(CtxSession)
	if !ok {
		return nil, false
	}
	s, ok := v.(*auth.Session)
	return s, ok && s != nil
}

func UserIDFromContext(c *gin.Context) (string, bool) {
	s, ok := SessionFromContext(c)
	if !ok || s.UserID == "" {
		return "", false
	}
	return s.UserID, true
}
