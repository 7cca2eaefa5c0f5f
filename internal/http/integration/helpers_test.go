package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/geocoder89/useradmin/internal/accounts"
	"github.com/geocoder89/useradmin/internal/auth"
	"github.com/geocoder89/useradmin/internal/config"
	"github.com/geocoder89/useradmin/internal/db"
	apphttp "github.com/geocoder89/useradmin/internal/http"
	"github.com/geocoder89/useradmin/internal/repo/memory"
	"github.com/geocoder89/useradmin/internal/security"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

func testConfig() config.Config {
	return config.Config{
		Env:          "test",
		Store:        "memory",
		MaxBodyBytes: 1 << 20,
		Auth: config.Auth{
			JWTSecret:  "test-secret-key",
			SessionTTL: time.Hour,
			RefreshTTL: 24 * time.Hour,
			BcryptCost: bcrypt.MinCost,
		},
		Security: config.Security{
			LoginRateLimit:  3,
			LoginRateWindow: time.Minute,
		},
	}
}

type testApp struct {
	router *gin.Engine
	users  *memory.UsersRepo
}

type option func(*apphttp.Deps)

func withLimiter(c *fakeCounter) option {
	return func(d *apphttp.Deps) { d.Limiter = c }
}

// setupTestRouter builds the full router over seeded in-memory stores.
func setupTestRouter(t *testing.T, opts ...option) testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := testConfig()
	users := memory.NewUsersRepo()
	refresh := memory.NewRefreshTokensRepo()
	hasher := security.NewPasswordHasher(bcrypt.MinCost)

	if _, err := db.Seed(context.Background(), users, hasher, db.DefaultAccounts); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	deps := apphttp.Deps{
		Config:   cfg,
		Accounts: accounts.NewService(users, hasher, refresh),
		JWT:      auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL, cfg.Auth.RefreshTTL),
		Refresh:  refresh,
	}
	for _, o := range opts {
		o(&deps)
	}

	router, err := apphttp.NewRouter(deps)
	if err != nil {
		t.Fatalf("router: %v", err)
	}

	return testApp{router: router, users: users}
}

// fakeCounter is a process-local stand-in for the Redis fixed-window counter.
type fakeCounter struct {
	mu   sync.Mutex
	hits map[string]int64
}

func (f *fakeCounter) Hit(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hits == nil {
		f.hits = map[string]int64{}
	}
	f.hits[key]++
	return f.hits[key], window, nil
}

// helpers

func findCookie(t *testing.T, response *http.Response, name string) *http.Cookie {
	t.Helper()

	for _, c := range response.Cookies() {
		if c.Name == name && c.Value != "" {
			return c
		}
	}

	t.Fatalf("%s cookie not found in response", name)

	return nil
}

// function that runs a request and returns a recorder and parsed response for cookies

func doRequest(router http.Handler, method, path string, body string, cookies ...*http.Cookie) (*httptest.ResponseRecorder, *http.Response) {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	for _, c := range cookies {
		req.AddCookie(c)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	return w, w.Result()
}

func mustReadJSON[T any](t *testing.T, w *httptest.ResponseRecorder, out *T) {
	t.Helper()
	err := json.Unmarshal(w.Body.Bytes(), out)
	if err != nil {
		t.Fatalf("failed to unmarshal json: %v, body=%s", err, w.Body.String())
	}
}

// login signs in through the API and returns the session cookie and refresh cookie.
func login(t *testing.T, router http.Handler, email, password string) (*http.Cookie, *http.Cookie) {
	t.Helper()

	w, response := doRequest(router, http.MethodPost, "/api/auth/login", `{"email":"`+email+`","password":"`+password+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login got status %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
	}

	return findCookie(t, response, auth.SessionCookieName), findCookie(t, response, "refresh_token")
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

var requestIDPattern = regexp.MustCompile(`"requestId":"[^"]*"`)

func stripRequestID(body string) string {
	return requestIDPattern.ReplaceAllString(body, "")
}
