package integration_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/geocoder89/useradmin/internal/auth"
)

func postForm(router http.Handler, path string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return serve(router, req)
}

func TestPages_GateRedirectsAnonymousVisitors(t *testing.T) {
	app := setupTestRouter(t)

	for _, path := range []string{"/dashboard", "/admin", "/admin/users", "/admin/users/create"} {
		w, _ := doRequest(app.router, http.MethodGet, path, "")
		if w.Code != http.StatusFound {
			t.Fatalf("GET %s got %d, want %d", path, w.Code, http.StatusFound)
		}
		loc := w.Header().Get("Location")
		if !strings.HasPrefix(loc, "/login") {
			t.Fatalf("GET %s redirected to %q, want /login", path, loc)
		}
	}

	for _, path := range []string{"/login", "/register"} {
		w, _ := doRequest(app.router, http.MethodGet, path, "")
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s got %d, want %d", path, w.Code, http.StatusOK)
		}
	}
}

func TestPages_LoginFormAndRoleRouting(t *testing.T) {
	app := setupTestRouter(t)

	w := postForm(app.router, "/login", url.Values{"email": {"admin@example.com"}, "password": {"nope"}})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad login got %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if !strings.Contains(w.Body.String(), "Invalid email or password") {
		t.Fatalf("bad login should render the error message")
	}

	w = postForm(app.router, "/login", url.Values{"email": {"user@example.com"}, "password": {"user123"}})
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/dashboard" {
		t.Fatalf("user login got %d -> %q", w.Code, w.Header().Get("Location"))
	}
	userSession := findCookie(t, w.Result(), auth.SessionCookieName)

	w, _ = doRequest(app.router, http.MethodGet, "/dashboard", "", userSession)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Test User") {
		t.Fatalf("dashboard got %d", w.Code)
	}

	// a signed-in USER is sent back to the dashboard from admin pages
	w, _ = doRequest(app.router, http.MethodGet, "/admin/users", "", userSession)
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/dashboard" {
		t.Fatalf("user on admin page got %d -> %q", w.Code, w.Header().Get("Location"))
	}

	// open redirects are ignored
	w = postForm(app.router, "/login", url.Values{"email": {"admin@example.com"}, "password": {"admin123"}, "callbackUrl": {"//evil.example"}})
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/admin" {
		t.Fatalf("admin login got %d -> %q", w.Code, w.Header().Get("Location"))
	}
}

func TestPages_AdminManagesUsers(t *testing.T) {
	app := setupTestRouter(t)
	admin, _ := login(t, app.router, "admin@example.com", "admin123")

	w, _ := doRequest(app.router, http.MethodGet, "/admin", "", admin)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Total Users") {
		t.Fatalf("admin home got %d", w.Code)
	}

	w = postForm(app.router, "/admin/users/create", url.Values{
		"name": {"Form User"}, "email": {"form@example.com"}, "password": {"secret1"}, "role": {"USER"},
	}, admin)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("create form got %d, body=%s", w.Code, w.Body.String())
	}
	created := w.Header().Get("Location")
	w, _ = doRequest(app.router, http.MethodGet, created, "", admin)
	if !strings.Contains(w.Body.String(), "User created successfully") {
		t.Fatalf("redirect %q should show the created notice", created)
	}

	// duplicate shows the message on the form
	w = postForm(app.router, "/admin/users/create", url.Values{
		"name": {"Form User"}, "email": {"form@example.com"}, "password": {"secret1"}, "role": {"USER"},
	}, admin)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "User already exists") {
		t.Fatalf("duplicate create form got %d", w.Code)
	}

	w, _ = doRequest(app.router, http.MethodGet, "/admin/users?search=form", "", admin)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "form@example.com") {
		t.Fatalf("users page got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "user@example.com") {
		t.Fatalf("search should filter the list")
	}
}

func TestPages_RegisterAndLogout(t *testing.T) {
	app := setupTestRouter(t)

	w := postForm(app.router, "/register", url.Values{
		"name": {"New"}, "email": {"new@example.com"}, "password": {"secret1"}, "confirmPassword": {"other1"},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("mismatched passwords got %d", w.Code)
	}

	w = postForm(app.router, "/register", url.Values{
		"name": {"New"}, "email": {"new@example.com"}, "password": {"secret1"}, "confirmPassword": {"secret1"},
	})
	if w.Code != http.StatusSeeOther {
		t.Fatalf("register got %d, body=%s", w.Code, w.Body.String())
	}

	session, refresh := login(t, app.router, "new@example.com", "secret1")

	w = postForm(app.router, "/logout", url.Values{}, session, refresh)
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/login" {
		t.Fatalf("logout got %d -> %q", w.Code, w.Header().Get("Location"))
	}

	// the refresh token was revoked by the page logout
	rw, _ := doRequest(app.router, http.MethodPost, "/api/auth/refresh", "", refresh)
	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout got %d", rw.Code)
	}
}

func TestPages_UsersBannerOnlyShowsKnownMessages(t *testing.T) {
	app := setupTestRouter(t)
	admin, _ := login(t, app.router, "admin@example.com", "admin123")

	w, _ := doRequest(app.router, http.MethodGet, "/admin/users?notice=Your+account+is+locked&error=Call+555-0100", "", admin)
	if w.Code != http.StatusOK {
		t.Fatalf("users page got %d", w.Code)
	}
	body := w.Body.String()
	if strings.Contains(body, "Your account is locked") || strings.Contains(body, "Call 555-0100") {
		t.Fatalf("query text must not reach the banner")
	}

	// deleting yourself redirects with a code that maps to a fixed message
	adminUser, err := app.users.GetByEmail(context.Background(), "admin@example.com")
	if err != nil {
		t.Fatalf("lookup admin: %v", err)
	}
	w = postForm(app.router, "/admin/users/"+adminUser.ID+"/delete", url.Values{}, admin)
	loc := w.Header().Get("Location")
	if w.Code != http.StatusSeeOther || loc != "/admin/users?error=self_action" {
		t.Fatalf("self delete got %d -> %q", w.Code, loc)
	}
	w, _ = doRequest(app.router, http.MethodGet, loc, "", admin)
	if !strings.Contains(w.Body.String(), "You cannot change your own role or delete your own account") {
		t.Fatalf("self delete banner missing")
	}
}

func TestPages_AdminNavFollowsRole(t *testing.T) {
	app := setupTestRouter(t)
	admin, _ := login(t, app.router, "admin@example.com", "admin123")
	regular, _ := login(t, app.router, "user@example.com", "user123")

	w, _ := doRequest(app.router, http.MethodGet, "/dashboard", "", admin)
	if !strings.Contains(w.Body.String(), `href="/admin/users"`) {
		t.Fatalf("admin dashboard should link to the users page")
	}

	w, _ = doRequest(app.router, http.MethodGet, "/dashboard", "", regular)
	if strings.Contains(w.Body.String(), `href="/admin/users"`) {
		t.Fatalf("user dashboard must not link to admin pages")
	}
}
