package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/geocoder89/useradmin/internal/accounts"
	"github.com/geocoder89/useradmin/internal/actorctx"
	"github.com/geocoder89/useradmin/internal/authz"
	"github.com/geocoder89/useradmin/internal/config"
	"github.com/geocoder89/useradmin/internal/domain/user"
	"github.com/gin-gonic/gin"
)

const recentUsersOnDashboard = 5

// Banners on /admin/users are selected by code so a crafted link cannot put
// arbitrary text in front of an admin. Unknown codes show nothing.
var (
	userNotices = map[string]string{
		"created": "User created successfully",
		"updated": "User updated successfully",
		"deleted": "User deleted successfully",
	}
	userErrors = map[string]string{
		"not_found":   "User not found",
		"self_action": "You cannot change your own role or delete your own account",
		"last_admin":  "At least one admin account must remain",
		"failed":      "Something went wrong. Please try again.",
	}
)

// PagesHandler serves the server-rendered UI. It reuses the account service
// and the AuthHandler session helpers so pages and API share one code path.
type PagesHandler struct {
	users    UserAdmin
	accounts Authenticator
	sessions *AuthHandler
}

func NewPagesHandler(users UserAdmin, accounts Authenticator, sessions *AuthHandler) *PagesHandler {
	return &PagesHandler{users: users, accounts: accounts, sessions: sessions}
}

type userForm struct {
	Name     string `form:"name"`
	Email    string `form:"email"`
	Password string `form:"password"`
	Role     string `form:"role"`
}

func (h *PagesHandler) render(ctx *gin.Context, status int, name string, data gin.H) {
	if s, ok := actorctx.SessionFrom(ctx.Request.Context()); ok {
		data["Session"] = s
		data["IsAdmin"] = authz.IsAdmin(s)
	}
	ctx.HTML(status, name, data)
}

func (h *PagesHandler) LoginPage(ctx *gin.Context) {
	if _, ok := actorctx.SessionFrom(ctx.Request.Context()); ok {
		ctx.Redirect(http.StatusFound, "/dashboard")
		return
	}

	data := gin.H{
		"Title":       "Sign in",
		"CallbackURL": ctx.Query("callbackUrl"),
	}
	if ctx.Query("registered") != "" {
		data["Notice"] = "Account created. You can sign in now."
	}
	h.render(ctx, http.StatusOK, "login.html", data)
}

func (h *PagesHandler) Login(ctx *gin.Context) {
	email := ctx.PostForm("email")
	callback := ctx.PostForm("callbackUrl")

	cctx, cancel := config.RequestTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	u, err := h.sessions.SignIn(cctx, email, ctx.PostForm("password"))
	if err != nil {
		msg := "Something went wrong. Please try again."
		status := http.StatusInternalServerError
		if errors.Is(err, user.ErrInvalidCredentials) {
			msg = "Invalid email or password"
			status = http.StatusUnauthorized
		}
		h.render(ctx, status, "login.html", gin.H{
			"Title":       "Sign in",
			"Error":       msg,
			"Email":       email,
			"CallbackURL": callback,
		})
		return
	}

	if _, _, err := h.sessions.StartSession(cctx, ctx, u); err != nil {
		h.render(ctx, http.StatusInternalServerError, "login.html", gin.H{
			"Title": "Sign in",
			"Error": "Could not create session",
			"Email": email,
		})
		return
	}

	ctx.Redirect(http.StatusSeeOther, landingFor(u.Role, callback))
}

func (h *PagesHandler) RegisterPage(ctx *gin.Context) {
	h.render(ctx, http.StatusOK, "register.html", gin.H{"Title": "Register"})
}

func (h *PagesHandler) Register(ctx *gin.Context) {
	name := ctx.PostForm("name")
	email := ctx.PostForm("email")
	password := ctx.PostForm("password")

	fail := func(status int, msg string) {
		h.render(ctx, status, "register.html", gin.H{
			"Title": "Register",
			"Error": msg,
			"Name":  name,
			"Email": email,
		})
	}

	if password != ctx.PostForm("confirmPassword") {
		fail(http.StatusBadRequest, "Passwords do not match")
		return
	}

	cctx, cancel := config.RequestTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	_, err := h.accounts.Register(cctx, accounts.RegisterInput{Name: name, Email: email, Password: password})
	if err != nil {
		status, msg := pageError(ctx, err)
		fail(status, msg)
		return
	}

	ctx.Redirect(http.StatusSeeOther, "/login?registered=1")
}

func (h *PagesHandler) Logout(ctx *gin.Context) {
	h.sessions.EndSession(ctx)
	ctx.Redirect(http.StatusSeeOther, authz.LoginPath)
}

func (h *PagesHandler) Dashboard(ctx *gin.Context) {
	h.render(ctx, http.StatusOK, "dashboard.html", gin.H{"Title": "Dashboard"})
}

// AdminOnly sends signed-in non-admins back to their dashboard.
func (h *PagesHandler) AdminOnly() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		s, _ := actorctx.SessionFrom(ctx.Request.Context())

		err := authz.Require(s, user.RoleAdmin)
		switch {
		case errors.Is(err, authz.ErrUnauthenticated):
			ctx.Redirect(http.StatusFound, authz.LoginPath)
			ctx.Abort()
			return
		case err != nil:
			ctx.Redirect(http.StatusFound, "/dashboard")
			ctx.Abort()
			return
		}
		ctx.Next()
	}
}

func (h *PagesHandler) AdminHome(ctx *gin.Context) {
	cctx, cancel := config.RequestTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	a := actor(ctx)

	stats, err := h.users.Stats(cctx, a)
	if err != nil {
		h.renderFailure(ctx, err)
		return
	}

	recent, err := h.users.List(cctx, a, accounts.ListParams{Page: 1, Limit: recentUsersOnDashboard})
	if err != nil {
		h.renderFailure(ctx, err)
		return
	}

	h.render(ctx, http.StatusOK, "admin.html", gin.H{
		"Title":  "Admin",
		"Stats":  stats,
		"Recent": recent.Users,
	})
}

func (h *PagesHandler) UsersPage(ctx *gin.Context) {
	page, err := parseIntDefault(ctx.Query("page"), 0)
	if err != nil {
		page = accounts.DefaultPage
	}
	search := ctx.Query("search")

	cctx, cancel := config.RequestTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	result, err := h.users.List(cctx, actor(ctx), accounts.ListParams{Page: page, Search: search})
	if err != nil {
		h.renderFailure(ctx, err)
		return
	}

	data := gin.H{
		"Title":      "Users",
		"Users":      result.Users,
		"Pagination": result.Pagination,
		"Search":     search,
	}
	if msg, ok := userNotices[ctx.Query("notice")]; ok {
		data["Notice"] = msg
	}
	if msg, ok := userErrors[ctx.Query("error")]; ok {
		data["Error"] = msg
	}
	h.render(ctx, http.StatusOK, "users.html", data)
}

func (h *PagesHandler) CreateUserPage(ctx *gin.Context) {
	h.renderUserForm(ctx, http.StatusOK, "", userForm{Role: string(user.RoleUser)}, "")
}

func (h *PagesHandler) CreateUser(ctx *gin.Context) {
	var form userForm
	_ = ctx.ShouldBind(&form)

	cctx, cancel := config.RequestTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	_, err := h.users.Create(cctx, actor(ctx), accounts.CreateInput{
		Name:     form.Name,
		Email:    form.Email,
		Password: form.Password,
		Role:     form.Role,
	})
	if err != nil {
		status, msg := pageError(ctx, err)
		form.Password = ""
		h.renderUserForm(ctx, status, "", form, msg)
		return
	}

	redirectToUsers(ctx, "notice", "created")
}

func (h *PagesHandler) EditUserPage(ctx *gin.Context) {
	id := ctx.Param("id")

	cctx, cancel := config.RequestTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	u, err := h.users.Get(cctx, actor(ctx), id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			redirectToUsers(ctx, "error", "not_found")
			return
		}
		h.renderFailure(ctx, err)
		return
	}

	h.renderUserForm(ctx, http.StatusOK, id, userForm{Name: u.Name, Email: u.Email, Role: string(u.Role)}, "")
}

func (h *PagesHandler) EditUser(ctx *gin.Context) {
	id := ctx.Param("id")

	var form userForm
	_ = ctx.ShouldBind(&form)

	cctx, cancel := config.RequestTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	_, err := h.users.Update(cctx, actor(ctx), id, accounts.UpdateInput{
		Name:     form.Name,
		Email:    form.Email,
		Role:     form.Role,
		Password: form.Password,
	})
	if err != nil {
		status, msg := pageError(ctx, err)
		form.Password = ""
		h.renderUserForm(ctx, status, id, form, msg)
		return
	}

	redirectToUsers(ctx, "notice", "updated")
}

func (h *PagesHandler) DeleteUser(ctx *gin.Context) {
	cctx, cancel := config.RequestTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	if err := h.users.Delete(cctx, actor(ctx), ctx.Param("id")); err != nil {
		redirectToUsers(ctx, "error", errorCode(ctx, err))
		return
	}

	redirectToUsers(ctx, "notice", "deleted")
}

func (h *PagesHandler) renderUserForm(ctx *gin.Context, status int, id string, form userForm, errMsg string) {
	data := gin.H{
		"Title":   "Create New User",
		"Action":  "/admin/users/create",
		"Form":    form,
		"Editing": id != "",
	}
	if id != "" {
		data["Title"] = "Edit User"
		data["Action"] = "/admin/users/" + url.PathEscape(id) + "/edit"
	}
	if errMsg != "" {
		data["Error"] = errMsg
	}
	h.render(ctx, status, "user_form.html", data)
}

func (h *PagesHandler) renderFailure(ctx *gin.Context, err error) {
	status, msg := pageError(ctx, err)
	h.render(ctx, status, "dashboard.html", gin.H{"Title": "Error", "Error": msg})
}

// pageError turns a service error into a status and the message shown on the page.
func pageError(ctx *gin.Context, err error) (int, string) {
	var validationErr *user.ValidationError

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, validationErr.Error()
	case errors.Is(err, user.ErrDuplicateEmail):
		return http.StatusBadRequest, "User already exists"
	case errors.Is(err, user.ErrSelfAction), errors.Is(err, user.ErrLastAdmin):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, user.ErrNotFound):
		return http.StatusNotFound, "User not found"
	case errors.Is(err, authz.ErrUnauthenticated), errors.Is(err, authz.ErrForbidden):
		return http.StatusUnauthorized, "Unauthorized"
	default:
		slog.Default().ErrorContext(ctx.Request.Context(), "page request failed", "err", err, "path", ctx.Request.URL.Path, "request_id", requestIDFrom(ctx))
		return http.StatusInternalServerError, "Something went wrong. Please try again."
	}
}

func redirectToUsers(ctx *gin.Context, key, code string) {
	ctx.Redirect(http.StatusSeeOther, "/admin/users?"+url.Values{key: {code}}.Encode())
}

// errorCode picks the userErrors entry for a failed delete.
func errorCode(ctx *gin.Context, err error) string {
	switch {
	case errors.Is(err, user.ErrNotFound):
		return "not_found"
	case errors.Is(err, user.ErrSelfAction):
		return "self_action"
	case errors.Is(err, user.ErrLastAdmin):
		return "last_admin"
	default:
		pageError(ctx, err)
		return "failed"
	}
}

// landingFor honours a local callback path and otherwise sends admins to /admin.
func landingFor(role user.Role, callback string) string {
	if strings.HasPrefix(callback, "/") && !strings.HasPrefix(callback, "//") && !strings.HasPrefix(callback, "/\\") {
		return callback
	}
	if role == user.RoleAdmin {
		return "/admin"
	}
	return "/dashboard"
}
