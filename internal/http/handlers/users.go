package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/geocoder89/useradmin/internal/accounts"
	"github.com/geocoder89/useradmin/internal/actorctx"
	"github.com/geocoder89/useradmin/internal/auth"
	"github.com/geocoder89/useradmin/internal/config"
	"github.com/geocoder89/useradmin/internal/domain/user"
	"github.com/gin-gonic/gin"
)

// UserAdmin is the admin-only surface of the account service.
type UserAdmin interface {
	List(ctx context.Context, actor *auth.Session, p accounts.ListParams) (accounts.Page, error)
	Get(ctx context.Context, actor *auth.Session, id string) (user.User, error)
	Create(ctx context.Context, actor *auth.Session, in accounts.CreateInput) (user.User, error)
	Update(ctx context.Context, actor *auth.Session, id string, in accounts.UpdateInput) (user.User, error)
	Delete(ctx context.Context, actor *auth.Session, id string) error
	Stats(ctx context.Context, actor *auth.Session) (user.Stats, error)
}

type UsersHandler struct {
	users UserAdmin
}

func NewUsersHandler(users UserAdmin) *UsersHandler {
	return &UsersHandler{users: users}
}

type CreateUserRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Role     string `json:"role" binding:"required,oneof=USER ADMIN"`
}

type UpdateUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email" binding:"required,email"`
	Role     string `json:"role" binding:"required,oneof=USER ADMIN"`
	Password string `json:"password" binding:"omitempty,min=6"`
}

type listUsersResponse struct {
	Users      []user.Public       `json:"users"`
	Pagination accounts.Pagination `json:"pagination"`
}

func (h *UsersHandler) ListUsers(ctx *gin.Context) {
	page, err := parseIntDefault(ctx.Query("page"), 0)
	if err != nil {
		RespondBadRequest(ctx, "page must be a positive integer", gin.H{"field": "page"})
		return
	}

	limit, err := parseIntDefault(ctx.Query("limit"), 0)
	if err != nil {
		RespondBadRequest(ctx, "limit must be a positive integer", gin.H{"field": "limit"})
		return
	}

	cctx, cancel := config.RequestTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	result, err := h.users.List(cctx, actor(ctx), accounts.ListParams{
		Page:   page,
		Limit:  limit,
		Search: ctx.Query("search"),
	})
	if err != nil {
		RespondServiceError(ctx, err, "Failed to fetch users")
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, listUsersResponse{
		Users:      user.PublicList(result.Users),
		Pagination: result.Pagination,
	})
}

func (h *UsersHandler) CreateUser(ctx *gin.Context) {
	var req CreateUserRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.RequestTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	u, err := h.users.Create(cctx, actor(ctx), accounts.CreateInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		RespondServiceError(ctx, err, "Failed to create user")
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"message": "User created successfully",
		"user":    u.Public(),
	})
}

func (h *UsersHandler) GetUser(ctx *gin.Context) {
	cctx, cancel := config.RequestTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	u, err := h.users.Get(cctx, actor(ctx), ctx.Param("id"))
	if err != nil {
		RespondServiceError(ctx, err, "Failed to fetch user")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"user": u.Public()})
}

func (h *UsersHandler) UpdateUser(ctx *gin.Context) {
	var req UpdateUserRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.RequestTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	u, err := h.users.Update(cctx, actor(ctx), ctx.Param("id"), accounts.UpdateInput{
		Name:     req.Name,
		Email:    req.Email,
		Role:     req.Role,
		Password: req.Password,
	})
	if err != nil {
		RespondServiceError(ctx, err, "Failed to update user")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message": "User updated successfully",
		"user":    u.Public(),
	})
}

func (h *UsersHandler) DeleteUser(ctx *gin.Context) {
	cctx, cancel := config.RequestTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	if err := h.users.Delete(cctx, actor(ctx), ctx.Param("id")); err != nil {
		RespondServiceError(ctx, err, "Failed to delete user")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "User deleted successfully"})
}

func (h *UsersHandler) Stats(ctx *gin.Context) {
	cctx, cancel := config.RequestTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	stats, err := h.users.Stats(cctx, actor(ctx))
	if err != nil {
		RespondServiceError(ctx, err, "Failed to fetch stats")
		return
	}

	ctx.JSON(http.StatusOK, stats)
}

// actor returns the request's session or nil; the service rejects nil.
func actor(ctx *gin.Context) *auth.Session {
	s, _ := actorctx.SessionFrom(ctx.Request.Context())
	return s
}

// parseIntDefault returns def for an empty value and an error for anything
// that is not a positive integer.
func parseIntDefault(raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
