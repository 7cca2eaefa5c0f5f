package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/geocoder89/useradmin/internal/authz"
	"github.com/geocoder89/useradmin/internal/domain/user"
	"github.com/gin-gonic/gin"
)

type APIError struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	RequestID string      `json:"requestId,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

func requestIDFrom(ctx *gin.Context) string {
	v, ok := ctx.Get("request_id")

	if ok {
		s, ok := v.(string)
		if ok && s != "" {
			return s
		}
	}

	// fallback header
	return ctx.GetHeader("X-Request-Id")
}

func RespondError(ctx *gin.Context, status int, code, message string, details interface{}) {
	ctx.JSON(status, gin.H{
		"error": APIError{
			Code:      code,
			Message:   message,
			RequestID: requestIDFrom(ctx),
			Details:   details,
		},
	})
}

func RespondBadRequest(ctx *gin.Context, message string, details interface{}) {
	RespondError(ctx, http.StatusBadRequest, "invalid_request", message, details)
}

func RespondNotFound(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusNotFound, "not_found", message, nil)
}

func RespondInternal(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusInternalServerError, "internal_error", message, nil)
}

func RespondUnauthorized(ctx *gin.Context, code, message string) {
	RespondError(ctx, http.StatusUnauthorized, code, message, nil)
}

// RespondServiceError maps account and authorization errors onto the JSON envelope.
// Anything unrecognised is logged and reported as a generic 500.
func RespondServiceError(ctx *gin.Context, err error, fallback string) {
	var validationErr *user.ValidationError

	switch {
	case errors.As(err, &validationErr):
		RespondBadRequest(ctx, validationErr.Error(), gin.H{"field": validationErr.Field})
	case errors.Is(err, user.ErrDuplicateEmail):
		RespondError(ctx, http.StatusBadRequest, "email_taken", "User already exists", nil)
	case errors.Is(err, user.ErrSelfAction), errors.Is(err, user.ErrLastAdmin):
		RespondBadRequest(ctx, err.Error(), nil)
	case errors.Is(err, user.ErrNotFound):
		RespondNotFound(ctx, "User not found")
	case errors.Is(err, authz.ErrUnauthenticated), errors.Is(err, authz.ErrForbidden):
		RespondUnauthorized(ctx, "unauthorized", "Unauthorized")
	default:
		slog.Default().ErrorContext(ctx.Request.Context(), fallback, "err", err, "request_id", requestIDFrom(ctx))
		RespondInternal(ctx, fallback)
	}
}
