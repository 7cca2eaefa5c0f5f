package middlewares

import (
	"net/http"

	"github.com/geocoder89/useradmin/internal/authz"
	"github.com/geocoder89/useradmin/internal/domain/user"
	"github.com/gin-gonic/gin"
)

// RequireRole gates API routes. Missing and insufficient sessions both get 401
// so the API does not reveal whether a session exists.
func (m *AuthMiddleware) RequireRole(required user.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, _ := SessionFromContext(c)

		if err := authz.Require(s, required); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "unauthorized",
					"message": "Unauthorized",
				},
			})
			return
		}
		c.Next()
	}
}
