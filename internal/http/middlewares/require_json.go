package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireJSON rejects API writes whose body is not JSON. Bodyless writes such
// as logout and token refresh pass through.
func RequireJSON() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
		default:
			c.Next()
			return
		}

		if c.Request.ContentLength == 0 || c.ContentType() == gin.MIMEJSON {
			c.Next()
			return
		}

		c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, gin.H{
			"error": gin.H{
				"code":      "unsupported_media_type",
				"message":   "Content-Type must be application/json",
				"requestId": c.GetString(CtxRequestID),
			},
		})
	}
}
