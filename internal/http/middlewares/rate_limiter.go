package middlewares

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// HitCounter is a shared fixed-window counter; redisclient.Client implements it.
type HitCounter interface {
	Hit(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
}

type RateLimiter struct {
	counter HitCounter
	prefix  string
	window  time.Duration
	limit   int
	// OnLimited, when set, is told about every rejected request.
	OnLimited func()
}

func NewRateLimiter(counter HitCounter, prefix string, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		counter: counter,
		prefix:  prefix,
		limit:   limit,
		window:  window,
	}
}

// Middleware returns a gin.HandlerFunc that enforces rate limit for a derived key.
// Counter failures let the request through.
func (rl *RateLimiter) RateLimiterMiddleware(keyFn func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFn(c)

		if key == "" {
			// fallback to IP if key cannot be derived
			key = clientIP(c)
		}

		count, ttl, err := rl.counter.Hit(c.Request.Context(), "ratelimit:"+rl.prefix+":"+key, rl.window)
		if err != nil {
			slog.Default().WarnContext(c.Request.Context(), "rate limiter unavailable", "err", err)
			c.Next()
			return
		}

		if count > int64(rl.limit) {
			retryAfter := int(math.Ceil(ttl.Seconds()))

			if retryAfter < 0 {
				retryAfter = 0
			}

			if rl.OnLimited != nil {
				rl.OnLimited()
			}

			c.Header("Retry-After", strconv.Itoa(retryAfter))

			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"code":    "rate_limited",
					"message": "Too many requests. Please try again shortly.",
				},
			})

			return
		}

		c.Next()
	}
}

// for unauthenticated endpoints: rate limit by IP
func KeyByIP(c *gin.Context) string {
	return clientIP(c)
}

func clientIP(c *gin.Context) string {
	// Gin's ClientIP respects X-Forwarded-For / X-Real-IP if configured.
	ip := c.ClientIP()

	host, _, err := net.SplitHostPort(ip)

	if err == nil && host != "" {
		return host
	}

	return ip
}
