package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mongo-signup/server/internal/ratelimit"
)

// RateLimitMessage is returned with 429 responses.
const RateLimitMessage = "Too many requests, please try again later."

// RateLimit caps requests per client address. Store failures let the request
// through and are logged. onReject, if non-nil, is called for every refusal.
func RateLimit(l *ratelimit.Limiter, logger zerolog.Logger, onReject func()) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()

		res, err := l.Allow(c.Request.Context(), key)
		if err != nil {
			logger.Warn().Err(err).Str("key", key).Msg("rate limiter unavailable, allowing request")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

		if !res.Allowed {
			retry := int(math.Ceil(res.RetryAfter(time.Now()).Seconds()))
			c.Header("Retry-After", strconv.Itoa(retry))
			if onReject != nil {
				onReject()
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"message": RateLimitMessage,
			})
			return
		}

		c.Next()
	}
}
