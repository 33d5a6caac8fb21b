package http

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/ordbok/core"
	"github.com/layer-3/ordbok/service"
)

// IETF draft rate limit headers
const (
	HeaderRateLimitLimit     = "RateLimit-Limit"
	HeaderRateLimitRemaining = "RateLimit-Remaining"
	HeaderRateLimitReset     = "RateLimit-Reset"
)

// RateLimitMiddleware counts every request from the client IP against tier
func RateLimitMiddleware(limiter *service.RateLimiter, tier core.Tier) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision, err := limiter.Allow(c.Request.Context(), tier, c.ClientIP())
		if err != nil {
			abortWithError(c, err)
			return
		}

		reset := secondsUntil(decision.ResetAt)
		c.Header(HeaderRateLimitLimit, strconv.FormatInt(decision.Limit, 10))
		c.Header(HeaderRateLimitRemaining, strconv.FormatInt(decision.Remaining, 10))
		c.Header(HeaderRateLimitReset, strconv.FormatInt(reset, 10))

		if !decision.Allowed {
			c.Header("Retry-After", strconv.FormatInt(reset, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "Too many requests, please try again later",
				"code":       CodeRateLimited,
				"retryAfter": reset,
			})
			return
		}

		c.Next()
	}
}

func secondsUntil(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	d := time.Until(t)
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}
