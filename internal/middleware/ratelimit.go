package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/response"
)

// RateLimiter is a fixed-window per-IP limiter backed by Redis, so every
// replica shares one budget per client.
type RateLimiter struct {
	rdb    *redis.Client
	rate   int           // Requests per window
	window time.Duration // Window length
	now    func() time.Time
}

// NewRateLimiter creates a RateLimiter (e.g., 120 requests per minute).
func NewRateLimiter(rdb *redis.Client, rate int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		rdb:    rdb,
		rate:   rate,
		window: window,
		now:    time.Now,
	}
}

// Middleware returns a Gin middleware that rate-limits requests by IP.
// Redis failures let the request through.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.rate <= 0 {
			c.Next()
			return
		}

		windowID := rl.now().UnixNano() / int64(rl.window)
		key := config.CacheKey.RateLimitKey(c.ClientIP(), windowID)
		ctx := c.Request.Context()

		pipe := rl.rdb.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, rl.window)
		if _, err := pipe.Exec(ctx); err != nil {
			log.Warn().Err(err).Str("component", "rate_limiter").Msg("Rate limit check failed")
			c.Next()
			return
		}

		count := int(incr.Val())
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.rate))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(max(rl.rate-count, 0)))

		if count > rl.rate {
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}
