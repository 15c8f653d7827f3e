package middlewares

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter is RateLimiter's distributed counterpart: the fixed
// window lives in Redis instead of process memory, so every API
// replica enforces the same cap on a connector module's burst rate
// (§6) instead of each instance giving it its own private allowance.
type RedisRateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

func NewRedisRateLimiter(client *redis.Client, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, limit: limit, window: window}
}

// RateLimiterMiddleware mirrors RateLimiter's signature so call sites
// can swap between the in-memory and Redis-backed limiter freely. A
// Redis failure fails open rather than blocking every ingest call on a
// cache outage.
func (rl *RedisRateLimiter) RateLimiterMiddleware(keyFn func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFn(c)
		if key == "" {
			key = clientIP(c)
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 500*time.Millisecond)
		defer cancel()

		redisKey := "ratelimit:" + key
		count, err := rl.client.Incr(ctx, redisKey).Result()
		if err != nil {
			c.Next()
			return
		}
		if count == 1 {
			rl.client.Expire(ctx, redisKey, rl.window)
		}

		if count > int64(rl.limit) {
			ttl, _ := rl.client.TTL(ctx, redisKey).Result()
			retryAfter := int(ttl.Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			c.Header("Retry-After", itoa(retryAfter))
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
