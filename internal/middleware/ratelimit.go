package middleware

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const rateLimitWindow = time.Minute

// AuthorRateLimit caps requests per verified author per minute using Redis
// if available. It must run after VerifyEnvelope.
func AuthorRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		author := Author(c)
		if cache == nil || maxPerMin <= 0 || author == "" {
			return c.Next()
		}
		ctx := c.UserContext()
		key := "rl:author:" + author

		var incr *redis.IntCmd
		var ttl *redis.DurationCmd
		if _, err := cache.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			incr = pipe.Incr(ctx, key)
			ttl = pipe.TTL(ctx, key)
			return nil
		}); err != nil {
			return c.Next() // fail-open on cache errors
		}
		// a counter without expiry would never reset
		if ttl.Val() < 0 {
			if err := cache.Expire(ctx, key, rateLimitWindow).Err(); err != nil {
				cache.Del(ctx, key)
				return c.Next()
			}
		}
		if incr.Val() > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "too many requests, try again later")
		}
		return c.Next()
	}
}
