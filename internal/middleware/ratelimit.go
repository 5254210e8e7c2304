// Package middleware holds fiber middleware shared across routes.
package middleware

import (
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tracklab/api/pkg/response"
)

// GenerateLimit caps generation submissions per client IP using a fixed
// one-hour window in Redis. The limiter fails open: if Redis is down the
// request goes through, generation capacity is not gated on the limiter
// being alive.
func GenerateLimit(rdb *redis.Client, perHour int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rdb == nil || perHour <= 0 {
			return c.Next()
		}

		key := fmt.Sprintf("ratelimit:generate:%s", c.IP())
		ctx := c.Context()

		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			log.Printf("[RateLimit] WARN: redis unavailable, allowing request: %v", err)
			return c.Next()
		}
		if count == 1 {
			if err := rdb.Expire(ctx, key, time.Hour).Err(); err != nil {
				log.Printf("[RateLimit] WARN: failed to set window expiry: %v", err)
			}
		}
		if count > int64(perHour) {
			return response.RateLimited(c, fmt.Sprintf("Generation limit of %d requests per hour exceeded", perHour))
		}
		return c.Next()
	}
}
