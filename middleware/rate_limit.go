package middleware

import (
	"math"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/mooose/redacao-api/services"
)

// RateLimit gates a route group against the shared limiter. Denied requests
// get a 429 with a Retry-After hint and never reach the handler.
func RateLimit(limiter *services.RateLimiter, bucket string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		allowed, retryAfter := limiter.Allow(c.IP(), bucket)
		if !allowed {
			seconds := int(math.Ceil(retryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(seconds))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many requests. Try again shortly.",
				"retry_after": seconds,
			})
		}
		return c.Next()
	}
}
