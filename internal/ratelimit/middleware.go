package ratelimit

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
)

// MiddlewareConfig configures the Fiber middleware.
type MiddlewareConfig struct {
	Window        time.Duration
	MaxOperations int
	// KeyFunc extracts the limiter key. Defaults to the client IP.
	KeyFunc func(c *fiber.Ctx) string
}

// Middleware rejects requests beyond the window with 429 and a Retry-After
// header. Requests whose key is empty pass through.
func Middleware(l *Limiter, cfg MiddlewareConfig) fiber.Handler {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c *fiber.Ctx) string {
			return "ip:" + c.IP()
		}
	}
	retryAfter := strconv.Itoa(int(cfg.Window.Seconds()))

	return func(c *fiber.Ctx) error {
		key := cfg.KeyFunc(c)
		if key == "" {
			return c.Next()
		}

		if !l.TryAcquire(c.UserContext(), key, cfg.Window, cfg.MaxOperations) {
			c.Set(fiber.HeaderRetryAfter, retryAfter)
			return fiber.NewError(fiber.StatusTooManyRequests, ErrRateLimitExceeded.Error())
		}
		return c.Next()
	}
}
