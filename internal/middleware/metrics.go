package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/groupbank/groupbank/internal/metrics"
)

// Metrics records request counts and latency by matched route.
func Metrics(m *metrics.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		m.Request(c.Method(), c.Route().Path, c.Response().StatusCode(), time.Since(start))
		return err
	}
}
