package httpapi

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RegisterOps adds /health and /metrics. An unreachable store makes health
// report "degraded", still with 200.
func RegisterOps(app *fiber.App, name string, store Pinger, gatherer prometheus.Gatherer) {
	app.Get("/health", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), time.Second)
		defer cancel()

		status, storeStatus := "ok", "ok"
		if err := store.Ping(ctx); err != nil {
			status, storeStatus = "degraded", "unavailable"
		}
		return c.JSON(fiber.Map{
			"status":  status,
			"service": name,
			"store":   storeStatus,
		})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}
