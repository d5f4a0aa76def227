package httpapi

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-gateway/internal/breaker"
	"github.com/i474232898/weather-gateway/internal/weather"
)

var validate = validator.New()

// WeatherService is the part of weather.Service the API needs.
type WeatherService interface {
	GetCurrent(ctx context.Context, loc weather.Location) (weather.WeatherSnapshot, weather.Source, error)
	Invalidate(ctx context.Context, loc weather.Location) bool
}

// BreakerReporter lists breaker states for diagnostics.
type BreakerReporter interface {
	Snapshot() []breaker.Snapshot
}

// RegisterRoutes wires the HTTP handlers into the Fiber app. Handlers in
// middleware run in front of every /api/v1 route. A positive lookupTimeout
// bounds each current-weather lookup; running out of it answers 504.
func RegisterRoutes(app *fiber.App, service WeatherService, breakers BreakerReporter, lookupTimeout time.Duration, middleware ...fiber.Handler) {
	v1 := app.Group("/api/v1")
	for _, h := range middleware {
		v1.Use(h)
	}

	v1.Get("/weather/current", func(c *fiber.Ctx) error {
		locReq, err := parseLocationQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		ctx := c.UserContext()
		if lookupTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, lookupTimeout)
			defer cancel()
		}

		snapshot, source, err := service.GetCurrent(ctx, locReq.toLocation())
		if err != nil {
			return mapServiceError(err)
		}

		if source == weather.SourceCache {
			c.Set("X-Cache", "HIT")
		} else {
			c.Set("X-Cache", "MISS")
		}
		return c.JSON(snapshot)
	})

	v1.Delete("/weather/cache", func(c *fiber.Ctx) error {
		locReq, err := parseLocationQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if !service.Invalidate(c.UserContext(), locReq.toLocation()) {
			return fiber.NewError(fiber.StatusServiceUnavailable, "cache is unavailable")
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	v1.Get("/breakers", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"breakers": breakers.Snapshot()})
	})
}

func mapServiceError(err error) error {
	switch {
	case errors.Is(err, weather.ErrInvalidLocation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, weather.ErrUpstreamUnavailable):
		return fiber.NewError(fiber.StatusServiceUnavailable, "weather providers are temporarily unavailable")
	case errors.Is(err, weather.ErrNoData):
		return fiber.NewError(fiber.StatusBadGateway, "no weather data for requested location")
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.NewError(fiber.StatusGatewayTimeout, "weather lookup timed out")
	default:
		return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch weather data")
	}
}

// ErrorHandler renders every error as {"error": true, "message": ...}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

// locationQuery holds query parameters for identifying a location.
type locationQuery struct {
	City    string `validate:"required,max=100"`
	Country string `validate:"required,max=100"`
}

func (l locationQuery) toLocation() weather.Location {
	return weather.Location{
		City:    l.City,
		Country: l.Country,
	}
}

func parseLocationQuery(c *fiber.Ctx) (locationQuery, error) {
	var q locationQuery

	q.City = c.Query("city")
	q.Country = c.Query("country")

	if err := validate.Struct(q); err != nil {
		return q, err
	}

	return q, nil
}
