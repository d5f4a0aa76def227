package weather

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidLocation is returned for a location without city or country.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrNoData means no provider produced a reading.
	ErrNoData = errors.New("no weather data available")

	// ErrUpstreamUnavailable means every provider was rejected by its
	// circuit breaker without being called.
	ErrUpstreamUnavailable = errors.New("weather upstreams unavailable")
)

// ProviderReading represents a single provider's normalized reading
// that can be aggregated into a WeatherSnapshot.
type ProviderReading struct {
	ProviderName string
	Timestamp    time.Time

	TemperatureC float64
	HumidityPct  float64
	WindSpeedMS  float64
	PressureHpa  float64
	PrecipMm     float64
	Condition    Condition
}

// Provider abstracts a weather data source (e.g. OpenWeatherMap, WeatherAPI, Open-Meteo).
type Provider interface {
	Name() string
	Fetch(ctx context.Context, loc Location) (ProviderReading, error)
}

// Cache is the read-through cache the service consults before providers.
type Cache interface {
	Get(ctx context.Context, subject string, dest any) bool
	Set(ctx context.Context, subject string, value any, baseTTL time.Duration) bool
	Invalidate(ctx context.Context, subject string) bool
}

// Warmer is notified of every upstream fetch served to a caller.
type Warmer interface {
	Warm(subject string)
}
