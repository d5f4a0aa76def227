package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/i474232898/weather-gateway/internal/weather"
)

type AppConfig struct {
	OpenWeatherAPIKey string `mapstructure:"OPENWEATHER_API_KEY"`
	WeatherAPIKey     string `mapstructure:"WEATHERAPI_API_KEY"`
	// GoogleAPIKey enables geocoding for Open-Meteo.
	GoogleAPIKey string `mapstructure:"GOOGLE_API_KEY"`
	// Coordinates is a static "city:country=lat,lon;..." table consulted
	// before the Google geocoder.
	Coordinates string `mapstructure:"OPENMETEO_COORDINATES"`

	// FetchInterval controls how often we refresh each location.
	FetchInterval        time.Duration `mapstructure:"FETCH_INTERVAL" validate:"gt=0"`
	SchedulerConcurrency int           `mapstructure:"SCHEDULER_CONCURRENCY" validate:"gte=1"`

	LocationCities    string `mapstructure:"WEATHER_LOCATION_CITY"`
	LocationCountries string `mapstructure:"WEATHER_LOCATION_COUNTRY"`
	// Locations to refresh, built from the two lists above.
	Locations []weather.Location `mapstructure:"-"`

	Port        string        `mapstructure:"PORT" validate:"required,numeric"`
	Environment string        `mapstructure:"ENVIRONMENT" validate:"oneof=dev staging prod"`
	LogLevel    string        `mapstructure:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	HTTPTimeout time.Duration `mapstructure:"HTTP_TIMEOUT" validate:"gt=0"`

	// RequestTimeout bounds one API lookup; keep it under the server's
	// 10s write timeout so a slow lookup still gets its 504.
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT" validate:"gt=0,lt=10s"`

	// RedisURL selects the Redis backend; empty means in-process memory.
	RedisURL              string        `mapstructure:"REDIS_URL" validate:"omitempty,url"`
	StoreCapacity         int           `mapstructure:"STORE_CAPACITY" validate:"gte=1"`
	StoreBreakerThreshold int           `mapstructure:"STORE_BREAKER_THRESHOLD" validate:"gte=1"`
	StoreBreakerTimeout   time.Duration `mapstructure:"STORE_BREAKER_TIMEOUT" validate:"gt=0"`

	CacheTTL              time.Duration `mapstructure:"CACHE_TTL" validate:"gt=0"`
	CacheMinTTL           time.Duration `mapstructure:"CACHE_MIN_TTL" validate:"gt=0"`
	CacheCompression      bool          `mapstructure:"CACHE_COMPRESSION"`
	CacheCompressMinBytes int           `mapstructure:"CACHE_COMPRESS_MIN_BYTES" validate:"gte=0"`
	CacheOpTimeout        time.Duration `mapstructure:"CACHE_OP_TIMEOUT" validate:"gt=0"`
	CacheSerializer       string        `mapstructure:"CACHE_SERIALIZER" validate:"oneof=json msgpack"`

	BreakerFailureThreshold int           `mapstructure:"BREAKER_FAILURE_THRESHOLD" validate:"gte=1"`
	BreakerRecoveryTimeout  time.Duration `mapstructure:"BREAKER_RECOVERY_TIMEOUT" validate:"gt=0"`
	BreakerMonitorInterval  time.Duration `mapstructure:"BREAKER_MONITOR_INTERVAL" validate:"gte=0"`

	RateLimitEnabled bool          `mapstructure:"RATE_LIMIT_ENABLED"`
	RateLimitWindow  time.Duration `mapstructure:"RATE_LIMIT_WINDOW" validate:"gt=0"`
	RateLimitMax     int           `mapstructure:"RATE_LIMIT_MAX" validate:"gte=1"`

	WarmerEnabled     bool          `mapstructure:"WARMER_ENABLED"`
	WarmerNeighbors   int           `mapstructure:"WARMER_MAX_NEIGHBORS" validate:"gte=1"`
	WarmerProbability float64       `mapstructure:"WARMER_PROBABILITY" validate:"gt=0,lte=1"`
	WarmerRadiusKm    int           `mapstructure:"WARMER_RADIUS_KM" validate:"gte=1"`
	WarmerCooldown    time.Duration `mapstructure:"WARMER_COOLDOWN" validate:"gt=0"`
	WarmerTaskTimeout time.Duration `mapstructure:"WARMER_TASK_TIMEOUT" validate:"gt=0"`
	// WarmerNearby is the ranked neighbour table, "london:gb=paris:fr,...;...".
	WarmerNearby string `mapstructure:"WARMER_NEARBY"`
}

var defaults = map[string]any{
	"OPENWEATHER_API_KEY":   "",
	"WEATHERAPI_API_KEY":    "",
	"GOOGLE_API_KEY":        "",
	"OPENMETEO_COORDINATES": "",

	"FETCH_INTERVAL":        "15m",
	"SCHEDULER_CONCURRENCY": 4,

	"WEATHER_LOCATION_CITY":    "",
	"WEATHER_LOCATION_COUNTRY": "",

	"PORT":         "8080",
	"ENVIRONMENT":  "dev",
	"LOG_LEVEL":    "info",
	"HTTP_TIMEOUT": "10s",

	"REQUEST_TIMEOUT": "8s",

	"REDIS_URL":               "",
	"STORE_CAPACITY":          10_000,
	"STORE_BREAKER_THRESHOLD": 3,
	"STORE_BREAKER_TIMEOUT":   "30s",

	"CACHE_TTL":                "1h",
	"CACHE_MIN_TTL":            "5m",
	"CACHE_COMPRESSION":        true,
	"CACHE_COMPRESS_MIN_BYTES": 0,
	"CACHE_OP_TIMEOUT":         "2s",
	"CACHE_SERIALIZER":         "json",

	"BREAKER_FAILURE_THRESHOLD": 3,
	"BREAKER_RECOVERY_TIMEOUT":  "60s",
	"BREAKER_MONITOR_INTERVAL":  "5s",

	"RATE_LIMIT_ENABLED": true,
	"RATE_LIMIT_WINDOW":  "60s",
	"RATE_LIMIT_MAX":     100,

	"WARMER_ENABLED":       true,
	"WARMER_MAX_NEIGHBORS": 3,
	"WARMER_PROBABILITY":   0.7,
	"WARMER_RADIUS_KM":     50,
	"WARMER_COOLDOWN":      "5m",
	"WARMER_TASK_TIMEOUT":  "10s",
	"WARMER_NEARBY":        "",
}

var validate = validator.New()

// Load reads configuration from a .env file, if any, and the environment,
// with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file loaded", slog.Any("error", err))
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	locs, err := parseLocations(cfg.LocationCities, cfg.LocationCountries)
	if err != nil {
		return nil, err
	}
	cfg.Locations = locs

	return cfg, nil
}

// parseLocations pairs comma-separated city and country lists by position.
func parseLocations(city, country string) ([]weather.Location, error) {
	if strings.TrimSpace(city) == "" && strings.TrimSpace(country) == "" {
		return nil, nil
	}

	cities := strings.Split(city, ",")
	countries := strings.Split(country, ",")
	if len(cities) != len(countries) {
		return nil, fmt.Errorf("number of cities and countries must be the same")
	}

	locs := make([]weather.Location, 0, len(cities))
	for i := range cities {
		loc := weather.Location{
			City:    strings.TrimSpace(cities[i]),
			Country: strings.TrimSpace(countries[i]),
		}
		if err := loc.Validate(); err != nil {
			return nil, fmt.Errorf("location %d: %w", i+1, err)
		}
		locs = append(locs, loc)
	}

	return locs, nil
}
