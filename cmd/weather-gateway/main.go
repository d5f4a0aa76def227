package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	httpapi "github.com/i474232898/weather-gateway/internal/api/http"
	"github.com/i474232898/weather-gateway/internal/breaker"
	"github.com/i474232898/weather-gateway/internal/cache"
	"github.com/i474232898/weather-gateway/internal/config"
	"github.com/i474232898/weather-gateway/internal/kvstore"
	"github.com/i474232898/weather-gateway/internal/logging"
	"github.com/i474232898/weather-gateway/internal/ratelimit"
	"github.com/i474232898/weather-gateway/internal/scheduler"
	"github.com/i474232898/weather-gateway/internal/telemetry"
	"github.com/i474232898/weather-gateway/internal/warmer"
	"github.com/i474232898/weather-gateway/internal/weather"
	"github.com/i474232898/weather-gateway/internal/weather/providers"
)

const serviceName = "weather-gateway"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel, cfg.Environment)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("weather gateway stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.AppConfig, log *slog.Logger) error {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.New(promReg)

	// Shared key-value store behind its own breaker.
	backend, err := newStore(cfg, log)
	if err != nil {
		return err
	}
	store := kvstore.NewGuarded(backend, kvstore.GuardConfig{
		Name:             "redis_cache",
		FailureThreshold: uint32(cfg.StoreBreakerThreshold),
		Timeout:          cfg.StoreBreakerTimeout,
	}, log)
	defer store.Close()

	weatherCache, err := cache.New(store, cache.Config{
		Compression:      cfg.CacheCompression,
		CompressMinBytes: cfg.CacheCompressMinBytes,
		MinTTL:           cfg.CacheMinTTL,
		OpTimeout:        cfg.CacheOpTimeout,
		Serializer:       cfg.CacheSerializer,
	}, log, metrics)
	if err != nil {
		return err
	}

	limiter := ratelimit.New(store,
		ratelimit.WithPrefix("ratelimit:"),
		ratelimit.WithLogger(log),
		ratelimit.WithMetrics(metrics),
	)

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		RecoveryTimeout:  cfg.BreakerRecoveryTimeout,
		MonitorInterval:  cfg.BreakerMonitorInterval,
	}, breaker.WithLogger(log), breaker.WithMetrics(metrics))

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	provs := []weather.Provider{
		providers.NewOpenWeatherProvider(httpClient, cfg.OpenWeatherAPIKey, breakers),
		providers.NewWeatherAPIProvider(httpClient, cfg.WeatherAPIKey, breakers),
	}
	geo, err := newGeocoder(cfg)
	if err != nil {
		return err
	}
	if geo != nil {
		provs = append(provs, providers.NewOpenMeteoProvider(httpClient, geo, breakers))
	} else {
		log.Info("open-meteo disabled: no coordinates table or google api key")
	}

	// The warmer fetches through the service, which in turn notifies the
	// warmer; the closure breaks the construction cycle.
	var service *weather.Service
	serviceOpts := []weather.ServiceOption{
		weather.WithCacheTTL(cfg.CacheTTL),
		weather.WithLogger(log),
	}

	var warm *warmer.Warmer
	if cfg.WarmerEnabled {
		nearby, err := warmer.ParseStatic(cfg.WarmerNearby)
		if err != nil {
			return err
		}
		warm = warmer.New(warmer.Config{
			MaxNeighbors: cfg.WarmerNeighbors,
			Probability:  cfg.WarmerProbability,
			RadiusKm:     cfg.WarmerRadiusKm,
			TaskTimeout:  cfg.WarmerTaskTimeout,
			Cooldown:     cfg.WarmerCooldown,
			TTL:          cfg.CacheTTL,
		}, nearby, weatherCache, func(ctx context.Context, subject string) (any, error) {
			return service.FetchSubject(ctx, subject)
		},
			warmer.WithGate(limiter),
			warmer.WithLogger(log),
			warmer.WithMetrics(metrics),
		)
		serviceOpts = append(serviceOpts, weather.WithWarmer(warm))
	}

	service = weather.NewService(weatherCache, provs, serviceOpts...)

	sched := scheduler.New(cfg.Locations, cfg.FetchInterval, service,
		scheduler.WithConcurrency(cfg.SchedulerConcurrency),
		scheduler.WithLogger(log),
	)
	if err := sched.Start(); err != nil {
		return err
	}

	app := fiber.New(fiber.Config{
		AppName:               serviceName,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler:          httpapi.ErrorHandler,
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	var apiMiddleware []fiber.Handler
	if cfg.RateLimitEnabled {
		apiMiddleware = append(apiMiddleware, ratelimit.Middleware(limiter, ratelimit.MiddlewareConfig{
			Window:        cfg.RateLimitWindow,
			MaxOperations: cfg.RateLimitMax,
		}))
	}

	httpapi.RegisterOps(app, serviceName, store, promReg)
	httpapi.RegisterRoutes(app, service, breakers, cfg.RequestTimeout, apiMiddleware...)

	go func() {
		log.Info("listening", slog.String("port", cfg.Port))
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error("fiber server stopped", slog.Any("error", err))
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("error during shutdown", slog.Any("error", err))
	}
	sched.Stop()
	if warm != nil {
		warm.Wait()
	}
	return nil
}

// newStore picks Redis when REDIS_URL is set and the in-process store
// otherwise.
func newStore(cfg *config.AppConfig, log *slog.Logger) (kvstore.Store, error) {
	if cfg.RedisURL == "" {
		log.Info("using in-memory store", slog.Int("capacity", cfg.StoreCapacity))
		m, err := kvstore.NewMemory(cfg.StoreCapacity)
		if err != nil {
			return nil, err
		}
		return m, nil
	}

	r, err := kvstore.NewRedis(cfg.RedisURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := r.Ping(ctx); err != nil {
		// Keep going: cache misses and an open limiter until Redis is back.
		log.Warn("redis not reachable at startup", slog.Any("error", err))
	} else {
		log.Info("connected to redis")
	}
	return r, nil
}

// newGeocoder returns nil when Open-Meteo has no way to resolve locations.
func newGeocoder(cfg *config.AppConfig) (providers.Geocoder, error) {
	var chain providers.FallbackGeocoder
	if cfg.Coordinates != "" {
		static, err := providers.ParseStaticGeocoder(cfg.Coordinates)
		if err != nil {
			return nil, err
		}
		chain = append(chain, static)
	}
	if cfg.GoogleAPIKey != "" {
		chain = append(chain, providers.NewGoogleGeocoder(cfg.GoogleAPIKey))
	}
	if len(chain) == 0 {
		return nil, nil
	}
	return chain, nil
}
