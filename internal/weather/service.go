package weather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/i474232898/weather-gateway/internal/breaker"
)

// Service serves current weather read-through: cache first, then every
// provider concurrently, with the aggregated result written back.
type Service struct {
	cache     Cache
	providers []Provider
	warmer    Warmer
	ttl       time.Duration
	logger    *slog.Logger
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithWarmer makes the service trigger warming after each upstream fetch.
func WithWarmer(w Warmer) ServiceOption {
	return func(s *Service) { s.warmer = w }
}

// WithCacheTTL sets the base TTL for cached snapshots. Default 1h.
func WithCacheTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a new Service.
func NewService(cache Cache, providers []Provider, opts ...ServiceOption) *Service {
	s := &Service{
		cache:     cache,
		providers: providers,
		ttl:       time.Hour,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "weather"))
	return s
}

// GetCurrent returns the current snapshot for loc and where it came from.
func (s *Service) GetCurrent(ctx context.Context, loc Location) (WeatherSnapshot, Source, error) {
	if err := loc.Validate(); err != nil {
		return WeatherSnapshot{}, "", err
	}
	subject := loc.Key()

	var snap WeatherSnapshot
	if s.cache.Get(ctx, subject, &snap) {
		return snap, SourceCache, nil
	}

	snap, err := s.Fetch(ctx, loc)
	if err != nil {
		return WeatherSnapshot{}, "", err
	}

	if !s.cache.Set(ctx, subject, snap, s.ttl) {
		s.logger.Warn("serving uncached snapshot", slog.String("subject", subject))
	}
	if s.warmer != nil {
		s.warmer.Warm(subject)
	}
	return snap, SourceUpstream, nil
}

// Refresh fetches loc from the providers and stores the result in the cache.
func (s *Service) Refresh(ctx context.Context, loc Location) error {
	snap, err := s.Fetch(ctx, loc)
	if err != nil {
		return err
	}
	if !s.cache.Set(ctx, loc.Key(), snap, s.ttl) {
		return fmt.Errorf("refresh %s: cache write failed", loc.Key())
	}
	return nil
}

// FetchSubject fetches a "city:country" subject from the providers without
// touching the cache.
func (s *Service) FetchSubject(ctx context.Context, subject string) (WeatherSnapshot, error) {
	loc, err := ParseLocation(subject)
	if err != nil {
		return WeatherSnapshot{}, err
	}
	return s.Fetch(ctx, loc)
}

// Invalidate drops the cached snapshot for loc.
func (s *Service) Invalidate(ctx context.Context, loc Location) bool {
	return s.cache.Invalidate(ctx, loc.Key())
}

// Fetch queries all providers concurrently for loc and aggregates the
// successful readings. Partial success is enough.
func (s *Service) Fetch(ctx context.Context, loc Location) (WeatherSnapshot, error) {
	if len(s.providers) == 0 {
		return WeatherSnapshot{}, fmt.Errorf("%w: no weather providers configured", ErrNoData)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		readings []ProviderReading
		errs     []error
	)

	for _, p := range s.providers {
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()

			r, err := p.Fetch(ctx, loc)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Warn("provider fetch failed",
					slog.String("provider", p.Name()),
					slog.String("subject", loc.Key()),
					slog.Any("error", err))
				errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
				return
			}
			readings = append(readings, r)
		}(p)
	}
	wg.Wait()

	if len(readings) == 0 {
		return WeatherSnapshot{}, noDataError(errs)
	}

	return AggregateReadings(loc, readings), nil
}

// noDataError reports ErrUpstreamUnavailable when every provider was
// short-circuited by its breaker, ErrNoData otherwise.
func noDataError(errs []error) error {
	joined := errors.Join(errs...)
	for _, err := range errs {
		if !breaker.IsRejection(err) {
			return fmt.Errorf("%w: %w", ErrNoData, joined)
		}
	}
	return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, joined)
}
