package kvstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// GuardConfig configures the store-level breaker.
type GuardConfig struct {
	Name             string
	FailureThreshold uint32
	Timeout          time.Duration
}

// Guarded wraps a Store with a breaker so that a dead backend fails fast
// instead of making every request wait for its own timeout. Misses count as
// successes; only transport failures trip it.
type Guarded struct {
	next Store
	cb   *gobreaker.CircuitBreaker[any]
}

// NewGuarded wraps next. Zero config values default to 3 consecutive failures
// and a 30s open period.
func NewGuarded(next Store, cfg GuardConfig, logger *slog.Logger) *Guarded {
	if cfg.Name == "" {
		cfg.Name = "kvstore"
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "kvstore"))

	threshold := cfg.FailureThreshold
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("store breaker state changed",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	return &Guarded{next: next, cb: cb}
}

// State reports the store breaker's state.
func (g *Guarded) State() gobreaker.State {
	return g.cb.State()
}

func (g *Guarded) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := g.cb.Execute(func() (any, error) {
		return g.next.Get(ctx, key)
	})
	if err != nil {
		return nil, g.mapErr(err)
	}
	return v.([]byte), nil
}

func (g *Guarded) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := g.cb.Execute(func() (any, error) {
		return nil, g.next.Set(ctx, key, value, ttl)
	})
	return g.mapErr(err)
}

func (g *Guarded) Delete(ctx context.Context, keys ...string) error {
	_, err := g.cb.Execute(func() (any, error) {
		return nil, g.next.Delete(ctx, keys...)
	})
	return g.mapErr(err)
}

func (g *Guarded) TTL(ctx context.Context, key string) (time.Duration, error) {
	v, err := g.cb.Execute(func() (any, error) {
		return g.next.TTL(ctx, key)
	})
	if err != nil {
		return 0, g.mapErr(err)
	}
	return v.(time.Duration), nil
}

func (g *Guarded) SlideWindow(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (Window, error) {
	v, err := g.cb.Execute(func() (any, error) {
		return g.next.SlideWindow(ctx, key, now, window, limit)
	})
	if err != nil {
		return Window{}, g.mapErr(err)
	}
	return v.(Window), nil
}

func (g *Guarded) Ping(ctx context.Context) error {
	return g.next.Ping(ctx)
}

func (g *Guarded) Close() error {
	return g.next.Close()
}

// mapErr turns breaker rejections into ErrUnavailable so callers only ever
// branch on the kvstore sentinels.
func (g *Guarded) mapErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
