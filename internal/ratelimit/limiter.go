// Package ratelimit is a sliding-window limiter whose window state lives in a
// kvstore.Store, so every process sharing the store shares the limit.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/i474232898/weather-gateway/internal/kvstore"
	"github.com/i474232898/weather-gateway/internal/telemetry"
)

// ErrRateLimitExceeded is returned by Require when the window is full.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// Limiter gates operations by key. It never invokes the guarded operation
// itself. It is safe for concurrent use.
type Limiter struct {
	store     kvstore.Store
	prefix    string
	opTimeout time.Duration
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	now       func() time.Time
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithPrefix namespaces every key, e.g. "ratelimit:".
func WithPrefix(prefix string) Option {
	return func(l *Limiter) { l.prefix = prefix }
}

// WithOpTimeout bounds each store round trip. Default 1s.
func WithOpTimeout(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.opTimeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

func New(store kvstore.Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:     store,
		opTimeout: time.Second,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(slog.String("component", "ratelimit"))
	return l
}

// TryAcquire records one operation for key and reports whether it fits in
// the trailing window. A rejected call records nothing. If the store fails
// the call is allowed.
func (l *Limiter) TryAcquire(ctx context.Context, key string, window time.Duration, maxOperations int) bool {
	if maxOperations <= 0 {
		l.metrics.RateLimitDecision("rejected")
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	w, err := l.store.SlideWindow(ctx, l.prefix+key, l.now(), window, maxOperations)
	if err != nil {
		l.logger.Warn("rate limit check failed, allowing",
			slog.String("key", key), slog.Any("error", err))
		l.metrics.RateLimitDecision("error")
		return true
	}

	if !w.Allowed {
		l.logger.Debug("rate limit exceeded",
			slog.String("key", key), slog.Int("count", w.Count), slog.Int("max", maxOperations))
		l.metrics.RateLimitDecision("rejected")
		return false
	}

	l.metrics.RateLimitDecision("allowed")
	return true
}

// Require is TryAcquire returning ErrRateLimitExceeded on rejection.
func (l *Limiter) Require(ctx context.Context, key string, window time.Duration, maxOperations int) error {
	if !l.TryAcquire(ctx, key, window, maxOperations) {
		return fmt.Errorf("%w: %s", ErrRateLimitExceeded, key)
	}
	return nil
}
