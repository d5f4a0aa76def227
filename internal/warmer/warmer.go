// Package warmer speculatively populates the cache for subjects related to
// the one just requested. Warming is best effort: it never blocks or fails
// the caller, and every error stays inside the warming task.
package warmer

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/i474232898/weather-gateway/internal/common"
	"github.com/i474232898/weather-gateway/internal/telemetry"
)

// Locator ranks subjects related to a given one, closest first. It may return
// an empty list.
type Locator interface {
	Nearby(ctx context.Context, subject string, radiusKm int) ([]string, error)
}

// Cache is the subset of cache.Cache the warmer writes through.
type Cache interface {
	Set(ctx context.Context, subject string, value any, baseTTL time.Duration) bool
	LastUpdated(ctx context.Context, subject string) (time.Time, bool)
}

// Gate throttles warming per subject. *ratelimit.Limiter satisfies it.
type Gate interface {
	TryAcquire(ctx context.Context, key string, window time.Duration, maxOperations int) bool
}

// FetchFunc loads fresh data for subject through the same path requests use.
type FetchFunc func(ctx context.Context, subject string) (any, error)

// Config tunes how aggressively neighbours are warmed.
type Config struct {
	MaxNeighbors int
	// Probability of warming each neighbour. Zero selects 0.7; callers
	// that want no warming leave the warmer out instead.
	Probability float64
	RadiusKm    int
	// TaskTimeout bounds each detached task, including the neighbour lookup.
	TaskTimeout time.Duration
	// Cooldown is the minimum time between two warms of the same subject.
	Cooldown time.Duration
	// TTL is the base TTL passed to the cache.
	TTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxNeighbors <= 0 {
		c.MaxNeighbors = 3
	}
	if c.Probability <= 0 {
		c.Probability = 0.7
	}
	if c.RadiusKm <= 0 {
		c.RadiusKm = 50
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 10 * time.Second
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 5 * time.Minute
	}
	if c.TTL <= 0 {
		c.TTL = time.Hour
	}
	return c
}

// Warmer schedules detached cache population tasks.
type Warmer struct {
	cfg     Config
	locator Locator
	cache   Cache
	fetch   FetchFunc
	gate    Gate
	logger  *slog.Logger
	metrics *telemetry.Metrics
	rand    func() float64
	now     func() time.Time

	wg sync.WaitGroup
}

// Option customizes a Warmer.
type Option func(*Warmer)

// WithGate enables per-subject throttling.
func WithGate(g Gate) Option {
	return func(w *Warmer) { w.gate = g }
}

func WithLogger(l *slog.Logger) Option {
	return func(w *Warmer) {
		if l != nil {
			w.logger = l
		}
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(w *Warmer) { w.metrics = m }
}

// WithRand replaces the source of the warm probability roll.
func WithRand(f func() float64) Option {
	return func(w *Warmer) {
		if f != nil {
			w.rand = f
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(w *Warmer) {
		if now != nil {
			w.now = now
		}
	}
}

func New(cfg Config, locator Locator, cache Cache, fetch FetchFunc, opts ...Option) *Warmer {
	w := &Warmer{
		cfg:     cfg.withDefaults(),
		locator: locator,
		cache:   cache,
		fetch:   fetch,
		logger:  slog.Default(),
		rand:    rand.Float64,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(slog.String("component", "warmer"))
	return w
}

// Warm schedules warming of subjects near subject and returns immediately.
func (w *Warmer) Warm(subject string) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.swallowPanic(subject)

		ctx, cancel := context.WithTimeout(context.Background(), w.cfg.TaskTimeout)
		defer cancel()

		nearby, err := w.locator.Nearby(ctx, subject, w.cfg.RadiusKm)
		if err != nil {
			w.logger.Debug("nearby lookup failed", slog.String("subject", subject), slog.Any("error", err))
			return
		}
		if len(nearby) > w.cfg.MaxNeighbors {
			nearby = nearby[:w.cfg.MaxNeighbors]
		}

		origin := common.NormalizeSubject(subject)
		for _, n := range nearby {
			if common.NormalizeSubject(n) == origin {
				continue
			}
			if w.rand() >= w.cfg.Probability {
				w.metrics.WarmTask("skipped")
				continue
			}

			w.wg.Add(1)
			go func(target string) {
				defer w.wg.Done()
				defer w.swallowPanic(target)
				w.warmOne(target)
			}(n)
		}
	}()
}

// Wait blocks until every scheduled task has finished.
func (w *Warmer) Wait() {
	w.wg.Wait()
}

func (w *Warmer) warmOne(subject string) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.TaskTimeout)
	defer cancel()

	log := w.logger.With(slog.String("subject", subject))

	if w.gate != nil && !w.gate.TryAcquire(ctx, "warm:"+common.NormalizeSubject(subject), w.cfg.Cooldown, 1) {
		log.Debug("warm throttled")
		w.metrics.WarmTask("throttled")
		return
	}

	if at, ok := w.cache.LastUpdated(ctx, subject); ok && w.now().Sub(at) < w.cfg.Cooldown {
		log.Debug("cache still fresh, not warming", slog.Time("last_updated", at))
		w.metrics.WarmTask("fresh")
		return
	}

	value, err := w.fetch(ctx, subject)
	if err != nil {
		log.Debug("warm fetch failed", slog.Any("error", err))
		w.metrics.WarmTask("failed")
		return
	}

	if !w.cache.Set(ctx, subject, value, w.cfg.TTL) {
		log.Debug("warm cache write failed")
		w.metrics.WarmTask("failed")
		return
	}

	log.Debug("warmed cache")
	w.metrics.WarmTask("stored")
}

func (w *Warmer) swallowPanic(subject string) {
	if r := recover(); r != nil {
		w.logger.Debug("warm task panicked",
			slog.String("subject", subject), slog.String("panic", fmt.Sprint(r)))
		w.metrics.WarmTask("failed")
	}
}
