package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
	"golang.org/x/sync/errgroup"

	"github.com/i474232898/weather-gateway/internal/weather"
)

const (
	defaultInterval    = 15 * time.Minute
	defaultTimeout     = 30 * time.Second
	defaultConcurrency = 4
)

// Refresher refreshes the cached weather for one location.
type Refresher interface {
	Refresh(ctx context.Context, loc weather.Location) error
}

// Scheduler periodically refreshes the cache for configured locations.
type Scheduler struct {
	scheduler   *gocron.Scheduler
	refresher   Refresher
	locations   []weather.Location
	interval    time.Duration
	timeout     time.Duration
	concurrency int
	logger      *slog.Logger
}

type Option func(*Scheduler)

// WithConcurrency caps how many locations are refreshed at once.
func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithTimeout bounds each location's refresh.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a new Scheduler.
func New(locations []weather.Location, interval time.Duration, refresher Refresher, opts ...Option) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	s := &Scheduler{
		scheduler:   gocron.NewScheduler(time.UTC),
		refresher:   refresher,
		locations:   locations,
		interval:    interval,
		timeout:     defaultTimeout,
		concurrency: defaultConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "scheduler"))
	return s
}

// Start schedules the periodic job and starts the underlying scheduler. The
// first run happens immediately.
func (s *Scheduler) Start() error {
	if len(s.locations) == 0 {
		s.logger.Info("no locations configured; nothing to schedule")
		return nil
	}

	// A slow run must not overlap the next one.
	_, err := s.scheduler.Every(s.interval).SingletonMode().Do(func() {
		s.RunOnce(context.Background())
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// RunOnce refreshes every location and returns how many failed.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	start := time.Now()
	s.logger.Info("running weather refresh job", slog.Int("locations", len(s.locations)))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	failed := make([]bool, len(s.locations))
	for i, loc := range s.locations {
		g.Go(func() error {
			locCtx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			if err := s.refresher.Refresh(locCtx, loc); err != nil {
				failed[i] = true
				s.logger.Warn("refresh failed",
					slog.String("subject", loc.Key()), slog.Any("error", err))
			}
			// One location failing must not cancel the others.
			return nil
		})
	}
	_ = g.Wait()

	var n int
	for _, f := range failed {
		if f {
			n++
		}
	}
	s.logger.Info("completed weather refresh job",
		slog.Int("failed", n), slog.Duration("took", time.Since(start)))
	return n
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
