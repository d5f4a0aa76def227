package breaker

import (
	"log/slog"
	"time"

	"github.com/i474232898/weather-gateway/internal/telemetry"
)

// Config holds the thresholds shared by every breaker of a registry.
type Config struct {
	// FailureThreshold is the number of qualifying failures that opens a
	// closed breaker.
	FailureThreshold int
	// RecoveryTimeout is how long an open breaker waits after its last
	// failure before admitting a probe.
	RecoveryTimeout time.Duration
	// MonitorInterval enables a background check that moves an open breaker
	// to HALF_OPEN as soon as the timeout elapses. Zero disables it and the
	// check happens lazily in Admit.
	MonitorInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 60 * time.Second
	}
	if c.MonitorInterval < 0 {
		c.MonitorInterval = 0
	}
	return c
}

// Option customizes a breaker.
type Option func(*CircuitBreaker)

// WithClassifier sets the qualifying-failure predicate.
func WithClassifier(c Classifier) Option {
	return func(cb *CircuitBreaker) {
		if c != nil {
			cb.classify = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(cb *CircuitBreaker) {
		if l != nil {
			cb.logger = l
		}
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(cb *CircuitBreaker) {
		cb.metrics = m
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) {
		if now != nil {
			cb.now = now
		}
	}
}
