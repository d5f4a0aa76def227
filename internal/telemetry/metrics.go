// Package telemetry holds the Prometheus collectors shared by the resilience
// components. A nil *Metrics is valid and records nothing, so components can
// be constructed without metrics in tests.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "weather_gateway"

// Metrics groups every collector emitted by the service.
type Metrics struct {
	breakerTransitions *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec
	breakerRejections  *prometheus.CounterVec

	cacheLookups *prometheus.CounterVec
	cacheWrites  *prometheus.CounterVec

	rateLimitDecisions *prometheus.CounterVec

	warmTasks *prometheus.CounterVec
}

// New registers all collectors on reg. Registering twice on the same
// registerer panics, so the composition root creates exactly one Metrics.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		breakerTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions.",
		}, []string{"name", "from", "to"}),
		breakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Current circuit breaker state (0=closed, 1=open, 2=half_open).",
		}, []string{"name"}),
		breakerRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_rejections_total",
			Help:      "Calls rejected by a circuit breaker.",
		}, []string{"name", "reason"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache reads by result and tier.",
		}, []string{"result", "tier"}),
		cacheWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_writes_total",
			Help:      "Cache writes by result.",
		}, []string{"result"}),
		rateLimitDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_decisions_total",
			Help:      "Sliding window limiter decisions.",
		}, []string{"result"}),
		warmTasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warm_tasks_total",
			Help:      "Cache warming tasks by outcome.",
		}, []string{"result"}),
	}
}

// BreakerTransition records a state change and updates the state gauge.
func (m *Metrics) BreakerTransition(name, from, to string, toValue int) {
	if m == nil {
		return
	}
	m.breakerTransitions.WithLabelValues(name, from, to).Inc()
	m.breakerState.WithLabelValues(name).Set(float64(toValue))
}

// BreakerState sets the state gauge without counting a transition.
func (m *Metrics) BreakerState(name string, value int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(float64(value))
}

// BreakerRejection counts an admission refused by a breaker.
func (m *Metrics) BreakerRejection(name, reason string) {
	if m == nil {
		return
	}
	m.breakerRejections.WithLabelValues(name, reason).Inc()
}

// CacheLookup counts a cache read. result is "hit" or "miss".
func (m *Metrics) CacheLookup(result, tier string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result, tier).Inc()
}

// CacheWrite counts a cache write. result is "ok" or "failed".
func (m *Metrics) CacheWrite(result string) {
	if m == nil {
		return
	}
	m.cacheWrites.WithLabelValues(result).Inc()
}

// RateLimitDecision counts a limiter outcome: "allowed", "rejected" or "error".
func (m *Metrics) RateLimitDecision(result string) {
	if m == nil {
		return
	}
	m.rateLimitDecisions.WithLabelValues(result).Inc()
}

// WarmTask counts a finished warming task.
func (m *Metrics) WarmTask(result string) {
	if m == nil {
		return
	}
	m.warmTasks.WithLabelValues(result).Inc()
}
