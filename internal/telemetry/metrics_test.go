package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.BreakerTransition("openweathermap", "closed", "open", 1)
		m.BreakerRejection("openweathermap", "open")
		m.CacheLookup("hit", "compressed")
		m.CacheWrite("ok")
		m.RateLimitDecision("allowed")
		m.WarmTask("stored")
	})
}

func TestBreakerTransitionUpdatesGauge(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.BreakerTransition("weatherapi", "closed", "open", 1)
	m.BreakerTransition("weatherapi", "open", "half_open", 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.breakerTransitions.WithLabelValues("weatherapi", "closed", "open")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.breakerState.WithLabelValues("weatherapi")))
}

func TestCacheCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.CacheLookup("hit", "compressed")
	m.CacheLookup("hit", "compressed")
	m.CacheLookup("miss", "none")
	m.CacheWrite("failed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit", "compressed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss", "none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheWrites.WithLabelValues("failed")))
}
