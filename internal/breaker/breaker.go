// Package breaker implements a per-dependency circuit breaker.
//
// A breaker starts CLOSED. Enough qualifying failures open it; while OPEN
// every call is rejected with ErrCircuitOpen. Once the recovery timeout has
// passed since the last failure, exactly one caller is admitted as a probe
// (HALF_OPEN) and everyone else gets ErrCircuitHalfOpenBusy. A successful
// probe closes the breaker and zeroes its stats; a failed probe opens it
// again.
//
//	cb := registry.Get("openweathermap")
//	err := cb.Execute(ctx, func(ctx context.Context) error {
//	    return callUpstream(ctx)
//	})
package breaker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/i474232898/weather-gateway/internal/telemetry"
)

// CircuitBreaker guards a single dependency. It is safe for concurrent use.
type CircuitBreaker struct {
	name     string
	cfg      Config
	classify Classifier
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	now      func() time.Time

	mu            sync.Mutex
	state         State
	stats         Stats
	probeInFlight bool
	gen           uint64        // bumped on every state change and released slot
	stopMonitor   chan struct{} // non-nil while a monitor goroutine runs
}

// New creates a closed breaker for the dependency called name.
func New(name string, cfg Config, opts ...Option) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:     name,
		cfg:      cfg.withDefaults(),
		classify: DefaultClassifier,
		logger:   slog.Default(),
		now:      time.Now,
		state:    StateClosed,
		gen:      1,
	}
	for _, opt := range opts {
		opt(cb)
	}
	cb.logger = cb.logger.With(slog.String("breaker", name))
	cb.metrics.BreakerState(name, int(StateClosed))
	return cb
}

func (cb *CircuitBreaker) Name() string { return cb.name }

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stats
}

// Ticket identifies one admitted call. Outcomes are reported against the
// ticket so that a call admitted in an earlier episode cannot move the
// breaker once it has changed state.
type Ticket struct {
	gen uint64
}

// Admit asks for permission to call the dependency. A nil error obliges the
// caller to report the outcome through RecordSuccess or RecordFailure with
// the returned ticket.
func (cb *CircuitBreaker) Admit() (Ticket, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.stats.LastFailure) > cb.cfg.RecoveryTimeout {
			cb.transition(StateHalfOpen)
			cb.probeInFlight = true
			return Ticket{gen: cb.gen}, nil
		}
		cb.metrics.BreakerRejection(cb.name, "open")
		return Ticket{}, fmt.Errorf("%w: %s", ErrCircuitOpen, cb.name)

	case StateHalfOpen:
		// The monitor may have moved us here with nobody probing yet.
		if !cb.probeInFlight {
			cb.probeInFlight = true
			return Ticket{gen: cb.gen}, nil
		}
		cb.metrics.BreakerRejection(cb.name, "half_open_busy")
		return Ticket{}, fmt.Errorf("%w: %s", ErrCircuitHalfOpenBusy, cb.name)
	}

	return Ticket{gen: cb.gen}, nil
}

// RecordSuccess reports a successful call.
func (cb *CircuitBreaker) RecordSuccess(t Ticket) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if t.gen != cb.gen {
		cb.recordStale(true)
		return
	}

	switch cb.state {
	case StateHalfOpen:
		cb.transition(StateClosed)
	case StateClosed:
		// No decay: failures are only forgotten by a full reset.
		cb.stats.Successes++
	}
}

// RecordFailure reports a failed call. Errors the classifier rejects leave the
// breaker untouched, except that they release a pending probe slot.
func (cb *CircuitBreaker) RecordFailure(t Ticket, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.recordFailureLocked(t, cb.classify(err))
}

func (cb *CircuitBreaker) recordFailureLocked(t Ticket, qualifying bool) {
	if t.gen != cb.gen {
		if qualifying {
			cb.recordStale(false)
		}
		return
	}

	if !qualifying {
		if cb.state == StateHalfOpen && cb.probeInFlight {
			cb.probeInFlight = false
			cb.gen++
		}
		return
	}

	cb.stats.Failures++
	cb.stats.LastFailure = cb.now()

	switch cb.state {
	case StateClosed:
		if cb.stats.Failures >= cb.cfg.FailureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateOpen)
	}
}

// recordStale counts the outcome of a call admitted before the last state
// change. It never moves the breaker or frees the half-open slot, and a
// CLOSED breaker ignores it because its stats were reset after the call
// started. Caller holds cb.mu.
func (cb *CircuitBreaker) recordStale(success bool) {
	if cb.state == StateClosed {
		return
	}
	if success {
		cb.stats.Successes++
	} else {
		cb.stats.Failures++
	}
}

// Execute runs op if the breaker admits it and records the outcome. The
// returned error is either a rejection (see IsRejection) or op's own error,
// unchanged. A panic in op counts as a qualifying failure and is re-raised.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t, err := cb.Admit()
	if err != nil {
		return err
	}

	done := false
	defer func() {
		if done {
			return
		}
		r := recover()
		cb.mu.Lock()
		cb.recordFailureLocked(t, true)
		cb.mu.Unlock()
		if r != nil {
			cb.logger.Error("protected call panicked", slog.Any("panic", r))
			panic(r)
		}
	}()

	err = op(ctx)
	done = true
	if err != nil {
		cb.RecordFailure(t, err)
		return err
	}
	cb.RecordSuccess(t)
	return nil
}

// transition moves the breaker to `to`. Caller holds cb.mu.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.gen++

	switch to {
	case StateClosed:
		cb.stats = Stats{}
		cb.probeInFlight = false
		cb.logger.Info("circuit closed, recovery successful")
	case StateOpen:
		cb.stats.Transitions++
		cb.probeInFlight = false
		cb.logger.Warn("circuit opened",
			slog.Int("failures", cb.stats.Failures),
			slog.Time("last_failure", cb.stats.LastFailure))
		cb.startMonitor()
	case StateHalfOpen:
		cb.stats.Transitions++
		cb.logger.Info("circuit half-open, probing")
	}

	if from == StateOpen {
		cb.stopMonitorLocked()
	}
	cb.metrics.BreakerTransition(cb.name, from.String(), to.String(), int(to))
}

// startMonitor schedules the recovery check for this OPEN episode. Caller
// holds cb.mu.
func (cb *CircuitBreaker) startMonitor() {
	if cb.cfg.MonitorInterval <= 0 || cb.stopMonitor != nil {
		return
	}
	stop := make(chan struct{})
	cb.stopMonitor = stop
	go cb.monitor(stop)
}

func (cb *CircuitBreaker) stopMonitorLocked() {
	if cb.stopMonitor != nil {
		close(cb.stopMonitor)
		cb.stopMonitor = nil
	}
}

func (cb *CircuitBreaker) monitor(stop <-chan struct{}) {
	ticker := time.NewTicker(cb.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			cb.mu.Lock()
			if cb.state == StateOpen && cb.now().Sub(cb.stats.LastFailure) > cb.cfg.RecoveryTimeout {
				cb.transition(StateHalfOpen)
			}
			cb.mu.Unlock()
		}
	}
}
