package breaker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/i474232898/weather-gateway/internal/breaker"
	"github.com/i474232898/weather-gateway/internal/logging"
	"github.com/i474232898/weather-gateway/internal/telemetry"
)

var (
	errUpstream  = errors.New("upstream timeout")
	errBadInput  = errors.New("bad input")
	onlyUpstream = func(err error) bool { return errors.Is(err, errUpstream) }
)

var _ = Describe("CircuitBreaker", func() {
	var (
		clock *fakeClock
		cb    *breaker.CircuitBreaker
	)

	trip := func() {
		for i := 0; i < 3; i++ {
			failCall(cb, errUpstream)
			clock.Advance(time.Second)
		}
	}

	BeforeEach(func() {
		clock = newFakeClock()
		cb = breaker.New("weather_api",
			breaker.Config{FailureThreshold: 3, RecoveryTimeout: 60 * time.Second},
			breaker.WithClock(clock.Now),
			breaker.WithClassifier(onlyUpstream),
			breaker.WithLogger(logging.Discard()),
		)
	})

	Describe("New", func() {
		It("starts closed with empty stats", func() {
			Expect(cb.Name()).To(Equal("weather_api"))
			Expect(cb.State()).To(Equal(breaker.StateClosed))
			Expect(cb.Stats()).To(Equal(breaker.Stats{}))
		})

		It("applies defaults for a zero config", func() {
			def := breaker.New("default", breaker.Config{}, breaker.WithLogger(logging.Discard()))
			for i := 0; i < 2; i++ {
				failCall(def, errUpstream)
			}
			Expect(def.State()).To(Equal(breaker.StateClosed))
			failCall(def, errUpstream)
			Expect(def.State()).To(Equal(breaker.StateOpen))
		})
	})

	Context("when CLOSED", func() {
		It("admits calls", func() {
			Expect(admit(cb)).To(Succeed())
		})

		It("stays closed below the threshold", func() {
			failCall(cb, errUpstream)
			failCall(cb, errUpstream)
			Expect(cb.State()).To(Equal(breaker.StateClosed))
			Expect(cb.Stats().Failures).To(Equal(2))
		})

		It("ignores non-qualifying errors", func() {
			for i := 0; i < 10; i++ {
				failCall(cb, errBadInput)
			}
			Expect(cb.State()).To(Equal(breaker.StateClosed))
			Expect(cb.Stats().Failures).To(BeZero())
		})

		It("does not decay failures on success", func() {
			failCall(cb, errUpstream)
			failCall(cb, errUpstream)
			succeedCall(cb)
			succeedCall(cb)
			Expect(cb.Stats().Successes).To(Equal(2))
			Expect(cb.Stats().Failures).To(Equal(2))

			failCall(cb, errUpstream)
			Expect(cb.State()).To(Equal(breaker.StateOpen))
		})
	})

	Context("threshold=3, recovery=60s", func() {
		It("opens, rejects, probes and resets", func() {
			// failures at t=0,1,2
			trip()
			Expect(cb.State()).To(Equal(breaker.StateOpen))

			clock.Advance(7 * time.Second) // t=10
			Expect(admit(cb)).To(MatchError(breaker.ErrCircuitOpen))

			clock.Advance(51 * time.Second) // t=61, 59s after the last failure
			Expect(admit(cb)).To(MatchError(breaker.ErrCircuitOpen))

			clock.Advance(2 * time.Second) // 61s after the last failure
			t, err := cb.Admit()
			Expect(err).NotTo(HaveOccurred())
			Expect(cb.State()).To(Equal(breaker.StateHalfOpen))

			cb.RecordSuccess(t)
			Expect(cb.State()).To(Equal(breaker.StateClosed))
			Expect(cb.Stats()).To(Equal(breaker.Stats{}))
		})
	})

	Context("when OPEN", func() {
		BeforeEach(trip)

		It("rejects until the recovery timeout has strictly elapsed", func() {
			clock.Advance(59 * time.Second) // exactly 60s after the last failure
			Expect(admit(cb)).To(MatchError(breaker.ErrCircuitOpen))
			Expect(breaker.IsRejection(admit(cb))).To(BeTrue())
		})

		It("records the transition", func() {
			Expect(cb.Stats().Transitions).To(Equal(1))
			Expect(cb.Stats().LastFailure).To(Equal(clock.Now().Add(-time.Second)))
		})
	})

	Context("when HALF_OPEN", func() {
		var trial breaker.Ticket

		BeforeEach(func() {
			trip()
			clock.Advance(2 * time.Minute)
			var err error
			trial, err = cb.Admit()
			Expect(err).NotTo(HaveOccurred())
		})

		It("rejects a second admission while the probe is in flight", func() {
			Expect(admit(cb)).To(MatchError(breaker.ErrCircuitHalfOpenBusy))
		})

		It("reopens on a failed probe and restarts the timer", func() {
			cb.RecordFailure(trial, errUpstream)
			Expect(cb.State()).To(Equal(breaker.StateOpen))

			clock.Advance(30 * time.Second)
			Expect(admit(cb)).To(MatchError(breaker.ErrCircuitOpen))

			clock.Advance(31 * time.Second)
			Expect(admit(cb)).To(Succeed())
		})

		It("releases the probe slot on a non-qualifying error", func() {
			cb.RecordFailure(trial, errBadInput)
			Expect(cb.State()).To(Equal(breaker.StateHalfOpen))
			Expect(admit(cb)).To(Succeed())
		})

		It("ignores a second outcome reported on a released slot", func() {
			cb.RecordFailure(trial, errBadInput)
			next, err := cb.Admit()
			Expect(err).NotTo(HaveOccurred())

			cb.RecordSuccess(trial)
			Expect(cb.State()).To(Equal(breaker.StateHalfOpen))
			Expect(admit(cb)).To(MatchError(breaker.ErrCircuitHalfOpenBusy))

			cb.RecordSuccess(next)
			Expect(cb.State()).To(Equal(breaker.StateClosed))
		})
	})

	Describe("calls admitted before a state change", func() {
		It("cannot free the half-open slot or move the breaker", func() {
			cb = breaker.New("late",
				breaker.Config{FailureThreshold: 1, RecoveryTimeout: time.Second},
				breaker.WithClock(clock.Now),
				breaker.WithLogger(logging.Discard()),
			)

			early, err := cb.Admit()
			Expect(err).NotTo(HaveOccurred())
			failCall(cb, errUpstream)
			Expect(cb.State()).To(Equal(breaker.StateOpen))

			clock.Advance(2 * time.Second)
			current, err := cb.Admit()
			Expect(err).NotTo(HaveOccurred())
			Expect(cb.State()).To(Equal(breaker.StateHalfOpen))

			cb.RecordFailure(early, context.Canceled)
			Expect(admit(cb)).To(MatchError(breaker.ErrCircuitHalfOpenBusy))

			cb.RecordFailure(early, errUpstream)
			Expect(cb.State()).To(Equal(breaker.StateHalfOpen))
			Expect(cb.Stats().Failures).To(Equal(2))
			Expect(admit(cb)).To(MatchError(breaker.ErrCircuitHalfOpenBusy))

			cb.RecordSuccess(early)
			Expect(cb.State()).To(Equal(breaker.StateHalfOpen))

			cb.RecordSuccess(current)
			Expect(cb.State()).To(Equal(breaker.StateClosed))
		})

		It("leaves a freshly closed breaker untouched", func() {
			early, err := cb.Admit()
			Expect(err).NotTo(HaveOccurred())
			trip()
			clock.Advance(2 * time.Minute)
			succeedCall(cb)
			Expect(cb.State()).To(Equal(breaker.StateClosed))

			cb.RecordFailure(early, errUpstream)
			Expect(cb.Stats()).To(Equal(breaker.Stats{}))
		})
	})

	Describe("concurrent admission after recovery", func() {
		It("lets exactly one probe through", func() {
			trip()
			clock.Advance(2 * time.Minute)

			var (
				wg       sync.WaitGroup
				admitted atomic.Int32
				busy     atomic.Int32
				start    = make(chan struct{})
			)
			for i := 0; i < 64; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					<-start
					_, err := cb.Admit()
					switch {
					case err == nil:
						admitted.Add(1)
					case errors.Is(err, breaker.ErrCircuitHalfOpenBusy):
						busy.Add(1)
					}
				}()
			}
			close(start)
			wg.Wait()

			Expect(admitted.Load()).To(Equal(int32(1)))
			Expect(busy.Load()).To(Equal(int32(63)))
		})

		It("opens exactly once when failures race past the threshold", func() {
			tickets := make([]breaker.Ticket, 50)
			for i := range tickets {
				var err error
				tickets[i], err = cb.Admit()
				Expect(err).NotTo(HaveOccurred())
			}

			var wg sync.WaitGroup
			for _, t := range tickets {
				wg.Add(1)
				go func() {
					defer wg.Done()
					cb.RecordFailure(t, errUpstream)
				}()
			}
			wg.Wait()

			Expect(cb.State()).To(Equal(breaker.StateOpen))
			Expect(cb.Stats().Transitions).To(Equal(1))
		})
	})

	Describe("Execute", func() {
		ctx := context.Background()

		It("returns the operation's error unchanged and counts it", func() {
			err := cb.Execute(ctx, func(context.Context) error { return errUpstream })
			Expect(err).To(BeIdenticalTo(errUpstream))
			Expect(cb.Stats().Failures).To(Equal(1))
		})

		It("surfaces non-qualifying errors without counting them", func() {
			err := cb.Execute(ctx, func(context.Context) error { return errBadInput })
			Expect(err).To(BeIdenticalTo(errBadInput))
			Expect(cb.Stats().Failures).To(BeZero())
		})

		It("does not run the operation when open", func() {
			trip()
			var ran bool
			err := cb.Execute(ctx, func(context.Context) error {
				ran = true
				return nil
			})
			Expect(err).To(MatchError(breaker.ErrCircuitOpen))
			Expect(ran).To(BeFalse())
		})

		It("closes the breaker after a successful probe", func() {
			trip()
			clock.Advance(2 * time.Minute)
			Expect(cb.Execute(ctx, func(context.Context) error { return nil })).To(Succeed())
			Expect(cb.State()).To(Equal(breaker.StateClosed))
		})

		It("does not consume a probe for a canceled context", func() {
			trip()
			clock.Advance(2 * time.Minute)

			canceled, cancel := context.WithCancel(ctx)
			cancel()
			Expect(cb.Execute(canceled, func(context.Context) error { return nil })).To(MatchError(context.Canceled))
			Expect(cb.State()).To(Equal(breaker.StateOpen))
		})

		It("reopens and re-raises when the operation panics", func() {
			cb = breaker.New("panicky",
				breaker.Config{FailureThreshold: 1, RecoveryTimeout: time.Second},
				breaker.WithClock(clock.Now),
				breaker.WithClassifier(onlyUpstream),
				breaker.WithLogger(logging.Discard()),
			)
			failCall(cb, errUpstream)
			clock.Advance(2 * time.Second)

			Expect(func() {
				_ = cb.Execute(ctx, func(context.Context) error { panic("decoder blew up") })
			}).To(PanicWith("decoder blew up"))
			Expect(cb.State()).To(Equal(breaker.StateOpen))
			Expect(admit(cb)).To(MatchError(breaker.ErrCircuitOpen))

			clock.Advance(time.Hour)
			Expect(admit(cb)).To(Succeed())
			Expect(cb.State()).To(Equal(breaker.StateHalfOpen))
		})

		It("counts a panic while closed", func() {
			Expect(func() {
				_ = cb.Execute(ctx, func(context.Context) error { panic("boom") })
			}).To(Panic())
			Expect(cb.Stats().Failures).To(Equal(1))
			Expect(cb.State()).To(Equal(breaker.StateClosed))
		})
	})

	Describe("recovery monitor", func() {
		It("moves an open breaker to HALF_OPEN without a caller", func() {
			mon := breaker.New("monitored",
				breaker.Config{FailureThreshold: 1, RecoveryTimeout: time.Minute, MonitorInterval: 5 * time.Millisecond},
				breaker.WithClock(clock.Now),
				breaker.WithLogger(logging.Discard()),
			)
			failCall(mon, errUpstream)
			Expect(mon.State()).To(Equal(breaker.StateOpen))
			Consistently(mon.State, 30*time.Millisecond, 5*time.Millisecond).Should(Equal(breaker.StateOpen))

			clock.Advance(2 * time.Minute)
			Eventually(mon.State, time.Second, 5*time.Millisecond).Should(Equal(breaker.StateHalfOpen))

			// Nobody is probing yet, so the next caller becomes the probe.
			Expect(admit(mon)).To(Succeed())
			Expect(admit(mon)).To(MatchError(breaker.ErrCircuitHalfOpenBusy))
			Expect(mon.Stats().Transitions).To(Equal(2))
		})
	})

	Describe("metrics", func() {
		It("counts transitions and rejections", func() {
			reg := prometheus.NewRegistry()
			m := telemetry.New(reg)
			mb := breaker.New("metered",
				breaker.Config{FailureThreshold: 1, RecoveryTimeout: time.Minute},
				breaker.WithClock(clock.Now),
				breaker.WithLogger(logging.Discard()),
				breaker.WithMetrics(m),
			)

			failCall(mb, errUpstream)
			Expect(admit(mb)).To(HaveOccurred())

			count, err := testutil.GatherAndCount(reg,
				"weather_gateway_breaker_transitions_total",
				"weather_gateway_breaker_rejections_total")
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(2))
		})
	})
})
