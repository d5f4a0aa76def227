package breaker_test

import (
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/i474232898/weather-gateway/internal/breaker"
	"github.com/i474232898/weather-gateway/internal/logging"
)

var _ = Describe("Registry", func() {
	var registry *breaker.Registry

	BeforeEach(func() {
		registry = breaker.NewRegistry(
			breaker.Config{FailureThreshold: 2, RecoveryTimeout: 30 * time.Second},
			breaker.WithLogger(logging.Discard()),
		)
	})

	Describe("Get", func() {
		It("creates a closed breaker for an unknown dependency", func() {
			cb := registry.Get("openweathermap")
			Expect(cb).NotTo(BeNil())
			Expect(cb.Name()).To(Equal("openweathermap"))
			Expect(cb.State()).To(Equal(breaker.StateClosed))
		})

		It("returns the same breaker for the same name", func() {
			Expect(registry.Get("weatherapi")).To(BeIdenticalTo(registry.Get("weatherapi")))
		})

		It("returns different breakers for different names", func() {
			Expect(registry.Get("weatherapi")).NotTo(BeIdenticalTo(registry.Get("openmeteo")))
		})

		It("uses the registry config", func() {
			cb := registry.Get("openmeteo")
			failCall(cb, errors.New("boom"))
			failCall(cb, errors.New("boom"))
			Expect(cb.State()).To(Equal(breaker.StateOpen))
		})

		It("applies per-call options only on creation", func() {
			cb := registry.Get("picky", breaker.WithClassifier(onlyUpstream))
			failCall(cb, errBadInput)
			failCall(cb, errBadInput)
			Expect(cb.State()).To(Equal(breaker.StateClosed))
		})

		It("hands out one breaker under concurrent first use", func() {
			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				seen = map[*breaker.CircuitBreaker]struct{}{}
			)
			for i := 0; i < 32; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					cb := registry.Get("shared")
					mu.Lock()
					seen[cb] = struct{}{}
					mu.Unlock()
				}()
			}
			wg.Wait()
			Expect(seen).To(HaveLen(1))
		})
	})

	Describe("Snapshot", func() {
		It("is empty for a fresh registry", func() {
			Expect(registry.Snapshot()).To(BeEmpty())
		})

		It("reports every breaker ordered by name", func() {
			registry.Get("weatherapi")
			open := registry.Get("openmeteo")
			failCall(open, errUpstream)
			failCall(open, errUpstream)

			snap := registry.Snapshot()
			Expect(snap).To(HaveLen(2))
			Expect(snap[0].Name).To(Equal("openmeteo"))
			Expect(snap[0].State).To(Equal(breaker.StateOpen))
			Expect(snap[0].Stats.Failures).To(Equal(2))
			Expect(snap[1].Name).To(Equal("weatherapi"))
			Expect(snap[1].State).To(Equal(breaker.StateClosed))
		})
	})
})
