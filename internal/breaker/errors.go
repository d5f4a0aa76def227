package breaker

import (
	"context"
	"errors"
)

var (
	// ErrCircuitOpen is returned while the breaker rejects calls.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrCircuitHalfOpenBusy is returned while another probe is in flight.
	ErrCircuitHalfOpenBusy = errors.New("circuit half-open: probe in flight")
)

// Classifier reports whether err says something about the health of the
// protected dependency. Errors it rejects are returned to the caller but do
// not count against the breaker.
type Classifier func(err error) bool

// DefaultClassifier counts every error except caller cancellation.
func DefaultClassifier(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// IsRejection reports whether err was produced by a breaker refusing a call
// rather than by the protected operation.
func IsRejection(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrCircuitHalfOpenBusy)
}
