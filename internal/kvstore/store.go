// Package kvstore is the byte-level key-value store the cache and the rate
// limiter persist into. Backends: Redis (shared between processes) and an
// in-process memory store.
package kvstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get and TTL when the key is absent or expired.
	ErrNotFound = errors.New("key not found")

	// ErrUnavailable wraps transport failures of the underlying store.
	ErrUnavailable = errors.New("store unavailable")
)

// Window is the outcome of one sliding-window acquisition.
type Window struct {
	Allowed bool
	// Count is the number of timestamps inside the window after the call,
	// including the new one when Allowed.
	Count int
}

// Store is the contract every backend satisfies. Implementations must be safe
// for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	TTL(ctx context.Context, key string) (time.Duration, error)

	// SlideWindow prunes timestamps older than now-window, counts the rest and,
	// only if the count is below limit, records now and refreshes the key's
	// expiry to window. The whole sequence is applied atomically.
	SlideWindow(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (Window, error)

	Ping(ctx context.Context) error
	Close() error
}
