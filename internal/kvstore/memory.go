package kvstore

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"
)

// noExpiry is used for otter entries written without a TTL.
const noExpiry = 24 * 365 * 100 * time.Hour

// sweepEvery controls how often SlideWindow drops expired windows.
const sweepEvery = 1024

type memoryEntry struct {
	data      []byte
	expiresAt time.Time // zero means no expiry
}

type slidingWindow struct {
	stamps    []int64 // unix milliseconds, ascending
	expiresAt time.Time
}

// Memory is a concurrency-safe in-process Store. Values live in an otter
// cache bounded by capacity; sliding windows live in a mutex-guarded table.
type Memory struct {
	values *otter.Cache[string, memoryEntry]

	mu      sync.Mutex
	windows map[string]*slidingWindow
	calls   int

	now func() time.Time
}

// NewMemory creates a Memory store holding at most capacity values.
// A capacity <= 0 defaults to 10000.
func NewMemory(capacity int) (*Memory, error) {
	if capacity <= 0 {
		capacity = 10000
	}

	values, err := otter.New(&otter.Options[string, memoryEntry]{
		MaximumSize:      capacity,
		ExpiryCalculator: otter.ExpiryWriting[string, memoryEntry](noExpiry),
	})
	if err != nil {
		return nil, fmt.Errorf("build memory store: %w", err)
	}

	return &Memory{
		values:  values,
		windows: make(map[string]*slidingWindow),
		now:     time.Now,
	}, nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := m.values.GetIfPresent(key)
	if !ok || m.expired(e.expiresAt) {
		return nil, ErrNotFound
	}
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	data := make([]byte, len(value))
	copy(data, value)

	e := memoryEntry{data: data}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}

	m.values.Set(key, e)
	if ttl > 0 {
		m.values.SetExpiresAfter(key, ttl)
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		m.values.Invalidate(k)
	}

	m.mu.Lock()
	for _, k := range keys {
		delete(m.windows, k)
	}
	m.mu.Unlock()
	return nil
}

// TTL returns the remaining lifetime of key, or -1 when it has no expiry.
func (m *Memory) TTL(_ context.Context, key string) (time.Duration, error) {
	e, ok := m.values.GetIfPresent(key)
	if !ok || m.expired(e.expiresAt) {
		return 0, ErrNotFound
	}
	if e.expiresAt.IsZero() {
		return -1, nil
	}
	return e.expiresAt.Sub(m.now()), nil
}

func (m *Memory) SlideWindow(_ context.Context, key string, now time.Time, window time.Duration, limit int) (Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.calls%sweepEvery == 0 {
		m.sweep(now)
	}

	w, ok := m.windows[key]
	if !ok || now.After(w.expiresAt) {
		w = &slidingWindow{}
		m.windows[key] = w
	}

	// Stamps stay sorted even when callers race with clocks read before the
	// lock, so everything older than the window start is a prefix.
	cutoff := now.Add(-window).UnixMilli()
	if i, _ := slices.BinarySearch(w.stamps, cutoff); i > 0 {
		w.stamps = w.stamps[i:]
	}

	count := len(w.stamps)
	if count >= limit {
		return Window{Allowed: false, Count: count}, nil
	}

	stamp := now.UnixMilli()
	at, _ := slices.BinarySearch(w.stamps, stamp+1)
	w.stamps = slices.Insert(w.stamps, at, stamp)
	if exp := now.Add(window); exp.After(w.expiresAt) {
		w.expiresAt = exp
	}
	return Window{Allowed: true, Count: count + 1}, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error {
	m.values.StopAllGoroutines()
	return nil
}

func (m *Memory) expired(expiresAt time.Time) bool {
	return !expiresAt.IsZero() && !m.now().Before(expiresAt)
}

// sweep drops windows whose newest stamp has left the window. Caller holds m.mu.
func (m *Memory) sweep(now time.Time) {
	for k, w := range m.windows {
		if now.After(w.expiresAt) {
			delete(m.windows, k)
		}
	}
}
