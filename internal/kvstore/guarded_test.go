package kvstore

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-gateway/internal/logging"
)

// flakyStore fails every call with err while down is set.
type flakyStore struct {
	Store
	down  atomic.Bool
	calls atomic.Int32
	err   error
}

func (f *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	f.calls.Add(1)
	if f.down.Load() {
		return nil, f.err
	}
	return f.Store.Get(ctx, key)
}

func newFlaky(t *testing.T, err error) *flakyStore {
	return &flakyStore{Store: newTestMemory(t), err: err}
}

func TestGuarded_TripsAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	flaky := newFlaky(t, errors.New("connection refused"))
	flaky.down.Store(true)

	g := NewGuarded(flaky, GuardConfig{FailureThreshold: 3, Timeout: time.Hour}, logging.Discard())

	for i := 0; i < 3; i++ {
		_, err := g.Get(ctx, "k")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrUnavailable)
	}
	assert.Equal(t, gobreaker.StateOpen, g.State())

	_, err := g.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(3), flaky.calls.Load(), "open breaker must not reach the store")
}

func TestGuarded_MissesDoNotTrip(t *testing.T) {
	ctx := context.Background()
	g := NewGuarded(newFlaky(t, nil), GuardConfig{FailureThreshold: 2}, logging.Discard())

	for i := 0; i < 10; i++ {
		_, err := g.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, gobreaker.StateClosed, g.State())
}

func TestGuarded_PassesThrough(t *testing.T) {
	ctx := context.Background()
	g := NewGuarded(newTestMemory(t), GuardConfig{}, nil)

	require.NoError(t, g.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := g.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))

	ttl, err := g.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	w, err := g.SlideWindow(ctx, "rl:k", time.Now(), time.Minute, 1)
	require.NoError(t, err)
	assert.True(t, w.Allowed)

	require.NoError(t, g.Delete(ctx, "k"))
	require.NoError(t, g.Ping(ctx))
}
