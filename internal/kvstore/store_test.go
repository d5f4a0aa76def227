package kvstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises the behaviour every backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("get missing key", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "weather:nowhere")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("set then get", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, "weather:london", []byte(`{"temp":18.5}`), time.Minute))

		got, err := s.Get(ctx, "weather:london")
		require.NoError(t, err)
		assert.Equal(t, `{"temp":18.5}`, string(got))
	})

	t.Run("ttl reflects write", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Hour))

		ttl, err := s.TTL(ctx, "k")
		require.NoError(t, err)
		assert.InDelta(t, time.Hour.Seconds(), ttl.Seconds(), 2)

		_, err = s.TTL(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete removes keys", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, "a", []byte("1"), time.Minute))
		require.NoError(t, s.Set(ctx, "b", []byte("2"), time.Minute))
		require.NoError(t, s.Delete(ctx, "a", "b"))

		_, err := s.Get(ctx, "a")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.Get(ctx, "b")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("sliding window admits at most limit", func(t *testing.T) {
		s := newStore(t)
		base := time.Unix(1_700_000_000, 0)
		window := 60 * time.Second

		for i := 0; i < 100; i++ {
			w, err := s.SlideWindow(ctx, "rl:api", base, window, 100)
			require.NoError(t, err)
			require.True(t, w.Allowed, "call %d", i+1)
		}

		w, err := s.SlideWindow(ctx, "rl:api", base.Add(time.Second), window, 100)
		require.NoError(t, err)
		assert.False(t, w.Allowed)
		assert.Equal(t, 100, w.Count)

		// At exactly now-window the t=0 stamps are still inside the window.
		w, err = s.SlideWindow(ctx, "rl:api", base.Add(window), window, 100)
		require.NoError(t, err)
		assert.False(t, w.Allowed)

		w, err = s.SlideWindow(ctx, "rl:api", base.Add(61*time.Second), window, 100)
		require.NoError(t, err)
		assert.True(t, w.Allowed)
		assert.Equal(t, 1, w.Count)
	})

	t.Run("rejected calls do not consume slots", func(t *testing.T) {
		s := newStore(t)
		base := time.Unix(1_700_000_000, 0)
		window := 10 * time.Second

		for i := 0; i < 2; i++ {
			w, err := s.SlideWindow(ctx, "rl:k", base, window, 2)
			require.NoError(t, err)
			require.True(t, w.Allowed)
		}
		for i := 1; i <= 5; i++ {
			w, err := s.SlideWindow(ctx, "rl:k", base.Add(time.Duration(i)*time.Second), window, 2)
			require.NoError(t, err)
			require.False(t, w.Allowed)
		}

		// Only the two admitted stamps at t=0 existed, so t=11 is free again.
		w, err := s.SlideWindow(ctx, "rl:k", base.Add(11*time.Second), window, 2)
		require.NoError(t, err)
		assert.True(t, w.Allowed)
		assert.Equal(t, 1, w.Count)
	})

	t.Run("concurrent acquisitions never exceed limit", func(t *testing.T) {
		s := newStore(t)
		now := time.Unix(1_700_000_000, 0)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			allowed int
		)
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				w, err := s.SlideWindow(ctx, "rl:race", now, time.Minute, 10)
				if err == nil && w.Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 10, allowed)
	})

	t.Run("windows are independent per key", func(t *testing.T) {
		s := newStore(t)
		now := time.Unix(1_700_000_000, 0)

		for i := 0; i < 3; i++ {
			key := fmt.Sprintf("rl:user:%d", i)
			w, err := s.SlideWindow(ctx, key, now, time.Minute, 1)
			require.NoError(t, err)
			assert.True(t, w.Allowed, key)
		}
	})
}
