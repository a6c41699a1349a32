package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct{}

func (failingStore) Take(context.Context, string, time.Time, time.Duration, int) (bool, time.Time, error) {
	return false, time.Time{}, errors.New("relation \"rate_limit_hits\" does not exist")
}

// slowStore delays every call so concurrent callers overlap.
type slowStore struct {
	Store
	delay time.Duration
}

func (s slowStore) Take(ctx context.Context, key string, now time.Time, window time.Duration, max int) (bool, time.Time, error) {
	time.Sleep(s.delay)
	return s.Store.Take(ctx, key, now, window, max)
}

func TestLimiterFourthCallInWindowIsLimited(t *testing.T) {
	ctx := context.Background()
	limiter := New(NewMemoryStore(), 3, time.Minute)
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	current := base
	limiter.now = func() time.Time { return current }

	key := ExecutionKey(uuid.New(), uuid.New())
	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Allow(ctx, key))
		current = current.Add(5 * time.Second)
	}

	err := limiter.Allow(ctx, key)
	var limited *LimitedError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, 45*time.Second, limited.RetryAfter)
	assert.Equal(t, 45, limited.RetryAfterSeconds())
	assert.Contains(t, limited.Error(), "retry in 45s")
}

func TestLimiterWindowRollsOver(t *testing.T) {
	ctx := context.Background()
	limiter := New(NewMemoryStore(), 3, time.Minute)
	current := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Allow(ctx, "k"))
	}
	require.Error(t, limiter.Allow(ctx, "k"))

	current = current.Add(61 * time.Second)
	assert.NoError(t, limiter.Allow(ctx, "k"))
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	limiter := New(NewMemoryStore(), 1, time.Minute)

	require.NoError(t, limiter.Allow(ctx, "a"))
	assert.Error(t, limiter.Allow(ctx, "a"))
	assert.NoError(t, limiter.Allow(ctx, "b"))
}

func TestLimiterSkipsWhenStoreFails(t *testing.T) {
	limiter := New(failingStore{}, 1, time.Minute)
	for i := 0; i < 5; i++ {
		assert.NoError(t, limiter.Allow(context.Background(), "k"))
	}
}

func TestNilLimiterAllows(t *testing.T) {
	var limiter *Limiter
	assert.NoError(t, limiter.Allow(context.Background(), "k"))
}

func TestLimiterConcurrentCallsRespectMax(t *testing.T) {
	limiter := New(slowStore{Store: NewMemoryStore(), delay: 5 * time.Millisecond}, 3, time.Minute)

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Allow(context.Background(), "k") == nil {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(3), allowed.Load())
}

func TestMemoryStoreSweepDropsExpired(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	ok, _, err := store.Take(context.Background(), "old", now.Add(-2*time.Minute), time.Minute, 1)
	require.NoError(t, err)
	require.True(t, ok)
	ok, _, err = store.Take(context.Background(), "new", now, time.Minute, 1)
	require.NoError(t, err)
	require.True(t, ok)

	store.Sweep(now)

	assert.NotContains(t, store.hits, "old")
	assert.Len(t, store.hits["new"], 1)
}
