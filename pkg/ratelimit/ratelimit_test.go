package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterAllowsUnderLimit(t *testing.T) {
	limiter := NewLimiter(NewMemoryWindowStore(), true)
	ctx := context.Background()
	rule := Rule{Name: "minute", Limit: 5, Window: time.Minute}

	for i := 0; i < 5; i++ {
		decision, err := limiter.Allow(ctx, "user-1", "query", rule)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, 4-i, decision.Remaining)
	}
}

func TestLimiterRejectsOverLimit(t *testing.T) {
	limiter := NewLimiter(NewMemoryWindowStore(), true)
	ctx := context.Background()
	rule := Rule{Name: "minute", Limit: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		decision, err := limiter.Allow(ctx, "user-1", "query", rule)
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}

	decision, err := limiter.Allow(ctx, "user-1", "query", rule)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Greater(t, decision.RetryAfter, time.Duration(0))
}

func TestLimiterIsolatesIdentities(t *testing.T) {
	limiter := NewLimiter(NewMemoryWindowStore(), true)
	ctx := context.Background()
	rule := Rule{Name: "minute", Limit: 1, Window: time.Minute}

	first, err := limiter.Allow(ctx, "user-1", "query", rule)
	require.NoError(t, err)
	require.True(t, first.Allowed)

	other, err := limiter.Allow(ctx, "user-2", "query", rule)
	require.NoError(t, err)
	assert.True(t, other.Allowed, "limits are per identity")
}

func TestLimiterMultipleRules(t *testing.T) {
	limiter := NewLimiter(NewMemoryWindowStore(), true)
	ctx := context.Background()
	rules := []Rule{
		{Name: "burst", Limit: 2, Window: time.Minute},
		{Name: "sustained", Limit: 100, Window: time.Hour},
	}

	for i := 0; i < 2; i++ {
		decision, err := limiter.Allow(ctx, "user-1", "query", rules...)
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}

	decision, err := limiter.Allow(ctx, "user-1", "query", rules...)
	require.NoError(t, err)
	assert.False(t, decision.Allowed, "the stricter rule must reject")
}

// No more than N requests may be admitted in one window even when the
// checks race.
func TestLimiterSoundnessUnderConcurrency(t *testing.T) {
	limiter := NewLimiter(NewMemoryWindowStore(), true)
	ctx := context.Background()
	rule := Rule{Name: "minute", Limit: 10, Window: time.Minute}

	var admitted int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := limiter.Allow(ctx, "user-1", "query", rule)
			if err == nil && decision.Allowed {
				atomic.AddInt64(&admitted, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), admitted)
}

func TestMemoryWindowStorePrunesStaleEntries(t *testing.T) {
	store := NewMemoryWindowStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		decision, err := store.Take(ctx, "k", 3, 50*time.Millisecond)
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}

	decision, err := store.Take(ctx, "k", 3, 50*time.Millisecond)
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	time.Sleep(60 * time.Millisecond)
	decision, err = store.Take(ctx, "k", 3, 50*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, decision.Allowed, "stale entries must be pruned from the window")
}

type failingWindowStore struct{}

func (failingWindowStore) Take(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	return Decision{}, fmt.Errorf("store unavailable")
}

func TestLimiterFailOpen(t *testing.T) {
	limiter := NewLimiter(failingWindowStore{}, true)

	decision, err := limiter.Allow(context.Background(), "user-1", "query",
		Rule{Name: "minute", Limit: 1, Window: time.Minute})
	require.NoError(t, err)
	assert.True(t, decision.Allowed, "store failure must not lock users out when failing open")
}

func TestLimiterFailClosed(t *testing.T) {
	limiter := NewLimiter(failingWindowStore{}, false)

	decision, err := limiter.Allow(context.Background(), "user-1", "query",
		Rule{Name: "minute", Limit: 1, Window: time.Minute})
	require.Error(t, err)
	assert.False(t, decision.Allowed)
}
