package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTieredCache(t *testing.T, localMax int) (*TieredCache, *MemoryCache, *MemorySharedStore) {
	t.Helper()
	local := NewMemoryCache(&MemoryCacheConfig{
		MaxItems:        localMax,
		DefaultTTL:      time.Minute,
		CleanupInterval: time.Minute,
	})
	shared := NewMemorySharedStore(1000, time.Minute)
	tc := NewTieredCache(local, shared, &TieredCacheConfig{LocalTTL: time.Minute})
	t.Cleanup(func() { tc.Close() })
	return tc, local, shared
}

func TestTieredCacheSetThenGet(t *testing.T) {
	tc, _, _ := newTestTieredCache(t, 100)
	ctx := context.Background()

	require.NoError(t, tc.Set(ctx, "key-1", []byte("value-1"), time.Minute))

	value, found := tc.Get(ctx, "key-1")
	require.True(t, found)
	assert.Equal(t, []byte("value-1"), value)
}

func TestTieredCacheMiss(t *testing.T) {
	tc, _, _ := newTestTieredCache(t, 100)

	_, found := tc.Get(context.Background(), "absent")
	assert.False(t, found)
}

func TestTieredCacheTTLExpiry(t *testing.T) {
	tc, _, _ := newTestTieredCache(t, 100)
	ctx := context.Background()

	require.NoError(t, tc.Set(ctx, "short", []byte("v"), 30*time.Millisecond))

	_, found := tc.Get(ctx, "short")
	require.True(t, found)

	time.Sleep(60 * time.Millisecond)
	_, found = tc.Get(ctx, "short")
	assert.False(t, found, "entry must be treated as a miss after TTL expiry")
}

func TestTieredCachePromotesSharedHit(t *testing.T) {
	tc, local, shared := newTestTieredCache(t, 100)
	ctx := context.Background()

	// Value present only in the shared layer.
	require.NoError(t, shared.Set(ctx, "promoted", []byte("from-shared"), time.Minute))
	_, found := local.Get("promoted")
	require.False(t, found)

	value, found := tc.Get(ctx, "promoted")
	require.True(t, found)
	assert.Equal(t, []byte("from-shared"), value)

	localValue, found := local.Get("promoted")
	require.True(t, found, "shared hit must be promoted into the local layer")
	assert.Equal(t, []byte("from-shared"), localValue)
}

func TestTieredCacheWriteThrough(t *testing.T) {
	tc, local, shared := newTestTieredCache(t, 100)
	ctx := context.Background()

	require.NoError(t, tc.Set(ctx, "both", []byte("v"), time.Minute))

	_, foundLocal := local.Get("both")
	_, foundShared, err := shared.Get(ctx, "both")
	require.NoError(t, err)
	assert.True(t, foundLocal)
	assert.True(t, foundShared)
}

func TestTieredCacheDelete(t *testing.T) {
	tc, local, shared := newTestTieredCache(t, 100)
	ctx := context.Background()

	require.NoError(t, tc.Set(ctx, "gone", []byte("v"), time.Minute))
	require.NoError(t, tc.Delete(ctx, "gone"))

	_, foundLocal := local.Get("gone")
	_, foundShared, err := shared.Get(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, foundLocal)
	assert.False(t, foundShared)
}

func TestMemoryCacheLRUEviction(t *testing.T) {
	mc := NewMemoryCache(&MemoryCacheConfig{
		MaxItems:        3,
		DefaultTTL:      time.Minute,
		CleanupInterval: time.Minute,
	})
	defer mc.Close()

	mc.Set("a", []byte("1"), time.Minute)
	mc.Set("b", []byte("2"), time.Minute)
	mc.Set("c", []byte("3"), time.Minute)

	// Touch "a" so "b" becomes the least recently used.
	_, found := mc.Get("a")
	require.True(t, found)

	mc.Set("d", []byte("4"), time.Minute)

	_, found = mc.Get("b")
	assert.False(t, found, "least recently used entry must be evicted")
	_, found = mc.Get("a")
	assert.True(t, found)
	_, found = mc.Get("d")
	assert.True(t, found)
	assert.Equal(t, 3, mc.Len())
}

func TestMemoryCacheConcurrentAccess(t *testing.T) {
	mc := NewMemoryCache(&MemoryCacheConfig{
		MaxItems:        64,
		DefaultTTL:      time.Minute,
		CleanupInterval: time.Minute,
	})
	defer mc.Close()

	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("key-%d", i%100)
				mc.Set(key, []byte{byte(g)}, time.Minute)
				mc.Get(key)
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}
	assert.LessOrEqual(t, mc.Len(), 64)
}

func TestTieredStatsHitRate(t *testing.T) {
	tc, _, _ := newTestTieredCache(t, 100)
	ctx := context.Background()

	require.NoError(t, tc.Set(ctx, "k", []byte("v"), time.Minute))
	tc.Get(ctx, "k")
	tc.Get(ctx, "missing")

	stats := tc.Stats()
	assert.Greater(t, stats.Local.TotalRequests, int64(0))
	assert.GreaterOrEqual(t, stats.HitRate(), 0.0)
	assert.LessOrEqual(t, stats.HitRate(), 1.0)
}

func TestStatsSnapshotIsDetached(t *testing.T) {
	tc, _, _ := newTestTieredCache(t, 100)
	ctx := context.Background()

	require.NoError(t, tc.Set(ctx, "k1", []byte("v"), time.Minute))
	before := tc.Stats()
	require.Equal(t, int64(1), before.Local.Sets)

	require.NoError(t, tc.Set(ctx, "k2", []byte("v"), time.Minute))
	tc.Get(ctx, "k1")

	after := tc.Stats()
	assert.Equal(t, int64(1), before.Local.Sets,
		"an earlier snapshot must not see later activity")
	assert.Equal(t, int64(2), after.Local.Sets)

	// Snapshots are plain values; copying one around is safe.
	copied := after
	copied.Local.Sets = 99
	assert.Equal(t, int64(2), tc.Stats().Local.Sets)
}
