package cache

import (
	"context"
	"log/slog"
	"time"
)

// TieredCache is the two-layer cache manager used by every pipeline
// component: a bounded in-process LRU layer in front of a shared durable
// store. Reads consult local then shared and promote shared hits; writes go
// through both layers before acknowledging. The local layer is best-effort:
// losing it never affects correctness because the shared layer is
// authoritative.
type TieredCache struct {
	local  *MemoryCache
	shared SharedStore
	config *TieredCacheConfig
	logger *slog.Logger
}

// TieredCacheConfig holds tiered cache behavior settings.
type TieredCacheConfig struct {
	// LocalTTL caps how long a promoted or written entry lives in the
	// local layer regardless of the shared TTL.
	LocalTTL time.Duration `json:"local_ttl"`
}

// TieredStats aggregates per-layer statistics for observability.
type TieredStats struct {
	Local  LayerMetrics `json:"local"`
	Shared LayerMetrics `json:"shared"`
}

// HitRate returns the combined hit rate across both layers.
func (ts TieredStats) HitRate() float64 {
	total := ts.Local.TotalRequests + ts.Shared.TotalRequests
	if total == 0 {
		return 0
	}
	return float64(ts.Local.Hits+ts.Shared.Hits) / float64(total)
}

// NewTieredCache creates a cache manager over the given layers.
func NewTieredCache(local *MemoryCache, shared SharedStore, config *TieredCacheConfig) *TieredCache {
	if config == nil {
		config = &TieredCacheConfig{LocalTTL: 5 * time.Minute}
	}
	return &TieredCache{
		local:  local,
		shared: shared,
		config: config,
		logger: slog.Default().With("component", "tiered-cache"),
	}
}

// Get returns the cached value for key, consulting the local layer first
// and promoting shared hits into it.
func (tc *TieredCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if value, found := tc.local.Get(key); found {
		return value, true
	}

	value, found, err := tc.shared.Get(ctx, key)
	if err != nil {
		tc.logger.Warn("Shared cache read failed", "key", key, "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}

	tc.local.Set(key, value, tc.config.LocalTTL)
	return value, true
}

// Set writes through both layers. The shared write is authoritative; a
// failed shared write is reported even when the local write succeeded.
func (tc *TieredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	localTTL := ttl
	if tc.config.LocalTTL > 0 && (localTTL <= 0 || localTTL > tc.config.LocalTTL) {
		localTTL = tc.config.LocalTTL
	}
	tc.local.Set(key, value, localTTL)

	if err := tc.shared.Set(ctx, key, value, ttl); err != nil {
		tc.logger.Warn("Shared cache write failed", "key", key, "error", err)
		return err
	}
	return nil
}

// Delete removes the key from both layers.
func (tc *TieredCache) Delete(ctx context.Context, key string) error {
	tc.local.Delete(key)
	return tc.shared.Delete(ctx, key)
}

// Stats returns per-layer statistics.
func (tc *TieredCache) Stats() TieredStats {
	return TieredStats{
		Local:  tc.local.Stats(),
		Shared: tc.shared.Stats(),
	}
}

// Close releases both layers.
func (tc *TieredCache) Close() error {
	tc.local.Close()
	return tc.shared.Close()
}
