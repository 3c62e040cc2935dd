package cache

import (
	"log/slog"
	"sync"
	"time"
)

// MemoryCache provides the in-process cache layer with LRU eviction.
// Values are opaque byte payloads; replacement is atomic under the cache
// mutex so readers never observe a half-written entry.
type MemoryCache struct {
	config   *MemoryCacheConfig
	logger   *slog.Logger
	items    map[string]*cacheItem
	lruList  *lruList
	mutex    sync.RWMutex
	stopChan chan struct{}
	stopOnce sync.Once

	metricsMu sync.RWMutex
	metrics   LayerMetrics
}

// MemoryCacheConfig holds configuration for the in-memory cache layer.
type MemoryCacheConfig struct {
	MaxItems        int           `json:"max_items"`
	DefaultTTL      time.Duration `json:"default_ttl"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
}

// LayerMetrics tracks hit/miss counters for one cache layer. It is a plain
// value type so snapshots copy freely; the owning layer guards its live
// instance with a separate mutex. The counters are observability-only and
// never drive correctness decisions.
type LayerMetrics struct {
	TotalRequests int64     `json:"total_requests"`
	Hits          int64     `json:"hits"`
	Misses        int64     `json:"misses"`
	Sets          int64     `json:"sets"`
	Deletes       int64     `json:"deletes"`
	Evictions     int64     `json:"evictions"`
	Errors        int64     `json:"errors"`
	HitRate       float64   `json:"hit_rate"`
	CurrentItems  int64     `json:"current_items"`
	LastUpdated   time.Time `json:"last_updated"`
}

type cacheItem struct {
	key          string
	value        []byte
	createdAt    time.Time
	lastAccessed time.Time
	expiresAt    time.Time
	accessCount  int64

	prev *cacheItem
	next *cacheItem
}

// lruList is a doubly-linked list ordered most- to least-recently used.
type lruList struct {
	head *cacheItem
	tail *cacheItem
	size int
}

// getDefaultMemoryCacheConfig returns default configuration for the local layer.
func getDefaultMemoryCacheConfig() *MemoryCacheConfig {
	return &MemoryCacheConfig{
		MaxItems:        10000,
		DefaultTTL:      5 * time.Minute,
		CleanupInterval: 1 * time.Minute,
	}
}

// NewMemoryCache creates a new in-memory cache layer.
func NewMemoryCache(config *MemoryCacheConfig) *MemoryCache {
	if config == nil {
		config = getDefaultMemoryCacheConfig()
	}
	if config.MaxItems <= 0 {
		config.MaxItems = getDefaultMemoryCacheConfig().MaxItems
	}

	mc := &MemoryCache{
		config:   config,
		logger:   slog.Default().With("component", "memory-cache"),
		items:    make(map[string]*cacheItem),
		lruList:  &lruList{},
		stopChan: make(chan struct{}),
		metrics:  LayerMetrics{LastUpdated: time.Now()},
	}

	if config.CleanupInterval > 0 {
		go mc.startCleanupRoutine()
	}

	return mc
}

// Get retrieves a value from the cache. Expired entries are treated as
// misses and purged.
func (mc *MemoryCache) Get(key string) ([]byte, bool) {
	now := time.Now()

	mc.mutex.Lock()
	item, exists := mc.items[key]
	if exists && now.After(item.expiresAt) {
		mc.removeItemLocked(item)
		exists = false
		item = nil
	}
	if exists {
		item.lastAccessed = now
		item.accessCount++
		mc.lruList.moveToFront(item)
	}
	var value []byte
	if exists {
		value = item.value
	}
	mc.mutex.Unlock()

	mc.updateMetrics(func(m *LayerMetrics) {
		m.TotalRequests++
		if exists {
			m.Hits++
		} else {
			m.Misses++
		}
		m.HitRate = float64(m.Hits) / float64(m.TotalRequests)
	})

	return value, exists
}

// Set stores a value with the given TTL, evicting the least-recently-used
// entry when the cache is full. A zero TTL uses the configured default.
func (mc *MemoryCache) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = mc.config.DefaultTTL
	}
	now := time.Now()

	mc.mutex.Lock()
	if existing, ok := mc.items[key]; ok {
		existing.value = value
		existing.createdAt = now
		existing.lastAccessed = now
		existing.expiresAt = now.Add(ttl)
		mc.lruList.moveToFront(existing)
		mc.mutex.Unlock()

		mc.updateMetrics(func(m *LayerMetrics) { m.Sets++ })
		return
	}

	var evicted int64
	for len(mc.items) >= mc.config.MaxItems {
		lru := mc.lruList.tail
		if lru == nil {
			break
		}
		mc.removeItemLocked(lru)
		evicted++
	}

	item := &cacheItem{
		key:          key,
		value:        value,
		createdAt:    now,
		lastAccessed: now,
		expiresAt:    now.Add(ttl),
		accessCount:  1,
	}
	mc.items[key] = item
	mc.lruList.addToFront(item)
	size := int64(len(mc.items))
	mc.mutex.Unlock()

	mc.updateMetrics(func(m *LayerMetrics) {
		m.Sets++
		m.Evictions += evicted
		m.CurrentItems = size
	})
}

// Delete removes a key from the cache.
func (mc *MemoryCache) Delete(key string) {
	mc.mutex.Lock()
	if item, ok := mc.items[key]; ok {
		mc.removeItemLocked(item)
	}
	size := int64(len(mc.items))
	mc.mutex.Unlock()

	mc.updateMetrics(func(m *LayerMetrics) {
		m.Deletes++
		m.CurrentItems = size
	})
}

// Len returns the current number of cached entries.
func (mc *MemoryCache) Len() int {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()
	return len(mc.items)
}

// Stats returns a snapshot of the layer metrics.
func (mc *MemoryCache) Stats() LayerMetrics {
	mc.metricsMu.RLock()
	stats := mc.metrics
	mc.metricsMu.RUnlock()

	stats.CurrentItems = int64(mc.Len())
	return stats
}

// Close stops the background cleanup routine.
func (mc *MemoryCache) Close() {
	mc.stopOnce.Do(func() { close(mc.stopChan) })
}

// removeItemLocked removes an item; the caller holds the write lock.
func (mc *MemoryCache) removeItemLocked(item *cacheItem) {
	delete(mc.items, item.key)
	mc.lruList.remove(item)
}

func (mc *MemoryCache) startCleanupRoutine() {
	ticker := time.NewTicker(mc.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mc.purgeExpired()
		case <-mc.stopChan:
			return
		}
	}
}

func (mc *MemoryCache) purgeExpired() {
	now := time.Now()
	var purged int64

	mc.mutex.Lock()
	for _, item := range mc.items {
		if now.After(item.expiresAt) {
			mc.removeItemLocked(item)
			purged++
		}
	}
	size := int64(len(mc.items))
	mc.mutex.Unlock()

	if purged > 0 {
		mc.updateMetrics(func(m *LayerMetrics) {
			m.Evictions += purged
			m.CurrentItems = size
		})
		mc.logger.Debug("Expired cache entries purged", "count", purged)
	}
}

func (mc *MemoryCache) updateMetrics(updater func(*LayerMetrics)) {
	mc.metricsMu.Lock()
	defer mc.metricsMu.Unlock()
	updater(&mc.metrics)
	mc.metrics.LastUpdated = time.Now()
}

// LRU list operations

func (l *lruList) addToFront(item *cacheItem) {
	item.prev = nil
	item.next = l.head
	if l.head != nil {
		l.head.prev = item
	}
	l.head = item
	if l.tail == nil {
		l.tail = item
	}
	l.size++
}

func (l *lruList) remove(item *cacheItem) {
	if item.prev != nil {
		item.prev.next = item.next
	} else {
		l.head = item.next
	}
	if item.next != nil {
		item.next.prev = item.prev
	} else {
		l.tail = item.prev
	}
	item.prev = nil
	item.next = nil
	l.size--
}

func (l *lruList) moveToFront(item *cacheItem) {
	if l.head == item {
		return
	}
	l.remove(item)
	l.addToFront(item)
}
