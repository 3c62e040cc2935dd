package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// SharedStore is the contract for the shared, durable cache layer. The
// Redis implementation is the production store; tests use an in-memory fake.
type SharedStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Stats() LayerMetrics
	Close() error
}

// RedisStore implements SharedStore on a Redis server.
type RedisStore struct {
	client    *redis.Client
	config    *RedisStoreConfig
	logger    *slog.Logger
	keyPrefix string

	metricsMu sync.RWMutex
	metrics   LayerMetrics
}

// RedisStoreConfig holds Redis connection and behavior settings.
type RedisStoreConfig struct {
	Address      string        `json:"address"`
	Password     string        `json:"password"`
	Database     int           `json:"database"`
	PoolSize     int           `json:"pool_size"`
	MinIdleConns int           `json:"min_idle_conns"`
	MaxRetries   int           `json:"max_retries"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`

	DefaultTTL   time.Duration `json:"default_ttl"`
	KeyPrefix    string        `json:"key_prefix"`
	MaxValueSize int           `json:"max_value_size"`
}

// getDefaultRedisStoreConfig returns default settings for the shared layer.
func getDefaultRedisStoreConfig() *RedisStoreConfig {
	return &RedisStoreConfig{
		Address:      "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		DefaultTTL:   1 * time.Hour,
		KeyPrefix:    "onboarding:rag:",
		MaxValueSize: 10 * 1024 * 1024,
	}
}

// NewRedisStore creates and pings a Redis-backed shared store.
func NewRedisStore(config *RedisStoreConfig) (*RedisStore, error) {
	if config == nil {
		config = getDefaultRedisStoreConfig()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.Database,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		MaxRetries:   config.MaxRetries,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	store := &RedisStore{
		client:    rdb,
		config:    config,
		logger:    slog.Default().With("component", "redis-store"),
		keyPrefix: config.KeyPrefix,
		metrics:   LayerMetrics{LastUpdated: time.Now()},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	store.logger.Info("Redis store initialized",
		"address", config.Address,
		"database", config.Database,
		"pool_size", config.PoolSize,
	)

	return store, nil
}

// Client exposes the underlying connection for components that need Redis
// primitives beyond get/set, such as the rate limiter's Lua script.
func (rs *RedisStore) Client() redis.Cmdable {
	return rs.client
}

// Get retrieves a value, reporting found=false on redis.Nil.
func (rs *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := rs.client.Get(ctx, rs.keyPrefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			rs.updateMetrics(func(m *LayerMetrics) {
				m.TotalRequests++
				m.Misses++
			})
			return nil, false, nil
		}
		rs.updateMetrics(func(m *LayerMetrics) {
			m.TotalRequests++
			m.Errors++
		})
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	rs.updateMetrics(func(m *LayerMetrics) {
		m.TotalRequests++
		m.Hits++
		m.HitRate = float64(m.Hits) / float64(m.TotalRequests)
	})
	return data, true, nil
}

// Set stores a value with the given TTL. A zero TTL uses the default.
func (rs *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = rs.config.DefaultTTL
	}
	if rs.config.MaxValueSize > 0 && len(value) > rs.config.MaxValueSize {
		rs.updateMetrics(func(m *LayerMetrics) { m.Errors++ })
		return fmt.Errorf("cache entry too large: %d bytes", len(value))
	}

	if err := rs.client.Set(ctx, rs.keyPrefix+key, value, ttl).Err(); err != nil {
		rs.updateMetrics(func(m *LayerMetrics) { m.Errors++ })
		return fmt.Errorf("redis set failed: %w", err)
	}

	rs.updateMetrics(func(m *LayerMetrics) { m.Sets++ })
	return nil
}

// Delete removes a key.
func (rs *RedisStore) Delete(ctx context.Context, key string) error {
	if err := rs.client.Del(ctx, rs.keyPrefix+key).Err(); err != nil {
		rs.updateMetrics(func(m *LayerMetrics) { m.Errors++ })
		return fmt.Errorf("redis delete failed: %w", err)
	}
	rs.updateMetrics(func(m *LayerMetrics) { m.Deletes++ })
	return nil
}

// Ping checks connectivity.
func (rs *RedisStore) Ping(ctx context.Context) error {
	return rs.client.Ping(ctx).Err()
}

// Stats returns a snapshot of the layer metrics.
func (rs *RedisStore) Stats() LayerMetrics {
	rs.metricsMu.RLock()
	defer rs.metricsMu.RUnlock()
	return rs.metrics
}

// Close closes the Redis connection.
func (rs *RedisStore) Close() error {
	rs.logger.Info("Closing Redis store connection")
	return rs.client.Close()
}

func (rs *RedisStore) updateMetrics(updater func(*LayerMetrics)) {
	rs.metricsMu.Lock()
	defer rs.metricsMu.Unlock()
	updater(&rs.metrics)
	rs.metrics.LastUpdated = time.Now()
}

// MemorySharedStore is an in-process SharedStore used by tests and by
// single-process deployments without Redis. It reuses the local layer
// implementation and is safe for concurrent use.
type MemorySharedStore struct {
	inner *MemoryCache
}

// NewMemorySharedStore creates an in-process shared store.
func NewMemorySharedStore(maxItems int, defaultTTL time.Duration) *MemorySharedStore {
	return &MemorySharedStore{
		inner: NewMemoryCache(&MemoryCacheConfig{
			MaxItems:        maxItems,
			DefaultTTL:      defaultTTL,
			CleanupInterval: time.Minute,
		}),
	}
}

func (ms *MemorySharedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, found := ms.inner.Get(key)
	return value, found, nil
}

func (ms *MemorySharedStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ms.inner.Set(key, value, ttl)
	return nil
}

func (ms *MemorySharedStore) Delete(ctx context.Context, key string) error {
	ms.inner.Delete(key)
	return nil
}

func (ms *MemorySharedStore) Ping(ctx context.Context) error { return nil }

func (ms *MemorySharedStore) Stats() LayerMetrics { return ms.inner.Stats() }

func (ms *MemorySharedStore) Close() error {
	ms.inner.Close()
	return nil
}
