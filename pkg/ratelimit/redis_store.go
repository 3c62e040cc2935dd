package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// slidingWindowScript prunes the window, counts it, and conditionally
// appends the new request in one atomic server-side execution. It returns
// {allowed, remaining, retry_after_ms}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count < limit then
  redis.call('ZADD', key, now, member)
  redis.call('PEXPIRE', key, window)
  return {1, limit - count - 1, 0}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local retry = 0
if oldest[2] then
  retry = (tonumber(oldest[2]) + window) - now
  if retry < 0 then retry = 0 end
end
return {0, 0, retry}
`)

// RedisWindowStore implements WindowStore on Redis sorted sets. Each window
// entry carries a unique member so concurrent same-millisecond requests
// occupy distinct slots, and the whole check-and-append runs inside one Lua
// script.
type RedisWindowStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisWindowStore creates a Redis-backed window store. The client is
// typically shared with the cache manager's Redis store.
func NewRedisWindowStore(client redis.Cmdable, keyPrefix string) *RedisWindowStore {
	return &RedisWindowStore{client: client, prefix: keyPrefix}
}

// Take runs the sliding-window script for the given key.
func (rs *RedisWindowStore) Take(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	nowMillis := time.Now().UnixMilli()
	windowMillis := window.Milliseconds()

	result, err := slidingWindowScript.Run(ctx, rs.client,
		[]string{rs.prefix + key},
		nowMillis, windowMillis, limit, memberID(),
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("sliding window script failed: %w", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 3 {
		return Decision{}, fmt.Errorf("unexpected script result: %v", result)
	}

	allowed, _ := values[0].(int64)
	remaining, _ := values[1].(int64)
	retryMillis, _ := values[2].(int64)

	return Decision{
		Allowed:    allowed == 1,
		Remaining:  int(remaining),
		RetryAfter: time.Duration(retryMillis) * time.Millisecond,
	}, nil
}
