// Package ratelimit implements sliding-window admission control keyed by
// (identity, action). The production window store runs a single Lua script
// against Redis so that pruning, counting, and appending happen atomically:
// two concurrent requests can never both observe the last free slot.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Remaining  int           `json:"remaining"`
	RetryAfter time.Duration `json:"retry_after"`
}

// Rule defines one sliding window applied to an action.
type Rule struct {
	Name   string        `json:"name"`
	Limit  int           `json:"limit"`
	Window time.Duration `json:"window"`
}

// WindowStore records request timestamps per key and decides admission
// atomically for a single rule.
type WindowStore interface {
	Take(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// Limiter applies one or more window rules per (identity, action).
type Limiter struct {
	store    WindowStore
	logger   *slog.Logger
	failOpen bool

	mutex    sync.RWMutex
	rejected int64
	admitted int64
}

// NewLimiter creates a limiter over the given store. failOpen controls the
// behavior when the store itself errors: admit (the shared store being down
// should not lock every user out) or reject.
func NewLimiter(store WindowStore, failOpen bool) *Limiter {
	return &Limiter{
		store:    store,
		logger:   slog.Default().With("component", "rate-limiter"),
		failOpen: failOpen,
	}
}

// Allow checks every rule for the (identity, action) pair. The request is
// admitted only when all rules admit it; the decision reports the smallest
// remaining budget and the longest retry-after among rejecting rules.
func (l *Limiter) Allow(ctx context.Context, identity, action string, rules ...Rule) (Decision, error) {
	if len(rules) == 0 {
		return Decision{Allowed: true}, nil
	}

	combined := Decision{Allowed: true, Remaining: int(^uint(0) >> 1)}
	for _, rule := range rules {
		key := fmt.Sprintf("ratelimit:%s:%s:%s", identity, action, rule.Name)
		decision, err := l.store.Take(ctx, key, rule.Limit, rule.Window)
		if err != nil {
			l.logger.Warn("Rate limit check failed",
				"identity", identity,
				"action", action,
				"rule", rule.Name,
				"error", err,
			)
			if l.failOpen {
				continue
			}
			return Decision{Allowed: false, RetryAfter: rule.Window}, err
		}

		if !decision.Allowed {
			l.mutex.Lock()
			l.rejected++
			l.mutex.Unlock()

			l.logger.Warn("Rate limit exceeded",
				"identity", identity,
				"action", action,
				"rule", rule.Name,
				"limit", rule.Limit,
				"retry_after", decision.RetryAfter,
			)
			if decision.RetryAfter > combined.RetryAfter {
				combined.RetryAfter = decision.RetryAfter
			}
			combined.Allowed = false
			combined.Remaining = 0
		} else if decision.Remaining < combined.Remaining {
			combined.Remaining = decision.Remaining
		}
	}

	if combined.Allowed {
		l.mutex.Lock()
		l.admitted++
		l.mutex.Unlock()
	}
	return combined, nil
}

// Counters returns admitted/rejected totals for observability.
func (l *Limiter) Counters() (admitted, rejected int64) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.admitted, l.rejected
}

// MemoryWindowStore is an in-process WindowStore for tests and for degraded
// single-process operation. Admission is serialized per store, so the
// check-and-append is atomic.
type MemoryWindowStore struct {
	mutex   sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

// NewMemoryWindowStore creates an in-process window store.
func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Take prunes stale timestamps, then admits and records the request iff
// the window has room.
func (ms *MemoryWindowStore) Take(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	now := ms.now()
	cutoff := now.Add(-window)

	kept := ms.windows[key][:0]
	for _, ts := range ms.windows[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	ms.windows[key] = kept

	if len(kept) >= limit {
		retryAfter := kept[0].Add(window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Decision{Allowed: false, RetryAfter: retryAfter}, nil
	}

	ms.windows[key] = append(kept, now)
	return Decision{Allowed: true, Remaining: limit - len(kept) - 1}, nil
}

// memberID returns a unique member for a window entry so that two requests
// arriving in the same millisecond occupy distinct slots.
func memberID() string {
	return uuid.NewString()
}
