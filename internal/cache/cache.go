// Package cache provides the single shared-cache abstraction used by every
// distributed-lock, rate-limit, and queue concern in this service
// (internal/pipeline's transition lock, internal/jira/client's rate window
// and token-refresh lock, internal/handoff's priority queue,
// internal/streaming's output ring buffer) — one interface instead of
// threading a concrete Redis client through every package, generalized from
// pkg/ratelimit's mutex-guarded counters into a backend shared across
// processes.
package cache

import (
	"context"
	"time"
)

// CacheBackend is implemented by RedisBackend (production), MemoryBackend
// (tests), and anything wrapping miniredis. Every method is
// atomic as a single call — callers must not assume any ordering guarantee
// beyond that.
type CacheBackend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX sets key to value only if it does not already exist, returning
	// true if the set happened. Used for distributed locks and
	// once-only registration (OAuth state, sync locks, token-refresh lock).
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Sorted-set operations back the rate-limit window and the handoff
	// priority queue.
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) error
	ZRem(ctx context.Context, key string, member string) error
	ZCard(ctx context.Context, key string) (int64, error)
	// ZPopMin atomically removes and returns the lowest-scored member, used
	// by the handoff queue's pop (never a score-range delete, since more than
	// one entry may share a score).
	ZPopMin(ctx context.Context, key string) (member string, score float64, ok bool, err error)
}
