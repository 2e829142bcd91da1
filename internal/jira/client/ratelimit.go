// Package client implements the outbound Jira REST v3 client: a
// sliding-window rate limiter shared across processes via the cache
// backend, a distributed token-refresh lock, and a circuit breaker —
// generalized from pkg/ratelimit's in-process APIRateLimiter, whose
// concurrency semaphore and exponential-backoff math this package keeps
// unchanged while swapping its mutex-guarded counters for a
// cache.CacheBackend sorted set so every replica of this service shares one
// Jira rate-limit budget.
package client

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/devos-platform/agent-orchestrator/internal/cache"
	"github.com/devos-platform/agent-orchestrator/internal/errs"
)

// RateLimiterConfig mirrors pkg/config's rate-limit fields, generalized to
// a requests-per-window shape instead of a flat per-request delay.
type RateLimiterConfig struct {
	WindowSize             time.Duration
	MaxRequestsPerWindow   int
	MaxConcurrentRequests  int
	ExponentialBackoffBase time.Duration
	MaxBackoffDelay        time.Duration
}

// RateLimiter is the seam the Client depends on.
type RateLimiter interface {
	Wait(ctx context.Context) error
	HandleStatusCode(ctx context.Context, statusCode int, retryAfterHeader string) error
	AcquireSlot(ctx context.Context) error
	ReleaseSlot()
}

// SlidingWindowLimiter implements RateLimiter against a shared
// cache.CacheBackend sorted set: each request adds a member scored by its
// own arrival time, ZRemRangeByScore trims anything older than WindowSize,
// and ZCard's count against MaxRequestsPerWindow decides whether to wait.
type SlidingWindowLimiter struct {
	cfg       RateLimiterConfig
	backend   cache.CacheBackend
	key       string
	semaphore chan struct{}

	mu                sync.Mutex
	consecutiveErrors int
	backoffUntil      time.Time
	sequence          int64
}

// NewSlidingWindowLimiter builds a limiter for one Jira integration
// (key scopes the shared window per workspace/integration pair).
func NewSlidingWindowLimiter(cfg RateLimiterConfig, backend cache.CacheBackend, key string) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		cfg:       cfg,
		backend:   backend,
		key:       "jira-ratelimit:" + key,
		semaphore: make(chan struct{}, cfg.MaxConcurrentRequests),
	}
}

// Wait fails fast with a RateLimitError if the shared window is already at
// capacity, or if an open exponential backoff period (from a prior 429)
// has not yet elapsed; otherwise it records this request's slot and returns.
func (l *SlidingWindowLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	backoffUntil := l.backoffUntil
	l.mu.Unlock()
	if wait := time.Until(backoffUntil); wait > 0 {
		return &errs.RateLimitError{RetryAfterSeconds: int(math.Ceil(wait.Seconds())), Message: "jira rate limit backoff in effect"}
	}

	now := time.Now()
	cutoff := now.Add(-l.cfg.WindowSize)
	if err := l.backend.ZRemRangeByScore(ctx, l.key, 0, float64(cutoff.UnixNano())); err != nil {
		return err
	}
	count, err := l.backend.ZCard(ctx, l.key)
	if err != nil {
		return err
	}
	if count >= int64(l.cfg.MaxRequestsPerWindow) {
		return &errs.RateLimitError{RetryAfterSeconds: 60, Message: "jira rate limit window is full"}
	}

	l.mu.Lock()
	l.sequence++
	member := fmt.Sprintf("%d-%d", now.UnixNano(), l.sequence)
	l.mu.Unlock()
	if err := l.backend.ZAdd(ctx, l.key, float64(now.UnixNano()), member); err != nil {
		return err
	}
	return l.backend.Expire(ctx, l.key, l.cfg.WindowSize)
}

// HandleStatusCode applies exponential backoff on 429, honoring a
// Retry-After header when it suggests a longer delay, and clears the
// consecutive-error count on any 2xx.
func (l *SlidingWindowLimiter) HandleStatusCode(ctx context.Context, statusCode int, retryAfterHeader string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if statusCode == 429 {
		l.consecutiveErrors++
		backoff := l.calculateBackoffDelay()
		l.backoffUntil = time.Now().Add(backoff)
		if retryAfterHeader != "" {
			if secs, err := strconv.Atoi(retryAfterHeader); err == nil {
				suggested := time.Duration(secs) * time.Second
				if suggested > backoff {
					l.backoffUntil = time.Now().Add(suggested)
				}
			}
		}
		return &errs.RateLimitError{RetryAfterSeconds: int(time.Until(l.backoffUntil).Seconds()), Message: "jira rate limit exceeded"}
	}

	if statusCode >= 200 && statusCode < 300 {
		l.consecutiveErrors = 0
	}
	return nil
}

func (l *SlidingWindowLimiter) calculateBackoffDelay() time.Duration {
	if l.consecutiveErrors <= 0 {
		return 0
	}
	exponent := float64(l.consecutiveErrors - 1)
	delay := time.Duration(float64(l.cfg.ExponentialBackoffBase) * math.Pow(2, exponent))
	if delay > l.cfg.MaxBackoffDelay {
		delay = l.cfg.MaxBackoffDelay
	}
	return delay
}

// AcquireSlot takes a local concurrency slot; concurrency limiting stays
// per-process while the request-rate window is shared.
func (l *SlidingWindowLimiter) AcquireSlot(ctx context.Context) error {
	select {
	case l.semaphore <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReleaseSlot releases a previously acquired concurrency slot.
func (l *SlidingWindowLimiter) ReleaseSlot() {
	select {
	case <-l.semaphore:
	default:
	}
}
