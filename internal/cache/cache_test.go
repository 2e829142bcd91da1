package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/devos-platform/agent-orchestrator/internal/cache"
)

// backends runs each sub-test against both the in-memory backend and a
// miniredis-backed RedisBackend, so the two implementations are held to the
// identical contract.
func backends(t *testing.T) map[string]cache.CacheBackend {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return map[string]cache.CacheBackend{
		"memory": cache.NewMemoryBackend(),
		"redis":  cache.NewRedisBackend(redisClient),
	}
}

func TestSetNXIsExclusive(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ok, err := backend.SetNX(ctx, "lock:p1", "holder-a", time.Minute)
			require.NoError(t, err)
			require.True(t, ok)

			ok, err = backend.SetNX(ctx, "lock:p1", "holder-b", time.Minute)
			require.NoError(t, err)
			require.False(t, ok, "second SetNX on a held key must fail")

			val, found, err := backend.Get(ctx, "lock:p1")
			require.NoError(t, err)
			require.True(t, found)
			require.Equal(t, "holder-a", val)
		})
	}
}

func TestZPopMinPopsLowestScoreExactly(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, backend.ZAdd(ctx, "q", 5, "mid"))
			require.NoError(t, backend.ZAdd(ctx, "q", 1, "first"))
			require.NoError(t, backend.ZAdd(ctx, "q", 10, "last"))

			member, score, ok, err := backend.ZPopMin(ctx, "q")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "first", member)
			require.Equal(t, float64(1), score)

			card, err := backend.ZCard(ctx, "q")
			require.NoError(t, err)
			require.Equal(t, int64(2), card)
		})
	}
}

func TestZPopMinTieBreaksByInsertionOrder(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, backend.ZAdd(ctx, "q", 3, "alpha"))
			require.NoError(t, backend.ZAdd(ctx, "q", 3, "beta"))

			member, _, ok, err := backend.ZPopMin(ctx, "q")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "alpha", member, "equal scores must pop in insertion order")
		})
	}
}

func TestZRemRangeByScoreTrimsSlidingWindow(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, backend.ZAdd(ctx, "rate:i1", 100, "100"))
			require.NoError(t, backend.ZAdd(ctx, "rate:i1", 200, "200"))
			require.NoError(t, backend.ZAdd(ctx, "rate:i1", 300, "300"))

			require.NoError(t, backend.ZRemRangeByScore(ctx, "rate:i1", 0, 200))

			card, err := backend.ZCard(ctx, "rate:i1")
			require.NoError(t, err)
			require.Equal(t, int64(1), card)
		})
	}
}

func TestExpireAndDel(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, backend.Set(ctx, "k", "v", time.Minute))
			require.NoError(t, backend.Del(ctx, "k"))

			_, found, err := backend.Get(ctx, "k")
			require.NoError(t, err)
			require.False(t, found)
		})
	}
}
