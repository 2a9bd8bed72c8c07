package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"tabgate/pkg/logger"
)

func newLimiter(t *testing.T, limit int, window time.Duration) (Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cli.Close() })
	return NewRedis(cli, limit, window, logger.Nop()), mr
}

func TestAllowWithinLimit(t *testing.T) {
	l, _ := newLimiter(t, 3, time.Minute)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow(ctx, "auth:t1:1.2.3.4"))
	}
	require.ErrorIs(t, l.Allow(ctx, "auth:t1:1.2.3.4"), ErrExceeded)
}

func TestKeysAreIndependent(t *testing.T) {
	l, _ := newLimiter(t, 1, time.Minute)
	ctx := context.Background()
	require.NoError(t, l.Allow(ctx, "auth:t1:1.2.3.4"))
	require.ErrorIs(t, l.Allow(ctx, "auth:t1:1.2.3.4"), ErrExceeded)
	require.NoError(t, l.Allow(ctx, "auth:t2:1.2.3.4"))
}

func TestWindowResets(t *testing.T) {
	l, mr := newLimiter(t, 1, time.Minute)
	ctx := context.Background()
	require.NoError(t, l.Allow(ctx, "auth:t1:1.2.3.4"))
	require.ErrorIs(t, l.Allow(ctx, "auth:t1:1.2.3.4"), ErrExceeded)

	mr.FastForward(2 * time.Minute)
	require.NoError(t, l.Allow(ctx, "auth:t1:1.2.3.4"))
}

func TestFailsOpenWhenBackendDown(t *testing.T) {
	l, mr := newLimiter(t, 1, time.Minute)
	mr.Close()
	require.NoError(t, l.Allow(context.Background(), "auth:t1:1.2.3.4"))
}

func TestNopAlwaysAllows(t *testing.T) {
	l := NewNop()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Allow(context.Background(), "k"))
	}
}
