// pkg/ratelimit/ratelimit.go
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrExceeded is returned when a caller has used up its window.
var ErrExceeded = errors.New("rate limit exceeded")

// Limiter bounds attempts per key per window.
type Limiter interface {
	Allow(ctx context.Context, key string) error
}

// redisLimiter implements a fixed window counter shared across instances.
type redisLimiter struct {
	cli    *redis.Client
	log    *zap.SugaredLogger
	limit  int
	window time.Duration
}

func NewRedis(cli *redis.Client, limit int, window time.Duration, log *zap.SugaredLogger) Limiter {
	return &redisLimiter{cli: cli, log: log, limit: limit, window: window}
}

func (l *redisLimiter) Allow(ctx context.Context, key string) error {
	n, err := l.cli.Incr(ctx, "rl:"+key).Result()
	if err != nil {
		// Fail open: a broken limiter backend must not take auth down.
		l.log.Warnw("rate limiter unavailable", "err", err)
		return nil
	}
	if n == 1 {
		_ = l.cli.Expire(ctx, "rl:"+key, l.window).Err()
	}
	if int(n) > l.limit {
		return ErrExceeded
	}
	return nil
}

type nopLimiter struct{}

// NewNop returns a limiter that always allows.
func NewNop() Limiter { return nopLimiter{} }

func (nopLimiter) Allow(ctx context.Context, key string) error { return nil }
