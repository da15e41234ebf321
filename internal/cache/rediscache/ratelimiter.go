package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window counter shared by every worker hitting the
// same remote API.
type RateLimiter struct {
	c      *redis.Client
	key    string
	limit  int64
	window time.Duration
}

func NewRateLimiter(addr, key string, limit int64, window time.Duration) *RateLimiter {
	return NewRateLimiterFromClient(redis.NewClient(&redis.Options{Addr: addr}), key, limit, window)
}

func NewRateLimiterFromClient(c *redis.Client, key string, limit int64, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Second
	}
	return &RateLimiter{c: c, key: key, limit: limit, window: window}
}

// Allow делает INCR по ключу и ставит TTL, если ключ создаётся впервые.
// Возвращает (allowed, currentCount).
func (rl *RateLimiter) Allow(ctx context.Context) (bool, int64, error) {
	pipe := rl.c.TxPipeline()
	incr := pipe.Incr(ctx, rl.key)
	pipe.ExpireNX(ctx, rl.key, rl.window)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, 0, errors.Wrap(err, "redis ratelimit")
	}
	n := incr.Val()
	return n <= rl.limit, n, nil
}

// Wait blocks until the current window has room. A non-positive limit
// disables the limiter.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl.limit <= 0 {
		return nil
	}
	for {
		ok, _, err := rl.Allow(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		d, err := rl.c.PTTL(ctx, rl.key).Result()
		if err != nil {
			return errors.Wrap(err, "redis pttl")
		}
		if d <= 0 || d > rl.window {
			d = rl.window
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
