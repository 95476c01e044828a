// Package ratelimit implements a fixed-window counter in Redis.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ratelimit:"

type Limiter struct {
	rdb    redis.UniversalClient
	limit  int
	window time.Duration
	now    func() time.Time
}

func New(rdb redis.UniversalClient, limit int, window time.Duration) *Limiter {
	if window <= 0 {
		window = time.Second
	}
	return &Limiter{rdb: rdb, limit: limit, window: window, now: time.Now}
}

// Allow counts one hit against key and reports whether it stays within the
// limit for the current window. A non-positive limit allows everything.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}
	k := l.windowKey(key, l.now())
	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}
	return incr.Val() <= int64(l.limit), nil
}

func (l *Limiter) windowKey(key string, now time.Time) string {
	slot := now.UnixNano() / int64(l.window)
	return keyPrefix + key + ":" + strconv.FormatInt(slot, 10)
}
