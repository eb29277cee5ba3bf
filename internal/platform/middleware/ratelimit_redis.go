package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter counts requests per fixed window in Redis, so every server
// instance draws from the same budget.
type RedisLimiter struct {
	rdb    *redis.Client
	prefix string
	limit  int64
	window time.Duration
	now    func() time.Time
}

// NewRedisLimiter allows limit requests per key in each window.
func NewRedisLimiter(rdb *redis.Client, prefix string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, prefix: prefix, limit: int64(limit), window: window, now: time.Now}
}

// WindowFor converts a token bucket rate and burst into the equivalent
// fixed window: burst requests per burst/rate seconds.
func WindowFor(rate float64, burst int) time.Duration {
	if rate <= 0 || burst <= 0 {
		return time.Minute
	}
	return time.Duration(float64(burst) / rate * float64(time.Second))
}

// windowKey names the counter for key in the window containing now, and
// returns how long that window has left.
func windowKey(prefix, key string, now time.Time, window time.Duration) (string, time.Duration) {
	slot := now.UnixNano() / int64(window)
	end := time.Unix(0, (slot+1)*int64(window))
	return fmt.Sprintf("%s:%s:%d", prefix, key, slot), end.Sub(now)
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	k, remaining := windowKey(l.prefix, key, l.now(), l.window)

	var incr *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.Expire(ctx, k, l.window+time.Second)
		return nil
	})
	if err != nil {
		return true, 0, fmt.Errorf("rate limit counter: %w", err)
	}
	if incr.Val() > l.limit {
		return false, remaining, nil
	}
	return true, 0, nil
}
