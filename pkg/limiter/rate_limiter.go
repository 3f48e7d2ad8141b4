package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimiter rate limiter interface
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// SlidingWindowLimiter counts events per key inside a rolling window using a
// Redis sorted set. Because the window lives in Redis it is shared across
// independent terminals, which a process-local limiter cannot do.
type SlidingWindowLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// NewSlidingWindowLimiter creates a new sliding window rate limiter
func NewSlidingWindowLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: prefix,
	}
}

var recordScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local window_seconds = tonumber(ARGV[3])

	redis.call('ZREMRANGEBYSCORE', key, 0, window_start)
	redis.call('ZADD', key, now, now .. '-' .. ARGV[4])
	redis.call('EXPIRE', key, window_seconds)
	return redis.call('ZCARD', key)
`)

// Record adds one event for the key and returns the count inside the window.
func (l *SlidingWindowLimiter) Record(ctx context.Context, key string) (int, error) {
	now := time.Now().UnixMilli()
	windowStart := now - l.window.Milliseconds()

	count, err := recordScript.Run(ctx, l.client,
		[]string{l.key(key)},
		now,
		windowStart,
		int(l.window.Seconds()),
		time.Now().UnixNano(),
	).Int()
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Allow reports whether the key is still under the limit without consuming a
// slot. Expired entries are trimmed first.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now().UnixMilli()
	windowStart := now - l.window.Milliseconds()
	rKey := l.key(key)

	if err := l.client.ZRemRangeByScore(ctx, rKey, "0", fmt.Sprintf("%d", windowStart)).Err(); err != nil {
		return false, err
	}
	count, err := l.client.ZCard(ctx, rKey).Result()
	if err != nil {
		return false, err
	}
	return count < int64(l.limit), nil
}

// Reset clears the window for a key.
func (l *SlidingWindowLimiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, l.key(key)).Err()
}

func (l *SlidingWindowLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", l.prefix, key)
}

// TokenBucketLimiter is a process-local token bucket built on
// golang.org/x/time/rate. It shields Redis from hot loops on one instance.
type TokenBucketLimiter struct {
	limiter *rate.Limiter
}

// NewTokenBucketLimiter creates a token bucket limiter with the given rate
// (events per second) and burst.
func NewTokenBucketLimiter(r float64, burst int) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		limiter: rate.NewLimiter(rate.Limit(r), burst),
	}
}

// Allow reports whether one event may proceed now.
func (l *TokenBucketLimiter) Allow(ctx context.Context, _ string) (bool, error) {
	return l.limiter.Allow(), nil
}
