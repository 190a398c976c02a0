package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter throttles outbound deliveries per key.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Close() error
}

// slidingWindow keeps one sorted-set member per admitted call and admits a
// new call while fewer than limit members fall inside the window.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, 0, ARGV[2])

local current = redis.call('ZCARD', key)
if current < limit then
	redis.call('ZADD', key, ARGV[1], ARGV[4])
	redis.call('EXPIRE', key, ARGV[5])
	return 1
end
return 0
`)

// RedisRateLimiter shares one sliding window across every replica talking
// to the same Redis.
type RedisRateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
	seq    atomic.Int64
}

func NewRedisRateLimiter(client *redis.Client, limit int, window time.Duration) (*RedisRateLimiter, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("rate limit must be positive, got %d", limit)
	}
	if window <= 0 {
		return nil, fmt.Errorf("rate limit window must be positive, got %s", window)
	}
	return &RedisRateLimiter{client: client, limit: int64(limit), window: window}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now().UnixNano()
	windowStart := now - r.window.Nanoseconds()
	member := strconv.FormatInt(now, 10) + "-" + strconv.FormatInt(r.seq.Add(1), 10)
	ttl := int64(r.window/time.Second) + 1

	result, err := slidingWindow.Run(ctx, r.client, []string{"ratelimit:" + key}, now, windowStart, r.limit, member, ttl).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}
	return result == 1, nil
}

// Close is a no-op; the client is owned by the caller.
func (r *RedisRateLimiter) Close() error {
	return nil
}

// NoOpRateLimiter always allows requests.
type NoOpRateLimiter struct{}

func (NoOpRateLimiter) Allow(context.Context, string) (bool, error) {
	return true, nil
}

func (NoOpRateLimiter) Close() error {
	return nil
}
