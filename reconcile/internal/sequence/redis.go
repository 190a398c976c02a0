package sequence

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSequencer uses INCR on two keys. Durability follows the Redis
// persistence settings; with AOF enabled the counters survive restarts.
type RedisSequencer struct {
	client   *redis.Client
	batchKey string
	traceKey string
}

// NewRedisSequencer stores counters under prefix+":batch_id" and
// prefix+":trace_id".
func NewRedisSequencer(client *redis.Client, prefix string) *RedisSequencer {
	return &RedisSequencer{
		client:   client,
		batchKey: prefix + ":batch_id",
		traceKey: prefix + ":trace_id",
	}
}

func (s *RedisSequencer) NextBatchID(ctx context.Context) (int64, error) {
	return s.incr(ctx, s.batchKey)
}

func (s *RedisSequencer) NextTraceID(ctx context.Context) (int64, error) {
	return s.incr(ctx, s.traceKey)
}

func (s *RedisSequencer) incr(ctx context.Context, key string) (int64, error) {
	id, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrUnavailable, key, err)
	}
	return id, nil
}

// Seed raises both counters to at least the given floors. Used when
// migrating from another backend so new ids stay above historical ones.
func (s *RedisSequencer) Seed(ctx context.Context, batchFloor, traceFloor int64) error {
	script := redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
if cur < tonumber(ARGV[1]) then
	redis.call('SET', KEYS[1], ARGV[1])
end
return 0
`)
	if err := script.Run(ctx, s.client, []string{s.batchKey}, batchFloor).Err(); err != nil {
		return fmt.Errorf("%w: seed %s: %v", ErrUnavailable, s.batchKey, err)
	}
	if err := script.Run(ctx, s.client, []string{s.traceKey}, traceFloor).Err(); err != nil {
		return fmt.Errorf("%w: seed %s: %v", ErrUnavailable, s.traceKey, err)
	}
	return nil
}
