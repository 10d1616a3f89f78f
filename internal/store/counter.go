package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CounterStore is the substrate for every quota in the system: a key-value
// store with per-key expiry and atomic increment. Counters are forgotten
// automatically once their TTL elapses; no sweep is required.
type CounterStore interface {
	// Increment atomically increments the counter and returns the new count.
	// The TTL is set when the counter is created and never extended, so the
	// window is anchored at the first increment.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Get returns the current count, or 0 for an absent or expired key.
	Get(ctx context.Context, key string) (int64, error)

	// TTL returns how long until the counter is forgotten. Absent keys
	// return 0.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Reset removes the counter.
	Reset(ctx context.Context, key string) error
}

// incrWithTTL sets the expiry in the same atomic step as the first
// increment, so a crash between INCR and EXPIRE can never leave an
// immortal counter.
var incrWithTTL = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// RedisCounterStore implements CounterStore on a redis client.
type RedisCounterStore struct {
	client *redis.Client
	prefix string
}

// NewRedisCounterStore creates a counter store with the given key prefix.
func NewRedisCounterStore(client *redis.Client, prefix string) *RedisCounterStore {
	if prefix == "" {
		prefix = "ctr"
	}
	return &RedisCounterStore{client: client, prefix: prefix}
}

func (s *RedisCounterStore) key(key string) string {
	return s.prefix + ":" + key
}

func (s *RedisCounterStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := incrWithTTL.Run(ctx, s.client, []string{s.key(key)}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("counter increment failed: %w", err)
	}
	return count, nil
}

func (s *RedisCounterStore) Get(ctx context.Context, key string) (int64, error) {
	count, err := s.client.Get(ctx, s.key(key)).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("counter get failed: %w", err)
	}
	return count, nil
}

func (s *RedisCounterStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.PTTL(ctx, s.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("counter ttl failed: %w", err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

func (s *RedisCounterStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("counter reset failed: %w", err)
	}
	return nil
}
