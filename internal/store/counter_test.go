package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCounterStore(t *testing.T) (*RedisCounterStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCounterStore(client, "test"), mr
}

func TestRedisCounterStore_IncrementReturnsRunningCount(t *testing.T) {
	s, _ := newTestCounterStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := s.Increment(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestRedisCounterStore_WindowAnchoredAtFirstIncrement(t *testing.T) {
	s, mr := newTestCounterStore(t)
	ctx := context.Background()

	_, err := s.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)

	// Later increments must not extend the window.
	mr.FastForward(30 * time.Second)
	_, err = s.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)

	mr.FastForward(31 * time.Second)

	count, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, count, "counter should be forgotten once the first-hit window elapses")
}

func TestRedisCounterStore_GetAbsentKey(t *testing.T) {
	s, _ := newTestCounterStore(t)

	count, err := s.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Zero(t, count)

	ttl, err := s.TTL(context.Background(), "missing")
	require.NoError(t, err)
	assert.Zero(t, ttl)
}

func TestRedisCounterStore_Reset(t *testing.T) {
	s, _ := newTestCounterStore(t)
	ctx := context.Background()

	_, err := s.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.Reset(ctx, "k"))

	count, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, count)
}
