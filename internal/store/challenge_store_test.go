package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/bastion/internal/models"
)

func newTestChallengeStore(t *testing.T) *ChallengeStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewChallengeStore(client)
}

func testChallenge(token string) *models.Challenge {
	now := time.Now()
	return &models.Challenge{
		Token:     token,
		UserID:    "user123",
		Method:    models.MethodTOTP,
		Status:    models.ChallengePending,
		CreatedAt: now,
		ExpiresAt: now.Add(10 * time.Minute),
		LineageID: "lineage-1",
	}
}

func TestChallengeStore_CreateAndGet(t *testing.T) {
	s := newTestChallengeStore(t)
	ctx := context.Background()

	ch := testChallenge("tok1")
	require.NoError(t, s.Create(ctx, ch))

	got, err := s.Get(ctx, "tok1")
	require.NoError(t, err)
	assert.Equal(t, ch.UserID, got.UserID)
	assert.Equal(t, models.MethodTOTP, got.Method)
	assert.Equal(t, models.ChallengePending, got.Status)
	assert.Equal(t, "lineage-1", got.LineageID)
	assert.Zero(t, got.AttemptsUsed)
	assert.WithinDuration(t, ch.ExpiresAt, got.ExpiresAt, time.Second)
}

func TestChallengeStore_GetMissing(t *testing.T) {
	s := newTestChallengeStore(t)

	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestChallengeStore_MarkVerifiedWinsExactlyOnce(t *testing.T) {
	s := newTestChallengeStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, testChallenge("tok1")))

	won, err := s.MarkVerified(ctx, "tok1")
	require.NoError(t, err)
	assert.True(t, won)

	// The losing side of the race observes the terminal status.
	won, err = s.MarkVerified(ctx, "tok1")
	require.NoError(t, err)
	assert.False(t, won)

	got, err := s.Get(ctx, "tok1")
	require.NoError(t, err)
	assert.Equal(t, models.ChallengeVerified, got.Status)
}

func TestChallengeStore_SupersedeOnlyPending(t *testing.T) {
	s := newTestChallengeStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, testChallenge("old")))

	won, err := s.Supersede(ctx, "old", "new")
	require.NoError(t, err)
	assert.True(t, won)

	got, err := s.Get(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, models.ChallengeExpired, got.Status)
	assert.Equal(t, "new", got.SupersededBy)

	// A superseded challenge cannot be verified or superseded again.
	won, err = s.MarkVerified(ctx, "old")
	require.NoError(t, err)
	assert.False(t, won)

	won, err = s.Supersede(ctx, "old", "other")
	require.NoError(t, err)
	assert.False(t, won)
}

func TestChallengeStore_IncrementAttempts(t *testing.T) {
	s := newTestChallengeStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, testChallenge("tok1")))

	for want := 1; want <= 3; want++ {
		got, err := s.IncrementAttempts(ctx, "tok1")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestChallengeStore_SetStatus(t *testing.T) {
	s := newTestChallengeStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, testChallenge("tok1")))

	require.NoError(t, s.SetStatus(ctx, "tok1", models.ChallengeExhausted))

	got, err := s.Get(ctx, "tok1")
	require.NoError(t, err)
	assert.Equal(t, models.ChallengeExhausted, got.Status)
}
