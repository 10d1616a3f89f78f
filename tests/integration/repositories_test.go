package integration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/bastion/internal/models"
)

var (
	setupOnce sync.Once
	testDB    *TestDB
	setupErr  error
)

// requireTestDB starts the shared postgres container on first use. Tests
// are skipped when docker is unavailable or -short is set.
func requireTestDB(t *testing.T) *TestDB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	setupOnce.Do(func() {
		testDB, setupErr = SetupTestDatabase(context.Background())
	})
	if setupErr != nil {
		t.Skipf("postgres container unavailable: %v", setupErr)
	}

	t.Cleanup(func() {
		require.NoError(t, testDB.CleanupTables(context.Background()))
	})
	return testDB
}

func TestUserRepository_GetByEmail(t *testing.T) {
	db := requireTestDB(t)
	ctx := context.Background()
	users, _, _, _ := InitializeRepositories(db.DB)

	seeded, err := SeedUser(ctx, db.Pool, "user@example.com", "hunter22", true)
	require.NoError(t, err)

	got, err := users.GetByEmail(ctx, "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, got.ID)
	assert.Equal(t, "active", got.Status)
	assert.True(t, got.TOTPEnabled)

	byID, err := users.GetByID(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", byID.Email)

	_, err = users.GetByEmail(ctx, "nobody@example.com")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestSecurityStateRepository_FailureLifecycle(t *testing.T) {
	db := requireTestDB(t)
	ctx := context.Background()
	_, _, states, _ := InitializeRepositories(db.DB)
	subject := "user@example.com"

	// Absent subject reads as the zero state.
	state, err := states.Get(ctx, subject)
	require.NoError(t, err)
	assert.Zero(t, state.ConsecutiveFailures)
	assert.False(t, state.Locked(time.Now()))

	for want := 1; want <= 3; want++ {
		n, err := states.IncrementFailures(ctx, subject)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	require.NoError(t, states.ResetFailures(ctx, subject))
	state, err = states.Get(ctx, subject)
	require.NoError(t, err)
	assert.Zero(t, state.ConsecutiveFailures)
}

func TestSecurityStateRepository_LockoutMonotonic(t *testing.T) {
	db := requireTestDB(t)
	ctx := context.Background()
	_, _, states, _ := InitializeRepositories(db.DB)
	subject := "user@example.com"

	far := time.Now().Add(time.Hour).UTC()
	near := time.Now().Add(10 * time.Minute).UTC()

	require.NoError(t, states.Lock(ctx, subject, far, 2))
	// A competing shorter lock must never shorten the existing one.
	require.NoError(t, states.Lock(ctx, subject, near, 1))

	state, err := states.Get(ctx, subject)
	require.NoError(t, err)
	require.NotNil(t, state.LockedUntil)
	assert.WithinDuration(t, far, *state.LockedUntil, 2*time.Second)
	assert.True(t, state.Locked(time.Now()))

	require.NoError(t, states.ClearLockout(ctx, subject))
	state, err = states.Get(ctx, subject)
	require.NoError(t, err)
	assert.False(t, state.Locked(time.Now()))
	assert.Zero(t, state.LockoutTier)
}

func TestLoginAttemptRepository_RecordAndHistory(t *testing.T) {
	db := requireTestDB(t)
	ctx := context.Background()
	_, attempts, _, _ := InitializeRepositories(db.DB)
	subject := "user@example.com"

	reason := "invalid_credentials"
	require.NoError(t, attempts.Record(ctx, &models.LoginAttempt{
		Subject:       subject,
		IPAddress:     "203.0.113.9",
		UserAgent:     "test-agent",
		Success:       false,
		FailureReason: &reason,
		ExpiresAt:     time.Now().Add(24 * time.Hour),
	}))
	require.NoError(t, attempts.Record(ctx, &models.LoginAttempt{
		Subject:           subject,
		IPAddress:         "203.0.113.9",
		UserAgent:         "test-agent",
		DeviceFingerprint: "fp-1",
		Success:           true,
		Anomalous:         true,
		AnomalyReasons:    []string{"new_country", "new_device"},
		Country:           "US",
		Region:            "WA",
		City:              "Seattle",
		ExpiresAt:         time.Now().Add(24 * time.Hour),
	}))

	history, err := attempts.RecentSuccesses(ctx, subject, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, history, 1, "failures are excluded from the known set")
	assert.Equal(t, "US", history[0].Country)
	assert.Equal(t, []string{"new_country", "new_device"}, history[0].AnomalyReasons)
	assert.Equal(t, "fp-1", history[0].DeviceFingerprint)
}

func TestLoginAttemptRepository_CleanupExpired(t *testing.T) {
	db := requireTestDB(t)
	ctx := context.Background()
	_, attempts, _, _ := InitializeRepositories(db.DB)

	require.NoError(t, attempts.Record(ctx, &models.LoginAttempt{
		Subject:   "stale@example.com",
		IPAddress: "203.0.113.9",
		Success:   true,
		ExpiresAt: time.Now().Add(-time.Minute),
	}))
	require.NoError(t, attempts.Record(ctx, &models.LoginAttempt{
		Subject:   "fresh@example.com",
		IPAddress: "203.0.113.9",
		Success:   true,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}))

	deleted, err := attempts.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	history, err := attempts.RecentSuccesses(ctx, "fresh@example.com", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestBackupCodeRepository_ConsumeOnce(t *testing.T) {
	db := requireTestDB(t)
	ctx := context.Background()
	_, _, _, backups := InitializeRepositories(db.DB)

	user, err := SeedUser(ctx, db.Pool, "user@example.com", "hunter22", false)
	require.NoError(t, err)
	require.NoError(t, SeedBackupCodes(ctx, db.Pool, user.ID, []string{"AAAA2222BB", "CCCC3333DD"}))

	active, err := backups.ListActive(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, active, 2)

	consumed, err := backups.Consume(ctx, active[0].ID)
	require.NoError(t, err)
	assert.True(t, consumed)

	// Second consumption of the same row loses.
	consumed, err = backups.Consume(ctx, active[0].ID)
	require.NoError(t, err)
	assert.False(t, consumed)

	remaining, err := backups.ListActive(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}
