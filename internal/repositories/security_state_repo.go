package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/models"
)

// SecurityStateRepository owns the per-subject AccountSecurityState rows.
// Only the risk gate talks to it; the state is never an ambient global.
type SecurityStateRepository struct {
	db *database.DB
}

func NewSecurityStateRepository(db *database.DB) *SecurityStateRepository {
	return &SecurityStateRepository{db: db}
}

// Get returns the state for a subject, or a zero-valued state when none
// has been recorded yet.
func (r *SecurityStateRepository) Get(ctx context.Context, subject string) (*models.AccountSecurityState, error) {
	query := `
		SELECT subject, consecutive_failures, locked_until, lockout_tier, updated_at
		FROM account_security_state
		WHERE subject = $1
	`

	var state models.AccountSecurityState
	err := r.db.Pool.QueryRow(ctx, query, subject).Scan(
		&state.Subject, &state.ConsecutiveFailures, &state.LockedUntil,
		&state.LockoutTier, &state.UpdatedAt,
	)
	if err != nil {
		if mapped := database.MapPostgresError(err); mapped == models.ErrNotFound {
			return &models.AccountSecurityState{Subject: subject}, nil
		}
		return nil, database.MapPostgresError(err)
	}
	return &state, nil
}

// IncrementFailures bumps the consecutive failure count and returns the
// new value. The upsert keeps concurrent failures for one subject from
// losing updates.
func (r *SecurityStateRepository) IncrementFailures(ctx context.Context, subject string) (int, error) {
	query := `
		INSERT INTO account_security_state (subject, consecutive_failures, updated_at)
		VALUES ($1, 1, NOW())
		ON CONFLICT (subject) DO UPDATE
		SET consecutive_failures = account_security_state.consecutive_failures + 1,
		    updated_at = NOW()
		RETURNING consecutive_failures
	`

	var failures int
	if err := r.db.Pool.QueryRow(ctx, query, subject).Scan(&failures); err != nil {
		return 0, database.MapPostgresError(err)
	}
	return failures, nil
}

// ResetFailures clears the consecutive failure count, leaving lockout
// tier intact so repeated lockouts keep escalating until a success.
func (r *SecurityStateRepository) ResetFailures(ctx context.Context, subject string) error {
	query := `
		UPDATE account_security_state
		SET consecutive_failures = 0, updated_at = NOW()
		WHERE subject = $1
	`
	_, err := r.db.Pool.Exec(ctx, query, subject)
	return database.MapPostgresError(err)
}

// Lock records a lockout until the given time at the given tier.
// GREATEST keeps locked_until monotonically non-decreasing when lockouts
// race or repeat.
func (r *SecurityStateRepository) Lock(ctx context.Context, subject string, until time.Time, tier int) error {
	query := `
		INSERT INTO account_security_state (subject, consecutive_failures, locked_until, lockout_tier, updated_at)
		VALUES ($1, 0, $2, $3, NOW())
		ON CONFLICT (subject) DO UPDATE
		SET locked_until = GREATEST(COALESCE(account_security_state.locked_until, 'epoch'::timestamptz), EXCLUDED.locked_until),
		    lockout_tier = GREATEST(account_security_state.lockout_tier, EXCLUDED.lockout_tier),
		    consecutive_failures = 0,
		    updated_at = NOW()
	`
	_, err := r.db.Pool.Exec(ctx, query, subject, until, tier)
	return database.MapPostgresError(err)
}

// ClearLockout resets failures, lockout and tier after a successful
// authentication.
func (r *SecurityStateRepository) ClearLockout(ctx context.Context, subject string) error {
	query := `
		UPDATE account_security_state
		SET consecutive_failures = 0, locked_until = NULL, lockout_tier = 0, updated_at = NOW()
		WHERE subject = $1
	`
	_, err := r.db.Pool.Exec(ctx, query, subject)
	return database.MapPostgresError(err)
}
