package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/models"
)

// LoginAttemptRepository handles the append-only login attempt history.
type LoginAttemptRepository struct {
	db *database.DB
}

func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

// Record appends one attempt. Every attempt is written exactly once with
// its final outcome and anomaly flags.
func (r *LoginAttemptRepository) Record(ctx context.Context, attempt *models.LoginAttempt) error {
	query := `
		INSERT INTO login_attempts (
			subject, user_id, ip_address, user_agent, device_fingerprint,
			success, failure_reason, anomalous, anomaly_reasons,
			country, region, city, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		attempt.Subject,
		attempt.UserID,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.DeviceFingerprint,
		attempt.Success,
		attempt.FailureReason,
		attempt.Anomalous,
		attempt.AnomalyReasons,
		attempt.Country,
		attempt.Region,
		attempt.City,
		attempt.ExpiresAt,
	)
	return database.MapPostgresError(err)
}

// RecentSuccesses returns the subject's successful attempts since the
// given time, newest first. This history is the known-location/device set
// for anomaly comparison.
func (r *LoginAttemptRepository) RecentSuccesses(ctx context.Context, subject string, since time.Time) ([]models.LoginAttempt, error) {
	query := `
		SELECT id, subject, user_id, ip_address, user_agent, device_fingerprint,
		       success, failure_reason, anomalous, anomaly_reasons,
		       country, region, city, attempt_time, expires_at
		FROM login_attempts
		WHERE subject = $1 AND success = true AND attempt_time >= $2
		ORDER BY attempt_time DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, subject, since)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	var attempts []models.LoginAttempt
	for rows.Next() {
		var a models.LoginAttempt
		if err := rows.Scan(
			&a.ID, &a.Subject, &a.UserID, &a.IPAddress, &a.UserAgent, &a.DeviceFingerprint,
			&a.Success, &a.FailureReason, &a.Anomalous, &a.AnomalyReasons,
			&a.Country, &a.Region, &a.City, &a.AttemptTime, &a.ExpiresAt,
		); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// CleanupExpired removes attempts past their retention expiry. Hygiene
// only; no read path depends on it.
func (r *LoginAttemptRepository) CleanupExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM login_attempts WHERE expires_at < NOW()`)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
