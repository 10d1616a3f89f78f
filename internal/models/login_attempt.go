package models

import "time"

// LoginAttempt represents a single completed login attempt. Rows are
// append-only: each attempt is written exactly once with its final outcome
// and feeds both anomaly comparison and the audit trail.
type LoginAttempt struct {
	ID                string     `db:"id"`
	Subject           string     `db:"subject"` // normalized identifier
	UserID            *string    `db:"user_id"` // nil when the identifier matched no user
	IPAddress         string     `db:"ip_address"`
	UserAgent         string     `db:"user_agent"`
	DeviceFingerprint string     `db:"device_fingerprint"`
	Success           bool       `db:"success"`
	FailureReason     *string    `db:"failure_reason"`
	Anomalous         bool       `db:"anomalous"`
	AnomalyReasons    []string   `db:"anomaly_reasons"`
	Country           string     `db:"country"`
	Region            string     `db:"region"`
	City              string     `db:"city"`
	AttemptTime       time.Time  `db:"attempt_time"`
	ExpiresAt         time.Time  `db:"expires_at"`
}

// AccountSecurityState is the per-subject record the risk gate mutates on
// every outcome. Subject is the normalized login identifier so the state
// exists even for identifiers that match no user.
type AccountSecurityState struct {
	Subject             string     `db:"subject"`
	ConsecutiveFailures int        `db:"consecutive_failures"`
	LockedUntil         *time.Time `db:"locked_until"`
	LockoutTier         int        `db:"lockout_tier"`
	UpdatedAt           time.Time  `db:"updated_at"`
}

// Locked reports whether the subject is locked at the given instant.
// Expiry is evaluated lazily against the stored timestamp.
func (s *AccountSecurityState) Locked(now time.Time) bool {
	return s.LockedUntil != nil && now.Before(*s.LockedUntil)
}
