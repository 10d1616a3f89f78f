package models

import "time"

// ChallengeStatus is the lifecycle state of a second-factor challenge.
// PENDING is the only non-terminal state.
type ChallengeStatus string

const (
	ChallengePending   ChallengeStatus = "PENDING"
	ChallengeVerified  ChallengeStatus = "VERIFIED"
	ChallengeExpired   ChallengeStatus = "EXPIRED"
	ChallengeExhausted ChallengeStatus = "EXHAUSTED"
)

// Terminal reports whether the status permits no further transitions.
func (s ChallengeStatus) Terminal() bool {
	return s != ChallengePending
}

// Challenge is a server-issued, time-boxed second-factor verification
// session. The token is opaque and unguessable; it is never a valid
// session credential on its own.
type Challenge struct {
	Token        string
	UserID       string
	Method       SecondFactorMethod
	Status       ChallengeStatus
	CreatedAt    time.Time
	ExpiresAt    time.Time
	AttemptsUsed int
	// SwitchesUsed counts method switches across the whole lineage,
	// not per hop.
	SwitchesUsed int
	SupersededBy string
	LineageID    string
}

// ExpiredAt reports whether the challenge is past its stored expiry at the
// given instant. Expiry is recomputed at every check rather than trusted
// from a cached flag.
func (c *Challenge) ExpiredAt(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// BackupCode is a pre-generated single-use credential owned by a user.
// The plaintext is shown once at generation time; only the hash is stored.
type BackupCode struct {
	ID        string     `db:"id"`
	UserID    string     `db:"user_id"`
	CodeHash  string     `db:"code_hash"` // bcrypt
	UsedAt    *time.Time `db:"used_at"`
	CreatedAt time.Time  `db:"created_at"`
}
