// Package codes holds the stateless verification routines for the three
// one-time code kinds: TOTP, SMS OTP and backup codes. All comparisons
// are constant-time; replay and consumption state live in the stores the
// verifiers are handed.
package codes

// Outcome classifies a verification attempt.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeExpired
	OutcomeMismatch
	OutcomeAlreadyUsed
	OutcomeExhausted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeExpired:
		return "expired"
	case OutcomeMismatch:
		return "mismatch"
	case OutcomeAlreadyUsed:
		return "already_used"
	case OutcomeExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}
