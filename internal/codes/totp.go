package codes

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod = 30 * time.Second
	totpSkew   = 1 // accept the current step and ±1 adjacent step
)

// ReplayMarker records that a user consumed the code for a TOTP time
// step. The first mark wins; a second mark for the same step means replay.
type ReplayMarker interface {
	MarkTOTPStepUsed(ctx context.Context, userID string, step int64, ttl time.Duration) (bool, error)
}

// TOTPVerifier validates 6-digit time-based codes against a per-user
// shared secret with ±1 step of clock tolerance. Every accepted code is
// marked used for its whole validity window so it cannot be replayed
// even inside the tolerance.
type TOTPVerifier struct {
	marker ReplayMarker
}

func NewTOTPVerifier(marker ReplayMarker) *TOTPVerifier {
	return &TOTPVerifier{marker: marker}
}

// Verify checks the code against the secret at the given instant. The
// matched step is committed through the replay marker in the same call;
// losing that commit yields OutcomeAlreadyUsed.
func (v *TOTPVerifier) Verify(ctx context.Context, userID, secret, code string, now time.Time) (Outcome, error) {
	step, ok, err := matchStep(secret, code, now)
	if err != nil {
		return OutcomeMismatch, fmt.Errorf("totp validation failed: %w", err)
	}
	if !ok {
		return OutcomeMismatch, nil
	}

	// Mark TTL covers the rest of the step plus the skew window, so the
	// mark outlives every instant at which the code would still validate.
	ttl := totpPeriod * (2*totpSkew + 2)
	won, err := v.marker.MarkTOTPStepUsed(ctx, userID, step, ttl)
	if err != nil {
		// Fail closed: without the replay mark, accepting would allow
		// the same code twice.
		return OutcomeMismatch, fmt.Errorf("totp replay mark unavailable: %w", err)
	}
	if !won {
		return OutcomeAlreadyUsed, nil
	}
	return OutcomeOK, nil
}

// matchStep finds which time step within the tolerance produced the code,
// comparing in constant time. Identifying the step (rather than asking
// the library for a yes/no) is what makes per-step replay marks possible.
func matchStep(secret, code string, now time.Time) (int64, bool, error) {
	opts := totp.ValidateOpts{
		Period:    uint(totpPeriod / time.Second),
		Skew:      0,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}

	for offset := -totpSkew; offset <= totpSkew; offset++ {
		at := now.Add(time.Duration(offset) * totpPeriod)
		expected, err := totp.GenerateCodeCustom(secret, at, opts)
		if err != nil {
			return 0, false, err
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return at.Unix() / int64(totpPeriod/time.Second), true, nil
		}
	}
	return 0, false, nil
}
