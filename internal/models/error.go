package models

import (
	"errors"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")
)

// Authentication taxonomy errors. Every failure surfaced by the login and
// challenge flows maps to exactly one of these.
var (
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrCaptchaRequired       = errors.New("captcha token required")
	ErrCaptchaFailed         = errors.New("captcha verification failed")
	ErrAccountLocked         = errors.New("account is temporarily locked")
	ErrChallengeExpired      = errors.New("challenge has expired")
	ErrChallengeInvalid      = errors.New("challenge token is invalid")
	ErrChallengeExhausted    = errors.New("challenge attempt or switch budget exhausted")
	ErrCodeMismatch          = errors.New("verification code does not match")
	ErrCodeAlreadyUsed       = errors.New("verification code already used")
	ErrRateLimited           = errors.New("rate limit exceeded")
	ErrNoSecondFactor        = errors.New("no second factor available")
	ErrDownstreamUnavailable = errors.New("downstream dependency unavailable")
)

// VerificationError decorates a taxonomy error with the structured
// context a failed code submission carries back to the client: how many
// attempts the challenge has left, or when a lockout ends. errors.Is and
// ErrorCode keep resolving through the wrapped sentinel.
type VerificationError struct {
	Err               error
	AttemptsRemaining *int
	LockedUntil       *time.Time
}

func (e *VerificationError) Error() string { return e.Err.Error() }

func (e *VerificationError) Unwrap() error { return e.Err }

// ErrorCode returns the wire-level error code for a taxonomy error.
// Unknown errors collapse to internal_error so no unhandled fault
// leaks implementation detail to the caller.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return "INVALID_CREDENTIALS"
	case errors.Is(err, ErrCaptchaRequired):
		return "CAPTCHA_REQUIRED"
	case errors.Is(err, ErrCaptchaFailed):
		return "CAPTCHA_FAILED"
	case errors.Is(err, ErrAccountLocked):
		return "ACCOUNT_LOCKED"
	case errors.Is(err, ErrChallengeExpired):
		return "CHALLENGE_EXPIRED"
	case errors.Is(err, ErrChallengeInvalid):
		return "CHALLENGE_INVALID"
	case errors.Is(err, ErrChallengeExhausted):
		return "CHALLENGE_EXHAUSTED"
	case errors.Is(err, ErrCodeMismatch):
		return "CODE_MISMATCH"
	case errors.Is(err, ErrCodeAlreadyUsed):
		return "CODE_ALREADY_USED"
	case errors.Is(err, ErrRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, ErrNoSecondFactor):
		return "NO_SECOND_FACTOR_AVAILABLE"
	case errors.Is(err, ErrDownstreamUnavailable):
		return "DOWNSTREAM_UNAVAILABLE"
	default:
		return "internal_error"
	}
}
