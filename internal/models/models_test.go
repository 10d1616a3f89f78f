package models

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrInvalidCredentials, "INVALID_CREDENTIALS"},
		{ErrCaptchaRequired, "CAPTCHA_REQUIRED"},
		{ErrCaptchaFailed, "CAPTCHA_FAILED"},
		{ErrAccountLocked, "ACCOUNT_LOCKED"},
		{ErrChallengeExpired, "CHALLENGE_EXPIRED"},
		{ErrChallengeInvalid, "CHALLENGE_INVALID"},
		{ErrChallengeExhausted, "CHALLENGE_EXHAUSTED"},
		{ErrCodeMismatch, "CODE_MISMATCH"},
		{ErrCodeAlreadyUsed, "CODE_ALREADY_USED"},
		{ErrRateLimited, "RATE_LIMITED"},
		{ErrNoSecondFactor, "NO_SECOND_FACTOR_AVAILABLE"},
		{ErrDownstreamUnavailable, "DOWNSTREAM_UNAVAILABLE"},
		{ErrNotFound, "internal_error"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorCode(tt.err))
	}
}

func TestErrorCode_WrappedError(t *testing.T) {
	err := fmt.Errorf("%w: 3 attempts remaining", ErrCodeMismatch)
	assert.Equal(t, "CODE_MISMATCH", ErrorCode(err))
}

func TestVerificationError_ResolvesThroughWrapper(t *testing.T) {
	remaining := 3
	until := time.Now().Add(time.Hour)

	var err error = &VerificationError{Err: ErrCodeMismatch, AttemptsRemaining: &remaining}
	assert.ErrorIs(t, err, ErrCodeMismatch)
	assert.Equal(t, "CODE_MISMATCH", ErrorCode(err))
	assert.Equal(t, ErrCodeMismatch.Error(), err.Error())

	err = &VerificationError{Err: ErrAccountLocked, LockedUntil: &until}
	assert.ErrorIs(t, err, ErrAccountLocked)
	assert.Equal(t, "ACCOUNT_LOCKED", ErrorCode(err))
}

func TestUser_EnabledMethods(t *testing.T) {
	tests := []struct {
		name string
		user User
		want []SecondFactorMethod
	}{
		{
			"totp preferred",
			User{TOTPEnabled: true, SMSEnabled: true, PreferredMethod: MethodTOTP},
			[]SecondFactorMethod{MethodTOTP, MethodSMS},
		},
		{
			"sms preferred",
			User{TOTPEnabled: true, SMSEnabled: true, PreferredMethod: MethodSMS},
			[]SecondFactorMethod{MethodSMS, MethodTOTP},
		},
		{
			"preference for disabled method falls back",
			User{TOTPEnabled: true, PreferredMethod: MethodSMS},
			[]SecondFactorMethod{MethodTOTP},
		},
		{
			"nothing enrolled",
			User{},
			nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.user.EnabledMethods())
		})
	}
}

func TestUser_SecondFactorEnabled(t *testing.T) {
	assert.False(t, (&User{}).SecondFactorEnabled())
	assert.True(t, (&User{TOTPEnabled: true}).SecondFactorEnabled())
	assert.True(t, (&User{SMSEnabled: true}).SecondFactorEnabled())
}

func TestSecondFactorMethod_ValidSwitchTarget(t *testing.T) {
	assert.True(t, MethodTOTP.ValidSwitchTarget())
	assert.True(t, MethodSMS.ValidSwitchTarget())
	assert.False(t, MethodBackup.ValidSwitchTarget())
	assert.False(t, SecondFactorMethod("EMAIL").ValidSwitchTarget())
}

func TestChallengeStatus_Terminal(t *testing.T) {
	assert.False(t, ChallengePending.Terminal())
	assert.True(t, ChallengeVerified.Terminal())
	assert.True(t, ChallengeExpired.Terminal())
	assert.True(t, ChallengeExhausted.Terminal())
}

func TestChallenge_ExpiredAt(t *testing.T) {
	now := time.Now()
	ch := &Challenge{ExpiresAt: now}

	assert.False(t, ch.ExpiredAt(now.Add(-time.Second)))
	assert.True(t, ch.ExpiredAt(now), "expiry instant itself is expired")
	assert.True(t, ch.ExpiredAt(now.Add(time.Second)))
}
