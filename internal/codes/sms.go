package codes

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
)

// SMSCodeStore is the volatile storage the SMS verifier needs: one salted
// hash payload per challenge, expiring on its own TTL, consumable exactly
// once.
type SMSCodeStore interface {
	PutSMSCode(ctx context.Context, challengeToken, payload string, ttl time.Duration) error
	GetSMSCode(ctx context.Context, challengeToken string) (string, error)
	ConsumeSMSCode(ctx context.Context, challengeToken, payload string) (bool, error)
	InvalidateSMSCode(ctx context.Context, challengeToken string) error
}

// SMSVerifier issues and checks cryptographically random 6-digit codes.
// Codes are stored only as salted SHA-256 hashes and compared in
// constant time.
type SMSVerifier struct {
	store SMSCodeStore
	ttl   time.Duration
}

func NewSMSVerifier(store SMSCodeStore, ttl time.Duration) *SMSVerifier {
	return &SMSVerifier{store: store, ttl: ttl}
}

// Issue generates a fresh code for the challenge, replacing (and thereby
// invalidating) any previous one, and returns the plaintext for dispatch.
func (v *SMSVerifier) Issue(ctx context.Context, challengeToken string) (string, error) {
	code, err := randomDigits(6)
	if err != nil {
		return "", fmt.Errorf("sms code generation failed: %w", err)
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("sms salt generation failed: %w", err)
	}

	payload := hex.EncodeToString(salt) + ":" + hex.EncodeToString(hashSMSCode(salt, code))
	if err := v.store.PutSMSCode(ctx, challengeToken, payload, v.ttl); err != nil {
		return "", err
	}
	return code, nil
}

// Verify checks the submitted code and, on match, consumes it in the same
// atomic step. An absent payload means the code expired or was already
// consumed; a lost consume race means a concurrent submission won.
func (v *SMSVerifier) Verify(ctx context.Context, challengeToken, code string) (Outcome, error) {
	payload, err := v.store.GetSMSCode(ctx, challengeToken)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return OutcomeExpired, nil
		}
		return OutcomeMismatch, err
	}

	saltHex, hashHex, ok := strings.Cut(payload, ":")
	if !ok {
		return OutcomeMismatch, fmt.Errorf("malformed sms code payload")
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return OutcomeMismatch, fmt.Errorf("malformed sms code salt")
	}
	stored, err := hex.DecodeString(hashHex)
	if err != nil {
		return OutcomeMismatch, fmt.Errorf("malformed sms code hash")
	}

	if subtle.ConstantTimeCompare(hashSMSCode(salt, code), stored) != 1 {
		return OutcomeMismatch, nil
	}

	consumed, err := v.store.ConsumeSMSCode(ctx, challengeToken, payload)
	if err != nil {
		return OutcomeMismatch, err
	}
	if !consumed {
		return OutcomeAlreadyUsed, nil
	}
	return OutcomeOK, nil
}

// Invalidate drops the outstanding code, used when a resend replaces it
// through Issue is not possible or a challenge is superseded.
func (v *SMSVerifier) Invalidate(ctx context.Context, challengeToken string) error {
	return v.store.InvalidateSMSCode(ctx, challengeToken)
}

func hashSMSCode(salt []byte, code string) []byte {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(code))
	return h.Sum(nil)
}

// randomDigits returns n decimal digits from crypto/rand, rejection-free
// since big.Int sampling is uniform.
func randomDigits(n int) (string, error) {
	bound := big.NewInt(1)
	for i := 0; i < n; i++ {
		bound.Mul(bound, big.NewInt(10))
	}
	v, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", n, v), nil
}
