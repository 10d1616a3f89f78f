package store

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/redis/go-redis/v9"
)

// CodeStore keeps the volatile one-time-code state: salted SMS code
// hashes keyed by challenge, and used-TOTP-step marks keyed by user.
type CodeStore struct {
	client *redis.Client
}

func NewCodeStore(client *redis.Client) *CodeStore {
	return &CodeStore{client: client}
}

func smsKey(challengeToken string) string {
	return "smscode:" + challengeToken
}

func totpKey(userID string, step int64) string {
	return fmt.Sprintf("totpused:%s:%d", userID, step)
}

// compareAndDelete consumes the stored payload only if it still equals
// what the caller read, making consumption and verification success one
// atomic step. A resend or concurrent consume in between leaves the
// caller with 0.
var compareAndDelete = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// PutSMSCode stores the salted hash payload for a challenge, replacing
// any previous code. Replacement invalidates the prior code even inside
// its original expiry.
func (s *CodeStore) PutSMSCode(ctx context.Context, challengeToken, payload string, ttl time.Duration) error {
	if err := s.client.Set(ctx, smsKey(challengeToken), payload, ttl).Err(); err != nil {
		return fmt.Errorf("sms code store failed: %w", err)
	}
	return nil
}

// GetSMSCode returns the stored payload, or models.ErrNotFound once the
// code has expired or been consumed.
func (s *CodeStore) GetSMSCode(ctx context.Context, challengeToken string) (string, error) {
	payload, err := s.client.Get(ctx, smsKey(challengeToken)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", models.ErrNotFound
		}
		return "", fmt.Errorf("sms code load failed: %w", err)
	}
	return payload, nil
}

// ConsumeSMSCode deletes the code iff the stored payload is still the one
// the caller verified against. Returns false when another request consumed
// or replaced it first.
func (s *CodeStore) ConsumeSMSCode(ctx context.Context, challengeToken, payload string) (bool, error) {
	deleted, err := compareAndDelete.Run(ctx, s.client, []string{smsKey(challengeToken)}, payload).Int64()
	if err != nil {
		return false, fmt.Errorf("sms code consume failed: %w", err)
	}
	return deleted == 1, nil
}

// InvalidateSMSCode drops the current code unconditionally (resend path).
func (s *CodeStore) InvalidateSMSCode(ctx context.Context, challengeToken string) error {
	if err := s.client.Del(ctx, smsKey(challengeToken)).Err(); err != nil {
		return fmt.Errorf("sms code invalidate failed: %w", err)
	}
	return nil
}

// MarkTOTPStepUsed records that the user consumed the code for a time
// step. SETNX makes the mark the single atomic commit point: the first
// submission wins, a concurrent or later replay loses. The mark outlives
// the ±1-step tolerance window.
func (s *CodeStore) MarkTOTPStepUsed(ctx context.Context, userID string, step int64, ttl time.Duration) (bool, error) {
	won, err := s.client.SetNX(ctx, totpKey(userID, step), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("totp replay mark failed: %w", err)
	}
	return won, nil
}
