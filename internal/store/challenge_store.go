package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/redis/go-redis/v9"
)

// ChallengeStore keeps challenge records in redis hashes, keyed by the
// opaque token. The key TTL doubles the stored expires_at as hygiene;
// correctness always comes from comparing expires_at at read time.
type ChallengeStore struct {
	client *redis.Client
	prefix string
}

func NewChallengeStore(client *redis.Client) *ChallengeStore {
	return &ChallengeStore{client: client, prefix: "challenge"}
}

func (s *ChallengeStore) key(token string) string {
	return s.prefix + ":" + token
}

// tryVerify flips a PENDING challenge to VERIFIED. Exactly one of two
// concurrent submissions of the same valid code can win; the loser
// observes the already-terminal status.
var tryVerify = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if status == 'PENDING' then
  redis.call('HSET', KEYS[1], 'status', 'VERIFIED')
  return 1
end
return 0
`)

// trySupersede expires a PENDING challenge and links its successor.
var trySupersede = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if status == 'PENDING' then
  redis.call('HSET', KEYS[1], 'status', 'EXPIRED', 'superseded_by', ARGV[1])
  return 1
end
return 0
`)

// Create stores a new challenge record. The key lives for the challenge
// TTL plus a grace period so terminal statuses remain observable briefly.
func (s *ChallengeStore) Create(ctx context.Context, ch *models.Challenge) error {
	key := s.key(ch.Token)
	fields := map[string]interface{}{
		"user_id":       ch.UserID,
		"method":        string(ch.Method),
		"status":        string(ch.Status),
		"created_at":    ch.CreatedAt.UnixMilli(),
		"expires_at":    ch.ExpiresAt.UnixMilli(),
		"attempts_used": ch.AttemptsUsed,
		"switches_used": ch.SwitchesUsed,
		"superseded_by": ch.SupersededBy,
		"lineage_id":    ch.LineageID,
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.PExpire(ctx, key, time.Until(ch.ExpiresAt)+5*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("challenge create failed: %w", err)
	}
	return nil
}

// Get loads a challenge by token. Missing or swept records return
// models.ErrNotFound.
func (s *ChallengeStore) Get(ctx context.Context, token string) (*models.Challenge, error) {
	fields, err := s.client.HGetAll(ctx, s.key(token)).Result()
	if err != nil {
		return nil, fmt.Errorf("challenge get failed: %w", err)
	}
	if len(fields) == 0 {
		return nil, models.ErrNotFound
	}

	createdAt, _ := strconv.ParseInt(fields["created_at"], 10, 64)
	expiresAt, _ := strconv.ParseInt(fields["expires_at"], 10, 64)
	attempts, _ := strconv.Atoi(fields["attempts_used"])
	switches, _ := strconv.Atoi(fields["switches_used"])

	return &models.Challenge{
		Token:        token,
		UserID:       fields["user_id"],
		Method:       models.SecondFactorMethod(fields["method"]),
		Status:       models.ChallengeStatus(fields["status"]),
		CreatedAt:    time.UnixMilli(createdAt),
		ExpiresAt:    time.UnixMilli(expiresAt),
		AttemptsUsed: attempts,
		SwitchesUsed: switches,
		SupersededBy: fields["superseded_by"],
		LineageID:    fields["lineage_id"],
	}, nil
}

// MarkVerified atomically transitions PENDING→VERIFIED. Returns false if
// the challenge was already terminal (a concurrent winner, an expiry
// sweep, or a supersede got there first).
func (s *ChallengeStore) MarkVerified(ctx context.Context, token string) (bool, error) {
	won, err := tryVerify.Run(ctx, s.client, []string{s.key(token)}).Int64()
	if err != nil {
		return false, fmt.Errorf("challenge verify transition failed: %w", err)
	}
	return won == 1, nil
}

// Supersede atomically expires a PENDING challenge, recording its
// successor token. Returns false if the challenge was already terminal.
func (s *ChallengeStore) Supersede(ctx context.Context, token, successor string) (bool, error) {
	won, err := trySupersede.Run(ctx, s.client, []string{s.key(token)}, successor).Int64()
	if err != nil {
		return false, fmt.Errorf("challenge supersede failed: %w", err)
	}
	return won == 1, nil
}

// SetStatus overwrites the status field. Used for EXPIRED/EXHAUSTED
// transitions where losing a race is harmless (both ends are terminal).
func (s *ChallengeStore) SetStatus(ctx context.Context, token string, status models.ChallengeStatus) error {
	if err := s.client.HSet(ctx, s.key(token), "status", string(status)).Err(); err != nil {
		return fmt.Errorf("challenge status update failed: %w", err)
	}
	return nil
}

// IncrementAttempts bumps the per-challenge attempt counter and returns
// the new value.
func (s *ChallengeStore) IncrementAttempts(ctx context.Context, token string) (int, error) {
	used, err := s.client.HIncrBy(ctx, s.key(token), "attempts_used", 1).Result()
	if err != nil {
		return 0, fmt.Errorf("challenge attempt increment failed: %w", err)
	}
	return int(used), nil
}
