package codes

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/BradenHooton/bastion/internal/models"
	"golang.org/x/crypto/bcrypt"
)

// BackupCodeRepo is the durable storage behind backup codes. Consume must
// be atomic: of two concurrent consumers of the same row, exactly one
// succeeds.
type BackupCodeRepo interface {
	ListActive(ctx context.Context, userID string) ([]models.BackupCode, error)
	Consume(ctx context.Context, id string) (bool, error)
}

// BackupVerifier checks pre-generated single-use codes stored as bcrypt
// hashes. bcrypt comparison is constant-time per hash.
type BackupVerifier struct {
	repo BackupCodeRepo
}

func NewBackupVerifier(repo BackupCodeRepo) *BackupVerifier {
	return &BackupVerifier{repo: repo}
}

// Verify consumes one backup code on success and reports how many remain.
// No unused codes at all means the user has depleted the set.
func (v *BackupVerifier) Verify(ctx context.Context, userID, code string) (Outcome, int, error) {
	active, err := v.repo.ListActive(ctx, userID)
	if err != nil {
		return OutcomeMismatch, 0, err
	}
	if len(active) == 0 {
		return OutcomeExhausted, 0, nil
	}

	for _, entry := range active {
		if bcrypt.CompareHashAndPassword([]byte(entry.CodeHash), []byte(code)) != nil {
			continue
		}

		consumed, err := v.repo.Consume(ctx, entry.ID)
		if err != nil {
			return OutcomeMismatch, len(active), err
		}
		if !consumed {
			// A concurrent submission burned this code first.
			return OutcomeAlreadyUsed, len(active) - 1, nil
		}
		return OutcomeOK, len(active) - 1, nil
	}

	return OutcomeMismatch, len(active), nil
}

// backupCodeCharset excludes ambiguous characters (0/O, 1/I/L).
const backupCodeCharset = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// GenerateBackupCodes returns count high-entropy 10-character codes.
// Hashing and storage are the caller's concern; the plaintext is shown
// exactly once.
func GenerateBackupCodes(count int) ([]string, error) {
	codes := make([]string, count)
	buf := make([]byte, 10)
	for i := range codes {
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("backup code generation failed: %w", err)
		}
		code := make([]byte, len(buf))
		for j, b := range buf {
			code[j] = backupCodeCharset[int(b)%len(backupCodeCharset)]
		}
		codes[i] = string(code)
	}
	return codes, nil
}
