package repositories

import (
	"context"

	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/models"
)

// BackupCodeRepository stores pre-generated single-use backup codes as
// bcrypt hashes. Codes are written by the enrollment flow elsewhere;
// this core only lists and consumes them.
type BackupCodeRepository struct {
	db *database.DB
}

func NewBackupCodeRepository(db *database.DB) *BackupCodeRepository {
	return &BackupCodeRepository{db: db}
}

// ListActive returns the user's unused codes.
func (r *BackupCodeRepository) ListActive(ctx context.Context, userID string) ([]models.BackupCode, error) {
	query := `
		SELECT id, user_id, code_hash, used_at, created_at
		FROM backup_codes
		WHERE user_id = $1 AND used_at IS NULL
		ORDER BY created_at
	`

	rows, err := r.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	var codes []models.BackupCode
	for rows.Next() {
		var c models.BackupCode
		if err := rows.Scan(&c.ID, &c.UserID, &c.CodeHash, &c.UsedAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		codes = append(codes, c)
	}
	return codes, rows.Err()
}

// Consume marks one code used. The used_at IS NULL guard makes the
// consume atomic: of two racing submissions, only one sees a row flip.
func (r *BackupCodeRepository) Consume(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE backup_codes
		SET used_at = NOW()
		WHERE id = $1 AND used_at IS NULL
	`

	tag, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return tag.RowsAffected() == 1, nil
}
