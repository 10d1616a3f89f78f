package repositories

import (
	"context"

	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/models"
)

// UserRepository reads the slice of the user record this core consumes.
// User lifecycle (registration, enrollment, password reset) is owned by
// the surrounding system; this repo is read-only.
type UserRepository struct {
	db *database.DB
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `
	id, email, name, password_hash, status,
	totp_enabled, totp_secret, sms_enabled, phone_number, phone_masked,
	preferred_method, created_at, updated_at
`

// GetByEmail fetches a user by normalized email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	var user models.User
	err := r.db.Pool.QueryRow(ctx, query, email).Scan(
		&user.ID, &user.Email, &user.Name, &user.PasswordHash, &user.Status,
		&user.TOTPEnabled, &user.TOTPSecret, &user.SMSEnabled, &user.PhoneNumber, &user.PhoneMasked,
		&user.PreferredMethod, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &user, nil
}

// GetByID fetches a user by id
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	var user models.User
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Email, &user.Name, &user.PasswordHash, &user.Status,
		&user.TOTPEnabled, &user.TOTPSecret, &user.SMSEnabled, &user.PhoneNumber, &user.PhoneMasked,
		&user.PreferredMethod, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &user, nil
}
