package database

import (
	"errors"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/jackc/pgx/v5"
)

// MapPostgresError translates driver errors into the taxonomy. The
// login path only reads users and upserts counters, so no-rows is the
// single pg class worth naming; anything else passes through for the
// caller's fail-closed handling.
func MapPostgresError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	return err
}
