package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/treasuretrails/payments-backend/internal/models"
)

// AddressRepository handles encrypted address rows
type AddressRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewAddressRepository creates a new address repository
func NewAddressRepository(db *sqlx.DB, logger *logrus.Logger) *AddressRepository {
	return &AddressRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new address. A user's first address is forced primary;
// inserting a primary address demotes the previous one in the same
// transaction so the one-primary invariant never breaks mid-flight.
func (r *AddressRepository) Create(ctx context.Context, address *models.Address) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin address transaction: %w", err)
	}
	defer tx.Rollback()

	if err := r.CreateTx(ctx, tx, address); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateTx is Create inside the caller's transaction
func (r *AddressRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, address *models.Address) error {
	if address.ID == uuid.Nil {
		address.ID = uuid.New()
	}
	address.CreatedAt = time.Now()

	var count int
	if err := tx.GetContext(ctx, &count, `SELECT COUNT(*) FROM addresses WHERE user_id = $1`, address.UserID); err != nil {
		return fmt.Errorf("failed to count addresses: %w", err)
	}
	if count == 0 {
		address.IsPrimary = true
	}

	if address.IsPrimary {
		if _, err := tx.ExecContext(ctx,
			`UPDATE addresses SET is_primary = FALSE WHERE user_id = $1 AND is_primary = TRUE`,
			address.UserID); err != nil {
			return fmt.Errorf("failed to demote primary address: %w", err)
		}
	}

	query := `
		INSERT INTO addresses (
			id, user_id, type,
			line1_enc, line2_enc, city_enc, postal_enc, country_enc,
			is_primary, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	if _, err := tx.ExecContext(ctx, query,
		address.ID, address.UserID, address.Type,
		address.Line1Enc, address.Line2Enc, address.CityEnc, address.PostalEnc, address.CountryEnc,
		address.IsPrimary, address.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to create address: %w", err)
	}

	return nil
}

// GetByID retrieves an address
func (r *AddressRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Address, error) {
	var address models.Address
	err := r.db.GetContext(ctx, &address, `SELECT * FROM addresses WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get address: %w", err)
	}
	return &address, nil
}

// ListByUser returns a user's addresses, primary first
func (r *AddressRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Address, error) {
	var addresses []*models.Address
	query := `SELECT * FROM addresses WHERE user_id = $1 ORDER BY is_primary DESC, created_at ASC`
	if err := r.db.SelectContext(ctx, &addresses, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list addresses: %w", err)
	}
	return addresses, nil
}

// Update rewrites the encrypted columns of one address
func (r *AddressRepository) Update(ctx context.Context, address *models.Address) error {
	query := `
		UPDATE addresses SET
			type = $1, line1_enc = $2, line2_enc = $3,
			city_enc = $4, postal_enc = $5, country_enc = $6
		WHERE id = $7 AND user_id = $8`

	result, err := r.db.ExecContext(ctx, query,
		address.Type, address.Line1Enc, address.Line2Enc,
		address.CityEnc, address.PostalEnc, address.CountryEnc,
		address.ID, address.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to update address: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("address not found: %s", address.ID)
	}
	return nil
}

// SetPrimary promotes one address and demotes the rest atomically
func (r *AddressRepository) SetPrimary(ctx context.Context, userID, addressID uuid.UUID) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin primary transaction: %w", err)
	}
	defer tx.Rollback()

	if err := r.SetPrimaryTx(ctx, tx, userID, addressID); err != nil {
		return err
	}
	return tx.Commit()
}

// SetPrimaryTx is SetPrimary inside the caller's transaction
func (r *AddressRepository) SetPrimaryTx(ctx context.Context, tx *sqlx.Tx, userID, addressID uuid.UUID) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE addresses SET is_primary = FALSE WHERE user_id = $1 AND is_primary = TRUE`,
		userID); err != nil {
		return fmt.Errorf("failed to demote primary address: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE addresses SET is_primary = TRUE WHERE id = $1 AND user_id = $2`,
		addressID, userID)
	if err != nil {
		return fmt.Errorf("failed to promote address: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("address not found: %s", addressID)
	}

	return nil
}

// Delete removes an address. Deleting the primary promotes the most
// recently created remaining address so the invariant holds whenever
// any address exists.
func (r *AddressRepository) Delete(ctx context.Context, userID, addressID uuid.UUID) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	defer tx.Rollback()

	if err := r.DeleteTx(ctx, tx, userID, addressID); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteTx is Delete inside the caller's transaction
func (r *AddressRepository) DeleteTx(ctx context.Context, tx *sqlx.Tx, userID, addressID uuid.UUID) error {
	var wasPrimary bool
	err := tx.GetContext(ctx, &wasPrimary,
		`SELECT is_primary FROM addresses WHERE id = $1 AND user_id = $2`, addressID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("address not found: %s", addressID)
		}
		return fmt.Errorf("failed to inspect address: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM addresses WHERE id = $1 AND user_id = $2`, addressID, userID); err != nil {
		return fmt.Errorf("failed to delete address: %w", err)
	}

	if wasPrimary {
		if _, err := tx.ExecContext(ctx, `
			UPDATE addresses SET is_primary = TRUE
			WHERE id = (
				SELECT id FROM addresses WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1
			)`, userID); err != nil {
			return fmt.Errorf("failed to promote replacement primary: %w", err)
		}
	}

	return nil
}

// DeleteAllForUser removes every address, used during anonymization
func (r *AddressRepository) DeleteAllForUser(ctx context.Context, userID uuid.UUID) error {
	return r.deleteAllOn(ctx, r.db, userID)
}

// DeleteAllForUserTx is DeleteAllForUser inside the caller's transaction
func (r *AddressRepository) DeleteAllForUserTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) error {
	return r.deleteAllOn(ctx, tx, userID)
}

func (r *AddressRepository) deleteAllOn(ctx context.Context, q execer, userID uuid.UUID) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM addresses WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete addresses for user: %w", err)
	}
	return nil
}
