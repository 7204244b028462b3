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

// execer is satisfied by *sqlx.DB and *sqlx.Tx so mutations can run
// either standalone or inside a caller-owned transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// UserRepository handles the encrypted user vault rows
type UserRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sqlx.DB, logger *logrus.Logger) *UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new user row. The unique indexes on email_hmac and
// phone_hmac enforce uniqueness without ever storing plaintext.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	return r.createOn(ctx, r.db, user)
}

// CreateTx is Create inside the caller's transaction
func (r *UserRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, user *models.User) error {
	return r.createOn(ctx, tx, user)
}

func (r *UserRepository) createOn(ctx context.Context, q execer, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
		INSERT INTO users (
			id, reference_id,
			first_name_enc, last_name_enc,
			email_enc, email_hmac, phone_enc, phone_hmac, dob_enc,
			gender, active, anonymized, archived_at,
			created_at, updated_at
		) VALUES (
			$1, $2,
			$3, $4,
			$5, $6, $7, $8, $9,
			$10, $11, $12, $13,
			$14, $15
		)`

	_, err := q.ExecContext(ctx, query,
		user.ID, user.ReferenceID,
		user.FirstNameEnc, user.LastNameEnc,
		user.EmailEnc, user.EmailHMAC, user.PhoneEnc, user.PhoneHMAC, user.DOBEnc,
		user.Gender, user.Active, user.Anonymized, user.ArchivedAt,
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"user_id":      user.ID,
		"reference_id": user.ReferenceID,
	}).Debug("User created")

	return nil
}

// GetByReferenceID retrieves a user by public reference id
func (r *UserRepository) GetByReferenceID(ctx context.Context, referenceID string) (*models.User, error) {
	var user models.User
	query := `SELECT * FROM users WHERE reference_id = $1`

	err := r.db.GetContext(ctx, &user, query, referenceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user by reference ID: %w", err)
	}
	return &user, nil
}

// GetByEmailHMAC looks a user up by the deterministic email index
func (r *UserRepository) GetByEmailHMAC(ctx context.Context, emailHMAC string) (*models.User, error) {
	var user models.User
	query := `SELECT * FROM users WHERE email_hmac = $1 AND anonymized = FALSE`

	err := r.db.GetContext(ctx, &user, query, emailHMAC)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user by email HMAC: %w", err)
	}
	return &user, nil
}

// GetByPhoneHMAC looks a user up by the deterministic phone index
func (r *UserRepository) GetByPhoneHMAC(ctx context.Context, phoneHMAC string) (*models.User, error) {
	var user models.User
	query := `SELECT * FROM users WHERE phone_hmac = $1 AND anonymized = FALSE`

	err := r.db.GetContext(ctx, &user, query, phoneHMAC)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user by phone HMAC: %w", err)
	}
	return &user, nil
}

// GetByReferenceIDs fetches a batch of users for bulk lookups
func (r *UserRepository) GetByReferenceIDs(ctx context.Context, referenceIDs []string) ([]*models.User, error) {
	if len(referenceIDs) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`SELECT * FROM users WHERE reference_id IN (?)`, referenceIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build bulk user query: %w", err)
	}
	query = r.db.Rebind(query)

	var users []*models.User
	if err := r.db.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, fmt.Errorf("failed to get users by reference IDs: %w", err)
	}
	return users, nil
}

// Update rewrites the encrypted profile columns
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	return r.updateOn(ctx, r.db, user)
}

// UpdateTx is Update inside the caller's transaction
func (r *UserRepository) UpdateTx(ctx context.Context, tx *sqlx.Tx, user *models.User) error {
	return r.updateOn(ctx, tx, user)
}

func (r *UserRepository) updateOn(ctx context.Context, q execer, user *models.User) error {
	user.UpdatedAt = time.Now()

	query := `
		UPDATE users SET
			first_name_enc = $1, last_name_enc = $2,
			email_enc = $3, email_hmac = $4,
			phone_enc = $5, phone_hmac = $6,
			dob_enc = $7, gender = $8,
			updated_at = $9
		WHERE reference_id = $10 AND anonymized = FALSE`

	result, err := q.ExecContext(ctx, query,
		user.FirstNameEnc, user.LastNameEnc,
		user.EmailEnc, user.EmailHMAC,
		user.PhoneEnc, user.PhoneHMAC,
		user.DOBEnc, user.Gender,
		user.UpdatedAt, user.ReferenceID,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("user not found or anonymized: %s", user.ReferenceID)
	}
	return nil
}

// Archive soft-deletes an active user. The conditional WHERE makes the
// ACTIVE -> ARCHIVED transition safe under concurrent requests.
func (r *UserRepository) Archive(ctx context.Context, referenceID string) (bool, error) {
	return r.archiveOn(ctx, r.db, referenceID)
}

// ArchiveTx is Archive inside the caller's transaction
func (r *UserRepository) ArchiveTx(ctx context.Context, tx *sqlx.Tx, referenceID string) (bool, error) {
	return r.archiveOn(ctx, tx, referenceID)
}

func (r *UserRepository) archiveOn(ctx context.Context, q execer, referenceID string) (bool, error) {
	query := `
		UPDATE users SET active = FALSE, archived_at = NOW(), updated_at = NOW()
		WHERE reference_id = $1 AND active = TRUE AND anonymized = FALSE`

	result, err := q.ExecContext(ctx, query, referenceID)
	if err != nil {
		return false, fmt.Errorf("failed to archive user: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// Reactivate reverses Archive
func (r *UserRepository) Reactivate(ctx context.Context, referenceID string) (bool, error) {
	return r.reactivateOn(ctx, r.db, referenceID)
}

// ReactivateTx is Reactivate inside the caller's transaction
func (r *UserRepository) ReactivateTx(ctx context.Context, tx *sqlx.Tx, referenceID string) (bool, error) {
	return r.reactivateOn(ctx, tx, referenceID)
}

func (r *UserRepository) reactivateOn(ctx context.Context, q execer, referenceID string) (bool, error) {
	query := `
		UPDATE users SET active = TRUE, archived_at = NULL, updated_at = NOW()
		WHERE reference_id = $1 AND active = FALSE AND anonymized = FALSE`

	result, err := q.ExecContext(ctx, query, referenceID)
	if err != nil {
		return false, fmt.Errorf("failed to reactivate user: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// Anonymize overwrites all ciphertext and HMAC columns with the sentinel
// and marks the row terminal. The reference id survives for audit linkage.
func (r *UserRepository) Anonymize(ctx context.Context, referenceID string) (bool, error) {
	return r.anonymizeOn(ctx, r.db, referenceID)
}

// AnonymizeTx is Anonymize inside the caller's transaction
func (r *UserRepository) AnonymizeTx(ctx context.Context, tx *sqlx.Tx, referenceID string) (bool, error) {
	return r.anonymizeOn(ctx, tx, referenceID)
}

func (r *UserRepository) anonymizeOn(ctx context.Context, q execer, referenceID string) (bool, error) {
	query := `
		UPDATE users SET
			first_name_enc = $1, last_name_enc = $1,
			email_enc = $1, email_hmac = $1,
			phone_enc = $1, phone_hmac = $1,
			dob_enc = $1,
			anonymized = TRUE, active = FALSE, updated_at = NOW()
		WHERE reference_id = $2 AND anonymized = FALSE`

	result, err := q.ExecContext(ctx, query, models.AnonymizedSentinel, referenceID)
	if err != nil {
		return false, fmt.Errorf("failed to anonymize user: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows > 0 {
		r.logger.WithField("reference_id", referenceID).Info("User anonymized")
	}
	return rows > 0, nil
}
