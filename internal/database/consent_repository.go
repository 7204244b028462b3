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

// ConsentRepository handles consent rows, one per (user, consent key)
type ConsentRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewConsentRepository creates a new consent repository
func NewConsentRepository(db *sqlx.DB, logger *logrus.Logger) *ConsentRepository {
	return &ConsentRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert records a consent decision. Re-granting clears withdrawn_at;
// withdrawal stamps it. The unique index on (user_id, consent_key)
// makes the insert race-safe.
func (r *ConsentRepository) Upsert(ctx context.Context, consent *models.Consent) error {
	return r.upsertOn(ctx, r.db, consent)
}

// UpsertTx is Upsert inside the caller's transaction
func (r *ConsentRepository) UpsertTx(ctx context.Context, tx *sqlx.Tx, consent *models.Consent) error {
	return r.upsertOn(ctx, tx, consent)
}

func (r *ConsentRepository) upsertOn(ctx context.Context, q execer, consent *models.Consent) error {
	if consent.ID == uuid.Nil {
		consent.ID = uuid.New()
	}
	now := time.Now()
	consent.UpdatedAt = now
	if consent.CreatedAt.IsZero() {
		consent.CreatedAt = now
	}
	if consent.Granted {
		consent.GrantedAt = &now
		consent.WithdrawnAt = nil
	} else {
		consent.WithdrawnAt = &now
	}

	query := `
		INSERT INTO consents (
			id, user_id, consent_key, granted, consent_version,
			granted_at, withdrawn_at, source, legal_basis,
			ip_address, user_agent, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (user_id, consent_key) DO UPDATE SET
			granted = EXCLUDED.granted,
			consent_version = EXCLUDED.consent_version,
			granted_at = CASE WHEN EXCLUDED.granted THEN EXCLUDED.granted_at ELSE consents.granted_at END,
			withdrawn_at = EXCLUDED.withdrawn_at,
			source = EXCLUDED.source,
			legal_basis = EXCLUDED.legal_basis,
			ip_address = EXCLUDED.ip_address,
			user_agent = EXCLUDED.user_agent,
			updated_at = EXCLUDED.updated_at`

	_, err := q.ExecContext(ctx, query,
		consent.ID, consent.UserID, consent.ConsentKey, consent.Granted, consent.ConsentVersion,
		consent.GrantedAt, consent.WithdrawnAt, consent.Source, consent.LegalBasis,
		consent.IPAddress, consent.UserAgent, consent.CreatedAt, consent.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert consent: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"user_id":     consent.UserID,
		"consent_key": consent.ConsentKey,
		"granted":     consent.Granted,
	}).Debug("Consent recorded")

	return nil
}

// Get retrieves one consent decision
func (r *ConsentRepository) Get(ctx context.Context, userID uuid.UUID, consentKey string) (*models.Consent, error) {
	var consent models.Consent
	query := `SELECT * FROM consents WHERE user_id = $1 AND consent_key = $2`
	err := r.db.GetContext(ctx, &consent, query, userID, consentKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get consent: %w", err)
	}
	return &consent, nil
}

// ListByUser returns all consent decisions for a user
func (r *ConsentRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Consent, error) {
	var consents []*models.Consent
	query := `SELECT * FROM consents WHERE user_id = $1 ORDER BY consent_key ASC`
	if err := r.db.SelectContext(ctx, &consents, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list consents: %w", err)
	}
	return consents, nil
}
