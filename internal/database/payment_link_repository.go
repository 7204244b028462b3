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

// PaymentLinkRepository handles gateway payment link rows
type PaymentLinkRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPaymentLinkRepository creates a new payment link repository
func NewPaymentLinkRepository(db *sqlx.DB, logger *logrus.Logger) *PaymentLinkRepository {
	return &PaymentLinkRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a payment link
func (r *PaymentLinkRepository) Create(ctx context.Context, link *models.PaymentLink) error {
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}
	now := time.Now()
	link.CreatedAt = now
	link.UpdatedAt = now
	if link.Status == "" {
		link.Status = models.PaymentLinkStatusCreated
	}

	query := `
		INSERT INTO payment_links (
			id, invoice_id, gateway_link_id, short_url,
			amount, currency, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(ctx, query,
		link.ID, link.InvoiceID, link.GatewayLinkID, link.ShortURL,
		link.Amount, link.Currency, link.Status, link.CreatedAt, link.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment link: %w", err)
	}
	return nil
}

// GetByID retrieves a payment link
func (r *PaymentLinkRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PaymentLink, error) {
	var link models.PaymentLink
	err := r.db.GetContext(ctx, &link, `SELECT * FROM payment_links WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get payment link: %w", err)
	}
	return &link, nil
}

// GetByGatewayLinkID resolves a link from the gateway's id
func (r *PaymentLinkRepository) GetByGatewayLinkID(ctx context.Context, gatewayLinkID string) (*models.PaymentLink, error) {
	var link models.PaymentLink
	err := r.db.GetContext(ctx, &link, `SELECT * FROM payment_links WHERE gateway_link_id = $1`, gatewayLinkID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get payment link by gateway id: %w", err)
	}
	return &link, nil
}

// GetActiveByInvoice returns the open link for an invoice, if any
func (r *PaymentLinkRepository) GetActiveByInvoice(ctx context.Context, invoiceID uuid.UUID) (*models.PaymentLink, error) {
	var link models.PaymentLink
	query := `
		SELECT * FROM payment_links
		WHERE invoice_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1`

	err := r.db.GetContext(ctx, &link, query, invoiceID, models.PaymentLinkStatusCreated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active payment link: %w", err)
	}
	return &link, nil
}

// UpdateStatus transitions a link out of CREATED. Terminal states are
// never overwritten.
func (r *PaymentLinkRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.PaymentLinkStatus) (bool, error) {
	query := `
		UPDATE payment_links SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`

	result, err := r.db.ExecContext(ctx, query, status, id, models.PaymentLinkStatusCreated)
	if err != nil {
		return false, fmt.Errorf("failed to update payment link status: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}
