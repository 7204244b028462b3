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

// PayoutRepository handles payout transaction operations
type PayoutRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPayoutRepository creates a new payout repository
func NewPayoutRepository(db *sqlx.DB, logger *logrus.Logger) *PayoutRepository {
	return &PayoutRepository{
		db:     db,
		logger: logger,
	}
}

// CreateTx inserts a payout row in INIT inside the caller's transaction.
// The unique index on payment_transaction_id guarantees one payout per
// captured payment even under webhook re-delivery.
func (r *PayoutRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, payout *models.PayoutTransaction) (bool, error) {
	if payout.ID == uuid.Nil {
		payout.ID = uuid.New()
	}
	now := time.Now()
	payout.CreatedAt = now
	payout.UpdatedAt = now
	if payout.Status == "" {
		payout.Status = models.PayoutStatusInit
	}

	query := `
		INSERT INTO payout_transactions (
			id, payment_transaction_id, vendor_id,
			gross_amount, commission_amount, net_amount, currency,
			status, gateway_payout_id, error_code, error_message,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (payment_transaction_id) DO NOTHING`

	result, err := tx.ExecContext(ctx, query,
		payout.ID, payout.PaymentTransactionID, payout.VendorID,
		payout.GrossAmount, payout.CommissionAmount, payout.NetAmount, payout.Currency,
		payout.Status, payout.GatewayPayoutID, payout.ErrorCode, payout.ErrorMessage,
		payout.CreatedAt, payout.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create payout: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// GetByID retrieves a payout
func (r *PayoutRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PayoutTransaction, error) {
	var payout models.PayoutTransaction
	err := r.db.GetContext(ctx, &payout, `SELECT * FROM payout_transactions WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get payout: %w", err)
	}
	return &payout, nil
}

// GetByGatewayPayoutID retrieves a payout by gateway id
func (r *PayoutRepository) GetByGatewayPayoutID(ctx context.Context, gatewayPayoutID string) (*models.PayoutTransaction, error) {
	var payout models.PayoutTransaction
	err := r.db.GetContext(ctx, &payout,
		`SELECT * FROM payout_transactions WHERE gateway_payout_id = $1`, gatewayPayoutID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get payout by gateway id: %w", err)
	}
	return &payout, nil
}

// ClaimInitBatch locks a batch of INIT payouts for submission. SKIP
// LOCKED lets multiple submitter instances share the backlog without
// double-submitting.
func (r *PayoutRepository) ClaimInitBatch(ctx context.Context, tx *sqlx.Tx, limit int) ([]*models.PayoutTransaction, error) {
	var payouts []*models.PayoutTransaction
	query := `
		SELECT * FROM payout_transactions
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`

	if err := tx.SelectContext(ctx, &payouts, query, models.PayoutStatusInit, limit); err != nil {
		return nil, fmt.Errorf("failed to claim payout batch: %w", err)
	}
	return payouts, nil
}

// MarkPending moves INIT -> PENDING after a successful gateway submit
func (r *PayoutRepository) MarkPending(ctx context.Context, id uuid.UUID, gatewayPayoutID string) (bool, error) {
	query := `
		UPDATE payout_transactions SET
			status = $1, gateway_payout_id = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4`

	result, err := r.db.ExecContext(ctx, query,
		models.PayoutStatusPending, gatewayPayoutID, id, models.PayoutStatusInit)
	if err != nil {
		return false, fmt.Errorf("failed to mark payout pending: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// MarkSuccessTx moves the payout to SUCCESS when its current status
// matches from, inside the caller's transaction so the transition and
// its outbox event share one commit.
func (r *PayoutRepository) MarkSuccessTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, from models.PayoutStatus) (bool, error) {
	query := `
		UPDATE payout_transactions SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`

	result, err := tx.ExecContext(ctx, query, models.PayoutStatusSuccess, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to mark payout success: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// MarkFailedTx moves the payout to FAILED with the gateway error when
// its current status matches from, inside the caller's transaction.
func (r *PayoutRepository) MarkFailedTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, from models.PayoutStatus, errorCode, errorMessage string) (bool, error) {
	query := `
		UPDATE payout_transactions SET
			status = $1, error_code = $2, error_message = $3, updated_at = NOW()
		WHERE id = $4 AND status = $5`

	result, err := tx.ExecContext(ctx, query,
		models.PayoutStatusFailed, errorCode, errorMessage, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to mark payout failed: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// ListNonTerminal returns PENDING payouts older than the cutoff, used by
// the reconciler to refresh status from the gateway.
func (r *PayoutRepository) ListNonTerminal(ctx context.Context, olderThan time.Duration, limit int) ([]*models.PayoutTransaction, error) {
	var payouts []*models.PayoutTransaction
	query := `
		SELECT * FROM payout_transactions
		WHERE status = $1
		AND updated_at < NOW() - $2::interval
		ORDER BY updated_at ASC
		LIMIT $3`

	interval := fmt.Sprintf("%d seconds", int(olderThan.Seconds()))
	if err := r.db.SelectContext(ctx, &payouts, query, models.PayoutStatusPending, interval, limit); err != nil {
		return nil, fmt.Errorf("failed to list non-terminal payouts: %w", err)
	}
	return payouts, nil
}

// BeginTx starts a transaction for batch claiming
func (r *PayoutRepository) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, nil)
}
