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

// PaymentRepository handles payment transaction operations
type PaymentRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(db *sqlx.DB, logger *logrus.Logger) *PaymentRepository {
	return &PaymentRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new payment transaction in PENDING
func (r *PaymentRepository) Create(ctx context.Context, txn *models.PaymentTransaction) error {
	return r.createOn(ctx, r.db, txn)
}

// CreateTx is Create inside the caller's transaction
func (r *PaymentRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, txn *models.PaymentTransaction) error {
	return r.createOn(ctx, tx, txn)
}

func (r *PaymentRepository) createOn(ctx context.Context, q execer, txn *models.PaymentTransaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	now := time.Now()
	txn.CreatedAt = now
	txn.UpdatedAt = now
	if txn.Status == "" {
		txn.Status = models.TransactionStatusPending
	}

	query := `
		INSERT INTO payment_transactions (
			id, invoice_id, amount, currency, status,
			gateway_order_id, gateway_payment_id, payment_method, vendor_id,
			error_code, error_message, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := q.ExecContext(ctx, query,
		txn.ID, txn.InvoiceID, txn.Amount, txn.Currency, txn.Status,
		txn.GatewayOrderID, txn.GatewayPaymentID, txn.PaymentMethod, txn.VendorID,
		txn.ErrorCode, txn.ErrorMessage, txn.CreatedAt, txn.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment transaction: %w", err)
	}
	return nil
}

// GetByID retrieves a payment transaction
func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := r.db.GetContext(ctx, &txn, `SELECT * FROM payment_transactions WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get payment transaction: %w", err)
	}
	return &txn, nil
}

// GetByGatewayOrderID returns the newest transaction for a gateway
// order, preferring CAPTURED, then AUTHORIZED, then the rest. Multiple
// payment attempts can exist for one order; this is the tie-break.
func (r *PaymentRepository) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	query := `
		SELECT * FROM payment_transactions
		WHERE gateway_order_id = $1
		ORDER BY
			CASE status
				WHEN 'CAPTURED' THEN 0
				WHEN 'AUTHORIZED' THEN 1
				ELSE 2
			END,
			created_at DESC
		LIMIT 1`

	err := r.db.GetContext(ctx, &txn, query, gatewayOrderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get transaction by gateway order: %w", err)
	}
	return &txn, nil
}

// GetByGatewayPaymentID retrieves a transaction by gateway payment id
func (r *PaymentRepository) GetByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := r.db.GetContext(ctx, &txn,
		`SELECT * FROM payment_transactions WHERE gateway_payment_id = $1`, gatewayPaymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get transaction by gateway payment: %w", err)
	}
	return &txn, nil
}

// MarkAuthorized moves PENDING -> AUTHORIZED
func (r *PaymentRepository) MarkAuthorized(ctx context.Context, id uuid.UUID, gatewayPaymentID, method string) (bool, error) {
	query := `
		UPDATE payment_transactions SET
			status = $1, gateway_payment_id = $2, payment_method = $3, updated_at = NOW()
		WHERE id = $4 AND status = $5`

	result, err := r.db.ExecContext(ctx, query,
		models.TransactionStatusAuthorized, gatewayPaymentID, method,
		id, models.TransactionStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark transaction authorized: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// MarkCapturedTx moves PENDING or AUTHORIZED -> CAPTURED inside the
// caller's transaction so invoice, payout and outbox rows commit together.
func (r *PaymentRepository) MarkCapturedTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, gatewayPaymentID, method string) (bool, error) {
	query := `
		UPDATE payment_transactions SET
			status = $1, gateway_payment_id = $2, payment_method = $3, updated_at = NOW()
		WHERE id = $4 AND status IN ($5, $6)`

	result, err := tx.ExecContext(ctx, query,
		models.TransactionStatusCaptured, gatewayPaymentID, method,
		id, models.TransactionStatusPending, models.TransactionStatusAuthorized,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark transaction captured: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// MarkFailedTx moves a non-terminal transaction -> FAILED inside the
// caller's transaction, recording the gateway error.
func (r *PaymentRepository) MarkFailedTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, errorCode, errorMessage string) (bool, error) {
	query := `
		UPDATE payment_transactions SET
			status = $1, error_code = $2, error_message = $3, updated_at = NOW()
		WHERE id = $4 AND status IN ($5, $6)`

	result, err := tx.ExecContext(ctx, query,
		models.TransactionStatusFailed, errorCode, errorMessage,
		id, models.TransactionStatusPending, models.TransactionStatusAuthorized,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark transaction failed: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}
