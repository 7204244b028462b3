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

// InvoiceRepository handles invoice operations
type InvoiceRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db *sqlx.DB, logger *logrus.Logger) *InvoiceRepository {
	return &InvoiceRepository{
		db:     db,
		logger: logger,
	}
}

// CreateIfAbsent inserts an invoice unless one already exists for the
// same invoice number. Returns the stored invoice and whether this call
// created it, which makes enrollment re-delivery a no-op.
func (r *InvoiceRepository) CreateIfAbsent(ctx context.Context, invoice *models.Invoice) (*models.Invoice, bool, error) {
	if invoice.ID == uuid.Nil {
		invoice.ID = uuid.New()
	}
	now := time.Now()
	invoice.CreatedAt = now
	invoice.UpdatedAt = now

	query := `
		INSERT INTO invoices (
			id, invoice_number, enrollment_id, registration_id, user_id,
			plan_id, plan_title, enrollment_type, team_name, vendor_id,
			base_amount, discount_amount, tax_amount, convenience_fee, platform_fee, total_amount,
			currency, billing_name, billing_email, billing_phone, billing_address,
			payment_status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21,
			$22, $23, $24
		)
		ON CONFLICT (invoice_number) DO NOTHING`

	result, err := r.db.ExecContext(ctx, query,
		invoice.ID, invoice.InvoiceNumber, invoice.EnrollmentID, invoice.RegistrationID, invoice.UserID,
		invoice.PlanID, invoice.PlanTitle, invoice.EnrollmentType, invoice.TeamName, invoice.VendorID,
		invoice.BaseAmount, invoice.DiscountAmount, invoice.TaxAmount, invoice.ConvenienceFee, invoice.PlatformFee, invoice.TotalAmount,
		invoice.Currency, invoice.BillingName, invoice.BillingEmail, invoice.BillingPhone, invoice.BillingAddress,
		invoice.PaymentStatus, invoice.CreatedAt, invoice.UpdatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create invoice: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		return invoice, true, nil
	}

	existing, err := r.GetByInvoiceNumber(ctx, invoice.InvoiceNumber)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("invoice conflict but row missing: %s", invoice.InvoiceNumber)
	}
	return existing, false, nil
}

// GetByID retrieves an invoice
func (r *InvoiceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.GetContext(ctx, &invoice, `SELECT * FROM invoices WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return &invoice, nil
}

// GetByInvoiceNumber retrieves an invoice by its idempotency key
func (r *InvoiceRepository) GetByInvoiceNumber(ctx context.Context, invoiceNumber string) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.GetContext(ctx, &invoice, `SELECT * FROM invoices WHERE invoice_number = $1`, invoiceNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get invoice by number: %w", err)
	}
	return &invoice, nil
}

// GetByGatewayOrderID resolves the invoice a gateway order belongs to
func (r *InvoiceRepository) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.GetContext(ctx, &invoice, `SELECT * FROM invoices WHERE gateway_order_id = $1`, gatewayOrderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get invoice by gateway order: %w", err)
	}
	return &invoice, nil
}

// SetGatewayOrder records the gateway order id once it exists
func (r *InvoiceRepository) SetGatewayOrder(ctx context.Context, invoiceID uuid.UUID, gatewayOrderID string) error {
	query := `
		UPDATE invoices SET gateway_order_id = $1, updated_at = NOW()
		WHERE id = $2 AND gateway_order_id IS NULL`

	result, err := r.db.ExecContext(ctx, query, gatewayOrderID, invoiceID)
	if err != nil {
		return fmt.Errorf("failed to set gateway order: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		// already set: tolerate re-runs as long as the id matches
		existing, err := r.GetByID(ctx, invoiceID)
		if err != nil {
			return err
		}
		if existing == nil || existing.GatewayOrderID == nil || *existing.GatewayOrderID != gatewayOrderID {
			return fmt.Errorf("gateway order already set to a different id for invoice %s", invoiceID)
		}
	}
	return nil
}

// MarkPaidTx moves PENDING -> PAID inside the caller's transaction.
// The conditional WHERE makes duplicate success webhooks no-ops.
func (r *InvoiceRepository) MarkPaidTx(ctx context.Context, tx *sqlx.Tx, invoiceID uuid.UUID, gatewayPaymentID string, paymentTransactionID uuid.UUID, method string) (bool, error) {
	query := `
		UPDATE invoices SET
			payment_status = $1,
			gateway_payment_id = $2,
			payment_transaction_id = $3,
			payment_method = $4,
			updated_at = NOW()
		WHERE id = $5 AND payment_status = $6`

	result, err := tx.ExecContext(ctx, query,
		models.PaymentStatusPaid, gatewayPaymentID, paymentTransactionID, method,
		invoiceID, models.PaymentStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark invoice paid: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// MarkFailedTx moves PENDING -> FAILED inside the caller's transaction
func (r *InvoiceRepository) MarkFailedTx(ctx context.Context, tx *sqlx.Tx, invoiceID uuid.UUID) (bool, error) {
	query := `
		UPDATE invoices SET payment_status = $1, updated_at = NOW()
		WHERE id = $2 AND payment_status = $3`

	result, err := tx.ExecContext(ctx, query, models.PaymentStatusFailed, invoiceID, models.PaymentStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to mark invoice failed: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// ListStuckPending returns invoices that have had a gateway order for
// longer than the cutoff without reaching a terminal state.
func (r *InvoiceRepository) ListStuckPending(ctx context.Context, olderThan time.Duration, limit int) ([]*models.Invoice, error) {
	var invoices []*models.Invoice
	query := `
		SELECT * FROM invoices
		WHERE payment_status = $1
		AND gateway_order_id IS NOT NULL
		AND updated_at < NOW() - $2::interval
		ORDER BY updated_at ASC
		LIMIT $3`

	interval := fmt.Sprintf("%d seconds", int(olderThan.Seconds()))
	if err := r.db.SelectContext(ctx, &invoices, query, models.PaymentStatusPending, interval, limit); err != nil {
		return nil, fmt.Errorf("failed to list stuck invoices: %w", err)
	}
	return invoices, nil
}
