package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treasuretrails/payments-backend/internal/models"
)

func sampleInvoice() *models.Invoice {
	return &models.Invoice{
		InvoiceNumber:  "REG-2025-001",
		EnrollmentID:   "enr-1",
		RegistrationID: "REG-2025-001",
		UserID:         "user-1",
		PlanID:         "plan-1",
		PlanTitle:      "City Hunt",
		EnrollmentType: "INDIVIDUAL",
		BaseAmount:     decimal.RequireFromString("500.00"),
		DiscountAmount: decimal.RequireFromString("50.00"),
		TaxAmount:      decimal.RequireFromString("81.00"),
		ConvenienceFee: decimal.RequireFromString("10.00"),
		PlatformFee:    decimal.RequireFromString("9.00"),
		TotalAmount:    decimal.RequireFromString("550.00"),
		Currency:       "INR",
		BillingName:    "Priya Sharma",
		BillingEmail:   "priya@example.com",
		BillingPhone:   "9876543210",
		PaymentStatus:  models.PaymentStatusPending,
	}
}

func TestCreateIfAbsent(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewInvoiceRepository(db, testLogger())

	t.Run("Creates New Invoice", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO invoices`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		invoice, created, err := repo.CreateIfAbsent(context.Background(), sampleInvoice())
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEqual(t, uuid.Nil, invoice.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Returns Existing On Conflict", func(t *testing.T) {
		existingID := uuid.New()
		now := time.Now()

		mock.ExpectExec(`INSERT INTO invoices`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT \* FROM invoices WHERE invoice_number`).
			WithArgs("REG-2025-001").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "invoice_number", "enrollment_id", "registration_id", "user_id",
				"plan_id", "plan_title", "enrollment_type",
				"base_amount", "discount_amount", "tax_amount", "convenience_fee", "platform_fee", "total_amount",
				"currency", "billing_name", "billing_email", "billing_phone",
				"payment_status", "created_at", "updated_at",
			}).AddRow(
				existingID, "REG-2025-001", "enr-1", "REG-2025-001", "user-1",
				"plan-1", "City Hunt", "INDIVIDUAL",
				"500.00", "50.00", "81.00", "10.00", "9.00", "550.00",
				"INR", "Priya Sharma", "priya@example.com", "9876543210",
				models.PaymentStatusPending, now, now,
			))

		invoice, created, err := repo.CreateIfAbsent(context.Background(), sampleInvoice())
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, existingID, invoice.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Database Error", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO invoices`).
			WillReturnError(fmt.Errorf("database error"))

		_, _, err := repo.CreateIfAbsent(context.Background(), sampleInvoice())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create invoice")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMarkPaidTx(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewInvoiceRepository(db, testLogger())
	invoiceID := uuid.New()
	txnID := uuid.New()

	t.Run("Transitions Pending Invoice", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE invoices`).
			WithArgs(models.PaymentStatusPaid, "pay_abc", txnID, "upi",
				invoiceID, models.PaymentStatusPending).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		tx, err := db.BeginTxx(context.Background(), nil)
		require.NoError(t, err)

		transitioned, err := repo.MarkPaidTx(context.Background(), tx, invoiceID, "pay_abc", txnID, "upi")
		require.NoError(t, err)
		assert.True(t, transitioned)
		require.NoError(t, tx.Commit())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Duplicate Webhook Is NoOp", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE invoices`).
			WithArgs(models.PaymentStatusPaid, "pay_abc", txnID, "upi",
				invoiceID, models.PaymentStatusPending).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		tx, err := db.BeginTxx(context.Background(), nil)
		require.NoError(t, err)

		transitioned, err := repo.MarkPaidTx(context.Background(), tx, invoiceID, "pay_abc", txnID, "upi")
		require.NoError(t, err)
		assert.False(t, transitioned)
		require.NoError(t, tx.Rollback())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAmountsConsistent(t *testing.T) {
	invoice := sampleInvoice()
	assert.True(t, invoice.AmountsConsistent())

	invoice.TotalAmount = decimal.RequireFromString("999.00")
	assert.False(t, invoice.AmountsConsistent())
}

func TestTotalPaise(t *testing.T) {
	invoice := sampleInvoice()
	assert.Equal(t, int64(55000), invoice.TotalPaise())
}
