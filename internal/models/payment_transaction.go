package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionStatus is the payment transaction state machine:
// PENDING -> AUTHORIZED -> CAPTURED, PENDING -> CAPTURED (auto-capture),
// PENDING/AUTHORIZED -> FAILED. CAPTURED and FAILED are terminal.
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "PENDING"
	TransactionStatusAuthorized TransactionStatus = "AUTHORIZED"
	TransactionStatusCaptured   TransactionStatus = "CAPTURED"
	TransactionStatusFailed     TransactionStatus = "FAILED"
)

// Terminal reports whether the status accepts no further transitions
func (s TransactionStatus) Terminal() bool {
	return s == TransactionStatusCaptured || s == TransactionStatusFailed
}

// PaymentTransaction tracks one gateway order lifecycle for an invoice
type PaymentTransaction struct {
	ID               uuid.UUID         `json:"id" db:"id"`
	InvoiceID        uuid.UUID         `json:"invoice_id" db:"invoice_id"`
	Amount           decimal.Decimal   `json:"amount" db:"amount"`
	Currency         string            `json:"currency" db:"currency"`
	Status           TransactionStatus `json:"status" db:"status"`
	GatewayOrderID   string            `json:"gateway_order_id" db:"gateway_order_id"`
	GatewayPaymentID *string           `json:"gateway_payment_id,omitempty" db:"gateway_payment_id"`
	PaymentMethod    *string           `json:"payment_method,omitempty" db:"payment_method"`
	VendorID         *string           `json:"vendor_id,omitempty" db:"vendor_id"`
	ErrorCode        *string           `json:"error_code,omitempty" db:"error_code"`
	ErrorMessage     *string           `json:"error_message,omitempty" db:"error_message"`
	CreatedAt        time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at" db:"updated_at"`
}
