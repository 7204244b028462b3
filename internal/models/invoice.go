package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus is the invoice payment state. PENDING->PAID and
// PENDING->FAILED are the only transitions; both targets are terminal.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusPaid    PaymentStatus = "PAID"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

// Invoice is derived from an enrollment event. The invoice number equals
// the enrollment registration identifier, which makes invoice generation
// idempotent across event re-delivery.
type Invoice struct {
	ID                   uuid.UUID       `json:"id" db:"id"`
	InvoiceNumber        string          `json:"invoice_number" db:"invoice_number"`
	EnrollmentID         string          `json:"enrollment_id" db:"enrollment_id"`
	RegistrationID       string          `json:"registration_id" db:"registration_id"`
	UserID               string          `json:"user_id" db:"user_id"`
	PlanID               string          `json:"plan_id" db:"plan_id"`
	PlanTitle            string          `json:"plan_title" db:"plan_title"`
	EnrollmentType       string          `json:"enrollment_type" db:"enrollment_type"`
	TeamName             *string         `json:"team_name,omitempty" db:"team_name"`
	VendorID             *string         `json:"vendor_id,omitempty" db:"vendor_id"`
	BaseAmount           decimal.Decimal `json:"base_amount" db:"base_amount"`
	DiscountAmount       decimal.Decimal `json:"discount_amount" db:"discount_amount"`
	TaxAmount            decimal.Decimal `json:"tax_amount" db:"tax_amount"`
	ConvenienceFee       decimal.Decimal `json:"convenience_fee" db:"convenience_fee"`
	PlatformFee          decimal.Decimal `json:"platform_fee" db:"platform_fee"`
	TotalAmount          decimal.Decimal `json:"total_amount" db:"total_amount"`
	Currency             string          `json:"currency" db:"currency"`
	BillingName          string          `json:"billing_name" db:"billing_name"`
	BillingEmail         string          `json:"billing_email" db:"billing_email"`
	BillingPhone         string          `json:"billing_phone" db:"billing_phone"`
	BillingAddress       *string         `json:"billing_address,omitempty" db:"billing_address"`
	PaymentStatus        PaymentStatus   `json:"payment_status" db:"payment_status"`
	PaymentMethod        *string         `json:"payment_method,omitempty" db:"payment_method"`
	GatewayOrderID       *string         `json:"gateway_order_id,omitempty" db:"gateway_order_id"`
	GatewayPaymentID     *string         `json:"gateway_payment_id,omitempty" db:"gateway_payment_id"`
	PaymentTransactionID *uuid.UUID      `json:"payment_transaction_id,omitempty" db:"payment_transaction_id"`
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at" db:"updated_at"`
}

// AmountsConsistent checks total = base - discount + tax + convenience + platform
func (i *Invoice) AmountsConsistent() bool {
	expected := i.BaseAmount.
		Sub(i.DiscountAmount).
		Add(i.TaxAmount).
		Add(i.ConvenienceFee).
		Add(i.PlatformFee)
	return i.TotalAmount.Equal(expected)
}

// TotalPaise converts the invoice total to minor units for the gateway
func (i *Invoice) TotalPaise() int64 {
	return i.TotalAmount.Shift(2).IntPart()
}
