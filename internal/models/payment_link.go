package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentLinkStatus enum for manual re-collection links
type PaymentLinkStatus string

const (
	PaymentLinkStatusCreated   PaymentLinkStatus = "CREATED"
	PaymentLinkStatusPaid      PaymentLinkStatus = "PAID"
	PaymentLinkStatusCancelled PaymentLinkStatus = "CANCELLED"
	PaymentLinkStatusExpired   PaymentLinkStatus = "EXPIRED"
)

// Terminal reports whether the link accepts no further transitions
func (s PaymentLinkStatus) Terminal() bool {
	return s == PaymentLinkStatusPaid || s == PaymentLinkStatusCancelled || s == PaymentLinkStatusExpired
}

// PaymentLink is a gateway-hosted link used to re-collect an unpaid invoice
type PaymentLink struct {
	ID            uuid.UUID         `json:"id" db:"id"`
	InvoiceID     uuid.UUID         `json:"invoice_id" db:"invoice_id"`
	GatewayLinkID string            `json:"gateway_link_id" db:"gateway_link_id"`
	ShortURL      string            `json:"short_url" db:"short_url"`
	Amount        decimal.Decimal   `json:"amount" db:"amount"`
	Currency      string            `json:"currency" db:"currency"`
	Status        PaymentLinkStatus `json:"status" db:"status"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at" db:"updated_at"`
}
