package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PayoutStatus state machine: INIT -> PENDING (gateway submit ok),
// INIT -> FAILED (submit error), PENDING -> SUCCESS|FAILED (webhook).
// SUCCESS and FAILED are terminal.
type PayoutStatus string

const (
	PayoutStatusInit    PayoutStatus = "INIT"
	PayoutStatusPending PayoutStatus = "PENDING"
	PayoutStatusSuccess PayoutStatus = "SUCCESS"
	PayoutStatusFailed  PayoutStatus = "FAILED"
)

// Terminal reports whether the status accepts no further transitions
func (s PayoutStatus) Terminal() bool {
	return s == PayoutStatusSuccess || s == PayoutStatusFailed
}

// PayoutTransaction splits a captured payment into commission and a net
// amount paid out to the vendor. gross = commission + net always holds.
type PayoutTransaction struct {
	ID                   uuid.UUID       `json:"id" db:"id"`
	PaymentTransactionID uuid.UUID       `json:"payment_transaction_id" db:"payment_transaction_id"`
	VendorID             string          `json:"vendor_id" db:"vendor_id"`
	GrossAmount          decimal.Decimal `json:"gross_amount" db:"gross_amount"`
	CommissionAmount     decimal.Decimal `json:"commission_amount" db:"commission_amount"`
	NetAmount            decimal.Decimal `json:"net_amount" db:"net_amount"`
	Currency             string          `json:"currency" db:"currency"`
	Status               PayoutStatus    `json:"status" db:"status"`
	GatewayPayoutID      *string         `json:"gateway_payout_id,omitempty" db:"gateway_payout_id"`
	ErrorCode            *string         `json:"error_code,omitempty" db:"error_code"`
	ErrorMessage         *string         `json:"error_message,omitempty" db:"error_message"`
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at" db:"updated_at"`
}

// NetPaise converts the net amount to minor units for the gateway
func (p *PayoutTransaction) NetPaise() int64 {
	return p.NetAmount.Shift(2).IntPart()
}

// SplitCommission computes commission = round2(gross * rate/100) and the
// matching net so that gross = commission + net exactly.
func SplitCommission(gross decimal.Decimal, ratePercent decimal.Decimal) (commission, net decimal.Decimal) {
	commission = gross.Mul(ratePercent).Div(decimal.NewFromInt(100)).Round(2)
	net = gross.Sub(commission)
	return commission, net
}
