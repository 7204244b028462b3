package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// VendorProfile holds the bank details and commission rate for a vendor.
// Payout creation requires bank account, IFSC and an active profile.
type VendorProfile struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	VendorID          string          `json:"vendor_id" db:"vendor_id"`
	Name              string          `json:"name" db:"name"`
	Email             string          `json:"email" db:"email"`
	Phone             string          `json:"phone" db:"phone"`
	BankAccountNumber string          `json:"-" db:"bank_account_number"`
	IFSC              string          `json:"ifsc" db:"ifsc"`
	AccountHolderName string          `json:"account_holder_name" db:"account_holder_name"`
	CommissionRate    decimal.Decimal `json:"commission_rate" db:"commission_rate"`
	Active            bool            `json:"active" db:"active"`
	Verified          bool            `json:"verified" db:"verified"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// PayoutEligible reports whether the profile can receive payouts
func (v *VendorProfile) PayoutEligible() bool {
	return v.Active && v.BankAccountNumber != "" && v.IFSC != ""
}
