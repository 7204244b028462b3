package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// EnrollmentType of a treasure hunt registration
type EnrollmentType string

const (
	EnrollmentTypeIndividual EnrollmentType = "INDIVIDUAL"
	EnrollmentTypeTeam       EnrollmentType = "TEAM"
)

// EnrollmentCreated is the inbound event consumed from the enrollment
// service (subject treasure.enrollment.created). Delivery is at least
// once; the registration id doubles as the invoice idempotency key.
type EnrollmentCreated struct {
	EnrollmentID   string          `json:"enrollmentId"`
	RegistrationID string          `json:"registrationId"`
	UserID         string          `json:"userId"`
	PlanID         string          `json:"planId"`
	PlanTitle      string          `json:"planTitle"`
	EnrollmentType EnrollmentType  `json:"enrollmentType"`
	TeamName       *string         `json:"teamName,omitempty"`
	TeamSize       *int            `json:"teamSize,omitempty"`
	BaseAmount     decimal.Decimal `json:"baseAmount"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	TaxAmount      decimal.Decimal `json:"taxAmount"`
	ConvenienceFee decimal.Decimal `json:"convenienceFee"`
	PlatformFee    decimal.Decimal `json:"platformFee"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	Currency       string          `json:"currency"`
	PromoCode      *string         `json:"promoCode,omitempty"`
	PromotionName  *string         `json:"promotionName,omitempty"`
	BillingName    string          `json:"billingName"`
	BillingEmail   string          `json:"billingEmail"`
	BillingPhone   string          `json:"billingPhone"`
	BillingAddress *string         `json:"billingAddress,omitempty"`
	VendorID       *string         `json:"vendorId,omitempty"`
}

// Validate enforces boundary rules before any state is touched.
// Only INR is accepted until a currency matrix exists.
func (e *EnrollmentCreated) Validate() error {
	if e.EnrollmentID == "" {
		return fmt.Errorf("enrollmentId is required")
	}
	if e.RegistrationID == "" {
		return fmt.Errorf("registrationId is required")
	}
	if e.UserID == "" {
		return fmt.Errorf("userId is required")
	}
	if e.EnrollmentType != EnrollmentTypeIndividual && e.EnrollmentType != EnrollmentTypeTeam {
		return fmt.Errorf("unknown enrollmentType: %s", e.EnrollmentType)
	}
	if e.Currency != "INR" {
		return fmt.Errorf("unsupported currency: %s", e.Currency)
	}
	if e.TotalAmount.IsNegative() || e.BaseAmount.IsNegative() || e.DiscountAmount.IsNegative() ||
		e.TaxAmount.IsNegative() || e.ConvenienceFee.IsNegative() || e.PlatformFee.IsNegative() {
		return fmt.Errorf("amounts must be non-negative")
	}
	expected := e.BaseAmount.Sub(e.DiscountAmount).Add(e.TaxAmount).Add(e.ConvenienceFee).Add(e.PlatformFee)
	if !e.TotalAmount.Equal(expected) {
		return fmt.Errorf("totalAmount %s does not match component sum %s", e.TotalAmount, expected)
	}
	return nil
}
