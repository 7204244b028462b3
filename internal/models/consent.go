package models

import (
	"time"

	"github.com/google/uuid"
)

// ConsentSource identifies where a consent decision originated
type ConsentSource string

const (
	ConsentSourceWeb    ConsentSource = "WEB"
	ConsentSourceMobile ConsentSource = "MOBILE"
	ConsentSourceAPI    ConsentSource = "API"
	ConsentSourceImport ConsentSource = "IMPORT"
)

// LegalBasis under which processing is allowed
type LegalBasis string

const (
	LegalBasisConsent            LegalBasis = "CONSENT"
	LegalBasisContract           LegalBasis = "CONTRACT"
	LegalBasisLegitimateInterest LegalBasis = "LEGITIMATE_INTEREST"
	LegalBasisLegalObligation    LegalBasis = "LEGAL_OBLIGATION"
)

// Consent is unique per (user, consent key). granted_at <= withdrawn_at
// whenever both are set.
type Consent struct {
	ID             uuid.UUID     `json:"id" db:"id"`
	UserID         uuid.UUID     `json:"user_id" db:"user_id"`
	ConsentKey     string        `json:"consent_key" db:"consent_key"`
	Granted        bool          `json:"granted" db:"granted"`
	ConsentVersion string        `json:"consent_version" db:"consent_version"`
	GrantedAt      *time.Time    `json:"granted_at,omitempty" db:"granted_at"`
	WithdrawnAt    *time.Time    `json:"withdrawn_at,omitempty" db:"withdrawn_at"`
	Source         ConsentSource `json:"source" db:"source"`
	LegalBasis     LegalBasis    `json:"legal_basis" db:"legal_basis"`
	IPAddress      *string       `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent      *string       `json:"user_agent,omitempty" db:"user_agent"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
}
