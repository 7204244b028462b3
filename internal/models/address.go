package models

import (
	"time"

	"github.com/google/uuid"
)

// AddressType enum
type AddressType string

const (
	AddressTypeHome  AddressType = "HOME"
	AddressTypeWork  AddressType = "WORK"
	AddressTypeOther AddressType = "OTHER"
)

// Valid reports whether the address type is recognized
func (t AddressType) Valid() bool {
	switch t {
	case AddressTypeHome, AddressTypeWork, AddressTypeOther:
		return true
	}
	return false
}

// Address belongs to exactly one user. At most one address per user is
// primary; if a user has any address, exactly one is primary.
type Address struct {
	ID         uuid.UUID   `json:"id" db:"id"`
	UserID     uuid.UUID   `json:"user_id" db:"user_id"`
	Type       AddressType `json:"type" db:"type"`
	Line1Enc   string      `json:"-" db:"line1_enc"`
	Line2Enc   string      `json:"-" db:"line2_enc"`
	CityEnc    string      `json:"-" db:"city_enc"`
	PostalEnc  string      `json:"-" db:"postal_enc"`
	CountryEnc string      `json:"-" db:"country_enc"`
	IsPrimary  bool        `json:"is_primary" db:"is_primary"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
}

// AddressProfile is the decrypted projection
type AddressProfile struct {
	ID        uuid.UUID   `json:"id"`
	Type      AddressType `json:"type"`
	Line1     string      `json:"line1"`
	Line2     string      `json:"line2,omitempty"`
	City      string      `json:"city"`
	Postal    string      `json:"postal"`
	Country   string      `json:"country"`
	IsPrimary bool        `json:"is_primary"`
	CreatedAt time.Time   `json:"created_at"`
}
