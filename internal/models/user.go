package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Gender enum for the user profile
type Gender string

const (
	GenderMale        Gender = "MALE"
	GenderFemale      Gender = "FEMALE"
	GenderOther       Gender = "OTHER"
	GenderUndisclosed Gender = "UNDISCLOSED"
)

// AnonymizedSentinel replaces ciphertext columns when a user is anonymized.
// The reference id survives so audit rows keep their linkage.
const AnonymizedSentinel = "DELETED"

// User holds envelope-encrypted PII columns plus deterministic HMAC
// columns used as equality indexes. Plaintext never touches this struct;
// decryption happens in the identity service for authorized reads only.
type User struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	ReferenceID  string     `json:"reference_id" db:"reference_id"`
	FirstNameEnc string     `json:"-" db:"first_name_enc"`
	LastNameEnc  string     `json:"-" db:"last_name_enc"`
	EmailEnc     string     `json:"-" db:"email_enc"`
	EmailHMAC    string     `json:"-" db:"email_hmac"`
	PhoneEnc     string     `json:"-" db:"phone_enc"`
	PhoneHMAC    string     `json:"-" db:"phone_hmac"`
	DOBEnc       string     `json:"-" db:"dob_enc"`
	Gender       Gender     `json:"gender" db:"gender"`
	Active       bool       `json:"active" db:"active"`
	Anonymized   bool       `json:"anonymized" db:"anonymized"`
	ArchivedAt   *time.Time `json:"archived_at,omitempty" db:"archived_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// UserProfile is the decrypted (or redacted) projection handed to callers
type UserProfile struct {
	ReferenceID string     `json:"reference_id"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	Email       string     `json:"email"`
	Phone       string     `json:"phone"`
	DateOfBirth string     `json:"date_of_birth,omitempty"`
	Gender      Gender     `json:"gender"`
	Active      bool       `json:"active"`
	Anonymized  bool       `json:"anonymized"`
	Redacted    bool       `json:"redacted"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// MaskEmail hides the local part: p.sharma@x.io -> p******@x.io
func MaskEmail(email string) string {
	at := strings.Index(email, "@")
	if at <= 0 {
		return "****"
	}
	local := email[:at]
	if len(local) == 1 {
		return "*" + email[at:]
	}
	return local[:1] + strings.Repeat("*", len(local)-1) + email[at:]
}

// MaskPhone keeps only the last four digits
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
