package validator

import (
	"errors"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrInvalidEmail indicates the email address does not parse
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrEmptyEmail indicates the email address is empty
	ErrEmptyEmail = errors.New("email address cannot be empty")

	// ErrInvalidReferenceID indicates the user reference id is not a UUID
	ErrInvalidReferenceID = errors.New("reference id must be a UUID")
)

// emailRegex is a pragmatic pattern: local@domain.tld
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// ValidateEmail lowercases, trims and validates an email address
func ValidateEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrEmptyEmail
	}
	if !emailRegex.MatchString(email) {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// ValidateReferenceID checks a user reference identifier.
// Reference ids are UUIDv7 so they sort by creation time.
func ValidateReferenceID(referenceID string) error {
	id, err := uuid.Parse(strings.TrimSpace(referenceID))
	if err != nil {
		return ErrInvalidReferenceID
	}
	if id == uuid.Nil {
		return ErrInvalidReferenceID
	}
	return nil
}
