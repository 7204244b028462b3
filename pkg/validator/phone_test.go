package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhoneValidator_Validate(t *testing.T) {
	v := NewPhoneValidator()

	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  error
	}{
		{"Plain 10 digits", "9876543210", "9876543210", nil},
		{"With country code", "+919876543210", "9876543210", nil},
		{"With trunk zero", "09876543210", "9876543210", nil},
		{"With separators", "98765 43210", "9876543210", nil},
		{"With dashes", "98765-43210", "9876543210", nil},
		{"Empty", "", "", ErrEmptyPhone},
		{"Too short", "987654321", "", ErrInvalidLength},
		{"Too long", "98765432101", "", ErrInvalidLength},
		{"Letters", "98765abcde", "", ErrInvalidFormat},
		{"Bad prefix", "1876543210", "", ErrInvalidPrefix},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Validate(tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestPhoneValidator_Format(t *testing.T) {
	v := NewPhoneValidator()

	formatted, err := v.Format("+919876543210")
	require.NoError(t, err)
	assert.Equal(t, "98765 43210", formatted)

	_, err = v.Format("12345")
	assert.Error(t, err)
}

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{"Lowercase", "p@x.io", "p@x.io", false},
		{"Mixed case normalized", "A@Example.COM", "a@example.com", false},
		{"Surrounding whitespace", "  p@x.io  ", "p@x.io", false},
		{"Missing domain", "p@", "", true},
		{"Missing at", "px.io", "", true},
		{"Empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateEmail(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestValidateReferenceID(t *testing.T) {
	assert.NoError(t, ValidateReferenceID("018f4d9e-7b9a-7cde-8b8f-3a2b1c0d9e8f"))
	assert.Error(t, ValidateReferenceID("not-a-uuid"))
	assert.Error(t, ValidateReferenceID("00000000-0000-0000-0000-000000000000"))
}
