package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	t.Run("Tagged Error", func(t *testing.T) {
		err := New(KindNotFound, "INVOICE_NOT_FOUND", "invoice not found")
		assert.Equal(t, KindNotFound, KindOf(err))
	})

	t.Run("Wrapped Tagged Error", func(t *testing.T) {
		inner := New(KindDuplicate, "INVOICE_EXISTS", "invoice exists")
		err := fmt.Errorf("generate invoice: %w", inner)
		assert.Equal(t, KindDuplicate, KindOf(err))
	})

	t.Run("Untagged Error", func(t *testing.T) {
		assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	})
}

func TestIsTransient(t *testing.T) {
	t.Run("Transient Gateway Error", func(t *testing.T) {
		err := Gateway("SERVER_ERROR", "gateway returned 503", true, nil)
		assert.True(t, IsTransient(err))
	})

	t.Run("Non Transient Gateway Error", func(t *testing.T) {
		err := Gateway("BAD_REQUEST_ERROR", "amount invalid", false, nil)
		assert.False(t, IsTransient(err))
	})

	t.Run("KMS Unavailable Is Transient", func(t *testing.T) {
		err := Wrap(errors.New("dial tcp"), KindKmsUnavailable, "KMS_UNREACHABLE", "vault unreachable")
		assert.True(t, IsTransient(err))
	})

	t.Run("Plain Error", func(t *testing.T) {
		assert.False(t, IsTransient(errors.New("boom")))
	})
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		kind   Kind
		status int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindNotFound, http.StatusNotFound},
		{KindDuplicate, http.StatusConflict},
		{KindPermissionDenied, http.StatusForbidden},
		{KindUnauthorized, http.StatusUnauthorized},
		{KindNotImplemented, http.StatusNotImplemented},
		{KindGateway, http.StatusBadGateway},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, New(tc.kind, "X", "x").HTTPStatus(), string(tc.kind))
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(cause, KindKmsUnavailable, "KMS_UNREACHABLE", "encrypt failed")
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "connection refused")
}
