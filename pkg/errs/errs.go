package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport mapping and retry decisions
type Kind string

const (
	KindValidation        Kind = "VALIDATION_ERROR"
	KindNotFound          Kind = "NOT_FOUND"
	KindDuplicate         Kind = "DUPLICATE"
	KindPermissionDenied  Kind = "PERMISSION_DENIED"
	KindUnauthorized      Kind = "UNAUTHORIZED"
	KindGateway           Kind = "GATEWAY_ERROR"
	KindKmsUnavailable    Kind = "KMS_UNAVAILABLE"
	KindDecryptAuthFail   Kind = "DECRYPT_AUTH_FAIL"
	KindInconsistentState Kind = "INCONSISTENT_STATE"
	KindNotImplemented    Kind = "NOT_IMPLEMENTED"
	KindInternal          Kind = "INTERNAL_ERROR"
)

// Error is a tagged error carrying a kind, a transient flag and an
// optional gateway error code. Callers branch on Kind, never on message text.
type Error struct {
	Kind          Kind   `json:"kind"`
	Code          string `json:"code,omitempty"`
	Message       string `json:"message"`
	Transient     bool   `json:"transient,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Cause         error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause for errors.Is / errors.As
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error kind to an HTTP status code
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindDuplicate:
		return http.StatusConflict
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotImplemented:
		return http.StatusNotImplemented
	case KindGateway, KindKmsUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// New creates an error of the given kind and code
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Newf creates an error of the given kind with a formatted message
func Newf(kind Kind, code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags cause with a kind and code, keeping it for unwrapping
func Wrap(cause error, kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// Gateway creates a GATEWAY_ERROR carrying the upstream code and the
// transient flag the resilience kernel uses for retry decisions
func Gateway(code, message string, transient bool, cause error) *Error {
	return &Error{Kind: KindGateway, Code: code, Message: message, Transient: transient, Cause: cause}
}

// WithCorrelationID attaches a correlation id for log linkage
func (e *Error) WithCorrelationID(id string) *Error {
	e.CorrelationID = id
	return e
}

// KindOf returns the kind of err, or KindInternal for untagged errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsTransient reports whether err may succeed on retry
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Transient || e.Kind == KindKmsUnavailable
	}
	return false
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
