// Package apperr defines the closed error taxonomy shared across the
// service. Callers switch on Kind rather than on dynamic error types;
// adapters map Kind to HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindInvalidKey
	KindKeyExpired
	KindKeyRevoked
	KindMaxActivations
	KindRateLimited
	KindNotFound
	KindConflict
	KindStoreUnavailable
)

// Error is the single error variant used by the domain layer. Kind drives
// propagation decisions, Code is the stable machine-readable identifier
// exposed to API clients, Details carries structured context.
type Error struct {
	Kind       Kind
	Code       string
	Message    string
	Details    map[string]interface{}
	RetryAfter time.Duration
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches two apperr values by kind, so errors.Is works against the
// exported prototypes below.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// HTTPStatus maps the error kind to its transport status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation, KindInvalidKey:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindKeyExpired, KindKeyRevoked, KindMaxActivations:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may sensibly retry. Only
// infrastructure faults and rate limits qualify; domain rejections are
// final until state changes.
func (e *Error) Retryable() bool {
	return e.Kind == KindStoreUnavailable || e.Kind == KindRateLimited
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, cause: cause}
}

func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// Prototypes for errors.Is comparisons.
var (
	ErrValidation       = &Error{Kind: KindValidation, Code: "VALIDATION_ERROR", Message: "invalid input"}
	ErrInvalidKey       = &Error{Kind: KindInvalidKey, Code: "INVALID_KEY", Message: "license key is invalid"}
	ErrKeyExpired       = &Error{Kind: KindKeyExpired, Code: "KEY_EXPIRED", Message: "license key has expired"}
	ErrKeyRevoked       = &Error{Kind: KindKeyRevoked, Code: "KEY_REVOKED", Message: "license key has been revoked"}
	ErrMaxActivations   = &Error{Kind: KindMaxActivations, Code: "MAX_ACTIVATIONS_REACHED", Message: "maximum activations reached"}
	ErrRateLimited      = &Error{Kind: KindRateLimited, Code: "RATE_LIMIT_EXCEEDED", Message: "rate limit exceeded"}
	ErrNotFound         = &Error{Kind: KindNotFound, Code: "NOT_FOUND", Message: "resource not found"}
	ErrStoreUnavailable = &Error{Kind: KindStoreUnavailable, Code: "STORE_UNAVAILABLE", Message: "backing store unavailable"}
)

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
