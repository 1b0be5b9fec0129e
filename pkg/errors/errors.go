package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies failures crossing component boundaries. The sync
// engine maps these onto run statuses and unit events; source adapters map
// HTTP outcomes onto them.
type ErrorType string

const (
	// ErrorTypePreflight: source not authenticated or not connected.
	// Terminal for a run, never retried internally.
	ErrorTypePreflight ErrorType = "preflight"
	// ErrorTypeUnitScan: one unit's scan failed. Isolated to that unit.
	ErrorTypeUnitScan ErrorType = "unit_scan"
	// ErrorTypePersistence: the local store rejected a flush.
	ErrorTypePersistence ErrorType = "persistence"

	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// Error carries a classified failure with an optional HTTP code and cause.
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
func New(errType ErrorType, message string) *Error {
	return &Error{Type: errType, Message: message}
}

// Wrap classifies an underlying error, keeping it reachable via errors.Is/As.
func Wrap(errType ErrorType, message string, err error) *Error {
	return &Error{Type: errType, Message: message, Err: err}
}

// NewPreflight marks a run as not startable (unauthenticated/offline).
func NewPreflight(message string) *Error {
	return &Error{Type: ErrorTypePreflight, Message: message}
}

// NewUnitScan wraps a failure confined to a single scan unit.
func NewUnitScan(unitID string, err error) *Error {
	return &Error{Type: ErrorTypeUnitScan, Message: fmt.Sprintf("unit %s: %v", unitID, err), Err: err}
}

// NewPersistence wraps a failure from the local store.
func NewPersistence(err error) *Error {
	return &Error{Type: ErrorTypePersistence, Message: err.Error(), Err: err}
}

// TypeOf extracts the classification of err, walking the wrap chain.
// Unclassified errors report ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// IsPreflight reports whether err is a preflight failure.
func IsPreflight(err error) bool {
	return TypeOf(err) == ErrorTypePreflight
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	case ErrorTypePreflight, ErrorTypeAuth, ErrorTypeNotFound, ErrorTypeParsing:
		return false
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 429: // Too Many Requests
		return true
	case 500, 502, 503, 504: // Server errors
		return true
	case 401, 403, 404: // Client errors that won't change
		return false
	default:
		return statusCode >= 500 // Retry all 5xx errors
	}
}
