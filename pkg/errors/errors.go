package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	// Per-URL errors, absorbed by the key scraper as misses
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeStatus      ErrorType = "status"
	ErrorTypeContentType ErrorType = "content_type"
	ErrorTypeDecode      ErrorType = "decode"
	ErrorTypeResolution  ErrorType = "resolution"
	ErrorTypeTooLarge    ErrorType = "too_large"
	ErrorTypeWrite       ErrorType = "write"

	// Per-key fatal errors
	ErrorTypeSession    ErrorType = "session"
	ErrorTypeFilesystem ErrorType = "filesystem"

	// Raised before any job starts
	ErrorTypeConfig ErrorType = "config"

	ErrorTypeUnknown ErrorType = "unknown"
)

// Error represents a scraper error with type information
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
	if e.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a typed error
func New(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// Wrap creates a typed error around a cause
func Wrap(errorType ErrorType, message string, err error) *Error {
	return &Error{Type: errorType, Message: message, Err: err}
}

// WithCode creates a typed error carrying an HTTP status code
func WithCode(errorType ErrorType, code int, message string) *Error {
	return &Error{Type: errorType, Message: message, Code: code}
}

// TypeOf returns the type of the first *Error in err's chain
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// IsFatal reports whether err terminates a single key's job
func IsFatal(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeSession, ErrorTypeFilesystem:
		return true
	default:
		return false
	}
}

// IsMiss reports whether err is a per-URL error that counts as a miss
func IsMiss(err error) bool {
	if err == nil {
		return false
	}
	return !IsFatal(err) && TypeOf(err) != ErrorTypeConfig
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork:
		return true
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
		return statusCode >= 500
	}
}
