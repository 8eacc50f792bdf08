package lookup

import (
	"errors"
	"fmt"
)

// Common errors carried as the reason of Absent results.
var (
	// ErrEmptyIdentifier is the reason for lookups of an empty CNPJ. No request is sent.
	ErrEmptyIdentifier = errors.New("empty identifier")

	// ErrNotJSONObject is returned when a 2xx body does not decode into a JSON object.
	ErrNotJSONObject = errors.New("response body is not a JSON object")

	// ErrTrailingData is returned when a 2xx body carries content after its JSON object.
	ErrTrailingData = errors.New("unexpected data after JSON object")
)

// ErrorClass represents a classification of lookup failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents connection level errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassTimeout represents requests that exceeded the configured timeout.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassDecode represents malformed or non-object response bodies.
	ErrorClassDecode ErrorClass = "decode"

	// ErrorClassCancelled represents lookups abandoned because the run was cancelled.
	ErrorClassCancelled ErrorClass = "cancelled"
)

// Error describes a failed lookup with additional context.
type Error struct {
	CNPJ       string
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cnpj %s: %s error (status %d): %s: %v",
			e.CNPJ, e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("cnpj %s: %s error (status %d): %s",
		e.CNPJ, e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// ClassOf returns the ErrorClass of err if it wraps an *Error, or "" otherwise.
func ClassOf(err error) ErrorClass {
	var lookupErr *Error
	if errors.As(err, &lookupErr) {
		return lookupErr.Class
	}
	return ""
}
