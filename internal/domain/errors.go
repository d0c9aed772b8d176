package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies fetch failures. The kind decides retry behavior and
// is what the ledger records for each failure.
type ErrorKind string

const (
	// KindInvalidConfig marks a bad run configuration. Raised before any
	// network activity and fatal to the whole run.
	KindInvalidConfig ErrorKind = "invalid_config"
	// KindTransient marks network errors, timeouts, and ambiguous server
	// responses. Retried up to the policy cap.
	KindTransient ErrorKind = "transient"
	// KindNotFound marks archives the upstream definitively does not have.
	// Never retried.
	KindNotFound ErrorKind = "not_found"
	// KindLocalIO marks local filesystem failures. Never retried.
	KindLocalIO ErrorKind = "local_io"
)

// FetchError is the classified error produced by the sync engine. Status
// carries the HTTP status code when one was involved.
type FetchError struct {
	Kind   ErrorKind
	Status int
	Msg    string
	Cause  error
}

func (e *FetchError) Error() string {
	msg := e.Msg
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *FetchError) Unwrap() error { return e.Cause }

// NewInvalidConfig builds a fatal configuration error.
func NewInvalidConfig(msg string, cause error) *FetchError {
	return &FetchError{Kind: KindInvalidConfig, Msg: msg, Cause: cause}
}

// NewTransient builds a retryable error. status may be zero when no HTTP
// response was received.
func NewTransient(msg string, status int, cause error) *FetchError {
	return &FetchError{Kind: KindTransient, Status: status, Msg: msg, Cause: cause}
}

// NewNotFound builds a permanent missing-upstream error.
func NewNotFound(msg string, status int) *FetchError {
	return &FetchError{Kind: KindNotFound, Status: status, Msg: msg}
}

// NewLocalIO builds a permanent local filesystem error.
func NewLocalIO(msg string, cause error) *FetchError {
	return &FetchError{Kind: KindLocalIO, Msg: msg, Cause: cause}
}

// KindOf extracts the ErrorKind from err. Unclassified errors default to
// KindTransient so unknown failures stay retryable.
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindTransient
}

// IsRetryable reports whether another attempt could change the result.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}
