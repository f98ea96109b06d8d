package canvas

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes store and coordinator errors.
type ErrorCode string

const (
	// ErrCodeValidation indicates an unknown event type or malformed payload.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeConflict indicates the requested version is not current+1, or
	// the (aggregate, version) key already exists in storage.
	ErrCodeConflict ErrorCode = "CONFLICT"

	// ErrCodeStorage indicates an I/O failure in the storage engine.
	ErrCodeStorage ErrorCode = "STORAGE"
)

// Error is the error type surfaced by the store and coordinator.
//
// Conflict and validation errors are always returned to the caller as-is;
// nothing in this module retries or merges them.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// AggregateID identifies the affected aggregate, if known.
	AggregateID string

	// Version is the version involved (requested or colliding), if any.
	Version int64

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause (storage errors).
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.AggregateID != "" {
		msg = fmt.Sprintf("%s (aggregate=%s, version=%d)", msg, e.AggregateID, e.Version)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError creates an Error for a rejected event or argument.
func NewValidationError(message string) *Error {
	return &Error{Code: ErrCodeValidation, Message: message}
}

// NewVersionConflict creates an Error for a requested version that does
// not follow the aggregate's current version.
func NewVersionConflict(aggregateID string, requested, current int64) *Error {
	return &Error{
		Code:        ErrCodeConflict,
		Message:     fmt.Sprintf("requested version %d, expected %d", requested, current+1),
		AggregateID: aggregateID,
		Version:     requested,
		Details: map[string]string{
			"requested": fmt.Sprintf("%d", requested),
			"current":   fmt.Sprintf("%d", current),
			"expected":  fmt.Sprintf("%d", current+1),
		},
	}
}

// NewDuplicateEvent creates an Error for an (aggregate, version) key that
// already exists in storage.
func NewDuplicateEvent(aggregateID string, version int64, err error) *Error {
	return &Error{
		Code:        ErrCodeConflict,
		Message:     "event already exists",
		AggregateID: aggregateID,
		Version:     version,
		Err:         err,
	}
}

// WrapStorageError wraps an engine failure. Returns nil for a nil err, and
// returns err unchanged when it already carries a code.
func WrapStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{Code: ErrCodeStorage, Message: op, Err: err}
}

// IsValidation returns true if err is a validation error.
// Uses errors.As to handle wrapped errors.
func IsValidation(err error) bool {
	return hasCode(err, ErrCodeValidation)
}

// IsConflict returns true if err is a version or duplicate-key conflict.
// Uses errors.As to handle wrapped errors.
func IsConflict(err error) bool {
	return hasCode(err, ErrCodeConflict)
}

// IsStorage returns true if err is a storage engine failure.
// Uses errors.As to handle wrapped errors.
func IsStorage(err error) bool {
	return hasCode(err, ErrCodeStorage)
}

// CodeOf returns the error's code, or "" if err carries none.
func CodeOf(err error) ErrorCode {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

func hasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
