package domain

import (
	"errors"
	"fmt"
)

// Code classifies errors returned by the merge engine
type Code string

const (
	CodeInvalidInput  Code = "INVALID_INPUT"
	CodeConflictState Code = "CONFLICT_STATE_ERROR"
	CodeAlignment     Code = "INTERNAL_ALIGNMENT_ERROR"
	CodeNotFound      Code = "NOT_FOUND"
)

// Error is a classified engine error. Status carries the session status
// observed when a state error was raised.
type Error struct {
	Code    Code
	Message string
	Status  MergeStatus
}

func (e *Error) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("%s: %s (status %s)", e.Code, e.Message, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Invalid returns an INVALID_INPUT error
func Invalid(format string, args ...interface{}) error {
	return &Error{Code: CodeInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// StateError returns a CONFLICT_STATE_ERROR carrying the current status
func StateError(status MergeStatus, format string, args ...interface{}) error {
	return &Error{Code: CodeConflictState, Message: fmt.Sprintf(format, args...), Status: status}
}

// AlignmentError returns an INTERNAL_ALIGNMENT_ERROR
func AlignmentError(format string, args ...interface{}) error {
	return &Error{Code: CodeAlignment, Message: fmt.Sprintf(format, args...)}
}

// NotFound returns a NOT_FOUND error
func NotFound(format string, args ...interface{}) error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code of the first classified error in err's chain,
// or an empty code.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// StatusOf returns the session status attached to a state error
func StatusOf(err error) MergeStatus {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return ""
}

// IsCode reports whether err carries the given code
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// ETagMismatchError is returned when an etag doesn't match
type ETagMismatchError struct {
	Expected int64
	Actual   int64
}

func (e *ETagMismatchError) Error() string {
	return fmt.Sprintf("etag mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// CheckETag validates an etag against the current value
func CheckETag(expected, actual int64) error {
	if expected != actual {
		return &ETagMismatchError{Expected: expected, Actual: actual}
	}
	return nil
}
