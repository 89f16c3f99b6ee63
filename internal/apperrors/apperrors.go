// Package apperrors defines the domain error taxonomy surfaced to callers.
// Every error carries a Code; callers branch on the code (or errors.Is against
// the exported sentinels) and decide the user-facing message themselves.
package apperrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	CodeValidation        Code = "validation"
	CodeDimensionMismatch Code = "dimension_mismatch"
	CodeNoCandidates      Code = "no_candidates"
	CodeSessionConflict   Code = "session_conflict"
	CodeSessionNotFound   Code = "session_not_found"
	CodeSessionInactive   Code = "session_inactive"
	CodeIdentityNotFound  Code = "identity_not_found"
	CodeInternal          Code = "internal"
)

// Sentinels for errors.Is comparisons. Only the code is compared.
var (
	ErrValidation        = &Error{Code: CodeValidation}
	ErrDimensionMismatch = &Error{Code: CodeDimensionMismatch}
	ErrNoCandidates      = &Error{Code: CodeNoCandidates}
	ErrSessionConflict   = &Error{Code: CodeSessionConflict}
	ErrSessionNotFound   = &Error{Code: CodeSessionNotFound}
	ErrSessionInactive   = &Error{Code: CodeSessionInactive}
	ErrIdentityNotFound  = &Error{Code: CodeIdentityNotFound}
)

// Error is a coded domain error with an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// New creates a domain error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a domain error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if !errors.As(err, &de) {
		return false
	}
	return de.Code == code
}

// CodeOf returns the code of the first domain error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
