// Package apperr is the error taxonomy of the progression engine.
package apperr

import (
	"errors"
	"fmt"
)

// Error is the engine error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Internal message (for logs)
	Metadata map[string]string // Detail the presentation layer renders
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil && e.Message != "" {
		return e.Message + ": " + e.Cause.Error()
	}
	if e.Message == "" && e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Sentinels for errors.Is; they carry no metadata.
var (
	ErrValidation           = &Error{Code: CodeValidation, Message: "validation failed"}
	ErrInsufficientFunds    = &Error{Code: CodeInsufficientFunds, Message: "insufficient funds"}
	ErrAlreadyOwned         = &Error{Code: CodeAlreadyOwned, Message: "item already owned"}
	ErrAlreadyClaimed       = &Error{Code: CodeAlreadyClaimed, Message: "tier already claimed"}
	ErrPassNotPurchased     = &Error{Code: CodePassNotPurchased, Message: "pass not purchased"}
	ErrPassAlreadyPurchased = &Error{Code: CodePassAlreadyPurchased, Message: "pass already purchased"}
	ErrTierNotReached       = &Error{Code: CodeTierNotReached, Message: "tier not reached"}
	ErrNotOwned             = &Error{Code: CodeNotOwned, Message: "item not owned"}
	ErrNotUnlocked          = &Error{Code: CodeNotUnlocked, Message: "item not unlocked"}
	ErrNotFound             = &Error{Code: CodeNotFound, Message: "not found"}
	ErrTransient            = &Error{Code: CodeTransient, Message: "transient failure"}
	ErrSessionInvalidated   = &Error{Code: CodeSessionInvalidated, Message: "session invalidated"}
)

// New creates an error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithMetadata creates an error carrying render detail.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

// Wrap creates an error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Validation is shorthand for a VALIDATION error.
func Validation(format string, args ...any) *Error {
	return Newf(CodeValidation, format, args...)
}

// CodeOf returns the code of the first *Error in err's chain, or CodeUnknown.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsNotFound reports whether err signals that the identified resource is gone.
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}
