package oracle

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes oracle failures.
type ErrorCode string

const (
	// ErrCodeUnreachable indicates the formatter could not be contacted.
	ErrCodeUnreachable ErrorCode = "UNREACHABLE"

	// ErrCodeNoFormatter indicates the formatter has no rule for the subject's type.
	ErrCodeNoFormatter ErrorCode = "NO_FORMATTER"
)

// Error is returned by oracle clients when a summary cannot be produced.
type Error struct {
	Code    ErrorCode
	Subject Subject

	// Type is the runtime type the oracle reported, if any (NO_FORMATTER).
	Type TypeTag

	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s (subject=%s", e.Code, e.Message, e.Subject)
	if e.Type != "" {
		msg += fmt.Sprintf(", type=%s", e.Type)
	}
	msg += ")"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewUnreachableError creates an UNREACHABLE error for subject.
func NewUnreachableError(subject Subject, message string, err error) *Error {
	return &Error{
		Code:    ErrCodeUnreachable,
		Subject: subject,
		Message: message,
		Err:     err,
	}
}

// NewNoFormatterError creates a NO_FORMATTER error for subject.
func NewNoFormatterError(subject Subject, typ TypeTag) *Error {
	return &Error{
		Code:    ErrCodeNoFormatter,
		Subject: subject,
		Type:    typ,
		Message: "no summary formatter for runtime type",
	}
}

// IsUnreachable reports whether err is an UNREACHABLE oracle error.
// Uses errors.As to handle wrapped errors.
func IsUnreachable(err error) bool {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Code == ErrCodeUnreachable
	}
	return false
}

// IsNoFormatter reports whether err is a NO_FORMATTER oracle error.
func IsNoFormatter(err error) bool {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Code == ErrCodeNoFormatter
	}
	return false
}
