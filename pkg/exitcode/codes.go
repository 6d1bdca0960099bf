// Package exitcode defines the fixed exit statuses jig reports for its own
// failures, as opposed to statuses relayed from the target command.
//
// Codes:
//   - 0: Success
//   - 1: General failure (capture file, stdout write, forwarder fault)
//   - 2: No pseudo-terminal available
//   - 64: Invalid arguments or usage
//   - 127: Target could not be launched
//   - 128+N: Target (or jig itself) terminated by signal N
package exitcode

import (
	"errors"
	"fmt"
)

// Exit codes for jig.
const (
	Success    = 0
	ErrGeneral = 1
	ErrNoPTY   = 2
	ErrUsage   = 64
	ErrLaunch  = 127

	// SignalBase is added to a signal number to form the shell-style
	// status of a signal death.
	SignalBase = 128
)

// Error wraps an error with a specific exit code.
type Error struct {
	Code    int
	Message string
	Cause   error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new coded error.
func New(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a new coded error with printf-style formatting.
func Newf(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with a code and message.
func Wrap(code int, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Code extracts the exit code from an error.
// Returns ErrGeneral if the error doesn't carry a code.
func Code(err error) int {
	if err == nil {
		return Success
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ErrGeneral
}

// Is checks if an error has a specific exit code.
func Is(err error, code int) bool {
	return Code(err) == code
}

// FromSignal returns the shell-compatible status for a death by signal sig.
func FromSignal(sig int) int {
	return SignalBase + sig
}

// Usage returns a usage error.
func Usage(format string, args ...interface{}) *Error {
	return Newf(ErrUsage, format, args...)
}
