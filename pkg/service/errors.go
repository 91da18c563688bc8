package service

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds. Every error the chat hub services return for a caller
// mistake or a failed execution wraps one of these.
var (
	ErrNotFound             = errors.New("not found")
	ErrBadRequest           = errors.New("bad request")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrExecutionStart       = errors.New("execution failed to start")
	ErrExecutionRuntime     = errors.New("execution failed")
)

// Error is a user-facing message classified by one of the error kinds.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) error {
	return newError(ErrNotFound, format, args...)
}

func badRequest(format string, args ...any) error {
	return newError(ErrBadRequest, format, args...)
}

func invalidConfiguration(format string, args ...any) error {
	return newError(ErrInvalidConfiguration, format, args...)
}

// Message returns the user-facing text of err: the message of the
// classified error it wraps, or err's own text.
func Message(err error) string {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Message
	}
	return err.Error()
}
