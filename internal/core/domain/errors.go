package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrPathEscape        = errors.New("path escapes project root")
	ErrStorage           = errors.New("storage failure")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrConversion        = errors.New("conversion failed")
	ErrNotFound          = errors.New("not found")
	ErrTemporary         = errors.New("temporary failure")
)

// InternalErrorMessage is what a client sees for failures that carry no public message.
const InternalErrorMessage = "Internal error while processing file"

// Error is a classified failure with a client-safe message.
// Cause keeps the internal detail for logs; it never reaches Public.
type Error struct {
	Kind   error
	Op     string
	Public string
	Cause  error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.Public != "" {
		msg += ": " + e.Public
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func NewError(kind error, op, public string, cause error) error {
	return &Error{Kind: kind, Op: op, Public: public, Cause: cause}
}

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// PublicMessage returns the message that may be shown to a client.
func PublicMessage(err error) string {
	var de *Error
	if errors.As(err, &de) && de.Public != "" {
		return de.Public
	}
	return InternalErrorMessage
}
