package utils //nolint:revive // utils is an appropriate package name for utility functions

import (
	"errors"
	"fmt"
)

// ErrPanicRecovered is matched by every *PanicError.
var ErrPanicRecovered = errors.New("recovered from panic")

// PanicError carries a recovered panic value and the stack at the point of
// the panic.
type PanicError struct {
	Where string
	Value any
	Stack []byte
}

// NewPanicError converts a recovered value into an error. It returns nil when
// value is nil, so it can be fed recover() directly.
func NewPanicError(where string, value any, stack []byte) error {
	if value == nil {
		return nil
	}

	return &PanicError{Where: where, Value: value, Stack: stack}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%v in %s: %v", ErrPanicRecovered, e.Where, e.Value)
}

func (e *PanicError) Is(target error) bool {
	return target == ErrPanicRecovered
}

// Unwrap exposes the panic value when it is itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}

	return nil
}
