package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected indicates a provider that needs an established
	// connection was called without one.
	ErrNotConnected = errors.New("provider not connected")

	// ErrNotConfigured indicates a provider is missing credentials and no
	// call was attempted.
	ErrNotConfigured = errors.New("provider not configured")
)

// GenerationError wraps a runtime failure of a generation call. The
// pipeline converts it into an error event plus a failure result; it never
// propagates as a crash.
type GenerationError struct {
	Op  string
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation %s failed: %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
