package core

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is()
// These are generic errors that can be wrapped with additional context
var (
	// Shim engine errors. All of them are caller-fixable configuration errors
	// raised synchronously while a hook is being installed.
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNoTarget        = errors.New("no target object provided")
	ErrNoSuchMethod    = errors.New("no original method")
	ErrNotAFunction    = errors.New("original method is not a function")
	ErrInvalidTarget   = errors.New("invalid target")

	// Property table errors, surfaced when a definition would break an
	// existing non-configurable or non-writable property.
	ErrNotConfigurable = errors.New("property is not configurable")
	ErrNotWritable     = errors.New("property is not writable")
	ErrCyclicPrototype = errors.New("cyclic prototype chain")

	// Context propagation errors
	ErrDuplicateContext = errors.New("context already attached to async unit")
	ErrTaskPanicked     = errors.New("scheduled task panicked")
	ErrLoopRunning      = errors.New("event loop already running")

	// Hook registration errors
	ErrHookNotFound          = errors.New("hook not found")
	ErrHookAlreadyRegistered = errors.New("hook already registered")
	ErrHookDisabled          = errors.New("hook disabled by configuration")
	ErrHookPanicked          = errors.New("hook panicked")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")
)

// InstrumentationError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type InstrumentationError struct {
	Op      string // Operation that failed (e.g., "shimmer.Wrap")
	Kind    string // Error kind (e.g., "shim", "storage", "hook", "config")
	ID      string // Optional ID of the entity involved (property name, hook name)
	Message string // Human-readable message
	Err     error  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *InstrumentationError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *InstrumentationError) Unwrap() error {
	return e.Err
}

// NewInstrumentationError creates a new InstrumentationError
func NewInstrumentationError(op, kind string, err error) *InstrumentationError {
	return &InstrumentationError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// ShimError builds the error returned by the shim engine for the given
// operation and property name.
func ShimError(op, name string, err error) error {
	return &InstrumentationError{
		Op:   op,
		Kind: "shim",
		ID:   name,
		Err:  err,
	}
}

// IsShimError checks if an error was raised by the shim engine
func IsShimError(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrNoTarget) ||
		errors.Is(err, ErrNoSuchMethod) ||
		errors.Is(err, ErrNotAFunction) ||
		errors.Is(err, ErrInvalidTarget) ||
		errors.Is(err, ErrCyclicPrototype)
}

// IsConfigurationError checks if an error is configuration-related
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrMissingConfiguration)
}

// IsHookError checks if an error came out of the hook registration layer
func IsHookError(err error) bool {
	return errors.Is(err, ErrHookNotFound) ||
		errors.Is(err, ErrHookAlreadyRegistered) ||
		errors.Is(err, ErrHookDisabled) ||
		errors.Is(err, ErrHookPanicked)
}
