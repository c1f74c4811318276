package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassifiers(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		shim   bool
		config bool
		hook   bool
	}{
		{"invalid argument", ErrInvalidArgument, true, false, false},
		{"no target", ErrNoTarget, true, false, false},
		{"no such method", ErrNoSuchMethod, true, false, false},
		{"not a function", ErrNotAFunction, true, false, false},
		{"invalid target", ErrInvalidTarget, true, false, false},
		{"cyclic prototype", ErrCyclicPrototype, true, false, false},
		{"invalid configuration", ErrInvalidConfiguration, false, true, false},
		{"missing configuration", ErrMissingConfiguration, false, true, false},
		{"hook not found", ErrHookNotFound, false, false, true},
		{"hook already registered", ErrHookAlreadyRegistered, false, false, true},
		{"hook disabled", ErrHookDisabled, false, false, true},
		{"hook panicked", ErrHookPanicked, false, false, true},
		{"wrapped shim error", ShimError("shimmer.Wrap", "query", ErrNoSuchMethod), true, false, false},
		{"fmt wrapped", fmt.Errorf("loading: %w", ErrMissingConfiguration), false, true, false},
		{"unrelated", errors.New("boom"), false, false, false},
		{"nil", nil, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.shim, IsShimError(tt.err))
			assert.Equal(t, tt.config, IsConfigurationError(tt.err))
			assert.Equal(t, tt.hook, IsHookError(tt.err))
		})
	}
}

func TestInstrumentationError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *InstrumentationError
		want string
	}{
		{"op and id", &InstrumentationError{Op: "shimmer.Wrap", ID: "query", Err: ErrNoSuchMethod}, "shimmer.Wrap [query]: no original method"},
		{"op only", &InstrumentationError{Op: "loop.Run", Err: ErrLoopRunning}, "loop.Run: event loop already running"},
		{"message", &InstrumentationError{Message: "custom"}, "custom"},
		{"bare error", &InstrumentationError{Err: ErrTaskPanicked}, "scheduled task panicked"},
		{"kind only", &InstrumentationError{Kind: "hook"}, "hook error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestInstrumentationError_Unwrap(t *testing.T) {
	err := fmt.Errorf("enable: %w", NewInstrumentationError("instrument.Enable", "hook", ErrHookPanicked))

	assert.ErrorIs(t, err, ErrHookPanicked)

	var ie *InstrumentationError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "hook", ie.Kind)
	assert.Equal(t, "instrument.Enable", ie.Op)
}
