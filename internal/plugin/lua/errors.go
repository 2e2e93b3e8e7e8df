package lua

import (
	"errors"
	"fmt"
)

// Errors for Lua state operations.
var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrNotFunction is returned when a global is missing or not a function.
	ErrNotFunction = errors.New("lua global is not a function")
)

// KindError is raised from Lua with raise(kind, message). It matches the
// sentinel registered for kind under errors.Is.
type KindError struct {
	Name    string
	Kind    error
	Message string
}

func (e *KindError) Error() string {
	if e.Message == "" || e.Message == e.Name {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *KindError) Unwrap() error {
	return e.Kind
}

// CallError wraps a failure raised while running a Lua function.
type CallError struct {
	Function string
	Err      error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("lua function %q: %v", e.Function, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}
