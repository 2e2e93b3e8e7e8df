package plugin

import (
	"errors"
	"fmt"
)

// Plugin system errors.
var (
	// ErrLoad is returned when a plugin cannot be resolved or its code
	// fails to execute.
	ErrLoad = errors.New("plugin load failed")

	// ErrDuplicateName is returned when activating a name that is already active.
	ErrDuplicateName = errors.New("plugin is already active")

	// ErrNotFound is returned when a plugin name is not active.
	ErrNotFound = errors.New("plugin not found")

	// ErrUnmatchedExport is returned when a plugin exports a name no
	// extension point declares and the unmatched policy is error.
	ErrUnmatchedExport = errors.New("plugin export matches no extension point")

	// ErrHook is returned when an on_load or on_unload hook fails.
	ErrHook = errors.New("plugin hook failed")

	// ErrInvalidPlugin is returned when plugin validation fails.
	ErrInvalidPlugin = errors.New("invalid plugin")
)

// Op names a lifecycle operation in an Error.
type Op string

// Lifecycle operations.
const (
	OpLoad       Op = "load"
	OpActivate   Op = "activate"
	OpDeactivate Op = "deactivate"
	OpReload     Op = "reload"
)

// Error reports a failed lifecycle operation on a named plugin.
type Error struct {
	Op     Op
	Plugin string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s plugin %q: %v", e.Op, e.Plugin, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func opError(op Op, name string, kind, cause error) error {
	if cause == nil {
		return &Error{Op: op, Plugin: name, Err: kind}
	}
	if kind == nil || errors.Is(cause, kind) {
		return &Error{Op: op, Plugin: name, Err: cause}
	}
	return &Error{Op: op, Plugin: name, Err: fmt.Errorf("%w: %w", kind, cause)}
}
