package plugin

// State represents the lifecycle state of a plugin.
type State int

// Plugin states.
const (
	// StateLoaded - Plugin code is loaded but not bound.
	StateLoaded State = iota

	// StateActive - Plugin is bound to its extension points.
	StateActive

	// StateUnloaded - Plugin was deactivated; its runtime is closed.
	StateUnloaded

	// StateError - Plugin failed to activate.
	StateError
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateActive:
		return "active"
	case StateUnloaded:
		return "unloaded"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// IsUsable returns true if the plugin can still be activated or invoked.
func (s State) IsUsable() bool {
	return s == StateLoaded || s == StateActive
}
