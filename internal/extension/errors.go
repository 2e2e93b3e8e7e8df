package extension

import "errors"

// Extension point errors.
var (
	// ErrUnknownPoint is returned when a type has no point with the given name.
	ErrUnknownPoint = errors.New("unknown extension point")

	// ErrDuplicatePoint is returned when a type declares two points with the same name.
	ErrDuplicatePoint = errors.New("duplicate extension point")

	// ErrReservedName is returned when a point uses a lifecycle hook name.
	ErrReservedName = errors.New("extension point name is reserved")

	// ErrInvalidPoint is returned for a point with an empty name or nil primary.
	ErrInvalidPoint = errors.New("invalid extension point")

	// ErrPointAttached is returned when a point is declared on more than one type.
	ErrPointAttached = errors.New("extension point already belongs to a type")

	// ErrPointMismatch is returned when a binding targets a different point.
	ErrPointMismatch = errors.New("binding targets a different extension point")

	// ErrNilFunc is returned when binding a nil implementation.
	ErrNilFunc = errors.New("binding has no implementation")

	// ErrBindingNotFound is returned when unbinding a binding that is not bound.
	ErrBindingNotFound = errors.New("binding not found")
)
