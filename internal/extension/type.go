package extension

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Observer receives invocation outcomes from every point of a type.
// It is called with the type's read lock held and must not bind or unbind.
type Observer interface {
	PointInvoked(typ, point string, v Variant, d time.Duration, err error)
	AlternativeSkipped(typ, point, plugin string, err error)
}

// Type is a base type: a name and the ordered list of extension points it
// declares. The list is fixed at construction.
type Type struct {
	mu sync.RWMutex

	name     string
	points   []Point
	index    map[string]Point
	observer Observer
}

// NewType declares a base type with the given points, in order.
func NewType(name string, points ...Point) (*Type, error) {
	t := &Type{
		name:   name,
		points: make([]Point, 0, len(points)),
		index:  make(map[string]Point, len(points)),
	}

	for _, p := range points {
		if p == nil || p.Name() == "" || p.Primary() == nil {
			return nil, fmt.Errorf("type %q: %w", name, ErrInvalidPoint)
		}
		if IsReserved(p.Name()) {
			return nil, fmt.Errorf("type %q: point %q: %w", name, p.Name(), ErrReservedName)
		}
		if _, exists := t.index[p.Name()]; exists {
			return nil, fmt.Errorf("type %q: point %q: %w", name, p.Name(), ErrDuplicatePoint)
		}
		if err := p.attach(t); err != nil {
			return nil, fmt.Errorf("type %q: point %q: %w", name, p.Name(), err)
		}
		t.points = append(t.points, p)
		t.index[p.Name()] = p
	}

	return t, nil
}

// MustType is like NewType but panics on error. It is meant for
// package-level declarations.
func MustType(name string, points ...Point) *Type {
	t, err := NewType(name, points...)
	if err != nil {
		panic(err)
	}
	return t
}

// Name returns the type name.
func (t *Type) Name() string {
	return t.name
}

// Points returns the declared points in declaration order.
func (t *Type) Points() []Point {
	return append([]Point{}, t.points...)
}

// Point returns the point with the given name.
func (t *Type) Point(name string) (Point, bool) {
	p, ok := t.index[name]
	return p, ok
}

// Has reports whether the type declares a point with the given name.
func (t *Type) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Invoke invokes the named point.
func (t *Type) Invoke(ctx context.Context, point string, self any, args ...any) (any, error) {
	p, ok := t.index[point]
	if !ok {
		return nil, fmt.Errorf("type %q: point %q: %w", t.name, point, ErrUnknownPoint)
	}
	return p.Invoke(ctx, self, args...)
}

// Bind binds b to the point it targets.
func (t *Type) Bind(b *Binding) error {
	return t.Apply([]*Binding{b})
}

// Unbind removes b from the point it targets.
func (t *Type) Unbind(b *Binding) error {
	return t.Revert([]*Binding{b})
}

// Apply binds every binding under a single write lock. If one fails, the
// ones already applied are removed again and the error is returned.
func (t *Type) Apply(bindings []*Binding) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, b := range bindings {
		if err := t.bindLocked(b); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = t.index[bindings[j].Point].unbind(bindings[j])
			}
			return err
		}
	}
	return nil
}

// Revert unbinds every binding under a single write lock, in reverse
// order. All bindings are attempted; failures are joined.
func (t *Type) Revert(bindings []*Binding) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	for i := len(bindings) - 1; i >= 0; i-- {
		b := bindings[i]
		if b == nil {
			errs = append(errs, ErrBindingNotFound)
			continue
		}
		p, ok := t.index[b.Point]
		if !ok {
			errs = append(errs, fmt.Errorf("point %q: %w", b.Point, ErrUnknownPoint))
			continue
		}
		if err := p.unbind(b); err != nil {
			errs = append(errs, fmt.Errorf("point %q: %w", b.Point, err))
		}
	}
	return errors.Join(errs...)
}

func (t *Type) bindLocked(b *Binding) error {
	if b == nil {
		return ErrNilFunc
	}
	p, ok := t.index[b.Point]
	if !ok {
		return fmt.Errorf("point %q: %w", b.Point, ErrUnknownPoint)
	}
	if err := p.bind(b); err != nil {
		return fmt.Errorf("point %q: %w", b.Point, err)
	}
	return nil
}

// Observe sets the observer notified of invocations. A nil observer
// disables notification.
func (t *Type) Observe(o Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observer = o
}

// SetOverridePolicy sets the unbind policy of every override point.
func (t *Type) SetOverridePolicy(policy OverridePolicy) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range t.points {
		if op, ok := p.(*OverridePoint); ok {
			op.policy = policy
		}
	}
}
