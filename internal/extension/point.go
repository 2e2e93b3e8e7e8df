package extension

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Lifecycle hook names. They are never eligible as extension point names.
const (
	HookOnLoad   = "on_load"
	HookOnUnload = "on_unload"
)

// IsReserved reports whether name is a lifecycle hook name.
func IsReserved(name string) bool {
	return name == HookOnLoad || name == HookOnUnload
}

// Func is the calling convention shared by primary implementations and
// plugin contributions. self is the receiver the point was invoked on.
type Func func(ctx context.Context, self any, args ...any) (any, error)

// Variant identifies the composition semantics of a point.
type Variant int

// Point variants.
const (
	VariantBroadcast Variant = iota
	VariantOverride
	VariantFallback
)

// String returns a string representation of the variant.
func (v Variant) String() string {
	switch v {
	case VariantBroadcast:
		return "broadcast"
	case VariantOverride:
		return "override"
	case VariantFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Binding associates one plugin's contributed implementation with one point.
// Func values are not comparable, so the ID is what identifies a binding
// when it is removed.
type Binding struct {
	ID     uuid.UUID
	Point  string
	Plugin string
	Fn     Func
}

// NewBinding creates a binding with a fresh identity.
func NewBinding(point, plugin string, fn Func) *Binding {
	return &Binding{
		ID:     uuid.New(),
		Point:  point,
		Plugin: plugin,
		Fn:     fn,
	}
}

// Point is an extension point. The three implementations are
// *BroadcastPoint, *OverridePoint and *FallbackPoint.
type Point interface {
	// Name returns the point name, unique within its type.
	Name() string

	// Variant returns the composition semantics of the point.
	Variant() Variant

	// Primary returns the implementation the point was declared with.
	Primary() Func

	// Invoke runs the point against self and args.
	Invoke(ctx context.Context, self any, args ...any) (any, error)

	// Bind adds a contribution to the point.
	Bind(b *Binding) error

	// Unbind removes a contribution from the point.
	Unbind(b *Binding) error

	// Bindings returns a snapshot of the point's composition state.
	Bindings() []*Binding

	// Lock-free variants used by Type.Apply and Type.Revert.
	bind(b *Binding) error
	unbind(b *Binding) error

	attach(t *Type) error
}

// pointBase holds what every variant shares.
type pointBase struct {
	name    string
	primary Func

	// mu is the owning type's lock once attached.
	mu  *sync.RWMutex
	typ *Type
}

func newPointBase(name string, primary Func) pointBase {
	return pointBase{
		name:    name,
		primary: primary,
		mu:      &sync.RWMutex{},
	}
}

// Name returns the point name.
func (p *pointBase) Name() string {
	return p.name
}

// Primary returns the declared implementation.
func (p *pointBase) Primary() Func {
	return p.primary
}

func (p *pointBase) attach(t *Type) error {
	if p.typ != nil {
		return ErrPointAttached
	}
	p.typ = t
	p.mu = &t.mu
	return nil
}

func (p *pointBase) check(b *Binding) error {
	if b == nil || b.Fn == nil {
		return ErrNilFunc
	}
	if b.Point != p.name {
		return ErrPointMismatch
	}
	return nil
}

// observe reports an invocation to the owning type's observer.
// Must be called with mu held.
func (p *pointBase) observe(v Variant, start time.Time, err error) {
	if p.typ == nil || p.typ.observer == nil {
		return
	}
	p.typ.observer.PointInvoked(p.typ.name, p.name, v, time.Since(start), err)
}

// skipped reports a skipped fallback alternative.
// Must be called with mu held.
func (p *pointBase) skipped(b *Binding, err error) {
	if p.typ == nil || p.typ.observer == nil {
		return
	}
	p.typ.observer.AlternativeSkipped(p.typ.name, p.name, b.Plugin, err)
}

// heldKey is the context key under which an invocation records the locks
// its call chain already holds.
type heldKey struct{}

type heldLock struct {
	mu     *sync.RWMutex
	parent *heldLock
}

// enter read-locks the point's type for an invocation. When ctx comes from
// an invocation that already holds the lock, it is not taken again: a
// second RLock would block behind a waiting Bind while the outer
// invocation keeps that Bind waiting.
func (p *pointBase) enter(ctx context.Context) (context.Context, func()) {
	held, _ := ctx.Value(heldKey{}).(*heldLock)
	for h := held; h != nil; h = h.parent {
		if h.mu == p.mu {
			return ctx, func() {}
		}
	}

	p.mu.RLock()
	return context.WithValue(ctx, heldKey{}, &heldLock{mu: p.mu, parent: held}), p.mu.RUnlock
}

// removeBinding returns bindings without the binding whose ID matches b.
func removeBinding(bindings []*Binding, b *Binding) ([]*Binding, bool) {
	for i, existing := range bindings {
		if existing.ID == b.ID {
			out := make([]*Binding, 0, len(bindings)-1)
			out = append(out, bindings[:i]...)
			return append(out, bindings[i+1:]...), true
		}
	}
	return bindings, false
}
