package extension

import (
	"context"
	"time"
)

// OverridePolicy decides what unbinding does to an override point.
type OverridePolicy int

const (
	// OverrideResetOwner clears the active override only when the binding
	// being removed is the one that installed it. Unbinding a superseded
	// override leaves the newer one active.
	OverrideResetOwner OverridePolicy = iota

	// OverrideResetAlways clears the active override on every unbind,
	// even when a different plugin installed it afterwards.
	OverrideResetAlways
)

// String returns a string representation of the policy.
func (p OverridePolicy) String() string {
	switch p {
	case OverrideResetOwner:
		return "owner"
	case OverrideResetAlways:
		return "always"
	default:
		return "unknown"
	}
}

// ParseOverridePolicy parses "owner" or "always".
func ParseOverridePolicy(s string) (OverridePolicy, bool) {
	switch s {
	case "owner", "":
		return OverrideResetOwner, true
	case "always":
		return OverrideResetAlways, true
	default:
		return OverrideResetOwner, false
	}
}

// OverridePoint runs at most one override in place of its primary.
type OverridePoint struct {
	pointBase
	active *Binding
	policy OverridePolicy
}

// Override declares an override point.
func Override(name string, primary Func) *OverridePoint {
	return &OverridePoint{pointBase: newPointBase(name, primary)}
}

// Variant returns VariantOverride.
func (p *OverridePoint) Variant() Variant {
	return VariantOverride
}

// Policy returns the unbind policy in effect.
func (p *OverridePoint) Policy() OverridePolicy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.policy
}

// Invoke runs the active override, or the primary when none is bound.
func (p *OverridePoint) Invoke(ctx context.Context, self any, args ...any) (any, error) {
	ctx, exit := p.enter(ctx)
	defer exit()

	start := time.Now()
	fn := p.primary
	if p.active != nil {
		fn = p.active.Fn
	}
	result, err := fn(ctx, self, args...)
	p.observe(VariantOverride, start, err)
	return result, err
}

// Bind installs b as the active override, replacing any previous one.
func (p *OverridePoint) Bind(b *Binding) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bind(b)
}

func (p *OverridePoint) bind(b *Binding) error {
	if err := p.check(b); err != nil {
		return err
	}
	p.active = b
	return nil
}

// Unbind clears the active override according to the point's policy.
// Unbinding a superseded override is not an error.
func (p *OverridePoint) Unbind(b *Binding) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unbind(b)
}

func (p *OverridePoint) unbind(b *Binding) error {
	if b == nil {
		return ErrBindingNotFound
	}
	switch p.policy {
	case OverrideResetAlways:
		p.active = nil
	default:
		if p.active != nil && p.active.ID == b.ID {
			p.active = nil
		}
	}
	return nil
}

// Active returns the active override, or nil.
func (p *OverridePoint) Active() *Binding {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active
}

// Bindings returns the active override, if any.
func (p *OverridePoint) Bindings() []*Binding {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.active == nil {
		return []*Binding{}
	}
	return []*Binding{p.active}
}
