package extension

import (
	"context"
	"time"
)

// BroadcastPoint runs its primary implementation and then every bound
// contribution, in bind order, against the same arguments.
type BroadcastPoint struct {
	pointBase
	contributions []*Binding
}

// Broadcast declares a broadcast point.
func Broadcast(name string, primary Func) *BroadcastPoint {
	return &BroadcastPoint{pointBase: newPointBase(name, primary)}
}

// Variant returns VariantBroadcast.
func (p *BroadcastPoint) Variant() Variant {
	return VariantBroadcast
}

// Invoke runs the primary and then each contribution. The first error
// aborts the invocation; contributions after it do not run. The result is
// always nil.
func (p *BroadcastPoint) Invoke(ctx context.Context, self any, args ...any) (any, error) {
	ctx, exit := p.enter(ctx)
	defer exit()

	start := time.Now()
	err := p.invoke(ctx, self, args)
	p.observe(VariantBroadcast, start, err)
	return nil, err
}

func (p *BroadcastPoint) invoke(ctx context.Context, self any, args []any) error {
	// Snapshot taken at call time.
	contributions := p.contributions

	if _, err := p.primary(ctx, self, args...); err != nil {
		return err
	}
	for _, b := range contributions {
		if _, err := b.Fn(ctx, self, args...); err != nil {
			return err
		}
	}
	return nil
}

// Bind appends a contribution.
func (p *BroadcastPoint) Bind(b *Binding) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bind(b)
}

func (p *BroadcastPoint) bind(b *Binding) error {
	if err := p.check(b); err != nil {
		return err
	}
	p.contributions = append(p.contributions, b)
	return nil
}

// Unbind removes exactly the given contribution. It returns
// ErrBindingNotFound if the contribution is not bound.
func (p *BroadcastPoint) Unbind(b *Binding) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unbind(b)
}

func (p *BroadcastPoint) unbind(b *Binding) error {
	if b == nil {
		return ErrBindingNotFound
	}
	contributions, ok := removeBinding(p.contributions, b)
	if !ok {
		return ErrBindingNotFound
	}
	p.contributions = contributions
	return nil
}

// Bindings returns the contributions in bind order.
func (p *BroadcastPoint) Bindings() []*Binding {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*Binding{}, p.contributions...)
}
