package extension

import (
	"context"
	"errors"
	"time"
)

// FallbackPoint tries bound alternatives in bind order, skipping those that
// fail with a continuable error, and falls through to its primary.
type FallbackPoint struct {
	pointBase
	alternatives []*Binding
	continuable  func(error) bool
}

// Fallback declares a fallback point. An alternative's error is continuable
// when errors.Is matches it against one of kinds.
func Fallback(name string, primary Func, kinds ...error) *FallbackPoint {
	kinds = append([]error{}, kinds...)
	return FallbackMatch(name, primary, func(err error) bool {
		for _, kind := range kinds {
			if errors.Is(err, kind) {
				return true
			}
		}
		return false
	})
}

// FallbackMatch declares a fallback point whose continuable errors are
// decided by match.
func FallbackMatch(name string, primary Func, match func(error) bool) *FallbackPoint {
	if match == nil {
		match = func(error) bool { return false }
	}
	return &FallbackPoint{
		pointBase:   newPointBase(name, primary),
		continuable: match,
	}
}

// Variant returns VariantFallback.
func (p *FallbackPoint) Variant() Variant {
	return VariantFallback
}

// Continuable reports whether err would be skipped by this point.
func (p *FallbackPoint) Continuable(err error) bool {
	return err != nil && p.continuable(err)
}

// Invoke returns the result of the first alternative that does not fail
// with a continuable error. A non-continuable error is returned
// immediately. When every alternative was skipped, the primary's result or
// error is returned unchanged.
func (p *FallbackPoint) Invoke(ctx context.Context, self any, args ...any) (any, error) {
	ctx, exit := p.enter(ctx)
	defer exit()

	start := time.Now()
	result, err := p.invoke(ctx, self, args)
	p.observe(VariantFallback, start, err)
	return result, err
}

func (p *FallbackPoint) invoke(ctx context.Context, self any, args []any) (any, error) {
	alternatives := p.alternatives
	for _, b := range alternatives {
		result, err := b.Fn(ctx, self, args...)
		if err == nil {
			return result, nil
		}
		if !p.continuable(err) {
			return nil, err
		}
		p.skipped(b, err)
	}
	return p.primary(ctx, self, args...)
}

// Bind appends an alternative; it is tried after every earlier one.
func (p *FallbackPoint) Bind(b *Binding) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bind(b)
}

func (p *FallbackPoint) bind(b *Binding) error {
	if err := p.check(b); err != nil {
		return err
	}
	p.alternatives = append(p.alternatives, b)
	return nil
}

// Unbind removes exactly the given alternative.
func (p *FallbackPoint) Unbind(b *Binding) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unbind(b)
}

func (p *FallbackPoint) unbind(b *Binding) error {
	if b == nil {
		return ErrBindingNotFound
	}
	alternatives, ok := removeBinding(p.alternatives, b)
	if !ok {
		return ErrBindingNotFound
	}
	p.alternatives = alternatives
	return nil
}

// Bindings returns the alternatives in the order they are tried.
func (p *FallbackPoint) Bindings() []*Binding {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*Binding{}, p.alternatives...)
}
