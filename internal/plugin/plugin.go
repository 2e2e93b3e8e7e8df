package plugin

import (
	"context"
	"io"
	"sort"
	"sync"

	"github.com/dshills/modular/internal/extension"
)

// Hook is a zero-argument lifecycle callback.
type Hook func(ctx context.Context) error

func noopHook(context.Context) error { return nil }

// Definition is what a plugin author declares: the exported callables
// keyed by extension point name, plus optional lifecycle hooks.
type Definition struct {
	Exports  map[string]extension.Func
	OnLoad   Hook
	OnUnload Hook
}

// Plugin is a loaded unit of code. Its exports are fixed at load time;
// the bindings made from them are tracked by the Registry.
type Plugin struct {
	Name     string
	Location string

	// Exports never contains the reserved hook names.
	Exports map[string]extension.Func

	OnLoad   Hook
	OnUnload Hook

	// closer releases the plugin runtime, if any.
	closer io.Closer

	// fromPath is set when the plugin was loaded from an explicit path
	// rather than resolved by name.
	fromPath bool

	mu    sync.RWMutex
	state State
	err   error
}

// NewPlugin builds a plugin from a definition. Exports named on_load or
// on_unload are taken as hooks when the definition does not set them, and
// are never exported.
func NewPlugin(name, location string, def Definition) *Plugin {
	p := &Plugin{
		Name:     name,
		Location: location,
		Exports:  make(map[string]extension.Func, len(def.Exports)),
		OnLoad:   def.OnLoad,
		OnUnload: def.OnUnload,
	}

	for export, fn := range def.Exports {
		if fn == nil {
			continue
		}
		switch export {
		case extension.HookOnLoad:
			if p.OnLoad == nil {
				p.OnLoad = funcHook(fn)
			}
		case extension.HookOnUnload:
			if p.OnUnload == nil {
				p.OnUnload = funcHook(fn)
			}
		default:
			p.Exports[export] = fn
		}
	}

	if p.OnLoad == nil {
		p.OnLoad = noopHook
	}
	if p.OnUnload == nil {
		p.OnUnload = noopHook
	}
	return p
}

func funcHook(fn extension.Func) Hook {
	return func(ctx context.Context) error {
		_, err := fn(ctx, nil)
		return err
	}
}

// ExportNames returns the exported names, sorted.
func (p *Plugin) ExportNames() []string {
	names := make([]string, 0, len(p.Exports))
	for name := range p.Exports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// State returns the plugin's lifecycle state.
func (p *Plugin) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Err returns the error that put the plugin in StateError.
func (p *Plugin) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.err
}

func (p *Plugin) setState(state State, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
	p.err = err
}

// Close releases the plugin runtime. Exports fail once it is closed.
func (p *Plugin) Close() error {
	p.mu.Lock()
	closer := p.closer
	p.closer = nil
	p.mu.Unlock()

	if closer == nil {
		return nil
	}
	return closer.Close()
}
