package plugin

import (
	"fmt"
	"sync"

	"github.com/dshills/modular/internal/extension"
)

// Registry holds the active plugins of one type in activation order,
// each with the bindings it produced.
type Registry struct {
	mu sync.RWMutex

	entries map[string]*registryEntry

	// Activation order (for deterministic iteration)
	order []string
}

type registryEntry struct {
	plugin   *Plugin
	bindings []*extension.Binding
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*registryEntry),
	}
}

// Add records an active plugin and its bindings.
func (r *Registry) Add(p *Plugin, bindings []*extension.Binding) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[p.Name]; exists {
		return fmt.Errorf("plugin %q: %w", p.Name, ErrDuplicateName)
	}

	r.entries[p.Name] = &registryEntry{
		plugin:   p,
		bindings: append([]*extension.Binding(nil), bindings...),
	}
	r.order = append(r.order, p.Name)
	return nil
}

// Remove drops a plugin and returns it with its bindings.
func (r *Registry) Remove(name string) (*Plugin, []*extension.Binding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[name]
	if !exists {
		return nil, nil, fmt.Errorf("plugin %q: %w", name, ErrNotFound)
	}

	delete(r.entries, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return e.plugin, e.bindings, nil
}

// Get returns an active plugin by name.
func (r *Registry) Get(name string) (*Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.entries[name]
	if !exists {
		return nil, false
	}
	return e.plugin, true
}

// Has returns true if the name is active.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.entries[name]
	return exists
}

// Bindings returns a copy of the bindings recorded for a plugin.
func (r *Registry) Bindings(name string) []*extension.Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.entries[name]
	if !exists {
		return nil
	}
	return append([]*extension.Binding(nil), e.bindings...)
}

// Names returns the active plugin names in activation order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Plugins returns the active plugins in activation order.
func (r *Registry) Plugins() []*Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Plugin, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.entries[name].plugin)
	}
	return result
}

// Len returns the number of active plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
