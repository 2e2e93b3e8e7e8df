package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Factory builds a fresh definition each time its plugin is loaded.
type Factory func() (Definition, error)

// Catalog is a Source of plugins compiled into the program and selected
// by name.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// Register adds a named plugin factory.
func (c *Catalog) Register(name string, factory Factory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("catalog entry %q: %w", name, ErrInvalidPlugin)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.factories[name]; exists {
		return fmt.Errorf("catalog entry %q is already registered", name)
	}
	c.factories[name] = factory
	return nil
}

// MustRegister is like Register but panics on error.
func (c *Catalog) MustRegister(name string, factory Factory) {
	if err := c.Register(name, factory); err != nil {
		panic(err)
	}
}

// Resolve builds the named plugin.
func (c *Catalog) Resolve(_ context.Context, name string) (*Plugin, error) {
	c.mu.RLock()
	factory, ok := c.factories[name]
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("catalog entry %q: %w", name, ErrUnknownUnit)
	}

	def, err := factory()
	if err != nil {
		return nil, err
	}
	return NewPlugin(name, "catalog:"+name, def), nil
}

// List returns the registered names, sorted.
func (c *Catalog) List(context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.factories))
	for name := range c.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
