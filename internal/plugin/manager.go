package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dshills/modular/internal/extension"
	"github.com/dshills/modular/internal/plugin/lua"
)

// UnmatchedPolicy decides what happens to exports that name no extension
// point of the type.
type UnmatchedPolicy int

const (
	// UnmatchedWarn logs unmatched exports and activates the plugin.
	UnmatchedWarn UnmatchedPolicy = iota
	// UnmatchedIgnore activates the plugin silently.
	UnmatchedIgnore
	// UnmatchedError refuses to activate the plugin.
	UnmatchedError
)

// String returns a string representation of the policy.
func (p UnmatchedPolicy) String() string {
	switch p {
	case UnmatchedWarn:
		return "warn"
	case UnmatchedIgnore:
		return "ignore"
	case UnmatchedError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseUnmatchedPolicy parses ignore, warn or error. The empty string is warn.
func ParseUnmatchedPolicy(s string) (UnmatchedPolicy, error) {
	switch strings.ToLower(s) {
	case "", "warn":
		return UnmatchedWarn, nil
	case "ignore":
		return UnmatchedIgnore, nil
	case "error":
		return UnmatchedError, nil
	default:
		return UnmatchedWarn, fmt.Errorf("unknown unmatched export policy %q", s)
	}
}

// Options configures a Manager.
type Options struct {
	// Source resolves plugin names. When nil, a LuaSource over
	// PluginDirectory is used.
	Source Source

	// PluginDirectory holds the Lua units.
	PluginDirectory string

	// SourceExtension is the Lua unit file extension.
	SourceExtension string

	// StateOptions are applied to every Lua state.
	StateOptions []lua.StateOption

	// SortPlugins makes LoadAll load by name instead of listing order.
	SortPlugins bool

	// Unmatched handles exports with no extension point.
	Unmatched UnmatchedPolicy

	// Logger receives lifecycle logs. Defaults to the standard logger.
	Logger logrus.FieldLogger
}

// DefaultOptions returns sensible default configuration.
func DefaultOptions() Options {
	return Options{
		PluginDirectory: ".",
		SourceExtension: DefaultExtension,
		SortPlugins:     true,
		Unmatched:       UnmatchedWarn,
	}
}

// EventHandler handles plugin manager events.
// Handlers must be non-blocking and should not call back into the Manager
// to avoid deadlocks. Panics in handlers are recovered.
type EventHandler func(event ManagerEvent)

// ManagerEvent represents a plugin manager event.
type ManagerEvent struct {
	Type   ManagerEventType
	Op     Op
	Plugin string
	Error  error
}

// ManagerEventType is the type of manager event.
type ManagerEventType int

const (
	// EventPluginLoaded is emitted when a plugin unit is loaded.
	EventPluginLoaded ManagerEventType = iota
	// EventPluginActivated is emitted when a plugin is bound.
	EventPluginActivated
	// EventPluginDeactivated is emitted when a plugin is unbound.
	EventPluginDeactivated
	// EventPluginReloaded is emitted when a plugin is reloaded.
	EventPluginReloaded
	// EventPluginError is emitted when a lifecycle operation fails.
	EventPluginError
)

// String returns a string representation of the event type.
func (t ManagerEventType) String() string {
	switch t {
	case EventPluginLoaded:
		return "loaded"
	case EventPluginActivated:
		return "activated"
	case EventPluginDeactivated:
		return "deactivated"
	case EventPluginReloaded:
		return "reloaded"
	case EventPluginError:
		return "error"
	default:
		return "unknown"
	}
}

// Manager loads plugins and binds them to the extension points of one
// type.
//
// Resolving a unit runs without locks. Activation and deactivation are
// serialized, and their bind and unbind steps exclude invocations of the
// type. Hooks run while activation is serialized and must not call back
// into the Manager.
type Manager struct {
	// lifecycle serializes Activate and Deactivate.
	lifecycle sync.Mutex

	typ      *extension.Type
	source   Source
	lua      *LuaSource
	registry *Registry
	opts     Options
	log      logrus.FieldLogger

	// Event handlers (protected by mu)
	mu            sync.RWMutex
	eventHandlers []EventHandler
}

// Setup creates the manager for a type.
func Setup(typ *extension.Type, opts Options) (*Manager, error) {
	if typ == nil {
		return nil, errors.New("plugin setup: nil type")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	luaSource := NewLuaSource(opts.PluginDirectory,
		WithExtension(opts.SourceExtension),
		WithStateOptions(opts.StateOptions...))

	source := opts.Source
	if source == nil {
		source = luaSource
	}

	return &Manager{
		typ:      typ,
		source:   source,
		lua:      luaSource,
		registry: NewRegistry(),
		opts:     opts,
		log:      logger.WithField("type", typ.Name()),
	}, nil
}

// Type returns the managed type.
func (m *Manager) Type() *extension.Type {
	return m.typ
}

// Source returns the source plugin names are resolved from.
func (m *Manager) Source() Source {
	return m.source
}

// Registry returns the registry of active plugins.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Load resolves a plugin unit without activating it.
func (m *Manager) Load(ctx context.Context, name string) (*Plugin, error) {
	p, err := m.source.Resolve(ctx, name)
	if err != nil {
		err = opError(OpLoad, name, ErrLoad, err)
		m.fail(OpLoad, name, err)
		return nil, err
	}
	return m.loaded(p), nil
}

// LoadPath loads a plugin unit from an explicit path without activating
// it. The plugin is named after the file.
func (m *Manager) LoadPath(ctx context.Context, path string) (*Plugin, error) {
	loader, ok := m.source.(PathLoader)
	if !ok {
		loader = m.lua
	}

	p, err := loader.LoadPath(ctx, path)
	if err != nil {
		err = opError(OpLoad, path, ErrLoad, err)
		m.fail(OpLoad, path, err)
		return nil, err
	}
	p.fromPath = true
	return m.loaded(p), nil
}

func (m *Manager) loaded(p *Plugin) *Plugin {
	m.log.WithFields(logrus.Fields{
		"plugin":  p.Name,
		"op":      OpLoad,
		"exports": p.ExportNames(),
	}).Debug("plugin loaded")
	m.emitEvent(ManagerEvent{Type: EventPluginLoaded, Op: OpLoad, Plugin: p.Name})
	return p
}

// Activate runs the plugin's on_load hook, binds each export to the
// extension point of the same name and records the plugin as active.
// On failure nothing is bound. A plugin that was deactivated or failed to
// activate cannot be activated again; load it anew.
func (m *Manager) Activate(ctx context.Context, p *Plugin) error {
	if p == nil {
		return opError(OpActivate, "", ErrInvalidPlugin, nil)
	}

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if err := m.activate(ctx, p); err != nil {
		if !errors.Is(err, ErrDuplicateName) && !errors.Is(err, ErrInvalidPlugin) {
			p.setState(StateError, err)
		}
		m.fail(OpActivate, p.Name, err)
		return err
	}

	m.log.WithFields(logrus.Fields{
		"plugin": p.Name,
		"op":     OpActivate,
	}).Info("plugin activated")
	m.emitEvent(ManagerEvent{Type: EventPluginActivated, Op: OpActivate, Plugin: p.Name})
	return nil
}

func (m *Manager) activate(ctx context.Context, p *Plugin) error {
	if m.registry.Has(p.Name) {
		return opError(OpActivate, p.Name, ErrDuplicateName, nil)
	}
	if state := p.State(); !state.IsUsable() {
		return opError(OpActivate, p.Name, ErrInvalidPlugin, fmt.Errorf("plugin is %s", state))
	}

	bindings, unmatched := m.match(p)
	if len(unmatched) > 0 {
		switch m.opts.Unmatched {
		case UnmatchedError:
			return opError(OpActivate, p.Name, ErrUnmatchedExport,
				fmt.Errorf("%s", strings.Join(unmatched, ", ")))
		case UnmatchedWarn:
			m.log.WithFields(logrus.Fields{
				"plugin":  p.Name,
				"op":      OpActivate,
				"exports": unmatched,
			}).Warn("plugin exports match no extension point")
		}
	}

	if err := p.OnLoad(ctx); err != nil {
		return opError(OpActivate, p.Name, ErrHook, err)
	}

	if err := m.typ.Apply(bindings); err != nil {
		return opError(OpActivate, p.Name, nil, err)
	}
	if err := m.registry.Add(p, bindings); err != nil {
		_ = m.typ.Revert(bindings)
		return opError(OpActivate, p.Name, nil, err)
	}

	p.setState(StateActive, nil)
	return nil
}

// match pairs exports with extension points in declaration order and
// returns the exports no point declares.
func (m *Manager) match(p *Plugin) ([]*extension.Binding, []string) {
	var bindings []*extension.Binding
	for _, pt := range m.typ.Points() {
		if fn, ok := p.Exports[pt.Name()]; ok {
			bindings = append(bindings, extension.NewBinding(pt.Name(), p.Name, fn))
		}
	}

	var unmatched []string
	for _, name := range p.ExportNames() {
		if !m.typ.Has(name) {
			unmatched = append(unmatched, name)
		}
	}
	return bindings, unmatched
}

// LoadPlugin loads and activates a plugin by name. A plugin that fails
// to activate is closed.
func (m *Manager) LoadPlugin(ctx context.Context, name string) (*Plugin, error) {
	p, err := m.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := m.Activate(ctx, p); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// Deactivate runs the plugin's on_unload hook, removes every binding it
// made and closes it. A hook failure is returned after the plugin has
// been fully removed.
func (m *Manager) Deactivate(ctx context.Context, name string) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	p, exists := m.registry.Get(name)
	if !exists {
		err := opError(OpDeactivate, name, ErrNotFound, nil)
		m.fail(OpDeactivate, name, err)
		return err
	}

	var errs []error
	if err := p.OnUnload(ctx); err != nil {
		errs = append(errs, opError(OpDeactivate, name, ErrHook, err))
	}

	_, bindings, err := m.registry.Remove(name)
	if err != nil {
		errs = append(errs, opError(OpDeactivate, name, nil, err))
	}
	if err := m.typ.Revert(bindings); err != nil {
		errs = append(errs, opError(OpDeactivate, name, nil, err))
	}
	if err := p.Close(); err != nil {
		errs = append(errs, opError(OpDeactivate, name, nil, err))
	}
	p.setState(StateUnloaded, nil)

	log := m.log.WithFields(logrus.Fields{
		"plugin": name,
		"op":     OpDeactivate,
	})
	if err := errors.Join(errs...); err != nil {
		log.WithError(err).Warn("plugin deactivated with errors")
		m.emitEvent(ManagerEvent{Type: EventPluginDeactivated, Op: OpDeactivate, Plugin: name, Error: err})
		return err
	}

	log.Info("plugin deactivated")
	m.emitEvent(ManagerEvent{Type: EventPluginDeactivated, Op: OpDeactivate, Plugin: name})
	return nil
}

// Reload deactivates a plugin and loads it again: by name through the
// source, or from its file when it was loaded with LoadPath. It is not
// atomic: if loading fails the plugin stays deactivated.
func (m *Manager) Reload(ctx context.Context, name string) error {
	p, exists := m.registry.Get(name)
	if !exists {
		err := opError(OpReload, name, ErrNotFound, nil)
		m.fail(OpReload, name, err)
		return err
	}
	var path string
	if p.fromPath {
		path = p.Location
	}

	deactivateErr := m.Deactivate(ctx, name)
	if deactivateErr != nil && m.registry.Has(name) {
		return deactivateErr
	}

	if err := m.reload(ctx, name, path); err != nil {
		return errors.Join(deactivateErr, err)
	}

	m.log.WithFields(logrus.Fields{
		"plugin": name,
		"op":     OpReload,
	}).Info("plugin reloaded")
	m.emitEvent(ManagerEvent{Type: EventPluginReloaded, Op: OpReload, Plugin: name})
	return deactivateErr
}

func (m *Manager) reload(ctx context.Context, name, path string) error {
	if path == "" {
		_, err := m.LoadPlugin(ctx, name)
		return err
	}

	p, err := m.LoadPath(ctx, path)
	if err != nil {
		return err
	}
	if err := m.Activate(ctx, p); err != nil {
		p.Close()
		return err
	}
	return nil
}

// LoadAll loads and activates every unit the source lists, skipping
// names that are already active. Units load by name unless SortPlugins
// is off. Failures do not stop the remaining units.
func (m *Manager) LoadAll(ctx context.Context) error {
	names, err := m.source.List(ctx)
	if err != nil {
		return opError(OpLoad, "*", ErrLoad, err)
	}
	if m.opts.SortPlugins {
		sort.Strings(names)
	}

	var loadErrors []error
	for _, name := range names {
		if m.registry.Has(name) {
			continue
		}
		if _, err := m.LoadPlugin(ctx, name); err != nil {
			loadErrors = append(loadErrors, err)
		}
	}

	if len(loadErrors) > 0 {
		return fmt.Errorf("failed to load %d plugins: %w", len(loadErrors), errors.Join(loadErrors...))
	}
	return nil
}

// UnloadAll deactivates all plugins in reverse activation order.
func (m *Manager) UnloadAll(ctx context.Context) error {
	names := m.registry.Names()

	var unloadErrors []error
	for i := len(names) - 1; i >= 0; i-- {
		if err := m.Deactivate(ctx, names[i]); err != nil {
			unloadErrors = append(unloadErrors, err)
		}
	}

	if len(unloadErrors) > 0 {
		return fmt.Errorf("failed to unload %d plugins: %w", len(unloadErrors), errors.Join(unloadErrors...))
	}
	return nil
}

// With activates the named plugin for the duration of fn. The plugin is
// deactivated when fn returns, fails or panics.
func (m *Manager) With(ctx context.Context, name string, fn func(*Plugin) error) (err error) {
	p, err := m.LoadPlugin(ctx, name)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, m.Deactivate(context.WithoutCancel(ctx), name))
	}()
	return fn(p)
}

// Get returns an active plugin by name.
func (m *Manager) Get(name string) (*Plugin, bool) {
	return m.registry.Get(name)
}

// Plugins returns the active plugins in activation order.
func (m *Manager) Plugins() []*Plugin {
	return m.registry.Plugins()
}

// Names returns the active plugin names in activation order.
func (m *Manager) Names() []string {
	return m.registry.Names()
}

// Count returns the number of active plugins.
func (m *Manager) Count() int {
	return m.registry.Len()
}

// Subscribe adds an event handler.
// Returns an unsubscribe function to remove the handler.
func (m *Manager) Subscribe(handler EventHandler) func() {
	if handler == nil {
		return func() {} // No-op for nil handlers
	}

	m.mu.Lock()
	m.eventHandlers = append(m.eventHandlers, handler)
	index := len(m.eventHandlers) - 1
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		// Set to nil instead of removing to avoid index shifting issues
		if index < len(m.eventHandlers) {
			m.eventHandlers[index] = nil
		}
	}
}

func (m *Manager) fail(op Op, name string, err error) {
	m.log.WithFields(logrus.Fields{
		"plugin": name,
		"op":     op,
	}).WithError(err).Error("plugin operation failed")
	m.emitEvent(ManagerEvent{Type: EventPluginError, Op: op, Plugin: name, Error: err})
}

// emitEvent sends an event to all handlers.
// Handlers are called outside the handler lock and panics are recovered.
func (m *Manager) emitEvent(event ManagerEvent) {
	m.mu.RLock()
	handlers := make([]EventHandler, len(m.eventHandlers))
	copy(handlers, m.eventHandlers)
	m.mu.RUnlock()

	for _, handler := range handlers {
		if handler == nil {
			continue
		}
		func() {
			defer func() {
				recover() // Ignore panics from handlers
			}()
			handler(event)
		}()
	}
}
