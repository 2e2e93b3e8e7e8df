package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/modular/internal/extension"
	"github.com/dshills/modular/internal/plugin/lua"
)

// ErrUnknownUnit is returned by a Source that has no unit for a name.
var ErrUnknownUnit = errors.New("no plugin unit with that name")

// DefaultExtension is the file extension of Lua plugin units.
const DefaultExtension = ".lua"

// Source resolves plugin names to loaded plugins.
type Source interface {
	// Resolve loads the named unit. It returns an error wrapping
	// ErrUnknownUnit when the source has no such unit.
	Resolve(ctx context.Context, name string) (*Plugin, error)

	// List returns the names of the units the source can resolve.
	List(ctx context.Context) ([]string, error)
}

// PathLoader is implemented by sources that load a unit from an explicit path.
type PathLoader interface {
	LoadPath(ctx context.Context, path string) (*Plugin, error)
}

// LuaSource resolves a name to <dir>/<name><ext> and runs it in a fresh
// sandboxed Lua state. Every global function the unit defines is exported.
type LuaSource struct {
	dir       string
	ext       string
	stateOpts []lua.StateOption
}

// LuaSourceOption configures a LuaSource.
type LuaSourceOption func(*LuaSource)

// WithExtension sets the unit file extension.
func WithExtension(ext string) LuaSourceOption {
	return func(s *LuaSource) {
		if ext == "" {
			return
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		s.ext = ext
	}
}

// WithStateOptions sets the options every Lua state is created with.
func WithStateOptions(opts ...lua.StateOption) LuaSourceOption {
	return func(s *LuaSource) {
		s.stateOpts = append(s.stateOpts, opts...)
	}
}

// NewLuaSource creates a source reading units from dir.
func NewLuaSource(dir string, opts ...LuaSourceOption) *LuaSource {
	if dir == "" {
		dir = "."
	}
	s := &LuaSource{dir: dir, ext: DefaultExtension}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the plugin directory.
func (s *LuaSource) Dir() string {
	return s.dir
}

// Extension returns the unit file extension.
func (s *LuaSource) Extension() string {
	return s.ext
}

// Path returns the location a name resolves to.
func (s *LuaSource) Path(name string) string {
	return filepath.Join(s.dir, name+s.ext)
}

// NameOf returns the plugin name for a unit path, or false if the path
// does not carry the unit extension.
func (s *LuaSource) NameOf(path string) (string, bool) {
	base := filepath.Base(path)
	if filepath.Ext(base) != s.ext {
		return "", false
	}
	name := strings.TrimSuffix(base, s.ext)
	return name, name != ""
}

// Resolve loads <dir>/<name><ext>.
func (s *LuaSource) Resolve(ctx context.Context, name string) (*Plugin, error) {
	path := s.Path(name)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", path, ErrUnknownUnit)
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory: %w", path, ErrUnknownUnit)
	}
	return s.load(ctx, name, path)
}

// LoadPath loads a unit from an explicit path. The plugin is named after
// the file.
func (s *LuaSource) LoadPath(ctx context.Context, path string) (*Plugin, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if name == "" {
		return nil, fmt.Errorf("%s: %w", path, ErrInvalidPlugin)
	}
	return s.load(ctx, name, path)
}

func (s *LuaSource) load(ctx context.Context, name, path string) (*Plugin, error) {
	state, err := lua.NewState(s.stateOpts...)
	if err != nil {
		return nil, err
	}

	if err := state.DoFile(ctx, path); err != nil {
		state.Close()
		return nil, err
	}

	def := Definition{Exports: make(map[string]extension.Func)}
	for _, fname := range state.Functions() {
		if extension.IsReserved(fname) {
			continue
		}
		fn, err := state.Func(fname)
		if err != nil {
			state.Close()
			return nil, err
		}
		def.Exports[fname] = fn
	}
	if hook := state.Hook(extension.HookOnLoad); hook != nil {
		def.OnLoad = hook
	}
	if hook := state.Hook(extension.HookOnUnload); hook != nil {
		def.OnUnload = hook
	}

	p := NewPlugin(name, path, def)
	p.closer = state
	return p, nil
}

// List returns the names of the unit files in the directory, in listing
// order. A missing directory lists nothing.
func (s *LuaSource) List(context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if name, ok := s.NameOf(entry.Name()); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

// MultiSource tries each source in order; the first that has a unit for
// a name wins.
type MultiSource []Source

// Resolve implements Source.
func (m MultiSource) Resolve(ctx context.Context, name string) (*Plugin, error) {
	for _, src := range m {
		p, err := src.Resolve(ctx, name)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrUnknownUnit) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%q: %w", name, ErrUnknownUnit)
}

// List returns the sorted union of the sources' names.
func (m MultiSource) List(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var names []string
	for _, src := range m {
		listed, err := src.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, name := range listed {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}
