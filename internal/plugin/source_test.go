package plugin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/modular/internal/extension"
)

func TestLuaSourceResolve(t *testing.T) {
	dir := t.TempDir()
	src := NewLuaSource(dir)
	path := writeUnit(t, dir, "unit", `
		local function helper() return 1 end
		function on_load() end
		function on_unload() end
		function update(self) end
		function prompt(self) return "u> " end
	`)

	p, err := src.Resolve(context.Background(), "unit")
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, "unit", p.Name)
	assert.Equal(t, path, p.Location)
	assert.Equal(t, []string{"prompt", "update"}, p.ExportNames())
	assert.Equal(t, StateLoaded, p.State())
	assert.NoError(t, p.OnLoad(context.Background()))
	assert.NoError(t, p.OnUnload(context.Background()))

	got, err := p.Exports["prompt"](context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "u> ", got)
}

func TestLuaSourceIsolation(t *testing.T) {
	dir := t.TempDir()
	src := NewLuaSource(dir)
	writeUnit(t, dir, "one", `shared = "one"; function prompt(self) return shared end`)
	writeUnit(t, dir, "two", `shared = "two"; function prompt(self) return shared end`)

	one, err := src.Resolve(context.Background(), "one")
	require.NoError(t, err)
	defer one.Close()
	two, err := src.Resolve(context.Background(), "two")
	require.NoError(t, err)
	defer two.Close()

	got, err := one.Exports["prompt"](context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "one", got)
}

func TestLuaSourceResolveMissing(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "folder.lua"), 0755))
	src := NewLuaSource(dir)

	_, err := src.Resolve(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrUnknownUnit)

	_, err = src.Resolve(context.Background(), "folder")
	assert.ErrorIs(t, err, ErrUnknownUnit)
}

func TestLuaSourceList(t *testing.T) {
	dir := t.TempDir()
	src := NewLuaSource(dir, WithExtension("plug"))
	assert.Equal(t, ".plug", src.Extension())

	require.NoError(t, writeFile(dir, "b.plug", ""))
	require.NoError(t, writeFile(dir, "a.plug", ""))
	require.NoError(t, writeFile(dir, "c.lua", ""))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "d.plug"), 0755))

	names, err := src.List(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, names)

	missing := NewLuaSource(filepath.Join(dir, "nowhere"))
	names, err = missing.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLuaSourceNameOf(t *testing.T) {
	src := NewLuaSource("plugins")

	name, ok := src.NameOf("/x/plugins/it_works.lua")
	assert.True(t, ok)
	assert.Equal(t, "it_works", name)

	_, ok = src.NameOf("/x/plugins/notes.txt")
	assert.False(t, ok)
	_, ok = src.NameOf("/x/plugins/.lua")
	assert.False(t, ok)

	assert.Equal(t, filepath.Join("plugins", "it_works.lua"), src.Path("it_works"))
	assert.Equal(t, ".", NewLuaSource("").Dir())
}

func TestCatalog(t *testing.T) {
	catalog := NewCatalog()
	builds := 0
	factory := func() (Definition, error) {
		builds++
		return Definition{Exports: map[string]extension.Func{
			"prompt":  constant("c> "),
			"on_load": constant(nil),
		}}, nil
	}

	require.NoError(t, catalog.Register("beta", factory))
	require.NoError(t, catalog.Register("alpha", factory))
	assert.Error(t, catalog.Register("alpha", factory))
	assert.ErrorIs(t, catalog.Register("", factory), ErrInvalidPlugin)
	assert.ErrorIs(t, catalog.Register("nil", nil), ErrInvalidPlugin)
	assert.Panics(t, func() { catalog.MustRegister("alpha", factory) })

	names, err := catalog.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, names)

	p, err := catalog.Resolve(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, "catalog:alpha", p.Location)
	assert.Equal(t, []string{"prompt"}, p.ExportNames())
	assert.NoError(t, p.Close())

	_, err = catalog.Resolve(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, 2, builds)

	_, err = catalog.Resolve(context.Background(), "gamma")
	assert.ErrorIs(t, err, ErrUnknownUnit)

	errBuild := errors.New("cannot build")
	catalog.MustRegister("broken", func() (Definition, error) { return Definition{}, errBuild })
	_, err = catalog.Resolve(context.Background(), "broken")
	assert.ErrorIs(t, err, errBuild)
}

func TestMultiSource(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "shared", `function prompt(self) return "lua> " end`)
	writeUnit(t, dir, "only_lua", `function prompt(self) return "lua> " end`)

	catalog := NewCatalog()
	catalog.MustRegister("shared", exports(map[string]extension.Func{"prompt": constant("go> ")}))
	catalog.MustRegister("only_go", exports(nil))

	src := MultiSource{catalog, NewLuaSource(dir)}

	p, err := src.Resolve(context.Background(), "shared")
	require.NoError(t, err)
	assert.Equal(t, "catalog:shared", p.Location)

	p, err = src.Resolve(context.Background(), "only_lua")
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, filepath.Join(dir, "only_lua.lua"), p.Location)

	_, err = src.Resolve(context.Background(), "nothing")
	assert.ErrorIs(t, err, ErrUnknownUnit)

	names, err := src.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"only_go", "only_lua", "shared"}, names)
}

func TestMultiSourceStopsOnLoadFailure(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "bad", `function prompt(self) `)

	catalog := NewCatalog()
	catalog.MustRegister("bad", exports(nil))

	_, err := MultiSource{NewLuaSource(dir), catalog}.Resolve(context.Background(), "bad")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownUnit)
}

func TestNewPluginHooks(t *testing.T) {
	var ran []string
	p := NewPlugin("p", "here", Definition{Exports: map[string]extension.Func{
		"on_unload": func(context.Context, any, ...any) (any, error) {
			ran = append(ran, "on_unload")
			return nil, nil
		},
		"update": nil,
	}})

	assert.Empty(t, p.ExportNames())
	require.NoError(t, p.OnLoad(context.Background()))
	require.NoError(t, p.OnUnload(context.Background()))
	assert.Equal(t, []string{"on_unload"}, ran)
	assert.Equal(t, "loaded", p.State().String())
	assert.True(t, p.State().IsUsable())
	assert.False(t, StateUnloaded.IsUsable())
}
