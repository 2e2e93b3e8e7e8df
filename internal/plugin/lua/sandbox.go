package lua

import (
	"fmt"
	"os"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// Capability is a permission that widens what plugin code may reach.
type Capability string

// Available capabilities.
const (
	// CapabilityOS exposes a read-only os subset: getenv, time, clock, date.
	CapabilityOS Capability = "os"

	// CapabilityUnsafe opens the full io, os and debug libraries.
	CapabilityUnsafe Capability = "unsafe"
)

// ParseCapability validates a capability name.
func ParseCapability(s string) (Capability, error) {
	switch c := Capability(s); c {
	case CapabilityOS, CapabilityUnsafe:
		return c, nil
	default:
		return "", fmt.Errorf("unknown capability %q", s)
	}
}

// Sandbox restricts what Lua code running in a state can reach.
type Sandbox struct {
	L *lua.LState

	capabilities map[Capability]bool
	started      time.Time
}

// NewSandbox creates a sandbox for the Lua state.
func NewSandbox(L *lua.LState) *Sandbox {
	return &Sandbox{
		L:            L,
		capabilities: make(map[Capability]bool),
		started:      time.Now(),
	}
}

// Install removes code-loading functions and replaces require with a
// whitelist of built-in modules.
func (s *Sandbox) Install() {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		s.L.SetGlobal(name, lua.LNil)
	}
	s.installSafeRequire()
}

// installSafeRequire clears the module search paths and only lets require
// return modules that are already loaded.
func (s *Sandbox) installSafeRequire() {
	if pkg, ok := s.L.GetGlobal("package").(*lua.LTable); ok {
		s.L.SetField(pkg, "path", lua.LString(""))
		s.L.SetField(pkg, "cpath", lua.LString(""))
	}

	safeModules := map[string]bool{
		"string": true,
		"table":  true,
		"math":   true,
	}

	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if safeModules[name] || (name == "os" && s.capabilities[CapabilityOS]) || s.capabilities[CapabilityUnsafe] {
			if mod := L.GetGlobal(name); mod != lua.LNil {
				L.Push(mod)
				return 1
			}
		}
		L.RaiseError("module %q is not available", name)
		return 0
	}))
}

// Grant enables a capability.
func (s *Sandbox) Grant(c Capability) error {
	switch c {
	case CapabilityOS:
		s.injectOS()
	case CapabilityUnsafe:
		lua.OpenIo(s.L)
		lua.OpenOs(s.L)
		lua.OpenDebug(s.L)
	default:
		return fmt.Errorf("unknown capability %q", c)
	}
	s.capabilities[c] = true
	return nil
}

// HasCapability returns true if the capability is granted.
func (s *Sandbox) HasCapability(c Capability) bool {
	return s.capabilities[c]
}

// injectOS installs the read-only os subset.
func (s *Sandbox) injectOS() {
	osMod := s.L.NewTable()

	s.L.SetField(osMod, "getenv", s.L.NewFunction(func(L *lua.LState) int {
		value, ok := os.LookupEnv(L.CheckString(1))
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(value))
		return 1
	}))

	s.L.SetField(osMod, "time", s.L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(time.Now().Unix()))
		return 1
	}))

	s.L.SetField(osMod, "clock", s.L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(time.Since(s.started).Seconds()))
		return 1
	}))

	// os.date takes a Go time layout, not a strftime format.
	s.L.SetField(osMod, "date", s.L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(time.Now().Format(L.OptString(1, time.RFC3339))))
		return 1
	}))

	s.L.SetGlobal("os", osMod)
}
