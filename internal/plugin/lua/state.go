package lua

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// DefaultExecutionTimeout bounds a single DoFile, DoString or function call.
const DefaultExecutionTimeout = 5 * time.Second

// State is an isolated, sandboxed Lua runtime holding one plugin unit.
//
// gopher-lua's LState is not goroutine-safe; every access goes through mu.
// A function exported by the state must not call back into Go code that
// invokes another function of the same state.
type State struct {
	L *lua.LState

	mu sync.Mutex

	executionTimeout time.Duration
	kinds            map[string]error
	capabilities     []Capability

	sandbox *Sandbox
	bridge  *Bridge

	// builtins are the globals present before any unit code ran.
	builtins map[string]bool

	closed bool
}

// StateOption configures a State.
type StateOption func(*State)

// WithExecutionTimeout bounds every execution on the state. Zero disables
// the bound; the caller's context still applies.
func WithExecutionTimeout(d time.Duration) StateOption {
	return func(s *State) {
		s.executionTimeout = d
	}
}

// WithKinds registers the error kinds Lua code can raise by name.
func WithKinds(kinds map[string]error) StateOption {
	return func(s *State) {
		for name, kind := range kinds {
			s.kinds[name] = kind
		}
	}
}

// WithCapabilities grants sandbox capabilities.
func WithCapabilities(caps ...Capability) StateOption {
	return func(s *State) {
		s.capabilities = append(s.capabilities, caps...)
	}
}

// NewState creates a sandboxed Lua state.
func NewState(opts ...StateOption) (*State, error) {
	s := &State{
		executionTimeout: DefaultExecutionTimeout,
		kinds:            make(map[string]error),
	}
	for _, opt := range opts {
		opt(s)
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})
	s.L = L

	openSafeLibraries(L)

	s.sandbox = NewSandbox(L)
	s.sandbox.Install()
	for _, c := range s.capabilities {
		if err := s.sandbox.Grant(c); err != nil {
			L.Close()
			return nil, err
		}
	}

	s.bridge = NewBridge(L)
	L.SetGlobal("raise", L.NewFunction(s.raise))

	s.builtins = make(map[string]bool)
	for _, name := range globalNames(L) {
		s.builtins[name] = true
	}

	return s, nil
}

// openSafeLibraries opens only safe Lua standard libraries.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenPackage(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// io, os and debug stay closed unless a capability opens them.
}

// DoFile executes a Lua file.
func (s *State) DoFile(ctx context.Context, path string) error {
	return s.run(ctx, func() error {
		return s.L.DoFile(path)
	})
}

// DoString executes a Lua chunk.
func (s *State) DoString(ctx context.Context, code string) error {
	return s.run(ctx, func() error {
		return s.L.DoString(code)
	})
}

func (s *State) run(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()
	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	return doWithRecovery(fn)
}

// bound applies the execution timeout to ctx.
func (s *State) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.executionTimeout > 0 {
		return context.WithTimeout(ctx, s.executionTimeout)
	}
	return context.WithCancel(ctx)
}

// doWithRecovery executes a function with panic recovery.
func doWithRecovery(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}

// Functions returns the names of the global functions defined by code run
// on this state, sorted.
func (s *State) Functions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	var names []string
	globals := s.L.Get(lua.GlobalsIndex).(*lua.LTable)
	globals.ForEach(func(k, v lua.LValue) {
		name, ok := k.(lua.LString)
		if !ok || s.builtins[string(name)] {
			return
		}
		if _, ok := v.(*lua.LFunction); ok {
			names = append(names, string(name))
		}
	})
	sort.Strings(names)
	return names
}

// Func returns a Go function calling the named global Lua function. The
// Lua function value is captured now; reassigning the global later does
// not change what the returned function calls.
func (s *State) Func(name string) (func(ctx context.Context, self any, args ...any) (any, error), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}

	fn, ok := s.L.GetGlobal(name).(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrNotFunction)
	}

	return func(ctx context.Context, self any, args ...any) (any, error) {
		return s.call(ctx, name, fn, self, args)
	}, nil
}

// Hook returns a zero-argument Go function calling the named global, or
// nil if the state defines no such function.
func (s *State) Hook(name string) func(ctx context.Context) error {
	fn, err := s.Func(name)
	if err != nil {
		return nil
	}
	return func(ctx context.Context) error {
		_, err := fn(ctx, nil)
		return err
	}
}

// call runs fn(self, args...) and returns its first result.
func (s *State) call(ctx context.Context, name string, fn *lua.LFunction, self any, args []any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()
	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	largs := make([]lua.LValue, 0, len(args)+1)
	largs = append(largs, s.bridge.Receiver(self))
	for _, arg := range args {
		largs = append(largs, s.bridge.ToLuaValue(arg))
	}

	var ret lua.LValue = lua.LNil
	err := doWithRecovery(func() error {
		if err := s.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, largs...); err != nil {
			return err
		}
		ret = s.L.Get(-1)
		s.L.Pop(1)
		return nil
	})
	if err != nil {
		return nil, s.callError(ctx, name, err)
	}

	return s.bridge.ToGoValue(ret), nil
}

// callError unwraps raised kinds and context expiry from a Lua failure.
func (s *State) callError(ctx context.Context, name string, err error) error {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		if ud, ok := apiErr.Object.(*lua.LUserData); ok {
			if kerr, ok := ud.Value.(*KindError); ok {
				return &CallError{Function: name, Err: kerr}
			}
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &CallError{Function: name, Err: ctxErr}
	}
	return &CallError{Function: name, Err: err}
}

// raise implements the Lua global raise(kind [, message]).
func (s *State) raise(L *lua.LState) int {
	name := L.CheckString(1)
	message := L.OptString(2, "")

	kind, ok := s.kinds[name]
	if !ok {
		L.RaiseError("unknown error kind %q", name)
		return 0
	}

	ud := L.NewUserData()
	ud.Value = &KindError{Name: name, Kind: kind, Message: message}
	mt := L.NewTable()
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(ud.Value.(*KindError).Error()))
		return 1
	}))
	L.SetMetatable(ud, mt)
	L.Error(ud, 1)
	return 0
}

// Kinds returns the names of the registered error kinds, sorted.
func (s *State) Kinds() []string {
	names := make([]string, 0, len(s.kinds))
	for name := range s.kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetGlobal returns a global variable converted to a Go value.
func (s *State) GetGlobal(name string) any {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	return s.bridge.ToGoValue(s.L.GetGlobal(name))
}

// SetGlobal sets a global variable from a Go value.
func (s *State) SetGlobal(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.L.SetGlobal(name, s.bridge.ToLuaValue(value))
}

// Sandbox returns the state's sandbox.
func (s *State) Sandbox() *Sandbox {
	return s.sandbox
}

// IsClosed returns true if the state has been closed.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the Lua state. Functions obtained from Func fail with
// ErrStateClosed afterwards.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.L.Close()
	s.closed = true
	return nil
}

func globalNames(L *lua.LState) []string {
	var names []string
	globals := L.Get(lua.GlobalsIndex).(*lua.LTable)
	globals.ForEach(func(k, _ lua.LValue) {
		if name, ok := k.(lua.LString); ok {
			names = append(names, string(name))
		}
	})
	return names
}
