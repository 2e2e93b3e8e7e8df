// Package lua is the Lua runtime behind script plugins.
//
// Each plugin unit runs in its own State: a gopher-lua LState with only the
// safe standard libraries opened and the sandbox installed. Top-level
// functions defined by the unit are what the plugin exports:
//
//	state, err := lua.NewState(lua.WithKinds(map[string]error{"ValueError": ErrValue}))
//	if err != nil {
//	    return err
//	}
//	defer state.Close()
//
//	if err := state.DoFile(ctx, "plugins/it_works.lua"); err != nil {
//	    return err
//	}
//	for _, name := range state.Functions() {
//	    fn, _ := state.Func(name)
//	    ...
//	}
//
// # Receivers
//
// Functions are called as fn(self, ...). When the Go receiver implements
// Attributes, Lua code reads and writes its attributes as fields:
//
//	function update(self)
//	    self.frame = self.frame + 1
//	end
//
// # Error kinds
//
// Kinds registered with WithKinds can be raised from Lua:
//
//	function react(self, line)
//	    if line ~= "hello" then
//	        raise("ValueError", "not a greeting")
//	    end
//	    print("hi!")
//	end
//
// The call then fails with a *KindError that matches the registered
// sentinel under errors.Is.
package lua
