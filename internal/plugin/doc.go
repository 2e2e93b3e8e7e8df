// Package plugin loads units of code and binds what they export to the
// extension points of a type.
//
// # Quick Start
//
//	typ := extension.MustType("shell",
//	    extension.Override("prompt", defaultPrompt),
//	)
//
//	opts := plugin.DefaultOptions()
//	opts.PluginDirectory = "plugins"
//
//	mgr, err := plugin.Setup(typ, opts)
//	if err != nil {
//	    return err
//	}
//	defer mgr.UnloadAll(context.Background())
//
//	// Load every unit in the directory
//	if err := mgr.LoadAll(ctx); err != nil {
//	    logger.WithError(err).Warn("some plugins failed to load")
//	}
//
// # Plugin Units
//
// A Lua unit is a single file named after the plugin:
//
//	plugins/it_works.lua
//
// Each unit runs in its own sandboxed Lua state. Every global function it
// defines is an export; an export binds to the extension point of the
// same name. Exports that match no point are logged, ignored or rejected
// according to Options.Unmatched.
//
//	function prompt(self)
//	    return "?> "
//	end
//
// Go plugins are registered in a Catalog and selected by name:
//
//	catalog := plugin.NewCatalog()
//	catalog.MustRegister("clock", func() (plugin.Definition, error) {
//	    return plugin.Definition{
//	        Exports: map[string]extension.Func{"update": tick},
//	    }, nil
//	})
//	opts.Source = plugin.MultiSource{catalog, plugin.NewLuaSource("plugins")}
//
// # Lifecycle
//
// The names on_load and on_unload are reserved for zero-argument hooks.
// on_load runs before any binding is made; if it fails the plugin is not
// activated. on_unload runs before the bindings are removed; its error is
// returned once the plugin is gone.
//
//	Load ──► Activate ──► (active) ──► Deactivate
//	  └── LoadPlugin ──┘                   │
//	                     Reload ───────────┘ then LoadPlugin
//
// Reload is not atomic. If the unit no longer loads, the plugin stays
// deactivated.
//
// # Watching
//
// A Watcher follows the plugin directory: new units are loaded, changed
// units are reloaded and removed units are deactivated.
//
//	w, err := plugin.NewWatcher(mgr)
//	if err != nil {
//	    return err
//	}
//	defer w.Close()
//	err = w.Start(ctx)
//
// # Thread Safety
//
// Activation and deactivation are serialized per Manager and exclude
// invocations of the type's extension points. Hooks and event handlers
// must not call back into the Manager.
package plugin
