// Package config loads the options of the plugin host.
//
// Options are resolved in layers, each overriding the one below:
//
//	┌──────────────────────────────┐
//	│  3. Environment (MODULAR_*)  │  ← Highest priority
//	├──────────────────────────────┤
//	│  2. Config file (TOML/YAML)  │
//	├──────────────────────────────┤
//	│  1. Built-in Defaults        │  ← Lowest priority
//	└──────────────────────────────┘
//
// The file format is chosen by extension: .toml, or .yaml and .yml.
// A missing file is not an error; the defaults apply.
//
// # Basic Usage
//
//	opts, err := config.Load("modular.toml")
//	if err != nil {
//	    return err
//	}
//	mgr, err := plugin.Setup(typ, opts.ManagerOptions(logger))
//
// # Example File
//
//	plugin_directory = "plugins"
//	unmatched = "error"
//	override_policy = "owner"
//	execution_timeout = "2s"
//
//	[log]
//	level = "debug"
//	format = "json"
//
//	[metrics]
//	enabled = true
//	address = ":9090"
package config
