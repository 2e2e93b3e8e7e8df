package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/dshills/modular/internal/extension"
	"github.com/dshills/modular/internal/plugin"
	"github.com/dshills/modular/internal/plugin/lua"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MODULAR_"

// Options configures the plugin host.
type Options struct {
	// PluginDirectory holds the plugin units.
	PluginDirectory string `toml:"plugin_directory" yaml:"plugin_directory" env:"PLUGIN_DIRECTORY"`

	// SourceExtension is the unit file extension.
	SourceExtension string `toml:"source_extension" yaml:"source_extension" env:"SOURCE_EXTENSION"`

	// SortPlugins loads units by name instead of directory listing order.
	SortPlugins bool `toml:"sort_plugins" yaml:"sort_plugins" env:"SORT_PLUGINS"`

	// Unmatched is ignore, warn or error.
	Unmatched string `toml:"unmatched" yaml:"unmatched" env:"UNMATCHED"`

	// OverridePolicy is owner or always.
	OverridePolicy string `toml:"override_policy" yaml:"override_policy" env:"OVERRIDE_POLICY"`

	// Watch reloads units when their files change.
	Watch bool `toml:"watch" yaml:"watch" env:"WATCH"`

	// ExecutionTimeout bounds each call into plugin code.
	ExecutionTimeout Duration `toml:"execution_timeout" yaml:"execution_timeout" env:"EXECUTION_TIMEOUT"`

	// Capabilities widen the plugin sandbox.
	Capabilities []string `toml:"capabilities" yaml:"capabilities" env:"CAPABILITIES" envSeparator:","`

	Log     LogOptions     `toml:"log" yaml:"log" envPrefix:"LOG_"`
	Metrics MetricsOptions `toml:"metrics" yaml:"metrics" envPrefix:"METRICS_"`
}

// LogOptions configures logging.
type LogOptions struct {
	// Level is a logrus level name.
	Level string `toml:"level" yaml:"level" env:"LEVEL"`

	// Format is text or json.
	Format string `toml:"format" yaml:"format" env:"FORMAT"`
}

// MetricsOptions configures Prometheus metrics.
type MetricsOptions struct {
	Enabled bool `toml:"enabled" yaml:"enabled" env:"ENABLED"`

	// Namespace prefixes every metric name.
	Namespace string `toml:"namespace" yaml:"namespace" env:"NAMESPACE"`

	// Address serves /metrics when set.
	Address string `toml:"address" yaml:"address" env:"ADDRESS"`
}

// Default returns the built-in defaults.
func Default() *Options {
	return &Options{
		PluginDirectory:  ".",
		SourceExtension:  plugin.DefaultExtension,
		SortPlugins:      true,
		Unmatched:        plugin.UnmatchedWarn.String(),
		OverridePolicy:   extension.OverrideResetOwner.String(),
		ExecutionTimeout: Duration(lua.DefaultExecutionTimeout),
		Log: LogOptions{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsOptions{
			Namespace: "modular",
		},
	}
}

// Validate checks every option and normalizes the source extension.
func (o *Options) Validate() error {
	var errs []error

	if o.PluginDirectory == "" {
		errs = append(errs, invalid("plugin_directory", errors.New("must not be empty")))
	}

	switch {
	case o.SourceExtension == "" || o.SourceExtension == ".":
		errs = append(errs, invalid("source_extension", errors.New("must not be empty")))
	case !strings.HasPrefix(o.SourceExtension, "."):
		o.SourceExtension = "." + o.SourceExtension
	}

	if _, err := plugin.ParseUnmatchedPolicy(o.Unmatched); err != nil {
		errs = append(errs, invalid("unmatched", err))
	}
	if _, ok := extension.ParseOverridePolicy(o.OverridePolicy); !ok {
		errs = append(errs, invalid("override_policy", fmt.Errorf("unknown policy %q", o.OverridePolicy)))
	}
	if o.ExecutionTimeout < 0 {
		errs = append(errs, invalid("execution_timeout", errors.New("must not be negative")))
	}
	for _, c := range o.Capabilities {
		if _, err := lua.ParseCapability(c); err != nil {
			errs = append(errs, invalid("capabilities", err))
		}
	}

	if _, err := logrus.ParseLevel(o.Log.Level); err != nil {
		errs = append(errs, invalid("log.level", err))
	}
	switch o.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, invalid("log.format", fmt.Errorf("unknown format %q", o.Log.Format)))
	}

	if o.Metrics.Enabled && o.Metrics.Namespace == "" {
		errs = append(errs, invalid("metrics.namespace", errors.New("must not be empty")))
	}

	return errors.Join(errs...)
}

// Policy returns the override unbind policy. Call after Validate.
func (o *Options) Policy() extension.OverridePolicy {
	policy, _ := extension.ParseOverridePolicy(o.OverridePolicy)
	return policy
}

// StateOptions returns the Lua state options. Call after Validate.
func (o *Options) StateOptions() []lua.StateOption {
	opts := []lua.StateOption{lua.WithExecutionTimeout(o.ExecutionTimeout.Std())}
	for _, name := range o.Capabilities {
		if c, err := lua.ParseCapability(name); err == nil {
			opts = append(opts, lua.WithCapabilities(c))
		}
	}
	return opts
}

// ManagerOptions returns the plugin manager options. Call after Validate.
func (o *Options) ManagerOptions(logger logrus.FieldLogger) plugin.Options {
	unmatched, _ := plugin.ParseUnmatchedPolicy(o.Unmatched)

	opts := plugin.DefaultOptions()
	opts.PluginDirectory = o.PluginDirectory
	opts.SourceExtension = o.SourceExtension
	opts.SortPlugins = o.SortPlugins
	opts.Unmatched = unmatched
	opts.StateOptions = o.StateOptions()
	opts.Logger = logger
	return opts
}

// Duration is a time.Duration written as a string such as "1.5s".
type Duration time.Duration

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String returns the duration in time.Duration notation.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}
