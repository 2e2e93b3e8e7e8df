// Package main is the entry point for modshell, a shell extended by Lua
// plugins.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/dshills/modular/internal/config"
	"github.com/dshills/modular/internal/observability"
	"github.com/dshills/modular/internal/plugin"
	"github.com/dshills/modular/internal/plugin/lua"
	"github.com/dshills/modular/internal/shell"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type options struct {
	configPath string
	pluginDir  string
	logLevel   string
	watch      bool
}

func main() {
	os.Exit(run())
}

func run() int {
	flags := parseFlags()

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config: %v\n", err)
		return 1
	}
	if flags.pluginDir != "" {
		cfg.PluginDirectory = flags.pluginDir
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.watch {
		cfg.Watch = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logger := observability.NewLogger(cfg.Log, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("modshell failed")
		return 1
	}
	return 0
}

func serve(ctx context.Context, cfg *config.Options, logger *logrus.Logger) error {
	typ := shell.NewType()
	typ.SetOverridePolicy(cfg.Policy())

	opts := cfg.ManagerOptions(logger)
	opts.StateOptions = append(opts.StateOptions, lua.WithKinds(shell.Kinds))

	mgr, err := plugin.Setup(typ, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := mgr.UnloadAll(context.WithoutCancel(ctx)); err != nil {
			logger.WithError(err).Warn("unloading plugins")
		}
	}()

	if cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		metrics := observability.NewMetrics(registry, cfg.Metrics.Namespace)
		defer metrics.Instrument(mgr)()

		if cfg.Metrics.Address != "" {
			srv := &http.Server{Addr: cfg.Metrics.Address, Handler: observability.Handler(registry)}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.WithError(err).Error("metrics server stopped")
				}
			}()
			defer srv.Close()
		}
	}

	// Plugins that fail to load are reported; the shell still starts.
	if err := mgr.LoadAll(ctx); err != nil {
		logger.WithError(err).Warn("some plugins failed to load")
	}

	if cfg.Watch {
		w, err := plugin.NewWatcher(mgr)
		if err != nil {
			return err
		}
		defer w.Close()
		if err := w.Start(ctx); err != nil {
			return err
		}
	}

	sh := shell.New(typ, logger)
	err = sh.Run(ctx, os.Stdin, os.Stdout)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func parseFlags() options {
	var opts options
	var showVersion bool

	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file (.toml, .yaml)")
	flag.StringVar(&opts.configPath, "c", "", "Path to configuration file (shorthand)")
	flag.StringVar(&opts.pluginDir, "plugins", "", "Plugin directory")
	flag.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&opts.watch, "watch", false, "Reload plugins when their files change")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "modshell - a shell extended by Lua plugins\n\n")
		fmt.Fprintf(os.Stderr, "Usage: modshell [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  modshell -plugins examples/plugins\n")
		fmt.Fprintf(os.Stderr, "  modshell -config modular.toml -watch\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("modshell %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	return opts
}
