package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"rsbridge"
	"rsbridge/internal/buildpipeline"
	"rsbridge/internal/cache"
	"rsbridge/internal/config"
)

// loadConfig reads --config or discovers rsbridge.toml from the working
// directory. The returned path is empty when defaults are used.
func loadConfig(cmd *cobra.Command) (config.File, string, error) {
	path, err := cmd.Root().PersistentFlags().GetString("config")
	if err != nil {
		return config.File{}, "", err
	}
	if path != "" {
		cfg, err := config.Load(path)
		return cfg, path, err
	}
	wd, err := os.Getwd()
	if err != nil {
		return config.File{}, "", err
	}
	return config.Discover(wd)
}

// useColor resolves --color against the terminal state of f and keeps
// fatih/color in sync with the answer.
func useColor(cmd *cobra.Command, f *os.File) (bool, error) {
	mode, err := cmd.Root().PersistentFlags().GetString("color")
	if err != nil {
		return false, err
	}
	var on bool
	switch mode {
	case "on":
		on = true
	case "off":
		on = false
	case "auto":
		on = isTerminal(f)
	default:
		return false, fmt.Errorf("invalid color mode %q (expected auto|on|off)", mode)
	}
	color.NoColor = !on
	return on, nil
}

func quiet(cmd *cobra.Command) bool {
	q, err := cmd.Root().PersistentFlags().GetBool("quiet")
	return err == nil && q
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if quiet(cmd) {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// progressSink prints one line per finished build stage.
func progressSink(cmd *cobra.Command) buildpipeline.ProgressSink {
	if quiet(cmd) {
		return nil
	}
	out := cmd.ErrOrStderr()
	return buildpipeline.SinkFunc(func(evt buildpipeline.Event) {
		switch evt.Status {
		case buildpipeline.StatusDone:
			fmt.Fprintf(out, "%s %-9s %s %s\n", color.GreenString("ok"), evt.Stage, evt.Name, evt.Elapsed.Round(time.Millisecond))
		case buildpipeline.StatusError:
			fmt.Fprintf(out, "%s %-9s %s\n", color.RedString("failed"), evt.Stage, evt.Name)
		}
	})
}

// openContext creates a full context for commands that compile or load code.
func openContext(cmd *cobra.Command) (*rsbridge.Context, func(), error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	tracer, cleanup, err := setupTracing(cmd, cfg.Trace)
	if err != nil {
		return nil, nil, err
	}
	c, err := rsbridge.New(rsbridge.Options{
		Config: &cfg,
		Sink:   progressSink(cmd),
		Tracer: tracer,
		Logger: newLogger(cmd),
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return c, func() {
		if err := c.Close(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "close: %v\n", err)
		}
		cleanup()
	}, nil
}

// openStore opens only the artifact cache; maintenance commands do not need
// a native backend.
func openStore(cmd *cobra.Command) (*cache.Store, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	root, err := cfg.CacheRoot()
	if err != nil {
		return nil, err
	}
	return cache.Open(root, cache.Options{
		VerifyChecksum: cfg.Cache.VerifyChecksum,
		StrictChecksum: cfg.Cache.StrictChecksum,
		Logger:         newLogger(cmd),
	})
}
