// Package cmd implements the attackmap command line subcommands.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/caseforge/attackmap"
	"github.com/caseforge/attackmap/attackconf"
	"github.com/caseforge/attackmap/observe"
)

// engineFlags holds the flags shared by every subcommand that runs an
// engine. Results go to stdout; logs and spans go to stderr.
type engineFlags struct {
	configPath string
	verbose    bool
	trace      bool
}

func (f *engineFlags) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.configPath, "config", "",
		"path to attackmap.yaml (default: search upward from the working directory)")
	cmd.PersistentFlags().BoolVar(&f.verbose, "verbose", false, "enable debug logging")
	cmd.PersistentFlags().BoolVar(&f.trace, "trace", false, "log completed engine spans")
}

// newEngine builds an engine from the flags. The returned cleanup closes
// the engine and flushes the tracer; call it before exiting.
func (f *engineFlags) newEngine() (*attackmap.Engine, func(), error) {
	level := slog.LevelWarn
	if f.trace {
		level = slog.LevelInfo
	}
	if f.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts := []attackmap.EngineOption{attackmap.WithLogger(logger)}

	if f.configPath != "" {
		conf, err := attackconf.Load(f.configPath)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, attackmap.FromConfig(conf))
	} else if conf, err := attackconf.LoadFromDir("."); err == nil {
		opts = append(opts, attackmap.FromConfig(conf))
	} else {
		logger.Debug("no configuration file found, using defaults", "error", err)
	}

	var tp *sdktrace.TracerProvider
	if f.trace {
		tp = observe.NewTracerProvider(logger)
		opts = append(opts, attackmap.WithTracer(observe.NewTracer(tp)))
	}

	engine, err := attackmap.New(opts...)
	if err != nil {
		if tp != nil {
			_ = tp.Shutdown(context.Background())
		}
		return nil, nil, err
	}

	cleanup := func() {
		attackmap.CloseWithLog(engine, logger, "engine")
		if tp != nil {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Warn("failed to shut down tracer provider", "error", err)
			}
		}
	}
	return engine, cleanup, nil
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Printf("%s\n", b)
}
