package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/caevv/runlog/internal/config"
	"github.com/caevv/runlog/internal/logging"
	"github.com/caevv/runlog/internal/recorder"
	"github.com/caevv/runlog/internal/store"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags at build time)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"

	// Global logger
	logger *slog.Logger
)

func main() {
	logger = logging.New("info")
	slog.SetDefault(logger)

	os.Exit(execute(rootCmd))
}

// execute runs cmd and maps its error to a process exit code. A command that
// exited non-zero under `runlog exec` passes its code through.
func execute(cmd *cobra.Command) int {
	err := cmd.Execute()
	if err == nil {
		return 0
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	args := []any{"error", err}
	if hints := errors.GetAllHints(err); len(hints) > 0 {
		args = append(args, "hint", hints[0])
	}
	logger.Error("command failed", args...)
	return 1
}

var rootCmd = &cobra.Command{
	Use:   "runlog",
	Short: "Record automation runs to a database",
	Long: `runlog records each run of an automation: who ran it, where, for how
long, what it produced and whether it succeeded.

Features:
  - One record per run, written when the run ends
  - Automation identity from flags, automation.config or AUTOMATION_ID
  - Postgres, bbolt, JSONL and MinIO sinks, alone or fanned out
  - Cron-style scheduling of configured automations
  - Graceful shutdown with signal handling`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("runlog-config", "runlog.yaml", "Path to the runlog configuration file")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			logger = logging.New("debug")
			slog.SetDefault(logger)
			logger.Debug("debug logging enabled")
		}
	}

	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(initCmd)
}

// loadConfig reads the tool config named by --runlog-config and switches the
// global logger to its logging section. --debug wins over the configured
// level. The returned closer releases a file-backed log output.
func loadConfig(cmd *cobra.Command) (*config.Config, io.Closer, error) {
	path, _ := cmd.Flags().GetString("runlog-config")

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load config")
	}

	level := cfg.Logging.Level
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		level = "debug"
	}
	l, closer, err := logging.NewFromConfig(cfg.Logging.Format, level, cfg.Logging.Output)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to initialize logger")
	}
	logger = l
	slog.SetDefault(l)

	logger.Debug("configuration loaded",
		"path", path,
		"sink_driver", cfg.Sink.Driver,
		"automations", len(cfg.Automations))
	return cfg, closer, nil
}

// openSink opens the configured sink. A sink that cannot be opened is logged
// and replaced by none: the work still runs, it just is not recorded.
func openSink(ctx context.Context, cfg config.Sink) (recorder.Sink, func()) {
	st, err := store.New(ctx, cfg)
	if err != nil {
		logger.Error("failed to open sink; runs will not be recorded",
			"driver", cfg.Driver,
			"error", err)
		return nil, func() {}
	}
	logger.Debug("sink opened", "driver", cfg.Driver)
	return st, func() {
		if err := st.Close(); err != nil {
			logger.Error("failed to close sink", "error", err)
		}
	}
}

// setupSignalHandler creates a context that cancels on SIGINT or SIGTERM.
func setupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()

		// A second signal forces exit.
		sig = <-sigChan
		logger.Warn("received second signal, forcing exit", "signal", sig.String())
		os.Exit(1)
	}()

	return ctx
}
