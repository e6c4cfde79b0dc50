package main

import (
	"context"
	"time"

	"github.com/caevv/runlog/internal/recorder"
	"github.com/caevv/runlog/internal/scheduler"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run configured automations on their schedules",
	Long: `Start the scheduler for every automation in the runlog configuration.

Each firing runs the automation's command under its own recorder, exactly
as "runlog exec" would. The scheduler runs until interrupted by SIGINT or
SIGTERM, then waits for in-flight runs to be recorded. Automations without
a schedule only run with --once. A summary per automation is logged on exit.

Example:
  runlog schedule --runlog-config ./runlog.yaml
  runlog schedule --once`,
	Args: cobra.NoArgs,
	RunE: runSchedule,
}

func init() {
	scheduleCmd.Flags().Bool("once", false, "Run every automation once, now, and exit")
	scheduleCmd.Flags().Duration("shutdown-timeout", 30*time.Second, "How long to wait for in-flight runs on shutdown")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, closer, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	once, _ := cmd.Flags().GetBool("once")
	shutdownTimeout, _ := cmd.Flags().GetDuration("shutdown-timeout")

	if len(cfg.Automations) == 0 {
		return errors.WithHint(
			errors.New("no automations configured"),
			"add an automations: section to the runlog configuration")
	}

	ctx := setupSignalHandler()
	sink, closeSink := openSink(ctx, cfg.Sink)
	defer closeSink()

	runner := NewRunner(recorder.NewBuilder(sink, logger), logger, nil, nil)

	sched := scheduler.New(ctx, logger)
	for i := range cfg.Automations {
		if err := sched.AddAutomation(&cfg.Automations[i], runner); err != nil {
			return err
		}
	}
	defer logStats(sched)

	if once {
		return runOnce(sched)
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sched.Start()
		<-gCtx.Done()
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down gracefully...")

		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return sched.Stop(stopCtx)
	})

	logger.Info("scheduler started", "automations", sched.Names())

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("runlog stopped")
	return nil
}

// runOnce runs every automation concurrently, once. The first failure is
// returned after all runs have finished and been recorded.
func runOnce(sched *scheduler.Scheduler) error {
	var g errgroup.Group
	for _, name := range sched.Names() {
		g.Go(func() error {
			if err := sched.RunNow(name); err != nil {
				return errors.Wrapf(err, "automation %s", name)
			}
			return nil
		})
	}
	return g.Wait()
}

// logStats logs a summary line per automation.
func logStats(sched *scheduler.Scheduler) {
	for _, name := range sched.Names() {
		st, ok := sched.Stats(name)
		if !ok {
			continue
		}
		args := []any{
			"automation", st.Name,
			"runs", st.RunCount,
			"failures", st.FailureCount,
		}
		if !st.LastRun.IsZero() {
			args = append(args, "last_run", st.LastRun)
		}
		if st.LastError != "" {
			args = append(args, "last_error", st.LastError)
		}
		logger.Info("automation summary", args...)
	}
}
