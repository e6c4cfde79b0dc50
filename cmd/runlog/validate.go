package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/caevv/runlog/internal/config"
	"github.com/caevv/runlog/internal/recorder"
	"github.com/caevv/runlog/internal/scheduler"
	"github.com/caevv/runlog/internal/store"
	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the runlog configuration",
	Long: `Validate the runlog configuration without running anything.

For every configured automation this checks the schedule, prints its next
runs, and resolves the identity and context a run would be recorded with.
Nothing is written to the sink.

Example:
  runlog validate --runlog-config ./runlog.yaml
  runlog validate --check-sink`,
	Args: cobra.NoArgs,
	RunE: validateConfig,
}

func init() {
	validateCmd.Flags().Int("next", 3, "Number of upcoming runs to show per automation")
	validateCmd.Flags().Bool("check-sink", false, "Also open the sink to check connectivity")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, closer, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	next, _ := cmd.Flags().GetInt("next")
	checkSink, _ := cmd.Flags().GetBool("check-sink")
	out := cmd.OutOrStdout()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	path, _ := cmd.Flags().GetString("runlog-config")
	fmt.Fprintf(out, "Configuration: %s\n", path)
	fmt.Fprintf(out, "  Sink: %s\n", sinkSummary(cfg.Sink))
	if err := cfg.Sink.Validate(); err != nil {
		return errors.Wrap(err, "invalid sink configuration")
	}

	if checkSink {
		st, err := store.New(ctx, cfg.Sink)
		if err != nil {
			return errors.Wrap(err, "sink check failed")
		}
		if err := st.Close(); err != nil {
			logger.Warn("failed to close sink", "error", err)
		}
		fmt.Fprintf(out, "  Sink check: ok\n")
	}

	fmt.Fprintf(out, "  Automations: %d\n", len(cfg.Automations))

	// A builder with no sink: recorders are inspected, never run.
	builder := recorder.NewBuilder(nil, logger)
	now := time.Now()

	var failed []string
	for i := range cfg.Automations {
		a := &cfg.Automations[i]
		if err := describeAutomation(ctx, out, builder, a, now, next); err != nil {
			logger.Error("automation is invalid", "automation", a.Name, "error", err)
			fmt.Fprintf(out, "  ✗ %v\n", err)
			failed = append(failed, a.Name)
		}
	}

	if len(failed) > 0 {
		return errors.Newf("validation failed for %d automation(s): %v", len(failed), failed)
	}
	fmt.Fprintf(out, "\n✓ Configuration is valid\n")
	return nil
}

func describeAutomation(ctx context.Context, out io.Writer, builder *recorder.Builder, a *config.Automation, now time.Time, next int) error {
	fmt.Fprintf(out, "\n%s\n", a.Name)
	fmt.Fprintf(out, "  command:  %s\n", a.Command)
	fmt.Fprintf(out, "  workdir:  %s\n", a.Workdir)
	fmt.Fprintf(out, "  timeout:  %s\n", time.Duration(a.TimeoutSec)*time.Second)

	if a.Schedule == "" {
		fmt.Fprintf(out, "  schedule: (none; runs only with exec or schedule --once)\n")
	} else {
		runs, err := scheduler.NextRuns(a.Schedule, now, next)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  schedule: %s\n", a.Schedule)
		for _, t := range runs {
			fmt.Fprintf(out, "    next: %s (%s)\n", t.Format(time.RFC3339), humanize.RelTime(t, now, "ago", "from now"))
		}
	}

	inv, err := automationInvocation(a)
	if err != nil {
		return err
	}
	rec, err := runBuilder(builder, inv.Workdir).Build(ctx, inv.Options)
	if err != nil {
		return errors.Wrapf(err, "automation %s", a.Name)
	}
	id := rec.Identity()
	fmt.Fprintf(out, "  identity: automation_id=%d table=%s.%s\n", id.AutomationID, id.SchemaName, id.TableName)

	runContext, err := json.MarshalIndent(rec.Context(), "  ", "  ")
	if err != nil {
		return errors.Wrap(err, "render context")
	}
	fmt.Fprintf(out, "  context:  %s\n", runContext)
	return nil
}

func sinkSummary(s config.Sink) string {
	switch s.Driver {
	case "postgres":
		return "postgres"
	case "bbolt":
		return fmt.Sprintf("bbolt (%s)", s.Bolt.Path)
	case "jsonl":
		return fmt.Sprintf("jsonl (%s)", s.JSONL.Path)
	case "minio":
		return fmt.Sprintf("minio (%s/%s)", s.MinIO.Endpoint, s.MinIO.Bucket)
	case "multi":
		return fmt.Sprintf("multi %v", s.Drivers)
	default:
		return s.Driver
	}
}
