package main

import (
	"os"

	"github.com/caevv/runlog/internal/config"
	"github.com/caevv/runlog/internal/recorder"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var execCmd = &cobra.Command{
	Use:   "exec [flags] -- <command> [args...]",
	Short: "Run a command and record the run",
	Long: `Run a command as monitored work and write one run record when it ends.

The command's stdout and stderr are passed through to the terminal. The
record's output holds the command line, its exit code, the tail of both
streams and, when the command prints a JSON object, that object as "result".
The child sees RUNLOG_RUN_ID and AUTOMATION_ID in its environment.

runlog exits with the command's exit code.

Example:
  runlog exec --automation-id 42 -- python3 export.py --full
  runlog exec --config ./jobs/export/automation.config -- ./export.sh`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExec,
}

func init() {
	addRecorderFlags(execCmd.Flags())
	execCmd.Flags().StringP("workdir", "C", "", "Working directory for the command")
	execCmd.Flags().Duration("timeout", 0, "Stop the command after this long (0 means no limit)")
}

func addRecorderFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Automation config file (default \"automation.config\")")
	fs.Int64("automation-id", 0, "Automation id, overriding the automation config and AUTOMATION_ID")
	fs.String("schema", "", "Schema of the run table")
	fs.String("table", "", "Name of the run table")
	fs.String("path-mode", "", "Path mode recorded in the context: cwd or script")
	fs.String("script", "", "Entry point of the run (default: the command's script)")
}

func runExec(cmd *cobra.Command, args []string) error {
	cfg, closer, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	flags := cmd.Flags()
	workdir, _ := flags.GetString("workdir")
	timeout, _ := flags.GetDuration("timeout")

	opts, err := recorderOptions(flags, args, workdir)
	if err != nil {
		return err
	}

	ctx := setupSignalHandler()
	sink, closeSink := openSink(ctx, cfg.Sink)
	defer closeSink()

	runner := NewRunner(recorder.NewBuilder(sink, logger), logger, os.Stdout, os.Stderr)
	runner.stdin = os.Stdin

	_, err = runner.Exec(ctx, invocation{
		Argv:    args,
		Workdir: workdir,
		Timeout: timeout,
		Options: opts,
	})
	return err
}

// recorderOptions reads the identity flags shared by exec. Relative paths
// are taken relative to workdir.
func recorderOptions(flags *pflag.FlagSet, argv []string, workdir string) (recorder.Options, error) {
	configPath, _ := flags.GetString("config")
	automationID, _ := flags.GetInt64("automation-id")
	schema, _ := flags.GetString("schema")
	table, _ := flags.GetString("table")
	pathMode, _ := flags.GetString("path-mode")
	script, _ := flags.GetString("script")

	if automationID < 0 {
		return recorder.Options{}, errors.Newf("--automation-id must be positive, got %d", automationID)
	}
	if configPath == "" {
		configPath = config.DefaultAutomationConfigPath
	}
	if script == "" {
		script = guessScript(argv, workdir)
	}
	return recorder.Options{
		ConfigPath:   inDir(workdir, configPath),
		AutomationID: automationID,
		SchemaName:   schema,
		TableName:    table,
		PathMode:     pathMode,
		Script:       inDir(workdir, script),
	}, nil
}
