package main

import (
	"fmt"

	"github.com/caevv/runlog/internal/config"
	"github.com/caevv/runlog/internal/paths"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write an automation config file",
	Long: `Write the automation config file that runs started in a directory read.

The file holds the automation id and, optionally, the run table and path
mode. A path ending in .yaml or .yml is written as YAML, anything else as
JSON.

Example:
  runlog init --automation-id 42
  runlog init jobs/export/automation.config --automation-id 7 --table export_runs`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().Int64("automation-id", 0, "Automation id to store (required)")
	initCmd.Flags().String("schema", "", "Schema of the run table")
	initCmd.Flags().String("table", "", "Name of the run table")
	initCmd.Flags().String("path-mode", "", "Path mode: cwd or script")
	initCmd.Flags().BoolP("force", "f", false, "Overwrite an existing file")
	_ = initCmd.MarkFlagRequired("automation-id")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := config.DefaultAutomationConfigPath
	if len(args) == 1 {
		path = args[0]
	}

	flags := cmd.Flags()
	id, _ := flags.GetInt64("automation-id")
	schema, _ := flags.GetString("schema")
	table, _ := flags.GetString("table")
	pathMode, _ := flags.GetString("path-mode")
	force, _ := flags.GetBool("force")

	if id <= 0 {
		return errors.Newf("--automation-id must be positive, got %d", id)
	}

	values := map[string]any{config.KeyAutomationID: id}
	if schema != "" {
		values[config.KeySchemaName] = schema
	}
	if table != "" {
		values[config.KeyTableName] = table
	}
	if pathMode != "" {
		if pathMode != paths.ModeCWD && pathMode != paths.ModeScript {
			return errors.Newf("--path-mode must be %q or %q, got %q", paths.ModeCWD, paths.ModeScript, pathMode)
		}
		values[config.KeyPathMode] = pathMode
	}

	if err := config.WriteAutomation(path, values, force); err != nil {
		return err
	}

	logger.Debug("automation config written", "path", path, "automation_id", id)
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s\n", path)
	return nil
}
