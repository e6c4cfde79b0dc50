// Package record defines the run record persisted for every automation run.
package record

import (
	"time"
)

// Default identity values used when neither the caller nor the config file
// supply one.
const (
	DefaultSchemaName = "automations"
	DefaultTableName  = "run_log"
)

// Identity names the automation and the table its runs are written to.
type Identity struct {
	// AutomationID identifies the automation. Always positive once resolved.
	AutomationID int64 `json:"automation_id"`

	// SchemaName is the database schema holding the run table.
	SchemaName string `json:"schema_name"`

	// TableName is the run table within SchemaName.
	TableName string `json:"table_name"`
}

// RunRecord is the single record written when a run finishes.
type RunRecord struct {
	// RunID is a unique identifier for this run (UUID).
	RunID string `json:"run_id"`

	Identity

	// RunTime is the UTC time the run was entered.
	RunTime time.Time `json:"run_time"`

	// DurationMS is the elapsed wall-clock time of the run in milliseconds.
	DurationMS int64 `json:"duration_ms"`

	// Context describes where and how the run executed.
	Context map[string]any `json:"context"`

	// Output is the free-form payload produced by the monitored work.
	Output map[string]any `json:"output"`

	// Flags holds the non-fatal markers raised during the run.
	Flags Flags `json:"flags"`

	// Success is false when the run was marked failed or the work failed.
	Success bool `json:"success"`
}
