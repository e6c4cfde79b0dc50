// Package store persists finished run records.
package store

import (
	"context"
	"encoding/json"

	"github.com/caevv/runlog/internal/record"
	"github.com/cockroachdb/errors"
)

// Store defines the interface for persisting run records. Implementations
// are safe for concurrent use; the scheduler shares one store across
// automations.
type Store interface {
	// Insert persists a single finished run. The record is not modified.
	Insert(ctx context.Context, rec *record.RunRecord) error

	// Close releases any resources held by the store.
	Close() error
}

// validateRecord checks the fields every store relies on.
func validateRecord(rec *record.RunRecord, needRunID bool) error {
	if rec == nil {
		return errors.New("run record is nil")
	}
	if rec.AutomationID <= 0 {
		return errors.Newf("automation_id must be positive, got %d", rec.AutomationID)
	}
	if rec.SchemaName == "" || rec.TableName == "" {
		return errors.New("schema_name and table_name are required")
	}
	if needRunID && rec.RunID == "" {
		return errors.New("run_id is required")
	}
	return nil
}

// jsonObject encodes m as a JSON object, writing {} for a nil map so the
// jsonb columns never hold null.
func jsonObject[M ~map[string]V, V any](m M) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// document is the serialized record used by the file and object stores.
func document(rec *record.RunRecord) ([]byte, error) {
	doc := *rec
	doc.RunTime = rec.RunTime.UTC()
	if doc.Context == nil {
		doc.Context = map[string]any{}
	}
	if doc.Output == nil {
		doc.Output = map[string]any{}
	}
	if doc.Flags == nil {
		doc.Flags = record.Flags{}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "marshal run record")
	}
	return data, nil
}
