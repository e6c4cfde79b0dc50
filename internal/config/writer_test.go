package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteAutomation(t *testing.T) {
	tests := []struct {
		name   string
		file   string
		values map[string]any
		wantID int64
	}{
		{
			name:   "json",
			file:   "automation.config",
			values: map[string]any{KeyAutomationID: 42, KeyTableName: "export_runs"},
			wantID: 42,
		},
		{
			name:   "yaml",
			file:   "automation.yaml",
			values: map[string]any{KeyAutomationID: 7, KeyPathMode: "script"},
			wantID: 7,
		},
		{
			name:   "nested directory",
			file:   filepath.Join("jobs", "export", "automation.config"),
			values: map[string]any{KeyAutomationID: 3},
			wantID: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			if err := WriteAutomation(path, tt.values, false); err != nil {
				t.Fatalf("WriteAutomation() error = %v", err)
			}

			got, err := FileSource{}.Load(path)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if id := toInt64(t, got[KeyAutomationID]); id != tt.wantID {
				t.Errorf("automation_id = %d, want %d", id, tt.wantID)
			}
			for k, v := range tt.values {
				if k == KeyAutomationID {
					continue
				}
				if got[k] != v {
					t.Errorf("%s = %v, want %v", k, got[k], v)
				}
			}
			if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
				t.Error("temp file left behind")
			}
		})
	}
}

func TestWriteAutomationRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "automation.config")
	if err := WriteAutomation(path, map[string]any{KeyAutomationID: 1}, false); err != nil {
		t.Fatalf("WriteAutomation() error = %v", err)
	}

	err := WriteAutomation(path, map[string]any{KeyAutomationID: 2}, false)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("WriteAutomation() error = %v, want already exists", err)
	}

	if err := WriteAutomation(path, map[string]any{KeyAutomationID: 2}, true); err != nil {
		t.Fatalf("WriteAutomation(overwrite) error = %v", err)
	}
	got, _ := FileSource{}.Load(path)
	if id := toInt64(t, got[KeyAutomationID]); id != 2 {
		t.Errorf("automation_id = %d, want 2", id)
	}
}

func TestWriteAutomationUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "automation.config")
	err := WriteAutomation(path, map[string]any{"automation": 1}, false)
	if err == nil || !strings.Contains(err.Error(), "unknown automation config key") {
		t.Fatalf("WriteAutomation() error = %v, want unknown key", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file written despite unknown key")
	}
}

func toInt64(t *testing.T, v any) int64 {
	t.Helper()
	switch x := v.(type) {
	case int:
		return int64(x)
	case int64:
		return x
	case interface{ Int64() (int64, error) }:
		n, err := x.Int64()
		if err != nil {
			t.Fatalf("Int64() error = %v", err)
		}
		return n
	default:
		t.Fatalf("unexpected automation_id type %T", v)
		return 0
	}
}
