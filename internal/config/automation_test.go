package config

import (
	"encoding/json"
	"path/filepath"
	"testing"
)

func TestFileSource_Load(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		content  string
		wantErr  bool
		validate func(*testing.T, map[string]any)
	}{
		{
			name: "json",
			file: "automation.config",
			content: `{
  "automation_id": 42,
  "schema_name": "ops",
  "table_name": "runs",
  "path_mode": "cwd"
}`,
			validate: func(t *testing.T, m map[string]any) {
				id, ok := m[KeyAutomationID].(json.Number)
				if !ok || id.String() != "42" {
					t.Errorf("automation_id = %#v, want json.Number 42", m[KeyAutomationID])
				}
				if m[KeySchemaName] != "ops" || m[KeyTableName] != "runs" || m[KeyPathMode] != "cwd" {
					t.Errorf("unexpected values: %v", m)
				}
			},
		},
		{
			name: "json with comments and trailing comma",
			file: "automation.config",
			content: `{
  // owned by the data team
  "automation_id": 7, /* prod */
  "table_name": "nightly",
}`,
			validate: func(t *testing.T, m map[string]any) {
				if m[KeyTableName] != "nightly" {
					t.Errorf("table_name = %v, want nightly", m[KeyTableName])
				}
			},
		},
		{
			name:    "yaml",
			file:    "automation.yaml",
			content: "automation_id: 9\nschema_name: etl\n",
			validate: func(t *testing.T, m map[string]any) {
				if m[KeyAutomationID] != 9 {
					t.Errorf("automation_id = %#v, want 9", m[KeyAutomationID])
				}
				if m[KeySchemaName] != "etl" {
					t.Errorf("schema_name = %v, want etl", m[KeySchemaName])
				}
			},
		},
		{
			name:    "empty file",
			file:    "automation.config",
			content: "  \n",
			validate: func(t *testing.T, m map[string]any) {
				if len(m) != 0 {
					t.Errorf("expected empty map, got %v", m)
				}
			},
		},
		{
			name:    "malformed json",
			file:    "automation.config",
			content: `{"automation_id": }`,
			wantErr: true,
		},
		{
			name:    "json array",
			file:    "automation.config",
			content: `[1, 2]`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.content)
			got, err := FileSource{}.Load(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.validate != nil {
				tt.validate(t, got)
			}
		})
	}
}

func TestFileSource_MissingFile(t *testing.T) {
	got, err := FileSource{}.Load(filepath.Join(t.TempDir(), "automation.config"))
	if err != nil {
		t.Fatalf("Load() error = %v, want nil for missing file", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Load() = %v, want empty map", got)
	}
}

func TestMapSource(t *testing.T) {
	src := MapSource{"a.config": {KeyAutomationID: 1}}

	got, _ := src.Load("a.config")
	got[KeyAutomationID] = 2
	again, _ := src.Load("a.config")
	if again[KeyAutomationID] != 1 {
		t.Error("MapSource.Load() returned shared map")
	}

	missing, err := src.Load("b.config")
	if err != nil || len(missing) != 0 {
		t.Errorf("Load(missing) = %v, %v; want empty map", missing, err)
	}
}
