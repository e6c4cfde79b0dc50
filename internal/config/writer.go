package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// WriteAutomation writes an automation config file. The extension of path
// selects YAML or JSON, matching what FileSource reads back. Unknown keys are
// rejected and an existing file is only replaced when overwrite is set.
//
// It performs an atomic write by writing to a temporary file first,
// then renaming it to the target path.
func WriteAutomation(path string, values map[string]any, overwrite bool) error {
	for k := range values {
		switch k {
		case KeyAutomationID, KeySchemaName, KeyTableName, KeyPathMode:
		default:
			return errors.Newf("unknown automation config key %q", k)
		}
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return errors.WithHint(
				errors.Newf("automation config %s already exists", path),
				"pass --force to overwrite it")
		}
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(values)
	default:
		data, err = json.MarshalIndent(values, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return errors.Wrap(err, "failed to marshal automation config")
	}

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory %s", dir)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write temp file")
	}

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return errors.Wrap(err, "failed to rename temp file")
	}

	return nil
}
