package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/kballard/go-shellquote"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// DefaultAutomationConfigPath is the automation config read when none is
// given.
const DefaultAutomationConfigPath = "automation.config"

// Keys recognized in an automation config file.
const (
	KeyAutomationID = "automation_id"
	KeySchemaName   = "schema_name"
	KeyTableName    = "table_name"
	KeyPathMode     = "path_mode"
)

// AutomationSource loads the persisted defaults of an automation.
type AutomationSource interface {
	// Load returns the settings stored at path. A missing file yields an
	// empty map and no error.
	Load(path string) (map[string]any, error)
}

// FileSource reads automation configs from disk. Files ending in .yaml or
// .yml are parsed as YAML; anything else is JSON, where comments and
// trailing commas are tolerated.
type FileSource struct{}

// Load implements AutomationSource.
func (FileSource) Load(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]any{}, nil
		}
		return nil, errors.Wrapf(err, "read automation config %s", path)
	}

	out, err := ParseAutomation(path, data)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return out, nil
}

// ParseAutomation decodes an automation config. The file extension of name
// selects the format.
func ParseAutomation(name string, data []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(bytes.TrimSpace(data)) == 0 {
		return out, nil
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &out); err != nil {
			return nil, errors.Wrap(err, "parse yaml")
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.UseNumber()
		if err := dec.Decode(&out); err != nil {
			return nil, errors.Wrap(err, "parse json")
		}
	}

	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// MapSource is an in-memory AutomationSource keyed by path.
type MapSource map[string]map[string]any

// Load implements AutomationSource.
func (m MapSource) Load(path string) (map[string]any, error) {
	cfg, ok := m[path]
	if !ok {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		out[k] = v
	}
	return out, nil
}

// Argv splits the automation's command line into arguments.
func (a Automation) Argv() ([]string, error) {
	args, err := shellquote.Split(a.Command)
	if err != nil {
		return nil, errors.Wrapf(err, "split command %q", a.Command)
	}
	if len(args) == 0 {
		return nil, errors.New("empty command")
	}
	return args, nil
}
