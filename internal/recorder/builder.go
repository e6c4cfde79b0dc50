// Package recorder records one automation run: it resolves the run's
// identity, accumulates output and flags while the work runs, and writes a
// single record when the run ends.
package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caevv/runlog/internal/config"
	"github.com/caevv/runlog/internal/host"
	"github.com/caevv/runlog/internal/normalize"
	"github.com/caevv/runlog/internal/paths"
	"github.com/caevv/runlog/internal/record"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// EnvAutomationID supplies the automation id when neither the caller nor the
// automation config do. Only plain decimal digits are accepted.
const EnvAutomationID = "AUTOMATION_ID"

// DefaultHostTimeout bounds the host lookups made while building.
const DefaultHostTimeout = 2 * time.Second

// Sink receives the finished run record.
type Sink interface {
	Insert(ctx context.Context, rec *record.RunRecord) error
}

// EntryPointResolver locates the program that started the run.
type EntryPointResolver interface {
	Resolve(explicit string) string
}

// Options are call-site overrides. Zero values mean "not given".
type Options struct {
	// ConfigPath is the automation config to read. Defaults to
	// config.DefaultAutomationConfigPath.
	ConfigPath string

	// AutomationID overrides the configured id when non-zero.
	AutomationID int64

	SchemaName string
	TableName  string

	// PathMode is "cwd" or "script".
	PathMode string

	// Script is an explicit entry point, tried before any other signal.
	Script string
}

// Builder resolves run identity and context and hands out recorders. Every
// collaborator is a field; nil fields fall back to the real implementation.
type Builder struct {
	Config      config.AutomationSource
	Host        host.Provider
	Entry       EntryPointResolver
	LookupEnv   func(key string) (string, bool)
	Getwd       func() string
	Sink        Sink
	Logger      *slog.Logger
	Now         func() time.Time
	NewRunID    func() string
	HostTimeout time.Duration
}

// NewBuilder returns a Builder wired to the real process and the given sink.
func NewBuilder(sink Sink, logger *slog.Logger) *Builder {
	return &Builder{Sink: sink, Logger: logger}
}

func (b *Builder) withDefaults() Builder {
	out := *b
	if out.Config == nil {
		out.Config = config.FileSource{}
	}
	if out.Host == nil {
		out.Host = host.NewSystem()
	}
	if out.Entry == nil {
		out.Entry = paths.NewEntryResolver()
	}
	if out.LookupEnv == nil {
		out.LookupEnv = os.LookupEnv
	}
	if out.Getwd == nil {
		out.Getwd = paths.Getwd
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	if out.NewRunID == nil {
		out.NewRunID = uuid.NewString
	}
	if out.HostTimeout <= 0 {
		out.HostTimeout = DefaultHostTimeout
	}
	return out
}

// Build resolves the run identity and context and returns a recorder in the
// Created state. Identity problems are returned marked with ErrConfiguration;
// nothing is persisted in that case.
func (b *Builder) Build(ctx context.Context, opts Options) (*Recorder, error) {
	bb := b.withDefaults()

	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = config.DefaultAutomationConfigPath
	}

	values, err := bb.Config.Load(configPath)
	if err != nil {
		return nil, configurationError(errors.Wrap(err, "load automation config"))
	}

	automationID, err := resolveAutomationID(opts.AutomationID, values[config.KeyAutomationID], bb.LookupEnv)
	if err != nil {
		return nil, configurationError(err)
	}

	identity := record.Identity{
		AutomationID: automationID,
		SchemaName:   firstNonEmpty(opts.SchemaName, stringValue(values[config.KeySchemaName]), record.DefaultSchemaName),
		TableName:    firstNonEmpty(opts.TableName, stringValue(values[config.KeyTableName]), record.DefaultTableName),
	}

	entry := bb.Entry.Resolve(opts.Script)
	mode := paths.NormalizeMode(firstNonEmpty(opts.PathMode, stringValue(values[config.KeyPathMode]), paths.ModeScript))
	if mode == paths.ModeScript && entry == "" {
		mode = paths.ModeCWD
	}
	cwd := bb.Getwd()

	runContext := map[string]any{
		"config_path":   configPath,
		"path_mode":     mode,
		"cwd":           cwd,
		"resolved_path": paths.Resolve(mode, entry, cwd),
	}
	if entry != "" {
		runContext["entry_script_path"] = entry
		runContext["entry_script_dir"] = filepath.Dir(entry)
	}

	hostCtx, cancel := context.WithTimeout(ctx, bb.HostTimeout)
	for k, v := range bb.Host.Context(hostCtx) {
		runContext[k] = v
	}
	cancel()

	runID := bb.NewRunID()
	logger := bb.Logger.With(
		"component", "runlog.recorder",
		"automation_id", identity.AutomationID,
		"run_id", runID,
	)
	logger.Debug("recorder built",
		"schema_name", identity.SchemaName,
		"table_name", identity.TableName,
		"path_mode", mode,
		"entry_script_path", entry)

	return &Recorder{
		identity: identity,
		runID:    runID,
		context:  normalize.Map(runContext),
		output:   map[string]any{},
		flags:    record.Flags{},
		success:  true,
		created:  bb.Now(),
		sink:     bb.Sink,
		logger:   logger,
		now:      bb.Now,
	}, nil
}

// resolveAutomationID applies explicit > config > environment. A config value
// that is present but not an integer is an error rather than a fallthrough.
func resolveAutomationID(explicit int64, configured any, lookupEnv func(string) (string, bool)) (int64, error) {
	var (
		id     int64
		source string
	)
	switch {
	case explicit != 0:
		id, source = explicit, "argument"
	case configured != nil:
		v, err := integerValue(configured)
		if err != nil {
			return 0, errors.Wrapf(err, "automation config %s", config.KeyAutomationID)
		}
		id, source = v, "automation config"
	default:
		raw, ok := lookupEnv(EnvAutomationID)
		if !ok || !isDigits(raw) {
			return 0, errors.Newf("automation_id is required (argument, automation config or %s)", EnvAutomationID)
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, errors.Newf("automation_id is required (argument, automation config or %s)", EnvAutomationID)
		}
		id, source = v, EnvAutomationID
	}

	if id <= 0 {
		return 0, errors.Newf("automation_id from %s must be positive, got %d", source, id)
	}
	return id, nil
}

func integerValue(v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return uintValue(uint64(x))
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		return uintValue(x)
	case float32:
		return floatValue(float64(x))
	case float64:
		return floatValue(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return 0, errors.Newf("%q is not an integer", x.String())
		}
		return floatValue(f)
	case string:
		s := strings.TrimSpace(x)
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, errors.Newf("%q is not an integer", x)
		}
		return i, nil
	default:
		return 0, errors.Newf("unsupported type %T", v)
	}
}

func uintValue(u uint64) (int64, error) {
	if u > math.MaxInt64 {
		return 0, errors.Newf("%d overflows int64", u)
	}
	return int64(u), nil
}

func floatValue(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, errors.Newf("%v is not an integer", f)
	}
	return int64(f), nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// stringValue renders a config value. Missing values are "".
func stringValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
