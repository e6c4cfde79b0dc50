package config

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. RUNLOG_SINK_DRIVER.
const EnvPrefix = "RUNLOG"

// SupportedDrivers lists the sink drivers accepted in sink.driver.
var SupportedDrivers = []string{"postgres", "bbolt", "jsonl", "minio", "multi"}

// LoadConfig loads and validates the runlog configuration. A missing file is
// not an error: defaults and RUNLOG_* environment variables still apply.
// The sink section is not validated here; see Sink.Validate.
func LoadConfig(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, errors.Wrapf(err, "failed to read config file %s", path)
			}
		} else if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "stat config file %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// newViper returns a viper instance with defaults and environment binding.
// Every key needs a default so AutomaticEnv can see it during Unmarshal.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("sink.driver", "postgres")
	v.SetDefault("sink.drivers", []string{})
	v.SetDefault("sink.postgres.dsn", "")
	v.SetDefault("sink.postgres.ping_timeout", "2s")
	v.SetDefault("sink.postgres.insert_timeout", "10s")
	v.SetDefault("sink.postgres.max_open_conns", 2)
	v.SetDefault("sink.bbolt.path", "./.runlog.db")
	v.SetDefault("sink.jsonl.path", "./runlog.jsonl")
	v.SetDefault("sink.minio.endpoint", "localhost:9000")
	v.SetDefault("sink.minio.access_key", "")
	v.SetDefault("sink.minio.secret_key", "")
	v.SetDefault("sink.minio.bucket", "runlog")
	v.SetDefault("sink.minio.region", "us-east-1")
	v.SetDefault("sink.minio.use_ssl", false)
	v.SetDefault("sink.minio.timeout", "10s")

	// DATABASE_URL is the conventional fallback for the Postgres DSN.
	_ = v.BindEnv("sink.postgres.dsn", EnvPrefix+"_SINK_POSTGRES_DSN", "DATABASE_URL")

	return v
}

// applyDefaults sets default values for optional automation fields.
func applyDefaults(cfg *Config) {
	cfg.Sink.Driver = strings.ToLower(strings.TrimSpace(cfg.Sink.Driver))

	for i := range cfg.Automations {
		a := &cfg.Automations[i]
		if a.Config == "" {
			a.Config = DefaultAutomationConfigPath
		}
		if a.TimeoutSec == 0 {
			a.TimeoutSec = 600 // 10 minutes default
		}
		if a.Workdir == "" {
			a.Workdir = "."
		}
		if a.Env == nil {
			a.Env = make(map[string]string)
		}
	}
}

// validate checks the automations for errors and inconsistencies.
func validate(cfg *Config) error {
	names := make(map[string]bool)
	for i, a := range cfg.Automations {
		if a.Name == "" {
			return errors.Newf("automation at index %d is missing a name", i)
		}
		if names[a.Name] {
			return errors.Newf("duplicate automation name: %s", a.Name)
		}
		names[a.Name] = true

		if strings.TrimSpace(a.Command) == "" {
			return errors.Newf("automation %s is missing a command", a.Name)
		}
		if _, err := a.Argv(); err != nil {
			return errors.Wrapf(err, "automation %s has invalid command", a.Name)
		}
		if a.TimeoutSec < 0 {
			return errors.Newf("automation %s has negative timeout_sec", a.Name)
		}
		if a.ID < 0 {
			return errors.Newf("automation %s has negative automation_id", a.Name)
		}
	}

	return nil
}

// Validate checks the sink section. It is kept apart from LoadConfig so a
// broken sink only disables recording instead of blocking the work.
func (s Sink) Validate() error {
	driver := strings.ToLower(strings.TrimSpace(s.Driver))
	if err := s.validateDriver(driver); err != nil {
		return err
	}
	if driver != "multi" {
		return nil
	}
	if len(s.Drivers) == 0 {
		return errors.New("sink.drivers must list at least one driver when sink.driver is 'multi'")
	}
	for _, d := range s.Drivers {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "multi" {
			return errors.New("sink.drivers cannot contain 'multi'")
		}
		if err := s.validateDriver(d); err != nil {
			return err
		}
	}
	return nil
}

func (s Sink) validateDriver(driver string) error {
	switch driver {
	case "postgres":
		if strings.TrimSpace(s.Postgres.DSN) == "" {
			return errors.WithHint(
				errors.New("sink.postgres.dsn is required for the postgres driver"),
				"set sink.postgres.dsn, RUNLOG_SINK_POSTGRES_DSN or DATABASE_URL")
		}
		if _, err := s.Postgres.Timeouts(); err != nil {
			return err
		}
	case "bbolt":
		if s.Bolt.Path == "" {
			return errors.New("sink.bbolt.path is required for the bbolt driver")
		}
	case "jsonl":
		if s.JSONL.Path == "" {
			return errors.New("sink.jsonl.path is required for the jsonl driver")
		}
	case "minio":
		if err := s.MinIO.Validate(); err != nil {
			return err
		}
	case "multi":
	default:
		return errors.Newf("invalid sink driver: %s (must be one of %v)", driver, SupportedDrivers)
	}
	return nil
}

// PostgresTimeouts holds the parsed Postgres durations.
type PostgresTimeouts struct {
	Ping   time.Duration
	Insert time.Duration
}

// Timeouts parses the configured durations.
func (p Postgres) Timeouts() (PostgresTimeouts, error) {
	ping, err := parseDuration("sink.postgres.ping_timeout", p.PingTimeout, 2*time.Second)
	if err != nil {
		return PostgresTimeouts{}, err
	}
	insert, err := parseDuration("sink.postgres.insert_timeout", p.InsertTimeout, 10*time.Second)
	if err != nil {
		return PostgresTimeouts{}, err
	}
	return PostgresTimeouts{Ping: ping, Insert: insert}, nil
}

// Validate checks the object store settings.
func (o ObjectStore) Validate() error {
	if strings.TrimSpace(o.Endpoint) == "" {
		return errors.New("sink.minio.endpoint is required")
	}
	if strings.Contains(o.Endpoint, "://") {
		return errors.Newf("sink.minio.endpoint must not include scheme: %q", o.Endpoint)
	}
	if strings.TrimSpace(o.AccessKey) == "" || strings.TrimSpace(o.SecretKey) == "" {
		return errors.New("sink.minio.access_key and sink.minio.secret_key are required")
	}
	if strings.TrimSpace(o.Bucket) == "" {
		return errors.New("sink.minio.bucket is required")
	}
	if _, err := o.PutTimeout(); err != nil {
		return err
	}
	return nil
}

// PutTimeout parses the per-object upload timeout.
func (o ObjectStore) PutTimeout() (time.Duration, error) {
	return parseDuration("sink.minio.timeout", o.Timeout, 10*time.Second)
}

func parseDuration(key, raw string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", key)
	}
	if d <= 0 {
		return 0, errors.Newf("%s must be positive", key)
	}
	return d, nil
}
