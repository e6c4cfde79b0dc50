package config

// Config represents the top-level runlog tool configuration (runlog.yaml).
type Config struct {
	Logging     Logging      `mapstructure:"logging" yaml:"logging"`
	Sink        Sink         `mapstructure:"sink" yaml:"sink"`
	Automations []Automation `mapstructure:"automations" yaml:"automations"`
}

// Logging configures the operational logger.
type Logging struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // json or text
	Output string `mapstructure:"output" yaml:"output"` // stderr, stdout, discard or a file path
}

// Sink selects and configures where run records are written.
type Sink struct {
	Driver   string      `mapstructure:"driver" yaml:"driver"`   // "postgres", "bbolt", "jsonl", "minio" or "multi"
	Drivers  []string    `mapstructure:"drivers" yaml:"drivers"` // fan-out targets when driver is "multi"
	Postgres Postgres    `mapstructure:"postgres" yaml:"postgres"`
	Bolt     FileSink    `mapstructure:"bbolt" yaml:"bbolt"`
	JSONL    FileSink    `mapstructure:"jsonl" yaml:"jsonl"`
	MinIO    ObjectStore `mapstructure:"minio" yaml:"minio"`
}

// Postgres configures the Postgres sink.
type Postgres struct {
	DSN           string `mapstructure:"dsn" yaml:"dsn"`
	PingTimeout   string `mapstructure:"ping_timeout" yaml:"ping_timeout"`
	InsertTimeout string `mapstructure:"insert_timeout" yaml:"insert_timeout"`
	MaxOpenConns  int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
}

// FileSink configures a sink backed by a local file.
type FileSink struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// ObjectStore configures the MinIO/S3 sink.
type ObjectStore struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Region    string `mapstructure:"region" yaml:"region"`
	UseSSL    bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
	Timeout   string `mapstructure:"timeout" yaml:"timeout"`
}

// Automation is a command runlog runs and records, optionally on a schedule.
type Automation struct {
	Name       string            `mapstructure:"name" yaml:"name"`                   // unique name, used in logs
	Schedule   string            `mapstructure:"schedule" yaml:"schedule"`           // cron expression or interval; required by `schedule`
	Command    string            `mapstructure:"command" yaml:"command"`             // shell-quoted command line
	Config     string            `mapstructure:"config" yaml:"config"`               // automation config file
	ID         int64             `mapstructure:"automation_id" yaml:"automation_id"` // explicit automation_id override
	SchemaName string            `mapstructure:"schema_name" yaml:"schema_name"`
	TableName  string            `mapstructure:"table_name" yaml:"table_name"`
	PathMode   string            `mapstructure:"path_mode" yaml:"path_mode"`
	Script     string            `mapstructure:"script" yaml:"script"`           // explicit entry point
	Workdir    string            `mapstructure:"workdir" yaml:"workdir"`         // working directory for the command
	TimeoutSec int               `mapstructure:"timeout_sec" yaml:"timeout_sec"` // execution timeout
	Env        map[string]string `mapstructure:"env" yaml:"env"`                 // extra environment variables
}
