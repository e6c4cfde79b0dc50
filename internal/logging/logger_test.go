package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output %q: %v", buf.String(), err)
	}
	return entry
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{" warn ", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewWithWriter_Levels(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		logFunc   func(*slog.Logger)
		shouldLog bool
	}{
		{"debug level logs debug", "debug", func(l *slog.Logger) { l.Debug("run started") }, true},
		{"info level skips debug", "info", func(l *slog.Logger) { l.Debug("run started") }, false},
		{"warn level skips info", "warn", func(l *slog.Logger) { l.Info("run finished") }, false},
		{"error level logs errors", "error", func(l *slog.Logger) { l.Error("persist failed") }, true},
		{"invalid level defaults to info", "loud", func(l *slog.Logger) { l.Info("run finished") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.logFunc(NewWithWriter(&buf, tt.level))

			if tt.shouldLog && buf.Len() == 0 {
				t.Error("expected log output, got none")
			}
			if !tt.shouldLog && buf.Len() != 0 {
				t.Errorf("expected no log output, got: %s", buf.String())
			}
		})
	}
}

func TestSecretRedaction(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		want  string
	}{
		{"token suffix", "API_TOKEN", "secret123", Redacted},
		{"lowercase token", "api_token", "secret123", Redacted},
		{"secret suffix", "DB_SECRET", "secret123", Redacted},
		{"password anywhere", "password_hash", "secret123", Redacted},
		{"access key", "access_key", "AKIA123", Redacted},
		{"dotted secret key", "sink.minio.secret_key", "s3cr3t", Redacted},
		{"env secret key", "MINIO_SECRET_KEY", "s3cr3t", Redacted},
		{"dsn password masked", "dsn", "postgres://runlog:hunter2@db:5432/warehouse", "postgres://runlog:xxxxx@db:5432/warehouse"},
		{"dsn without password kept", "sink.postgres.dsn", "postgres://runlog@db/warehouse", "postgres://runlog@db/warehouse"},
		{"keyword dsn redacted", "DATABASE_URL", "host=db user=runlog password=hunter2", Redacted},
		{"automation_id kept", "automation_id", "42", "42"},
		{"run_id kept", "run_id", "a1b2", "a1b2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			NewWithWriter(&buf, "info").Info("test", tt.key, tt.value)

			entry := decodeEntry(t, &buf)
			got, ok := entry[tt.key]
			if !ok {
				t.Fatalf("expected field %s in log output", tt.key)
			}
			if got != tt.want {
				t.Errorf("%s = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestRedactDSN(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"postgres://u:p@h/db?sslmode=disable", "postgres://u:xxxxx@h/db?sslmode=disable"},
		{"postgres://h/db", "postgres://h/db"},
		{"", ""},
		{"host=h password=p", Redacted},
	}
	for _, tt := range tests {
		if got := RedactDSN(tt.in); got != tt.want {
			t.Errorf("RedactDSN(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithContext(context.Background(), NewWithWriter(&buf, "info"))

	FromContext(ctx, Discard()).Info("from context")
	if !strings.Contains(buf.String(), "from context") {
		t.Error("expected message in log output")
	}
}

func TestFromContextFallback(t *testing.T) {
	fallback := Discard()
	if got := FromContext(context.Background(), fallback); got != fallback {
		t.Error("expected the fallback logger")
	}
	if got := FromContext(context.Background(), nil); got != slog.Default() {
		t.Error("expected slog.Default with no fallback")
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := WithFields(NewWithWriter(&buf, "info"), map[string]any{
		"automation_id": 42,
		"run_id":        "run-123",
	})
	logger.Info("run finished")

	entry := decodeEntry(t, &buf)
	if entry["automation_id"] != float64(42) {
		t.Errorf("automation_id = %v, want 42", entry["automation_id"])
	}
	if entry["run_id"] != "run-123" {
		t.Errorf("run_id = %v, want run-123", entry["run_id"])
	}
}

func TestNewFromConfig(t *testing.T) {
	t.Run("text format to file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "runlog.log")
		logger, closer, err := NewFromConfig("text", "debug", path)
		if err != nil {
			t.Fatalf("NewFromConfig() error = %v", err)
		}
		logger.Debug("hello", "automation_id", 7)
		if err := closer.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("ReadFile() error = %v", err)
		}
		if !strings.Contains(string(data), "msg=hello") || !strings.Contains(string(data), "automation_id=7") {
			t.Errorf("unexpected text output: %s", data)
		}
	})

	t.Run("discard", func(t *testing.T) {
		logger, closer, err := NewFromConfig("json", "info", "discard")
		if err != nil {
			t.Fatalf("NewFromConfig() error = %v", err)
		}
		logger.Info("dropped")
		if err := closer.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})

	t.Run("unwritable path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "missing", "dir", "runlog.log")
		if _, _, err := NewFromConfig("json", "info", path); err == nil {
			t.Error("expected error for unwritable path")
		}
	})
}
