// Package logging builds the slog loggers runlog writes its operational
// messages to. Run records never go through here; they go to a sink.
package logging

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
)

type contextKey string

const loggerContextKey contextKey = "logger"

// Redacted replaces the value of any attribute whose key looks secret.
const Redacted = "***REDACTED***"

// secretPatterns match attribute keys whose values must never be logged.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i).*_TOKEN$`),
	regexp.MustCompile(`(?i).*_SECRET$`),
	regexp.MustCompile(`(?i).*PASSWORD.*`),
	regexp.MustCompile(`(?i)(^|[_.])(access|secret)_?key$`),
}

// dsnPattern matches keys that carry connection strings. Those are logged
// with the password stripped instead of being dropped entirely.
var dsnPattern = regexp.MustCompile(`(?i)(^|[_.])(dsn|database_url)$`)

// ParseLevel maps a level name to a slog.Level. Unknown names are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a JSON logger on stderr with the specified level.
func New(level string) *slog.Logger {
	return NewWithWriter(os.Stderr, level)
}

// NewWithWriter creates a JSON logger writing to w.
func NewWithWriter(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, handlerOptions(level)))
}

// NewFromConfig creates a logger from the logging section of runlog.yaml.
// Format is json or text; output is stderr, stdout, discard or a file path
// opened for append. The returned closer releases the file, if any.
func NewFromConfig(format, level, output string) (*slog.Logger, io.Closer, error) {
	var (
		writer io.Writer
		closer io.Closer = nopCloser{}
	)
	switch output {
	case "", "stderr":
		writer = os.Stderr
	case "stdout":
		writer = os.Stdout
	case "discard", "/dev/null":
		writer = io.Discard
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		writer, closer = f, f
	}

	opts := handlerOptions(level)
	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(writer, opts)
	} else {
		handler = slog.NewJSONHandler(writer, opts)
	}
	return slog.New(handler), closer, nil
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func handlerOptions(level string) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level:       ParseLevel(level),
		ReplaceAttr: redactSecrets,
	}
}

func redactSecrets(_ []string, a slog.Attr) slog.Attr {
	for _, pattern := range secretPatterns {
		if pattern.MatchString(a.Key) {
			return slog.String(a.Key, Redacted)
		}
	}
	if dsnPattern.MatchString(a.Key) {
		return slog.String(a.Key, RedactDSN(a.Value.String()))
	}
	return a
}

// RedactDSN hides the password of a URL-style connection string. Strings
// that do not parse as URLs with user info are returned unchanged unless
// they contain a key/value password, in which case they are fully redacted.
func RedactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
		return u.String()
	}
	if strings.Contains(strings.ToLower(dsn), "password=") {
		return Redacted
	}
	return dsn
}

// WithContext attaches a logger to a context.
func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey, logger)
}

// FromContext retrieves a logger from the context, falling back to
// fallback, or to slog.Default when fallback is nil.
func FromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if logger, ok := ctx.Value(loggerContextKey).(*slog.Logger); ok {
		return logger
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}

// WithFields creates a new logger with additional fields such as
// automation_id or run_id.
func WithFields(logger *slog.Logger, fields map[string]any) *slog.Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return logger.With(args...)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
