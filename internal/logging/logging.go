// Package logging provides structured, leveled logging for adimport.
//
// All packages log through the Logger interface so they stay decoupled from
// the backend. The canonical implementation wraps logrus; tests use Discard.
// Fields are plain map[string]any and pass through SanitizeFields before
// leaving the process, so credentials never reach the log sink.
package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger is the logging interface consumed by all adimport packages.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
	Trace(msg string, fields map[string]any)
}

// LogrusLogger adapts a logrus entry to the Logger interface. Each instance
// carries a subsystem field so records from different layers are separable.
type LogrusLogger struct {
	entry *logrus.Entry
}

// New returns a Logger scoped to the given subsystem.
func New(base *logrus.Logger, subsystem string) *LogrusLogger {
	return &LogrusLogger{
		entry: base.WithField("subsystem", subsystem),
	}
}

// WithFields returns a derived logger carrying additional constant fields.
func (l *LogrusLogger) WithFields(fields map[string]any) *LogrusLogger {
	return &LogrusLogger{
		entry: l.entry.WithFields(logrus.Fields(SanitizeFields(fields))),
	}
}

func (l *LogrusLogger) Debug(msg string, fields map[string]any) {
	l.entry.WithFields(logrus.Fields(SanitizeFields(fields))).Debug(msg)
}

func (l *LogrusLogger) Info(msg string, fields map[string]any) {
	l.entry.WithFields(logrus.Fields(SanitizeFields(fields))).Info(msg)
}

func (l *LogrusLogger) Warn(msg string, fields map[string]any) {
	l.entry.WithFields(logrus.Fields(SanitizeFields(fields))).Warn(msg)
}

func (l *LogrusLogger) Error(msg string, fields map[string]any) {
	l.entry.WithFields(logrus.Fields(SanitizeFields(fields))).Error(msg)
}

func (l *LogrusLogger) Trace(msg string, fields map[string]any) {
	l.entry.WithFields(logrus.Fields(SanitizeFields(fields))).Trace(msg)
}

// Configure builds the process-wide logrus logger from the CLI options.
// Level is one of trace/debug/info/warn/error; format is text or json.
func Configure(level, format string, out io.Writer) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(out)

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger.SetLevel(parsed)

	switch strings.ToLower(format) {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("invalid log format %q: expected text or json", format)
	}

	return logger, nil
}

// Discard returns a Logger that drops everything. Used in tests and as a
// fallback when no logger was injected.
func Discard() *LogrusLogger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return New(base, "discard")
}

// LogOperation runs fn and logs start, outcome and duration around it.
func LogOperation(log Logger, operation string, fields map[string]any, fn func() error) error {
	start := time.Now()

	if fields == nil {
		fields = make(map[string]any)
	}
	fields["operation"] = operation

	log.Debug("Starting operation", fields)

	err := fn()

	fields["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		fields["error"] = err.Error()
		log.Error("Operation failed", fields)
	} else {
		log.Debug("Operation completed successfully", fields)
	}

	return err
}

// SanitizeFields removes sensitive information from log fields.
func SanitizeFields(fields map[string]any) map[string]any {
	sanitized := make(map[string]any, len(fields))

	sensitiveKeys := map[string]bool{
		"password":    true,
		"passwd":      true,
		"secret":      true,
		"token":       true,
		"key":         true,
		"private_key": true,
		"credential":  true,
		"credentials": true,
	}

	for k, v := range fields {
		if sensitiveKeys[k] {
			sanitized[k] = "[REDACTED]"
			continue
		}
		if str, ok := v.(string); ok && containsSensitivePattern(str) {
			sanitized[k] = "[REDACTED]"
			continue
		}
		sanitized[k] = v
	}

	return sanitized
}

// containsSensitivePattern checks if a string embeds credential-looking pairs.
func containsSensitivePattern(s string) bool {
	patterns := []string{
		"password=",
		"passwd=",
		"secret=",
		"token=",
		"key=",
	}

	lower := strings.ToLower(s)
	for _, pattern := range patterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}

	return false
}
