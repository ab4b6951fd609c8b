// Package logger provides the structured logging facade used across the
// engine. It wraps charmbracelet/log so every component logs through the
// same Logger interface and can be carried on a context.Context.
package logger

import (
	"context"
	"io"
	"os"
	"testing"

	charmlog "github.com/charmbracelet/log"
)

// LogLevel is a string-typed logging level, kept distinct from charmlog's
// integer levels so configuration (env vars, flags, YAML) stays readable.
type LogLevel string

const (
	DebugLevel    LogLevel = "debug"
	InfoLevel     LogLevel = "info"
	WarnLevel     LogLevel = "warn"
	ErrorLevel    LogLevel = "error"
	DisabledLevel LogLevel = "disabled"
)

// ToCharmlogLevel converts a LogLevel to the equivalent charmbracelet/log
// level. Unknown levels default to InfoLevel.
func (l LogLevel) ToCharmlogLevel() charmlog.Level {
	switch l {
	case DebugLevel:
		return charmlog.DebugLevel
	case InfoLevel:
		return charmlog.InfoLevel
	case WarnLevel:
		return charmlog.WarnLevel
	case ErrorLevel:
		return charmlog.ErrorLevel
	case DisabledLevel:
		// charmlog has no explicit "disabled" level; push the threshold
		// above ErrorLevel so nothing is ever emitted.
		return charmlog.Level(1000)
	default:
		return charmlog.InfoLevel
	}
}

// Config configures a Logger instance.
type Config struct {
	Level      LogLevel
	Output     io.Writer
	JSON       bool
	AddSource  bool
	TimeFormat string
}

// DefaultConfig returns the configuration used outside of tests: info level,
// text formatting, writing to stdout.
func DefaultConfig() *Config {
	return &Config{
		Level:      InfoLevel,
		Output:     os.Stdout,
		JSON:       false,
		AddSource:  false,
		TimeFormat: "15:04:05",
	}
}

// TestConfig returns a configuration suitable for unit tests: logging is
// disabled and output is discarded.
func TestConfig() *Config {
	return &Config{
		Level:      DisabledLevel,
		Output:     io.Discard,
		JSON:       false,
		AddSource:  false,
		TimeFormat: "15:04:05",
	}
}

// IsTestEnvironment reports whether the process is running under `go test`.
func IsTestEnvironment() bool {
	return testing.Testing()
}

// Logger is the structured logging interface used throughout the engine.
// Every component takes a Logger as a constructor argument instead of
// reaching for a package-level singleton.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
	With(keyvals ...any) Logger
}

type charmLogger struct {
	l *charmlog.Logger
}

// NewLogger builds a Logger from the given configuration. A nil config
// resolves to TestConfig() under `go test` and DefaultConfig() otherwise, so
// components that forget to pass a config still behave reasonably.
func NewLogger(cfg *Config) Logger {
	if cfg == nil {
		if IsTestEnvironment() {
			cfg = TestConfig()
		} else {
			cfg = DefaultConfig()
		}
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	opts := charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      cfg.TimeFormat,
		ReportCaller:    cfg.AddSource,
		Formatter:       charmlog.TextFormatter,
	}
	if cfg.JSON {
		opts.Formatter = charmlog.JSONFormatter
	}
	inner := charmlog.NewWithOptions(out, opts)
	inner.SetLevel(cfg.Level.ToCharmlogLevel())
	return &charmLogger{l: inner}
}

func (c *charmLogger) Debug(msg string, keyvals ...any) { c.l.Debug(msg, keyvals...) }
func (c *charmLogger) Info(msg string, keyvals ...any)  { c.l.Info(msg, keyvals...) }
func (c *charmLogger) Warn(msg string, keyvals ...any)  { c.l.Warn(msg, keyvals...) }
func (c *charmLogger) Error(msg string, keyvals ...any) { c.l.Error(msg, keyvals...) }

func (c *charmLogger) With(keyvals ...any) Logger {
	return &charmLogger{l: c.l.With(keyvals...)}
}

type ctxKey string

// LoggerCtxKey is the context.Context key a Logger is stored under.
const LoggerCtxKey ctxKey = "taskengine_logger"

var defaultLogger = NewLogger(nil)

// ContextWithLogger returns a copy of ctx carrying the given Logger.
func ContextWithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, LoggerCtxKey, l)
}

// FromContext retrieves the Logger stored on ctx, falling back to a
// process-wide default (test-silenced under `go test`) when absent, of the
// wrong type, or nil.
func FromContext(ctx context.Context) Logger {
	if ctx == nil {
		return defaultLogger
	}
	v := ctx.Value(LoggerCtxKey)
	l, ok := v.(Logger)
	if !ok || l == nil {
		return defaultLogger
	}
	return l
}
