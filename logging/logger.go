// Package logging provides a tiny abstraction over slog so the pool, the
// timeline and the inbox sequencer can depend on a minimal interface (Logger)
// while allowing users to plug any structured logger. It also offers a richer
// EveLogger with contextual helpers (component, agent) and domain specific
// helpers for worker failures and pool scans.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"
)

// LogLevel is a thin enum for user friendly level configuration decoupled from slog.
type LogLevel int

const (
	// LogLevelDebug is the debug logging level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the informational logging level.
	LogLevelInfo
	// LogLevelWarn is the warning logging level.
	LogLevelWarn
	// LogLevelError is the error logging level.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a case-sensitive level name (debug, info, warn, error) to a
// LogLevel. Unknown names fall back to LogLevelInfo.
func ParseLevel(s string) LogLevel {
	switch s {
	case "debug", "DEBUG":
		return LogLevelDebug
	case "warn", "WARN", "warning":
		return LogLevelWarn
	case "error", "ERROR":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Logger defines the minimal logging interface used across Eve.
// Arguments follow slog conventions: alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// EveLogger wraps slog.Logger adding contextual cloning helpers and
// domain convenience methods. It should be cheap to copy via With* methods.
type EveLogger struct {
	logger    *slog.Logger
	level     LogLevel
	context   map[string]any
	component string
	agentID   string
}

// LoggerConfig configures construction of an EveLogger.
type LoggerConfig struct {
	Level       LogLevel
	Format      string // json or text
	Output      io.Writer
	AddSource   bool
	Component   string
	AgentID     string
	CustomAttrs map[string]any
}

// DefaultLoggerConfig returns a baseline JSON info level configuration.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: "json", Output: os.Stdout, CustomAttrs: map[string]any{}}
}

// NewLogger builds an EveLogger from a config (or defaults if nil).
func NewLogger(cfg *LoggerConfig) *EveLogger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Level), AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}
	ctx := make(map[string]any, len(cfg.CustomAttrs))
	for k, v := range cfg.CustomAttrs {
		ctx[k] = v
	}
	return &EveLogger{logger: slog.New(handler), level: cfg.Level, context: ctx, component: cfg.Component, agentID: cfg.AgentID}
}

// NewSlogLogger creates a new EveLogger with the specified level and format.
func NewSlogLogger(level LogLevel, format string, addSource bool) *EveLogger {
	cfg := DefaultLoggerConfig()
	cfg.Level = level
	if format != "" {
		cfg.Format = format
	}
	cfg.AddSource = addSource
	return NewLogger(cfg)
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *EveLogger) clone() *EveLogger {
	nl := *l
	nl.context = make(map[string]any, len(l.context))
	for k, v := range l.context {
		nl.context[k] = v
	}
	return &nl
}

// WithContext adds a key/value attribute that will be attached to every log entry.
func (l *EveLogger) WithContext(key string, value any) *EveLogger {
	nl := l.clone()
	nl.context[key] = value
	return nl
}

// WithComponent sets the logical component (runqueue, timeline, inbox, ...).
func (l *EveLogger) WithComponent(c string) *EveLogger {
	nl := l.clone()
	nl.component = c
	return nl
}

// WithAgent attaches the owning agent id.
func (l *EveLogger) WithAgent(id string) *EveLogger {
	nl := l.clone()
	nl.agentID = id
	return nl
}

func (l *EveLogger) buildAttrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, len(l.context)+2)
	if l.component != "" {
		attrs = append(attrs, slog.String("component", l.component))
	}
	if l.agentID != "" {
		attrs = append(attrs, slog.String("agent_id", l.agentID))
	}
	for k, v := range l.context {
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}

func (l *EveLogger) log(level slog.Level, allowed bool, msg string, args ...any) {
	if !allowed {
		return
	}
	attrs := l.buildAttrs()
	for i := 0; i < len(args); {
		key, ok := args[i].(string)
		if !ok || i+1 >= len(args) {
			attrs = append(attrs, slog.Any("!BADKEY", args[i]))
			i++
			continue
		}
		attrs = append(attrs, slog.Any(key, args[i+1]))
		i += 2
	}
	l.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// Debug logs at debug level.
func (l *EveLogger) Debug(msg string, args ...any) {
	l.log(slog.LevelDebug, l.level <= LogLevelDebug, msg, args...)
}

// Info logs at info level.
func (l *EveLogger) Info(msg string, args ...any) {
	l.log(slog.LevelInfo, l.level <= LogLevelInfo, msg, args...)
}

// Warn logs at warn level.
func (l *EveLogger) Warn(msg string, args ...any) {
	l.log(slog.LevelWarn, l.level <= LogLevelWarn, msg, args...)
}

// Error logs at error level.
func (l *EveLogger) Error(msg string, args ...any) {
	l.log(slog.LevelError, l.level <= LogLevelError, msg, args...)
}

// ErrorWithStack logs an error plus a runtime stack snapshot.
func (l *EveLogger) ErrorWithStack(err error, msg string, args ...any) {
	if l.level > LogLevelError {
		return
	}
	stack := make([]byte, 4096)
	n := runtime.Stack(stack, false)
	args = append(args, "error", err.Error(), "error_type", fmt.Sprintf("%T", err), "stack_trace", string(stack[:n]))
	l.log(slog.LevelError, true, msg, args...)
}

// LogPoolScan records the outcome of one adaptive pool scan.
func (l *EveLogger) LogPoolScan(running, waiting, reserve, pending int, interval time.Duration, changed bool) {
	l.log(slog.LevelDebug, l.level <= LogLevelDebug, "Pool scan completed",
		"running", running, "waiting", waiting, "reserve", reserve, "pending", pending,
		"interval", interval, "changed", changed)
}

// StartTimer returns a closure that logs the elapsed duration when invoked.
func (l *EveLogger) StartTimer(op string) func() {
	start := time.Now()
	return func() { l.Info("Operation completed", "operation", op, "duration", time.Since(start)) }
}

// NoOpLogger discards all log messages. Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}

// StackLogger is implemented by loggers able to attach a stack trace to an error entry.
type StackLogger interface {
	ErrorWithStack(err error, msg string, args ...any)
}

// LogPanic reports a recovered panic value through l, attaching a stack trace
// when l supports it.
func LogPanic(l Logger, recovered any, msg string, args ...any) {
	err, ok := recovered.(error)
	if !ok {
		err = fmt.Errorf("panic: %v", recovered)
	}
	if sl, ok := l.(StackLogger); ok {
		sl.ErrorWithStack(err, msg, args...)
		return
	}
	l.Error(msg, append(args, "error", err.Error())...)
}
