// Package log provides structured logging for aideploy components.
package log

import (
	"time"
)

// Level represents the severity level of a log message.
type Level int

// Log levels
const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Fields is a map of field names to values.
type Fields map[string]interface{}

// Well-known field keys
const (
	ComponentKey = "component"
	RunIDKey     = "run_id"
	StepKey      = "step"
)

// Entry represents a single log entry.
type Entry struct {
	Level     Level
	Message   string
	Fields    Fields
	Timestamp time.Time
	Caller    string
}

// Logger defines the logging interface used across aideploy.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// Key-value variants, used by adapters for third-party loggers
	Debugf(msg string, args ...interface{})
	Infof(msg string, args ...interface{})
	Warnf(msg string, args ...interface{})
	Errorf(msg string, args ...interface{})

	With(fields ...Field) Logger
	WithField(key string, value interface{}) Logger
	WithError(err error) Logger
	WithComponent(component string) Logger

	SetLevel(level Level)
	GetLevel() Level
}

// Formatter defines the interface for formatting log entries.
type Formatter interface {
	Format(entry *Entry) ([]byte, error)
}

// Output defines the interface for log outputs.
type Output interface {
	Write(entry *Entry, formattedEntry []byte) error
	Close() error
}

// Hook is called for every entry at one of its levels before formatting.
type Hook interface {
	Levels() []Level
	Fire(entry *Entry) error
}

// LoggerOption is a function that configures a logger.
type LoggerOption func(*BaseLogger)

// BaseLogger implements the Logger interface.
type BaseLogger struct {
	level     Level
	fields    Fields
	formatter Formatter
	outputs   []Output
	hooks     []Hook
}

var defaultLogger Logger

func init() {
	defaultLogger = NewLogger(WithLevel(InfoLevel), WithFormatter(NewTextFormatter()))
}

// SetDefaultLogger sets the global default logger.
func SetDefaultLogger(logger Logger) {
	defaultLogger = logger
}

// GetDefaultLogger returns the global default logger.
func GetDefaultLogger() Logger {
	return defaultLogger
}

// NewLogger creates a new logger with the given options.
// Every logger scrubs values registered with Mask.
func NewLogger(options ...LoggerOption) Logger {
	logger := &BaseLogger{
		level:     InfoLevel,
		fields:    Fields{},
		formatter: &JSONFormatter{},
		hooks:     []Hook{DefaultScrubber},
	}

	for _, option := range options {
		option(logger)
	}

	if len(logger.outputs) == 0 {
		logger.outputs = append(logger.outputs, NewConsoleOutput())
	}

	return logger
}

// WithLevel sets the minimum log level.
func WithLevel(level Level) LoggerOption {
	return func(l *BaseLogger) {
		l.level = level
	}
}

// WithFormatter sets the log formatter.
func WithFormatter(formatter Formatter) LoggerOption {
	return func(l *BaseLogger) {
		l.formatter = formatter
	}
}

// WithOutput adds an output to the logger.
func WithOutput(output Output) LoggerOption {
	return func(l *BaseLogger) {
		l.outputs = append(l.outputs, output)
	}
}

// WithHook adds a hook to the logger.
func WithHook(hook Hook) LoggerOption {
	return func(l *BaseLogger) {
		l.hooks = append(l.hooks, hook)
	}
}
