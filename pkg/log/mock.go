package log

import (
	"fmt"
	"strings"
	"sync"
)

// TestEntry represents a captured log entry for testing
type TestEntry struct {
	Level   Level
	Message string
	Fields  []Field
}

type testSink struct {
	mu      sync.Mutex
	entries []TestEntry
}

// TestLogger is a Logger implementation for testing that captures logs
// without producing output. Loggers derived with With share one buffer,
// so entries from component loggers are visible on the root.
type TestLogger struct {
	sink   *testSink
	fields []Field
	level  Level
}

// NewTestLogger creates a new TestLogger for use in unit tests
func NewTestLogger() *TestLogger {
	return &TestLogger{
		sink:  &testSink{},
		level: DebugLevel,
	}
}

// GetEntries returns all captured log entries
func (l *TestLogger) GetEntries() []TestEntry {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	result := make([]TestEntry, len(l.sink.entries))
	copy(result, l.sink.entries)
	return result
}

// ClearEntries clears all captured log entries
func (l *TestLogger) ClearEntries() {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.entries = nil
}

// Debug logs a debug message
func (l *TestLogger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields) }

// Info logs an info message
func (l *TestLogger) Info(msg string, fields ...Field) { l.log(InfoLevel, msg, fields) }

// Warn logs a warning message
func (l *TestLogger) Warn(msg string, fields ...Field) { l.log(WarnLevel, msg, fields) }

// Error logs an error message
func (l *TestLogger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields) }

// Debugf logs a formatted debug message
func (l *TestLogger) Debugf(format string, args ...interface{}) {
	l.log(DebugLevel, fmt.Sprintf(format, args...), nil)
}

// Infof logs a formatted info message
func (l *TestLogger) Infof(format string, args ...interface{}) {
	l.log(InfoLevel, fmt.Sprintf(format, args...), nil)
}

// Warnf logs a formatted warning message
func (l *TestLogger) Warnf(format string, args ...interface{}) {
	l.log(WarnLevel, fmt.Sprintf(format, args...), nil)
}

// Errorf logs a formatted error message
func (l *TestLogger) Errorf(format string, args ...interface{}) {
	l.log(ErrorLevel, fmt.Sprintf(format, args...), nil)
}

func (l *TestLogger) log(level Level, msg string, fields []Field) {
	if level < l.level {
		return
	}
	all := make([]Field, 0, len(l.fields)+len(fields))
	all = append(all, l.fields...)
	all = append(all, fields...)

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.entries = append(l.sink.entries, TestEntry{Level: level, Message: msg, Fields: all})
}

// With returns a new logger with the provided fields added to the context
func (l *TestLogger) With(fields ...Field) Logger {
	next := &TestLogger{sink: l.sink, level: l.level}
	next.fields = make([]Field, 0, len(l.fields)+len(fields))
	next.fields = append(next.fields, l.fields...)
	next.fields = append(next.fields, fields...)
	return next
}

// WithField returns a new logger with a field added to the context
func (l *TestLogger) WithField(key string, value interface{}) Logger {
	return l.With(Any(key, value))
}

// WithError returns a new logger with an error field
func (l *TestLogger) WithError(err error) Logger {
	return l.With(Err(err))
}

// WithComponent returns a new logger with a component field
func (l *TestLogger) WithComponent(component string) Logger {
	return l.With(Component(component))
}

// SetLevel sets the minimum log level
func (l *TestLogger) SetLevel(level Level) {
	l.level = level
}

// GetLevel returns the current minimum log level
func (l *TestLogger) GetLevel() Level {
	return l.level
}

// AssertLogged returns true if a log entry with the given level and message was captured
func (l *TestLogger) AssertLogged(level Level, containsMessage string) bool {
	for _, entry := range l.GetEntries() {
		if entry.Level == level && strings.Contains(entry.Message, containsMessage) {
			return true
		}
	}
	return false
}

// AssertLoggedWithField returns true if a log entry with the given level, message,
// and field key/value was captured
func (l *TestLogger) AssertLoggedWithField(level Level, containsMessage string, key string, value interface{}) bool {
	want := fmt.Sprintf("%v", value)
	for _, entry := range l.GetEntries() {
		if entry.Level != level || !strings.Contains(entry.Message, containsMessage) {
			continue
		}
		for _, field := range entry.Fields {
			if field.Key == key && fmt.Sprintf("%v", field.Value) == want {
				return true
			}
		}
	}
	return false
}

// Contains reports whether s appears in any captured message or field value.
func (l *TestLogger) Contains(s string) bool {
	for _, entry := range l.GetEntries() {
		if strings.Contains(entry.Message, s) {
			return true
		}
		for _, field := range entry.Fields {
			if strings.Contains(fmt.Sprintf("%v", field.Value), s) {
				return true
			}
		}
	}
	return false
}
