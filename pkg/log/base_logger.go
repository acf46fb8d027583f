package log

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"
)

// Debug logs a message at the debug level with fields.
func (l *BaseLogger) Debug(msg string, fields ...Field) {
	if l.level <= DebugLevel {
		l.logWithFields(DebugLevel, msg, fields)
	}
}

// Info logs a message at the info level with fields.
func (l *BaseLogger) Info(msg string, fields ...Field) {
	if l.level <= InfoLevel {
		l.logWithFields(InfoLevel, msg, fields)
	}
}

// Warn logs a message at the warn level with fields.
func (l *BaseLogger) Warn(msg string, fields ...Field) {
	if l.level <= WarnLevel {
		l.logWithFields(WarnLevel, msg, fields)
	}
}

// Error logs a message at the error level with fields.
func (l *BaseLogger) Error(msg string, fields ...Field) {
	if l.level <= ErrorLevel {
		l.logWithFields(ErrorLevel, msg, fields)
	}
}

// Debugf logs a formatted message at the debug level.
func (l *BaseLogger) Debugf(msg string, args ...interface{}) {
	if l.level <= DebugLevel {
		l.writeEntry(DebugLevel, fmt.Sprintf(msg, args...), l.copyFields())
	}
}

// Infof logs a formatted message at the info level.
func (l *BaseLogger) Infof(msg string, args ...interface{}) {
	if l.level <= InfoLevel {
		l.writeEntry(InfoLevel, fmt.Sprintf(msg, args...), l.copyFields())
	}
}

// Warnf logs a formatted message at the warn level.
func (l *BaseLogger) Warnf(msg string, args ...interface{}) {
	if l.level <= WarnLevel {
		l.writeEntry(WarnLevel, fmt.Sprintf(msg, args...), l.copyFields())
	}
}

// Errorf logs a formatted message at the error level.
func (l *BaseLogger) Errorf(msg string, args ...interface{}) {
	if l.level <= ErrorLevel {
		l.writeEntry(ErrorLevel, fmt.Sprintf(msg, args...), l.copyFields())
	}
}

// With returns a new logger with the fields added to it.
func (l *BaseLogger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	next := &BaseLogger{
		level:     l.level,
		formatter: l.formatter,
		outputs:   l.outputs,
		hooks:     l.hooks,
		fields:    l.copyFields(),
	}
	for _, field := range fields {
		next.fields[field.Key] = field.Value
	}
	return next
}

// WithField returns a new logger with the field added to it.
func (l *BaseLogger) WithField(key string, value interface{}) Logger {
	return l.With(F(key, value))
}

// WithError returns a new logger with the error added as a field.
func (l *BaseLogger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return l.With(Err(err))
}

// WithComponent returns a new logger with the component field added.
func (l *BaseLogger) WithComponent(component string) Logger {
	return l.With(Component(component))
}

// SetLevel sets the minimum log level.
func (l *BaseLogger) SetLevel(level Level) {
	l.level = level
}

// GetLevel returns the current minimum log level.
func (l *BaseLogger) GetLevel() Level {
	return l.level
}

// Close closes every output.
func (l *BaseLogger) Close() error {
	var firstErr error
	for _, o := range l.outputs {
		if err := o.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (l *BaseLogger) copyFields() Fields {
	out := make(Fields, len(l.fields))
	for k, v := range l.fields {
		out[k] = v
	}
	return out
}

func (l *BaseLogger) logWithFields(level Level, msg string, fields []Field) {
	entryFields := l.copyFields()
	for _, field := range fields {
		entryFields[field.Key] = field.Value
	}
	l.writeEntry(level, msg, entryFields)
}

func (l *BaseLogger) writeEntry(level Level, msg string, fields Fields) {
	_, file, line, ok := runtime.Caller(3)
	caller := "unknown"
	if ok {
		parts := strings.Split(file, "/")
		if len(parts) > 2 {
			caller = fmt.Sprintf("%s:%d", strings.Join(parts[len(parts)-2:], "/"), line)
		} else {
			caller = fmt.Sprintf("%s:%d", file, line)
		}
	}

	entry := &Entry{
		Level:     level,
		Message:   msg,
		Fields:    fields,
		Timestamp: time.Now(),
		Caller:    caller,
	}

	for _, hook := range l.hooks {
		for _, hookLevel := range hook.Levels() {
			if hookLevel == level {
				if err := hook.Fire(entry); err != nil {
					fmt.Fprintf(os.Stderr, "Error firing hook: %v\n", err)
				}
				break
			}
		}
	}

	formatted, err := l.formatter.Format(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error formatting log entry: %v\n", err)
		return
	}

	for _, output := range l.outputs {
		if err := output.Write(entry, formatted); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing to log output: %v\n", err)
		}
	}
}
