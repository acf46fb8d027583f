package log

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Config defines logging configuration.
type Config struct {
	// Level sets the minimum log level
	Level string `json:"level" yaml:"level" mapstructure:"level"`

	// Format sets the output format (json, text)
	Format string `json:"format" yaml:"format" mapstructure:"format"`

	// File, when set, receives a copy of every entry
	File string `json:"file" yaml:"file" mapstructure:"file"`

	// EnableCaller enables adding caller information to logs
	EnableCaller bool `json:"enable_caller" yaml:"enable_caller" mapstructure:"enable_caller"`

	// RedactedFields lists fields whose values are always replaced
	RedactedFields []string `json:"redacted_fields" yaml:"redacted_fields" mapstructure:"redacted_fields"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:          "info",
		Format:         "text",
		RedactedFields: []string{"password", "token", "api_key", "secret_value"},
	}
}

// ApplyConfig creates a logger from a configuration. Console entries are
// written to w, or stderr when w is nil.
func ApplyConfig(config *Config, w io.Writer) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	level, err := ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}

	options := []LoggerOption{WithLevel(level)}

	switch strings.ToLower(config.Format) {
	case "json":
		options = append(options, WithFormatter(&JSONFormatter{EnableCaller: config.EnableCaller}))
	case "text", "":
		options = append(options, WithFormatter(&TextFormatter{EnableCaller: config.EnableCaller}))
	default:
		return nil, fmt.Errorf("invalid log format: %s", config.Format)
	}

	if w == nil {
		w = os.Stderr
	}
	options = append(options, WithOutput(NewConsoleOutput(WithCustomWriter(w))))
	if config.File != "" {
		options = append(options, WithOutput(NewFileOutput(os.ExpandEnv(config.File))))
	}

	if len(config.RedactedFields) > 0 {
		options = append(options, WithHook(NewRedactionHook(config.RedactedFields)))
	}

	return NewLogger(options...), nil
}

// ParseLevel parses a level string into a Level.
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level: %s", level)
	}
}
