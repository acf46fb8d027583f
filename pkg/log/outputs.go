package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// ConsoleOutput writes log entries to the console. Progress output owns
// stdout, so logs go to stderr unless a writer is supplied.
type ConsoleOutput struct {
	mu     sync.Mutex
	writer io.Writer
}

// Write writes the log entry to the console.
func (o *ConsoleOutput) Write(entry *Entry, formattedEntry []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	writer := o.writer
	if writer == nil {
		writer = os.Stderr
	}
	_, err := writer.Write(formattedEntry)
	return err
}

// Close implements the Output interface but does nothing for console output.
func (o *ConsoleOutput) Close() error {
	return nil
}

// ConsoleOutputOption is a function that configures a ConsoleOutput.
type ConsoleOutputOption func(*ConsoleOutput)

// WithCustomWriter configures the ConsoleOutput to use a custom writer.
func WithCustomWriter(writer io.Writer) ConsoleOutputOption {
	return func(o *ConsoleOutput) {
		o.writer = writer
	}
}

// NewConsoleOutput creates a new ConsoleOutput with the given options.
func NewConsoleOutput(options ...ConsoleOutputOption) *ConsoleOutput {
	o := &ConsoleOutput{}
	for _, option := range options {
		option(o)
	}
	return o
}

// FileOutput appends log entries to a file.
type FileOutput struct {
	mu       sync.Mutex
	file     *os.File
	filename string
}

// NewFileOutput creates a FileOutput. The file is opened on first write.
func NewFileOutput(filename string) *FileOutput {
	return &FileOutput{filename: filename}
}

// Write writes the log entry to the file.
func (o *FileOutput) Write(entry *Entry, formattedEntry []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.file == nil {
		if err := os.MkdirAll(filepath.Dir(o.filename), 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(o.filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		o.file = f
	}

	_, err := o.file.Write(formattedEntry)
	return err
}

// Close closes the file.
func (o *FileOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.file == nil {
		return nil
	}
	err := o.file.Close()
	o.file = nil
	return err
}

// NullOutput discards all log entries.
type NullOutput struct{}

// Write implements the Output interface but does nothing.
func (o *NullOutput) Write(entry *Entry, formattedEntry []byte) error {
	return nil
}

// Close implements the Output interface but does nothing.
func (o *NullOutput) Close() error {
	return nil
}

// NewNullOutput creates a new NullOutput.
func NewNullOutput() *NullOutput {
	return &NullOutput{}
}
