package log

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// StdLogWriter creates an io.Writer that logs each complete line at the
// specified level. Subprocess output is streamed through it.
func StdLogWriter(logger Logger, level Level) io.WriteCloser {
	return &leveledLogAdapter{
		logger: logger,
		level:  level,
	}
}

type leveledLogAdapter struct {
	mu     sync.Mutex
	logger Logger
	level  Level
	buf    bytes.Buffer
}

// Write buffers p and emits one entry per complete line.
func (a *leveledLogAdapter) Write(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.buf.Write(p)
	for {
		line, err := a.buf.ReadString('\n')
		if err != nil {
			// keep the partial line for the next write
			a.buf.Reset()
			a.buf.WriteString(line)
			break
		}
		a.emit(line)
	}
	return len(p), nil
}

// Close flushes any trailing partial line.
func (a *leveledLogAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.buf.Len() > 0 {
		a.emit(a.buf.String())
		a.buf.Reset()
	}
	return nil
}

func (a *leveledLogAdapter) emit(line string) {
	msg := strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(msg) == "" {
		return
	}
	switch a.level {
	case DebugLevel:
		a.logger.Debug(msg)
	case WarnLevel:
		a.logger.Warn(msg)
	case ErrorLevel:
		a.logger.Error(msg)
	default:
		a.logger.Info(msg)
	}
}
