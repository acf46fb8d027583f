package log

import (
	"fmt"
	"strings"
	"sync"
)

// Redacted replaces any value that must not reach a log line.
const Redacted = "[REDACTED]"

// minMaskLen keeps very short values from masking unrelated text.
const minMaskLen = 4

var allLevels = []Level{DebugLevel, InfoLevel, WarnLevel, ErrorLevel}

// RedactionHook redacts the values of named fields.
type RedactionHook struct {
	fields []string
}

// NewRedactionHook creates a new redaction hook.
func NewRedactionHook(fields []string) *RedactionHook {
	return &RedactionHook{fields: fields}
}

// Levels returns the levels this hook should be called for.
func (h *RedactionHook) Levels() []Level {
	return allLevels
}

// Fire replaces the value of every configured field that is present.
func (h *RedactionHook) Fire(entry *Entry) error {
	for _, field := range h.fields {
		if _, ok := entry.Fields[field]; ok {
			entry.Fields[field] = Redacted
		}
	}
	return nil
}

// ScrubHook masks registered secret values wherever they appear in a
// message or a field value.
type ScrubHook struct {
	mu     sync.RWMutex
	values map[string]struct{}
}

// NewScrubHook creates an empty scrub hook.
func NewScrubHook() *ScrubHook {
	return &ScrubHook{values: make(map[string]struct{})}
}

// DefaultScrubber is installed on every logger built by NewLogger.
var DefaultScrubber = NewScrubHook()

// Mask registers value with DefaultScrubber.
func Mask(value string) {
	DefaultScrubber.Register(value)
}

// Register adds a value to mask. Values shorter than four bytes are ignored.
func (h *ScrubHook) Register(value string) {
	value = strings.TrimSpace(value)
	if len(value) < minMaskLen {
		return
	}
	h.mu.Lock()
	h.values[value] = struct{}{}
	h.mu.Unlock()
}

// Scrub returns s with every registered value replaced.
func (h *ScrubHook) Scrub(s string) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for v := range h.values {
		if strings.Contains(s, v) {
			s = strings.ReplaceAll(s, v, Redacted)
		}
	}
	return s
}

func (h *ScrubHook) empty() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.values) == 0
}

// Levels returns the levels this hook should be called for.
func (h *ScrubHook) Levels() []Level {
	return allLevels
}

// Fire scrubs the message and every string-like field.
func (h *ScrubHook) Fire(entry *Entry) error {
	if h.empty() {
		return nil
	}
	entry.Message = h.Scrub(entry.Message)
	for k, v := range entry.Fields {
		switch val := v.(type) {
		case string:
			entry.Fields[k] = h.Scrub(val)
		case []string:
			out := make([]string, len(val))
			for i, s := range val {
				out[i] = h.Scrub(s)
			}
			entry.Fields[k] = out
		case error:
			entry.Fields[k] = h.Scrub(val.Error())
		case fmt.Stringer:
			entry.Fields[k] = h.Scrub(val.String())
		}
	}
	return nil
}
