package log

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
)

// JSONFormatter formats log entries as JSON.
type JSONFormatter struct {
	TimestampFormat string
	EnableCaller    bool
}

// Format formats the entry as JSON.
func (f *JSONFormatter) Format(entry *Entry) ([]byte, error) {
	data := make(map[string]interface{}, len(entry.Fields)+4)

	timestampFormat := time.RFC3339
	if f.TimestampFormat != "" {
		timestampFormat = f.TimestampFormat
	}
	data["timestamp"] = entry.Timestamp.Format(timestampFormat)
	data["level"] = entry.Level.String()
	data["message"] = entry.Message
	if f.EnableCaller && entry.Caller != "" {
		data["caller"] = entry.Caller
	}

	for k, v := range entry.Fields {
		// standard keys win
		if _, reserved := data[k]; reserved {
			continue
		}
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		data[k] = v
	}

	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// TextFormatter formats log entries as human-readable text.
type TextFormatter struct {
	TimestampFormat  string
	EnableCaller     bool
	DisableColors    bool
	DisableTimestamp bool
}

// NewTextFormatter creates a new TextFormatter with sensible defaults.
func NewTextFormatter() *TextFormatter {
	return &TextFormatter{
		TimestampFormat: "15:04:05.000",
	}
}

var (
	dim      = color.New(color.FgHiBlack)
	fieldKey = color.New(color.FgCyan)
)

// Format formats the entry as text. Fields are written in key order so
// output is stable between runs.
func (f *TextFormatter) Format(entry *Entry) ([]byte, error) {
	var b strings.Builder

	if !f.DisableTimestamp {
		format := "2006-01-02T15:04:05.000"
		if f.TimestampFormat != "" {
			format = f.TimestampFormat
		}
		b.WriteString(f.paint(dim, entry.Timestamp.Format(format)))
		b.WriteByte(' ')
	}

	if f.DisableColors {
		b.WriteString(shortLevel(entry.Level))
	} else {
		b.WriteString(levelColor(entry.Level).Sprint(shortLevel(entry.Level)))
	}

	if f.EnableCaller && entry.Caller != "" {
		b.WriteString(" (" + f.paint(dim, entry.Caller) + ")")
	}

	b.WriteByte(' ')
	b.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Fields))
	for k := range entry.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", f.paint(fieldKey, k), entry.Fields[k])
	}
	b.WriteByte('\n')

	return []byte(b.String()), nil
}

func (f *TextFormatter) paint(c *color.Color, s string) string {
	if f.DisableColors {
		return s
	}
	return c.Sprint(s)
}

func shortLevel(level Level) string {
	switch level {
	case DebugLevel:
		return "DBG"
	case InfoLevel:
		return "INF"
	case WarnLevel:
		return "WRN"
	case ErrorLevel:
		return "ERR"
	default:
		return level.String()
	}
}

func levelColor(level Level) *color.Color {
	switch level {
	case DebugLevel:
		return color.New(color.FgBlue)
	case InfoLevel:
		return color.New(color.FgGreen)
	case WarnLevel:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}
