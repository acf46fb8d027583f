package pipeline

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/rzbill/aideploy/pkg/types"
)

// Step outcomes.
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// StepReport records one step's outcome.
type StepReport struct {
	Step     string
	Status   string
	Attempts int
	Duration time.Duration
	Detail   string
	Kind     types.ErrorKind
}

// Reporter is told about every step boundary. Implementations must be safe
// for concurrent use.
type Reporter interface {
	StepStarted(step string)
	StepFinished(report StepReport)
}

type nopReporter struct{}

func (nopReporter) StepStarted(string) {}

func (nopReporter) StepFinished(StepReport) {}

// LineReporter prints one line per step boundary.
type LineReporter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewLineReporter creates a reporter writing to out.
func NewLineReporter(out io.Writer) *LineReporter {
	return &LineReporter{out: out}
}

var (
	stepColor    = color.New(color.FgCyan, color.Bold)
	okColor      = color.New(color.FgGreen)
	failColor    = color.New(color.FgRed, color.Bold)
	skippedColor = color.New(color.FgHiBlack)
)

// StepStarted prints the start line.
func (r *LineReporter) StepStarted(step string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "%s %s\n", stepColor.Sprintf("==> %-6s", step), "started")
}

// StepFinished prints the outcome line.
func (r *LineReporter) StepFinished(rep StepReport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var status string
	switch rep.Status {
	case StatusOK:
		status = okColor.Sprint("✓ ok")
	case StatusSkipped:
		status = skippedColor.Sprint("- skipped")
	default:
		status = failColor.Sprintf("✗ %s", rep.Kind)
	}
	line := fmt.Sprintf("%s %s", stepColor.Sprintf("==> %-6s", rep.Step), status)
	if rep.Duration > 0 {
		line += fmt.Sprintf(" (%s)", rep.Duration.Round(time.Millisecond))
	}
	if rep.Attempts > 1 {
		line += fmt.Sprintf(" after %d attempts", rep.Attempts)
	}
	if rep.Detail != "" {
		line += " " + rep.Detail
	}
	fmt.Fprintln(r.out, line)
}
