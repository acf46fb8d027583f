package format

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/rzbill/aideploy/pkg/types"
	"golang.org/x/term"
)

var (
	ErrorColor   = color.New(color.FgRed, color.Bold)
	KindColor    = color.New(color.FgHiRed)
	ContextColor = color.New(color.FgHiBlack)
	HintColor    = color.New(color.FgYellow, color.Italic)
)

// kindTitles are the operator-facing names of each error kind.
var kindTitles = map[types.ErrorKind]string{
	types.KindEnvironment: "environment problem",
	types.KindAuth:        "authentication failed",
	types.KindTransient:   "network failure (retries exhausted)",
	types.KindValidation:  "invalid input",
	types.KindRejected:    "rejected by the platform",
	types.KindBuild:       "build failed",
	types.KindUnknown:     "unexpected error",
}

// RenderError writes err for an operator: the failed step and kind, the
// cause, the external tool's diagnostic verbatim, and a remedy when known.
func RenderError(w io.Writer, err error) {
	if err == nil {
		return
	}
	kind := types.KindOf(err)

	headline := kindTitles[kind]
	if headline == "" {
		headline = kindTitles[types.KindUnknown]
	}
	var stepErr *types.StepError
	if errors.As(err, &stepErr) {
		headline = fmt.Sprintf("step %q: %s", stepErr.Step, headline)
	}
	fmt.Fprintf(w, "%s %s %s\n", ErrorColor.Sprint("Error:"), headline, KindColor.Sprintf("[%s]", kind))

	cause, diagnostic := split(err)
	if cause != "" {
		fmt.Fprintf(w, "  %s\n", cause)
	}
	if diagnostic != "" {
		width := terminalWidth() - 4
		for _, line := range strings.Split(diagnostic, "\n") {
			for _, chunk := range wrap(line, width) {
				fmt.Fprintf(w, "  %s %s\n", ContextColor.Sprint("│"), chunk)
			}
		}
	}
	if help := types.HelpOf(err); help != "" {
		fmt.Fprintf(w, "  %s %s\n", HintColor.Sprint("hint:"), help)
	}
}

// split separates the classified cause from the external diagnostic so
// the diagnostic is printed once.
func split(err error) (string, string) {
	var e *types.Error
	if !errors.As(err, &e) {
		return err.Error(), ""
	}
	var parts []string
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if e.Err != nil {
		msg := e.Err.Error()
		if e.Diagnostic != "" {
			msg = strings.TrimSpace(strings.ReplaceAll(msg, e.Diagnostic, ""))
			msg = strings.TrimSuffix(msg, ":")
		}
		if msg != "" {
			parts = append(parts, msg)
		}
	}
	return strings.Join(parts, ": "), e.Diagnostic
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width < 40 {
		return 100
	}
	return width
}

func wrap(line string, width int) []string {
	if len(line) <= width || width <= 0 {
		return []string{line}
	}
	var out []string
	for len(line) > width {
		cut := strings.LastIndex(line[:width], " ")
		if cut <= 0 {
			cut = width
		}
		out = append(out, line[:cut])
		line = strings.TrimLeft(line[cut:], " ")
	}
	if line != "" {
		out = append(out, line)
	}
	return out
}
