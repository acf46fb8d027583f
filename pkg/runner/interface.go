// Package runner executes external command-line tools (gcloud, docker) on
// behalf of the deployment workflow.
package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rzbill/aideploy/pkg/log"
)

// Runner runs a single external command to completion.
type Runner interface {
	Run(ctx context.Context, cmd Cmd) (*Result, error)
}

// Cmd describes one invocation of an external tool.
type Cmd struct {
	// Name is the binary, resolved through PATH.
	Name string

	// Args are passed verbatim. Secret values must never appear here.
	Args []string

	// Stdin is written to the process's standard input. Payloads that
	// must stay out of argv go here.
	Stdin []byte

	// Env adds variables to the inherited environment.
	Env map[string]string

	// Dir sets the working directory.
	Dir string

	// Redact lists values masked in every log line and error derived from
	// this command.
	Redact []string

	// Stream copies stderr lines to the logger while the command runs.
	Stream bool
}

// String renders the command line with redacted values masked.
func (c Cmd) String() string {
	parts := append([]string{c.Name}, c.Args...)
	return c.mask(strings.Join(parts, " "))
}

func (c Cmd) mask(s string) string {
	for _, v := range c.Redact {
		if v != "" {
			s = strings.ReplaceAll(s, v, log.Redacted)
		}
	}
	return s
}

// Result holds the captured output of a finished command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// ExitError is returned when a command runs but exits non-zero.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + lastLines(s, 5)
	}
	return msg
}

// NotFoundError is returned when the binary is not installed.
type NotFoundError struct {
	Name string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found in PATH", e.Name)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
