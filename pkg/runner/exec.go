package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/rzbill/aideploy/pkg/log"
)

var _ Runner = &ExecRunner{}

// ExecRunner runs commands as local subprocesses.
type ExecRunner struct {
	logger log.Logger
}

// NewExecRunner creates an ExecRunner.
func NewExecRunner(logger log.Logger) *ExecRunner {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &ExecRunner{logger: logger.WithComponent("runner")}
}

// Run starts the command, waits for it and captures its output. A non-zero
// exit yields both a Result and an *ExitError.
func (r *ExecRunner) Run(ctx context.Context, c Cmd) (*Result, error) {
	for _, v := range c.Redact {
		log.Mask(v)
	}

	path, err := exec.LookPath(c.Name)
	if err != nil {
		return nil, &NotFoundError{Name: c.Name, Err: err}
	}

	cmd := exec.CommandContext(ctx, path, c.Args...)
	if len(c.Env) > 0 {
		env := os.Environ()
		for k, v := range c.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}
	if c.Dir != "" {
		cmd.Dir = c.Dir
	}
	if c.Stdin != nil {
		cmd.Stdin = bytes.NewReader(c.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	var stream io.WriteCloser
	if c.Stream {
		stream = log.StdLogWriter(r.logger.With(log.Str("cmd", c.Name)), log.InfoLevel)
		cmd.Stderr = io.MultiWriter(&stderr, stream)
	}

	r.logger.Debug("Running command", log.Str("cmd", c.String()), log.Str("dir", c.Dir))

	start := time.Now()
	err = cmd.Run()
	if stream != nil {
		_ = stream.Close()
	}

	res := &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, fmt.Errorf("%s interrupted: %w", c.Name, ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			r.logger.Debug("Command failed",
				log.Str("cmd", c.String()),
				log.Int("exit_code", res.ExitCode),
				log.Duration("duration", res.Duration))
			return res, &ExitError{
				Command:  c.String(),
				ExitCode: res.ExitCode,
				Stderr:   c.mask(stderr.String()),
			}
		}
		return res, fmt.Errorf("failed to run %s: %w", c.Name, err)
	}

	r.logger.Debug("Command finished", log.Str("cmd", c.Name), log.Duration("duration", res.Duration))
	return res, nil
}
