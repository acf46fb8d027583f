// Package gcloud drives the Google Cloud SDK command line for Cloud Build,
// Secret Manager and Cloud Run.
package gcloud

import (
	"context"
	"fmt"
	"strings"

	"github.com/Jeffail/gabs"
	"github.com/rzbill/aideploy/pkg/log"
	"github.com/rzbill/aideploy/pkg/runner"
	"github.com/rzbill/aideploy/pkg/types"
)

// DefaultBinary is the gcloud executable name.
const DefaultBinary = "gcloud"

// Client runs gcloud commands against one project.
type Client struct {
	runner  runner.Runner
	binary  string
	project string
	logger  log.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBinary overrides the gcloud executable.
func WithBinary(bin string) Option {
	return func(c *Client) {
		if bin != "" {
			c.binary = bin
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger log.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client scoped to project.
func NewClient(r runner.Runner, project string, opts ...Option) *Client {
	c := &Client{
		runner:  r,
		binary:  DefaultBinary,
		project: project,
		logger:  log.GetDefaultLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("gcloud")
	return c
}

// Project returns the project the client is scoped to.
func (c *Client) Project() string {
	return c.project
}

// run executes gcloud with the project and non-interactive flags appended.
func (c *Client) run(ctx context.Context, op string, cmd runner.Cmd) (*runner.Result, error) {
	return c.runWith(ctx, op, defaultPolicy, cmd)
}

func (c *Client) runWith(ctx context.Context, op string, p policy, cmd runner.Cmd) (*runner.Result, error) {
	cmd.Name = c.binary
	if c.project != "" {
		cmd.Args = append(cmd.Args, "--project", c.project)
	}
	cmd.Args = append(cmd.Args, "--quiet")

	res, err := c.runner.Run(ctx, cmd)
	if err != nil {
		return res, classifyWith(ctx, op, p, err)
	}
	return res, nil
}

func (c *Client) runJSON(ctx context.Context, op string, cmd runner.Cmd) (*gabs.Container, error) {
	cmd.Args = append(cmd.Args, "--format=json")
	res, err := c.run(ctx, op, cmd)
	if err != nil {
		return nil, err
	}
	parsed, err := gabs.ParseJSON(res.Stdout)
	if err != nil {
		return nil, types.NewError(types.KindUnknown, op, fmt.Errorf("failed to parse gcloud output: %w", err))
	}
	return parsed, nil
}

// ActiveAccount returns the credentialed account gcloud will use.
func (c *Client) ActiveAccount(ctx context.Context) (string, error) {
	const op = "gcloud auth list"
	res, err := c.runner.Run(ctx, runner.Cmd{
		Name: c.binary,
		Args: []string{"auth", "list", "--filter=status:ACTIVE", "--format=value(account)"},
	})
	if err != nil {
		return "", classify(ctx, op, err)
	}
	account := strings.TrimSpace(string(res.Stdout))
	if account == "" {
		return "", types.Errorf(types.KindAuth, op, "no active gcloud account").WithHelp(helpLogin)
	}
	return strings.Split(account, "\n")[0], nil
}

// AccessToken returns a short-lived OAuth2 access token for the active
// account. The token is registered for log masking.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	const op = "gcloud auth print-access-token"
	res, err := c.runner.Run(ctx, runner.Cmd{
		Name: c.binary,
		Args: []string{"auth", "print-access-token"},
	})
	if err != nil {
		return "", classify(ctx, op, err)
	}
	token := strings.TrimSpace(string(res.Stdout))
	if token == "" {
		return "", types.Errorf(types.KindAuth, op, "empty access token").WithHelp(helpLogin)
	}
	log.Mask(token)
	return token, nil
}

// ConfigureDocker registers gcloud as the docker credential helper for host.
func (c *Client) ConfigureDocker(ctx context.Context, host string) error {
	_, err := c.runner.Run(ctx, runner.Cmd{
		Name: c.binary,
		Args: []string{"auth", "configure-docker", host, "--quiet"},
	})
	return classify(ctx, "gcloud auth configure-docker", err)
}

// BuildsSubmit builds dir remotely with Cloud Build and pushes it as tag.
// With config set, the build config file drives the build instead of --tag.
func (c *Client) BuildsSubmit(ctx context.Context, dir, tag, config, timeout string) error {
	const op = "gcloud builds submit"
	args := []string{"builds", "submit"}
	if config != "" {
		args = append(args, "--config", config)
	} else {
		args = append(args, "--tag", tag)
	}
	if timeout != "" {
		args = append(args, "--timeout", timeout)
	}
	args = append(args, dir)

	c.logger.Info("Submitting remote build", log.Str("tag", tag), log.Str("dir", dir))
	_, err := c.run(ctx, op, runner.Cmd{Args: args, Stream: true})
	if err == nil {
		return nil
	}
	if types.IsKind(err, types.KindRejected) && isStepFailure(err) {
		e := types.NewError(types.KindBuild, op, err)
		return e.WithHelp("fix the Dockerfile or dependencies and re-run")
	}
	if types.IsRetryable(err) || types.IsKind(err, types.KindRejected) {
		e := types.NewError(types.KindOf(err), op, err)
		return e.WithHelp("remote build infrastructure failed; re-run with `--strategy local` to build with the local docker daemon")
	}
	return err
}

func isStepFailure(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "BUILD FAILURE") ||
		strings.Contains(msg, "build step") ||
		strings.Contains(msg, "returned non-zero status")
}
