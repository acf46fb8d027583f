// Package pipeline runs the deploy cycle: build, push, secret, deploy and
// locate, in that order, stopping at the first fatal error.
package pipeline

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rzbill/aideploy/pkg/builder"
	"github.com/rzbill/aideploy/pkg/deployer"
	"github.com/rzbill/aideploy/pkg/log"
	"github.com/rzbill/aideploy/pkg/registry"
	"github.com/rzbill/aideploy/pkg/types"
	"golang.org/x/sync/errgroup"
)

// SecretProvisioner makes a value the latest version of a secret.
type SecretProvisioner interface {
	Ensure(ctx context.Context, name, value string) (*types.SecretVersion, error)
}

// DeployOrchestrator applies a deploy request and waits for readiness.
type DeployOrchestrator interface {
	Deploy(ctx context.Context, req deployer.Request) (*types.Revision, error)
}

// ServiceLocator finds a deployed service's endpoint.
type ServiceLocator interface {
	Locate(ctx context.Context, service string) (*types.ServiceEndpoint, error)
}

// Deps are the components a pipeline drives.
type Deps struct {
	Builder      builder.Builder
	Publisher    registry.Publisher
	Secrets      SecretProvisioner
	Orchestrator DeployOrchestrator
	Locator      ServiceLocator
}

// Result is everything a run produced.
type Result struct {
	RunID    string
	Image    types.ImageReference
	Build    *builder.BuildResult
	Push     *registry.PushResult
	Secret   *types.SecretVersion
	Revision *types.Revision
	Endpoint *types.ServiceEndpoint
	Steps    []StepReport
	Duration time.Duration
}

// Pipeline runs plans against a fixed set of components.
type Pipeline struct {
	deps       Deps
	reporter   Reporter
	dryRunOut  io.Writer
	newBackOff func() backoff.BackOff
	logger     log.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithReporter sets the step reporter.
func WithReporter(r Reporter) Option {
	return func(p *Pipeline) {
		p.reporter = r
	}
}

// WithDryRunOutput sets where dry-run plans are rendered.
func WithDryRunOutput(w io.Writer) Option {
	return func(p *Pipeline) {
		p.dryRunOut = w
	}
}

// WithStepBackOff overrides the wait between step retries.
func WithStepBackOff(fn func() backoff.BackOff) Option {
	return func(p *Pipeline) {
		p.newBackOff = fn
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(logger log.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// New creates a pipeline.
func New(deps Deps, opts ...Option) *Pipeline {
	p := &Pipeline{
		deps:       deps,
		reporter:   nopReporter{},
		dryRunOut:  io.Discard,
		newBackOff: defaultStepBackOff,
		logger:     log.GetDefaultLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithComponent("pipeline")
	return p
}

func defaultStepBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// run holds per-run state shared by the two concurrent branches.
type run struct {
	plan   Plan
	logger log.Logger

	mu     sync.Mutex
	result *Result
}

func (r *run) record(rep StepReport) {
	r.mu.Lock()
	r.result.Steps = append(r.result.Steps, rep)
	r.mu.Unlock()
}

// Run executes plan. The returned error, if any, is a *types.StepError
// naming the failed step; the partial result is returned alongside it.
func (p *Pipeline) Run(ctx context.Context, plan Plan) (*Result, error) {
	start := time.Now()
	plan = plan.WithRunID()
	r := &run{
		plan:   plan,
		logger: p.logger.With(log.RunID(plan.RunID)),
		result: &Result{RunID: plan.RunID, Image: plan.Image},
	}
	defer func() { r.result.Duration = time.Since(start) }()

	if err := plan.Validate(); err != nil {
		return r.result, &types.StepError{Step: "validate", Err: err}
	}

	if plan.DryRun {
		strategy := ""
		if p.deps.Builder != nil {
			strategy = string(p.deps.Builder.Strategy())
		}
		if err := RenderDryRun(p.dryRunOut, plan, strategy); err != nil {
			return r.result, &types.StepError{Step: "plan", Err: types.NewError(types.KindUnknown, "render plan", err)}
		}
		for _, s := range plannedSteps(plan) {
			r.record(StepReport{Step: s, Status: StatusSkipped, Detail: "dry run"})
		}
		return r.result, nil
	}

	r.logger.Info("Starting deploy run",
		log.Str("project", plan.Project),
		log.Str("service", plan.Service),
		log.Str("image", plan.Image.String()),
		log.Bool("parallel_secrets", plan.ParallelSecrets))

	var secretRef types.SecretRef
	if plan.ParallelSecrets {
		// No shared cancellation: an in-flight build or secret write is
		// allowed to finish even when the other branch fails.
		var g errgroup.Group
		g.Go(func() error { return p.imageBranch(ctx, r) })
		g.Go(func() error {
			ref, err := p.secretBranch(ctx, r)
			secretRef = ref
			return err
		})
		if err := g.Wait(); err != nil {
			return r.result, err
		}
	} else {
		if err := p.imageBranch(ctx, r); err != nil {
			return r.result, err
		}
		ref, err := p.secretBranch(ctx, r)
		if err != nil {
			return r.result, err
		}
		secretRef = ref
	}

	req := deployer.Request{
		Project:   plan.Project,
		Region:    plan.Region,
		Service:   plan.Service,
		Image:     r.result.Image,
		Resources: plan.Resources,
		Network:   plan.Network,
		EnvVar:    plan.EnvVar,
		Env:       plan.Env,
		Labels:    plan.Labels,
	}
	if plan.CredentialMode == types.CredentialModeSecret {
		req.Secret = &secretRef
	} else {
		// same trimming the secret store applies on write
		req.Literal = strings.TrimSpace(plan.Credential)
	}

	err := p.step(ctx, r, StepDeploy, func(ctx context.Context) (string, error) {
		rev, err := p.deps.Orchestrator.Deploy(ctx, req)
		if err != nil {
			return "", err
		}
		r.result.Revision = rev
		return rev.Name, nil
	})
	if err != nil {
		return r.result, err
	}

	err = p.step(ctx, r, StepLocate, func(ctx context.Context) (string, error) {
		ep, err := p.deps.Locator.Locate(ctx, plan.Service)
		if err != nil {
			return "", err
		}
		r.result.Endpoint = ep
		return ep.URL, nil
	})
	if err != nil {
		return r.result, err
	}

	r.logger.Info("Deploy run complete", log.Str("url", r.result.Endpoint.URL))
	return r.result, nil
}

// imageBranch builds and pushes, leaving a digest-pinned image in the result.
func (p *Pipeline) imageBranch(ctx context.Context, r *run) error {
	plan := r.plan
	var built *builder.BuildResult

	if plan.SkipBuild {
		p.skip(r, StepBuild, "--skip-build")
	} else {
		err := p.step(ctx, r, StepBuild, func(ctx context.Context) (string, error) {
			req := plan.Build
			req.Image = plan.Image
			res, err := p.deps.Builder.Build(ctx, req)
			if err != nil {
				return "", err
			}
			built = res
			return string(res.Strategy), nil
		})
		if err != nil {
			return err
		}
		r.mu.Lock()
		r.result.Build = built
		r.mu.Unlock()
	}

	return p.step(ctx, r, StepPush, func(ctx context.Context) (string, error) {
		if built != nil && built.Pushed {
			// the remote builder already pushed; only the digest is needed
			pinned, err := p.deps.Publisher.Resolve(ctx, plan.Image)
			if err != nil {
				return "", err
			}
			p.setImage(r, pinned)
			return "pushed by builder, " + pinned.Digest, nil
		}
		if built == nil && plan.Image.IsPinned() {
			p.setImage(r, plan.Image)
			return "already pinned", nil
		}
		if built == nil {
			pinned, err := p.deps.Publisher.Resolve(ctx, plan.Image)
			if err != nil {
				return "", err
			}
			p.setImage(r, pinned)
			return pinned.Digest, nil
		}
		res, err := p.deps.Publisher.Push(ctx, plan.Image)
		if err != nil {
			return "", err
		}
		r.mu.Lock()
		r.result.Push = res
		r.mu.Unlock()
		p.setImage(r, res.Image)
		return res.Image.Digest, nil
	})
}

func (p *Pipeline) setImage(r *run, img types.ImageReference) {
	r.mu.Lock()
	r.result.Image = img
	r.mu.Unlock()
}

// secretBranch provisions the credential and returns the reference to
// deploy. Literal mode never touches the secret store.
func (p *Pipeline) secretBranch(ctx context.Context, r *run) (types.SecretRef, error) {
	plan := r.plan
	switch {
	case plan.CredentialMode == types.CredentialModeLiteral:
		p.skip(r, StepSecret, "literal credential mode")
		return types.SecretRef{}, nil
	case plan.SkipSecret:
		ref := types.SecretRef{Name: plan.SecretName, Version: plan.SecretVersion}
		if ref.Version == "" {
			ref.Version = types.LatestVersion
		}
		p.skip(r, StepSecret, "--skip-secret, using "+ref.String())
		return ref, nil
	}

	var ref types.SecretRef
	err := p.step(ctx, r, StepSecret, func(ctx context.Context) (string, error) {
		v, err := p.deps.Secrets.Ensure(ctx, plan.SecretName, plan.Credential)
		if err != nil {
			return "", err
		}
		r.mu.Lock()
		r.result.Secret = v
		r.mu.Unlock()
		ref = v.Ref()
		return ref.String(), nil
	})
	return ref, err
}

func (p *Pipeline) skip(r *run, step, reason string) {
	rep := StepReport{Step: step, Status: StatusSkipped, Detail: reason}
	r.record(rep)
	p.reporter.StepFinished(rep)
}

// step runs fn, retrying transient failures up to plan.Retries times.
// Any other failure ends the step immediately.
func (p *Pipeline) step(ctx context.Context, r *run, name string, fn func(ctx context.Context) (string, error)) error {
	logger := r.logger.With(log.Step(name))
	p.reporter.StepStarted(name)
	start := time.Now()

	attempts := 0
	var detail string
	operation := func() error {
		attempts++
		d, err := fn(ctx)
		if err != nil {
			if types.IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		detail = d
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(p.newBackOff(), uint64(r.plan.Retries)), ctx)
	err := backoff.RetryNotify(operation, b, func(err error, wait time.Duration) {
		logger.Warn("Step failed with a transient error, retrying",
			log.Int("attempt", attempts),
			log.Duration("wait", wait),
			log.Err(err))
	})

	rep := StepReport{Step: name, Attempts: attempts, Duration: time.Since(start)}
	if err != nil {
		rep.Status = StatusFailed
		rep.Kind = types.KindOf(err)
		r.record(rep)
		p.reporter.StepFinished(rep)
		logger.Error("Step failed", log.Str("kind", string(rep.Kind)), log.Err(err))
		return &types.StepError{Step: name, Err: err}
	}
	rep.Status = StatusOK
	rep.Detail = detail
	r.record(rep)
	p.reporter.StepFinished(rep)
	logger.Info("Step complete", log.Duration("duration", rep.Duration), log.Int("attempts", attempts))
	return nil
}
