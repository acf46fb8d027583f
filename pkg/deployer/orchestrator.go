package deployer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rzbill/aideploy/pkg/log"
	"github.com/rzbill/aideploy/pkg/types"
)

// DefaultReadyTimeout bounds the wait for a new revision to serve.
const DefaultReadyTimeout = 5 * time.Minute

var errNotReady = errors.New("revision not ready")

// Request is what the workflow asks to deploy. Exactly one of Secret and
// Literal must be set.
type Request struct {
	Project   string
	Region    string
	Service   string
	Image     types.ImageReference
	Resources types.Resources
	Network   types.NetworkPolicy
	EnvVar    string
	Secret    *types.SecretRef
	Literal   string
	Env       map[string]string
	Labels    map[string]string
}

// Spec builds and validates the deployment spec for r.
func (r Request) Spec() (*types.DeploymentSpec, error) {
	cred := types.CredentialInjection{EnvVar: r.EnvVar}
	if cred.EnvVar == "" {
		cred.EnvVar = types.DefaultCredentialEnvVar
	}
	if r.Secret != nil {
		ref := *r.Secret
		cred.Secret = &ref
		cred.Mode = types.CredentialModeSecret
	}
	if lit := strings.TrimSpace(r.Literal); lit != "" {
		cred.Literal = types.NewLiteralCredential(lit)
		if cred.Mode == "" {
			cred.Mode = types.CredentialModeLiteral
		}
	}
	network := r.Network
	if network == "" {
		network = types.NetworkPolicyPublic
	}

	spec := &types.DeploymentSpec{
		Project:    r.Project,
		Region:     r.Region,
		Service:    r.Service,
		Image:      r.Image,
		Resources:  r.Resources.WithDefaults(),
		Network:    network,
		Credential: cred,
		Env:        r.Env,
		Labels:     r.Labels,
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// Orchestrator validates, applies and waits for readiness.
type Orchestrator struct {
	deployer     Deployer
	readyTimeout time.Duration
	pollInterval time.Duration
	logger       log.Logger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithReadyTimeout bounds the readiness wait.
func WithReadyTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.readyTimeout = d
	}
}

// WithPollInterval sets the initial readiness poll interval.
func WithPollInterval(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.pollInterval = d
	}
}

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(logger log.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// NewOrchestrator creates an orchestrator over d.
func NewOrchestrator(d Deployer, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		deployer:     d,
		readyTimeout: DefaultReadyTimeout,
		pollInterval: 2 * time.Second,
		logger:       log.GetDefaultLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.WithComponent("orchestrator")
	return o
}

// Deploy applies req and returns the ready revision. Nothing external is
// called when validation fails, and success is never reported before the
// latest created revision is the latest ready one.
func (o *Orchestrator) Deploy(ctx context.Context, req Request) (*types.Revision, error) {
	spec, err := req.Spec()
	if err != nil {
		return nil, err
	}

	o.logger.Info("Applying deployment spec",
		log.Str("service", spec.Service),
		log.Str("region", spec.Region),
		log.Str("image", spec.Image.Pinned()),
		log.Str("credential_mode", string(spec.Credential.Mode)))
	if err := o.deployer.Apply(ctx, spec); err != nil {
		return nil, err
	}
	return o.WaitReady(ctx, spec.Service, spec.Region)
}

// WaitReady polls status until the newest revision serves or is rejected.
func (o *Orchestrator) WaitReady(ctx context.Context, service, region string) (*types.Revision, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.pollInterval
	b.MaxInterval = 10 * o.pollInterval
	b.MaxElapsedTime = o.readyTimeout

	var last *Status
	operation := func() error {
		st, err := o.deployer.Status(ctx, service, region)
		if err != nil {
			if types.IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		last = st
		if st.Ready == ConditionFalse {
			msg := st.ReadyMessage
			if msg == "" {
				msg = st.ReadyReason
			}
			return backoff.Permanent(types.Errorf(types.KindRejected, "wait for revision", "revision %s failed: %s", st.LatestCreated, msg).
				WithDiagnostic(msg))
		}
		if !st.Converged() {
			return errNotReady
		}
		return nil
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		if errors.Is(err, errNotReady) && last != nil {
			o.logger.Debug("Waiting for revision",
				log.Str("latest_created", last.LatestCreated),
				log.Str("latest_ready", last.LatestReady))
		}
	})
	if err != nil {
		if errors.Is(err, errNotReady) {
			return nil, types.NewError(types.KindTransient, "wait for revision",
				fmt.Errorf("service %s not ready within %s", service, o.readyTimeout))
		}
		return nil, err
	}

	o.logger.Info("Revision ready", log.Str("service", service), log.Str("revision", last.LatestReady))
	return &types.Revision{Service: service, Name: last.LatestReady, Ready: true}, nil
}
