// Package registry pushes built images and confirms them by digest.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/rzbill/aideploy/pkg/docker"
	"github.com/rzbill/aideploy/pkg/log"
	"github.com/rzbill/aideploy/pkg/registry/auth"
	"github.com/rzbill/aideploy/pkg/types"
)

const (
	// DefaultMaxRetries bounds transient push retries.
	DefaultMaxRetries = 3

	opPush = "docker push"
)

// Publisher places a built image in a registry.
type Publisher interface {
	// EnsureAuth prepares local credentials for host once per run.
	EnsureAuth(ctx context.Context, host string) error

	// Push uploads ref and returns it pinned to the registry digest.
	Push(ctx context.Context, ref types.ImageReference) (*PushResult, error)

	// Resolve returns ref pinned to the digest the registry holds for its tag.
	Resolve(ctx context.Context, ref types.ImageReference) (types.ImageReference, error)
}

// PushResult is the push confirmation.
type PushResult struct {
	Image        types.ImageReference
	LayersPushed int
	LayersReused int
	Attempts     int
	Duration     time.Duration
}

// PushAPI is the subset of the Docker client used for pushing.
type PushAPI interface {
	ImagePush(ctx context.Context, ref string, options image.PushOptions) (io.ReadCloser, error)
}

// HelperConfigurer installs a docker credential helper for a host.
type HelperConfigurer interface {
	ConfigureDocker(ctx context.Context, host string) error
}

// Digester reads the manifest digest a registry holds for a reference.
type Digester interface {
	Digest(ctx context.Context, ref types.ImageReference, cred *auth.Credential) (string, error)
}

// DockerPublisher pushes through the Docker Engine API.
type DockerPublisher struct {
	api        PushAPI
	resolver   *auth.Resolver
	helper     HelperConfigurer
	helperFor  []string
	digester   Digester
	newBackOff func() backoff.BackOff
	progress   io.Writer
	logger     log.Logger

	mu         sync.Mutex
	configured map[string]bool
}

// Option configures a DockerPublisher.
type Option func(*DockerPublisher)

// WithCredentialHelper runs h.ConfigureDocker for hosts matching patterns.
func WithCredentialHelper(h HelperConfigurer, patterns ...string) Option {
	return func(p *DockerPublisher) {
		p.helper = h
		if len(patterns) == 0 {
			patterns = auth.GoogleRegistryPatterns
		}
		p.helperFor = patterns
	}
}

// WithDigester overrides digest resolution.
func WithDigester(d Digester) Option {
	return func(p *DockerPublisher) {
		p.digester = d
	}
}

// WithBackOff overrides the retry policy for transient failures.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(p *DockerPublisher) {
		p.newBackOff = fn
	}
}

// WithProgress sets where push progress text is written.
func WithProgress(w io.Writer) Option {
	return func(p *DockerPublisher) {
		p.progress = w
	}
}

// WithLogger sets the publisher logger.
func WithLogger(logger log.Logger) Option {
	return func(p *DockerPublisher) {
		p.logger = logger
	}
}

// NewDockerPublisher creates a publisher.
func NewDockerPublisher(api PushAPI, resolver *auth.Resolver, opts ...Option) *DockerPublisher {
	p := &DockerPublisher{
		api:        api,
		resolver:   resolver,
		newBackOff: DefaultBackOff,
		digester:   NewRemoteDigester(),
		logger:     log.GetDefaultLogger(),
		configured: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithComponent("registry")
	return p
}

// DefaultBackOff is exponential with DefaultMaxRetries retries.
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 20 * time.Second
	return backoff.WithMaxRetries(b, DefaultMaxRetries)
}

// NoRetry makes every transient failure final. Callers that retry whole
// steps use it so a failing registry is not retried at two layers.
func NoRetry() backoff.BackOff {
	return &backoff.StopBackOff{}
}

// EnsureAuth configures the credential helper for host. Repeated calls for
// the same host are no-ops.
func (p *DockerPublisher) EnsureAuth(ctx context.Context, host string) error {
	host = strings.ToLower(host)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.configured[host] {
		return nil
	}
	if p.helper != nil && auth.MatchesAny(p.helperFor, host) {
		p.logger.Info("Configuring docker credential helper", log.Str("host", host))
		if err := p.helper.ConfigureDocker(ctx, host); err != nil {
			return err
		}
	}
	p.configured[host] = true
	return nil
}

// Push uploads ref. Credentials are resolved before any upload starts.
// Transient failures are retried; layers already present are skipped by the
// registry, so a retry only sends what is missing.
func (p *DockerPublisher) Push(ctx context.Context, ref types.ImageReference) (*PushResult, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	if err := p.EnsureAuth(ctx, ref.Registry); err != nil {
		return nil, err
	}
	cred, err := p.resolver.Resolve(ctx, ref.Registry)
	if err != nil {
		return nil, err
	}
	encoded, err := cred.Encode()
	if err != nil {
		return nil, types.NewError(types.KindAuth, opPush, fmt.Errorf("failed to encode credentials: %w", err))
	}

	result := &PushResult{}
	var streamDigest string
	operation := func() error {
		result.Attempts++
		stats, digest, err := p.pushOnce(ctx, ref, encoded)
		if err != nil {
			if types.IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		result.LayersPushed = stats.pushed
		result.LayersReused = stats.reused
		streamDigest = digest
		return nil
	}
	notify := func(err error, wait time.Duration) {
		p.logger.Warn("Push interrupted, retrying",
			log.Str("image", ref.String()),
			log.Int("attempt", result.Attempts),
			log.Duration("wait", wait),
			log.Err(err))
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(p.newBackOff(), ctx), notify); err != nil {
		return nil, err
	}

	pinned, err := p.resolveWith(ctx, ref, cred)
	if err != nil {
		if streamDigest == "" {
			return nil, err
		}
		p.logger.Warn("Could not confirm digest with registry, using push stream digest",
			log.Str("image", ref.String()), log.Err(err))
		pinned = ref.WithDigest(streamDigest)
	}

	result.Image = pinned
	result.Duration = time.Since(start)
	p.logger.Info("Pushed image",
		log.Str("image", pinned.Pinned()),
		log.Int("layers_pushed", result.LayersPushed),
		log.Int("layers_reused", result.LayersReused),
		log.Int("attempts", result.Attempts))
	return result, nil
}

type layerStats struct {
	pushed int
	reused int
}

func (p *DockerPublisher) pushOnce(ctx context.Context, ref types.ImageReference, registryAuth string) (layerStats, string, error) {
	var stats layerStats
	rc, err := p.api.ImagePush(ctx, ref.String(), image.PushOptions{RegistryAuth: registryAuth})
	if err != nil {
		return stats, "", docker.Classify(opPush, err)
	}
	defer rc.Close()

	var digest string
	err = docker.ReadStream(rc, p.progress, func(m jsonmessage.JSONMessage) {
		switch m.Status {
		case "Pushed":
			stats.pushed++
		case "Layer already exists":
			stats.reused++
		}
		var aux struct {
			Tag    string `json:"Tag"`
			Digest string `json:"Digest"`
		}
		if docker.DecodeAux(m, &aux) && aux.Digest != "" {
			digest = aux.Digest
		}
	})
	if err != nil {
		var jerr *jsonmessage.JSONError
		if errors.As(err, &jerr) {
			return stats, "", docker.ClassifyMessage(opPush, jerr)
		}
		return stats, "", types.NewError(types.KindTransient, opPush, err)
	}
	return stats, digest, nil
}

// Resolve pins ref to the digest the registry currently holds for its tag.
func (p *DockerPublisher) Resolve(ctx context.Context, ref types.ImageReference) (types.ImageReference, error) {
	if err := p.EnsureAuth(ctx, ref.Registry); err != nil {
		return ref, err
	}
	cred, err := p.resolver.Resolve(ctx, ref.Registry)
	if err != nil {
		return ref, err
	}
	return p.resolveWith(ctx, ref, cred)
}

func (p *DockerPublisher) resolveWith(ctx context.Context, ref types.ImageReference, cred *auth.Credential) (types.ImageReference, error) {
	var digest string
	operation := func() error {
		d, err := p.digester.Digest(ctx, ref, cred)
		if err != nil {
			if types.IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		digest = d
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(p.newBackOff(), ctx)); err != nil {
		return ref, err
	}
	return ref.WithDigest(digest), nil
}
