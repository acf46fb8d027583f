package cmd

import (
	"context"
	"io"

	"github.com/docker/docker/client"
	"github.com/rzbill/aideploy/pkg/builder"
	"github.com/rzbill/aideploy/pkg/deployer"
	"github.com/rzbill/aideploy/pkg/docker"
	"github.com/rzbill/aideploy/pkg/gcloud"
	"github.com/rzbill/aideploy/pkg/locator"
	"github.com/rzbill/aideploy/pkg/pipeline"
	"github.com/rzbill/aideploy/pkg/registry"
	"github.com/rzbill/aideploy/pkg/registry/auth"
	"github.com/rzbill/aideploy/pkg/secrets"
	"github.com/rzbill/aideploy/pkg/types"
)

// closers releases resources in reverse order of acquisition.
type closers []func() error

func (c *closers) add(fn func() error) {
	*c = append(*c, fn)
}

func (c closers) Close() error {
	var first error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (a *app) gcloud() *gcloud.Client {
	return gcloud.NewClient(a.runner, a.cfg.Project,
		gcloud.WithBinary(a.cfg.GCloud),
		gcloud.WithLogger(a.logger))
}

func (a *app) dockerClient(ctx context.Context, c *closers) (*client.Client, error) {
	cli, err := docker.NewClient(ctx, a.logger, a.cfg.Docker)
	if err != nil {
		return nil, err
	}
	c.add(cli.Close)
	return cli, nil
}

// builder returns the configured strategy. The docker client is only
// created for local builds, and is returned for reuse by the publisher.
func (a *app) builder(ctx context.Context, gc *gcloud.Client, c *closers) (builder.Builder, *client.Client, error) {
	strategy, err := builder.ParseStrategy(a.cfg.Build.Strategy)
	if err != nil {
		return nil, nil, err
	}
	if strategy == builder.StrategyRemote {
		return builder.NewRemoteBuilder(gc, a.logger), nil, nil
	}
	cli, err := a.dockerClient(ctx, c)
	if err != nil {
		return nil, nil, err
	}
	return builder.NewLocalBuilder(cli, a.logger), cli, nil
}

// resolver builds registry credential providers from config. Google
// registries always resolve through the gcloud access token.
func (a *app) resolver(gc *gcloud.Client) (*auth.Resolver, error) {
	providers, err := auth.BuildProviders(a.cfg.Registry.Auth, gc)
	if err != nil {
		return nil, err
	}
	providers = append(providers, auth.NewGCloudProvider(gc))
	return auth.NewResolver(a.logger, providers...), nil
}

// publisher creates a publisher. api may be nil when nothing is pushed
// through the local daemon. extra options are applied last.
func (a *app) publisher(gc *gcloud.Client, api registry.PushAPI, extra ...registry.Option) (*registry.DockerPublisher, error) {
	resolver, err := a.resolver(gc)
	if err != nil {
		return nil, err
	}
	opts := []registry.Option{
		registry.WithCredentialHelper(gc, auth.GoogleRegistryPatterns...),
		registry.WithDigester(registry.NewRemoteDigester()),
		registry.WithLogger(a.logger),
	}
	if a.verbose {
		opts = append(opts, registry.WithProgress(a.errOut))
	}
	opts = append(opts, extra...)
	return registry.NewDockerPublisher(api, resolver, opts...), nil
}

func (a *app) secretStore(gc *gcloud.Client, c *closers) (secrets.Store, error) {
	st, closer, err := secrets.NewStore(a.cfg.SecretsConfig(), gc, a.logger)
	if err != nil {
		return nil, err
	}
	c.add(closer.Close)
	return st, nil
}

func (a *app) provisioner(gc *gcloud.Client, c *closers) (*secrets.Provisioner, error) {
	st, err := a.secretStore(gc, c)
	if err != nil {
		return nil, err
	}
	opts := []secrets.ProvisionerOption{secrets.WithProvisionerLogger(a.logger)}
	if a.cfg.Secret.GrantMember != "" {
		opts = append(opts, secrets.WithGrantMember(a.cfg.Secret.GrantMember))
	}
	return secrets.NewProvisioner(st, opts...), nil
}

func (a *app) cloudRun(gc *gcloud.Client) *deployer.CloudRunDeployer {
	return deployer.NewCloudRunDeployer(gc, deployer.WithLogger(a.logger))
}

func (a *app) locator(d *deployer.CloudRunDeployer) *locator.Locator {
	return locator.New(d, a.cfg.Region,
		locator.WithTimeout(a.cfg.Pipeline.LocateTimeout),
		locator.WithPollInterval(a.cfg.Pipeline.PollInterval),
		locator.WithLogger(a.logger))
}

// pipeline wires every component. The returned closer must be closed once
// the run finishes.
func (a *app) pipeline(ctx context.Context, dryRun bool, progress io.Writer) (*pipeline.Pipeline, io.Closer, error) {
	c := &closers{}
	gc := a.gcloud()

	var (
		b   builder.Builder
		api registry.PushAPI
	)
	if dryRun {
		// a dry run never contacts the daemon
		strategy, err := builder.ParseStrategy(a.cfg.Build.Strategy)
		if err != nil {
			return nil, nil, err
		}
		b = strategyOnly(strategy)
	} else {
		built, cli, err := a.builder(ctx, gc, c)
		if err != nil {
			_ = c.Close()
			return nil, nil, err
		}
		b = built
		if cli != nil {
			api = cli
		}
	}

	// the pipeline retries the push step itself
	pub, err := a.publisher(gc, api, registry.WithBackOff(registry.NoRetry))
	if err != nil {
		_ = c.Close()
		return nil, nil, err
	}

	var prov pipeline.SecretProvisioner
	if !dryRun {
		p, err := a.provisioner(gc, c)
		if err != nil {
			_ = c.Close()
			return nil, nil, err
		}
		prov = p
	}

	cr := a.cloudRun(gc)
	orch := deployer.NewOrchestrator(cr,
		deployer.WithReadyTimeout(a.cfg.Pipeline.ReadyTimeout),
		deployer.WithPollInterval(a.cfg.Pipeline.PollInterval),
		deployer.WithOrchestratorLogger(a.logger))

	p := pipeline.New(pipeline.Deps{
		Builder:      b,
		Publisher:    pub,
		Secrets:      prov,
		Orchestrator: orch,
		Locator:      a.locator(cr),
	},
		pipeline.WithReporter(pipeline.NewLineReporter(progress)),
		pipeline.WithDryRunOutput(a.out),
		pipeline.WithLogger(a.logger))
	return p, c, nil
}

// strategyOnly names a strategy for dry-run rendering without a backend.
type strategyOnly builder.Strategy

func (s strategyOnly) Strategy() builder.Strategy { return builder.Strategy(s) }

func (s strategyOnly) Build(context.Context, builder.BuildRequest) (*builder.BuildResult, error) {
	return nil, errDryRun
}

var errDryRun = types.Errorf(types.KindUnknown, "build", "dry run does not build")
