// Package docker creates Docker Engine API clients and maps their errors
// and message streams onto aideploy's error kinds.
package docker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/client"
	"github.com/rzbill/aideploy/pkg/log"
	"github.com/rzbill/aideploy/pkg/types"
)

// Config holds Docker client configuration options
type Config struct {
	// Host overrides DOCKER_HOST when set
	Host string `mapstructure:"host" yaml:"host"`

	// APIVersion pins the API version; empty means negotiate
	APIVersion string `mapstructure:"api_version" yaml:"api_version"`

	// FallbackAPIVersion is used when the negotiated version is too new
	FallbackAPIVersion string `mapstructure:"fallback_api_version" yaml:"fallback_api_version"`

	// NegotiationTimeout bounds version negotiation and the ping
	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout" yaml:"negotiation_timeout"`
}

// DefaultConfig returns the default Docker configuration
func DefaultConfig() Config {
	return Config{
		FallbackAPIVersion: "1.43",
		NegotiationTimeout: 3 * time.Second,
	}
}

// NewClient creates a Docker client, negotiating the API version and
// falling back when the daemon rejects the negotiated one. An unreachable
// daemon is an EnvironmentError.
func NewClient(ctx context.Context, logger log.Logger, cfg Config) (*client.Client, error) {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	logger = logger.WithComponent("docker")

	opts := []client.Opt{client.FromEnv}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	if cfg.APIVersion != "" {
		logger.Debug("Using specified Docker API version", log.Str("api_version", cfg.APIVersion))
		opts = append(opts, client.WithVersion(cfg.APIVersion))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, types.NewError(types.KindEnvironment, "docker client", fmt.Errorf("failed to create Docker client: %w", err))
	}

	timeout := cfg.NegotiationTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().NegotiationTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if cfg.APIVersion == "" {
		cli.NegotiateAPIVersion(pingCtx)
		logger.Debug("Using negotiated Docker API version", log.Str("api_version", cli.ClientVersion()))
	}

	_, err = cli.Ping(pingCtx)
	if err != nil && isVersionMismatch(err) && cfg.FallbackAPIVersion != "" {
		logger.Warn("Docker API version mismatch, falling back to compatibility version",
			log.Str("current_version", cli.ClientVersion()),
			log.Str("fallback_version", cfg.FallbackAPIVersion),
			log.Err(err))
		_ = cli.Close()

		opts = append(opts, client.WithVersion(cfg.FallbackAPIVersion))
		cli, err = client.NewClientWithOpts(opts...)
		if err != nil {
			return nil, types.NewError(types.KindEnvironment, "docker client",
				fmt.Errorf("failed to create Docker client with fallback version %s: %w", cfg.FallbackAPIVersion, err))
		}
		_, err = cli.Ping(pingCtx)
	}
	if err != nil {
		_ = cli.Close()
		return nil, Classify("docker ping", err)
	}

	return cli, nil
}

func isVersionMismatch(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "client version") && strings.Contains(msg, "too new")
}
