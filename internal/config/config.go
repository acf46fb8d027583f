package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rzbill/aideploy/pkg/builder"
	"github.com/rzbill/aideploy/pkg/docker"
	"github.com/rzbill/aideploy/pkg/log"
	"github.com/rzbill/aideploy/pkg/registry/auth"
	"github.com/rzbill/aideploy/pkg/secrets"
	"github.com/rzbill/aideploy/pkg/types"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var (
	// DefaultProject is the Google Cloud project deployed to when none is given.
	DefaultProject = "biso-event"
	// DefaultService is the Cloud Run service name.
	DefaultService = "ai-content-service"
	// DefaultRegion is the Cloud Run region.
	DefaultRegion = "us-central1"
	// DefaultSecretName is the Secret Manager entry holding the API key.
	DefaultSecretName = "openai-api-key"
)

// EnvPrefix prefixes every environment override, e.g. AIDEPLOY_SECRET_BACKEND.
const EnvPrefix = "AIDEPLOY"

type Build struct {
	Strategy   string            `mapstructure:"strategy" yaml:"strategy"`
	SourceDir  string            `mapstructure:"source_dir" yaml:"source_dir"`
	Dockerfile string            `mapstructure:"dockerfile" yaml:"dockerfile"`
	Platform   string            `mapstructure:"platform" yaml:"platform"`
	Timeout    string            `mapstructure:"timeout" yaml:"timeout"`
	NoCache    bool              `mapstructure:"no_cache" yaml:"no_cache"`
	Args       map[string]string `mapstructure:"args" yaml:"args,omitempty"`
}

type Secret struct {
	Name        string `mapstructure:"name" yaml:"name"`
	EnvVar      string `mapstructure:"env_var" yaml:"env_var"`
	Mode        string `mapstructure:"mode" yaml:"mode"`
	Backend     string `mapstructure:"backend" yaml:"backend"`
	GrantMember string `mapstructure:"grant_member" yaml:"grant_member"`
	LocalPath   string `mapstructure:"local_path" yaml:"local_path"`
	KEKFile     string `mapstructure:"kek_file" yaml:"kek_file"`
}

type Deploy struct {
	Memory       string            `mapstructure:"memory" yaml:"memory"`
	CPU          string            `mapstructure:"cpu" yaml:"cpu"`
	MinInstances int               `mapstructure:"min_instances" yaml:"min_instances"`
	MaxInstances int               `mapstructure:"max_instances" yaml:"max_instances"`
	Port         int               `mapstructure:"port" yaml:"port"`
	Concurrency  int               `mapstructure:"concurrency" yaml:"concurrency"`
	Timeout      time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	Network      string            `mapstructure:"network" yaml:"network"`
	Env          map[string]string `mapstructure:"env" yaml:"env,omitempty"`
	Labels       map[string]string `mapstructure:"labels" yaml:"labels,omitempty"`
}

type Pipeline struct {
	Retries         int           `mapstructure:"retries" yaml:"retries"`
	ParallelSecrets bool          `mapstructure:"parallel_secrets" yaml:"parallel_secrets"`
	LocateTimeout   time.Duration `mapstructure:"locate_timeout" yaml:"locate_timeout"`
	ReadyTimeout    time.Duration `mapstructure:"ready_timeout" yaml:"ready_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

type Registry struct {
	// Auth lists credential sources, first match wins
	Auth []auth.Config `mapstructure:"auth" yaml:"auth"`
}

type Config struct {
	Project  string        `mapstructure:"project" yaml:"project"`
	Region   string        `mapstructure:"region" yaml:"region"`
	Service  string        `mapstructure:"service" yaml:"service"`
	Image    string        `mapstructure:"image" yaml:"image"`
	GCloud   string        `mapstructure:"gcloud" yaml:"gcloud"`
	Build    Build         `mapstructure:"build" yaml:"build"`
	Secret   Secret        `mapstructure:"secret" yaml:"secret"`
	Deploy   Deploy        `mapstructure:"deploy" yaml:"deploy"`
	Pipeline Pipeline      `mapstructure:"pipeline" yaml:"pipeline"`
	Registry Registry      `mapstructure:"registry" yaml:"registry"`
	Docker   docker.Config `mapstructure:"docker" yaml:"docker"`
	Log      log.Config    `mapstructure:"log" yaml:"log"`
}

func Default() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Project: DefaultProject,
		Region:  DefaultRegion,
		Service: DefaultService,
		GCloud:  "gcloud",
		Build: Build{
			Strategy:   string(builder.StrategyRemote),
			SourceDir:  ".",
			Dockerfile: builder.DefaultDockerfile,
			Platform:   "linux/amd64",
			Timeout:    "20m",
		},
		Secret: Secret{
			Name:      DefaultSecretName,
			EnvVar:    types.DefaultCredentialEnvVar,
			Mode:      string(types.CredentialModeSecret),
			Backend:   secrets.BackendGCloud,
			LocalPath: filepath.Join(dataDir, "secrets"),
			KEKFile:   filepath.Join(dataDir, "kek.key"),
		},
		Deploy: Deploy{
			Memory:       types.DefaultMemory,
			MinInstances: types.DefaultMinInstances,
			Port:         types.DefaultPort,
			Network:      string(types.NetworkPolicyPublic),
		},
		Pipeline: Pipeline{
			Retries:       3,
			LocateTimeout: 2 * time.Minute,
			ReadyTimeout:  5 * time.Minute,
			PollInterval:  2 * time.Second,
		},
		Docker: docker.DefaultConfig(),
		Log:    *log.DefaultConfig(),
	}
}

func defaultDataDir() string {
	home, _ := os.UserHomeDir()
	if home == "" {
		return "./.aideploy"
	}
	return filepath.Join(home, ".aideploy")
}

// New returns a viper instance carrying every default, reading AIDEPLOY_*
// environment overrides.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// setDefaults registers every key so env overrides reach Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("project", d.Project)
	v.SetDefault("region", d.Region)
	v.SetDefault("service", d.Service)
	v.SetDefault("image", d.Image)
	v.SetDefault("gcloud", d.GCloud)

	v.SetDefault("build.strategy", d.Build.Strategy)
	v.SetDefault("build.source_dir", d.Build.SourceDir)
	v.SetDefault("build.dockerfile", d.Build.Dockerfile)
	v.SetDefault("build.platform", d.Build.Platform)
	v.SetDefault("build.timeout", d.Build.Timeout)
	v.SetDefault("build.no_cache", d.Build.NoCache)

	v.SetDefault("secret.name", d.Secret.Name)
	v.SetDefault("secret.env_var", d.Secret.EnvVar)
	v.SetDefault("secret.mode", d.Secret.Mode)
	v.SetDefault("secret.backend", d.Secret.Backend)
	v.SetDefault("secret.grant_member", d.Secret.GrantMember)
	v.SetDefault("secret.local_path", d.Secret.LocalPath)
	v.SetDefault("secret.kek_file", d.Secret.KEKFile)

	v.SetDefault("deploy.memory", d.Deploy.Memory)
	v.SetDefault("deploy.cpu", d.Deploy.CPU)
	v.SetDefault("deploy.min_instances", d.Deploy.MinInstances)
	v.SetDefault("deploy.max_instances", d.Deploy.MaxInstances)
	v.SetDefault("deploy.port", d.Deploy.Port)
	v.SetDefault("deploy.concurrency", d.Deploy.Concurrency)
	v.SetDefault("deploy.timeout", d.Deploy.Timeout)
	v.SetDefault("deploy.network", d.Deploy.Network)

	v.SetDefault("pipeline.retries", d.Pipeline.Retries)
	v.SetDefault("pipeline.parallel_secrets", d.Pipeline.ParallelSecrets)
	v.SetDefault("pipeline.locate_timeout", d.Pipeline.LocateTimeout)
	v.SetDefault("pipeline.ready_timeout", d.Pipeline.ReadyTimeout)
	v.SetDefault("pipeline.poll_interval", d.Pipeline.PollInterval)

	v.SetDefault("docker.host", d.Docker.Host)
	v.SetDefault("docker.api_version", d.Docker.APIVersion)
	v.SetDefault("docker.fallback_api_version", d.Docker.FallbackAPIVersion)
	v.SetDefault("docker.negotiation_timeout", d.Docker.NegotiationTimeout)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.enable_caller", d.Log.EnableCaller)
	v.SetDefault("log.redacted_fields", d.Log.RedactedFields)
}

// Load reads path, or aideploy.yaml from the search path when path is
// empty. A missing default file is not an error; a missing explicit one is.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("aideploy")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".aideploy"))
		}
		v.AddConfigPath("/etc/aideploy/")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, types.NewError(types.KindValidation, "load config", fmt.Errorf("failed to read config: %w", err))
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, types.NewError(types.KindValidation, "load config", fmt.Errorf("failed to parse config: %w", err))
	}
	return cfg, nil
}

// ImageRef returns the configured image, or gcr.io/<project>/<service>:latest.
func (c *Config) ImageRef() (types.ImageReference, error) {
	image := c.Image
	if image == "" {
		image = fmt.Sprintf("gcr.io/%s/%s:%s", c.Project, c.Service, types.DefaultImageTag)
	}
	return types.ParseImageReference(image)
}

// Resources returns the deploy resources with defaults applied.
func (c *Config) Resources() types.Resources {
	return types.Resources{
		Memory:         c.Deploy.Memory,
		CPU:            c.Deploy.CPU,
		MinInstances:   c.Deploy.MinInstances,
		MaxInstances:   c.Deploy.MaxInstances,
		Port:           c.Deploy.Port,
		Concurrency:    c.Deploy.Concurrency,
		RequestTimeout: c.Deploy.Timeout,
	}.WithDefaults()
}

// SecretsConfig returns the secret backend settings.
func (c *Config) SecretsConfig() secrets.Config {
	return secrets.Config{
		Backend:   c.Secret.Backend,
		LocalPath: c.Secret.LocalPath,
		KEKFile:   c.Secret.KEKFile,
	}
}

// Validate checks enumerated values so typos fail before any external call.
func (c *Config) Validate() error {
	if c.Project == "" {
		return types.NewValidationError("project is required")
	}
	if _, err := builder.ParseStrategy(c.Build.Strategy); err != nil {
		return err
	}
	if _, err := types.ParseCredentialMode(c.Secret.Mode); err != nil {
		return err
	}
	if _, err := types.ParseNetworkPolicy(c.Deploy.Network); err != nil {
		return err
	}
	switch c.Secret.Backend {
	case secrets.BackendGCloud, secrets.BackendLocal, "":
	default:
		return types.NewValidationError(fmt.Sprintf("unknown secret backend %q (want gcloud or local)", c.Secret.Backend))
	}
	if c.Pipeline.Retries < 0 {
		return types.NewValidationError("pipeline.retries cannot be negative")
	}
	if _, err := c.ImageRef(); err != nil {
		return err
	}
	return c.Resources().Validate()
}

// YAML renders the configuration with registry credentials masked.
func (c *Config) YAML() ([]byte, error) {
	view := *c
	view.Registry.Auth = make([]auth.Config, len(c.Registry.Auth))
	for i, a := range c.Registry.Auth {
		a.Password = maskLiteral(a.Password)
		a.Token = maskLiteral(a.Token)
		a.DockerConfigJSON = maskLiteral(a.DockerConfigJSON)
		view.Registry.Auth[i] = a
	}
	return yaml.Marshal(&view)
}

// maskLiteral hides inline values but keeps ${VAR} references readable.
func maskLiteral(s string) string {
	if s == "" || (strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}")) || strings.HasPrefix(s, "$") {
		return s
	}
	return log.Redacted
}
