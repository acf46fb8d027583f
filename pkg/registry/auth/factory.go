package auth

import (
	"fmt"
	"os"

	"github.com/rzbill/aideploy/pkg/types"
)

// Config describes one registry credential source. Secret fields accept
// ${VAR} references so values need not live in the config file.
type Config struct {
	Registry         string `mapstructure:"registry" yaml:"registry"`
	Type             string `mapstructure:"type" yaml:"type"`
	Username         string `mapstructure:"username" yaml:"username,omitempty"`
	Password         string `mapstructure:"password" yaml:"password,omitempty"`
	Token            string `mapstructure:"token" yaml:"token,omitempty"`
	Region           string `mapstructure:"region" yaml:"region,omitempty"`
	DockerConfigJSON string `mapstructure:"dockerconfigjson" yaml:"dockerconfigjson,omitempty"`
	DockerConfigFile string `mapstructure:"dockerconfig_file" yaml:"dockerconfig_file,omitempty"`
}

// BuildProviders constructs providers from configuration. tokens backs the
// gcloud provider and may be nil when none is configured.
func BuildProviders(cfgs []Config, tokens TokenSource) ([]Provider, error) {
	var out []Provider
	for i, c := range cfgs {
		if c.Registry == "" && c.Type != "gcloud" {
			return nil, types.NewValidationError(fmt.Sprintf("registry.auth[%d]: registry is required", i))
		}
		switch c.Type {
		case "basic":
			out = append(out, NewBasicTokenProvider(BasicTokenConfig{
				Registry: c.Registry,
				Username: os.ExpandEnv(c.Username),
				Password: os.ExpandEnv(c.Password),
			}))
		case "token":
			out = append(out, NewBasicTokenProvider(BasicTokenConfig{
				Registry: c.Registry,
				Token:    os.ExpandEnv(c.Token),
			}))
		case "dockerconfigjson":
			raw := c.DockerConfigJSON
			if c.DockerConfigFile != "" {
				b, err := os.ReadFile(os.ExpandEnv(c.DockerConfigFile))
				if err != nil {
					return nil, types.NewError(types.KindEnvironment, "read docker config", err)
				}
				raw = string(b)
			}
			if raw == "" {
				return nil, types.NewValidationError(fmt.Sprintf("registry.auth[%d]: dockerconfigjson requires dockerconfigjson or dockerconfig_file", i))
			}
			out = append(out, NewDockerConfigJSONProvider(c.Registry, raw))
		case "ecr":
			out = append(out, NewECRProvider(ECRConfig{Registry: c.Registry, Region: c.Region}))
		case "gcloud":
			if tokens == nil {
				return nil, types.NewValidationError(fmt.Sprintf("registry.auth[%d]: gcloud auth needs a token source", i))
			}
			var patterns []string
			if c.Registry != "" {
				patterns = []string{c.Registry}
			}
			out = append(out, NewGCloudProvider(tokens, patterns...))
		default:
			return nil, types.NewValidationError(fmt.Sprintf("registry.auth[%d]: unknown auth type %q", i, c.Type))
		}
	}
	return out, nil
}
