package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rzbill/aideploy/pkg/types"
)

const dockerHubKey = "https://index.docker.io/v1/"

// DockerConfigJSONProvider resolves credentials from a .dockerconfigjson blob.
type DockerConfigJSONProvider struct {
	registryPattern string
	rawJSON         string
}

// NewDockerConfigJSONProvider creates a provider over raw config JSON.
func NewDockerConfigJSONProvider(registryPattern, raw string) *DockerConfigJSONProvider {
	return &DockerConfigJSONProvider{registryPattern: registryPattern, rawJSON: raw}
}

// Match reports whether host is covered by the configured pattern.
func (p *DockerConfigJSONProvider) Match(host string) bool {
	return hostMatches(p.registryPattern, host)
}

// Resolve looks up host under "auths". A malformed blob is an AuthError
// rather than a silent fallback to anonymous.
func (p *DockerConfigJSONProvider) Resolve(ctx context.Context, host string) (*Credential, error) {
	var dcj struct {
		Auths map[string]struct {
			Auth          string `json:"auth"`
			Username      string `json:"username"`
			Password      string `json:"password"`
			IdentityToken string `json:"identitytoken"`
		} `json:"auths"`
	}
	if err := json.Unmarshal([]byte(p.rawJSON), &dcj); err != nil {
		return nil, types.NewError(types.KindAuth, "parse docker config", err)
	}

	for key, v := range dcj.Auths {
		if !configKeyMatches(key, host) {
			continue
		}
		switch {
		case v.Auth != "":
			dec, err := base64.StdEncoding.DecodeString(v.Auth)
			if err != nil {
				return nil, types.NewError(types.KindAuth, "parse docker config", fmt.Errorf("auth for %s is not base64: %w", key, err))
			}
			parts := strings.SplitN(string(dec), ":", 2)
			if len(parts) != 2 {
				return nil, types.Errorf(types.KindAuth, "parse docker config", "auth for %s is not user:password", key)
			}
			return newCredential(parts[0], parts[1], host), nil
		case v.Username != "" && v.Password != "":
			return newCredential(v.Username, v.Password, host), nil
		case v.IdentityToken != "":
			return newCredential("token", v.IdentityToken, host), nil
		}
	}
	return nil, nil
}

// configKeyMatches accepts bare hosts and URL-style keys such as
// "https://gcr.io" or the Docker Hub index URL.
func configKeyMatches(key, host string) bool {
	if key == dockerHubKey {
		return host == "docker.io" || host == "index.docker.io"
	}
	k := strings.TrimPrefix(strings.TrimPrefix(key, "https://"), "http://")
	k = strings.SplitN(k, "/", 2)[0]
	return strings.EqualFold(k, host)
}
