// Package auth resolves registry credentials for image pushes and
// manifest lookups.
package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/registry"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/rzbill/aideploy/pkg/log"
	"github.com/rzbill/aideploy/pkg/types"
)

// Credential is a resolved username/password pair for one registry host.
type Credential struct {
	Username      string
	Password      string
	ServerAddress string
}

// Encode returns the base64 RegistryAuth header value the Engine API expects.
func (c *Credential) Encode() (string, error) {
	if c == nil {
		return "", nil
	}
	return registry.EncodeAuthConfig(registry.AuthConfig{
		Username:      c.Username,
		Password:      c.Password,
		ServerAddress: c.ServerAddress,
	})
}

// Authenticator adapts the credential for go-containerregistry. A nil
// credential is anonymous.
func (c *Credential) Authenticator() authn.Authenticator {
	if c == nil {
		return authn.Anonymous
	}
	return authn.FromConfig(authn.AuthConfig{Username: c.Username, Password: c.Password})
}

// String never includes the password.
func (c *Credential) String() string {
	if c == nil {
		return "anonymous"
	}
	return fmt.Sprintf("%s@%s", c.Username, c.ServerAddress)
}

// Provider supplies credentials for the registry hosts it matches.
type Provider interface {
	Match(host string) bool
	Resolve(ctx context.Context, host string) (*Credential, error)
}

// hostMatches supports exact hosts and a single leading wildcard, e.g.
// "*.gcr.io" or "*-docker.pkg.dev".
func hostMatches(pattern, host string) bool {
	if pattern == "" {
		return false
	}
	if !strings.Contains(pattern, "*") {
		return strings.EqualFold(pattern, host)
	}
	idx := strings.Index(pattern, "*")
	prefix := pattern[:idx]
	suffix := pattern[idx+1:]
	return len(host) > len(prefix)+len(suffix) &&
		strings.HasPrefix(strings.ToLower(host), strings.ToLower(prefix)) &&
		strings.HasSuffix(strings.ToLower(host), strings.ToLower(suffix))
}

func newCredential(username, password, host string) *Credential {
	log.Mask(password)
	return &Credential{Username: username, Password: password, ServerAddress: host}
}

// Resolver asks providers in order and uses the first one that matches.
type Resolver struct {
	providers []Provider
	logger    log.Logger
}

// NewResolver creates a resolver over providers.
func NewResolver(logger log.Logger, providers ...Provider) *Resolver {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &Resolver{providers: providers, logger: logger.WithComponent("registry-auth")}
}

// Resolve returns the credential for host, or nil for anonymous access when
// no provider matches. A matching provider that fails is an AuthError.
func (r *Resolver) Resolve(ctx context.Context, host string) (*Credential, error) {
	if r == nil {
		return nil, nil
	}
	for _, p := range r.providers {
		if !p.Match(host) {
			continue
		}
		cred, err := p.Resolve(ctx, host)
		if err != nil {
			if types.KindOf(err) != types.KindUnknown {
				return nil, err
			}
			return nil, types.NewError(types.KindAuth, "resolve registry credentials", fmt.Errorf("%s: %w", host, err))
		}
		if cred != nil {
			r.logger.Debug("Resolved registry credentials", log.Str("host", host), log.Str("user", cred.Username))
			return cred, nil
		}
	}
	r.logger.Debug("No registry credentials configured, using anonymous access", log.Str("host", host))
	return nil, nil
}
