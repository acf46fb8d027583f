package auth

import (
	"context"
)

// BasicTokenConfig configures static credentials for a registry pattern.
type BasicTokenConfig struct {
	Registry string
	Username string
	Password string
	Token    string
}

// BasicTokenProvider returns static credentials. A bare token is sent with
// the username "token".
type BasicTokenProvider struct {
	cfg BasicTokenConfig
}

// NewBasicTokenProvider creates a static provider.
func NewBasicTokenProvider(cfg BasicTokenConfig) *BasicTokenProvider {
	return &BasicTokenProvider{cfg: cfg}
}

// Match reports whether host is covered by the configured pattern.
func (p *BasicTokenProvider) Match(host string) bool {
	return hostMatches(p.cfg.Registry, host)
}

// Resolve returns the configured credentials, or nil when none are set.
func (p *BasicTokenProvider) Resolve(ctx context.Context, host string) (*Credential, error) {
	username := p.cfg.Username
	password := p.cfg.Password
	if username == "" && password == "" && p.cfg.Token != "" {
		username = "token"
		password = p.cfg.Token
	}
	if username == "" || password == "" {
		return nil, nil
	}
	return newCredential(username, password, host), nil
}
