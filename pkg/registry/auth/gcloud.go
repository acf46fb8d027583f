package auth

import (
	"context"
	"sync"
	"time"
)

// GoogleRegistryPatterns cover Container Registry and Artifact Registry.
var GoogleRegistryPatterns = []string{"gcr.io", "*.gcr.io", "*-docker.pkg.dev"}

// gcloudTokenTTL stays well under the one hour lifetime of gcloud tokens.
const gcloudTokenTTL = 30 * time.Minute

// TokenSource yields OAuth2 access tokens for the active account.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// GCloudProvider authenticates to Google registries with the active
// gcloud account's access token.
type GCloudProvider struct {
	source   TokenSource
	patterns []string
	now      func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewGCloudProvider creates a provider. With no patterns it matches
// GoogleRegistryPatterns.
func NewGCloudProvider(source TokenSource, patterns ...string) *GCloudProvider {
	if len(patterns) == 0 {
		patterns = GoogleRegistryPatterns
	}
	return &GCloudProvider{source: source, patterns: patterns, now: time.Now}
}

// Match reports whether host is a Google registry.
func (p *GCloudProvider) Match(host string) bool {
	return MatchesAny(p.patterns, host)
}

// Resolve returns "oauth2accesstoken" with a current access token.
func (p *GCloudProvider) Resolve(ctx context.Context, host string) (*Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token == "" || !p.now().Before(p.expires) {
		token, err := p.source.AccessToken(ctx)
		if err != nil {
			return nil, err
		}
		p.token = token
		p.expires = p.now().Add(gcloudTokenTTL)
	}
	return newCredential("oauth2accesstoken", p.token, host), nil
}

// MatchesAny reports whether host matches one of patterns.
func MatchesAny(patterns []string, host string) bool {
	for _, pattern := range patterns {
		if hostMatches(pattern, host) {
			return true
		}
	}
	return false
}
