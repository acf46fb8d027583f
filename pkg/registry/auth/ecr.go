package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/rzbill/aideploy/pkg/types"
)

const ecrRefreshMargin = 5 * time.Minute

// ECRConfig configures the ECR provider.
type ECRConfig struct {
	Registry string // pattern, e.g. *.dkr.ecr.us-east-1.amazonaws.com
	Region   string // optional override
}

// ECRAPI is the subset of the ECR client used here.
type ECRAPI interface {
	GetAuthorizationToken(ctx context.Context, params *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error)
}

// ECRProvider exchanges AWS credentials for a registry token and caches it
// until shortly before expiry.
type ECRProvider struct {
	cfg       ECRConfig
	newClient func(ctx context.Context, region string) (ECRAPI, error)
	now       func() time.Time

	mu    sync.Mutex
	cache map[string]ecrEntry
}

type ecrEntry struct {
	Username string
	Password string
	Expires  time.Time
}

// NewECRProvider creates a provider using the default AWS credential chain.
func NewECRProvider(cfg ECRConfig) *ECRProvider {
	return &ECRProvider{
		cfg:       cfg,
		newClient: defaultECRClient,
		now:       time.Now,
		cache:     make(map[string]ecrEntry),
	}
}

func defaultECRClient(ctx context.Context, region string) (ECRAPI, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return ecr.NewFromConfig(cfg), nil
}

// Match reports whether host is covered by the configured pattern.
func (p *ECRProvider) Match(host string) bool {
	return hostMatches(p.cfg.Registry, host)
}

// Resolve returns a cached token or fetches a fresh one.
func (p *ECRProvider) Resolve(ctx context.Context, host string) (*Credential, error) {
	p.mu.Lock()
	if ent, ok := p.cache[host]; ok && ent.Expires.Sub(p.now()) > ecrRefreshMargin {
		p.mu.Unlock()
		return newCredential(ent.Username, ent.Password, host), nil
	}
	p.mu.Unlock()

	username, password, exp, err := p.fetch(ctx, host)
	if err != nil {
		return nil, types.NewError(types.KindAuth, "ecr get-authorization-token", err).
			WithHelp("check AWS credentials (AWS_PROFILE, AWS_ACCESS_KEY_ID) and ecr:GetAuthorizationToken permission")
	}
	p.mu.Lock()
	p.cache[host] = ecrEntry{Username: username, Password: password, Expires: exp}
	p.mu.Unlock()
	return newCredential(username, password, host), nil
}

func (p *ECRProvider) fetch(ctx context.Context, host string) (string, string, time.Time, error) {
	region := p.cfg.Region
	if region == "" {
		// <account>.dkr.ecr.<region>.amazonaws.com
		parts := strings.Split(host, ".")
		if len(parts) >= 6 {
			region = parts[3]
		}
	}
	if region == "" {
		return "", "", time.Time{}, fmt.Errorf("no region for host %s", host)
	}
	cli, err := p.newClient(ctx, region)
	if err != nil {
		return "", "", time.Time{}, err
	}
	out, err := cli.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return "", "", time.Time{}, err
	}
	if len(out.AuthorizationData) == 0 {
		return "", "", time.Time{}, fmt.Errorf("empty authorization data")
	}
	var chosen ecrtypes.AuthorizationData
	for _, ad := range out.AuthorizationData {
		if ad.ProxyEndpoint != nil && strings.Contains(*ad.ProxyEndpoint, host) {
			chosen = ad
			break
		}
	}
	if chosen.AuthorizationToken == nil {
		chosen = out.AuthorizationData[0]
	}
	if chosen.AuthorizationToken == nil {
		return "", "", time.Time{}, fmt.Errorf("authorization data has no token")
	}
	tok, err := base64.StdEncoding.DecodeString(*chosen.AuthorizationToken)
	if err != nil {
		return "", "", time.Time{}, err
	}
	parts := strings.SplitN(string(tok), ":", 2)
	if len(parts) != 2 {
		return "", "", time.Time{}, fmt.Errorf("invalid token format")
	}
	exp := p.now().Add(12 * time.Hour)
	if chosen.ExpiresAt != nil {
		exp = *chosen.ExpiresAt
	}
	return parts[0], parts[1], exp, nil
}
