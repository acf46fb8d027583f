package secrets

import (
	"context"
	"strings"

	"github.com/rzbill/aideploy/pkg/log"
	"github.com/rzbill/aideploy/pkg/types"
)

// Provisioner makes a value the latest version of a named secret.
type Provisioner struct {
	store       Store
	grantMember string
	logger      log.Logger
}

// ProvisionerOption configures a Provisioner.
type ProvisionerOption func(*Provisioner)

// WithGrantMember grants member read access after each Ensure.
func WithGrantMember(member string) ProvisionerOption {
	return func(p *Provisioner) {
		p.grantMember = member
	}
}

// WithProvisionerLogger sets the logger.
func WithProvisionerLogger(logger log.Logger) ProvisionerOption {
	return func(p *Provisioner) {
		p.logger = logger
	}
}

// NewProvisioner creates a provisioner over store.
func NewProvisioner(store Store, opts ...ProvisionerOption) *Provisioner {
	p := &Provisioner{store: store, logger: log.GetDefaultLogger()}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithComponent("secrets")
	return p
}

// Store returns the backing store.
func (p *Provisioner) Store() Store {
	return p.store
}

// Ensure creates the secret or appends a version, and returns the version
// now at "latest". Prior versions are left untouched.
func (p *Provisioner) Ensure(ctx context.Context, name, value string) (*types.SecretVersion, error) {
	if err := types.ValidateSecretName(name); err != nil {
		return nil, err
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, types.NewValidationError("secret value is empty")
	}
	log.Mask(value)
	payload := []byte(value)

	var (
		version types.SecretVersion
		err     error
	)
	_, err = p.store.Describe(ctx, name)
	switch {
	case err == nil:
		version, err = p.store.AddVersion(ctx, name, payload)
	case IsNotFound(err):
		version, err = p.store.Create(ctx, name, payload)
		if IsAlreadyExists(err) {
			p.logger.Debug("Secret created concurrently, appending version", log.Str("secret", name))
			version, err = p.store.AddVersion(ctx, name, payload)
		}
	}
	if err != nil {
		return nil, err
	}

	if p.grantMember != "" {
		if err := p.store.Grant(ctx, name, p.grantMember); err != nil {
			return nil, err
		}
	}

	p.logger.Info("Provisioned secret version",
		log.Str("secret", name),
		log.Str("version", version.ID))
	return &version, nil
}
