package secrets

import (
	"context"
	"fmt"
	"time"

	"github.com/rzbill/aideploy/pkg/gcloud"
	"github.com/rzbill/aideploy/pkg/types"
)

// GCloudStore is Secret Manager through the gcloud CLI.
type GCloudStore struct {
	client *gcloud.Client
}

// NewGCloudStore creates a Secret Manager backed store.
func NewGCloudStore(client *gcloud.Client) *GCloudStore {
	return &GCloudStore{client: client}
}

// Describe returns the secret and its versions.
func (s *GCloudStore) Describe(ctx context.Context, name string) (*types.SecretRecord, error) {
	record, err := s.client.DescribeSecret(ctx, name)
	if err != nil {
		return nil, translate(err)
	}
	versions, err := s.Versions(ctx, name)
	if err != nil {
		return nil, err
	}
	record.Versions = versions
	return record, nil
}

// Create creates the secret with its first version.
func (s *GCloudStore) Create(ctx context.Context, name string, payload []byte) (types.SecretVersion, error) {
	if err := s.client.CreateSecret(ctx, name, payload); err != nil {
		return types.SecretVersion{}, translate(err)
	}
	return types.SecretVersion{
		Name:      name,
		ID:        "1",
		State:     types.SecretVersionEnabled,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// AddVersion appends a version.
func (s *GCloudStore) AddVersion(ctx context.Context, name string, payload []byte) (types.SecretVersion, error) {
	v, err := s.client.AddSecretVersion(ctx, name, payload)
	if err != nil {
		return types.SecretVersion{}, translate(err)
	}
	return v, nil
}

// Access returns a version's payload.
func (s *GCloudStore) Access(ctx context.Context, name, version string) ([]byte, error) {
	payload, err := s.client.AccessSecretVersion(ctx, name, version)
	if err != nil {
		return nil, translate(err)
	}
	return payload, nil
}

// Versions lists versions, oldest first.
func (s *GCloudStore) Versions(ctx context.Context, name string) ([]types.SecretVersion, error) {
	versions, err := s.client.ListSecretVersions(ctx, name)
	if err != nil {
		return nil, translate(err)
	}
	return versions, nil
}

// Grant adds a secretAccessor binding for member.
func (s *GCloudStore) Grant(ctx context.Context, name, member string) error {
	return translate(s.client.AddSecretIAMBinding(ctx, name, member, gcloud.SecretAccessorRole))
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case gcloud.IsNotFound(err):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case gcloud.IsAlreadyExists(err):
		return fmt.Errorf("%w: %w", ErrAlreadyExists, err)
	default:
		return err
	}
}
