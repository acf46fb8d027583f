// Package secrets provisions the service credential into a versioned
// secret store.
package secrets

import (
	"context"
	"errors"

	"github.com/rzbill/aideploy/pkg/types"
)

var (
	// ErrNotFound is returned for a missing secret or version.
	ErrNotFound = errors.New("secret not found")

	// ErrAlreadyExists is returned by Create when the secret exists.
	ErrAlreadyExists = errors.New("secret already exists")
)

// Store is a versioned secret store. Versions are append-only.
type Store interface {
	// Describe returns the secret with its versions, oldest first.
	Describe(ctx context.Context, name string) (*types.SecretRecord, error)

	// Create creates the secret with payload as its first version.
	Create(ctx context.Context, name string, payload []byte) (types.SecretVersion, error)

	// AddVersion appends payload as a new version.
	AddVersion(ctx context.Context, name string, payload []byte) (types.SecretVersion, error)

	// Access returns the payload of version, which may be "latest".
	Access(ctx context.Context, name, version string) ([]byte, error)

	// Versions lists versions, oldest first.
	Versions(ctx context.Context, name string) ([]types.SecretVersion, error)

	// Grant lets member read the secret.
	Grant(ctx context.Context, name, member string) error
}

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists reports whether err is ErrAlreadyExists.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}
