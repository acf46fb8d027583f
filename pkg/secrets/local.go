package secrets

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rzbill/aideploy/pkg/crypto"
	"github.com/rzbill/aideploy/pkg/log"
	"github.com/rzbill/aideploy/pkg/store"
	"github.com/rzbill/aideploy/pkg/types"
)

const (
	kindSecret        = "secret"
	kindSecretVersion = "secret-version"
)

type versionDoc struct {
	Envelope crypto.Envelope `json:"envelope"`
}

// LocalStore keeps envelope-encrypted secrets in a local key-value store.
// It has no access control, so Grant is a no-op.
type LocalStore struct {
	store  store.Store
	kek    []byte
	logger log.Logger
}

// NewLocalStore creates a store over an opened key-value store. kek wraps
// the per-version data keys.
func NewLocalStore(st store.Store, kek []byte, logger log.Logger) (*LocalStore, error) {
	if len(kek) != crypto.KeySize {
		return nil, types.NewValidationError(fmt.Sprintf("key-encryption key must be %d bytes", crypto.KeySize))
	}
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &LocalStore{store: st, kek: kek, logger: logger.WithComponent("secret-store")}, nil
}

// Describe returns the secret and its versions.
func (s *LocalStore) Describe(ctx context.Context, name string) (*types.SecretRecord, error) {
	var record types.SecretRecord
	if err := s.store.Get(ctx, kindSecret, name, &record); err != nil {
		return nil, s.wrap("describe", name, err)
	}
	return &record, nil
}

// Create creates the secret with its first version.
func (s *LocalStore) Create(ctx context.Context, name string, payload []byte) (types.SecretVersion, error) {
	now := time.Now().UTC()
	v := types.SecretVersion{Name: name, ID: "1", State: types.SecretVersionEnabled, CreatedAt: now}
	env, err := crypto.SealEnvelope(s.kek, payload, versionAAD(name, v.ID))
	if err != nil {
		return types.SecretVersion{}, types.NewError(types.KindUnknown, "seal secret", err)
	}

	err = s.store.Transaction(ctx, func(tx store.Transaction) error {
		record := types.SecretRecord{Name: name, CreatedAt: now, Versions: []types.SecretVersion{v}}
		if err := tx.Create(kindSecret, name, &record); err != nil {
			return err
		}
		return tx.Put(kindSecretVersion, versionKey(name, v.ID), &versionDoc{Envelope: *env})
	})
	if err != nil {
		return types.SecretVersion{}, s.wrap("create", name, err)
	}
	return v, nil
}

// AddVersion appends a version. The version id is assigned inside the
// transaction, so ids stay dense and ordered.
func (s *LocalStore) AddVersion(ctx context.Context, name string, payload []byte) (types.SecretVersion, error) {
	var added types.SecretVersion
	err := s.store.Transaction(ctx, func(tx store.Transaction) error {
		var record types.SecretRecord
		if err := tx.Get(kindSecret, name, &record); err != nil {
			return err
		}
		added = types.SecretVersion{
			Name:      name,
			ID:        strconv.Itoa(len(record.Versions) + 1),
			State:     types.SecretVersionEnabled,
			CreatedAt: time.Now().UTC(),
		}
		env, err := crypto.SealEnvelope(s.kek, payload, versionAAD(name, added.ID))
		if err != nil {
			return fmt.Errorf("failed to seal secret: %w", err)
		}
		record.Versions = append(record.Versions, added)
		if err := tx.Put(kindSecret, name, &record); err != nil {
			return err
		}
		return tx.Put(kindSecretVersion, versionKey(name, added.ID), &versionDoc{Envelope: *env})
	})
	if err != nil {
		return types.SecretVersion{}, s.wrap("add version", name, err)
	}
	return added, nil
}

// Access decrypts one version.
func (s *LocalStore) Access(ctx context.Context, name, version string) ([]byte, error) {
	record, err := s.Describe(ctx, name)
	if err != nil {
		return nil, err
	}
	v, ok := record.Version(version)
	if !ok {
		return nil, types.NewError(types.KindRejected, "access secret",
			fmt.Errorf("%s version %s: %w", name, version, ErrNotFound))
	}

	var doc versionDoc
	if err := s.store.Get(ctx, kindSecretVersion, versionKey(name, v.ID), &doc); err != nil {
		return nil, s.wrap("access", name, err)
	}
	payload, err := crypto.OpenEnvelope(s.kek, &doc.Envelope, versionAAD(name, v.ID))
	if err != nil {
		return nil, types.NewError(types.KindAuth, "open secret", err).
			WithHelp("the master key does not match the key that sealed this store; check " + crypto.DefaultKEKEnvVar)
	}
	return payload, nil
}

// Versions lists versions, oldest first.
func (s *LocalStore) Versions(ctx context.Context, name string) ([]types.SecretVersion, error) {
	record, err := s.Describe(ctx, name)
	if err != nil {
		return nil, err
	}
	return record.Versions, nil
}

// Grant is a no-op for the local store.
func (s *LocalStore) Grant(ctx context.Context, name, member string) error {
	s.logger.Debug("Local secret store has no access control, skipping grant",
		log.Str("secret", name), log.Str("member", member))
	return nil
}

func (s *LocalStore) wrap(op, name string, err error) error {
	switch {
	case store.IsNotFound(err):
		return types.NewError(types.KindRejected, "local secret "+op, fmt.Errorf("%s: %w", name, ErrNotFound))
	case store.IsAlreadyExists(err):
		return types.NewError(types.KindRejected, "local secret "+op, fmt.Errorf("%s: %w", name, ErrAlreadyExists))
	default:
		return types.NewError(types.KindEnvironment, "local secret "+op, err)
	}
}

func versionKey(name, id string) string {
	return name + "@" + id
}

// versionAAD binds a ciphertext to its secret and version.
func versionAAD(name, id string) []byte {
	return []byte(name + "|" + id)
}
