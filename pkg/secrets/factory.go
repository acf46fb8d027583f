package secrets

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rzbill/aideploy/pkg/crypto"
	"github.com/rzbill/aideploy/pkg/gcloud"
	"github.com/rzbill/aideploy/pkg/log"
	"github.com/rzbill/aideploy/pkg/store"
	"github.com/rzbill/aideploy/pkg/types"
)

// Backend names a Store implementation.
const (
	BackendGCloud = "gcloud"
	BackendLocal  = "local"
)

// Config selects and configures the secret backend.
type Config struct {
	Backend   string `mapstructure:"backend" yaml:"backend"`
	LocalPath string `mapstructure:"local_path" yaml:"local_path"`
	KEKFile   string `mapstructure:"kek_file" yaml:"kek_file"`
}

// NewStore builds the configured backend. The returned closer releases the
// local database and is a no-op for gcloud.
func NewStore(cfg Config, client *gcloud.Client, logger log.Logger) (Store, io.Closer, error) {
	switch cfg.Backend {
	case BackendGCloud, "":
		return NewGCloudStore(client), closerFunc(func() error { return nil }), nil
	case BackendLocal:
		kek, err := crypto.LoadKEK(crypto.KEKOptions{
			EnvVar:            crypto.DefaultKEKEnvVar,
			FilePath:          os.ExpandEnv(cfg.KEKFile),
			GenerateIfMissing: true,
		})
		if err != nil {
			return nil, nil, types.NewError(types.KindEnvironment, "load master key", err)
		}
		path := os.ExpandEnv(cfg.LocalPath)
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, nil, types.NewError(types.KindEnvironment, "open local secret store", err)
		}
		db := store.NewBadgerStore(logger)
		if err := db.Open(path); err != nil {
			return nil, nil, types.NewError(types.KindEnvironment, "open local secret store", err)
		}
		local, err := NewLocalStore(db, kek, logger)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return local, db, nil
	default:
		return nil, nil, types.NewValidationError(fmt.Sprintf("unknown secret backend %q", cfg.Backend))
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
