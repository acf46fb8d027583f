package crypto

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultKEKEnvVar holds a base64 key-encryption key when set.
const DefaultKEKEnvVar = "AIDEPLOY_MASTER_KEY"

// KEKOptions describes where the key-encryption key comes from. The env
// var wins over the file. A missing file is generated when
// GenerateIfMissing is set.
type KEKOptions struct {
	EnvVar            string
	FilePath          string
	GenerateIfMissing bool
}

// LoadKEK resolves a 32-byte key-encryption key according to opts.
func LoadKEK(opts KEKOptions) ([]byte, error) {
	if opts.EnvVar != "" {
		if v := os.Getenv(opts.EnvVar); v != "" {
			key, err := decodeKey([]byte(v))
			if err != nil {
				return nil, fmt.Errorf("invalid key in %s: %w", opts.EnvVar, err)
			}
			return key, nil
		}
	}

	if opts.FilePath == "" {
		return nil, errors.New("no key-encryption key: set a key file or env var")
	}

	raw, err := os.ReadFile(opts.FilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && opts.GenerateIfMissing {
			return generateKEKFile(opts.FilePath)
		}
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := decodeKey(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid key file %s: %w", opts.FilePath, err)
	}
	return key, nil
}

func generateKEKFile(path string) ([]byte, error) {
	key, err := RandomKey()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key)
	// O_EXCL so two processes never both generate
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return LoadKEK(KEKOptions{FilePath: path})
		}
		return nil, fmt.Errorf("failed to write key file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(encoded); err != nil {
		return nil, fmt.Errorf("failed to write key file: %w", err)
	}
	return key, nil
}

func decodeKey(raw []byte) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(raw)))
	if err != nil {
		return nil, fmt.Errorf("base64 decode failed: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key length: got %d, want %d", len(key), KeySize)
	}
	return key, nil
}
