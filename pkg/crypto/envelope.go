package crypto

import (
	"fmt"
)

// Envelope is a value sealed under a per-value data key, with the data key
// itself sealed under the key-encryption key.
type Envelope struct {
	WrappedKey []byte `json:"wrapped_key"`
	Ciphertext []byte `json:"ciphertext"`
}

// SealEnvelope encrypts plaintext with a fresh data key bound to aad and
// wraps the data key with kek.
func SealEnvelope(kek, plaintext, aad []byte) (*Envelope, error) {
	dek, err := RandomKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}
	data, err := NewAEAD(dek)
	if err != nil {
		return nil, err
	}
	defer data.Zeroize()

	ct, err := data.Seal(plaintext, aad)
	if err != nil {
		return nil, fmt.Errorf("failed to seal value: %w", err)
	}

	wrap, err := NewAEAD(kek)
	if err != nil {
		return nil, err
	}
	defer wrap.Zeroize()

	wrapped, err := wrap.Seal(dek, keyAAD(aad))
	if err != nil {
		return nil, fmt.Errorf("failed to wrap data key: %w", err)
	}
	for i := range dek {
		dek[i] = 0
	}
	return &Envelope{WrappedKey: wrapped, Ciphertext: ct}, nil
}

// OpenEnvelope reverses SealEnvelope. It fails if kek or aad differ.
func OpenEnvelope(kek []byte, env *Envelope, aad []byte) ([]byte, error) {
	wrap, err := NewAEAD(kek)
	if err != nil {
		return nil, err
	}
	defer wrap.Zeroize()

	dek, err := wrap.Open(env.WrappedKey, keyAAD(aad))
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap data key: %w", err)
	}
	data, err := NewAEAD(dek)
	if err != nil {
		return nil, err
	}
	defer data.Zeroize()

	pt, err := data.Open(env.Ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("failed to open value: %w", err)
	}
	return pt, nil
}

func keyAAD(aad []byte) []byte {
	out := make([]byte, 0, len(aad)+4)
	out = append(out, aad...)
	return append(out, "|dek"...)
}
