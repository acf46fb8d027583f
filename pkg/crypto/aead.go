// Package crypto implements the envelope encryption used by the local
// secret store.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// KeySize is the length of every key handled by this package (AES-256).
const KeySize = 32

// ErrCiphertextTooShort is returned when sealed data is shorter than a nonce.
var ErrCiphertextTooShort = errors.New("ciphertext too short")

// AEAD seals and opens data with AES-256-GCM. Output is nonce||ciphertext.
type AEAD struct {
	gcm cipher.AEAD
	key []byte
}

// NewAEAD creates an AEAD from a 32-byte key. The key is copied.
func NewAEAD(key []byte) (*AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key length: got %d, want %d", len(key), KeySize)
	}
	k := make([]byte, KeySize)
	copy(k, key)

	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AEAD{gcm: gcm, key: k}, nil
}

// Seal encrypts plaintext bound to aad.
func (a *AEAD) Seal(plaintext, aad []byte) ([]byte, error) {
	nonce := make([]byte, a.gcm.NonceSize(), a.gcm.NonceSize()+len(plaintext)+a.gcm.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return a.gcm.Seal(nonce, nonce, plaintext, aad), nil
}

// Open decrypts data produced by Seal with the same aad.
func (a *AEAD) Open(data, aad []byte) ([]byte, error) {
	n := a.gcm.NonceSize()
	if len(data) < n {
		return nil, ErrCiphertextTooShort
	}
	return a.gcm.Open(nil, data[:n], data[n:], aad)
}

// Zeroize clears the key copy held by a.
func (a *AEAD) Zeroize() {
	if a == nil {
		return
	}
	for i := range a.key {
		a.key[i] = 0
	}
}

// RandomKey returns a fresh random 32-byte key.
func RandomKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}
