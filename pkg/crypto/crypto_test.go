package crypto

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAEAD_SealOpen(t *testing.T) {
	key, err := RandomKey()
	require.NoError(t, err)
	a, err := NewAEAD(key)
	require.NoError(t, err)

	ct, err := a.Seal([]byte("sk-test"), []byte("openai-api-key|1"))
	require.NoError(t, err)
	assert.NotContains(t, string(ct), "sk-test")

	pt, err := a.Open(ct, []byte("openai-api-key|1"))
	require.NoError(t, err)
	assert.Equal(t, "sk-test", string(pt))

	_, err = a.Open(ct, []byte("openai-api-key|2"))
	assert.Error(t, err, "aad mismatch must fail")

	_, err = a.Open([]byte{1, 2}, nil)
	assert.ErrorIs(t, err, ErrCiphertextTooShort)

	_, err = NewAEAD(make([]byte, 16))
	assert.Error(t, err)
}

func TestEnvelope_RoundTrip(t *testing.T) {
	kek, err := RandomKey()
	require.NoError(t, err)
	aad := []byte("openai-api-key|3")

	env, err := SealEnvelope(kek, []byte("value"), aad)
	require.NoError(t, err)

	pt, err := OpenEnvelope(kek, env, aad)
	require.NoError(t, err)
	assert.Equal(t, "value", string(pt))

	other, err := RandomKey()
	require.NoError(t, err)
	_, err = OpenEnvelope(other, env, aad)
	assert.Error(t, err)
}

func TestLoadKEK_GeneratesFileOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "kek.b64")

	first, err := LoadKEK(KEKOptions{FilePath: path, GenerateIfMissing: true})
	require.NoError(t, err)
	assert.Len(t, first, KeySize)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := LoadKEK(KEKOptions{FilePath: path, GenerateIfMissing: true})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLoadKEK_EnvWins(t *testing.T) {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	t.Setenv("AIDEPLOY_TEST_KEK", base64.StdEncoding.EncodeToString(key))

	got, err := LoadKEK(KEKOptions{EnvVar: "AIDEPLOY_TEST_KEK", FilePath: filepath.Join(t.TempDir(), "absent")})
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestLoadKEK_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadKEK(KEKOptions{FilePath: filepath.Join(dir, "missing")})
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad")
	require.NoError(t, os.WriteFile(bad, []byte("not-base64!"), 0o600))
	_, err = LoadKEK(KEKOptions{FilePath: bad})
	assert.Error(t, err)

	short := filepath.Join(dir, "short")
	require.NoError(t, os.WriteFile(short, []byte(base64.StdEncoding.EncodeToString(make([]byte, 16))), 0o600))
	_, err = LoadKEK(KEKOptions{FilePath: short})
	assert.Error(t, err)

	_, err = LoadKEK(KEKOptions{})
	assert.Error(t, err)
}
