package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretRecord_VersionResolution(t *testing.T) {
	rec := &SecretRecord{Name: "api-key", CreatedAt: time.Now()}
	_, ok := rec.Latest()
	assert.False(t, ok)

	rec.Versions = append(rec.Versions,
		SecretVersion{Name: "api-key", ID: "1", State: SecretVersionEnabled},
		SecretVersion{Name: "api-key", ID: "2", State: SecretVersionEnabled},
	)

	latest, ok := rec.Version(LatestVersion)
	require.True(t, ok)
	assert.Equal(t, "2", latest.ID)

	first, ok := rec.Version("1")
	require.True(t, ok)
	assert.Equal(t, SecretRef{Name: "api-key", Version: "1"}, first.Ref())

	_, ok = rec.Version("3")
	assert.False(t, ok)
}

func TestParseSecretRef(t *testing.T) {
	ref, err := ParseSecretRef("openai-api-key")
	require.NoError(t, err)
	assert.Equal(t, "openai-api-key:latest", ref.String())

	ref, err = ParseSecretRef("openai-api-key:3")
	require.NoError(t, err)
	assert.Equal(t, "3", ref.Version)

	_, err = ParseSecretRef("bad name")
	assert.True(t, IsValidationError(err))

	_, err = ParseSecretRef("key:newest")
	assert.True(t, IsValidationError(err))
}
