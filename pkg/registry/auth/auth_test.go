package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/rzbill/aideploy/pkg/log"
	"github.com/rzbill/aideploy/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, b64 string) map[string]string {
	t.Helper()
	raw, err := base64.URLEncoding.DecodeString(b64)
	require.NoError(t, err)
	var m map[string]string
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestHostMatches(t *testing.T) {
	assert.True(t, hostMatches("gcr.io", "GCR.io"))
	assert.True(t, hostMatches("*.gcr.io", "us.gcr.io"))
	assert.False(t, hostMatches("*.gcr.io", "gcr.io"))
	assert.True(t, hostMatches("*-docker.pkg.dev", "us-central1-docker.pkg.dev"))
	assert.False(t, hostMatches("*-docker.pkg.dev", "docker.io"))
	assert.False(t, hostMatches("", "gcr.io"))
}

func TestDockerConfigJSONProvider(t *testing.T) {
	auth := base64.StdEncoding.EncodeToString([]byte("user:pass"))
	dcj := `{"auths": {"https://ghcr.io": {"auth": "` + auth + `"}}}`

	p := NewDockerConfigJSONProvider("ghcr.io", dcj)
	require.True(t, p.Match("ghcr.io"))

	cred, err := p.Resolve(context.Background(), "ghcr.io")
	require.NoError(t, err)
	require.NotNil(t, cred)

	encoded, err := cred.Encode()
	require.NoError(t, err)
	m := decode(t, encoded)
	assert.Equal(t, "user", m["username"])
	assert.Equal(t, "pass", m["password"])
	assert.Equal(t, "ghcr.io", m["serveraddress"])
	assert.NotContains(t, cred.String(), "pass")
}

func TestDockerConfigJSONProvider_MalformedIsAuthError(t *testing.T) {
	p := NewDockerConfigJSONProvider("ghcr.io", `{not json`)
	_, err := p.Resolve(context.Background(), "ghcr.io")
	assert.True(t, types.IsKind(err, types.KindAuth))
}

func TestBasicTokenProvider(t *testing.T) {
	p := NewBasicTokenProvider(BasicTokenConfig{Registry: "registry.example.com", Token: "tkn-123456"})
	cred, err := p.Resolve(context.Background(), "registry.example.com")
	require.NoError(t, err)
	assert.Equal(t, "token", cred.Username)
	assert.Equal(t, "tkn-123456", cred.Password)

	empty := NewBasicTokenProvider(BasicTokenConfig{Registry: "registry.example.com"})
	cred, err = empty.Resolve(context.Background(), "registry.example.com")
	require.NoError(t, err)
	assert.Nil(t, cred)
}

type fakeECR struct {
	calls int
	err   error
}

func (f *fakeECR) GetAuthorizationToken(ctx context.Context, in *ecr.GetAuthorizationTokenInput, _ ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &ecr.GetAuthorizationTokenOutput{
		AuthorizationData: []ecrtypes.AuthorizationData{{
			AuthorizationToken: aws.String(base64.StdEncoding.EncodeToString([]byte("AWS:ecr-password"))),
			ProxyEndpoint:      aws.String("https://123456789012.dkr.ecr.us-east-1.amazonaws.com"),
			ExpiresAt:          aws.Time(time.Now().Add(12 * time.Hour)),
		}},
	}, nil
}

func TestECRProvider_CachesToken(t *testing.T) {
	fake := &fakeECR{}
	var region string
	p := NewECRProvider(ECRConfig{Registry: "*.dkr.ecr.us-east-1.amazonaws.com"})
	p.newClient = func(ctx context.Context, r string) (ECRAPI, error) {
		region = r
		return fake, nil
	}

	host := "123456789012.dkr.ecr.us-east-1.amazonaws.com"
	require.True(t, p.Match(host))
	for i := 0; i < 2; i++ {
		cred, err := p.Resolve(context.Background(), host)
		require.NoError(t, err)
		assert.Equal(t, "AWS", cred.Username)
		assert.Equal(t, "ecr-password", cred.Password)
	}
	assert.Equal(t, 1, fake.calls)
	assert.Equal(t, "us-east-1", region)
}

func TestECRProvider_FailureIsSurfaced(t *testing.T) {
	p := NewECRProvider(ECRConfig{Registry: "*.amazonaws.com"})
	p.newClient = func(ctx context.Context, r string) (ECRAPI, error) {
		return &fakeECR{err: errors.New("no credentials")}, nil
	}
	cred, err := p.Resolve(context.Background(), "123456789012.dkr.ecr.eu-west-1.amazonaws.com")
	assert.Nil(t, cred)
	assert.True(t, types.IsKind(err, types.KindAuth))
}

type fakeTokens struct {
	calls int
	err   error
}

func (f *fakeTokens) AccessToken(ctx context.Context) (string, error) {
	f.calls++
	return "ya29.test-token", f.err
}

func TestGCloudProvider(t *testing.T) {
	tokens := &fakeTokens{}
	p := NewGCloudProvider(tokens)
	assert.True(t, p.Match("gcr.io"))
	assert.True(t, p.Match("europe-west1-docker.pkg.dev"))
	assert.False(t, p.Match("ghcr.io"))

	now := time.Now()
	p.now = func() time.Time { return now }

	cred, err := p.Resolve(context.Background(), "gcr.io")
	require.NoError(t, err)
	assert.Equal(t, "oauth2accesstoken", cred.Username)
	_, err = p.Resolve(context.Background(), "gcr.io")
	require.NoError(t, err)
	assert.Equal(t, 1, tokens.calls)

	now = now.Add(gcloudTokenTTL + time.Second)
	_, err = p.Resolve(context.Background(), "gcr.io")
	require.NoError(t, err)
	assert.Equal(t, 2, tokens.calls)
}

func TestResolver(t *testing.T) {
	logger := log.NewTestLogger()
	failing := NewGCloudProvider(&fakeTokens{err: errors.New("reauth needed")})
	basic := NewBasicTokenProvider(BasicTokenConfig{Registry: "ghcr.io", Username: "u", Password: "secret-pw"})
	r := NewResolver(logger, failing, basic)

	cred, err := r.Resolve(context.Background(), "ghcr.io")
	require.NoError(t, err)
	assert.Equal(t, "u", cred.Username)

	cred, err = r.Resolve(context.Background(), "docker.io")
	require.NoError(t, err)
	assert.Nil(t, cred)
	assert.Equal(t, "anonymous", cred.String())

	_, err = r.Resolve(context.Background(), "gcr.io")
	assert.True(t, types.IsKind(err, types.KindAuth))
	assert.False(t, logger.Contains("secret-pw"))
}

func TestBuildProviders(t *testing.T) {
	t.Setenv("GHCR_PASSWORD", "from-env")
	cfgs := []Config{
		{Registry: "ghcr.io", Type: "basic", Username: "u", Password: "${GHCR_PASSWORD}"},
		{Registry: "*.dkr.ecr.us-east-1.amazonaws.com", Type: "ecr", Region: "us-east-1"},
		{Registry: "index.docker.io", Type: "dockerconfigjson", DockerConfigJSON: `{"auths":{"https://index.docker.io/v1/":{"identitytoken":"idtok"}}}`},
		{Type: "gcloud"},
	}
	ps, err := BuildProviders(cfgs, &fakeTokens{})
	require.NoError(t, err)
	require.Len(t, ps, 4)

	cred, err := ps[0].Resolve(context.Background(), "ghcr.io")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cred.Password)

	cred, err = ps[2].Resolve(context.Background(), "index.docker.io")
	require.NoError(t, err)
	assert.Equal(t, "idtok", cred.Password)

	_, err = BuildProviders([]Config{{Registry: "x.io", Type: "kerberos"}}, nil)
	assert.True(t, types.IsValidationError(err))

	_, err = BuildProviders([]Config{{Type: "gcloud"}}, nil)
	assert.True(t, types.IsValidationError(err))
}
