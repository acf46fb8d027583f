package cmd

import (
	"bytes"
	"context"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	ggcrregistry "github.com/google/go-containerregistry/pkg/registry"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/random"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/rzbill/aideploy/pkg/cli/format"
	"github.com/rzbill/aideploy/pkg/log"
	"github.com/rzbill/aideploy/pkg/runner"
	"github.com/rzbill/aideploy/pkg/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	serviceURL  = "https://ai-content-service-xyz-uc.a.run.app"
	readyStatus = `{"metadata":{"name":"ai-content-service"},
"status":{"url":"` + serviceURL + `",
"latestCreatedRevisionName":"ai-content-service-00002-def","latestReadyRevisionName":"ai-content-service-00002-def",
"conditions":[{"type":"Ready","status":"True"}]}}`
)

type harness struct {
	fake   *runner.FakeRunner
	stdin  string
	out    bytes.Buffer
	errOut bytes.Buffer
	config string
}

func newHarness(t *testing.T, configBody string) *harness {
	t.Helper()
	format.EnableColor(false)
	t.Setenv("OPENAI_API_KEY", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "aideploy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configBody), 0o600))
	return &harness{fake: runner.NewFakeRunner(), config: path}
}

func (h *harness) run(args ...string) int {
	a := newApp(strings.NewReader(h.stdin), &h.out, &h.errOut)
	a.newRunner = func(log.Logger) runner.Runner { return h.fake }
	return run(context.Background(), a, append([]string{"--config", h.config}, args...))
}

// testRegistry serves an in-process registry holding one image at repo:latest.
func testRegistry(t *testing.T, repo string) (string, string) {
	t.Helper()
	srv := httptest.NewServer(ggcrregistry.New())
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	ref := u.Host + "/" + repo + ":latest"
	tag, err := name.ParseReference(ref)
	require.NoError(t, err)
	img, err := random.Image(256, 1)
	require.NoError(t, err)
	require.NoError(t, remote.Write(tag, img))
	digest, err := img.Digest()
	require.NoError(t, err)
	return ref, digest.String()
}

func sourceTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte("FROM python:3.12-slim\n"), 0o644))
	return dir
}

func deployConfig(t *testing.T, image string) string {
	return `
image: ` + image + `
build:
  strategy: remote
  source_dir: ` + sourceTree(t) + `
pipeline:
  poll_interval: 1ms
  retries: 0
log:
  level: debug
`
}

func TestDeploy_EndToEnd(t *testing.T) {
	image, digest := testRegistry(t, "biso-event/ai-content-service")
	h := newHarness(t, deployConfig(t, image))
	h.fake.On("gcloud", "builds", "submit").Return("")
	h.fake.On("gcloud", "secrets", "describe").Fail(1, "NOT_FOUND: Secret [projects/biso-event/secrets/openai-api-key] not found")
	h.fake.On("gcloud", "secrets", "create").Return("")
	h.fake.On("gcloud", "run", "deploy").Return("")
	h.fake.On("gcloud", "run", "services", "describe").Return(readyStatus)
	h.stdin = "sk-test-1\n"

	code := h.run("deploy", "--value-stdin", "--output", "env")
	require.Equal(t, 0, code, h.errOut.String())

	assert.Equal(t, "SERVICE_URL="+serviceURL+"\n", h.out.String())

	deploys := h.fake.CallsTo("gcloud", "run", "deploy")
	require.Len(t, deploys, 1)
	argv := strings.Join(deploys[0].Args, " ")
	assert.Contains(t, argv, "--image "+strings.TrimSuffix(image, ":latest")+"@"+digest)
	assert.Contains(t, argv, "--set-secrets OPENAI_API_KEY=openai-api-key:1")
	assert.Contains(t, argv, "--project biso-event")
	assert.Contains(t, argv, "managed-by=aideploy")

	create := h.fake.CallsTo("gcloud", "secrets", "create")
	require.Len(t, create, 1)
	assert.Equal(t, "sk-test-1", string(create[0].Stdin))

	assert.NotContains(t, h.fake.Argv(), "sk-test-1")
	assert.NotContains(t, h.errOut.String(), "sk-test-1")
	assert.Contains(t, h.errOut.String(), "STEP")
}

func TestDeploy_PositionalProject(t *testing.T) {
	image, _ := testRegistry(t, "other/ai-content-service")
	h := newHarness(t, deployConfig(t, image))
	h.fake.On("gcloud", "run", "deploy").Return("")
	h.fake.On("gcloud", "run", "services", "describe").Return(readyStatus)

	code := h.run("deploy", "other-project", "--skip-build", "--skip-secret", "--secret-version", "3")
	require.Equal(t, 0, code, h.errOut.String())

	assert.Equal(t, serviceURL+"\n", lastLine(h.out.String()))
	assert.Empty(t, h.fake.CallsTo("gcloud", "builds"))
	assert.Empty(t, h.fake.CallsTo("gcloud", "secrets"))
	argv := strings.Join(h.fake.CallsTo("gcloud", "run", "deploy")[0].Args, " ")
	assert.Contains(t, argv, "--project other-project")
	assert.Contains(t, argv, "OPENAI_API_KEY=openai-api-key:3")
}

func TestDeploy_ValidationExitCode(t *testing.T) {
	h := newHarness(t, "secret:\n  mode: plain\n")

	code := h.run("deploy", "--value-stdin")
	assert.Equal(t, 2, code)
	assert.Empty(t, h.fake.Calls())
	assert.Contains(t, h.errOut.String(), "invalid input")
}

func TestDeploy_UnknownFlagIsValidation(t *testing.T) {
	h := newHarness(t, "")
	assert.Equal(t, 2, h.run("deploy", "--api-key", "sk-nope"))
	assert.Empty(t, h.fake.Calls())
}

func TestDeploy_BuildFailureExitCode(t *testing.T) {
	h := newHarness(t, deployConfig(t, "gcr.io/biso-event/ai-content-service:latest"))
	h.fake.On("gcloud", "builds", "submit").Fail(1, "ERROR: build step 0 \"gcr.io/cloud-builders/docker\" failed: step exited with non-zero status: 1\nBUILD FAILURE: Build step failure")
	h.stdin = "sk-test-1"

	code := h.run("deploy", "--value-stdin")
	assert.Equal(t, 7, code)
	assert.Empty(t, h.fake.CallsTo("gcloud", "run"))
	assert.Contains(t, h.errOut.String(), `step "build": build failed [BuildError]`)
	assert.Contains(t, h.errOut.String(), "hint:")
}

func TestDeploy_DryRunLiteral(t *testing.T) {
	h := newHarness(t, deployConfig(t, "gcr.io/biso-event/ai-content-service:latest"))
	h.stdin = "sk-test-literal"

	code := h.run("deploy", "--dry-run", "--mode", "literal", "--value-stdin")
	require.Equal(t, 0, code, h.errOut.String())
	assert.Empty(t, h.fake.Calls())
	assert.Contains(t, h.out.String(), "[REDACTED]")
	assert.Contains(t, h.out.String(), "mode: literal")
	assert.NotContains(t, h.out.String(), "sk-test-literal")
	assert.NotContains(t, h.errOut.String(), "sk-test-literal")
}

func TestSecretAccess(t *testing.T) {
	h := newHarness(t, "")
	h.fake.On("gcloud", "secrets", "versions", "access").Return("sk-test-2")

	require.Equal(t, 0, h.run("secret", "access", "openai-api-key", "2"))
	assert.Contains(t, h.out.String(), "openai-api-key:2: 9 bytes")
	assert.NotContains(t, h.out.String(), "sk-test-2")
	assert.Equal(t, []string{"secrets", "versions", "access", "2", "--secret", "openai-api-key"},
		h.fake.Calls()[0].Args[:6])

	h.out.Reset()
	require.Equal(t, 0, h.run("secret", "access", "--reveal"))
	assert.Equal(t, "sk-test-2\n", h.out.String())
}

func TestSecretSet_AppendsVersion(t *testing.T) {
	h := newHarness(t, "")
	h.fake.On("gcloud", "secrets", "describe").Return(`{"name":"projects/1/secrets/openai-api-key"}`)
	h.fake.On("gcloud", "secrets", "versions", "list").Return(`[{"name":"projects/1/secrets/openai-api-key/versions/1","state":"ENABLED"}]`)
	h.fake.On("gcloud", "secrets", "versions", "add").Return(`{"name":"projects/1/secrets/openai-api-key/versions/2","state":"ENABLED"}`)
	h.stdin = "sk-test-2\n"

	require.Equal(t, 0, h.run("secret", "set", "--value-stdin"), h.errOut.String())
	assert.Contains(t, h.out.String(), "Stored openai-api-key:2")
	assert.NotContains(t, h.fake.Argv(), "sk-test-2")
}

func TestSecretVersions_LocalBackend(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, `
secret:
  backend: local
  local_path: `+filepath.Join(dir, "db")+`
  kek_file: `+filepath.Join(dir, "kek.key")+`
`)
	h.stdin = "sk-local-1"
	require.Equal(t, 0, h.run("secret", "set", "--value-stdin"), h.errOut.String())
	h.stdin = "sk-local-2"
	require.Equal(t, 0, h.run("secret", "set", "--value-stdin"), h.errOut.String())

	h.out.Reset()
	require.Equal(t, 0, h.run("secret", "versions"), h.errOut.String())
	out := h.out.String()
	assert.Contains(t, out, "VERSION")
	assert.Contains(t, out, "latest")

	h.out.Reset()
	require.Equal(t, 0, h.run("secret", "access", "openai-api-key", "1", "--reveal"))
	assert.Equal(t, "sk-local-1\n", h.out.String())
	assert.Empty(t, h.fake.Calls())
}

func TestURL(t *testing.T) {
	h := newHarness(t, "pipeline:\n  poll_interval: 1ms\n")
	h.fake.On("gcloud", "run", "services", "describe").Return(readyStatus)

	require.Equal(t, 0, h.run("url", "-o", "env"))
	assert.Equal(t, "SERVICE_URL="+serviceURL+"\n", h.out.String())
}

func TestDoctor_NoActiveAccount(t *testing.T) {
	h := newHarness(t, "")
	h.fake.On("gcloud", "auth", "list").Return("")
	h.fake.On("gcloud", "secrets", "describe").Fail(1, "NOT_FOUND: secret not found")

	code := h.run("doctor")
	assert.Equal(t, 4, code)
	out := h.out.String()
	assert.Contains(t, out, "gcloud")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "not created yet")
	assert.Contains(t, out, "skipped")
}

func TestConfigView_FlagAndEnvOverrides(t *testing.T) {
	h := newHarness(t, "service: from-file\nregion: europe-west1\n")
	t.Setenv("AIDEPLOY_REGION", "asia-east1")

	require.Equal(t, 0, h.run("config", "view", "--project", "flag-project"))
	out := h.out.String()
	assert.Contains(t, out, "project: flag-project")
	assert.Contains(t, out, "service: from-file")
	assert.Contains(t, out, "region: asia-east1")
}

func TestVersion(t *testing.T) {
	h := newHarness(t, "")
	require.Equal(t, 0, h.run("version", "--short"))
	assert.Equal(t, version.Version+"\n", h.out.String())
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	return lines[len(lines)-1] + "\n"
}
