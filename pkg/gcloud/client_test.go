package gcloud

import (
	"context"
	"errors"
	"testing"

	"github.com/rzbill/aideploy/pkg/log"
	"github.com/rzbill/aideploy/pkg/runner"
	"github.com/rzbill/aideploy/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient() (*Client, *runner.FakeRunner) {
	fake := runner.NewFakeRunner()
	return NewClient(fake, "biso-event", WithLogger(log.NewTestLogger())), fake
}

func TestClassify(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name     string
		err      error
		kind     types.ErrorKind
		sentinel error
	}{
		{"missing binary", &runner.NotFoundError{Name: "gcloud"}, types.KindEnvironment, nil},
		{"denied", &runner.ExitError{ExitCode: 1, Stderr: "ERROR: (gcloud.secrets.describe) PERMISSION_DENIED: Permission denied"}, types.KindAuth, nil},
		{"no account", &runner.ExitError{ExitCode: 1, Stderr: "You do not currently have an active account selected."}, types.KindAuth, nil},
		{"exists", &runner.ExitError{ExitCode: 1, Stderr: "ALREADY_EXISTS: Secret [projects/1/secrets/x] already exists."}, types.KindRejected, ErrAlreadyExists},
		{"not found", &runner.ExitError{ExitCode: 1, Stderr: "NOT_FOUND: Secret [projects/1/secrets/x] not found or has no versions."}, types.KindRejected, ErrNotFound},
		{"unavailable", &runner.ExitError{ExitCode: 1, Stderr: "UNAVAILABLE: The service is currently unavailable."}, types.KindTransient, nil},
		{"invalid", &runner.ExitError{ExitCode: 1, Stderr: "INVALID_ARGUMENT: memory must be at least 128Mi"}, types.KindRejected, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(ctx, "op", tt.err)
			assert.Equal(t, tt.kind, types.KindOf(err))
			if tt.sentinel != nil {
				assert.True(t, errors.Is(err, tt.sentinel))
			}
		})
	}
	assert.NoError(t, classify(ctx, "op", nil))
}

func TestClassify_PolicyPerOperation(t *testing.T) {
	ctx := context.Background()
	quota := &runner.ExitError{ExitCode: 1, Stderr: "ERROR: (gcloud.run.deploy) Quota exceeded for quota metric 'Total CPU allocation per region' and limit 'CPU per region'."}
	exhausted := &runner.ExitError{ExitCode: 1, Stderr: "RESOURCE_EXHAUSTED: too many concurrent builds"}

	assert.Equal(t, types.KindRejected, types.KindOf(classifyWith(ctx, "deploy", runtimePolicy, quota)))
	assert.Equal(t, types.KindRejected, types.KindOf(classifyWith(ctx, "deploy", runtimePolicy, exhausted)))
	assert.Equal(t, types.KindTransient, types.KindOf(classifyWith(ctx, "build", defaultPolicy, quota)))
	assert.Equal(t, types.KindTransient, types.KindOf(classifyWith(ctx, "build", defaultPolicy, exhausted)))

	unavailable := &runner.ExitError{ExitCode: 1, Stderr: "UNAVAILABLE: try again"}
	assert.Equal(t, types.KindTransient, types.KindOf(classifyWith(ctx, "deploy", runtimePolicy, unavailable)))
}

func TestClassify_GatewayCodesNeedContext(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		stderr string
		kind   types.ErrorKind
	}{
		{"ERROR: image gcr.io/p/s@sha256:5030fe502a is not a valid container image", types.KindRejected},
		{"revision ai-content-service-00503-abc failed to start", types.KindRejected},
		{"ERROR: gcloud crashed: HTTP 503 Service Unavailable", types.KindTransient},
		{"received status: 502 from upstream", types.KindTransient},
		{"response code=504", types.KindTransient},
	}
	for _, tt := range tests {
		t.Run(tt.stderr, func(t *testing.T) {
			err := classify(ctx, "op", &runner.ExitError{ExitCode: 1, Stderr: tt.stderr})
			assert.Equal(t, tt.kind, types.KindOf(err))
		})
	}
}

func TestClient_RunDeployQuotaIsRejection(t *testing.T) {
	c, fake := newTestClient()
	fake.On("gcloud", "run", "deploy").Fail(1, "ERROR: (gcloud.run.deploy) Quota exceeded for quota metric 'Total CPU allocation per region'")

	err := c.RunDeploy(context.Background(), "ai-content-service", []string{"--region", "us-central1"}, nil)
	require.Error(t, err)
	assert.Equal(t, types.KindRejected, types.KindOf(err))
	assert.Contains(t, err.Error(), "Quota exceeded")
}

func TestClient_SecretPayloadTravelsOnStdin(t *testing.T) {
	c, fake := newTestClient()
	fake.On("gcloud", "secrets", "create").Return("")
	fake.On("gcloud", "secrets", "versions", "add").Return(`{"name":"projects/123/secrets/openai-api-key/versions/4","state":"ENABLED","createTime":"2026-10-18T10:00:00.123456Z"}`)
	ctx := context.Background()

	require.NoError(t, c.CreateSecret(ctx, "openai-api-key", []byte("sk-test-1")))
	v, err := c.AddSecretVersion(ctx, "openai-api-key", []byte("sk-test-2"))
	require.NoError(t, err)

	assert.Equal(t, "4", v.ID)
	assert.Equal(t, types.SecretVersionEnabled, v.State)
	assert.False(t, v.CreatedAt.IsZero())

	calls := fake.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "sk-test-1", string(calls[0].Stdin))
	assert.Equal(t, "sk-test-2", string(calls[1].Stdin))
	assert.NotContains(t, fake.Argv(), "sk-test")
	assert.Contains(t, calls[0].Args, "--data-file=-")
	assert.Contains(t, calls[0].Args, "biso-event")
}

func TestClient_ListSecretVersions(t *testing.T) {
	c, fake := newTestClient()
	fake.On("gcloud", "secrets", "versions", "list").Return(`[
		{"name":"projects/1/secrets/k/versions/1","state":"ENABLED"},
		{"name":"projects/1/secrets/k/versions/2","state":"ENABLED"}
	]`)

	versions, err := c.ListSecretVersions(context.Background(), "k")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "2", versions[1].ID)
	assert.Equal(t, "k", versions[0].Name)
}

func TestClient_DescribeService(t *testing.T) {
	c, fake := newTestClient()
	fake.On("gcloud", "run", "services", "describe").Return(`{
		"metadata": {"name": "ai-content-service", "generation": 3},
		"status": {
			"url": "https://ai-content-service-abc-uc.a.run.app",
			"observedGeneration": 3,
			"latestCreatedRevisionName": "ai-content-service-00003-xyz",
			"latestReadyRevisionName": "ai-content-service-00003-xyz",
			"conditions": [{"type": "Ready", "status": "True"}]
		}
	}`)

	st, err := c.DescribeService(context.Background(), "ai-content-service", "us-central1")
	require.NoError(t, err)
	assert.Equal(t, "https://ai-content-service-abc-uc.a.run.app", st.URL)
	assert.Equal(t, 3, st.Generation)
	ready, ok := st.Condition("Ready")
	require.True(t, ok)
	assert.Equal(t, "True", ready.Status)
}

func TestClient_ActiveAccount(t *testing.T) {
	c, fake := newTestClient()
	fake.On("gcloud", "auth", "list").Return("").Return("dev@example.com\n")
	ctx := context.Background()

	_, err := c.ActiveAccount(ctx)
	assert.True(t, types.IsKind(err, types.KindAuth))

	account, err := c.ActiveAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, "dev@example.com", account)
}

func TestClient_BuildsSubmitFailureKinds(t *testing.T) {
	c, fake := newTestClient()
	fake.On("gcloud", "builds", "submit").
		Fail(1, "ERROR: build step 0 \"gcr.io/cloud-builders/docker\" failed: step exited with non-zero status: 1\nBUILD FAILURE").
		Fail(1, "ERROR: (gcloud.builds.submit) UNAVAILABLE: upload interrupted")
	ctx := context.Background()

	err := c.BuildsSubmit(ctx, ".", "gcr.io/biso-event/ai-content-service", "", "")
	assert.True(t, types.IsKind(err, types.KindBuild))

	err = c.BuildsSubmit(ctx, ".", "gcr.io/biso-event/ai-content-service", "", "")
	assert.True(t, types.IsKind(err, types.KindTransient))
	assert.Contains(t, types.HelpOf(err), "--strategy local")
}

func TestClient_BuildsSubmitWithConfig(t *testing.T) {
	c, fake := newTestClient()
	fake.On("gcloud", "builds", "submit").Return("")

	require.NoError(t, c.BuildsSubmit(context.Background(), "src", "gcr.io/biso-event/ai-content-service:latest", "/tmp/cloudbuild.yaml", "20m"))
	args := fake.CallsTo("gcloud", "builds", "submit")[0].Args
	assert.Equal(t, []string{"builds", "submit", "--config", "/tmp/cloudbuild.yaml", "--timeout", "20m", "src"}, args[:7])
	assert.NotContains(t, args, "--tag")
}
