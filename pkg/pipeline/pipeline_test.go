package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/image"
	"github.com/rzbill/aideploy/pkg/builder"
	"github.com/rzbill/aideploy/pkg/deployer"
	"github.com/rzbill/aideploy/pkg/gcloud"
	"github.com/rzbill/aideploy/pkg/locator"
	"github.com/rzbill/aideploy/pkg/log"
	"github.com/rzbill/aideploy/pkg/registry"
	"github.com/rzbill/aideploy/pkg/registry/auth"
	"github.com/rzbill/aideploy/pkg/runner"
	"github.com/rzbill/aideploy/pkg/secrets"
	"github.com/rzbill/aideploy/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testDigest = "sha256:4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"
	serviceURL = "https://ai-content-service-xyz-uc.a.run.app"

	readyStatus = `{"metadata":{"name":"ai-content-service"},
"status":{"url":"` + serviceURL + `",
"latestCreatedRevisionName":"ai-content-service-00001-abc","latestReadyRevisionName":"ai-content-service-00001-abc",
"conditions":[{"type":"Ready","status":"True"}]}}`
)

type fakeDigester struct{}

func (fakeDigester) Digest(ctx context.Context, ref types.ImageReference, cred *auth.Credential) (string, error) {
	return testDigest, nil
}

func sourceDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte("FROM python:3.12-slim\n"), 0o644))
	return dir
}

func basePlan(t *testing.T) Plan {
	t.Helper()
	img, err := types.ParseImageReference("gcr.io/biso-event/ai-content-service:latest")
	require.NoError(t, err)
	return Plan{
		Project:        "biso-event",
		Region:         "us-central1",
		Service:        "ai-content-service",
		Image:          img,
		Build:          builder.BuildRequest{SourceDir: sourceDir(t)},
		CredentialMode: types.CredentialModeSecret,
		EnvVar:         "OPENAI_API_KEY",
		SecretName:     "openai-api-key",
		Credential:     "sk-test-1\n",
		Retries:        2,
	}
}

// wired builds a pipeline from the real components over a scripted gcloud.
func wired(t *testing.T, fake *runner.FakeRunner, logger log.Logger, out *bytes.Buffer) *Pipeline {
	t.Helper()
	client := gcloud.NewClient(fake, "biso-event", gcloud.WithLogger(logger))
	cloudRun := deployer.NewCloudRunDeployer(client, deployer.WithLogger(logger), deployer.WithTempDir(t.TempDir()))
	return New(Deps{
		Builder:   builder.NewRemoteBuilder(client, logger),
		Publisher: registry.NewDockerPublisher(nil, nil, registry.WithDigester(fakeDigester{}), registry.WithLogger(logger)),
		Secrets:   secrets.NewProvisioner(secrets.NewGCloudStore(client), secrets.WithProvisionerLogger(logger)),
		Orchestrator: deployer.NewOrchestrator(cloudRun,
			deployer.WithOrchestratorLogger(logger),
			deployer.WithPollInterval(time.Millisecond)),
		Locator: locator.New(cloudRun, "us-central1",
			locator.WithPollInterval(time.Millisecond),
			locator.WithLogger(logger)),
	},
		WithReporter(NewLineReporter(out)),
		WithDryRunOutput(out),
		WithStepBackOff(zeroBackOff),
		WithLogger(logger))
}

func zeroBackOff() backoff.BackOff {
	return &backoff.ZeroBackOff{}
}

func stepStatuses(res *Result) map[string]string {
	out := make(map[string]string)
	for _, s := range res.Steps {
		out[s.Step] = s.Status
	}
	return out
}

func TestRun_FullScenario(t *testing.T) {
	fake := runner.NewFakeRunner()
	fake.On("gcloud", "builds", "submit").Return("")
	fake.On("gcloud", "secrets", "describe").Fail(1, "NOT_FOUND: Secret [openai-api-key] not found")
	fake.On("gcloud", "secrets", "create").Return("")
	fake.On("gcloud", "run", "deploy").Return("")
	fake.On("gcloud", "run", "services", "describe").Return(readyStatus)

	logger := log.NewTestLogger()
	var out bytes.Buffer
	res, err := wired(t, fake, logger, &out).Run(context.Background(), basePlan(t))
	require.NoError(t, err)

	require.NotNil(t, res.Endpoint)
	assert.Equal(t, serviceURL, res.Endpoint.URL)
	assert.Equal(t, testDigest, res.Image.Digest)
	assert.Equal(t, "1", res.Secret.ID)
	assert.NotEmpty(t, res.RunID)

	var order []string
	for _, s := range res.Steps {
		order = append(order, s.Step)
		assert.Equal(t, StatusOK, s.Status, s.Step)
	}
	assert.Equal(t, Steps, order)

	deploys := fake.CallsTo("gcloud", "run", "deploy")
	require.Len(t, deploys, 1)
	argv := strings.Join(deploys[0].Args, " ")
	assert.Contains(t, argv, "--image gcr.io/biso-event/ai-content-service@"+testDigest)
	assert.Contains(t, argv, "--set-secrets OPENAI_API_KEY=openai-api-key:1")

	assert.NotContains(t, fake.Argv(), "sk-test-1")
	assert.False(t, logger.Contains("sk-test-1"))
	assert.Contains(t, out.String(), "==> locate")
}

func TestRun_ReprovisionAppendsVersion(t *testing.T) {
	fake := runner.NewFakeRunner()
	fake.On("gcloud", "builds", "submit").Return("")
	fake.On("gcloud", "secrets", "describe").Return(`{"name":"projects/1/secrets/openai-api-key"}`)
	fake.On("gcloud", "secrets", "versions", "list").Return(`[{"name":"projects/1/secrets/openai-api-key/versions/1","state":"ENABLED"}]`)
	fake.On("gcloud", "secrets", "versions", "add").Return(`{"name":"projects/1/secrets/openai-api-key/versions/2","state":"ENABLED"}`)
	fake.On("gcloud", "run", "deploy").Return("")
	fake.On("gcloud", "run", "services", "describe").Return(readyStatus)

	plan := basePlan(t)
	plan.Credential = "sk-test-2"
	res, err := wired(t, fake, log.NewTestLogger(), &bytes.Buffer{}).Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, "2", res.Secret.ID)

	adds := fake.CallsTo("gcloud", "secrets", "versions", "add")
	require.Len(t, adds, 1)
	assert.Equal(t, "sk-test-2", string(adds[0].Stdin))
	assert.Empty(t, fake.CallsTo("gcloud", "secrets", "create"))
	assert.Contains(t, strings.Join(fake.CallsTo("gcloud", "run", "deploy")[0].Args, " "), "OPENAI_API_KEY=openai-api-key:2")
	assert.NotContains(t, fake.Argv(), "sk-test-2")
}

func TestRun_LiteralModeSkipsSecretStore(t *testing.T) {
	fake := runner.NewFakeRunner()
	fake.On("gcloud", "builds", "submit").Return("")
	fake.On("gcloud", "run", "deploy").Return("")
	fake.On("gcloud", "run", "services", "describe").Return(readyStatus)

	logger := log.NewTestLogger()
	plan := basePlan(t)
	plan.CredentialMode = types.CredentialModeLiteral
	plan.Credential = "sk-test-literal"

	res, err := wired(t, fake, logger, &bytes.Buffer{}).Run(context.Background(), plan)
	require.NoError(t, err)

	assert.Empty(t, fake.CallsTo("gcloud", "secrets"))
	assert.Equal(t, StatusSkipped, stepStatuses(res)[StepSecret])
	assert.True(t, logger.AssertLogged(log.WarnLevel, "Literal credential mode"))
	assert.NotContains(t, fake.Argv(), "sk-test-literal")
	assert.NotContains(t, fake.Argv(), "--set-secrets")
}

func TestRun_BuildFailureAbortsRun(t *testing.T) {
	fake := runner.NewFakeRunner()
	fake.On("gcloud", "builds", "submit").Fail(1, "ERROR: build step 0 \"gcr.io/cloud-builders/docker\" failed: step exited with non-zero status: 1\nBUILD FAILURE")

	res, err := wired(t, fake, log.NewTestLogger(), &bytes.Buffer{}).Run(context.Background(), basePlan(t))
	require.Error(t, err)

	var stepErr *types.StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, StepBuild, stepErr.Step)
	assert.Equal(t, types.KindBuild, stepErr.Kind())
	assert.Len(t, fake.CallsTo("gcloud", "builds", "submit"), 1)
	assert.Empty(t, fake.CallsTo("gcloud", "secrets"))
	assert.Empty(t, fake.CallsTo("gcloud", "run"))
	assert.Nil(t, res.Endpoint)
}

func TestRun_DryRunMakesNoCalls(t *testing.T) {
	fake := runner.NewFakeRunner()
	var out bytes.Buffer
	plan := basePlan(t)
	plan.DryRun = true
	plan.CredentialMode = types.CredentialModeLiteral
	plan.Credential = "sk-test-dry"

	res, err := wired(t, fake, log.NewTestLogger(), &out).Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Empty(t, fake.Calls())
	assert.Contains(t, out.String(), "[REDACTED]")
	assert.Contains(t, out.String(), "service: ai-content-service")
	assert.NotContains(t, out.String(), "sk-test-dry")
	assert.NotContains(t, out.String(), "- secret")
	assert.Equal(t, StatusSkipped, stepStatuses(res)[StepDeploy])
}

func TestRun_ValidationBeforeAnyCall(t *testing.T) {
	fake := runner.NewFakeRunner()
	plan := basePlan(t)
	plan.Credential = "   "

	_, err := wired(t, fake, log.NewTestLogger(), &bytes.Buffer{}).Run(context.Background(), plan)
	assert.True(t, types.IsValidationError(err))
	assert.Empty(t, fake.Calls())
}

// stubs for branch-level behaviour

type stubBuilder struct{ pushed bool }

func (b stubBuilder) Build(ctx context.Context, req builder.BuildRequest) (*builder.BuildResult, error) {
	return &builder.BuildResult{Image: req.Image, Pushed: b.pushed, Strategy: builder.StrategyLocal}, nil
}

func (b stubBuilder) Strategy() builder.Strategy { return builder.StrategyLocal }

type flakyPublisher struct {
	mu       sync.Mutex
	failures int
	pushes   int
}

func (p *flakyPublisher) EnsureAuth(ctx context.Context, host string) error { return nil }

func (p *flakyPublisher) Push(ctx context.Context, ref types.ImageReference) (*registry.PushResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes++
	if p.pushes <= p.failures {
		return nil, types.Errorf(types.KindTransient, "docker push", "connection reset by peer")
	}
	return &registry.PushResult{Image: ref.WithDigest(testDigest), Attempts: 1}, nil
}

func (p *flakyPublisher) Resolve(ctx context.Context, ref types.ImageReference) (types.ImageReference, error) {
	return ref.WithDigest(testDigest), nil
}

type stubSecrets struct {
	err   error
	delay time.Duration
	calls int
}

func (s *stubSecrets) Ensure(ctx context.Context, name, value string) (*types.SecretVersion, error) {
	time.Sleep(s.delay)
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &types.SecretVersion{Name: name, ID: "5"}, nil
}

type stubOrchestrator struct {
	req   *deployer.Request
	calls int
}

func (o *stubOrchestrator) Deploy(ctx context.Context, req deployer.Request) (*types.Revision, error) {
	o.calls++
	o.req = &req
	return &types.Revision{Service: req.Service, Name: "rev-1", Ready: true}, nil
}

type stubLocator struct{}

func (stubLocator) Locate(ctx context.Context, service string) (*types.ServiceEndpoint, error) {
	return &types.ServiceEndpoint{Service: service, URL: serviceURL}, nil
}

func TestRun_TransientPushRetried(t *testing.T) {
	pub := &flakyPublisher{failures: 1}
	orch := &stubOrchestrator{}
	logger := log.NewTestLogger()
	p := New(Deps{
		Builder:      stubBuilder{},
		Publisher:    pub,
		Secrets:      &stubSecrets{},
		Orchestrator: orch,
		Locator:      stubLocator{},
	}, WithStepBackOff(zeroBackOff), WithLogger(logger))

	res, err := p.Run(context.Background(), basePlan(t))
	require.NoError(t, err)
	assert.Equal(t, 2, pub.pushes)
	for _, s := range res.Steps {
		if s.Step == StepPush {
			assert.Equal(t, 2, s.Attempts)
		}
	}
	assert.True(t, logger.AssertLoggedWithField(log.WarnLevel, "transient", log.StepKey, StepPush))
	require.NotNil(t, orch.req)
	assert.Equal(t, "openai-api-key:5", orch.req.Secret.String())
}

func TestRun_TransientRetriesExhausted(t *testing.T) {
	pub := &flakyPublisher{failures: 10}
	orch := &stubOrchestrator{}
	p := New(Deps{
		Builder:      stubBuilder{},
		Publisher:    pub,
		Secrets:      &stubSecrets{},
		Orchestrator: orch,
		Locator:      stubLocator{},
	}, WithStepBackOff(zeroBackOff), WithLogger(log.NewTestLogger()))

	_, err := p.Run(context.Background(), basePlan(t))
	var stepErr *types.StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, StepPush, stepErr.Step)
	assert.Equal(t, types.KindTransient, stepErr.Kind())
	assert.Equal(t, 3, pub.pushes)
	assert.Equal(t, 0, orch.calls)
}

func TestRun_ParallelSecretFailureStopsDeploy(t *testing.T) {
	pub := &flakyPublisher{}
	orch := &stubOrchestrator{}
	sec := &stubSecrets{err: types.Errorf(types.KindAuth, "gcloud secrets describe", "PERMISSION_DENIED")}
	p := New(Deps{
		Builder:      stubBuilder{},
		Publisher:    pub,
		Secrets:      sec,
		Orchestrator: orch,
		Locator:      stubLocator{},
	}, WithStepBackOff(zeroBackOff), WithLogger(log.NewTestLogger()))

	plan := basePlan(t)
	plan.ParallelSecrets = true
	res, err := p.Run(context.Background(), plan)

	var stepErr *types.StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, StepSecret, stepErr.Step)
	assert.Equal(t, types.KindAuth, stepErr.Kind())
	assert.Equal(t, 1, sec.calls)
	assert.Equal(t, 0, orch.calls)
	// the image branch is not cancelled and completes
	assert.Equal(t, StatusOK, stepStatuses(res)[StepPush])
}

func TestRun_SkipBuildAndSecret(t *testing.T) {
	pub := &flakyPublisher{}
	orch := &stubOrchestrator{}
	sec := &stubSecrets{}
	p := New(Deps{
		Builder:      stubBuilder{},
		Publisher:    pub,
		Secrets:      sec,
		Orchestrator: orch,
		Locator:      stubLocator{},
	}, WithStepBackOff(zeroBackOff), WithLogger(log.NewTestLogger()))

	plan := basePlan(t)
	plan.SkipBuild = true
	plan.SkipSecret = true
	plan.SecretVersion = "3"
	plan.Credential = ""

	res, err := p.Run(context.Background(), plan)
	require.NoError(t, err)
	statuses := stepStatuses(res)
	assert.Equal(t, StatusSkipped, statuses[StepBuild])
	assert.Equal(t, StatusSkipped, statuses[StepSecret])
	assert.Equal(t, 0, pub.pushes)
	assert.Equal(t, 0, sec.calls)
	assert.Equal(t, "openai-api-key:3", orch.req.Secret.String())
	assert.Equal(t, testDigest, orch.req.Image.Digest)
}

func TestRun_DeployQuotaIsRejection(t *testing.T) {
	fake := runner.NewFakeRunner()
	fake.On("gcloud", "builds", "submit").Return("")
	fake.On("gcloud", "secrets", "describe").Fail(1, "NOT_FOUND: Secret [openai-api-key] not found")
	fake.On("gcloud", "secrets", "create").Return("")
	fake.On("gcloud", "run", "deploy").Fail(1, "ERROR: (gcloud.run.deploy) Quota exceeded for quota metric 'Total CPU allocation per region' and limit 'Total CPU allocation per region per project' of service 'run.googleapis.com'")

	res, err := wired(t, fake, log.NewTestLogger(), &bytes.Buffer{}).Run(context.Background(), basePlan(t))
	require.Error(t, err)

	var stepErr *types.StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, StepDeploy, stepErr.Step)
	assert.Equal(t, types.KindRejected, stepErr.Kind())
	assert.Equal(t, 6, stepErr.Kind().ExitCode())
	assert.Len(t, fake.CallsTo("gcloud", "run", "deploy"), 1)
	assert.Empty(t, fake.CallsTo("gcloud", "run", "services", "describe"))
	assert.Nil(t, res.Endpoint)
}

func TestRun_LiteralCredentialIsTrimmed(t *testing.T) {
	orch := &stubOrchestrator{}
	p := New(Deps{
		Builder:      stubBuilder{},
		Publisher:    &flakyPublisher{},
		Secrets:      &stubSecrets{},
		Orchestrator: orch,
		Locator:      stubLocator{},
	}, WithStepBackOff(zeroBackOff), WithLogger(log.NewTestLogger()))

	plan := basePlan(t)
	plan.CredentialMode = types.CredentialModeLiteral
	plan.Credential = "  sk-test-literal\n"

	_, err := p.Run(context.Background(), plan)
	require.NoError(t, err)
	require.NotNil(t, orch.req)
	assert.Equal(t, "sk-test-literal", orch.req.Literal)
	assert.Nil(t, orch.req.Secret)
}

type scriptedBuildAPI struct {
	calls int
}

func (f *scriptedBuildAPI) ImageBuild(ctx context.Context, buildContext io.Reader, options build.ImageBuildOptions) (build.ImageBuildResponse, error) {
	f.calls++
	_, _ = io.Copy(io.Discard, buildContext)
	stream := strings.Join([]string{
		`{"stream":"Step 1/1 : FROM python:3.12-slim\n"}`,
		`{"aux":{"ID":"sha256:feed"}}`,
		`{"stream":"Successfully tagged gcr.io/biso-event/ai-content-service:latest\n"}`,
	}, "\n")
	return build.ImageBuildResponse{Body: io.NopCloser(strings.NewReader(stream))}, nil
}

// scriptedDaemon replays one push stream per call, repeating the last.
type scriptedDaemon struct {
	mu      sync.Mutex
	streams []string
	calls   int
}

func (f *scriptedDaemon) ImagePush(ctx context.Context, ref string, opts image.PushOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	if idx >= len(f.streams) {
		idx = len(f.streams) - 1
	}
	f.calls++
	return io.NopCloser(strings.NewReader(f.streams[idx])), nil
}

func TestRun_LocalBuildScenario(t *testing.T) {
	fake := runner.NewFakeRunner()
	fake.On("gcloud", "secrets", "describe").Fail(1, "NOT_FOUND: Secret [openai-api-key] not found")
	fake.On("gcloud", "secrets", "create").Return("")
	fake.On("gcloud", "run", "deploy").Return("")
	fake.On("gcloud", "run", "services", "describe").Return(readyStatus)

	interrupted := strings.Join([]string{
		`{"status":"The push refers to repository [gcr.io/biso-event/ai-content-service]"}`,
		`{"errorDetail":{"message":"write tcp: connection reset by peer"},"error":"write tcp: connection reset by peer"}`,
	}, "\n")
	completed := strings.Join([]string{
		`{"status":"The push refers to repository [gcr.io/biso-event/ai-content-service]"}`,
		`{"status":"Layer already exists","id":"aaa"}`,
		`{"status":"Pushed","id":"bbb"}`,
		`{"progressDetail":{},"aux":{"Tag":"latest","Digest":"` + testDigest + `","Size":1234}}`,
	}, "\n")

	logger := log.NewTestLogger()
	api := &scriptedBuildAPI{}
	daemon := &scriptedDaemon{streams: []string{interrupted, completed}}
	client := gcloud.NewClient(fake, "biso-event", gcloud.WithLogger(logger))
	cloudRun := deployer.NewCloudRunDeployer(client, deployer.WithLogger(logger), deployer.WithTempDir(t.TempDir()))
	p := New(Deps{
		Builder: builder.NewLocalBuilder(api, logger),
		Publisher: registry.NewDockerPublisher(daemon, nil,
			registry.WithDigester(fakeDigester{}),
			registry.WithBackOff(registry.NoRetry),
			registry.WithLogger(logger)),
		Secrets: secrets.NewProvisioner(secrets.NewGCloudStore(client), secrets.WithProvisionerLogger(logger)),
		Orchestrator: deployer.NewOrchestrator(cloudRun,
			deployer.WithOrchestratorLogger(logger),
			deployer.WithPollInterval(time.Millisecond)),
		Locator: locator.New(cloudRun, "us-central1",
			locator.WithPollInterval(time.Millisecond),
			locator.WithLogger(logger)),
	}, WithStepBackOff(zeroBackOff), WithLogger(logger))

	res, err := p.Run(context.Background(), basePlan(t))
	require.NoError(t, err)

	require.NotNil(t, res.Endpoint)
	assert.Equal(t, serviceURL, res.Endpoint.URL)
	require.NotNil(t, res.Build)
	assert.Equal(t, builder.StrategyLocal, res.Build.Strategy)
	assert.Equal(t, "sha256:feed", res.Build.ImageID)
	assert.Equal(t, 1, api.calls)

	// one attempt per step retry, none inside the publisher
	require.NotNil(t, res.Push)
	assert.Equal(t, 2, daemon.calls)
	assert.Equal(t, 1, res.Push.Attempts)
	for _, s := range res.Steps {
		if s.Step == StepPush {
			assert.Equal(t, 2, s.Attempts)
		}
	}

	var order []string
	for _, s := range res.Steps {
		order = append(order, s.Step)
	}
	assert.Equal(t, Steps, order)

	assert.Empty(t, fake.CallsTo("gcloud", "builds"))
	deploys := fake.CallsTo("gcloud", "run", "deploy")
	require.Len(t, deploys, 1)
	argv := strings.Join(deploys[0].Args, " ")
	assert.Contains(t, argv, "--image gcr.io/biso-event/ai-content-service@"+testDigest)
	assert.Contains(t, argv, "--set-secrets OPENAI_API_KEY=openai-api-key:1")
	assert.NotContains(t, fake.Argv(), "sk-test-1")
}
