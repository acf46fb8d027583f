package builder

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rzbill/aideploy/pkg/log"
	"github.com/rzbill/aideploy/pkg/types"
	"gopkg.in/yaml.v3"
)

// Submitter runs a remote build that also pushes the tag. When config is
// set it names a Cloud Build config file and tag is pushed by that config.
type Submitter interface {
	BuildsSubmit(ctx context.Context, dir, tag, config, timeout string) error
}

// dockerBuilderImage is the Cloud Build step that runs docker.
const dockerBuilderImage = "gcr.io/cloud-builders/docker"

var _ Builder = &RemoteBuilder{}

// RemoteBuilder builds with Cloud Build.
type RemoteBuilder struct {
	submitter Submitter
	logger    log.Logger
}

// NewRemoteBuilder creates a RemoteBuilder. A *gcloud.Client satisfies
// Submitter.
func NewRemoteBuilder(s Submitter, logger log.Logger) *RemoteBuilder {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &RemoteBuilder{submitter: s, logger: logger.WithComponent("builder")}
}

// Strategy returns StrategyRemote.
func (b *RemoteBuilder) Strategy() Strategy {
	return StrategyRemote
}

// Build submits the source tree. A plain request uses `--tag`; a custom
// Dockerfile, build args, platform or no-cache go through a generated
// build config so the image matches a local build of the same request.
func (b *RemoteBuilder) Build(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	var config string
	if needsConfig(req) {
		path, err := b.writeConfig(req)
		if err != nil {
			return nil, err
		}
		defer os.Remove(path)
		config = path
		b.logger.Debug("Generated Cloud Build config",
			log.Str("dockerfile", req.dockerfile()),
			log.Int("build_args", len(req.BuildArgs)),
			log.Str("platform", req.Platform),
			log.Bool("no_cache", req.NoCache))
	}

	if err := b.submitter.BuildsSubmit(ctx, req.SourceDir, req.Image.String(), config, req.Timeout); err != nil {
		return nil, err
	}
	b.logger.Info("Remote build finished", log.Str("image", req.Image.String()))
	return &BuildResult{
		Image:    req.Image,
		Pushed:   true,
		Strategy: StrategyRemote,
		Duration: time.Since(start),
	}, nil
}

func needsConfig(req BuildRequest) bool {
	return req.dockerfile() != DefaultDockerfile ||
		len(req.BuildArgs) > 0 ||
		req.Platform != "" ||
		req.NoCache
}

type cloudBuildStep struct {
	Name string   `yaml:"name"`
	Env  []string `yaml:"env,omitempty"`
	Args []string `yaml:"args"`
}

type cloudBuildConfig struct {
	Steps  []cloudBuildStep `yaml:"steps"`
	Images []string         `yaml:"images"`
}

// cloudBuildConfigFor renders the docker invocation a local build would
// make as a single Cloud Build step.
func cloudBuildConfigFor(req BuildRequest) cloudBuildConfig {
	tag := req.Image.String()
	args := []string{"build", "-t", tag, "-f", filepath.ToSlash(req.dockerfile())}

	keys := make([]string, 0, len(req.BuildArgs))
	for k := range req.BuildArgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--build-arg", k+"="+escapeSubstitutions(req.BuildArgs[k]))
	}

	step := cloudBuildStep{Name: dockerBuilderImage}
	if req.Platform != "" {
		args = append(args, "--platform", req.Platform)
		step.Env = []string{"DOCKER_BUILDKIT=1"}
	}
	if req.NoCache {
		args = append(args, "--no-cache")
	}
	step.Args = append(args, ".")

	return cloudBuildConfig{Steps: []cloudBuildStep{step}, Images: []string{tag}}
}

// escapeSubstitutions keeps Cloud Build from expanding $VARS in a value.
func escapeSubstitutions(v string) string {
	return strings.ReplaceAll(v, "$", "$$")
}

// writeConfig writes the build config outside the source tree so it is not
// uploaded with the context.
func (b *RemoteBuilder) writeConfig(req BuildRequest) (string, error) {
	data, err := yaml.Marshal(cloudBuildConfigFor(req))
	if err != nil {
		return "", types.NewError(types.KindUnknown, "write build config", err)
	}
	f, err := os.CreateTemp("", "aideploy-cloudbuild-*.yaml")
	if err != nil {
		return "", types.NewError(types.KindEnvironment, "write build config", err)
	}
	path := f.Name()
	_, err = f.Write(data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", types.NewError(types.KindEnvironment, "write build config", err)
	}
	return path, nil
}
