// Package builder turns a source tree into a container image, either with
// the local Docker daemon or remotely with Cloud Build.
package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rzbill/aideploy/pkg/types"
)

// Strategy selects where the image is built.
type Strategy string

const (
	// StrategyLocal builds with the local Docker daemon.
	StrategyLocal Strategy = "local"

	// StrategyRemote builds with Cloud Build, which also pushes.
	StrategyRemote Strategy = "remote"
)

// ParseStrategy parses a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyLocal:
		return StrategyLocal, nil
	case StrategyRemote, "":
		return StrategyRemote, nil
	default:
		return "", types.NewValidationError(fmt.Sprintf("unknown build strategy %q (want local or remote)", s))
	}
}

// DefaultDockerfile is used when BuildRequest.Dockerfile is empty.
const DefaultDockerfile = "Dockerfile"

// BuildRequest describes one image build.
type BuildRequest struct {
	// SourceDir is the build context root
	SourceDir string

	// Dockerfile is relative to SourceDir
	Dockerfile string

	// Image is the tag to produce
	Image types.ImageReference

	// Platform, e.g. linux/amd64; Cloud Run requires amd64 images
	Platform string

	BuildArgs map[string]string
	NoCache   bool

	// Timeout bounds a remote build, e.g. "20m"
	Timeout string
}

// Validate checks the request before any external call.
func (r *BuildRequest) Validate() error {
	if err := r.Image.Validate(); err != nil {
		return err
	}
	info, err := os.Stat(r.SourceDir)
	if err != nil || !info.IsDir() {
		return types.NewValidationError(fmt.Sprintf("source directory %q does not exist", r.SourceDir))
	}
	dockerfile := r.dockerfile()
	if filepath.IsAbs(dockerfile) || strings.HasPrefix(filepath.Clean(dockerfile), "..") {
		return types.NewValidationError(fmt.Sprintf("dockerfile %q must be inside the source directory", dockerfile))
	}
	if _, err := os.Stat(filepath.Join(r.SourceDir, dockerfile)); err != nil {
		return types.NewValidationError(fmt.Sprintf("dockerfile %q not found in %s", dockerfile, r.SourceDir))
	}
	return nil
}

func (r *BuildRequest) dockerfile() string {
	if r.Dockerfile == "" {
		return DefaultDockerfile
	}
	return r.Dockerfile
}

// BuildResult is the artifact handed to the publisher.
type BuildResult struct {
	Image types.ImageReference

	// ImageID is the local image ID; empty for remote builds
	ImageID string

	// Pushed is true when the build already pushed the tag
	Pushed bool

	Strategy Strategy
	Duration time.Duration
}

// Builder runs exactly one build strategy. There is no fallback between
// strategies.
type Builder interface {
	Build(ctx context.Context, req BuildRequest) (*BuildResult, error)
	Strategy() Strategy
}
