package builder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/rzbill/aideploy/pkg/docker"
	"github.com/rzbill/aideploy/pkg/log"
	"github.com/rzbill/aideploy/pkg/types"
)

// ImageBuilderAPI is the slice of the Docker client the local builder uses.
type ImageBuilderAPI interface {
	ImageBuild(ctx context.Context, buildContext io.Reader, options build.ImageBuildOptions) (build.ImageBuildResponse, error)
}

var _ Builder = &LocalBuilder{}

// LocalBuilder builds with the Docker Engine API.
type LocalBuilder struct {
	api    ImageBuilderAPI
	logger log.Logger
}

// NewLocalBuilder creates a LocalBuilder.
func NewLocalBuilder(api ImageBuilderAPI, logger log.Logger) *LocalBuilder {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &LocalBuilder{api: api, logger: logger.WithComponent("builder")}
}

// Strategy returns StrategyLocal.
func (b *LocalBuilder) Strategy() Strategy {
	return StrategyLocal
}

// Build sends the context to the daemon and waits for the image ID.
func (b *LocalBuilder) Build(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	const op = "docker build"
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	buildCtx, err := TarContext(req.SourceDir, req.dockerfile())
	if err != nil {
		return nil, types.NewError(types.KindEnvironment, op, err)
	}
	defer buildCtx.Close()

	args := make(map[string]*string, len(req.BuildArgs))
	for k, v := range req.BuildArgs {
		v := v
		args[k] = &v
	}

	b.logger.Info("Building image locally", log.Str("image", req.Image.String()), log.Str("dir", req.SourceDir))

	resp, err := b.api.ImageBuild(ctx, buildCtx, build.ImageBuildOptions{
		Tags:        []string{req.Image.String()},
		Dockerfile:  req.dockerfile(),
		Platform:    req.Platform,
		BuildArgs:   args,
		NoCache:     req.NoCache,
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return nil, docker.Classify(op, err)
	}
	defer resp.Body.Close()

	var imageID string
	progress := log.StdLogWriter(b.logger, log.InfoLevel)
	err = docker.ReadStream(resp.Body, progress, func(m jsonmessage.JSONMessage) {
		var aux struct {
			ID string `json:"ID"`
		}
		if docker.DecodeAux(m, &aux) && aux.ID != "" {
			imageID = aux.ID
		}
	})
	_ = progress.Close()

	if err != nil {
		var jerr *jsonmessage.JSONError
		if errors.As(err, &jerr) {
			return nil, types.NewError(types.KindBuild, op, errors.New(jerr.Message)).
				WithDiagnostic(jerr.Message).
				WithHelp("fix the Dockerfile or dependencies and re-run")
		}
		return nil, docker.Classify(op, err)
	}
	if imageID == "" {
		return nil, types.NewError(types.KindBuild, op, fmt.Errorf("daemon reported no image ID for %s", req.Image))
	}

	b.logger.Info("Image built", log.Str("image", req.Image.String()), log.Str("id", imageID))
	return &BuildResult{
		Image:    req.Image,
		ImageID:  imageID,
		Strategy: StrategyLocal,
		Duration: time.Since(start),
	}, nil
}
