package steps

import (
	"context"
	"strings"
	"time"

	"github.com/Azure/containerization-assist/pkg/domain/errors"
	"github.com/Azure/containerization-assist/pkg/domain/workflow"
	"github.com/Azure/containerization-assist/pkg/infrastructure/container"
)

// buildStep builds the container image from the generated Dockerfile.
type buildStep struct {
	deps Deps
}

func (s *buildStep) Name() string           { return workflow.StepBuildImage }
func (s *buildStep) ResultKey() string      { return KeyBuildResult }
func (s *buildStep) Timeout() time.Duration { return 10 * time.Minute }

func (s *buildStep) Execute(ctx context.Context, req Request) (map[string]interface{}, error) {
	dockerfile := stateString(req.State, KeyDockerfile, "path")
	if dockerfile == "" {
		return nil, errors.New(errors.CodeInvalidState, "workflow",
			"image build requires a generated Dockerfile", nil)
	}
	ref := imageRef(req)

	result, err := s.deps.Images.Build(ctx, container.BuildOptions{
		DockerfilePath: dockerfile,
		ContextDir:     req.RepoPath,
		ImageRef:       ref,
	})
	if err != nil {
		return nil, err
	}

	s.deps.Logger.Info("image built",
		"image_ref", result.ImageRef,
		"image_id", shortID(result.ImageID),
		"strategy", result.Strategy,
		"duration", result.Duration)
	return map[string]interface{}{
		"image_ref":   result.ImageRef,
		"image_id":    result.ImageID,
		"strategy":    string(result.Strategy),
		"duration_ms": result.Duration.Milliseconds(),
	}, nil
}

// tagStep applies the registry-qualified tag to the built image.
type tagStep struct {
	deps Deps
}

func (s *tagStep) Name() string           { return workflow.StepTagImage }
func (s *tagStep) ResultKey() string      { return KeyTagResult }
func (s *tagStep) Timeout() time.Duration { return time.Minute }

func (s *tagStep) Execute(ctx context.Context, req Request) (map[string]interface{}, error) {
	source := stateString(req.State, KeyBuildResult, "image_ref")
	if source == "" {
		return nil, errors.New(errors.CodeInvalidState, "workflow",
			"image tag requires a completed build", nil)
	}
	target := imageRef(req)
	if target != source {
		if err := s.deps.Images.Tag(ctx, source, target); err != nil {
			return nil, err
		}
	}
	return map[string]interface{}{
		"source":    source,
		"image_ref": target,
	}, nil
}

// pushStep pushes the tagged image to the configured registry.
type pushStep struct {
	deps Deps
}

func (s *pushStep) Name() string           { return workflow.StepPushImage }
func (s *pushStep) ResultKey() string      { return KeyPushResult }
func (s *pushStep) Timeout() time.Duration { return 5 * time.Minute }

func (s *pushStep) Execute(ctx context.Context, req Request) (map[string]interface{}, error) {
	if req.Options.RegistryURL == "" {
		s.deps.Logger.Info("no registry configured, push skipped")
		return map[string]interface{}{
			"skipped": true,
			"reason":  "no registry configured",
		}, nil
	}
	ref := builtImageRef(req)
	digest, err := s.deps.Images.Push(ctx, ref)
	if err != nil {
		return nil, err
	}
	s.deps.Logger.Info("image pushed", "image_ref", ref, "digest", digest)
	result := map[string]interface{}{
		"image_ref": ref,
		"registry":  req.Options.RegistryURL,
	}
	if digest != "" {
		result["digest"] = digest
	}
	return result, nil
}

func shortID(id string) string {
	id = strings.TrimPrefix(id, "sha256:")
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
