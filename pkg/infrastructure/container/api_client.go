package container

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"

	"github.com/Azure/containerization-assist/pkg/domain/errors"
)

// APIClient implements ImageClient against the Docker Engine API.
type APIClient struct {
	cli          *client.Client
	registryAuth string
	logger       *slog.Logger
}

// NewAPIClient creates an Engine API client from the environment
// (DOCKER_HOST etc.) with API version negotiation.
func NewAPIClient(registryAuth string, logger *slog.Logger) (*APIClient, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &APIClient{
		cli:          cli,
		registryAuth: registryAuth,
		logger:       logger.With("component", "docker_api"),
	}, nil
}

// Strategy implements ImageClient.
func (c *APIClient) Strategy() Strategy { return StrategyAPI }

// Ping implements ImageClient.
func (c *APIClient) Ping(ctx context.Context) error {
	_, err := c.cli.Ping(ctx)
	return err
}

// Build implements ImageClient. The build context directory is tarred and
// streamed to the daemon.
func (c *APIClient) Build(ctx context.Context, opts BuildOptions) (*BuildResult, error) {
	start := time.Now()

	buildCtx, err := archive.TarWithOptions(opts.ContextDir, &archive.TarOptions{})
	if err != nil {
		return nil, errors.New(errors.CodeIoError, "docker", "failed to tar build context", err)
	}
	defer buildCtx.Close()

	buildArgs := make(map[string]*string, len(opts.BuildArgs))
	for k, v := range opts.BuildArgs {
		value := v
		buildArgs[k] = &value
	}

	dockerfile := opts.DockerfilePath
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}

	resp, err := c.cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:       []string{opts.ImageRef},
		Dockerfile: dockerfile,
		NoCache:    opts.NoCache,
		BuildArgs:  buildArgs,
		Platform:   opts.Platform,
		Remove:     true,
	})
	if err != nil {
		return nil, errors.New(errors.CodeImageBuildFailed, "docker", "engine build failed", err)
	}
	defer resp.Body.Close()

	var output strings.Builder
	if _, err := io.Copy(&output, resp.Body); err != nil {
		return nil, errors.New(errors.CodeImageBuildFailed, "docker", "failed to read build output", err)
	}
	// The build stream reports errors inline rather than via the response code.
	if strings.Contains(output.String(), `"error"`) {
		return nil, errors.New(errors.CodeImageBuildFailed, "docker",
			fmt.Sprintf("build reported an error: %s", lastLines(output.String(), 5)), nil)
	}

	inspect, err := c.Inspect(ctx, opts.ImageRef)
	if err != nil {
		return nil, err
	}

	return &BuildResult{
		ImageID:  inspect.ID,
		ImageRef: opts.ImageRef,
		Output:   output.String(),
		Duration: time.Since(start),
		Strategy: StrategyAPI,
	}, nil
}

// Tag implements ImageClient.
func (c *APIClient) Tag(ctx context.Context, source, target string) error {
	if err := c.cli.ImageTag(ctx, source, target); err != nil {
		return errors.New(errors.CodeOperationFailed, "docker", fmt.Sprintf("failed to tag %s as %s", source, target), err)
	}
	return nil
}

// Push implements ImageClient.
func (c *APIClient) Push(ctx context.Context, imageRef string) (string, error) {
	auth := c.registryAuth
	if auth == "" {
		auth = "e30=" // empty JSON auth config
	}
	reader, err := c.cli.ImagePush(ctx, imageRef, image.PushOptions{RegistryAuth: auth})
	if err != nil {
		return "", errors.New(errors.CodeImagePushFailed, "docker", fmt.Sprintf("failed to push %s", imageRef), err)
	}
	defer reader.Close()

	var output strings.Builder
	if _, err := io.Copy(&output, reader); err != nil {
		return "", errors.New(errors.CodeImagePushFailed, "docker", "failed to read push output", err)
	}
	if strings.Contains(output.String(), `"error"`) {
		return "", errors.New(errors.CodeImagePushFailed, "docker",
			fmt.Sprintf("push reported an error: %s", lastLines(output.String(), 5)), nil)
	}

	return output.String(), nil
}

// Inspect implements ImageClient.
func (c *APIClient) Inspect(ctx context.Context, imageRef string) (*InspectResult, error) {
	info, _, err := c.cli.ImageInspectWithRaw(ctx, imageRef)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, errors.New(errors.CodeNotFound, "docker", fmt.Sprintf("image %s not found", imageRef), err)
		}
		return nil, errors.New(errors.CodeOperationFailed, "docker", fmt.Sprintf("failed to inspect %s", imageRef), err)
	}

	return &InspectResult{
		ID:           info.ID,
		RepoTags:     info.RepoTags,
		RepoDigests:  info.RepoDigests,
		Size:         info.Size,
		Architecture: info.Architecture,
		OS:           info.Os,
		Created:      info.Created,
	}, nil
}

// Close releases the underlying connection.
func (c *APIClient) Close() error {
	return c.cli.Close()
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

var _ ImageClient = (*APIClient)(nil)
