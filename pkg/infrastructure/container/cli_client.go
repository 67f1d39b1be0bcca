package container

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Azure/containerization-assist/pkg/domain/errors"
	"github.com/Azure/containerization-assist/pkg/infrastructure/runner"
)

// CLIClient implements ImageClient by shelling out to the docker CLI. It is
// the fallback path when the Engine API is unreachable (remote contexts,
// restricted sockets).
type CLIClient struct {
	runner runner.CommandRunner
	logger *slog.Logger
}

// NewCLIClient creates a CLI-backed client.
func NewCLIClient(cmdRunner runner.CommandRunner, logger *slog.Logger) *CLIClient {
	return &CLIClient{
		runner: cmdRunner,
		logger: logger.With("component", "docker_cli"),
	}
}

// Strategy implements ImageClient.
func (c *CLIClient) Strategy() Strategy { return StrategyCLI }

// Ping implements ImageClient.
func (c *CLIClient) Ping(ctx context.Context) error {
	out, err := c.runner.RunCommand(ctx, "docker", "version", "--format", "{{.Server.Version}}")
	if err != nil {
		return fmt.Errorf("docker daemon is not reachable: %s", strings.TrimSpace(out))
	}
	return nil
}

// Build implements ImageClient.
func (c *CLIClient) Build(ctx context.Context, opts BuildOptions) (*BuildResult, error) {
	start := time.Now()

	args := []string{"docker", "build", "-t", opts.ImageRef}
	if opts.DockerfilePath != "" {
		args = append(args, "-f", opts.DockerfilePath)
	}
	if opts.NoCache {
		args = append(args, "--no-cache")
	}
	if opts.Platform != "" {
		args = append(args, "--platform", opts.Platform)
	}
	for k, v := range opts.BuildArgs {
		args = append(args, "--build-arg", fmt.Sprintf("%s=%s", k, v))
	}
	args = append(args, opts.ContextDir)

	out, err := c.runner.RunCommand(ctx, args...)
	if err != nil {
		return nil, errors.New(errors.CodeImageBuildFailed, "docker", fmt.Sprintf("docker build failed: %s", lastLines(out, 10)), err)
	}

	inspect, err := c.Inspect(ctx, opts.ImageRef)
	if err != nil {
		return nil, err
	}

	return &BuildResult{
		ImageID:  inspect.ID,
		ImageRef: opts.ImageRef,
		Output:   out,
		Duration: time.Since(start),
		Strategy: StrategyCLI,
	}, nil
}

// Tag implements ImageClient.
func (c *CLIClient) Tag(ctx context.Context, source, target string) error {
	out, err := c.runner.RunCommand(ctx, "docker", "tag", source, target)
	if err != nil {
		return errors.New(errors.CodeOperationFailed, "docker", fmt.Sprintf("failed to tag %s as %s: %s", source, target, strings.TrimSpace(out)), err)
	}
	return nil
}

// Push implements ImageClient.
func (c *CLIClient) Push(ctx context.Context, imageRef string) (string, error) {
	out, err := c.runner.RunCommand(ctx, "docker", "push", imageRef)
	if err != nil {
		return "", errors.New(errors.CodeImagePushFailed, "docker", fmt.Sprintf("failed to push %s: %s", imageRef, lastLines(out, 5)), err)
	}
	return out, nil
}

// Inspect implements ImageClient.
func (c *CLIClient) Inspect(ctx context.Context, imageRef string) (*InspectResult, error) {
	out, err := c.runner.RunCommand(ctx, "docker", "image", "inspect", imageRef)
	if err != nil {
		if strings.Contains(out, "No such image") {
			return nil, errors.New(errors.CodeNotFound, "docker", fmt.Sprintf("image %s not found", imageRef), err)
		}
		return nil, errors.New(errors.CodeOperationFailed, "docker", fmt.Sprintf("failed to inspect %s: %s", imageRef, strings.TrimSpace(out)), err)
	}

	var entries []struct {
		ID           string   `json:"Id"`
		RepoTags     []string `json:"RepoTags"`
		RepoDigests  []string `json:"RepoDigests"`
		Size         int64    `json:"Size"`
		Architecture string   `json:"Architecture"`
		Os           string   `json:"Os"`
		Created      string   `json:"Created"`
	}
	if err := json.Unmarshal([]byte(out), &entries); err != nil || len(entries) == 0 {
		return nil, errors.New(errors.CodeOperationFailed, "docker", "unexpected docker inspect output", err)
	}

	e := entries[0]
	return &InspectResult{
		ID:           e.ID,
		RepoTags:     e.RepoTags,
		RepoDigests:  e.RepoDigests,
		Size:         e.Size,
		Architecture: e.Architecture,
		OS:           e.Os,
		Created:      e.Created,
	}, nil
}

var _ ImageClient = (*CLIClient)(nil)
