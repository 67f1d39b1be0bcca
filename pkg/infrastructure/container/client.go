// Package container provides image build, tag, push, inspect, and scan
// operations backed by two interchangeable client strategies: the Docker
// Engine API and the docker CLI.
package container

import (
	"context"
	"time"
)

// BuildOptions configures an image build.
type BuildOptions struct {
	DockerfilePath string            `json:"dockerfile_path"`
	ContextDir     string            `json:"context_dir"`
	ImageRef       string            `json:"image_ref"`
	BuildArgs      map[string]string `json:"build_args,omitempty"`
	NoCache        bool              `json:"no_cache,omitempty"`
	Platform       string            `json:"platform,omitempty"`
}

// BuildResult reports a finished build.
type BuildResult struct {
	ImageID  string        `json:"image_id"`
	ImageRef string        `json:"image_ref"`
	Output   string        `json:"output,omitempty"`
	Duration time.Duration `json:"duration"`
	Strategy Strategy      `json:"strategy"`
}

// InspectResult describes an image.
type InspectResult struct {
	ID           string   `json:"id"`
	RepoTags     []string `json:"repo_tags,omitempty"`
	RepoDigests  []string `json:"repo_digests,omitempty"`
	Size         int64    `json:"size"`
	Architecture string   `json:"architecture,omitempty"`
	OS           string   `json:"os,omitempty"`
	Created      string   `json:"created,omitempty"`
}

// ImageOps is the image operation surface consumers depend on. DualClient
// satisfies it with strategy selection layered on top.
type ImageOps interface {
	Build(ctx context.Context, opts BuildOptions) (*BuildResult, error)
	Tag(ctx context.Context, source, target string) error
	Push(ctx context.Context, imageRef string) (string, error)
	Inspect(ctx context.Context, imageRef string) (*InspectResult, error)
}

// ImageClient is one implementation path for image operations. Both the
// Engine API client and the CLI client satisfy it.
type ImageClient interface {
	// Ping probes connectivity to the container runtime.
	Ping(ctx context.Context) error
	Build(ctx context.Context, opts BuildOptions) (*BuildResult, error)
	Tag(ctx context.Context, source, target string) error
	Push(ctx context.Context, imageRef string) (string, error)
	Inspect(ctx context.Context, imageRef string) (*InspectResult, error)
	// Strategy names the implementation path.
	Strategy() Strategy
}
