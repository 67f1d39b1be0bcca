// Package steps implements the individual workflow steps: repository
// analysis, Dockerfile generation, image build/tag/push, vulnerability
// scanning, manifest generation, and deployment.
package steps

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/Azure/containerization-assist/pkg/domain/workflow"
	"github.com/Azure/containerization-assist/pkg/infrastructure/container"
	"github.com/Azure/containerization-assist/pkg/infrastructure/runner"
)

// Result keys under which step outputs are persisted in workflow state.
const (
	KeyAnalysisResult  = "analysis_result"
	KeyDockerfile      = "dockerfile_result"
	KeyBuildResult     = "build_result"
	KeyScanResult      = "scan_result"
	KeyTagResult       = "tag_result"
	KeyPushResult      = "push_result"
	KeyManifestsResult = "manifests_result"
	KeyDeployResult    = "deploy_result"
	KeyVerifyResult    = "verify_result"
)

// Deps collects the infrastructure every step may need.
type Deps struct {
	Images  container.ImageOps
	Scanner container.ScanOps
	Runner  runner.CommandRunner
	Logger  *slog.Logger
}

// Request is the input to one step execution. State holds the outputs of
// prior steps keyed by their result keys; values may have been through a
// JSON round trip, so step code reads them tolerantly.
type Request struct {
	SessionID string
	RepoPath  string
	Options   workflow.Options
	State     map[string]interface{}
}

// Step is one unit of workflow execution. Execute returns the payload to
// persist under ResultKey, or an error describing why the step failed.
type Step interface {
	Name() string
	ResultKey() string
	Timeout() time.Duration
	Execute(ctx context.Context, req Request) (map[string]interface{}, error)
}

// Registry maps step names to implementations.
type Registry struct {
	steps map[string]Step
}

// NewRegistry builds the full step set over the given dependencies.
func NewRegistry(deps Deps) *Registry {
	r := &Registry{steps: make(map[string]Step)}
	for _, s := range []Step{
		&analyzeStep{deps: deps},
		&dockerfileStep{deps: deps},
		&buildStep{deps: deps},
		&scanStep{deps: deps},
		&tagStep{deps: deps},
		&pushStep{deps: deps},
		&manifestsStep{deps: deps},
		&deployStep{deps: deps},
		&verifyStep{deps: deps},
	} {
		r.steps[s.Name()] = s
	}
	return r
}

// Get looks up a step by name.
func (r *Registry) Get(name string) (Step, bool) {
	s, ok := r.steps[name]
	return s, ok
}

// appName derives a DNS-safe application name from the repository path.
func appName(repoPath string) string {
	name := strings.ToLower(filepath.Base(filepath.Clean(repoPath)))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '.' || r == '_' || r == ' ':
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		out = "app"
	}
	return out
}

// imageRef builds the fully qualified image reference for the run.
func imageRef(req Request) string {
	name := appName(req.RepoPath)
	ref := name + ":latest"
	if req.Options.RegistryURL != "" {
		ref = strings.TrimSuffix(req.Options.RegistryURL, "/") + "/" + ref
	}
	return ref
}

// stateMap returns a nested result map from prior step output.
func stateMap(state map[string]interface{}, key string) map[string]interface{} {
	if m, ok := state[key].(map[string]interface{}); ok {
		return m
	}
	return nil
}

// stateString reads a string field out of a nested result map.
func stateString(state map[string]interface{}, key, field string) string {
	if m := stateMap(state, key); m != nil {
		if s, ok := m[field].(string); ok {
			return s
		}
	}
	return ""
}

// stateInt reads an integer field out of a nested result map, tolerating
// the float64 shape JSON decoding produces.
func stateInt(state map[string]interface{}, key, field string) int {
	m := stateMap(state, key)
	if m == nil {
		return 0
	}
	switch v := m[field].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// builtImageRef resolves the image reference produced earlier in the run,
// falling back to the derived reference when no build ran.
func builtImageRef(req Request) string {
	if ref := stateString(req.State, KeyTagResult, "image_ref"); ref != "" {
		return ref
	}
	if ref := stateString(req.State, KeyBuildResult, "image_ref"); ref != "" {
		return ref
	}
	return imageRef(req)
}

func stepError(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
