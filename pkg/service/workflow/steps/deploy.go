package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/containerization-assist/pkg/domain/errors"
	"github.com/Azure/containerization-assist/pkg/domain/workflow"
)

// deployStep applies the generated manifests with kubectl.
type deployStep struct {
	deps Deps
}

func (s *deployStep) Name() string           { return workflow.StepDeployApplication }
func (s *deployStep) ResultKey() string      { return KeyDeployResult }
func (s *deployStep) Timeout() time.Duration { return 3 * time.Minute }

func (s *deployStep) Execute(ctx context.Context, req Request) (map[string]interface{}, error) {
	manifests := stateMap(req.State, KeyManifestsResult)
	if manifests == nil {
		return nil, errors.New(errors.CodeInvalidState, "workflow",
			"deployment requires generated manifests", nil)
	}
	namespace := stateString(req.State, KeyManifestsResult, "namespace")
	if namespace == "" {
		namespace = "default"
	}

	var applied []string
	for _, raw := range anySlice(manifests["files"]) {
		path, ok := raw.(string)
		if !ok {
			continue
		}
		out, err := s.deps.Runner.RunCommand(ctx, "kubectl", "apply", "-n", namespace, "-f", path)
		if err != nil {
			return nil, errors.New(errors.CodeDeploymentFailed, "workflow",
				fmt.Sprintf("kubectl apply failed for %s: %s", path, out), err)
		}
		applied = append(applied, path)
	}
	if len(applied) == 0 {
		return nil, errors.New(errors.CodeInvalidState, "workflow",
			"no manifest files recorded to apply", nil)
	}

	s.deps.Logger.Info("manifests applied", "namespace", namespace, "count", len(applied))
	return map[string]interface{}{
		"namespace": namespace,
		"applied":   applied,
	}, nil
}

// verifyStep waits for the deployment rollout to complete.
type verifyStep struct {
	deps Deps
}

func (s *verifyStep) Name() string           { return workflow.StepVerifyDeployment }
func (s *verifyStep) ResultKey() string      { return KeyVerifyResult }
func (s *verifyStep) Timeout() time.Duration { return 3 * time.Minute }

func (s *verifyStep) Execute(ctx context.Context, req Request) (map[string]interface{}, error) {
	name := stateString(req.State, KeyManifestsResult, "app_name")
	if name == "" {
		name = appName(req.RepoPath)
	}
	namespace := stateString(req.State, KeyDeployResult, "namespace")
	if namespace == "" {
		namespace = "default"
	}

	out, err := s.deps.Runner.RunCommand(ctx,
		"kubectl", "rollout", "status", "deployment/"+name,
		"-n", namespace, "--timeout=120s")
	if err != nil {
		return nil, errors.New(errors.CodeDeploymentFailed, "workflow",
			fmt.Sprintf("rollout of deployment/%s did not complete: %s", name, out), err)
	}

	ready, _ := s.deps.Runner.RunCommand(ctx,
		"kubectl", "get", "deployment/"+name, "-n", namespace,
		"-o", "jsonpath={.status.readyReplicas}")

	s.deps.Logger.Info("deployment verified", "deployment", name, "namespace", namespace, "ready_replicas", ready)
	return map[string]interface{}{
		"deployment":     name,
		"namespace":      namespace,
		"ready_replicas": ready,
	}, nil
}

func anySlice(v interface{}) []interface{} {
	switch vals := v.(type) {
	case []interface{}:
		return vals
	case []string:
		out := make([]interface{}, len(vals))
		for i, s := range vals {
			out[i] = s
		}
		return out
	default:
		return nil
	}
}
