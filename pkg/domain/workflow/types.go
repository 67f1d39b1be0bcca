// Package workflow provides domain types for containerization workflow
// orchestration: workflow kinds, step names, execution options, and results.
package workflow

import (
	"time"
)

// Type identifies a named workflow.
type Type string

const (
	// TypeContainerization is the full analyze-build-deploy workflow.
	TypeContainerization Type = "containerization"
	// TypeBuildOnly stops after the image is pushed.
	TypeBuildOnly Type = "build-only"
	// TypeDeployOnly assumes an image exists and only renders and deploys.
	TypeDeployOnly Type = "deploy-only"
)

// Step name constants
const (
	StepAnalyzeRepository  = "analyze_repository"
	StepGenerateDockerfile = "generate_dockerfile"
	StepBuildImage         = "build_image"
	StepScanImage          = "scan_image"
	StepTagImage           = "tag_image"
	StepPushImage          = "push_image"
	StepGenerateManifests  = "generate_k8s_manifests"
	StepDeployApplication  = "deploy_application"
	StepVerifyDeployment   = "verify_deployment"
)

// ExecutionStatus is the lifecycle state of one workflow run.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusAborted   ExecutionStatus = "aborted"
)

// Terminal reports whether the execution reached a final state.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusAborted
}

// Options is the caller-supplied options bag for a workflow run.
type Options struct {
	SkipTests     bool   `json:"skip_tests,omitempty"`
	SkipSecurity  bool   `json:"skip_security,omitempty"`
	RegistryURL   string `json:"registry_url,omitempty"`
	Namespace     string `json:"namespace,omitempty"`
	AutoRollback  bool   `json:"auto_rollback,omitempty"`
	Automated     bool   `json:"automated,omitempty"`
	ParallelSteps bool   `json:"parallel_steps,omitempty"`
}

// ContinueOnFailure reports whether a failing step halts the run.
// Automated runs continue through remaining steps and aggregate failures;
// there is no operator present to resume a halted run.
func (o Options) ContinueOnFailure() bool {
	return o.Automated || o.AutoRollback
}

// StartRequest asks the orchestrator to begin a workflow.
type StartRequest struct {
	SessionID string  `json:"session_id,omitempty"`
	RepoPath  string  `json:"repo_path"`
	Workflow  Type    `json:"workflow"`
	Options   Options `json:"options"`
}

// StartResult is returned from a workflow start operation.
type StartResult struct {
	WorkflowID        string        `json:"workflow_id"`
	SessionID         string        `json:"session_id"`
	Status            string        `json:"status"`
	Steps             []string      `json:"steps"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
}

// StepFailure describes one failed step in a run.
type StepFailure struct {
	Step  string `json:"step"`
	Error string `json:"error"`
}

// Result is the structured outcome of a finished workflow run. A failed run
// is still a Result, never a bare error: it names the failing steps and keeps
// the partial results accumulated so far.
type Result struct {
	WorkflowID     string                 `json:"workflow_id"`
	SessionID      string                 `json:"session_id"`
	Status         ExecutionStatus        `json:"status"`
	CompletedSteps []string               `json:"completed_steps"`
	Failures       []StepFailure          `json:"failures,omitempty"`
	PartialResults map[string]interface{} `json:"partial_results,omitempty"`
	Duration       time.Duration          `json:"duration"`
}
