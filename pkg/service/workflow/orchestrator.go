package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Azure/containerization-assist/pkg/domain/errors"
	"github.com/Azure/containerization-assist/pkg/domain/session"
	"github.com/Azure/containerization-assist/pkg/domain/workflow"
	"github.com/Azure/containerization-assist/pkg/service/progress"
	sessionsvc "github.com/Azure/containerization-assist/pkg/service/session"
	"github.com/Azure/containerization-assist/pkg/service/workflow/steps"
)

// Orchestrator starts workflow runs and drives their step loops. Runs
// execute on their own goroutines; callers observe them through the
// progress tracker and the execution registry.
type Orchestrator struct {
	sessions *sessionsvc.Service
	tracker  *progress.Tracker
	manager  *Manager
	registry *steps.Registry
	logger   *slog.Logger
}

// NewOrchestrator wires the orchestrator.
func NewOrchestrator(sessions *sessionsvc.Service, tracker *progress.Tracker, manager *Manager, registry *steps.Registry, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		sessions: sessions,
		tracker:  tracker,
		manager:  manager,
		registry: registry,
		logger:   logger.With("component", "orchestrator"),
	}
}

// ResolveSteps expands a workflow type and options into the ordered step
// list for the run.
func ResolveSteps(t workflow.Type, opts workflow.Options) ([]string, error) {
	var out []string
	switch t {
	case workflow.TypeContainerization:
		out = []string{
			workflow.StepAnalyzeRepository,
			workflow.StepGenerateDockerfile,
			workflow.StepBuildImage,
			workflow.StepScanImage,
			workflow.StepTagImage,
			workflow.StepPushImage,
			workflow.StepGenerateManifests,
			workflow.StepDeployApplication,
			workflow.StepVerifyDeployment,
		}
	case workflow.TypeBuildOnly:
		out = []string{
			workflow.StepAnalyzeRepository,
			workflow.StepGenerateDockerfile,
			workflow.StepBuildImage,
			workflow.StepScanImage,
			workflow.StepTagImage,
			workflow.StepPushImage,
		}
	case workflow.TypeDeployOnly:
		out = []string{
			workflow.StepGenerateManifests,
			workflow.StepDeployApplication,
			workflow.StepVerifyDeployment,
		}
	default:
		return nil, errors.New(errors.CodeValidationFailed, "workflow",
			"unknown workflow type: "+string(t), nil)
	}

	if opts.SkipSecurity {
		filtered := out[:0:0]
		for _, step := range out {
			if step != workflow.StepScanImage {
				filtered = append(filtered, step)
			}
		}
		out = filtered
	}
	return out, nil
}

// StartWorkflow validates the request, registers the execution, and launches
// the run goroutine. A session with a workflow already running is rejected.
func (o *Orchestrator) StartWorkflow(ctx context.Context, req workflow.StartRequest) (workflow.StartResult, error) {
	if req.Workflow == "" {
		req.Workflow = workflow.TypeContainerization
	}
	if req.RepoPath == "" && req.Workflow != workflow.TypeDeployOnly {
		return workflow.StartResult{}, errors.New(errors.CodeValidationFailed, "workflow",
			"repo_path is required", nil)
	}

	stepNames, err := ResolveSteps(req.Workflow, req.Options)
	if err != nil {
		return workflow.StartResult{}, err
	}

	sess, err := o.sessions.GetOrCreateSession(ctx, req.SessionID, req.RepoPath)
	if err != nil {
		return workflow.StartResult{}, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	exec := &Execution{
		WorkflowID: uuid.NewString(),
		SessionID:  sess.ID,
		Workflow:   req.Workflow,
		Steps:      stepNames,
		StartedAt:  time.Now(),
	}
	if err := o.manager.Register(exec, cancel); err != nil {
		cancel()
		return workflow.StartResult{}, err
	}

	if err := o.sessions.SetStatus(ctx, sess.ID, session.StatusActive, string(req.Workflow)); err != nil {
		o.manager.MarkTerminal(exec.WorkflowID, workflow.ExecutionStatusFailed, nil)
		cancel()
		return workflow.StartResult{}, err
	}
	if err := o.sessions.SetTotalSteps(ctx, sess.ID, len(stepNames)); err != nil {
		o.logger.Warn("failed to record total steps", "session_id", sess.ID, "error", err)
	}

	go o.run(runCtx, exec, req.Options)

	o.logger.Info("workflow started",
		"workflow_id", exec.WorkflowID,
		"session_id", sess.ID,
		"workflow", req.Workflow,
		"steps", len(stepNames))
	return workflow.StartResult{
		WorkflowID:        exec.WorkflowID,
		SessionID:         sess.ID,
		Status:            string(workflow.ExecutionStatusRunning),
		Steps:             stepNames,
		EstimatedDuration: workflow.EstimateDuration(stepNames, req.Options),
	}, nil
}

// Cancel requests cancellation of a running workflow.
func (o *Orchestrator) Cancel(workflowID string) error {
	return o.manager.Cancel(workflowID)
}

// Status returns the execution record for a workflow id.
func (o *Orchestrator) Status(workflowID string) (Execution, bool) {
	return o.manager.Get(workflowID)
}

// run executes the resolved steps in order on the run goroutine. It always
// leaves behind a structured Result, a terminal execution status, and a
// terminal progress update.
func (o *Orchestrator) run(ctx context.Context, exec *Execution, opts workflow.Options) {
	started := time.Now()
	logger := o.logger.With("workflow_id", exec.WorkflowID, "session_id", exec.SessionID)
	result := &workflow.Result{
		WorkflowID:     exec.WorkflowID,
		SessionID:      exec.SessionID,
		PartialResults: make(map[string]interface{}),
	}
	aborted := false

	o.emit(exec.SessionID, progress.StepWorkflow, progress.StatusStarting,
		"workflow "+string(exec.Workflow)+" started", 0)

	for i, name := range exec.Steps {
		if ctx.Err() != nil {
			aborted = true
			break
		}

		step, ok := o.registry.Get(name)
		if !ok {
			result.Failures = append(result.Failures, workflow.StepFailure{
				Step: name, Error: "step not registered",
			})
			if !opts.ContinueOnFailure() {
				break
			}
			continue
		}

		o.manager.SetCurrentStep(exec.WorkflowID, name)
		if err := o.sessions.SetCurrentStep(ctx, exec.SessionID, name); err != nil {
			logger.Warn("failed to record current step", "step", name, "error", err)
		}
		percent := i * 100 / len(exec.Steps)
		o.emit(exec.SessionID, name, progress.StatusStarting, "", percent)

		payload, stepErr := o.executeStep(ctx, step, exec, opts, result.PartialResults)
		if payload != nil {
			result.PartialResults[step.ResultKey()] = payload
			if _, err := o.sessions.UpdateWorkflowState(ctx, exec.SessionID,
				map[string]interface{}{step.ResultKey(): payload}); err != nil {
				logger.Warn("failed to persist step result", "step", name, "error", err)
			}
		}

		if stepErr != nil {
			if ctx.Err() != nil {
				aborted = true
				break
			}
			logger.Error("step failed", "step", name, "error", stepErr)
			result.Failures = append(result.Failures, workflow.StepFailure{
				Step: name, Error: stepErr.Error(),
			})
			if err := o.sessions.AddStepError(ctx, exec.SessionID, name, stepErr); err != nil {
				logger.Warn("failed to record step error", "step", name, "error", err)
			}
			o.emit(exec.SessionID, name, progress.StatusFailed, stepErr.Error(), percent)
			if !opts.ContinueOnFailure() {
				break
			}
			continue
		}

		result.CompletedSteps = append(result.CompletedSteps, name)
		if err := o.sessions.MarkStepCompleted(ctx, exec.SessionID, name); err != nil {
			logger.Warn("failed to record step completion", "step", name, "error", err)
		}
		doneStatus := progress.StatusCompleted
		if skipped, _ := payload["skipped"].(bool); skipped {
			doneStatus = progress.StatusSkipped
		}
		o.emit(exec.SessionID, name, doneStatus, "", (i+1)*100/len(exec.Steps))
	}

	result.Duration = time.Since(started)
	switch {
	case aborted:
		result.Status = workflow.ExecutionStatusAborted
	case len(result.Failures) > 0:
		result.Status = workflow.ExecutionStatusFailed
	default:
		result.Status = workflow.ExecutionStatusCompleted
	}

	finishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.sessions.SetCurrentStep(finishCtx, exec.SessionID, ""); err != nil {
		logger.Warn("failed to clear current step", "error", err)
	}
	success := result.Status == workflow.ExecutionStatusCompleted
	if err := o.sessions.CompleteSession(finishCtx, exec.SessionID, success); err != nil {
		logger.Warn("failed to finalize session", "error", err)
	}
	o.manager.MarkTerminal(exec.WorkflowID, result.Status, result)

	finalStatus := progress.StatusCompleted
	message := "workflow completed"
	if !success {
		finalStatus = progress.StatusFailed
		message = "workflow " + string(result.Status)
	}
	o.emit(exec.SessionID, progress.StepWorkflow, finalStatus, message, 100)
	logger.Info("workflow finished",
		"status", result.Status,
		"completed_steps", len(result.CompletedSteps),
		"failures", len(result.Failures),
		"duration", result.Duration)
}

var retryBackoff = 3 * time.Second

// executeStep runs one step under its own timeout. Steps whose failures are
// commonly transient get a single extra attempt after a short backoff.
func (o *Orchestrator) executeStep(ctx context.Context, step steps.Step, exec *Execution, opts workflow.Options, state map[string]interface{}) (map[string]interface{}, error) {
	// The request state is its own map: persisted session state feeds the
	// step without session bookkeeping leaking back into the run's results.
	reqState := make(map[string]interface{}, len(state))
	repoPath := ""
	sess, found, err := o.sessions.GetSession(ctx, exec.SessionID)
	if err == nil && found {
		repoPath = sess.RepoPath
		for k, v := range sess.WorkflowState {
			reqState[k] = v
		}
	}
	// In-run results take precedence over what earlier runs recorded.
	for k, v := range state {
		reqState[k] = v
	}

	req := steps.Request{
		SessionID: exec.SessionID,
		RepoPath:  repoPath,
		Options:   opts,
		State:     reqState,
	}

	payload, stepErr := o.attempt(ctx, step, req)
	if stepErr == nil || !workflow.Retryable(step.Name()) || ctx.Err() != nil {
		return payload, stepErr
	}

	o.logger.Warn("step failed, retrying",
		"workflow_id", exec.WorkflowID, "step", step.Name(), "error", stepErr)
	select {
	case <-ctx.Done():
		return payload, stepErr
	case <-time.After(retryBackoff):
	}
	return o.attempt(ctx, step, req)
}

// attempt is one execution of a step under a fresh timeout.
func (o *Orchestrator) attempt(ctx context.Context, step steps.Step, req steps.Request) (map[string]interface{}, error) {
	stepCtx, cancel := context.WithTimeout(ctx, step.Timeout())
	defer cancel()
	return step.Execute(stepCtx, req)
}

func (o *Orchestrator) emit(sessionID, step, status, message string, percent int) {
	if err := o.tracker.Emit(progress.Update{
		SessionID: sessionID,
		Step:      step,
		Status:    status,
		Message:   message,
		Percent:   percent,
	}); err != nil {
		o.logger.Warn("failed to emit progress", "session_id", sessionID, "step", step, "error", err)
	}
}
