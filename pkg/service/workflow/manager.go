// Package workflow orchestrates multi-step containerization workflows over
// the session service, progress tracker, and container clients.
package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Azure/containerization-assist/pkg/domain/errors"
	"github.com/Azure/containerization-assist/pkg/domain/workflow"
)

// Execution is the in-memory record of one workflow run.
type Execution struct {
	WorkflowID  string                   `json:"workflow_id"`
	SessionID   string                   `json:"session_id"`
	Workflow    workflow.Type            `json:"workflow"`
	Status      workflow.ExecutionStatus `json:"status"`
	Steps       []string                 `json:"steps"`
	CurrentStep string                   `json:"current_step,omitempty"`
	StartedAt   time.Time                `json:"started_at"`
	FinishedAt  *time.Time               `json:"finished_at,omitempty"`
	Result      *workflow.Result         `json:"result,omitempty"`

	cancel context.CancelFunc
}

// StatusSummary is a point-in-time view of all workflow activity.
type StatusSummary struct {
	ActiveWorkflows int         `json:"active_workflows"`
	TotalWorkflows  int         `json:"total_workflows"`
	SystemLoad      string      `json:"system_load"`
	Executions      []Execution `json:"executions,omitempty"`
}

// Manager is the registry of workflow executions. It enforces one running
// workflow per session and owns cancellation.
type Manager struct {
	mu         sync.RWMutex
	executions map[string]*Execution // keyed by workflow id
	bySession  map[string]string     // session id -> running workflow id
}

// NewManager creates an empty execution registry.
func NewManager() *Manager {
	return &Manager{
		executions: make(map[string]*Execution),
		bySession:  make(map[string]string),
	}
}

// Register records a new running execution. It fails when the session
// already has a non-terminal workflow.
func (m *Manager) Register(exec *Execution, cancel context.CancelFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if runningID, ok := m.bySession[exec.SessionID]; ok {
		if existing := m.executions[runningID]; existing != nil && !existing.Status.Terminal() {
			return errors.New(errors.CodeWorkflowRunning, "workflow",
				fmt.Sprintf("session %s already has workflow %s running", exec.SessionID, runningID), nil)
		}
	}
	exec.Status = workflow.ExecutionStatusRunning
	exec.cancel = cancel
	m.executions[exec.WorkflowID] = exec
	m.bySession[exec.SessionID] = exec.WorkflowID
	return nil
}

// IsRunning reports whether the session has a non-terminal workflow.
func (m *Manager) IsRunning(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.bySession[sessionID]
	if !ok {
		return false
	}
	exec := m.executions[id]
	return exec != nil && !exec.Status.Terminal()
}

// Get returns a copy of an execution by workflow id.
func (m *Manager) Get(workflowID string) (Execution, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	exec, ok := m.executions[workflowID]
	if !ok {
		return Execution{}, false
	}
	return *exec, true
}

// GetBySession returns the most recent execution for a session.
func (m *Manager) GetBySession(sessionID string) (Execution, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.bySession[sessionID]
	if !ok {
		return Execution{}, false
	}
	exec, ok := m.executions[id]
	if !ok {
		return Execution{}, false
	}
	return *exec, true
}

// Active returns copies of all non-terminal executions.
func (m *Manager) Active() []Execution {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Execution
	for _, exec := range m.executions {
		if !exec.Status.Terminal() {
			out = append(out, *exec)
		}
	}
	return out
}

// SetCurrentStep records the step an execution is working on.
func (m *Manager) SetCurrentStep(workflowID string, step string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exec, ok := m.executions[workflowID]; ok {
		exec.CurrentStep = step
	}
}

// MarkTerminal moves an execution to a terminal status and attaches the
// run result.
func (m *Manager) MarkTerminal(workflowID string, status workflow.ExecutionStatus, result *workflow.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec, ok := m.executions[workflowID]
	if !ok {
		return
	}
	now := time.Now()
	exec.Status = status
	exec.CurrentStep = ""
	exec.FinishedAt = &now
	exec.Result = result
	exec.cancel = nil
}

// Cancel requests cancellation of a running execution. The run itself moves
// to aborted when its loop observes the cancelled context.
func (m *Manager) Cancel(workflowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec, ok := m.executions[workflowID]
	if !ok {
		return errors.New(errors.CodeNotFound, "workflow",
			fmt.Sprintf("workflow %s not found", workflowID), nil)
	}
	if exec.Status.Terminal() {
		return errors.New(errors.CodeInvalidState, "workflow",
			fmt.Sprintf("workflow %s already finished (%s)", workflowID, exec.Status), nil)
	}
	if exec.cancel != nil {
		exec.cancel()
	}
	return nil
}

// Summary reports counts and a coarse load label.
func (m *Manager) Summary(includeExecutions bool) StatusSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	active := 0
	for _, exec := range m.executions {
		if !exec.Status.Terminal() {
			active++
		}
	}
	summary := StatusSummary{
		ActiveWorkflows: active,
		TotalWorkflows:  len(m.executions),
		SystemLoad:      loadLabel(active),
	}
	if includeExecutions {
		summary.Executions = make([]Execution, 0, len(m.executions))
		for _, exec := range m.executions {
			summary.Executions = append(summary.Executions, *exec)
		}
	}
	return summary
}

func loadLabel(active int) string {
	switch {
	case active < 3:
		return "low"
	case active < 8:
		return "medium"
	default:
		return "high"
	}
}
