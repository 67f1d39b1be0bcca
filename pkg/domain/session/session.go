// Package session contains the session entity and business rules for
// containerization workflow state. It has no infrastructure dependencies.
package session

import (
	"time"
)

// Status represents the current status of a session
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
	StatusPaused    Status = "paused"
	StatusAnalyzing Status = "analyzing"
	StatusBuilding  Status = "building"
	StatusDeploying Status = "deploying"
)

// Well-known keys inside Session.WorkflowState.
const (
	StateKeyCompletedSteps = "completed_steps"
	StateKeyCurrentStep    = "current_step"
	StateKeyErrors         = "errors"
	StateKeyMetadata       = "metadata"
)

// Progress summarizes step-level completion for a session.
type Progress struct {
	Percentage     int `json:"percentage"`
	CompletedSteps int `json:"completed_steps"`
	FailedSteps    int `json:"failed_steps"`
	TotalSteps     int `json:"total_steps"`
}

// Session represents the durable record of one client's containerization
// workflow state.
type Session struct {
	ID            string                 `json:"id"`
	Status        Status                 `json:"status"`
	Stage         string                 `json:"stage,omitempty"`
	RepoPath      string                 `json:"repo_path,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	ExpiresAt     *time.Time             `json:"expires_at,omitempty"`
	Version       int64                  `json:"version"`
	WorkflowState map[string]interface{} `json:"workflow_state,omitempty"`
	Progress      Progress               `json:"progress"`
}

// StepError records a step failure against the session.
type StepError struct {
	Step      string    `json:"step"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// IsExpired returns true if the session has an expiry in the past.
func (s *Session) IsExpired() bool {
	return s.ExpiresAt != nil && s.ExpiresAt.Before(time.Now())
}

// IsActive returns true if the session is in a non-terminal state.
func (s *Session) IsActive() bool {
	switch s.Status {
	case StatusCompleted, StatusFailed, StatusExpired:
		return false
	default:
		return true
	}
}

// IsTerminal returns true if the session reached a terminal status.
func (s *Session) IsTerminal() bool {
	return !s.IsActive()
}

// CompletedSteps returns the recorded completed step names.
// Values survive a JSON round trip as []interface{}, so both shapes are handled.
func (s *Session) CompletedSteps() []string {
	return stringSlice(s.WorkflowState[StateKeyCompletedSteps])
}

// CurrentStep returns the step currently executing, or "" when idle.
func (s *Session) CurrentStep() string {
	if v, ok := s.WorkflowState[StateKeyCurrentStep].(string); ok {
		return v
	}
	return ""
}

// MarkStepCompleted appends step to completed_steps if not already present.
func (s *Session) MarkStepCompleted(step string) {
	s.ensureState()
	steps := s.CompletedSteps()
	for _, existing := range steps {
		if existing == step {
			return
		}
	}
	s.WorkflowState[StateKeyCompletedSteps] = append(steps, step)
	s.Progress.CompletedSteps = len(steps) + 1
	if s.Progress.TotalSteps > 0 {
		s.Progress.Percentage = s.Progress.CompletedSteps * 100 / s.Progress.TotalSteps
	}
}

// SetCurrentStep records the step in flight; an empty step clears it.
func (s *Session) SetCurrentStep(step string) {
	s.ensureState()
	if step == "" {
		delete(s.WorkflowState, StateKeyCurrentStep)
		return
	}
	s.WorkflowState[StateKeyCurrentStep] = step
}

// AddStepError appends a step failure to the error log in workflow state.
func (s *Session) AddStepError(step string, message string) {
	s.ensureState()
	stepErr := StepError{Step: step, Error: message, Timestamp: time.Now().UTC()}
	entry := map[string]interface{}{
		"step":      stepErr.Step,
		"error":     stepErr.Error,
		"timestamp": stepErr.Timestamp.Format(time.RFC3339Nano),
	}
	existing, _ := s.WorkflowState[StateKeyErrors].([]interface{})
	s.WorkflowState[StateKeyErrors] = append(existing, entry)
	s.Progress.FailedSteps++
}

// StepErrors returns the recorded step failures, oldest first. Entries are
// stored as generic maps so they survive a JSON round trip.
func (s *Session) StepErrors() []StepError {
	entries, _ := s.WorkflowState[StateKeyErrors].([]interface{})
	out := make([]StepError, 0, len(entries))
	for _, raw := range entries {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		stepErr := StepError{}
		stepErr.Step, _ = entry["step"].(string)
		stepErr.Error, _ = entry["error"].(string)
		if ts, ok := entry["timestamp"].(string); ok {
			stepErr.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		}
		out = append(out, stepErr)
	}
	return out
}

func (s *Session) ensureState() {
	if s.WorkflowState == nil {
		s.WorkflowState = make(map[string]interface{})
	}
}

func stringSlice(v interface{}) []string {
	switch vals := v.(type) {
	case []string:
		out := make([]string, len(vals))
		copy(out, vals)
		return out
	case []interface{}:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}
