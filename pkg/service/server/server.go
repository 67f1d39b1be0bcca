// Package server exposes workflow orchestration over the Model Context
// Protocol on stdio.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Azure/containerization-assist/pkg/domain/session"
	domainworkflow "github.com/Azure/containerization-assist/pkg/domain/workflow"
	"github.com/Azure/containerization-assist/pkg/service/progress"
	sessionsvc "github.com/Azure/containerization-assist/pkg/service/session"
	"github.com/Azure/containerization-assist/pkg/service/workflow"
)

// Server wraps the orchestration services and exposes them as MCP tools.
type Server struct {
	orchestrator *workflow.Orchestrator
	manager      *workflow.Manager
	sessions     *sessionsvc.Service
	tracker      *progress.Tracker
	automated    bool
	registryURL  string
	namespace    string
	logger       *slog.Logger
}

// Options carries server-level defaults applied to incoming requests.
type Options struct {
	// Automated makes workflows continue past failing steps by default.
	Automated bool
	// RegistryURL is the default image registry for build workflows.
	RegistryURL string
	// Namespace is the default deployment namespace.
	Namespace string
}

// NewServer creates the MCP server wrapper.
func NewServer(orchestrator *workflow.Orchestrator, manager *workflow.Manager, sessions *sessionsvc.Service, tracker *progress.Tracker, opts Options, logger *slog.Logger) *Server {
	return &Server{
		orchestrator: orchestrator,
		manager:      manager,
		sessions:     sessions,
		tracker:      tracker,
		automated:    opts.Automated,
		registryURL:  opts.RegistryURL,
		namespace:    opts.Namespace,
		logger:       logger.With("component", "mcp_server"),
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer(version string) *server.MCPServer {
	srv := server.NewMCPServer("containerization-assist", version, server.WithToolCapabilities(true))

	srv.AddTool(s.startWorkflowTool())
	srv.AddTool(s.workflowStatusTool())
	srv.AddTool(s.cancelWorkflowTool())
	srv.AddTool(s.listSessionsTool())
	srv.AddTool(s.progressHistoryTool())
	srv.AddTool(s.sessionStatsTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context, version string) error {
	stdioServer := server.NewStdioServer(s.MCPServer(version))
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// start_workflow
func (s *Server) startWorkflowTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("start_workflow",
		mcp.WithDescription("Start a containerization workflow for a repository. Returns the workflow id, session id, resolved step list, and an estimated duration."),
		mcp.WithString("repo_path", mcp.Description("Absolute path to the repository to containerize")),
		mcp.WithString("workflow", mcp.Description("Workflow type: containerization (default), build-only, or deploy-only")),
		mcp.WithString("session_id", mcp.Description("Existing session to resume; a new session is created when omitted")),
		mcp.WithString("registry_url", mcp.Description("Image registry to push to")),
		mcp.WithString("namespace", mcp.Description("Kubernetes namespace to deploy into")),
		mcp.WithBoolean("skip_security", mcp.Description("Skip the vulnerability scan step")),
		mcp.WithBoolean("skip_tests", mcp.Description("Skip test execution during the build")),
		mcp.WithBoolean("automated", mcp.Description("Continue past failing steps and aggregate failures")),
		mcp.WithBoolean("auto_rollback", mcp.Description("Keep going after a failed step so later steps can roll back")),
		mcp.WithBoolean("parallel_steps", mcp.Description("Hint that independent steps may overlap; affects duration estimates")),
	)
	return tool, s.handleStartWorkflow
}

func (s *Server) handleStartWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	registryURL := request.GetString("registry_url", s.registryURL)
	namespace := request.GetString("namespace", s.namespace)

	req := domainworkflow.StartRequest{
		SessionID: request.GetString("session_id", ""),
		RepoPath:  request.GetString("repo_path", ""),
		Workflow:  domainworkflow.Type(request.GetString("workflow", string(domainworkflow.TypeContainerization))),
		Options: domainworkflow.Options{
			SkipTests:     request.GetBool("skip_tests", false),
			SkipSecurity:  request.GetBool("skip_security", false),
			Automated:     request.GetBool("automated", s.automated),
			AutoRollback:  request.GetBool("auto_rollback", false),
			ParallelSteps: request.GetBool("parallel_steps", false),
			RegistryURL:   registryURL,
			Namespace:     namespace,
		},
	}

	result, err := s.orchestrator.StartWorkflow(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to start workflow: %v", err)), nil
	}
	return jsonResult(map[string]interface{}{
		"workflow_id":        result.WorkflowID,
		"session_id":         result.SessionID,
		"status":             result.Status,
		"steps":              result.Steps,
		"estimated_duration": result.EstimatedDuration.String(),
	})
}

// workflow_status
func (s *Server) workflowStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("workflow_status",
		mcp.WithDescription("Get the status of one workflow by id, or of a session's latest workflow, or a summary of all workflow activity when neither is given."),
		mcp.WithString("workflow_id", mcp.Description("Workflow id returned from start_workflow")),
		mcp.WithString("session_id", mcp.Description("Session id to look up the latest workflow for")),
	)
	return tool, s.handleWorkflowStatus
}

func (s *Server) handleWorkflowStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID := request.GetString("workflow_id", "")
	sessionID := request.GetString("session_id", "")

	var exec workflow.Execution
	var found bool
	switch {
	case workflowID != "":
		exec, found = s.manager.Get(workflowID)
	case sessionID != "":
		exec, found = s.manager.GetBySession(sessionID)
	default:
		return jsonResult(s.manager.Summary(true))
	}
	if !found {
		return mcp.NewToolResultError("workflow not found"), nil
	}

	out := map[string]interface{}{
		"workflow_id":  exec.WorkflowID,
		"session_id":   exec.SessionID,
		"workflow":     exec.Workflow,
		"status":       exec.Status,
		"steps":        exec.Steps,
		"started_at":   exec.StartedAt,
		"current_step": exec.CurrentStep,
	}
	if exec.FinishedAt != nil {
		out["finished_at"] = exec.FinishedAt
	}
	if exec.Result != nil {
		out["result"] = exec.Result
	}
	if sess, ok, err := s.sessions.GetSession(ctx, exec.SessionID); err == nil && ok {
		out["progress"] = sess.Progress
	}
	return jsonResult(out)
}

// cancel_workflow
func (s *Server) cancelWorkflowTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("cancel_workflow",
		mcp.WithDescription("Request cancellation of a running workflow. The run stops between steps."),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow id to cancel")),
	)
	return tool, s.handleCancelWorkflow
}

func (s *Server) handleCancelWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := request.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: workflow_id"), nil
	}
	if err := s.orchestrator.Cancel(workflowID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to cancel workflow: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("cancellation requested for workflow %s", workflowID)), nil
}

// list_sessions
func (s *Server) listSessionsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("list_sessions",
		mcp.WithDescription("List workflow sessions. Returns id, status, repository path, progress, and timestamps."),
		mcp.WithString("status", mcp.Description("Filter by status, e.g. active, completed, failed")),
		mcp.WithString("repo_path", mcp.Description("Filter by repository path")),
	)
	return tool, s.handleListSessions
}

func (s *Server) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var filters []session.Filter
	if status := request.GetString("status", ""); status != "" {
		filters = append(filters, session.WithStatus(session.Status(status)))
	}
	if repoPath := request.GetString("repo_path", ""); repoPath != "" {
		filters = append(filters, session.WithRepoPath(repoPath))
	}

	sessions, err := s.sessions.ListSessions(ctx, filters...)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list sessions: %v", err)), nil
	}

	out := make([]map[string]interface{}, len(sessions))
	for i, sess := range sessions {
		entry := map[string]interface{}{
			"id":         sess.ID,
			"status":     sess.Status,
			"repo_path":  sess.RepoPath,
			"progress":   sess.Progress,
			"created_at": sess.CreatedAt,
			"updated_at": sess.UpdatedAt,
			"version":    sess.Version,
		}
		if sess.ExpiresAt != nil {
			entry["expires_at"] = sess.ExpiresAt
		}
		if step := sess.CurrentStep(); step != "" {
			entry["current_step"] = step
		}
		if stepErrs := sess.StepErrors(); len(stepErrs) > 0 {
			entry["step_errors"] = stepErrs
		}
		out[i] = entry
	}
	return jsonResult(out)
}

// progress_history
func (s *Server) progressHistoryTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("progress_history",
		mcp.WithDescription("Get progress updates for a session. With fold=true, returns only the latest update per step."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id to fetch progress for")),
		mcp.WithBoolean("fold", mcp.Description("Collapse history to the latest update per step")),
		mcp.WithString("step", mcp.Description("Only return updates for this step")),
	)
	return tool, s.handleProgressHistory
}

func (s *Server) handleProgressHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	var updates []progress.Update
	if request.GetBool("fold", false) {
		updates = s.tracker.GetCurrentProgress(sessionID)
	} else if step := request.GetString("step", ""); step != "" {
		updates = s.tracker.GetHistory(sessionID, func(u progress.Update) bool { return u.Step == step })
	} else {
		updates = s.tracker.GetHistory(sessionID)
	}
	return jsonResult(updates)
}

// session_stats
func (s *Server) sessionStatsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("session_stats",
		mcp.WithDescription("Get session storage counters and current workflow load."),
	)
	return tool, s.handleSessionStats
}

func (s *Server) handleSessionStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.sessions.Stats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read session stats: %v", err)), nil
	}
	return jsonResult(map[string]interface{}{
		"sessions":  stats,
		"workflows": s.manager.Summary(false),
	})
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
