package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/containerization-assist/pkg/infrastructure/container"
	"github.com/Azure/containerization-assist/pkg/infrastructure/messaging"
	sessionstore "github.com/Azure/containerization-assist/pkg/infrastructure/persistence/session"
	"github.com/Azure/containerization-assist/pkg/infrastructure/runner"
	"github.com/Azure/containerization-assist/pkg/service/progress"
	sessionsvc "github.com/Azure/containerization-assist/pkg/service/session"
	"github.com/Azure/containerization-assist/pkg/service/workflow"
	"github.com/Azure/containerization-assist/pkg/service/workflow/steps"
)

// fakeImages satisfies container.ImageOps without a daemon.
type fakeImages struct{}

func (fakeImages) Build(ctx context.Context, opts container.BuildOptions) (*container.BuildResult, error) {
	return &container.BuildResult{ImageRef: opts.ImageRef, ImageID: "sha256:abc", Strategy: container.StrategyAPI}, nil
}
func (fakeImages) Tag(ctx context.Context, source, target string) error { return nil }
func (fakeImages) Push(ctx context.Context, imageRef string) (string, error) {
	return "sha256:digest", nil
}
func (fakeImages) Inspect(ctx context.Context, imageRef string) (*container.InspectResult, error) {
	return &container.InspectResult{ID: "sha256:abc"}, nil
}

type fakeScans struct{}

func (fakeScans) Scan(ctx context.Context, imageRef string, severityThreshold string) (*container.ScanResult, error) {
	return &container.ScanResult{ImageRef: imageRef, Scanner: container.StrategyTrivy, Success: true, ScanTime: time.Now()}, nil
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	logger := slog.Default()

	store, err := sessionstore.NewBoltStore(filepath.Join(t.TempDir(), "sessions.db"), logger)
	require.NoError(t, err)
	sessions := sessionsvc.NewService(store, messaging.NewPublisher(logger), sessionsvc.Config{}, logger)
	t.Cleanup(func() { _ = sessions.Close() })

	tracker := progress.NewTracker(logger)
	t.Cleanup(tracker.Close)

	registry := steps.NewRegistry(steps.Deps{
		Images:  fakeImages{},
		Scanner: fakeScans{},
		Runner:  &runner.FakeCommandRunner{},
		Logger:  logger,
	})
	manager := workflow.NewManager()
	orchestrator := workflow.NewOrchestrator(sessions, tracker, manager, registry, logger)

	repo := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(repo, "go.mod"), []byte("module example.com/demo\n"), 0o644))

	srv := NewServer(orchestrator, manager, sessions, tracker, Options{Namespace: "default"}, logger)
	return srv, repo
}

func callToolReq(args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{Arguments: args},
	}
}

func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(mcpgo.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

func startWorkflow(t *testing.T, srv *Server, repo string) map[string]interface{} {
	t.Helper()
	result, err := srv.handleStartWorkflow(context.Background(), callToolReq(map[string]any{
		"repo_path": repo,
		"workflow":  "build-only",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &out))
	return out
}

func waitForWorkflow(t *testing.T, srv *Server, workflowID string) {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if exec, ok := srv.manager.Get(workflowID); ok && exec.Status.Terminal() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("workflow did not finish")
}

func TestStartWorkflowTool(t *testing.T) {
	srv, repo := newTestServer(t)

	out := startWorkflow(t, srv, repo)
	assert.NotEmpty(t, out["workflow_id"])
	assert.NotEmpty(t, out["session_id"])
	assert.Equal(t, "running", out["status"])
	assert.NotEmpty(t, out["steps"])

	waitForWorkflow(t, srv, out["workflow_id"].(string))
}

func TestStartWorkflowToolValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleStartWorkflow(context.Background(), callToolReq(map[string]any{
		"workflow": "build-only",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "repo_path")
}

func TestWorkflowStatusTool(t *testing.T) {
	srv, repo := newTestServer(t)
	out := startWorkflow(t, srv, repo)
	workflowID := out["workflow_id"].(string)
	waitForWorkflow(t, srv, workflowID)

	result, err := srv.handleWorkflowStatus(context.Background(), callToolReq(map[string]any{
		"workflow_id": workflowID,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &status))
	assert.Equal(t, "completed", status["status"])
	assert.Contains(t, status, "result")
	assert.Contains(t, status, "progress")
}

func TestWorkflowStatusToolUnknownID(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleWorkflowStatus(context.Background(), callToolReq(map[string]any{
		"workflow_id": "missing",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestListSessionsTool(t *testing.T) {
	srv, repo := newTestServer(t)
	out := startWorkflow(t, srv, repo)
	waitForWorkflow(t, srv, out["workflow_id"].(string))

	result, err := srv.handleListSessions(context.Background(), callToolReq(map[string]any{
		"status": "completed",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var sessions []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, out["session_id"], sessions[0]["id"])
}

func TestProgressHistoryTool(t *testing.T) {
	srv, repo := newTestServer(t)
	out := startWorkflow(t, srv, repo)
	sessionID := out["session_id"].(string)
	waitForWorkflow(t, srv, out["workflow_id"].(string))

	result, err := srv.handleProgressHistory(context.Background(), callToolReq(map[string]any{
		"session_id": sessionID,
		"fold":       true,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var updates []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &updates))
	assert.NotEmpty(t, updates)
}

func TestCancelWorkflowToolMissingArg(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleCancelWorkflow(context.Background(), callToolReq(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestSessionStatsTool(t *testing.T) {
	srv, repo := newTestServer(t)
	out := startWorkflow(t, srv, repo)
	waitForWorkflow(t, srv, out["workflow_id"].(string))

	result, err := srv.handleSessionStats(context.Background(), callToolReq(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &stats))
	assert.Contains(t, stats, "sessions")
	assert.Contains(t, stats, "workflows")
}
