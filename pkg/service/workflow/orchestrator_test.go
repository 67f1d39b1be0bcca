package workflow

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/containerization-assist/pkg/domain/errors"
	"github.com/Azure/containerization-assist/pkg/domain/session"
	"github.com/Azure/containerization-assist/pkg/domain/workflow"
	"github.com/Azure/containerization-assist/pkg/infrastructure/container"
	"github.com/Azure/containerization-assist/pkg/infrastructure/messaging"
	sessionstore "github.com/Azure/containerization-assist/pkg/infrastructure/persistence/session"
	"github.com/Azure/containerization-assist/pkg/infrastructure/runner"
	"github.com/Azure/containerization-assist/pkg/service/progress"
	sessionsvc "github.com/Azure/containerization-assist/pkg/service/session"
	"github.com/Azure/containerization-assist/pkg/service/workflow/steps"
)

func TestResolveStepsContainerization(t *testing.T) {
	got, err := ResolveSteps(workflow.TypeContainerization, workflow.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		workflow.StepAnalyzeRepository,
		workflow.StepGenerateDockerfile,
		workflow.StepBuildImage,
		workflow.StepScanImage,
		workflow.StepTagImage,
		workflow.StepPushImage,
		workflow.StepGenerateManifests,
		workflow.StepDeployApplication,
		workflow.StepVerifyDeployment,
	}, got)
}

func TestResolveStepsBuildOnlyExcludesDeploySteps(t *testing.T) {
	got, err := ResolveSteps(workflow.TypeBuildOnly, workflow.Options{})
	require.NoError(t, err)
	assert.NotContains(t, got, workflow.StepDeployApplication)
	assert.NotContains(t, got, workflow.StepVerifyDeployment)
	assert.NotContains(t, got, workflow.StepGenerateManifests)
	assert.Contains(t, got, workflow.StepBuildImage)
	assert.Contains(t, got, workflow.StepScanImage)
}

func TestResolveStepsSkipSecurity(t *testing.T) {
	got, err := ResolveSteps(workflow.TypeBuildOnly, workflow.Options{SkipSecurity: true})
	require.NoError(t, err)
	assert.NotContains(t, got, workflow.StepScanImage)
	assert.Contains(t, got, workflow.StepBuildImage)
}

func TestResolveStepsUnknownType(t *testing.T) {
	_, err := ResolveSteps(workflow.Type("bogus"), workflow.Options{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidationFailed))
}

// fakeImageOps records image operations without touching a daemon.
type fakeImageOps struct {
	mu           sync.Mutex
	buildErr     error
	failBuilds   int
	builds       int
	blockOnCtx   bool
	buildStarted chan struct{}
}

func (f *fakeImageOps) Build(ctx context.Context, opts container.BuildOptions) (*container.BuildResult, error) {
	f.mu.Lock()
	f.builds++
	transient := f.builds <= f.failBuilds
	f.mu.Unlock()
	if f.blockOnCtx {
		select {
		case f.buildStarted <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	if transient {
		return nil, errors.New(errors.CodeImageBuildFailed, "docker", "connection reset", nil)
	}
	return &container.BuildResult{
		ImageRef: opts.ImageRef,
		ImageID:  "sha256:deadbeef",
		Strategy: container.StrategyAPI,
	}, nil
}

func (f *fakeImageOps) buildCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.builds
}

func (f *fakeImageOps) Tag(ctx context.Context, source, target string) error { return nil }

func (f *fakeImageOps) Push(ctx context.Context, imageRef string) (string, error) {
	return "sha256:pushed", nil
}

func (f *fakeImageOps) Inspect(ctx context.Context, imageRef string) (*container.InspectResult, error) {
	return &container.InspectResult{ID: "sha256:deadbeef"}, nil
}

// fakeScanOps returns a scripted scan outcome.
type fakeScanOps struct {
	critical int
}

func (f *fakeScanOps) Scan(ctx context.Context, imageRef string, severityThreshold string) (*container.ScanResult, error) {
	return &container.ScanResult{
		ImageRef: imageRef,
		Scanner:  container.StrategyTrivy,
		Success:  f.critical == 0,
		Summary:  container.ScanSummary{Total: f.critical, Critical: f.critical},
		ScanTime: time.Now(),
	}, nil
}

type testHarness struct {
	orchestrator *Orchestrator
	manager      *Manager
	sessions     *sessionsvc.Service
	tracker      *progress.Tracker
	repoPath     string
}

func newHarness(t *testing.T, images steps.Deps) *testHarness {
	t.Helper()
	logger := slog.Default()

	store, err := sessionstore.NewBoltStore(filepath.Join(t.TempDir(), "sessions.db"), logger)
	require.NoError(t, err)

	publisher := messaging.NewPublisher(logger)
	sessions := sessionsvc.NewService(store, publisher, sessionsvc.Config{}, logger)
	t.Cleanup(func() { _ = sessions.Close() })

	tracker := progress.NewTracker(logger)
	t.Cleanup(tracker.Close)

	if images.Logger == nil {
		images.Logger = logger
	}
	manager := NewManager()
	orchestrator := NewOrchestrator(sessions, tracker, manager, steps.NewRegistry(images), logger)

	repo := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(repo, "go.mod"), []byte("module example.com/demo\n\ngo 1.23\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0o644))

	return &testHarness{
		orchestrator: orchestrator,
		manager:      manager,
		sessions:     sessions,
		tracker:      tracker,
		repoPath:     repo,
	}
}

func waitForTerminal(t *testing.T, m *Manager, workflowID string) Execution {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		exec, ok := m.Get(workflowID)
		if ok && exec.Status.Terminal() {
			return exec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("workflow did not reach a terminal status")
	return Execution{}
}

func TestBuildOnlyWorkflowCompletes(t *testing.T) {
	h := newHarness(t, steps.Deps{
		Images:  &fakeImageOps{},
		Scanner: &fakeScanOps{},
		Runner:  &runner.FakeCommandRunner{},
	})

	result, err := h.orchestrator.StartWorkflow(context.Background(), workflow.StartRequest{
		RepoPath: h.repoPath,
		Workflow: workflow.TypeBuildOnly,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.WorkflowID)
	assert.NotEmpty(t, result.SessionID)
	assert.Greater(t, result.EstimatedDuration, time.Duration(0))

	exec := waitForTerminal(t, h.manager, result.WorkflowID)
	assert.Equal(t, workflow.ExecutionStatusCompleted, exec.Status)
	require.NotNil(t, exec.Result)
	assert.Equal(t, result.Steps, exec.Result.CompletedSteps)

	// The session carries every step result and a terminal status.
	sess, found, err := h.sessions.GetSession(context.Background(), result.SessionID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "completed", string(sess.Status))
	assert.Contains(t, sess.WorkflowState, steps.KeyAnalysisResult)
	assert.Contains(t, sess.WorkflowState, steps.KeyBuildResult)
	assert.Equal(t, result.Steps, sess.CompletedSteps())
	assert.Empty(t, sess.CurrentStep())

	// A Dockerfile was generated into the repository.
	_, statErr := os.Stat(filepath.Join(h.repoPath, "Dockerfile"))
	assert.NoError(t, statErr)

	// The terminal progress update closed out the stream history.
	history := h.tracker.GetHistory(result.SessionID)
	require.NotEmpty(t, history)
	last := history[len(history)-1]
	assert.Equal(t, progress.StepWorkflow, last.Step)
	assert.Equal(t, progress.StatusCompleted, last.Status)

	// No registry was configured, so the push step reports as skipped.
	skippedPush := h.tracker.GetHistory(result.SessionID, func(u progress.Update) bool {
		return u.Step == workflow.StepPushImage && u.Status == progress.StatusSkipped
	})
	assert.Len(t, skippedPush, 1)
}

func TestResultExcludesSessionBookkeeping(t *testing.T) {
	h := newHarness(t, steps.Deps{
		Images:  &fakeImageOps{},
		Scanner: &fakeScanOps{},
		Runner:  &runner.FakeCommandRunner{},
	})

	result, err := h.orchestrator.StartWorkflow(context.Background(), workflow.StartRequest{
		RepoPath: h.repoPath,
		Workflow: workflow.TypeBuildOnly,
	})
	require.NoError(t, err)

	exec := waitForTerminal(t, h.manager, result.WorkflowID)
	require.Equal(t, workflow.ExecutionStatusCompleted, exec.Status)
	require.NotNil(t, exec.Result)

	// Only step payloads belong in the result; the session's own
	// bookkeeping keys must never leak into it.
	assert.NotContains(t, exec.Result.PartialResults, session.StateKeyCompletedSteps)
	assert.NotContains(t, exec.Result.PartialResults, session.StateKeyCurrentStep)
	assert.NotContains(t, exec.Result.PartialResults, session.StateKeyErrors)
	for key := range exec.Result.PartialResults {
		assert.True(t, strings.HasSuffix(key, "_result"), "unexpected result key %q", key)
	}
}

func TestCancelAbortsRunWithoutFurtherSteps(t *testing.T) {
	images := &fakeImageOps{blockOnCtx: true, buildStarted: make(chan struct{}, 1)}
	h := newHarness(t, steps.Deps{
		Images:  images,
		Scanner: &fakeScanOps{},
		Runner:  &runner.FakeCommandRunner{},
	})

	result, err := h.orchestrator.StartWorkflow(context.Background(), workflow.StartRequest{
		RepoPath: h.repoPath,
		Workflow: workflow.TypeBuildOnly,
	})
	require.NoError(t, err)

	select {
	case <-images.buildStarted:
	case <-time.After(10 * time.Second):
		t.Fatal("build step never started")
	}
	require.NoError(t, h.orchestrator.Cancel(result.WorkflowID))

	exec := waitForTerminal(t, h.manager, result.WorkflowID)
	assert.Equal(t, workflow.ExecutionStatusAborted, exec.Status)
	require.NotNil(t, exec.Result)
	// The run stopped where it was cancelled: nothing past the Dockerfile
	// step completed, and no later step ever started.
	assert.NotContains(t, exec.Result.CompletedSteps, workflow.StepBuildImage)
	assert.NotContains(t, exec.Result.CompletedSteps, workflow.StepScanImage)
	scanUpdates := h.tracker.GetHistory(result.SessionID, func(u progress.Update) bool {
		return u.Step == workflow.StepScanImage
	})
	assert.Empty(t, scanUpdates)
}

func TestWorkflowHaltsOnFailureInInteractiveMode(t *testing.T) {
	h := newHarness(t, steps.Deps{
		Images:  &fakeImageOps{buildErr: errors.New(errors.CodeImageBuildFailed, "docker", "exit status 1", nil)},
		Scanner: &fakeScanOps{},
		Runner:  &runner.FakeCommandRunner{},
	})

	result, err := h.orchestrator.StartWorkflow(context.Background(), workflow.StartRequest{
		RepoPath: h.repoPath,
		Workflow: workflow.TypeBuildOnly,
	})
	require.NoError(t, err)

	exec := waitForTerminal(t, h.manager, result.WorkflowID)
	assert.Equal(t, workflow.ExecutionStatusFailed, exec.Status)
	require.NotNil(t, exec.Result)
	require.Len(t, exec.Result.Failures, 1)
	assert.Equal(t, workflow.StepBuildImage, exec.Result.Failures[0].Step)
	// The run halted: analysis and Dockerfile completed, nothing after the build.
	assert.Equal(t, []string{workflow.StepAnalyzeRepository, workflow.StepGenerateDockerfile}, exec.Result.CompletedSteps)
	// Partial results survive the failure.
	assert.Contains(t, exec.Result.PartialResults, steps.KeyAnalysisResult)
}

func TestRetryableStepRecoversOnSecondAttempt(t *testing.T) {
	old := retryBackoff
	retryBackoff = 10 * time.Millisecond
	t.Cleanup(func() { retryBackoff = old })

	images := &fakeImageOps{failBuilds: 1}
	h := newHarness(t, steps.Deps{
		Images:  images,
		Scanner: &fakeScanOps{},
		Runner:  &runner.FakeCommandRunner{},
	})

	result, err := h.orchestrator.StartWorkflow(context.Background(), workflow.StartRequest{
		RepoPath: h.repoPath,
		Workflow: workflow.TypeBuildOnly,
	})
	require.NoError(t, err)

	exec := waitForTerminal(t, h.manager, result.WorkflowID)
	assert.Equal(t, workflow.ExecutionStatusCompleted, exec.Status)
	require.NotNil(t, exec.Result)
	assert.Empty(t, exec.Result.Failures)
	assert.Equal(t, 2, images.buildCount())
}

func TestAutomatedWorkflowAggregatesFailures(t *testing.T) {
	h := newHarness(t, steps.Deps{
		Images:  &fakeImageOps{buildErr: errors.New(errors.CodeImageBuildFailed, "docker", "exit status 1", nil)},
		Scanner: &fakeScanOps{},
		Runner:  &runner.FakeCommandRunner{},
	})

	result, err := h.orchestrator.StartWorkflow(context.Background(), workflow.StartRequest{
		RepoPath: h.repoPath,
		Workflow: workflow.TypeBuildOnly,
		Options:  workflow.Options{Automated: true, SkipSecurity: true},
	})
	require.NoError(t, err)

	exec := waitForTerminal(t, h.manager, result.WorkflowID)
	assert.Equal(t, workflow.ExecutionStatusFailed, exec.Status)
	require.NotNil(t, exec.Result)
	// Every step ran; failures were collected instead of halting the run.
	assert.GreaterOrEqual(t, len(exec.Result.Failures), 1)
	assert.Contains(t, exec.Result.CompletedSteps, workflow.StepAnalyzeRepository)
	assert.Contains(t, exec.Result.CompletedSteps, workflow.StepPushImage)
}

func TestDuplicateWorkflowForSessionRejected(t *testing.T) {
	h := newHarness(t, steps.Deps{
		Images:  &fakeImageOps{},
		Scanner: &fakeScanOps{},
		Runner:  &runner.FakeCommandRunner{},
	})
	ctx := context.Background()

	first, err := h.orchestrator.StartWorkflow(ctx, workflow.StartRequest{
		RepoPath: h.repoPath,
		Workflow: workflow.TypeBuildOnly,
	})
	require.NoError(t, err)

	_, err = h.orchestrator.StartWorkflow(ctx, workflow.StartRequest{
		SessionID: first.SessionID,
		RepoPath:  h.repoPath,
		Workflow:  workflow.TypeBuildOnly,
	})
	if err == nil {
		// The first run may already have finished on a fast machine; only a
		// still-running first workflow must reject the second.
		t.Skip("first workflow finished before the duplicate start")
	}
	assert.True(t, errors.IsCode(err, errors.CodeWorkflowRunning))

	waitForTerminal(t, h.manager, first.WorkflowID)
}

func TestStartWorkflowRequiresRepoPath(t *testing.T) {
	h := newHarness(t, steps.Deps{
		Images:  &fakeImageOps{},
		Scanner: &fakeScanOps{},
		Runner:  &runner.FakeCommandRunner{},
	})

	_, err := h.orchestrator.StartWorkflow(context.Background(), workflow.StartRequest{
		Workflow: workflow.TypeBuildOnly,
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidationFailed))
}
