package progress

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/containerization-assist/pkg/domain/errors"
)

func newTestTracker(t *testing.T, opts ...Option) *Tracker {
	t.Helper()
	tracker := NewTracker(slog.Default(), opts...)
	t.Cleanup(tracker.Close)
	return tracker
}

func TestEmitValidation(t *testing.T) {
	tracker := newTestTracker(t)

	err := tracker.Emit(Update{Step: "build_image", Status: StatusRunning})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParameter))

	err = tracker.Emit(Update{SessionID: "s1", Status: StatusRunning})
	require.Error(t, err)

	err = tracker.Emit(Update{SessionID: "s1", Step: "build_image"})
	require.Error(t, err)
}

func TestEmitStampsTimestamp(t *testing.T) {
	tracker := newTestTracker(t)

	require.NoError(t, tracker.Emit(Update{SessionID: "s1", Step: "build_image", Status: StatusRunning}))

	history := tracker.GetHistory("s1")
	require.Len(t, history, 1)
	assert.False(t, history[0].Timestamp.IsZero())
}

func TestGetCurrentProgressFoldsToLatestPerStep(t *testing.T) {
	tracker := newTestTracker(t)

	emit := func(step, status string) {
		require.NoError(t, tracker.Emit(Update{SessionID: "s1", Step: step, Status: status}))
	}
	emit("build_image", StatusStarting)
	emit("build_image", StatusFailed)
	emit("build_image", StatusCompleted)
	emit("scan_image", StatusStarting)

	current := tracker.GetCurrentProgress("s1")
	require.Len(t, current, 2)
	assert.Equal(t, "build_image", current[0].Step)
	// The retry's completion supersedes the earlier failure.
	assert.Equal(t, StatusCompleted, current[0].Status)
	assert.Equal(t, "scan_image", current[1].Step)
	assert.Equal(t, StatusStarting, current[1].Status)

	// The raw history still records everything.
	assert.Len(t, tracker.GetHistory("s1"), 4)
}

func TestGetHistoryAppliesFilters(t *testing.T) {
	tracker := newTestTracker(t)

	for _, u := range []Update{
		{SessionID: "s1", Step: "analyze_repo", Status: StatusCompleted},
		{SessionID: "s1", Step: "build_image", Status: StatusFailed},
		{SessionID: "s1", Step: "build_image", Status: StatusCompleted},
	} {
		require.NoError(t, tracker.Emit(u))
	}

	failed := tracker.GetHistory("s1", func(u Update) bool { return u.Status == StatusFailed })
	require.Len(t, failed, 1)
	assert.Equal(t, "build_image", failed[0].Step)

	builds := tracker.GetHistory("s1",
		func(u Update) bool { return u.Step == "build_image" },
		func(u Update) bool { return u.Status == StatusCompleted })
	require.Len(t, builds, 1)
	assert.Equal(t, StatusCompleted, builds[0].Status)
}

func TestPerSessionCapEvictsOldest(t *testing.T) {
	tracker := newTestTracker(t, WithMaxPerSession(3))

	for _, step := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, tracker.Emit(Update{SessionID: "s1", Step: step, Status: StatusRunning}))
	}

	history := tracker.GetHistory("s1")
	require.Len(t, history, 3)
	assert.Equal(t, "c", history[0].Step)
	assert.Equal(t, "e", history[2].Step)
}

func TestGetActiveSessions(t *testing.T) {
	tracker := newTestTracker(t)

	require.NoError(t, tracker.Emit(Update{SessionID: "fresh", Step: "a", Status: StatusRunning}))
	require.NoError(t, tracker.Emit(Update{
		SessionID: "stale", Step: "a", Status: StatusRunning,
		Timestamp: time.Now().Add(-30 * time.Minute),
	}))

	active := tracker.GetActiveSessions(10 * time.Minute)
	assert.Equal(t, []string{"fresh"}, active)
}

func TestStreamReplaysHistoryAndTerminates(t *testing.T) {
	tracker := newTestTracker(t)
	require.NoError(t, tracker.Emit(Update{SessionID: "s1", Step: "build_image", Status: StatusCompleted}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	stream := tracker.Stream(ctx, "s1", true)

	first := <-stream
	assert.Equal(t, "build_image", first.Step)

	go func() {
		_ = tracker.Emit(Update{SessionID: "s1", Step: StepWorkflow, Status: StatusCompleted})
	}()

	var last Update
	for u := range stream {
		last = u
	}
	assert.Equal(t, StepWorkflow, last.Step)
	assert.Equal(t, StatusCompleted, last.Status)
}

func TestStreamDetachesOnCancel(t *testing.T) {
	tracker := newTestTracker(t)

	ctx, cancel := context.WithCancel(context.Background())
	stream := tracker.Stream(ctx, "s1", false)
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-stream:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream did not close after context cancellation")
		}
	}
}

func TestStreamIgnoresOtherSessions(t *testing.T) {
	tracker := newTestTracker(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := tracker.Stream(ctx, "s1", false)

	require.NoError(t, tracker.Emit(Update{SessionID: "other", Step: "a", Status: StatusRunning}))
	require.NoError(t, tracker.Emit(Update{SessionID: "s1", Step: StepWorkflow, Status: StatusFailed}))

	var got []Update
	for u := range stream {
		got = append(got, u)
	}
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0].SessionID)
}
