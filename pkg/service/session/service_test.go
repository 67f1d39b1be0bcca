package session

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/containerization-assist/pkg/domain/errors"
	"github.com/Azure/containerization-assist/pkg/domain/events"
	"github.com/Azure/containerization-assist/pkg/domain/session"
	sessionstore "github.com/Azure/containerization-assist/pkg/infrastructure/persistence/session"
)

// recordingPublisher collects published events for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.DomainEvent
}

func (r *recordingPublisher) Publish(ctx context.Context, event events.DomainEvent) error {
	r.PublishAsync(ctx, event)
	return nil
}

func (r *recordingPublisher) PublishAsync(ctx context.Context, event events.DomainEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType()
	}
	return out
}

func newTestService(t *testing.T, cfg Config) (*Service, *recordingPublisher) {
	t.Helper()
	store, err := sessionstore.NewBoltStore(filepath.Join(t.TempDir(), "sessions.db"), slog.Default())
	require.NoError(t, err)
	publisher := &recordingPublisher{}
	svc := NewService(store, publisher, cfg, slog.Default())
	t.Cleanup(func() { _ = svc.Close() })
	return svc, publisher
}

func TestCreateSessionDefaults(t *testing.T) {
	svc, publisher := newTestService(t, Config{DefaultTTL: time.Hour})
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "/repo", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, session.StatusPending, sess.Status)
	assert.Equal(t, "/repo", sess.RepoPath)
	require.NotNil(t, sess.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *sess.ExpiresAt, time.Minute)
	assert.Equal(t, int64(1), sess.Version)
	assert.Contains(t, publisher.types(), events.TypeSessionCreated)
}

func TestCreateSessionEnforcesActiveLimit(t *testing.T) {
	svc, _ := newTestService(t, Config{MaxActiveSessions: 2})
	ctx := context.Background()

	_, err := svc.CreateSession(ctx, "/r1", nil)
	require.NoError(t, err)
	_, err = svc.CreateSession(ctx, "/r2", nil)
	require.NoError(t, err)

	_, err = svc.CreateSession(ctx, "/r3", nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeResourceExhausted))
}

func TestCompletedSessionsFreeTheLimit(t *testing.T) {
	svc, _ := newTestService(t, Config{MaxActiveSessions: 1})
	ctx := context.Background()

	first, err := svc.CreateSession(ctx, "/r1", nil)
	require.NoError(t, err)
	require.NoError(t, svc.CompleteSession(ctx, first.ID, true))

	_, err = svc.CreateSession(ctx, "/r2", nil)
	require.NoError(t, err)
}

func TestGetOrCreateSession(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	ctx := context.Background()

	created, err := svc.GetOrCreateSession(ctx, "", "/repo")
	require.NoError(t, err)

	same, err := svc.GetOrCreateSession(ctx, created.ID, "/other")
	require.NoError(t, err)
	assert.Equal(t, created.ID, same.ID)
	assert.Equal(t, "/repo", same.RepoPath)

	pinned, err := svc.GetOrCreateSession(ctx, "explicit-id", "/repo")
	require.NoError(t, err)
	assert.Equal(t, "explicit-id", pinned.ID)
}

func TestUpdateWorkflowStateMerges(t *testing.T) {
	svc, publisher := newTestService(t, Config{})
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "/repo", nil)
	require.NoError(t, err)

	_, err = svc.UpdateWorkflowState(ctx, sess.ID, map[string]interface{}{
		"analysis_result": map[string]interface{}{"language": "go"},
	})
	require.NoError(t, err)

	updated, err := svc.UpdateWorkflowState(ctx, sess.ID, map[string]interface{}{
		"build_result": map[string]interface{}{"image_ref": "demo:latest"},
	})
	require.NoError(t, err)

	// Both results present: the second merge kept the untouched key.
	assert.Contains(t, updated.WorkflowState, "analysis_result")
	assert.Contains(t, updated.WorkflowState, "build_result")
	assert.Equal(t, int64(3), updated.Version)
	assert.Contains(t, publisher.types(), events.TypeWorkflowUpdated)
}

func TestStepBookkeeping(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "/repo", nil)
	require.NoError(t, err)

	require.NoError(t, svc.SetTotalSteps(ctx, sess.ID, 2))
	require.NoError(t, svc.SetCurrentStep(ctx, sess.ID, "analyze_repository"))
	require.NoError(t, svc.MarkStepCompleted(ctx, sess.ID, "analyze_repository"))
	require.NoError(t, svc.AddStepError(ctx, sess.ID, "build_image", assert.AnError))

	got, found, err := svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"analyze_repository"}, got.CompletedSteps())
	assert.Equal(t, "analyze_repository", got.CurrentStep())
	assert.Equal(t, 1, got.Progress.CompletedSteps)
	assert.Equal(t, 1, got.Progress.FailedSteps)
	assert.Equal(t, 50, got.Progress.Percentage)
}

func TestCompleteSessionExtendsRetention(t *testing.T) {
	svc, _ := newTestService(t, Config{DefaultTTL: time.Hour, CompletedTTL: 48 * time.Hour})
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "/repo", nil)
	require.NoError(t, err)
	require.NoError(t, svc.CompleteSession(ctx, sess.ID, false))

	got, found, err := svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, session.StatusFailed, got.Status)
	require.NotNil(t, got.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(48*time.Hour), *got.ExpiresAt, time.Minute)
}

func TestCleanupExpiredPublishesEvent(t *testing.T) {
	svc, publisher := newTestService(t, Config{})
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "/repo", func(s *session.Session) {
		past := time.Now().Add(-time.Minute)
		s.ExpiresAt = &past
	})
	require.NoError(t, err)

	deleted, err := svc.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.Contains(t, publisher.types(), events.TypeSessionCleanup)

	// The removed session gets its own deleted event.
	var deletedIDs []string
	publisher.mu.Lock()
	for _, e := range publisher.events {
		if se, ok := e.(events.SessionEvent); ok && se.Type == events.TypeSessionDeleted {
			deletedIDs = append(deletedIDs, se.SessionID)
		}
	}
	publisher.mu.Unlock()
	assert.Equal(t, []string{sess.ID}, deletedIDs)

	_, found, err := svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, found)
}
