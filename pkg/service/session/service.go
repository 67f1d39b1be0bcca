// Package session provides domain operations on sessions built on the
// session store: creation under a concurrency limit, workflow state merging,
// step bookkeeping, terminal transitions, and expiry sweeps.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Azure/containerization-assist/pkg/domain/errors"
	"github.com/Azure/containerization-assist/pkg/domain/events"
	"github.com/Azure/containerization-assist/pkg/domain/session"
)

// Config tunes the session service.
type Config struct {
	// DefaultTTL is the expiry window for new sessions.
	DefaultTTL time.Duration
	// CompletedTTL is the longer retention window applied when a session
	// reaches a terminal status, so finished workflows stay inspectable.
	CompletedTTL time.Duration
	// MaxActiveSessions caps concurrently active sessions; 0 means unlimited.
	MaxActiveSessions int
	// CleanupInterval is the period of the background expiry sweep.
	CleanupInterval time.Duration
}

// DefaultConfig returns the service defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:        24 * time.Hour,
		CompletedTTL:      72 * time.Hour,
		MaxActiveSessions: 100,
		CleanupInterval:   10 * time.Minute,
	}
}

// Service implements session domain operations over a Store. It is the only
// component that writes through to the store.
type Service struct {
	store     session.Store
	publisher events.Publisher
	config    Config
	logger    *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	sweepWG  sync.WaitGroup
}

// NewService creates a session service.
func NewService(store session.Store, publisher events.Publisher, config Config, logger *slog.Logger) *Service {
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = DefaultConfig().DefaultTTL
	}
	if config.CompletedTTL <= 0 {
		config.CompletedTTL = DefaultConfig().CompletedTTL
	}
	return &Service{
		store:     store,
		publisher: publisher,
		config:    config,
		logger:    logger.With("component", "session_service"),
		stopCh:    make(chan struct{}),
	}
}

// CreateSession creates a new session for a repository. It rejects creation
// when the active session count has reached the configured limit. overrides,
// when non-nil, runs on the session before it is stored.
func (s *Service) CreateSession(ctx context.Context, repoPath string, overrides func(*session.Session)) (session.Session, error) {
	if s.config.MaxActiveSessions > 0 {
		active, err := s.store.GetActiveCount(ctx)
		if err != nil {
			return session.Session{}, fmt.Errorf("failed to count active sessions: %w", err)
		}
		if active >= s.config.MaxActiveSessions {
			return session.Session{}, errors.New(errors.CodeResourceExhausted, "session",
				fmt.Sprintf("active session limit reached (%d)", s.config.MaxActiveSessions), nil)
		}
	}

	now := time.Now()
	expiresAt := now.Add(s.config.DefaultTTL)
	sess := session.Session{
		ID:            uuid.NewString(),
		Status:        session.StatusPending,
		RepoPath:      repoPath,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     &expiresAt,
		Version:       1,
		WorkflowState: make(map[string]interface{}),
	}
	if overrides != nil {
		overrides(&sess)
	}

	if err := s.store.Create(ctx, sess); err != nil {
		return session.Session{}, err
	}

	s.publish(ctx, events.TypeSessionCreated, sess)
	return sess, nil
}

// GetSession retrieves a session; absence is reported, not an error.
func (s *Service) GetSession(ctx context.Context, id string) (session.Session, bool, error) {
	return s.store.Get(ctx, id)
}

// GetOrCreateSession returns the existing session or creates one bound to
// repoPath.
func (s *Service) GetOrCreateSession(ctx context.Context, id string, repoPath string) (session.Session, error) {
	if id != "" {
		sess, found, err := s.store.Get(ctx, id)
		if err != nil {
			return session.Session{}, err
		}
		if found {
			return sess, nil
		}
	}
	return s.CreateSession(ctx, repoPath, func(sess *session.Session) {
		if id != "" {
			sess.ID = id
		}
	})
}

// UpdateWorkflowState deep-merges partial state into the session's workflow
// state, preserving keys the update does not touch.
func (s *Service) UpdateWorkflowState(ctx context.Context, id string, partial map[string]interface{}) (session.Session, error) {
	sess, err := s.store.UpdateAtomic(ctx, id, func(sess *session.Session) error {
		sess.WorkflowState = session.DeepMerge(sess.WorkflowState, partial)
		return nil
	})
	if err != nil {
		return session.Session{}, err
	}
	s.publish(ctx, events.TypeWorkflowUpdated, sess)
	return sess, nil
}

// MarkStepCompleted records a completed step.
func (s *Service) MarkStepCompleted(ctx context.Context, id string, step string) error {
	return s.update(ctx, id, func(sess *session.Session) error {
		sess.MarkStepCompleted(step)
		return nil
	})
}

// SetCurrentStep records the step in flight; empty clears it.
func (s *Service) SetCurrentStep(ctx context.Context, id string, step string) error {
	return s.update(ctx, id, func(sess *session.Session) error {
		sess.SetCurrentStep(step)
		return nil
	})
}

// AddStepError records a step failure against the session.
func (s *Service) AddStepError(ctx context.Context, id string, step string, stepErr error) error {
	return s.update(ctx, id, func(sess *session.Session) error {
		sess.AddStepError(step, stepErr.Error())
		return nil
	})
}

// SetStatus transitions the session status and stage label.
func (s *Service) SetStatus(ctx context.Context, id string, status session.Status, stage string) error {
	return s.update(ctx, id, func(sess *session.Session) error {
		sess.Status = status
		sess.Stage = stage
		return nil
	})
}

// SetTotalSteps records how many steps the running workflow resolves to.
func (s *Service) SetTotalSteps(ctx context.Context, id string, total int) error {
	return s.update(ctx, id, func(sess *session.Session) error {
		sess.Progress.TotalSteps = total
		return nil
	})
}

// CompleteSession moves the session to its terminal status and extends the
// expiry for the longer audit retention window.
func (s *Service) CompleteSession(ctx context.Context, id string, success bool) error {
	return s.update(ctx, id, func(sess *session.Session) error {
		if success {
			sess.Status = session.StatusCompleted
		} else {
			sess.Status = session.StatusFailed
		}
		sess.SetCurrentStep("")
		sess.Stage = ""
		expiresAt := time.Now().Add(s.config.CompletedTTL)
		sess.ExpiresAt = &expiresAt
		return nil
	})
}

// ExtendSession pushes the expiry out by d from now.
func (s *Service) ExtendSession(ctx context.Context, id string, d time.Duration) error {
	return s.update(ctx, id, func(sess *session.Session) error {
		expiresAt := time.Now().Add(d)
		sess.ExpiresAt = &expiresAt
		return nil
	})
}

// ListSessions lists sessions, optionally filtered.
func (s *Service) ListSessions(ctx context.Context, filters ...session.Filter) ([]session.Session, error) {
	return s.store.List(ctx, filters...)
}

// Stats returns session counters including the configured limit.
func (s *Service) Stats(ctx context.Context) (session.Stats, error) {
	type statsProvider interface {
		Stats(ctx context.Context) (session.Stats, error)
	}
	provider, ok := s.store.(statsProvider)
	if !ok {
		return session.Stats{MaxSessions: s.config.MaxActiveSessions}, nil
	}
	stats, err := provider.Stats(ctx)
	if err != nil {
		return session.Stats{}, err
	}
	stats.MaxSessions = s.config.MaxActiveSessions
	return stats, nil
}

// CleanupExpired removes expired sessions, publishing a deleted event per
// session and a summary cleanup event for the sweep.
func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	deleted, err := s.store.DeleteExpired(ctx)
	if err != nil {
		return 0, err
	}
	if s.publisher != nil {
		for _, id := range deleted {
			s.publisher.PublishAsync(ctx, events.SessionEvent{
				Type:      events.TypeSessionDeleted,
				SessionID: id,
				Status:    string(session.StatusExpired),
				Timestamp: time.Now(),
			})
		}
		s.publisher.PublishAsync(ctx, events.CleanupEvent{Deleted: len(deleted), Timestamp: time.Now()})
	}
	if len(deleted) > 0 {
		s.logger.Info("expired sessions removed", "count", len(deleted))
	}
	return len(deleted), nil
}

// StartReaper launches the periodic expiry sweep. The sweep goroutine stops
// on Close and never keeps the process alive.
func (s *Service) StartReaper() {
	if s.config.CleanupInterval <= 0 {
		return
	}
	s.sweepWG.Add(1)
	go func() {
		defer s.sweepWG.Done()
		ticker := time.NewTicker(s.config.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := s.CleanupExpired(context.Background()); err != nil {
					s.logger.Warn("expiry sweep failed", "error", err)
				}
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Close stops the reaper and closes the store.
func (s *Service) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.sweepWG.Wait()
	return s.store.Close()
}

// update runs one atomic mutation and publishes the updated event.
func (s *Service) update(ctx context.Context, id string, fn session.UpdateFunc) error {
	sess, err := s.store.UpdateAtomic(ctx, id, fn)
	if err != nil {
		return err
	}
	s.publish(ctx, events.TypeSessionUpdated, sess)
	return nil
}

// publish notifies observers without ever blocking the mutating call.
func (s *Service) publish(ctx context.Context, eventType string, sess session.Session) {
	if s.publisher == nil {
		return
	}
	s.publisher.PublishAsync(ctx, events.SessionEvent{
		Type:      eventType,
		SessionID: sess.ID,
		Status:    string(sess.Status),
		Timestamp: time.Now(),
	})
}
