// Package progress tracks step-level workflow progress per session and
// fans updates out to live listeners.
package progress

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Azure/containerization-assist/pkg/domain/errors"
)

// Update statuses. "running" is the in-flight state between "starting" and
// a terminal outcome; "skipped" marks steps that finished without doing work.
const (
	StatusStarting  = "starting"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// StepWorkflow is the synthetic step name used for workflow-level updates.
// A completed or failed update for this step terminates live streams.
const StepWorkflow = "workflow"

// Update is one progress event for a session. Progress is carried as an
// integer percentage (0-100); producers working in 0.0-1.0 fractions scale
// before emitting.
type Update struct {
	SessionID string                 `json:"session_id"`
	Step      string                 `json:"step"`
	Status    string                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Percent   int                    `json:"percent"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Terminal reports whether this update ends a live stream.
func (u Update) Terminal() bool {
	return u.Step == StepWorkflow && (u.Status == StatusCompleted || u.Status == StatusFailed)
}

// Tracker keeps bounded in-memory progress history per session and serves
// live streams over channels. All methods are safe for concurrent use.
type Tracker struct {
	mu         sync.Mutex
	history    map[string][]Update
	listeners  map[string]map[int]chan Update
	nextListen int

	maxPerSession int
	maxAge        time.Duration
	logger        *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	sweepWG  sync.WaitGroup
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithMaxPerSession caps retained updates per session; oldest are evicted.
func WithMaxPerSession(n int) Option {
	return func(t *Tracker) { t.maxPerSession = n }
}

// WithMaxAge sets the horizon beyond which session history is dropped.
func WithMaxAge(d time.Duration) Option {
	return func(t *Tracker) { t.maxAge = d }
}

// NewTracker creates a progress tracker.
func NewTracker(logger *slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		history:       make(map[string][]Update),
		listeners:     make(map[string]map[int]chan Update),
		maxPerSession: 200,
		maxAge:        2 * time.Hour,
		logger:        logger.With("component", "progress_tracker"),
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Emit records an update and delivers it to live listeners. A zero timestamp
// is stamped with the current time.
func (t *Tracker) Emit(update Update) error {
	if update.SessionID == "" {
		return errors.New(errors.CodeInvalidParameter, "progress", "update missing session id", nil)
	}
	if update.Step == "" {
		return errors.New(errors.CodeInvalidParameter, "progress", "update missing step", nil)
	}
	if update.Status == "" {
		return errors.New(errors.CodeInvalidParameter, "progress", "update missing status", nil)
	}
	if update.Timestamp.IsZero() {
		update.Timestamp = time.Now()
	}

	t.mu.Lock()
	entries := append(t.history[update.SessionID], update)
	if t.maxPerSession > 0 && len(entries) > t.maxPerSession {
		entries = entries[len(entries)-t.maxPerSession:]
	}
	t.history[update.SessionID] = entries

	var targets []chan Update
	for _, ch := range t.listeners[update.SessionID] {
		targets = append(targets, ch)
	}
	t.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- update:
		default:
			// Listener is not keeping up; it still sees history on reconnect.
			t.logger.Debug("dropped progress update for slow listener",
				"session_id", update.SessionID, "step", update.Step)
		}
	}
	return nil
}

// GetHistory returns a copy of the recorded updates for a session, oldest
// first, optionally filtered.
func (t *Tracker) GetHistory(sessionID string, filters ...func(Update) bool) []Update {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries := t.history[sessionID]
	out := make([]Update, 0, len(entries))
	for _, u := range entries {
		if matchesAll(u, filters) {
			out = append(out, u)
		}
	}
	return out
}

func matchesAll(u Update, filters []func(Update) bool) bool {
	for _, f := range filters {
		if !f(u) {
			return false
		}
	}
	return true
}

// GetAllHistory returns all retained updates, optionally filtered.
func (t *Tracker) GetAllHistory(filter func(Update) bool) []Update {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Update
	for _, entries := range t.history {
		for _, u := range entries {
			if filter == nil || filter(u) {
				out = append(out, u)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// GetCurrentProgress folds a session's history into the latest state per
// step. A completed update supersedes an earlier failure for the same step.
func (t *Tracker) GetCurrentProgress(sessionID string) []Update {
	t.mu.Lock()
	entries := t.history[sessionID]
	latest := make(map[string]Update, len(entries))
	var order []string
	for _, u := range entries {
		if _, seen := latest[u.Step]; !seen {
			order = append(order, u.Step)
		}
		latest[u.Step] = u
	}
	t.mu.Unlock()

	out := make([]Update, 0, len(order))
	for _, step := range order {
		out = append(out, latest[step])
	}
	return out
}

// GetActiveSessions returns session ids with at least one update within the
// given window.
func (t *Tracker) GetActiveSessions(within time.Duration) []string {
	cutoff := time.Now().Add(-within)
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for id, entries := range t.history {
		if len(entries) > 0 && entries[len(entries)-1].Timestamp.After(cutoff) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Stream returns a receive-only channel of updates for the session. When
// includeHistory is set, recorded updates are replayed before live ones.
// The channel closes when ctx is cancelled or a workflow-terminal update
// arrives.
func (t *Tracker) Stream(ctx context.Context, sessionID string, includeHistory bool) <-chan Update {
	live := make(chan Update, 32)

	t.mu.Lock()
	var replay []Update
	if includeHistory {
		replay = make([]Update, len(t.history[sessionID]))
		copy(replay, t.history[sessionID])
	}
	id := t.nextListen
	t.nextListen++
	if t.listeners[sessionID] == nil {
		t.listeners[sessionID] = make(map[int]chan Update)
	}
	t.listeners[sessionID][id] = live
	t.mu.Unlock()

	out := make(chan Update, 32)
	go func() {
		defer func() {
			t.detach(sessionID, id)
			close(out)
		}()
		for _, u := range replay {
			select {
			case out <- u:
				if u.Terminal() {
					return
				}
			case <-ctx.Done():
				return
			}
		}
		for {
			select {
			case u := <-live:
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
				if u.Terminal() {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (t *Tracker) detach(sessionID string, id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if chans, ok := t.listeners[sessionID]; ok {
		delete(chans, id)
		if len(chans) == 0 {
			delete(t.listeners, sessionID)
		}
	}
}

// StartSweeper launches the periodic removal of history older than the age
// horizon.
func (t *Tracker) StartSweeper(interval time.Duration) {
	if interval <= 0 || t.maxAge <= 0 {
		return
	}
	t.sweepWG.Add(1)
	go func() {
		defer t.sweepWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.sweep()
			case <-t.stopCh:
				return
			}
		}
	}()
}

func (t *Tracker) sweep() {
	cutoff := time.Now().Add(-t.maxAge)
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, entries := range t.history {
		if len(entries) == 0 || !entries[len(entries)-1].Timestamp.Before(cutoff) {
			continue
		}
		delete(t.history, id)
	}
}

// Close stops the background sweeper.
func (t *Tracker) Close() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	t.sweepWG.Wait()
}
