// Package session provides the BoltDB-backed implementation of the session
// store contract.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Azure/containerization-assist/pkg/domain/errors"
	"github.com/Azure/containerization-assist/pkg/domain/session"
	"go.etcd.io/bbolt"
)

const (
	sessionsBucket = "sessions"
)

// BoltStore implements session.Store using BoltDB. All mutations for one
// session id serialize through a per-id lock so UpdateAtomic callers always
// observe the latest committed record.
type BoltStore struct {
	db           *bbolt.DB
	logger       *slog.Logger
	sessionLocks sync.Map // map[sessionID]*sync.Mutex
}

// NewBoltStore creates a new BoltDB-backed session store
func NewBoltStore(dbPath string, logger *slog.Logger) (*BoltStore, error) {
	// Ensure the parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.New(errors.CodeIoError, "persistence", fmt.Sprintf("failed to create directory %s", dir), err)
	}

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		// Check if error is due to database being locked by another process
		if strings.Contains(err.Error(), "resource temporarily unavailable") ||
			strings.Contains(err.Error(), "database is locked") ||
			strings.Contains(err.Error(), "timeout") {
			return nil, errors.New(errors.CodeIoError, "persistence",
				fmt.Sprintf("database file '%s' is already in use by another server instance. "+
					"Use MCP_STORE_PATH to specify a different database file", dbPath), err)
		}
		return nil, errors.New(errors.CodeIoError, "persistence", "failed to open bolt db", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(sessionsBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.New(errors.CodeIoError, "persistence", "failed to create sessions bucket", err)
	}

	return &BoltStore{
		db:     db,
		logger: logger.With("component", "session_store"),
	}, nil
}

// Close closes the BoltDB connection
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Create stores a new session
func (s *BoltStore) Create(ctx context.Context, sess session.Session) error {
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = now
	}
	if sess.Version == 0 {
		sess.Version = 1
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionsBucket))

		if bucket.Get([]byte(sess.ID)) != nil {
			return errors.New(errors.CodeAlreadyExists, "persistence", fmt.Sprintf("session %s already exists", sess.ID), nil)
		}

		data, err := json.Marshal(sess)
		if err != nil {
			return errors.New(errors.CodeInternalError, "persistence", "failed to marshal session", err)
		}

		if err := bucket.Put([]byte(sess.ID), data); err != nil {
			return errors.New(errors.CodeIoError, "persistence", "failed to store session", err)
		}

		return nil
	})
}

// Get retrieves a session by ID. An unknown id is not an error: the second
// return value reports presence.
func (s *BoltStore) Get(ctx context.Context, id string) (session.Session, bool, error) {
	var sess session.Session
	var found bool

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionsBucket))
		data := bucket.Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &sess)
	})
	if err != nil {
		return session.Session{}, false, errors.New(errors.CodeInternalError, "persistence", "failed to decode session", err)
	}

	return sess, found, nil
}

// getSessionLock returns the mutation lock for a specific session ID
func (s *BoltStore) getSessionLock(sessionID string) *sync.Mutex {
	lock, _ := s.sessionLocks.LoadOrStore(sessionID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// UpdateAtomic performs an atomic read-modify-write operation on a session.
// The per-id lock plus the single bolt transaction guarantee that two
// concurrent callers never read the same prior version. ID and CreatedAt are
// immutable; Version increments on every successful update.
func (s *BoltStore) UpdateAtomic(ctx context.Context, sessionID string, fn session.UpdateFunc) (session.Session, error) {
	lock := s.getSessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	var updated session.Session
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionsBucket))

		data := bucket.Get([]byte(sessionID))
		if data == nil {
			return errors.New(errors.CodeNotFound, "persistence", fmt.Sprintf("session %s not found", sessionID), nil)
		}

		var sess session.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			return errors.New(errors.CodeInternalError, "persistence", "failed to unmarshal session", err)
		}

		id, createdAt := sess.ID, sess.CreatedAt
		if err := fn(&sess); err != nil {
			return err
		}
		sess.ID = id
		sess.CreatedAt = createdAt

		sess.Version++
		sess.UpdatedAt = time.Now()

		updatedData, err := json.Marshal(sess)
		if err != nil {
			return errors.New(errors.CodeInternalError, "persistence", "failed to marshal updated session", err)
		}
		if err := bucket.Put([]byte(sessionID), updatedData); err != nil {
			return errors.New(errors.CodeIoError, "persistence", "failed to update session", err)
		}

		updated = sess
		return nil
	})
	if err != nil {
		return session.Session{}, err
	}

	return updated, nil
}

// List returns all sessions, optionally filtered
func (s *BoltStore) List(ctx context.Context, filters ...session.Filter) ([]session.Session, error) {
	var sessions []session.Session

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionsBucket))

		return bucket.ForEach(func(k, v []byte) error {
			var sess session.Session
			if err := json.Unmarshal(v, &sess); err != nil {
				s.logger.Warn("skipping undecodable session record", "id", string(k), "error", err)
				return nil
			}

			for _, filter := range filters {
				if !filter.Apply(sess) {
					return nil
				}
			}

			sessions = append(sessions, sess)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return sessions, nil
}

// GetByStatus returns sessions with the given status.
func (s *BoltStore) GetByStatus(ctx context.Context, status session.Status) ([]session.Session, error) {
	return s.List(ctx, session.WithStatus(status))
}

// GetActiveCount returns the number of non-terminal sessions.
func (s *BoltStore) GetActiveCount(ctx context.Context) (int, error) {
	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionsBucket))
		return bucket.ForEach(func(k, v []byte) error {
			var sess session.Session
			if err := json.Unmarshal(v, &sess); err != nil {
				return nil
			}
			if sess.IsActive() && !sess.IsExpired() {
				count++
			}
			return nil
		})
	})
	return count, err
}

// DeleteExpired removes sessions whose expiry is in the past and returns the
// ids of the sessions it deleted.
func (s *BoltStore) DeleteExpired(ctx context.Context) ([]string, error) {
	var removed []string

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionsBucket))

		var expiredIDs []string
		err := bucket.ForEach(func(k, v []byte) error {
			var sess session.Session
			if err := json.Unmarshal(v, &sess); err != nil {
				return nil
			}
			if sess.IsExpired() {
				expiredIDs = append(expiredIDs, sess.ID)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, id := range expiredIDs {
			if err := bucket.Delete([]byte(id)); err != nil {
				continue
			}
			s.sessionLocks.Delete(id)
			removed = append(removed, id)
		}

		return nil
	})

	return removed, err
}

// Stats returns storage statistics
func (s *BoltStore) Stats(ctx context.Context) (session.Stats, error) {
	var active, total int

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionsBucket))
		return bucket.ForEach(func(k, v []byte) error {
			total++
			var sess session.Session
			if err := json.Unmarshal(v, &sess); err != nil {
				return nil
			}
			if sess.IsActive() && !sess.IsExpired() {
				active++
			}
			return nil
		})
	})
	if err != nil {
		return session.Stats{}, err
	}

	return session.Stats{ActiveSessions: active, TotalSessions: total}, nil
}

var _ session.Store = (*BoltStore)(nil)
