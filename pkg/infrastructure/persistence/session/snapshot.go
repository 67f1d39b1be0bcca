package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Azure/containerization-assist/pkg/domain/errors"
	"github.com/Azure/containerization-assist/pkg/domain/session"
)

const snapshotVersion = 1

// Snapshot is the portable JSON document for all persisted sessions.
type Snapshot struct {
	Version      int               `json:"version"`
	PersistedAt  time.Time         `json:"persisted_at"`
	SessionCount int               `json:"session_count"`
	Sessions     []session.Session `json:"sessions"`
}

// ExportSnapshot writes all sessions to path as a JSON snapshot. The document
// goes to a temp file in the same directory first and is moved into place
// with a rename, so readers never observe a partial write.
func (s *BoltStore) ExportSnapshot(ctx context.Context, path string) error {
	sessions, err := s.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions for snapshot: %w", err)
	}

	snap := Snapshot{
		Version:      snapshotVersion,
		PersistedAt:  time.Now().UTC(),
		SessionCount: len(sessions),
		Sessions:     sessions,
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errors.New(errors.CodeInternalError, "persistence", "failed to marshal snapshot", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.New(errors.CodeIoError, "persistence", "failed to create snapshot directory", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return errors.New(errors.CodeIoError, "persistence", "failed to create snapshot temp file", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return errors.New(errors.CodeIoError, "persistence", "failed to write snapshot", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return errors.New(errors.CodeIoError, "persistence", "failed to close snapshot temp file", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return errors.New(errors.CodeIoError, "persistence", "failed to move snapshot into place", err)
	}

	return nil
}

// ImportSnapshot loads non-expired sessions from a snapshot written by
// ExportSnapshot. A missing or malformed snapshot is a soft failure: the
// store starts empty and the problem is logged, never fatal. Returns the
// number of sessions restored.
func (s *BoltStore) ImportSnapshot(ctx context.Context, path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read session snapshot", "path", path, "error", err)
		}
		return 0
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.logger.Warn("malformed session snapshot, starting empty", "path", path, "error", err)
		return 0
	}

	restored := 0
	for _, sess := range snap.Sessions {
		if sess.ID == "" || sess.IsExpired() {
			continue
		}
		if err := s.Create(ctx, sess); err != nil {
			// Already-present sessions keep their stored record.
			if !errors.IsCode(err, errors.CodeAlreadyExists) {
				s.logger.Warn("failed to restore session from snapshot", "id", sess.ID, "error", err)
			}
			continue
		}
		restored++
	}

	if restored > 0 {
		s.logger.Info("restored sessions from snapshot", "path", path, "count", restored)
	}
	return restored
}
