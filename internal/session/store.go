package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionNotFound is returned by Load when no session file exists for the given id.
type SessionNotFound struct{ ID string }

func (e *SessionNotFound) Error() string {
	return fmt.Sprintf("session %s not found", e.ID)
}

// Store persists Sessions as one JSON file per session under a base
// directory, using temp-file-then-rename so a crash mid-write never
// leaves a corrupt session file in place.
type Store struct {
	mu      sync.Mutex
	baseDir string
	logger  *zap.Logger
}

// NewStore constructs a Store rooted at baseDir, creating it if needed.
func NewStore(baseDir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}
	return &Store{baseDir: baseDir, logger: logger}, nil
}

// NewSessionID generates a 12-hex-character session ID from a UUID's
// random bytes, matching the original's uuid4().hex[:12].
func NewSessionID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:12]
}

func (s *Store) path(id string) string {
	return filepath.Join(s.baseDir, id+".json")
}

// Save atomically writes sess to its file: marshal, write to "<id>.tmp",
// rename to "<id>.json".
func (s *Store) Save(sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session %s: %w", sess.ID, err)
	}

	finalPath := s.path(sess.ID)
	tmpPath := finalPath + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0640); err != nil {
		return fmt.Errorf("writing session %s: %w", sess.ID, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming session %s: %w", sess.ID, err)
	}
	return nil
}

// Load reads and parses a session file by id.
func (s *Store) Load(id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(id)
}

func (s *Store) loadLocked(id string) (Session, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return Session{}, &SessionNotFound{ID: id}
		}
		return Session{}, fmt.Errorf("reading session %s: %w", id, err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return Session{}, fmt.Errorf("parsing session %s: %w", id, err)
	}
	return sess, nil
}

// List returns up to limit sessions, most-recently-updated first.
// Corrupt session files are logged and skipped, not fatal.
func (s *Store) List(limit int) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(s.baseDir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	sessions := make([]Session, 0, len(matches))
	for _, path := range matches {
		id := strings.TrimSuffix(filepath.Base(path), ".json")
		sess, err := s.loadLocked(id)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("corrupt session file skipped", zap.String("id", id), zap.Error(err))
			}
			continue
		}
		sessions = append(sessions, sess)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})

	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

// Delete removes a session file. Idempotent: deleting a non-existent
// session is not an error.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	return nil
}
