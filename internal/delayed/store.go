// Package delayed persists deferred track deliveries so they survive process
// restarts. The durable record is the single source of truth; in-memory
// timers are a disposable cache rebuilt on boot.
package delayed

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/songbot-dev/songbot/internal/provider"
)

// Entry is one scheduled delivery obligation, keyed by task id.
type Entry struct {
	UserID   string           `json:"user_id"`
	Provider string           `json:"provider"`
	Tracks   []provider.Track `json:"tracks"`
	SendAt   int64            `json:"send_at"` // unix seconds; 0 means "due now"
}

// Due reports whether the entry should be delivered immediately at now.
func (e Entry) Due(now time.Time) bool {
	return e.SendAt <= 0 || !time.Unix(e.SendAt, 0).After(now)
}

// Store is the durable map of pending deliveries.
type Store interface {
	// Put inserts or replaces an entry and persists in the same critical
	// section.
	Put(taskID string, e Entry) error

	// Remove deletes an entry and persists. The removed entry and true are
	// returned when it existed.
	Remove(taskID string) (Entry, bool, error)

	// Get reads one entry without mutating.
	Get(taskID string) (Entry, bool)

	// LoadAll returns a snapshot of every pending entry.
	LoadAll() map[string]Entry
}

// FileStore keeps entries in a JSON object on disk, one key per task id.
// Every mutation rewrites the file atomically (temp file + rename) while
// holding the store lock, so memory and disk never diverge past the
// critical section.
type FileStore struct {
	path string

	mu      sync.Mutex
	entries map[string]Entry
}

// NewFileStore loads the file at path, tolerating absence and corruption:
// a missing file starts empty, a non-object root logs and resets, and a
// malformed individual entry is dropped with the correction persisted.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, entries: map[string]Entry{}}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("delayed store read: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Printf("delayed: %s is not a JSON object, resetting (%v)", path, err)
		if err := s.persistLocked(); err != nil {
			return nil, err
		}
		return s, nil
	}

	dropped := 0
	for id, msg := range raw {
		var e Entry
		if err := json.Unmarshal(msg, &e); err != nil || e.UserID == "" {
			log.Printf("delayed: dropping malformed entry %s", id)
			dropped++
			continue
		}
		s.entries[id] = e
	}
	if dropped > 0 {
		if err := s.persistLocked(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *FileStore) Put(taskID string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[taskID] = e
	return s.persistLocked()
}

func (s *FileStore) Remove(taskID string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[taskID]
	if !ok {
		return Entry{}, false, nil
	}
	delete(s.entries, taskID)
	if err := s.persistLocked(); err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func (s *FileStore) Get(taskID string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[taskID]
	return e, ok
}

func (s *FileStore) LoadAll() map[string]Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Entry, len(s.entries))
	for id, e := range s.entries {
		out[id] = e
	}
	return out
}

// persistLocked writes the whole map to a temp file and renames it over the
// canonical path. Callers must hold s.mu.
func (s *FileStore) persistLocked() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".delayed-*.json")
	if err != nil {
		return fmt.Errorf("delayed store temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("delayed store write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("delayed store close: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("delayed store rename: %w", err)
	}
	return nil
}
