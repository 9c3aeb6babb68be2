package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"sync"

	"github.com/linqiu/chatdesk/backend/internal/model/chat"
)

// FileStore persists the whole session store as a single JSON file. Writes go
// to a temporary sibling first and are renamed over the target, so readers
// only ever observe the previous or the next complete snapshot.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by the file at path. The file is only
// created on the first flush.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the persisted sessions. A missing file yields an empty store; a
// file that fails to parse is logged and treated the same, favoring startup
// over surfacing corruption.
func (s *FileStore) Load() map[string]*chat.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Printf("[storage] reading %s failed, starting empty: %v", s.path, err)
		}
		return make(map[string]*chat.Session)
	}

	var sessions map[string]*chat.Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		log.Printf("[storage] %s is not a valid session store, starting empty: %v", s.path, err)
		return make(map[string]*chat.Session)
	}

	if sessions == nil {
		sessions = make(map[string]*chat.Session)
	}
	for id, session := range sessions {
		if session == nil {
			delete(sessions, id)
			continue
		}
		if session.ID == "" {
			session.ID = id
		}
	}
	return sessions
}

// Flush serializes the snapshot produced by source and atomically replaces
// the store file. The snapshot is taken inside the critical section, so a
// newer flush can never be overwritten by a slower older one.
func (s *FileStore) Flush(source func() map[string]chat.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(source(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode session store: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
