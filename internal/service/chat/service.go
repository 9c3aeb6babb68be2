package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/linqiu/chatdesk/backend/internal/model/chat"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptyContent    = errors.New("content is empty")
	ErrIndexOutOfRange = errors.New("index out of range")
)

// nameLimit caps derived session names, counted in runes.
const nameLimit = 20

// Flusher persists store snapshots. Flush failures never surface to callers
// of the service; they are logged and the in-memory mutation stands.
type Flusher interface {
	Flush(source func() map[string]chat.Session) error
}

// Service is the authoritative in-memory session store. All mutations go
// through it and each one triggers a best-effort flush to the Flusher.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*chat.Session
	store    Flusher
}

// NewService bootstraps the store from previously persisted sessions. The
// service takes ownership of initial; store may be nil to disable
// persistence.
func NewService(initial map[string]*chat.Session, store Flusher) *Service {
	if initial == nil {
		initial = make(map[string]*chat.Session)
	}
	return &Service{sessions: initial, store: store}
}

// CreateSession provisions an empty session with a resolved default name.
func (s *Service) CreateSession(_ context.Context) (chat.Summary, error) {
	id := uuid.New()
	ts := time.Now().UTC()
	session := &chat.Session{
		ID:        fmt.Sprintf("%x", id[:4]),
		Messages:  make([]chat.Message, 0, 16),
		CreatedAt: ts,
		UpdatedAt: ts,
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	ensureNameLocked(session)
	summary := summaryLocked(session)
	s.mu.Unlock()

	s.flush()
	return summary, nil
}

// GetSession retrieves a copy of a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	copied := *session
	copied.Messages = append([]chat.Message(nil), session.Messages...)
	return copied, nil
}

// ListSessions returns one summary per session, most recently updated first.
// Sessions restored from disk without a name get one resolved here.
func (s *Service) ListSessions(_ context.Context) []chat.Summary {
	s.mu.Lock()
	summaries := make([]chat.Summary, 0, len(s.sessions))
	for _, session := range s.sessions {
		ensureNameLocked(session)
		summaries = append(summaries, summaryLocked(session))
	}
	s.mu.Unlock()

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries
}

// EnsureName resolves and caches the session's display name. Idempotent; it
// does not count as a structural mutation, so updated_at is untouched.
func (s *Service) EnsureName(_ context.Context, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return "", ErrSessionNotFound
	}
	return ensureNameLocked(session), nil
}

// AppendUserMessage validates and appends a user turn, returning the full
// history including the new turn so the caller can request a completion
// without re-entering the lock.
func (s *Service) AppendUserMessage(_ context.Context, sessionID, content string) ([]chat.Turn, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}

	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrSessionNotFound
	}

	ts := time.Now().UTC()
	session.Messages = append(session.Messages, chat.Message{
		Role:      chat.RoleUser,
		Content:   content,
		CreatedAt: ts,
	})
	session.UpdatedAt = ts

	history := make([]chat.Turn, len(session.Messages))
	for i, m := range session.Messages {
		history[i] = chat.Turn{Role: m.Role, Content: m.Content}
	}
	s.mu.Unlock()

	s.flush()
	return history, nil
}

// AppendAssistantMessage appends an assistant turn. Model output is stored
// as-is, including demo and diagnostic replies.
func (s *Service) AppendAssistantMessage(_ context.Context, sessionID, content string) error {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}

	ts := time.Now().UTC()
	session.Messages = append(session.Messages, chat.Message{
		Role:      chat.RoleAssistant,
		Content:   content,
		CreatedAt: ts,
	})
	session.UpdatedAt = ts
	s.mu.Unlock()

	s.flush()
	return nil
}

// ListMessages returns the session's messages with their current positions.
func (s *Service) ListMessages(_ context.Context, sessionID string) ([]chat.View, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	views := make([]chat.View, len(session.Messages))
	for i, m := range session.Messages {
		views[i] = chat.View{ID: i, Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt}
	}
	return views, nil
}

// Rollback truncates the history to its first toIndex messages. Rolling back
// to the current length is a valid no-op that still refreshes updated_at.
func (s *Service) Rollback(_ context.Context, sessionID string, toIndex int) error {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}

	if toIndex < 0 || toIndex > len(session.Messages) {
		s.mu.Unlock()
		return fmt.Errorf("%w: to_index must be between 0 and %d", ErrIndexOutOfRange, len(session.Messages))
	}

	session.Messages = session.Messages[:toIndex]
	session.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()

	s.flush()
	return nil
}

// DeleteMessage removes the message at index, shifting later messages down.
func (s *Service) DeleteMessage(_ context.Context, sessionID string, index int) error {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}

	if index < 0 || index >= len(session.Messages) {
		s.mu.Unlock()
		return fmt.Errorf("%w: message index must be between 0 and %d", ErrIndexOutOfRange, len(session.Messages)-1)
	}

	session.Messages = append(session.Messages[:index], session.Messages[index+1:]...)
	session.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()

	s.flush()
	return nil
}

// DeleteSession removes the session and all its messages.
func (s *Service) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	if _, ok := s.sessions[sessionID]; !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	s.flush()
	return nil
}

// Snapshot deep-copies the store for serialization.
func (s *Service) Snapshot() map[string]chat.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make(map[string]chat.Session, len(s.sessions))
	for id, session := range s.sessions {
		copied := *session
		copied.Messages = append([]chat.Message(nil), session.Messages...)
		snapshot[id] = copied
	}
	return snapshot
}

// flush persists the current state. A failed flush is logged and dropped:
// the mutation already succeeded in memory and the atomic replace guarantees
// the previous on-disk snapshot stays intact.
func (s *Service) flush() {
	if s.store == nil {
		return
	}
	if err := s.store.Flush(s.Snapshot); err != nil {
		log.Printf("[store] flush failed: %v", err)
	}
}

// ensureNameLocked derives the display name from the first user message, or
// falls back to a placeholder built from the session id. Caller holds mu.
func ensureNameLocked(session *chat.Session) string {
	if session.Name != "" {
		return session.Name
	}

	name := ""
	for _, m := range session.Messages {
		if m.Role != chat.RoleUser {
			continue
		}
		text := strings.ReplaceAll(strings.TrimSpace(m.Content), "\n", " ")
		if runes := []rune(text); len(runes) > nameLimit {
			text = string(runes[:nameLimit]) + "..."
		}
		name = text
		break
	}
	if name == "" {
		name = fmt.Sprintf("session %s", session.ID)
	}

	session.Name = name
	return name
}

func summaryLocked(session *chat.Session) chat.Summary {
	return chat.Summary{
		ID:           session.ID,
		Name:         session.Name,
		MessageCount: len(session.Messages),
		UpdatedAt:    session.UpdatedAt,
	}
}
