package session

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Store keeps per-session message history. Sessions are created lazily on
// first append; the store never evicts them itself.
type Store struct {
	mu       sync.RWMutex
	sessions map[string][]Message
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string][]Message)}
}

// validateKey rejects identifiers that could not serve as safe external
// keys (empty, path-like, or containing NULs).
func validateKey(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if strings.Contains(sessionID, "..") {
		return fmt.Errorf("session id cannot contain '..'")
	}
	if strings.ContainsAny(sessionID, "/\\") {
		return fmt.Errorf("session id cannot contain path separators")
	}
	if strings.Contains(sessionID, "\x00") {
		return fmt.Errorf("session id cannot contain null bytes")
	}
	return nil
}

// Append adds a message to a session, creating the session when absent.
// Messages keep the strict order in which they were appended.
func (s *Store) Append(sessionID string, msg Message) error {
	if err := validateKey(sessionID); err != nil {
		return err
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = append(s.sessions[sessionID], msg)
	return nil
}

// Load returns a copy of the session's message history in append order.
// An unknown session yields an empty history, not an error.
func (s *Store) Load(sessionID string) ([]Message, error) {
	if err := validateKey(sessionID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.sessions[sessionID]
	out := make([]Message, len(history))
	copy(out, history)
	return out, nil
}

// List returns the known session identifiers, sorted.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clear removes a session's history.
func (s *Store) Clear(sessionID string) error {
	if err := validateKey(sessionID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}
