// Package sessions maps conversation identifiers to agent session state and
// persists the mapping to a single JSON file with debounced writes.
package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Session is the durable per-conversation agent state.
type Session struct {
	SessionID   string `json:"sessionId"`
	Initialized bool   `json:"initialized"`
}

// Store handles session lifecycle, lookup, and persistence.
// All operations are single keyed map mutations, safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	path     string
	interval time.Duration
	dirty    bool
}

// NewStore loads prior state from path. A parse failure is non-fatal: the
// store starts empty and a warning is logged; conversation continuity is
// best-effort, not transactional.
func NewStore(path string, flushInterval time.Duration) *Store {
	if flushInterval <= 0 {
		flushInterval = 2 * time.Second
	}
	s := &Store{
		sessions: make(map[string]*Session),
		path:     path,
		interval: flushInterval,
	}
	s.load()
	return s
}

func (s *Store) load() {
	if s.path == "" {
		return
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("session file unreadable, starting empty", "path", s.path, "error", err)
		}
		return
	}
	var loaded map[string]*Session
	if err := json.Unmarshal(data, &loaded); err != nil {
		slog.Warn("session file corrupt, starting empty", "path", s.path, "error", err)
		return
	}
	s.sessions = loaded
	slog.Info("sessions loaded", "path", s.path, "count", len(loaded))
}

// Get returns a snapshot of the session for a conversation. Callers get a
// value copy: the stored struct is mutated under the store mutex and must
// never be aliased outside it.
func (s *Store) Get(conversationID string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[conversationID]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// GetOrCreate returns a snapshot of an existing session, creating an empty
// one first if the conversation is new.
func (s *Store) GetOrCreate(conversationID string) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[conversationID]; ok {
		return *sess
	}
	s.sessions[conversationID] = &Session{}
	s.dirty = true
	return Session{}
}

// Update records a completed agent turn: the session id reported by the
// agent (if any) is adopted and the session is marked initialized.
func (s *Store) Update(conversationID, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[conversationID]
	if !ok {
		sess = &Session{}
		s.sessions[conversationID] = sess
	}
	if sessionID != "" {
		sess.SessionID = sessionID
	}
	sess.Initialized = true
	s.dirty = true
}

// Delete removes a conversation's session.
func (s *Store) Delete(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[conversationID]; ok {
		delete(s.sessions, conversationID)
		s.dirty = true
	}
}

// Len returns the number of tracked conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// MarkDirty schedules a persist on the next flush tick.
func (s *Store) MarkDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

// Run flushes dirty state on a fixed interval until ctx is cancelled, then
// performs a final synchronous flush so no pending write is lost on shutdown.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := s.Flush(); err != nil {
				slog.Error("final session flush failed", "error", err)
			}
			return
		case <-ticker.C:
			s.flushIfDirty()
		}
	}
}

func (s *Store) flushIfDirty() {
	s.mu.RLock()
	dirty := s.dirty
	s.mu.RUnlock()
	if !dirty {
		return
	}
	// Write failures are logged, never raised: persistence is best-effort.
	if err := s.Flush(); err != nil {
		slog.Warn("session flush failed", "error", err)
	}
}

// Flush synchronously rewrites the session file wholesale. Idempotent.
func (s *Store) Flush() error {
	if s.path == "" {
		return nil
	}

	s.mu.Lock()
	data, err := json.MarshalIndent(s.sessions, "", "  ")
	if err == nil {
		s.dirty = false
	}
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write sessions: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace sessions: %w", err)
	}
	return nil
}
