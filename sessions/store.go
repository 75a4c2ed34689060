// Package sessions keeps conversation histories keyed by session id.
package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fabfab/statute-rag/llm"
)

// Session is one conversation. Turns on a session run one at a time.
type Session struct {
	ID      string
	Created time.Time

	turn     sync.Mutex
	mu       sync.Mutex
	history  []llm.Message
	lastUsed time.Time
}

// Do runs fn with the session's history and stores the history fn returns.
// Concurrent calls on the same session are serialized.
func (s *Session) Do(fn func(history []llm.Message) ([]llm.Message, error)) error {
	s.turn.Lock()
	defer s.turn.Unlock()

	updated, err := fn(s.History())
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.history = updated
	s.mu.Unlock()
	return nil
}

// History returns a copy of the stored messages.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Message(nil), s.history...)
}

// Clear drops the conversation history.
func (s *Session) Clear() {
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastUsed = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Store holds live sessions and evicts those idle longer than the TTL.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

func NewStore(ttl time.Duration, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
	}
}

// Create starts a new session with a random id.
func (st *Store) Create() *Session {
	now := st.now()
	s := &Session{ID: uuid.NewString(), Created: now, lastUsed: now}

	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()

	st.logger.Debug("session created", zap.String("session_id", s.ID))
	return s
}

// Get returns a live session and marks it used.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.Lock()
	s, ok := st.sessions[id]
	st.mu.Unlock()
	if !ok {
		return nil, false
	}
	s.touch(st.now())
	return s, true
}

// GetOrCreate returns the session for id, or a new session when id is empty
// or unknown. created reports whether a new session was started.
func (st *Store) GetOrCreate(id string) (s *Session, created bool) {
	if id != "" {
		if s, ok := st.Get(id); ok {
			return s, false
		}
	}
	return st.Create(), true
}

// Delete removes a session and reports whether it existed.
func (st *Store) Delete(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[id]; !ok {
		return false
	}
	delete(st.sessions, id)
	return true
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Evict removes sessions idle for longer than the TTL and returns how many
// were removed.
func (st *Store) Evict() int {
	if st.ttl <= 0 {
		return 0
	}
	cutoff := st.now().Add(-st.ttl)

	st.mu.Lock()
	defer st.mu.Unlock()
	removed := 0
	for id, s := range st.sessions {
		if s.idleSince().Before(cutoff) {
			delete(st.sessions, id)
			removed++
		}
	}
	return removed
}

// Run evicts idle sessions every interval until ctx is done.
func (st *Store) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := st.Evict(); n > 0 {
				st.logger.Info("evicted idle sessions", zap.Int("count", n), zap.Int("active", st.Len()))
			}
		}
	}
}
