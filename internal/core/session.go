package core

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"studyai.dev/notes/internal/auth"
	"studyai.dev/notes/internal/rag"
)

type State string

const (
	StateLoggedOut     State = "logged_out"
	StateUninitialized State = "uninitialized"
	StateReady         State = "ready"
)

// Session is everything one logged-in user carries between requests: who
// they are, the pipeline bound to their documents and the turns so far.
type Session struct {
	ID        string
	Identity  auth.Identity
	CreatedAt time.Time
	// ExpiresAt matches the expiry of the token issued for the session.
	ExpiresAt time.Time

	// busy is held for the duration of one user action.
	busy sync.Mutex

	mu       sync.Mutex
	state    State
	pipeline rag.Strategy
	turns    []rag.Turn
}

// UserID is the tenant key used for the index and chat history.
func (s *Session) UserID() string {
	return s.Identity.Email
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Turns() []rag.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]rag.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

func (s *Session) appendTurn(role rag.Role, content string) {
	s.mu.Lock()
	s.turns = append(s.turns, rag.Turn{Role: role, Content: content})
	s.mu.Unlock()
}

func (s *Session) bind(p rag.Strategy) {
	s.mu.Lock()
	s.pipeline = p
	s.state = StateReady
	s.mu.Unlock()
}

func (s *Session) boundPipeline() rag.Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipeline
}

// SessionManager owns the live sessions of the process. A session is
// discarded at logout or once it outlives its token.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionManager keeps sessions for ttl after login. A ttl of zero or less
// keeps them until logout.
func NewSessionManager(ttl time.Duration) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Create starts a session for a freshly resolved identity.
func (m *SessionManager) Create(id auth.Identity) *Session {
	now := m.now()
	s := &Session{
		ID:        uuid.NewString(),
		Identity:  id,
		CreatedAt: now,
		state:     StateUninitialized,
	}
	if m.ttl > 0 {
		s.ExpiresAt = now.Add(m.ttl)
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

func (m *SessionManager) expired(s *Session, now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Get returns a live session. An expired session is discarded on lookup.
func (m *SessionManager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if m.expired(s, m.now()) {
		m.Delete(id)
		return nil, false
	}
	return s, true
}

// Delete discards a session and its in-memory turns.
func (m *SessionManager) Delete(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Sweep discards every expired session and reports how many it removed.
func (m *SessionManager) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if m.expired(s, now) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *SessionManager) RunSweeper(ctx context.Context, interval time.Duration, log logrus.FieldLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				log.WithFields(logrus.Fields{"removed": n, "live": m.Len()}).Info("Expired sessions discarded")
			}
		}
	}
}

func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
