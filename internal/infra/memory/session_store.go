package memory

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"interview-battle-service/internal/app"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
// Sessions are evicted by a clock timer once a scheduled removal lapses.
type SessionStore struct {
	clock clockwork.Clock

	mu       sync.RWMutex
	sessions map[string]*app.Session
	evict    map[string]clockwork.Timer
}

func NewSessionStore(clock clockwork.Clock) *SessionStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SessionStore{
		clock:    clock,
		sessions: make(map[string]*app.Session),
		evict:    make(map[string]clockwork.Timer),
	}
}

func (s *SessionStore) GetOrCreate(sessionID string, create func() *app.Session) *app.Session {
	s.mu.RLock()
	session, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		return session
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[sessionID]; ok {
		return session
	}
	session = create()
	s.sessions[sessionID] = session
	return session
}

func (s *SessionStore) Get(sessionID string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	return session, ok
}

func (s *SessionStore) Remove(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(sessionID)
}

// ScheduleRemoval replaces any pending eviction for the session.
func (s *SessionStore) ScheduleRemoval(sessionID string, after time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.evict[sessionID]; ok {
		prev.Stop()
	}
	var timer clockwork.Timer
	timer = s.clock.AfterFunc(after, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		// A later schedule owns the slot now.
		if s.evict[sessionID] != timer {
			return
		}
		s.removeLocked(sessionID)
	})
	s.evict[sessionID] = timer
}

func (s *SessionStore) CancelRemoval(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.evict[sessionID]; ok {
		timer.Stop()
		delete(s.evict, sessionID)
	}
}

func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *SessionStore) removeLocked(sessionID string) {
	if timer, ok := s.evict[sessionID]; ok {
		timer.Stop()
		delete(s.evict, sessionID)
	}
	delete(s.sessions, sessionID)
}
