package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"interview-battle-service/internal/app"
)

// SessionStore is a Redis-aware implementation of app.SessionRepository.
// Notes:
//   - Sessions themselves live in the wrapped local repository; the phase
//     timers and the fan-out are in-process.
//   - Redis carries a liveness marker per session so other instances and
//     operators can see which sessions this node owns. The marker has no
//     expiry while the session is in use and follows any scheduled removal.
type SessionStore struct {
	client *redis.Client
	local  app.SessionRepository
}

func NewSessionStore(client *redis.Client, local app.SessionRepository) *SessionStore {
	return &SessionStore{client: client, local: local}
}

func (s *SessionStore) GetOrCreate(sessionID string, create func() *app.Session) *app.Session {
	created := false
	session := s.local.GetOrCreate(sessionID, func() *app.Session {
		created = true
		return create()
	})
	if created {
		// best-effort liveness marker
		if err := s.client.Set(context.Background(), s.key(sessionID), "1", 0).Err(); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to mark session live in redis")
		}
	}
	return session
}

func (s *SessionStore) Get(sessionID string) (*app.Session, bool) {
	return s.local.Get(sessionID)
}

func (s *SessionStore) Remove(sessionID string) {
	s.local.Remove(sessionID)
	_ = s.client.Del(context.Background(), s.key(sessionID)).Err()
}

// ScheduleRemoval gives the liveness marker the same deadline.
func (s *SessionStore) ScheduleRemoval(sessionID string, after time.Duration) {
	s.local.ScheduleRemoval(sessionID, after)
	if err := s.client.Expire(context.Background(), s.key(sessionID), after).Err(); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to expire session marker")
	}
}

// CancelRemoval makes the marker persistent again.
func (s *SessionStore) CancelRemoval(sessionID string) {
	s.local.CancelRemoval(sessionID)
	if err := s.client.Persist(context.Background(), s.key(sessionID)).Err(); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to persist session marker")
	}
}

func (s *SessionStore) Len() int {
	return s.local.Len()
}

func (s *SessionStore) key(sessionID string) string {
	return "interview:session:" + sessionID
}
