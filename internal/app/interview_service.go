package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"interview-battle-service/internal/domain"
)

// Options tunes the interview service. Zero values fall back to defaults.
type Options struct {
	BreakDuration time.Duration
	Retention     time.Duration
	// IdleTimeout evicts a session nobody is connected to.
	IdleTimeout   time.Duration
	ScoreTimeout  time.Duration
	ExportTimeout time.Duration
	Clock         clockwork.Clock

	// Optional collaborators.
	Questions QuestionRepository
	Scorer    Scorer
	Exporter  Exporter
	Archive   ResultsArchive
}

func (o Options) withDefaults() Options {
	if o.BreakDuration <= 0 {
		o.BreakDuration = 3 * time.Second
	}
	if o.Retention <= 0 {
		o.Retention = time.Hour
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = time.Hour
	}
	if o.ScoreTimeout <= 0 {
		o.ScoreTimeout = 30 * time.Second
	}
	if o.ExportTimeout <= 0 {
		o.ExportTimeout = 30 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	return o
}

// InterviewService contains the battle-mode use cases. It routes commands to
// the owning session and runs scoring and export off the session lock.
type InterviewService struct {
	sessions SessionRepository
	gateway  *Gateway
	opts     Options

	connMu sync.Mutex
	conns  map[string]string // connectionID -> sessionID

	baseCtx  context.Context
	cancel   context.CancelFunc
	bgMu     sync.Mutex
	draining bool
	wg       sync.WaitGroup
}

func NewInterviewService(store SessionRepository, gateway *Gateway, opts Options) *InterviewService {
	ctx, cancel := context.WithCancel(context.Background())
	return &InterviewService{
		sessions: store,
		gateway:  gateway,
		opts:     opts.withDefaults(),
		conns:    make(map[string]string),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Clock returns the clock sessions are built with.
func (s *InterviewService) Clock() clockwork.Clock {
	return s.opts.Clock
}

// Subscribe registers a connection for a session's events. Subscribe before
// Join so the private resync snapshot is delivered in order.
func (s *InterviewService) Subscribe(sessionID, connectionID string) *Subscription {
	return s.gateway.Subscribe(sessionID, connectionID)
}

// Unsubscribe stops delivery to a subscription.
func (s *InterviewService) Unsubscribe(sub *Subscription) {
	s.gateway.Unsubscribe(sub)
}

// Join registers or refreshes a participant, creating the session on first reference.
func (s *InterviewService) Join(_ context.Context, req JoinRequest) (JoinResult, error) {
	if req.SessionID == "" || req.UserID == "" || req.ConnectionID == "" {
		return JoinResult{}, domain.ErrInvalidRequest
	}

	s.connMu.Lock()
	prev, moved := s.conns[req.ConnectionID]
	s.conns[req.ConnectionID] = req.SessionID
	s.connMu.Unlock()
	if moved && prev != req.SessionID {
		if session, ok := s.sessions.Get(prev); ok {
			session.leave(req.ConnectionID)
		}
	}

	session := s.getOrCreate(req.SessionID)
	return session.join(req), nil
}

// Leave marks a connection dead in whichever session it joined.
func (s *InterviewService) Leave(_ context.Context, connectionID string) {
	s.connMu.Lock()
	sessionID, ok := s.conns[connectionID]
	delete(s.conns, connectionID)
	s.connMu.Unlock()
	if !ok {
		return
	}
	if session, ok := s.sessions.Get(sessionID); ok {
		session.leave(connectionID)
	}
}

// StartRequest mirrors the inbound start message.
type StartRequest struct {
	SessionID    string
	ConnectionID string
	Questions    []domain.Question
}

// Start moves a waiting session to its first question. With no questions in
// the request, the stored set for the session is loaded.
func (s *InterviewService) Start(ctx context.Context, req StartRequest) error {
	session, ok := s.sessions.Get(req.SessionID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	if !session.IsHostConnection(req.ConnectionID) {
		s.logRejected(req.SessionID, req.ConnectionID, "start", domain.ErrUnauthorized)
		return domain.ErrUnauthorized
	}

	questions := req.Questions
	if len(questions) == 0 && s.opts.Questions != nil {
		loaded, err := s.opts.Questions.GetQuestions(ctx, req.SessionID)
		if err != nil {
			log.Warn().Err(err).Str("session_id", req.SessionID).Msg("failed to load stored questions")
			return fmt.Errorf("%w: %v", domain.ErrNoQuestions, err)
		}
		questions = loaded
	}

	if err := session.start(req.ConnectionID, questions); err != nil {
		s.logRejected(req.SessionID, req.ConnectionID, "start", err)
		return err
	}
	return nil
}

// SubmitAnswer records an answer. Without an inline score, the configured
// scorer grades it asynchronously and a later score-updated follows.
func (s *InterviewService) SubmitAnswer(_ context.Context, req SubmitRequest) (domain.SubmissionRecord, error) {
	session, ok := s.sessions.Get(req.SessionID)
	if !ok {
		return domain.SubmissionRecord{}, domain.ErrSessionNotFound
	}
	rec, question, err := session.submit(req)
	if err != nil {
		s.logRejected(req.SessionID, req.ConnectionID, "submitAnswer", err)
		return domain.SubmissionRecord{}, err
	}
	if rec.Score == nil && s.opts.Scorer != nil {
		s.scoreAsync(session, ScoreRequest{
			SessionID:     req.SessionID,
			UserID:        rec.UserID,
			QuestionIndex: rec.QuestionIndex,
			Question:      question,
			Answer:        rec.Answer,
		})
	}
	return rec, nil
}

// UpdateScore replaces one question's score for a user and returns the new total.
func (s *InterviewService) UpdateScore(_ context.Context, req UpdateScoreRequest) (float64, error) {
	session, ok := s.sessions.Get(req.SessionID)
	if !ok {
		return 0, domain.ErrSessionNotFound
	}
	total, err := session.updateScore(req)
	if err != nil {
		s.logRejected(req.SessionID, req.ConnectionID, "updateScore", err)
		return 0, err
	}
	if session.Phase() == domain.PhaseEnded {
		s.exportAsync(session)
	}
	return total, nil
}

// NextQuestion is the host's manual skip.
func (s *InterviewService) NextQuestion(_ context.Context, sessionID, connectionID string) error {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	if err := session.next(connectionID); err != nil {
		s.logRejected(sessionID, connectionID, "nextQuestion", err)
		return err
	}
	return nil
}

// EndSession ends the session immediately on the host's command.
func (s *InterviewService) EndSession(_ context.Context, sessionID, connectionID string) error {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	if err := session.end(connectionID); err != nil {
		s.logRejected(sessionID, connectionID, "endSession", err)
		return err
	}
	return nil
}

// Snapshot returns the live state of a session as seen by connectionID (may be empty).
func (s *InterviewService) Snapshot(_ context.Context, sessionID, connectionID string) (domain.Snapshot, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.Snapshot{}, domain.ErrSessionNotFound
	}
	return session.Snapshot(connectionID), nil
}

// Scores returns the live leaderboard.
func (s *InterviewService) Scores(_ context.Context, sessionID string) (domain.ScoreTable, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session.Scores(), nil
}

// Results returns the final results of an ended session. Once the live
// session is evicted, the archive (if any) answers instead.
func (s *InterviewService) Results(ctx context.Context, sessionID string) (domain.Results, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		if s.opts.Archive == nil {
			return domain.Results{}, domain.ErrSessionNotFound
		}
		return s.opts.Archive.LoadResults(ctx, sessionID)
	}
	return session.Results()
}

// Session exposes a registered session, mostly for tests and diagnostics.
func (s *InterviewService) Session(sessionID string) (*Session, bool) {
	return s.sessions.Get(sessionID)
}

// Stats summarizes the coordinator for the stats endpoint.
type Stats struct {
	Sessions int          `json:"sessions"`
	Gateway  GatewayStats `json:"gateway"`
}

func (s *InterviewService) Stats() Stats {
	return Stats{Sessions: s.sessions.Len(), Gateway: s.gateway.Stats()}
}

// Drain stops accepting background work, waits for in-flight scoring and
// export calls, then cancels what is left.
func (s *InterviewService) Drain(ctx context.Context) error {
	s.bgMu.Lock()
	s.draining = true
	s.bgMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	defer s.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *InterviewService) getOrCreate(sessionID string) *Session {
	return s.sessions.GetOrCreate(sessionID, func() *Session {
		var session *Session
		session = NewSession(sessionID, SessionOptions{
			BreakDuration: s.opts.BreakDuration,
			Clock:         s.opts.Clock,
			Broadcaster:   s.gateway,
			OnEnded:       func(domain.Results) { s.sessionEnded(session) },
			OnVacancy:     func(vacant bool) { s.sessionVacancy(sessionID, vacant) },
		})
		return session
	})
}

// sessionEnded runs under the session lock; it only schedules work.
func (s *InterviewService) sessionEnded(session *Session) {
	s.sessions.ScheduleRemoval(session.ID(), s.opts.Retention)
	s.exportAsync(session)
}

// sessionVacancy runs under the session lock.
func (s *InterviewService) sessionVacancy(sessionID string, vacant bool) {
	if vacant {
		log.Debug().Str("session_id", sessionID).Dur("after", s.opts.IdleTimeout).Msg("session vacant, removal scheduled")
		s.sessions.ScheduleRemoval(sessionID, s.opts.IdleTimeout)
		return
	}
	s.sessions.CancelRemoval(sessionID)
}

// goBackground runs fn on a tracked goroutine unless the service is draining.
func (s *InterviewService) goBackground(fn func()) bool {
	s.bgMu.Lock()
	defer s.bgMu.Unlock()
	if s.draining {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

func (s *InterviewService) exportAsync(session *Session) {
	if s.opts.Exporter == nil {
		return
	}
	if !s.goBackground(func() { s.export(session) }) {
		log.Warn().Str("session_id", session.ID()).Msg("shutting down, session results not persisted")
	}
}

// export hands the session's current results to the exporter. Exports of one
// session are serialized and each reads the results afresh, so the last
// export to run carries every score applied before it started.
func (s *InterviewService) export(session *Session) {
	session.exportMu.Lock()
	defer session.exportMu.Unlock()

	results, err := session.Results()
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.baseCtx, s.opts.ExportTimeout)
	defer cancel()
	if err := s.opts.Exporter.Export(ctx, results); err != nil {
		log.Error().Err(err).Str("session_id", results.SessionID).Msg("failed to persist session results")
		return
	}
	log.Info().Str("session_id", results.SessionID).Msg("session results persisted")
}

func (s *InterviewService) scoreAsync(session *Session, req ScoreRequest) {
	started := s.goBackground(func() {
		ctx, cancel := context.WithTimeout(s.baseCtx, s.opts.ScoreTimeout)
		defer cancel()

		res, err := s.opts.Scorer.Score(ctx, req)
		if err != nil {
			log.Warn().
				Err(err).
				Str("session_id", req.SessionID).
				Str("user_id", req.UserID).
				Int("question_index", req.QuestionIndex).
				Msg("answer scoring failed, submission stays unscored")
			return
		}
		if err := session.applyScore(req.UserID, req.QuestionIndex, res.Score, res.Feedback); err != nil {
			log.Warn().Err(err).Str("session_id", req.SessionID).Str("user_id", req.UserID).Msg("discarded scorer result")
			return
		}
		// Scores landing after the end refresh what was already persisted.
		if session.Phase() == domain.PhaseEnded && s.opts.Exporter != nil {
			s.export(session)
		}
	})
	if !started {
		log.Warn().Str("session_id", req.SessionID).Str("user_id", req.UserID).Msg("shutting down, answer left unscored")
	}
}

func (s *InterviewService) logRejected(sessionID, connectionID, command string, err error) {
	ev := log.Debug()
	if errors.Is(err, domain.ErrUnauthorized) || errors.Is(err, domain.ErrInvalidTransition) {
		ev = log.Info()
	}
	ev.Err(err).
		Str("session_id", sessionID).
		Str("connection_id", connectionID).
		Str("command", command).
		Msg("command rejected")
}
