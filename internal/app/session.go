package app

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"interview-battle-service/internal/domain"
)

// Broadcaster delivers session events to connections.
type Broadcaster interface {
	Publish(ev domain.Event)
	Disconnect(sessionID, connectionID string)
}

// SessionOptions configures a new session.
type SessionOptions struct {
	BreakDuration time.Duration
	Clock         clockwork.Clock
	Broadcaster   Broadcaster
	// OnEnded runs with the session locked, right after the session-ended event.
	OnEnded func(domain.Results)
	// OnVacancy runs with the session locked when a session that has not
	// ended loses its last live participant (true) or regains one (false).
	OnVacancy func(vacant bool)
}

// Session is the single authority for one interview battle. Every command
// and timer callback runs under mu, so transitions and the events they
// publish are totally ordered per session.
type Session struct {
	id        string
	createdAt time.Time
	clock     clockwork.Clock
	out       Broadcaster
	onEnded   func(domain.Results)
	onVacancy func(bool)

	// exportMu orders exports of this session's results.
	exportMu sync.Mutex

	mu           sync.Mutex
	vacant       bool
	seq          uint64
	machine      *machine
	participants *Directory
	timer        *QuestionTimer
	ledger       *ScoreLedger
}

// NewSession is exported for infrastructure layers that need to seed sessions.
func NewSession(id string, opts SessionOptions) *Session {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.BreakDuration <= 0 {
		opts.BreakDuration = 3 * time.Second
	}
	if opts.Broadcaster == nil {
		opts.Broadcaster = discard{}
	}
	return &Session{
		id:           id,
		createdAt:    opts.Clock.Now(),
		clock:        opts.Clock,
		out:          opts.Broadcaster,
		onEnded:      opts.OnEnded,
		onVacancy:    opts.OnVacancy,
		machine:      newMachine(opts.BreakDuration),
		participants: NewDirectory(),
		timer:        NewQuestionTimer(opts.Clock),
		ledger:       NewScoreLedger(),
	}
}

type discard struct{}

func (discard) Publish(domain.Event)      {}
func (discard) Disconnect(string, string) {}

// JoinRequest mirrors the inbound join message.
type JoinRequest struct {
	SessionID    string
	UserID       string
	DisplayName  string
	ConnectionID string
	// IsHost is the host flag assigned by the surrounding application, if any.
	IsHost *bool
}

// JoinResult is what a joining connection learns immediately.
type JoinResult struct {
	IsHost   bool            `json:"isHost"`
	Snapshot domain.Snapshot `json:"snapshot"`
}

// SubmitRequest mirrors the inbound submitAnswer message.
type SubmitRequest struct {
	SessionID     string
	ConnectionID  string
	UserID        string
	QuestionIndex int
	Answer        string
	Score         *float64
}

// UpdateScoreRequest mirrors the inbound updateScore message. QuestionIndex
// selects the question whose score is replaced; nil targets the user's latest answer.
type UpdateScoreRequest struct {
	SessionID     string
	ConnectionID  string
	UserID        string
	DisplayName   string
	Score         float64
	QuestionIndex *int
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// CreatedAt is when the session was first referenced.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Phase returns the current phase.
func (s *Session) Phase() domain.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.phase
}

// CurrentQuestionIndex returns the current question index.
func (s *Session) CurrentQuestionIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.index
}

// Scores reads the live leaderboard without waiting on transitions.
func (s *Session) Scores() domain.ScoreTable {
	return s.ledger.Snapshot()
}

// Snapshot builds the resync payload as seen by connectionID.
func (s *Session) Snapshot(connectionID string) domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(connectionID, s.clock.Now())
}

// Results returns the final results once the session ended.
func (s *Session) Results() (domain.Results, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.machine.phase != domain.PhaseEnded {
		return domain.Results{}, domain.ErrSessionNotEnded
	}
	return s.resultsLocked(), nil
}

// Submission returns a copy of a recorded answer.
func (s *Session) Submission(userID string, questionIndex int) (domain.SubmissionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.submission(userID, questionIndex)
}

// IsHostConnection reports whether connectionID currently holds host privileges.
func (s *Session) IsHostConnection(connectionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participants.IsHostConnection(connectionID)
}

func (s *Session) join(req JoinRequest) JoinResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	out := s.participants.Join(req.UserID, req.DisplayName, req.ConnectionID, req.IsHost, now)
	if out.superseded != "" {
		s.out.Disconnect(s.id, out.superseded)
	}
	p := out.participant
	s.ledger.Ensure(p.UserID, p.DisplayName)
	if s.vacant && s.machine.phase != domain.PhaseEnded {
		s.vacant = false
		if s.onVacancy != nil {
			s.onVacancy(false)
		}
	}

	snap := s.snapshotLocked(req.ConnectionID, now)
	s.publishLocked(domain.Event{Type: domain.EventSnapshot, Target: req.ConnectionID, Payload: snap})
	s.publishLocked(domain.Event{
		Type:    domain.EventParticipantJoined,
		Exclude: req.ConnectionID,
		Payload: participantPayload(p),
	})
	s.publishLocked(domain.Event{Type: domain.EventScoreUpdated, Payload: s.ledger.Snapshot()})

	log.Info().
		Str("session_id", s.id).
		Str("user_id", p.UserID).
		Str("connection_id", req.ConnectionID).
		Bool("is_host", p.IsHost).
		Bool("rejoined", out.rejoined).
		Str("phase", string(s.machine.phase)).
		Msg("participant joined")

	return JoinResult{IsHost: p.IsHost, Snapshot: snap}
}

func (s *Session) leave(connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants.Leave(connectionID, s.clock.Now())
	if !ok {
		return
	}
	s.publishLocked(domain.Event{Type: domain.EventParticipantLeft, Payload: participantPayload(p)})
	log.Info().
		Str("session_id", s.id).
		Str("user_id", p.UserID).
		Str("connection_id", connectionID).
		Msg("participant left")

	// A departure can leave everyone still connected already answered.
	s.checkCompletionLocked()

	if len(s.participants.ListLive()) == 0 && s.machine.phase != domain.PhaseEnded {
		s.vacant = true
		if s.onVacancy != nil {
			s.onVacancy(true)
		}
	}
}

func (s *Session) start(connectionID string, questions []domain.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.participants.IsHostConnection(connectionID) {
		return domain.ErrUnauthorized
	}
	t, err := s.machine.start(questions, s.clock.Now())
	if err != nil {
		return err
	}
	log.Info().Str("session_id", s.id).Int("questions", len(questions)).Msg("session started")
	s.applyLocked(t)
	return nil
}

// submit records an answer. The returned question is what the scorer needs
// when no score came with the submission.
func (s *Session) submit(req SubmitRequest) (domain.SubmissionRecord, domain.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants.ByConnection(req.ConnectionID)
	if !ok {
		return domain.SubmissionRecord{}, domain.Question{}, domain.ErrParticipantNotFound
	}
	if req.UserID != "" && req.UserID != p.UserID {
		return domain.SubmissionRecord{}, domain.Question{}, domain.ErrUnauthorized
	}
	if req.Score != nil && !validScore(*req.Score) {
		return domain.SubmissionRecord{}, domain.Question{}, domain.ErrInvalidScore
	}

	now := s.clock.Now()
	rec, err := s.machine.submit(p.UserID, req.QuestionIndex, req.Answer, now)
	if err != nil {
		return domain.SubmissionRecord{}, domain.Question{}, err
	}
	q, _ := s.machine.question(req.QuestionIndex)

	s.publishLocked(domain.Event{
		Type:    domain.EventParticipantSubmitted,
		Payload: domain.SubmittedPayload{UserID: p.UserID, QuestionIndex: req.QuestionIndex},
	})

	if req.Score != nil {
		if _, err := s.ledger.Set(p.UserID, p.DisplayName, req.QuestionIndex, *req.Score); err == nil {
			s.machine.setScore(p.UserID, req.QuestionIndex, *req.Score, nil)
			s.publishLocked(domain.Event{Type: domain.EventScoreUpdated, Payload: s.ledger.Snapshot()})
		}
	}

	s.checkCompletionLocked()
	return *rec, q, nil
}

// applyScore lands an asynchronously produced score on an existing submission.
func (s *Session) applyScore(userID string, questionIndex int, score float64, feedback json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := ""
	if p, ok := s.participants.ByUser(userID); ok {
		name = p.DisplayName
	}
	if !s.machine.setScore(userID, questionIndex, score, feedback) {
		return domain.ErrParticipantNotFound
	}
	if _, err := s.ledger.Set(userID, name, questionIndex, score); err != nil {
		return err
	}
	s.publishLocked(domain.Event{Type: domain.EventScoreUpdated, Payload: s.ledger.Snapshot()})
	return nil
}

func (s *Session) updateScore(req UpdateScoreRequest) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	caller, ok := s.participants.ByConnection(req.ConnectionID)
	if !ok {
		return 0, domain.ErrParticipantNotFound
	}
	if s.machine.phase == domain.PhaseWaiting {
		return 0, domain.ErrInvalidTransition
	}
	if caller.UserID != req.UserID && !caller.IsHost {
		return 0, domain.ErrUnauthorized
	}
	target, ok := s.participants.ByUser(req.UserID)
	if !ok {
		return 0, domain.ErrParticipantNotFound
	}

	idx := s.machine.index
	if req.QuestionIndex != nil {
		idx = *req.QuestionIndex
	} else if latest, ok := s.machine.latestSubmission(req.UserID); ok {
		idx = latest
	}
	if idx < 0 || (len(s.machine.questions) > 0 && idx >= len(s.machine.questions)) {
		return 0, domain.ErrStaleSubmission
	}

	name := req.DisplayName
	if name == "" {
		name = target.DisplayName
	}
	total, err := s.ledger.Set(req.UserID, name, idx, req.Score)
	if err != nil {
		return 0, err
	}
	s.machine.setScore(req.UserID, idx, req.Score, nil)
	s.publishLocked(domain.Event{Type: domain.EventScoreUpdated, Payload: s.ledger.Snapshot()})
	return total, nil
}

func (s *Session) next(connectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.participants.IsHostConnection(connectionID) {
		return domain.ErrUnauthorized
	}
	t, err := s.machine.skip(s.clock.Now())
	if err != nil {
		return err
	}
	log.Info().Str("session_id", s.id).Int("question_index", s.machine.index).Msg("host skipped ahead")
	s.applyLocked(t)
	return nil
}

func (s *Session) end(connectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.participants.IsHostConnection(connectionID) {
		return domain.ErrUnauthorized
	}
	t, err := s.machine.end(s.clock.Now())
	if err != nil {
		return err
	}
	s.applyLocked(t)
	return nil
}

// onTimer is the expiry callback of the phase timer; it runs on a timer
// goroutine and is a no-op when a transition already superseded it.
func (s *Session) onTimer(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.timer.Current(gen) {
		return
	}
	s.timer.fired(gen)

	now := s.clock.Now()
	var (
		t   transition
		err error
	)
	switch s.machine.phase {
	case domain.PhaseActive:
		t, err = s.machine.complete(causeTimer, now)
	case domain.PhaseBreak:
		t, err = s.machine.advance(now)
	default:
		return
	}
	if err != nil {
		log.Error().Err(err).Str("session_id", s.id).Msg("timer transition rejected")
		return
	}
	s.applyLocked(t)
}

func (s *Session) checkCompletionLocked() {
	live := s.participants.ListLive()
	ids := make([]string, 0, len(live))
	for _, p := range live {
		ids = append(ids, p.UserID)
	}
	if !s.machine.allSubmitted(ids) {
		return
	}
	t, err := s.machine.complete(causeAllSubmitted, s.clock.Now())
	if err != nil {
		return
	}
	s.applyLocked(t)
}

// applyLocked executes a transition: timer first, so a new timer is in place
// before anyone can observe the events, then events in order.
func (s *Session) applyLocked(t transition) {
	switch t.timer {
	case timerArm:
		s.timer.Arm(t.after, s.onTimer)
	case timerCancel:
		s.timer.Cancel()
	}
	for _, ev := range t.events {
		s.publishLocked(ev)
	}
	if !t.ended {
		return
	}

	results := s.resultsLocked()
	s.publishLocked(domain.Event{Type: domain.EventSessionEnded, Payload: results})
	s.publishLocked(domain.Event{Type: domain.EventScoreUpdated, Payload: results.Scores})
	log.Info().
		Str("session_id", s.id).
		Str("reason", results.Reason).
		Int("answered_questions", len(results.Answers)).
		Msg("session ended")
	if s.onEnded != nil {
		s.onEnded(results)
	}
}

func (s *Session) publishLocked(ev domain.Event) {
	s.seq++
	ev.Seq = s.seq
	ev.SessionID = s.id
	ev.At = s.clock.Now()
	s.out.Publish(ev)
}

func (s *Session) snapshotLocked(connectionID string, now time.Time) domain.Snapshot {
	m := s.machine
	snap := domain.Snapshot{
		SessionID:            s.id,
		Phase:                m.phase,
		CurrentQuestionIndex: m.index,
		TotalQuestions:       len(m.questions),
		TimeRemaining:        m.timeRemaining(now).Seconds(),
		Participants:         s.participants.Views(),
		Submitted:            []string{},
		Scores:               s.ledger.Snapshot(),
		ServerTime:           now,
	}
	if m.phase == domain.PhaseActive || m.phase == domain.PhaseBreak {
		if q, ok := m.question(m.index); ok {
			pub := q.Public()
			snap.Question = &pub
		}
		deadline := m.deadline
		snap.PhaseDeadline = &deadline
		snap.Submitted = m.submittedUsers(m.index)
	}
	if p, ok := s.participants.ByConnection(connectionID); ok {
		snap.IsHost = p.IsHost
	}
	return snap
}

func (s *Session) resultsLocked() domain.Results {
	m := s.machine
	return domain.Results{
		SessionID: s.id,
		Questions: m.publicQuestions(),
		Answers:   m.answers(),
		Scores:    s.ledger.Snapshot(),
		Reason:    m.endReason,
		StartedAt: m.startedAt,
		EndedAt:   m.endedAt,
	}
}

func participantPayload(p *domain.Participant) domain.ParticipantPayload {
	return domain.ParticipantPayload{
		UserID:       p.UserID,
		DisplayName:  p.DisplayName,
		ConnectionID: p.ConnectionID,
		IsHost:       p.IsHost,
	}
}
