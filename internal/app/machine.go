package app

import (
	"encoding/json"
	"sort"
	"time"

	"interview-battle-service/internal/domain"
)

type timerAction int

const (
	timerKeep timerAction = iota
	timerArm
	timerCancel
)

// completion causes for leaving the active phase.
const (
	causeTimer        = "timer"
	causeAllSubmitted = "all-submitted"
	causeSkipped      = "skipped"
)

// end reasons recorded on results.
const (
	ReasonCompleted = "completed"
	ReasonEnded     = "ended-by-host"
)

// transition is what one command did to the machine: the events to emit, in
// order, and what the session must do with its timer.
type transition struct {
	events []domain.Event
	timer  timerAction
	after  time.Duration
	ended  bool
}

func (t *transition) emit(typ domain.EventType, payload any) {
	t.events = append(t.events, domain.Event{Type: typ, Payload: payload})
}

// machine is the phase state machine of one session. It never touches clocks,
// timers or connections; callers pass now and act on the returned transition.
type machine struct {
	phase         domain.Phase
	questions     []domain.Question
	index         int
	phaseStarted  time.Time
	deadline      time.Time
	startedAt     *time.Time
	endedAt       time.Time
	endReason     string
	breakDuration time.Duration
	submissions   map[int]map[string]*domain.SubmissionRecord
}

func newMachine(breakDuration time.Duration) *machine {
	return &machine{
		phase:         domain.PhaseWaiting,
		breakDuration: breakDuration,
		submissions:   make(map[int]map[string]*domain.SubmissionRecord),
	}
}

// validateQuestions rejects empty sets and non-positive time limits.
func validateQuestions(questions []domain.Question) error {
	if len(questions) == 0 {
		return domain.ErrNoQuestions
	}
	for _, q := range questions {
		if q.TimeLimit <= 0 {
			return domain.ErrInvalidTimeLimit
		}
	}
	return nil
}

// start moves waiting -> active(0).
func (m *machine) start(questions []domain.Question, now time.Time) (transition, error) {
	if m.phase != domain.PhaseWaiting {
		return transition{}, domain.ErrInvalidTransition
	}
	if err := validateQuestions(questions); err != nil {
		return transition{}, err
	}

	m.questions = append([]domain.Question(nil), questions...)
	started := now
	m.startedAt = &started
	m.index = 0
	return m.activate(now), nil
}

func (m *machine) activate(now time.Time) transition {
	q := m.questions[m.index]
	m.phase = domain.PhaseActive
	m.phaseStarted = now
	m.deadline = now.Add(q.TimeLimitDuration())

	t := transition{timer: timerArm, after: q.TimeLimitDuration()}
	t.emit(domain.EventQuestionStarted, domain.QuestionStartedPayload{
		QuestionIndex:  m.index,
		Question:       q.Public(),
		TimeLimit:      q.TimeLimit,
		TotalQuestions: len(m.questions),
		Deadline:       m.deadline,
	})
	return t
}

// submit records an answer for the active question.
func (m *machine) submit(userID string, questionIndex int, answer string, now time.Time) (*domain.SubmissionRecord, error) {
	if m.phase != domain.PhaseActive || questionIndex != m.index {
		return nil, domain.ErrStaleSubmission
	}
	byUser, ok := m.submissions[questionIndex]
	if !ok {
		byUser = make(map[string]*domain.SubmissionRecord)
		m.submissions[questionIndex] = byUser
	}
	if _, dup := byUser[userID]; dup {
		return nil, domain.ErrDuplicateSubmission
	}
	rec := &domain.SubmissionRecord{
		QuestionIndex: questionIndex,
		UserID:        userID,
		Answer:        answer,
		SubmittedAt:   now,
	}
	byUser[userID] = rec
	return rec, nil
}

// allSubmitted reports whether every live user answered the active question.
func (m *machine) allSubmitted(live []string) bool {
	if m.phase != domain.PhaseActive || len(live) == 0 {
		return false
	}
	byUser := m.submissions[m.index]
	for _, userID := range live {
		if _, ok := byUser[userID]; !ok {
			return false
		}
	}
	return true
}

// complete moves active(i) -> break(i).
func (m *machine) complete(cause string, now time.Time) (transition, error) {
	if m.phase != domain.PhaseActive {
		return transition{}, domain.ErrInvalidTransition
	}
	m.phase = domain.PhaseBreak
	m.phaseStarted = now
	m.deadline = now.Add(m.breakDuration)

	t := transition{timer: timerArm, after: m.breakDuration}
	payload := domain.QuestionIndexPayload{QuestionIndex: m.index, BreakUntil: m.deadline}
	if cause == causeAllSubmitted {
		t.emit(domain.EventAllSubmitted, payload)
	} else {
		t.emit(domain.EventTimeExpired, payload)
	}
	return t, nil
}

// advance moves break(i) -> active(i+1), or ended after the last question.
func (m *machine) advance(now time.Time) (transition, error) {
	if m.phase != domain.PhaseBreak {
		return transition{}, domain.ErrInvalidTransition
	}
	m.index++
	if m.index >= len(m.questions) {
		return m.finish(ReasonCompleted, now), nil
	}
	return m.activate(now), nil
}

// skip is the host's manual advance: active -> break, break -> next.
func (m *machine) skip(now time.Time) (transition, error) {
	switch m.phase {
	case domain.PhaseActive:
		return m.complete(causeSkipped, now)
	case domain.PhaseBreak:
		return m.advance(now)
	default:
		return transition{}, domain.ErrInvalidTransition
	}
}

// end short-circuits the remaining questions.
func (m *machine) end(now time.Time) (transition, error) {
	if m.phase == domain.PhaseEnded {
		return transition{}, domain.ErrInvalidTransition
	}
	return m.finish(ReasonEnded, now), nil
}

func (m *machine) finish(reason string, now time.Time) transition {
	m.phase = domain.PhaseEnded
	m.phaseStarted = now
	m.deadline = time.Time{}
	m.endedAt = now
	m.endReason = reason
	return transition{timer: timerCancel, ended: true}
}

// setScore attaches a score to an existing submission. It reports whether the submission exists.
func (m *machine) setScore(userID string, questionIndex int, score float64, feedback json.RawMessage) bool {
	rec, ok := m.submissions[questionIndex][userID]
	if !ok {
		return false
	}
	s := score
	rec.Score = &s
	if len(feedback) > 0 {
		rec.Feedback = feedback
	}
	return true
}

// latestSubmission returns the highest question index the user answered.
func (m *machine) latestSubmission(userID string) (int, bool) {
	latest, found := -1, false
	for idx, byUser := range m.submissions {
		if _, ok := byUser[userID]; ok && idx > latest {
			latest, found = idx, true
		}
	}
	return latest, found
}

func (m *machine) submission(userID string, questionIndex int) (domain.SubmissionRecord, bool) {
	rec, ok := m.submissions[questionIndex][userID]
	if !ok {
		return domain.SubmissionRecord{}, false
	}
	return *rec, true
}

func (m *machine) question(index int) (domain.Question, bool) {
	if index < 0 || index >= len(m.questions) {
		return domain.Question{}, false
	}
	return m.questions[index], true
}

// timeRemaining is the time left in the current timed phase.
func (m *machine) timeRemaining(now time.Time) time.Duration {
	if m.phase != domain.PhaseActive && m.phase != domain.PhaseBreak {
		return 0
	}
	if remaining := m.deadline.Sub(now); remaining > 0 {
		return remaining
	}
	return 0
}

// submittedUsers lists who answered the given question, sorted.
func (m *machine) submittedUsers(questionIndex int) []string {
	users := make([]string, 0, len(m.submissions[questionIndex]))
	for userID := range m.submissions[questionIndex] {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

// answers groups every submission by question, ordered by index then submit time.
func (m *machine) answers() []domain.QuestionAnswers {
	indexes := make([]int, 0, len(m.submissions))
	for idx := range m.submissions {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	out := make([]domain.QuestionAnswers, 0, len(indexes))
	for _, idx := range indexes {
		group := domain.QuestionAnswers{QuestionIndex: idx}
		for _, rec := range m.submissions[idx] {
			group.Answers = append(group.Answers, *rec)
		}
		sort.Slice(group.Answers, func(i, j int) bool {
			a, b := group.Answers[i], group.Answers[j]
			if !a.SubmittedAt.Equal(b.SubmittedAt) {
				return a.SubmittedAt.Before(b.SubmittedAt)
			}
			return a.UserID < b.UserID
		})
		out = append(out, group)
	}
	return out
}

func (m *machine) publicQuestions() []domain.PublicQuestion {
	out := make([]domain.PublicQuestion, 0, len(m.questions))
	for _, q := range m.questions {
		out = append(out, q.Public())
	}
	return out
}
