package app

import (
	"testing"
	"time"

	"interview-battle-service/internal/domain"
)

func testQuestions(limits ...int) []domain.Question {
	qs := make([]domain.Question, 0, len(limits))
	for i, limit := range limits {
		qs = append(qs, domain.Question{
			ID:            string(rune('a' + i)),
			Text:          "question",
			CorrectAnswer: "secret",
			TimeLimit:     limit,
			MaxScore:      10,
		})
	}
	return qs
}

func TestMachineStartValidation(t *testing.T) {
	now := time.Unix(0, 0)

	m := newMachine(3 * time.Second)
	if _, err := m.start(nil, now); err != domain.ErrNoQuestions {
		t.Fatalf("expected ErrNoQuestions, got %v", err)
	}
	if _, err := m.start(testQuestions(30, 0), now); err != domain.ErrInvalidTimeLimit {
		t.Fatalf("expected ErrInvalidTimeLimit, got %v", err)
	}
	if m.phase != domain.PhaseWaiting {
		t.Fatalf("rejected start must not change phase")
	}

	tr, err := m.start(testQuestions(30), now)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if tr.timer != timerArm || tr.after != 30*time.Second {
		t.Fatalf("expected 30s timer, got %+v", tr)
	}
	if len(tr.events) != 1 || tr.events[0].Type != domain.EventQuestionStarted {
		t.Fatalf("expected question-started, got %+v", tr.events)
	}
	payload := tr.events[0].Payload.(domain.QuestionStartedPayload)
	if payload.QuestionIndex != 0 || payload.TotalQuestions != 1 || payload.TimeLimit != 30 {
		t.Fatalf("unexpected payload %+v", payload)
	}

	if _, err := m.start(testQuestions(30), now); err != domain.ErrInvalidTransition {
		t.Fatalf("second start must be rejected, got %v", err)
	}
}

func TestMachineFullCycle(t *testing.T) {
	now := time.Unix(0, 0)
	m := newMachine(3 * time.Second)
	if _, err := m.start(testQuestions(30, 20), now); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if _, err := m.submit("u1", 0, "A", now); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if _, err := m.submit("u1", 0, "B", now); err != domain.ErrDuplicateSubmission {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if _, err := m.submit("u2", 1, "A", now); err != domain.ErrStaleSubmission {
		t.Fatalf("expected stale, got %v", err)
	}
	if m.allSubmitted([]string{"u1", "u2"}) {
		t.Fatalf("u2 has not answered")
	}
	if !m.allSubmitted([]string{"u1"}) {
		t.Fatalf("u1 is the only live user")
	}
	if m.allSubmitted(nil) {
		t.Fatalf("no live users never completes")
	}

	tr, err := m.complete(causeAllSubmitted, now)
	if err != nil || m.phase != domain.PhaseBreak {
		t.Fatalf("complete failed: %v", err)
	}
	if tr.events[0].Type != domain.EventAllSubmitted || tr.after != 3*time.Second {
		t.Fatalf("unexpected transition %+v", tr)
	}
	if _, err := m.submit("u2", 0, "late", now); err != domain.ErrStaleSubmission {
		t.Fatalf("break must reject answers, got %v", err)
	}

	tr, _ = m.advance(now.Add(3 * time.Second))
	if m.index != 1 || m.phase != domain.PhaseActive || tr.after != 20*time.Second {
		t.Fatalf("expected question 1 active, got index %d phase %s", m.index, m.phase)
	}

	tr, _ = m.complete(causeTimer, now.Add(23*time.Second))
	if tr.events[0].Type != domain.EventTimeExpired {
		t.Fatalf("expected time-expired, got %s", tr.events[0].Type)
	}
	tr, _ = m.advance(now.Add(26 * time.Second))
	if !tr.ended || tr.timer != timerCancel || m.phase != domain.PhaseEnded || m.endReason != ReasonCompleted {
		t.Fatalf("expected completed end, got %+v phase %s", tr, m.phase)
	}

	answers := m.answers()
	if len(answers) != 1 || answers[0].QuestionIndex != 0 || len(answers[0].Answers) != 1 {
		t.Fatalf("unexpected answers %+v", answers)
	}
}

func TestMachineSkipAndEnd(t *testing.T) {
	now := time.Unix(0, 0)
	m := newMachine(time.Second)

	if _, err := m.skip(now); err != domain.ErrInvalidTransition {
		t.Fatalf("skip while waiting must fail, got %v", err)
	}
	if _, err := m.start(testQuestions(30, 30, 30), now); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	tr, _ := m.skip(now)
	if m.phase != domain.PhaseBreak || tr.events[0].Type != domain.EventTimeExpired {
		t.Fatalf("skip from active goes to break, got %s", m.phase)
	}
	if _, err := m.skip(now); err != nil || m.index != 1 || m.phase != domain.PhaseActive {
		t.Fatalf("skip from break advances, got index %d (%v)", m.index, err)
	}

	tr, err := m.end(now)
	if err != nil || !tr.ended || m.endReason != ReasonEnded {
		t.Fatalf("end failed: %v", err)
	}
	if _, err := m.end(now); err != domain.ErrInvalidTransition {
		t.Fatalf("second end must fail, got %v", err)
	}
	if m.timeRemaining(now) != 0 {
		t.Fatalf("ended session has no time remaining")
	}
}

func TestMachineEndFromWaiting(t *testing.T) {
	m := newMachine(time.Second)
	tr, err := m.end(time.Unix(0, 0))
	if err != nil || !tr.ended {
		t.Fatalf("end from waiting must succeed, got %v", err)
	}
	if m.startedAt != nil {
		t.Fatalf("never-started session has no start time")
	}
}

func TestMachineLatestSubmission(t *testing.T) {
	now := time.Unix(0, 0)
	m := newMachine(time.Second)
	_, _ = m.start(testQuestions(10, 10), now)
	_, _ = m.submit("u1", 0, "x", now)
	_, _ = m.complete(causeTimer, now)
	_, _ = m.advance(now)
	_, _ = m.submit("u1", 1, "y", now)

	if idx, ok := m.latestSubmission("u1"); !ok || idx != 1 {
		t.Fatalf("expected latest 1, got %d %v", idx, ok)
	}
	if _, ok := m.latestSubmission("u2"); ok {
		t.Fatalf("u2 never answered")
	}
	if !m.setScore("u1", 0, 4, nil) || m.setScore("u2", 0, 4, nil) {
		t.Fatalf("setScore only applies to recorded answers")
	}
}
