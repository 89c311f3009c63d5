package app

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// QuestionTimer is the single phase timer of a session. Arm replaces any
// prior timer, and every arm bumps a generation so a callback that slipped
// past Stop can recognize itself as stale.
//
// Arm, Cancel and Current must be called with the owning session locked.
type QuestionTimer struct {
	clock clockwork.Clock
	timer clockwork.Timer
	gen   uint64
}

func NewQuestionTimer(clock clockwork.Clock) *QuestionTimer {
	return &QuestionTimer{clock: clock}
}

// Arm cancels the live timer, if any, and schedules fire after d. fire
// receives the generation it was armed with.
func (t *QuestionTimer) Arm(d time.Duration, fire func(gen uint64)) uint64 {
	t.stop()
	t.gen++
	gen := t.gen
	t.timer = t.clock.AfterFunc(d, func() { fire(gen) })
	return gen
}

// Cancel stops the live timer. Any in-flight callback becomes stale.
func (t *QuestionTimer) Cancel() {
	t.stop()
	t.gen++
}

// Current reports whether gen belongs to the live timer.
func (t *QuestionTimer) Current(gen uint64) bool {
	return t.timer != nil && gen == t.gen
}

// Armed reports whether a timer is pending.
func (t *QuestionTimer) Armed() bool {
	return t.timer != nil
}

// fired clears the live timer once its callback has been accepted.
func (t *QuestionTimer) fired(gen uint64) {
	if gen == t.gen {
		t.timer = nil
	}
}

func (t *QuestionTimer) stop() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
