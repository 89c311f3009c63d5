package app

import (
	"math"
	"sync"

	"interview-battle-service/internal/domain"
)

// ScoreLedger keeps per-question scores for every user of a session. The
// cumulative score is always the sum of the per-question scores, so setting a
// question's score twice replaces rather than accumulates.
//
// The ledger carries its own lock so leaderboard reads never wait on a session transition.
type ScoreLedger struct {
	mu      sync.RWMutex
	entries map[string]*ledgerEntry
}

type ledgerEntry struct {
	name        string
	perQuestion map[int]float64
	total       float64
}

func NewScoreLedger() *ScoreLedger {
	return &ScoreLedger{entries: make(map[string]*ledgerEntry)}
}

// Ensure registers a user with a zero score if absent and refreshes the display name.
func (l *ScoreLedger) Ensure(userID, displayName string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entryLocked(userID, displayName)
}

// Set records the score for one question and returns the new cumulative total.
func (l *ScoreLedger) Set(userID, displayName string, questionIndex int, score float64) (float64, error) {
	if !validScore(score) {
		return 0, domain.ErrInvalidScore
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := l.entryLocked(userID, displayName)
	entry.perQuestion[questionIndex] = score

	total := 0.0
	for _, s := range entry.perQuestion {
		total += s
	}
	entry.total = total
	return total, nil
}

// Total returns the cumulative score for a user.
func (l *ScoreLedger) Total(userID string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if entry, ok := l.entries[userID]; ok {
		return entry.total
	}
	return 0
}

// QuestionScore returns the score recorded for one question, if any.
func (l *ScoreLedger) QuestionScore(userID string, questionIndex int) (float64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.entries[userID]
	if !ok {
		return 0, false
	}
	score, ok := entry.perQuestion[questionIndex]
	return score, ok
}

// Snapshot copies the current score table.
func (l *ScoreLedger) Snapshot() domain.ScoreTable {
	l.mu.RLock()
	defer l.mu.RUnlock()
	table := make(domain.ScoreTable, len(l.entries))
	for userID, entry := range l.entries {
		table[userID] = domain.ScoreEntry{Score: entry.total, Name: entry.name}
	}
	return table
}

func (l *ScoreLedger) entryLocked(userID, displayName string) *ledgerEntry {
	entry, ok := l.entries[userID]
	if !ok {
		entry = &ledgerEntry{perQuestion: make(map[int]float64)}
		l.entries[userID] = entry
	}
	if displayName != "" {
		entry.name = displayName
	}
	if entry.name == "" {
		entry.name = fallbackName(userID)
	}
	return entry
}

func validScore(score float64) bool {
	return score >= 0 && !math.IsNaN(score) && !math.IsInf(score, 0)
}

// fallbackName mirrors how clients label users that never sent a display name.
func fallbackName(userID string) string {
	short := userID
	if len(short) > 8 {
		short = short[:8]
	}
	return "User " + short
}
