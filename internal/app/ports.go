package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"interview-battle-service/internal/domain"
)

// SessionRepository is the process-wide session registry (in-memory, Redis-marked, etc).
// GetOrCreate must resolve concurrent creation for one id to a single session.
type SessionRepository interface {
	GetOrCreate(sessionID string, create func() *Session) *Session
	Get(sessionID string) (*Session, bool)
	Remove(sessionID string)
	// ScheduleRemoval evicts the session after the retention window, replacing
	// any removal already scheduled for it.
	ScheduleRemoval(sessionID string, after time.Duration)
	// CancelRemoval drops a pending removal, if any.
	CancelRemoval(sessionID string)
	Len() int
}

// QuestionRepository loads the stored question set for a session (group) id.
type QuestionRepository interface {
	GetQuestions(ctx context.Context, sessionID string) ([]domain.Question, error)
}

// ScoreRequest is what the external answer scorer needs to grade one answer.
type ScoreRequest struct {
	SessionID     string
	UserID        string
	QuestionIndex int
	Question      domain.Question
	Answer        string
}

// ScoreResult is the scorer's verdict: a 0-10 score plus a structured feedback blob.
type ScoreResult struct {
	Score    float64         `json:"score"`
	Feedback json.RawMessage `json:"feedback,omitempty"`
}

// Scorer grades submitted answers. Calls run off the session's critical path.
type Scorer interface {
	Score(ctx context.Context, req ScoreRequest) (ScoreResult, error)
}

// Exporter receives final results once a session ends. Failures are logged
// and never affect the live session.
type Exporter interface {
	Export(ctx context.Context, results domain.Results) error
}

// ResultsArchive reads results persisted by an exporter, after the live session is gone.
type ResultsArchive interface {
	LoadResults(ctx context.Context, sessionID string) (domain.Results, error)
}

// ExporterFunc adapts a function to Exporter.
type ExporterFunc func(ctx context.Context, results domain.Results) error

func (f ExporterFunc) Export(ctx context.Context, results domain.Results) error {
	return f(ctx, results)
}

// MultiExporter hands results to every exporter and joins their errors.
type MultiExporter []Exporter

func (m MultiExporter) Export(ctx context.Context, results domain.Results) error {
	var errs []error
	for _, exp := range m {
		if err := exp.Export(ctx, results); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
