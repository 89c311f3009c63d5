package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"interview-battle-service/internal/domain"
)

type resultRow struct {
	bun.BaseModel `bun:"table:interview_results,alias:r"`

	SessionID string                  `bun:"session_id,pk"`
	Reason    string                  `bun:"reason"`
	Questions []domain.PublicQuestion `bun:"questions,type:jsonb"`
	Scores    domain.ScoreTable       `bun:"scores,type:jsonb"`
	StartedAt *time.Time              `bun:"started_at"`
	EndedAt   time.Time               `bun:"ended_at"`
}

type submissionRow struct {
	bun.BaseModel `bun:"table:interview_submissions,alias:s"`

	SessionID     string          `bun:"session_id,pk"`
	QuestionIndex int             `bun:"question_index,pk"`
	UserID        string          `bun:"user_id,pk"`
	Answer        string          `bun:"answer"`
	Score         *float64        `bun:"score"`
	Feedback      json.RawMessage `bun:"feedback,type:jsonb,nullzero"`
	SubmittedAt   time.Time       `bun:"submitted_at"`
}

// ResultsExporter writes final session results with bun. Exports are
// idempotent per session so a retried export overwrites the previous rows.
type ResultsExporter struct {
	db *bun.DB
}

func NewResultsExporter(db *bun.DB) *ResultsExporter {
	return &ResultsExporter{db: db}
}

func (e *ResultsExporter) Export(ctx context.Context, results domain.Results) error {
	result := resultRow{
		SessionID: results.SessionID,
		Reason:    results.Reason,
		Questions: results.Questions,
		Scores:    results.Scores,
		StartedAt: results.StartedAt,
		EndedAt:   results.EndedAt,
	}
	submissions := submissionRows(results)

	return e.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().
			Model(&result).
			On("CONFLICT (session_id) DO UPDATE").
			Set("reason = EXCLUDED.reason").
			Set("questions = EXCLUDED.questions").
			Set("scores = EXCLUDED.scores").
			Set("started_at = EXCLUDED.started_at").
			Set("ended_at = EXCLUDED.ended_at").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("insert results: %w", err)
		}
		if len(submissions) == 0 {
			return nil
		}
		_, err = tx.NewInsert().
			Model(&submissions).
			On("CONFLICT (session_id, question_index, user_id) DO UPDATE").
			Set("answer = EXCLUDED.answer").
			Set("score = EXCLUDED.score").
			Set("feedback = EXCLUDED.feedback").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("insert submissions: %w", err)
		}
		return nil
	})
}

// LoadResults reads exported results back, used once the live session is gone.
func (e *ResultsExporter) LoadResults(ctx context.Context, sessionID string) (domain.Results, error) {
	var row resultRow
	err := e.db.NewSelect().Model(&row).Where("session_id = ?", sessionID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Results{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Results{}, fmt.Errorf("load results: %w", err)
	}
	var subs []submissionRow
	if err := e.db.NewSelect().
		Model(&subs).
		Where("session_id = ?", sessionID).
		Order("question_index ASC", "submitted_at ASC", "user_id ASC").
		Scan(ctx); err != nil {
		return domain.Results{}, fmt.Errorf("load submissions: %w", err)
	}

	return domain.Results{
		SessionID: row.SessionID,
		Questions: row.Questions,
		Scores:    row.Scores,
		Reason:    row.Reason,
		StartedAt: row.StartedAt,
		EndedAt:   row.EndedAt,
		Answers:   groupSubmissions(subs),
	}, nil
}

func submissionRows(results domain.Results) []submissionRow {
	rows := make([]submissionRow, 0)
	for _, rec := range results.Submissions() {
		rows = append(rows, submissionRow{
			SessionID:     results.SessionID,
			QuestionIndex: rec.QuestionIndex,
			UserID:        rec.UserID,
			Answer:        rec.Answer,
			Score:         rec.Score,
			Feedback:      rec.Feedback,
			SubmittedAt:   rec.SubmittedAt,
		})
	}
	return rows
}

// groupSubmissions folds rows ordered by question index into per-question groups.
func groupSubmissions(subs []submissionRow) []domain.QuestionAnswers {
	grouped := []domain.QuestionAnswers{}
	for _, s := range subs {
		rec := domain.SubmissionRecord{
			QuestionIndex: s.QuestionIndex,
			UserID:        s.UserID,
			Answer:        s.Answer,
			Score:         s.Score,
			Feedback:      s.Feedback,
			SubmittedAt:   s.SubmittedAt,
		}
		n := len(grouped)
		if n == 0 || grouped[n-1].QuestionIndex != s.QuestionIndex {
			grouped = append(grouped, domain.QuestionAnswers{QuestionIndex: s.QuestionIndex})
			n++
		}
		grouped[n-1].Answers = append(grouped[n-1].Answers, rec)
	}
	return grouped
}
