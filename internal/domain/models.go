package domain

import (
	"encoding/json"
	"time"
)

// Phase is the coarse state of an interview session.
type Phase string

const (
	PhaseWaiting Phase = "waiting"
	PhaseActive  Phase = "active"
	PhaseBreak   Phase = "break"
	PhaseEnded   Phase = "ended"
)

// Question is one timed interview question. The coordinator only reads
// TimeLimit; the remaining fields are carried through to clients and the scorer.
type Question struct {
	ID             string   `json:"id,omitempty"`
	Text           string   `json:"text"`
	CorrectAnswer  string   `json:"correctAnswer,omitempty"`
	TimeLimit      int      `json:"timeLimit"` // seconds
	Difficulty     int      `json:"difficulty,omitempty"`
	Skills         []string `json:"skills,omitempty"`
	CommonMistakes []string `json:"commonMistakes,omitempty"`
	MaxScore       float64  `json:"maxScore"`
}

// PublicQuestion is the client-facing view of a question; the expected answer never leaves the server.
type PublicQuestion struct {
	ID         string   `json:"id,omitempty"`
	Text       string   `json:"text"`
	TimeLimit  int      `json:"timeLimit"`
	Difficulty int      `json:"difficulty,omitempty"`
	Skills     []string `json:"skills,omitempty"`
	MaxScore   float64  `json:"maxScore"`
}

// Public strips server-only fields.
func (q Question) Public() PublicQuestion {
	return PublicQuestion{
		ID:         q.ID,
		Text:       q.Text,
		TimeLimit:  q.TimeLimit,
		Difficulty: q.Difficulty,
		Skills:     q.Skills,
		MaxScore:   q.MaxScore,
	}
}

// TimeLimitDuration returns the question time limit as a duration.
func (q Question) TimeLimitDuration() time.Duration {
	return time.Duration(q.TimeLimit) * time.Second
}

// Participant is a user taking part in a session. Identity is the UserID;
// ConnectionID tracks the latest connection delivering events for that user.
type Participant struct {
	UserID       string
	DisplayName  string
	ConnectionID string
	IsHost       bool
	Live         bool
	JoinedAt     time.Time
	LastSeen     time.Time
}

// ParticipantView is the snapshot-friendly form of a participant.
type ParticipantView struct {
	UserID       string `json:"userId"`
	DisplayName  string `json:"displayName"`
	ConnectionID string `json:"connectionId,omitempty"`
	IsHost       bool   `json:"isHost"`
	Live         bool   `json:"live"`
}

// SubmissionRecord is one participant's answer to one question.
type SubmissionRecord struct {
	QuestionIndex int             `json:"questionIndex"`
	UserID        string          `json:"userId"`
	Answer        string          `json:"answer"`
	SubmittedAt   time.Time       `json:"submittedAt"`
	Score         *float64        `json:"score,omitempty"`
	Feedback      json.RawMessage `json:"feedback,omitempty"`
}

// ScoreEntry is a participant's running total within a session.
type ScoreEntry struct {
	Score float64 `json:"score"`
	Name  string  `json:"name"`
}

// ScoreTable maps userID to score entry; it is what clients render as the live leaderboard.
type ScoreTable map[string]ScoreEntry

// Snapshot is the full resync payload handed to a joining or reconnecting connection.
type Snapshot struct {
	SessionID            string            `json:"sessionId"`
	Phase                Phase             `json:"phase"`
	CurrentQuestionIndex int               `json:"currentQuestionIndex"`
	TotalQuestions       int               `json:"totalQuestions"`
	Question             *PublicQuestion   `json:"question,omitempty"`
	TimeRemaining        float64           `json:"timeRemaining"` // seconds
	PhaseDeadline        *time.Time        `json:"phaseDeadline,omitempty"`
	Participants         []ParticipantView `json:"participants"`
	Submitted            []string          `json:"submitted"`
	Scores               ScoreTable        `json:"scores"`
	IsHost               bool              `json:"isHost"`
	ServerTime           time.Time         `json:"serverTime"`
}

// QuestionAnswers groups the submissions recorded for one question.
type QuestionAnswers struct {
	QuestionIndex int                `json:"questionIndex"`
	Answers       []SubmissionRecord `json:"answers"`
}

// Results is the final scoreboard of a session, also the payload handed to persistence.
type Results struct {
	SessionID string            `json:"sessionId"`
	Questions []PublicQuestion  `json:"questions"`
	Answers   []QuestionAnswers `json:"answers"`
	Scores    ScoreTable        `json:"scores"`
	Reason    string            `json:"reason"`
	StartedAt *time.Time        `json:"startedAt,omitempty"`
	EndedAt   time.Time         `json:"endedAt"`
}

// Submissions flattens the grouped answers.
func (r Results) Submissions() []SubmissionRecord {
	var out []SubmissionRecord
	for _, group := range r.Answers {
		out = append(out, group.Answers...)
	}
	return out
}
