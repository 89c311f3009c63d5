package domain

import "time"

// EventType names an outbound server event.
type EventType string

const (
	EventSnapshot             EventType = "snapshot"
	EventParticipantJoined    EventType = "participant-joined"
	EventParticipantLeft      EventType = "participant-left"
	EventQuestionStarted      EventType = "question-started"
	EventTimeExpired          EventType = "time-expired"
	EventAllSubmitted         EventType = "all-submitted"
	EventParticipantSubmitted EventType = "participant-submitted"
	EventScoreUpdated         EventType = "score-updated"
	EventSessionEnded         EventType = "session-ended"
	EventError                EventType = "error"
)

// Event is one message leaving the coordinator. Seq is assigned per session in
// generation order so clients can detect gaps.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	Seq       uint64    `json:"seq"`
	At        time.Time `json:"at"`
	Payload   any       `json:"payload"`

	// Target restricts delivery to one connection; Exclude skips one.
	Target  string `json:"-"`
	Exclude string `json:"-"`
}

// ParticipantPayload accompanies participant-joined and participant-left.
type ParticipantPayload struct {
	UserID       string `json:"userId"`
	DisplayName  string `json:"displayName"`
	ConnectionID string `json:"connectionId"`
	IsHost       bool   `json:"isHost"`
}

// QuestionStartedPayload announces the next active question.
type QuestionStartedPayload struct {
	QuestionIndex  int            `json:"questionIndex"`
	Question       PublicQuestion `json:"question"`
	TimeLimit      int            `json:"timeLimit"`
	TotalQuestions int            `json:"totalQuestions"`
	Deadline       time.Time      `json:"deadline"`
}

// QuestionIndexPayload accompanies time-expired and all-submitted.
type QuestionIndexPayload struct {
	QuestionIndex int       `json:"questionIndex"`
	BreakUntil    time.Time `json:"breakUntil"`
}

// SubmittedPayload accompanies participant-submitted.
type SubmittedPayload struct {
	UserID        string `json:"userId"`
	QuestionIndex int    `json:"questionIndex"`
}

// ErrorPayload is the private denial sent to a single connection.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Command string `json:"command,omitempty"`
}
