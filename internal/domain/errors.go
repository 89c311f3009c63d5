package domain

import "errors"

var (
	// ErrSessionNotFound is returned when a command references a session that is not registered.
	ErrSessionNotFound = errors.New("interview session not found")
	// ErrParticipantNotFound is returned when a user acts before joining.
	ErrParticipantNotFound = errors.New("participant not found in session")
	// ErrInvalidTransition indicates the command is not allowed in the current phase.
	ErrInvalidTransition = errors.New("command not allowed in current phase")
	// ErrUnauthorized indicates a host-only command issued by a non-host connection.
	ErrUnauthorized = errors.New("only the host may issue this command")
	// ErrStaleSubmission indicates an answer for a question that is not currently active.
	ErrStaleSubmission = errors.New("question is not accepting answers")
	// ErrDuplicateSubmission indicates the user already answered this question.
	ErrDuplicateSubmission = errors.New("answer already submitted for this question")
	// ErrNoQuestions indicates start was requested with an empty question list.
	ErrNoQuestions = errors.New("question list is empty")
	// ErrInvalidTimeLimit indicates a question with a zero or negative time limit.
	ErrInvalidTimeLimit = errors.New("question time limit must be positive")
	// ErrInvalidScore indicates a negative or otherwise unusable score.
	ErrInvalidScore = errors.New("score must be a non-negative number")
	// ErrSessionNotEnded indicates final results were requested before the session ended.
	ErrSessionNotEnded = errors.New("interview session has not ended")
	// ErrInvalidRequest indicates a command missing a required field.
	ErrInvalidRequest = errors.New("missing required field")
	// ErrQuestionsNotFound indicates no stored question set exists for a session.
	ErrQuestionsNotFound = errors.New("question set not found")
)
