package domain

import "errors"

var (
	// ErrSessionNotFound is returned when the session id is unknown.
	ErrSessionNotFound = errors.New("session not found")
	// ErrQuestionNotFound indicates the question content could not be loaded.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrOptionNotFound indicates a submitted option index is out of range.
	ErrOptionNotFound = errors.New("option not found")
	// ErrParticipantNotFound is returned when a user acts before joining.
	ErrParticipantNotFound = errors.New("participant not found in session")
	// ErrSessionExists is returned when creating a session with a taken id.
	ErrSessionExists = errors.New("session already exists")
	// ErrInvalidState means the operation is not valid for the session's
	// current status. Callers must not retry blindly.
	ErrInvalidState = errors.New("operation not valid in current session state")
	// ErrPrecondition means a start requirement is unmet (no questions, or no
	// participants).
	ErrPrecondition = errors.New("session precondition not met")
	// ErrDuplicateAnswer is returned when a (session, question, participant)
	// answer already exists. First write wins; the participant's original
	// answer stands.
	ErrDuplicateAnswer = errors.New("answer already recorded")
	// ErrAlreadyAdvanced reports that another trigger already moved the
	// session past the given question. Treated as success by callers.
	ErrAlreadyAdvanced = errors.New("question already advanced")
	// ErrUnavailable signals exhausted retries at the store boundary; the
	// admin is expected to retry the command.
	ErrUnavailable = errors.New("store temporarily unavailable")
)
