package domain

// Event names. One canonical name per logical occurrence; at-least-once
// consumers can deduplicate on the envelope sequence number instead of
// listening for aliases.
const (
	EventQuizStarted        = "quiz-started"
	EventQuestionSent       = "question-sent"
	EventTimerReset         = "timer-reset"
	EventTimerTick          = "timer-tick"
	EventQuestionTimeUp     = "question-time-up" // admin channel only
	EventParticipantAnswer  = "participant-answered"
	EventParticipantRemoved = "participant-removed"
	EventQuizEnded          = "quiz-ended"
	EventQuizStopped        = "quiz-stopped"
	EventLeaderboardReady   = "leaderboard-ready"
)

// EventEnvelope wraps every published event. Seq is monotonic per session so
// subscribers can order and deduplicate deliveries.
type EventEnvelope struct {
	Seq     uint64 `json:"seq"`
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// QuestionPayload is the participant-facing view of a question. The correct
// option index is stripped before publishing.
type QuestionPayload struct {
	ID             string   `json:"id"`
	Text           string   `json:"text"`
	Options        []string `json:"options"`
	TimeLimit      int      `json:"timeLimit"` // seconds
	QuestionNumber int      `json:"questionNumber"`
	TotalQuestions int      `json:"totalQuestions"`
}

// TimerResetPayload precedes each QuestionPayload on a question transition.
type TimerResetPayload struct {
	TimeLimit int `json:"timeLimit"` // seconds
}

// TimerTickPayload is the periodic countdown signal.
type TimerTickPayload struct {
	SecondsLeft int `json:"secondsLeft"`
}

// TimeUpPayload notifies the admin that the countdown elapsed.
type TimeUpPayload struct {
	QuestionIndex int `json:"questionIndex"`
}

// AnswerProgressPayload reports submission progress for the current question.
type AnswerProgressPayload struct {
	AnsweredCount     int  `json:"answeredCount"`
	TotalParticipants int  `json:"totalParticipants"`
	AllAnswered       bool `json:"allAnswered"`
}

// StatusPayload carries the session status on lifecycle events.
type StatusPayload struct {
	Status SessionStatus `json:"status"`
}

// ParticipantRemovedPayload identifies a removed participant.
type ParticipantRemovedPayload struct {
	ParticipantID string `json:"participantId"`
}

// LeaderboardPayload carries the final ranked entries.
type LeaderboardPayload struct {
	Entries []LeaderboardEntry `json:"entries"`
}
