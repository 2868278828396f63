package domain

import "time"

// SessionStatus is the lifecycle state of a quiz session.
type SessionStatus string

const (
	StatusWaiting  SessionStatus = "waiting"
	StatusActive   SessionStatus = "active"
	StatusFinished SessionStatus = "finished"
)

// NoAnswerOption is the reserved SelectedOption value recorded for
// participants who did not submit before a question closed.
const NoAnswerOption = -1

// AdvanceReason identifies which trigger asked to move to the next question.
// Carried through for observability; the advance logic does not branch on it.
type AdvanceReason string

const (
	ReasonAdminManual  AdvanceReason = "admin-manual"
	ReasonTimerExpired AdvanceReason = "timer-expired"
	ReasonAllAnswered  AdvanceReason = "all-answered"
)

// Settings controls how a session moves between questions.
type Settings struct {
	TimeBasedAutoAdvance        bool `json:"timeBasedAutoAdvance"`
	ParticipantBasedAutoAdvance bool `json:"participantBasedAutoAdvance"`
}

// Participant is a member of a session. JoinedAt fixes join order, which is
// the final leaderboard tie-break.
type Participant struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// Session is one run of a quiz. The session controller is the only writer of
// Status and CurrentIndex; everything else reads snapshots.
type Session struct {
	ID                string        `json:"id"`
	Status            SessionStatus `json:"status"`
	QuestionIDs       []string      `json:"questionIds"`
	CurrentIndex      int           `json:"currentIndex"` // -1 until started
	Participants      []Participant `json:"participants"` // append-only while waiting
	Settings          Settings      `json:"settings"`
	StartedAt         *time.Time    `json:"startedAt,omitempty"`
	EndedAt           *time.Time    `json:"endedAt,omitempty"`
	QuestionStartedAt time.Time     `json:"questionStartedAt,omitempty"`
}

// Participant reports the participant with the given id, if present.
func (s *Session) Participant(id string) (Participant, bool) {
	for _, p := range s.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}

// CurrentQuestionID returns the id of the question on display, or "" when the
// session is not active.
func (s *Session) CurrentQuestionID() string {
	if s.Status != StatusActive || s.CurrentIndex < 0 || s.CurrentIndex >= len(s.QuestionIDs) {
		return ""
	}
	return s.QuestionIDs[s.CurrentIndex]
}

// Clone returns a deep copy safe to hand out as a snapshot.
func (s *Session) Clone() Session {
	out := *s
	out.QuestionIDs = append([]string(nil), s.QuestionIDs...)
	out.Participants = append([]Participant(nil), s.Participants...)
	return out
}

// Question is an MCQ question with one correct option and a per-question
// countdown. Immutable after creation; authored outside this service.
type Question struct {
	ID               string   `json:"id"`
	Text             string   `json:"text"`
	Options          []string `json:"options"` // 2..6 entries
	CorrectOption    int      `json:"correctOption"`
	TimeLimitSeconds int      `json:"timeLimitSeconds"` // 5..60
}

// TimeLimitMs is the question's countdown in milliseconds.
func (q Question) TimeLimitMs() int {
	return q.TimeLimitSeconds * 1000
}

// Answer is the unique record for a (session, question, participant) tuple.
// Created once, by submission or by backfill, never mutated.
type Answer struct {
	SessionID      string `json:"sessionId"`
	QuestionID     string `json:"questionId"`
	ParticipantID  string `json:"participantId"`
	SelectedOption int    `json:"selectedOption"` // NoAnswerOption when backfilled
	IsCorrect      bool   `json:"isCorrect"`
	ResponseTimeMs int    `json:"responseTimeMs"`
}

// Backfilled reports whether this answer was synthesized for a non-responder.
func (a Answer) Backfilled() bool {
	return a.SelectedOption == NoAnswerOption
}

// LeaderboardEntry is a derived scoreboard row. Recomputed in full from the
// answer set; never patched incrementally.
type LeaderboardEntry struct {
	ParticipantID         string `json:"participantId"`
	DisplayName           string `json:"displayName"`
	Score                 int    `json:"score"`
	CorrectAnswers        int    `json:"correctAnswers"`
	TotalQuestions        int    `json:"totalQuestions"`
	AverageResponseTimeMs int    `json:"averageResponseTimeMs"`
}
