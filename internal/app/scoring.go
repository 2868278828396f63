package app

import (
	"math"
	"sort"

	"live-quiz-service/internal/domain"
)

const (
	baseScore     = 100
	maxSpeedBonus = 50
)

// speedBonus rewards faster correct answers, decaying linearly from
// maxSpeedBonus at instant response to zero at the question's time limit.
func speedBonus(responseTimeMs, timeLimitMs int) int {
	if timeLimitMs <= 0 {
		return 0
	}
	bonus := int(math.Round(maxSpeedBonus * (1 - float64(responseTimeMs)/float64(timeLimitMs))))
	if bonus < 0 {
		return 0
	}
	return bonus
}

// ComputeLeaderboard is a pure function of a session snapshot, its question
// list, and the full answer set. It is recomputed whole on every use; entries
// are never patched incrementally, so repeated computations over the same
// inputs are identical.
//
// Ordering: score descending, ties broken by lower average response time,
// then by join order (first joined ranks higher).
func ComputeLeaderboard(session domain.Session, questions []domain.Question, answers []domain.Answer) []domain.LeaderboardEntry {
	limits := make(map[string]int, len(questions))
	for _, q := range questions {
		limits[q.ID] = q.TimeLimitMs()
	}

	byParticipant := make(map[string][]domain.Answer, len(session.Participants))
	for _, a := range answers {
		byParticipant[a.ParticipantID] = append(byParticipant[a.ParticipantID], a)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(session.Participants))
	for _, p := range session.Participants {
		entry := domain.LeaderboardEntry{
			ParticipantID:  p.ID,
			DisplayName:    p.DisplayName,
			TotalQuestions: len(session.QuestionIDs),
		}

		totalResponseMs := 0
		for _, a := range byParticipant[p.ID] {
			totalResponseMs += a.ResponseTimeMs
			if !a.IsCorrect {
				continue
			}
			entry.CorrectAnswers++
			entry.Score += baseScore + speedBonus(a.ResponseTimeMs, limits[a.QuestionID])
		}
		if n := len(byParticipant[p.ID]); n > 0 {
			entry.AverageResponseTimeMs = totalResponseMs / n
		}
		entries = append(entries, entry)
	}

	// Entries start in join order; a stable sort keeps that as the last tie-break.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].AverageResponseTimeMs < entries[j].AverageResponseTimeMs
	})
	return entries
}
