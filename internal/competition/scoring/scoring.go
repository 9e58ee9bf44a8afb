// Package scoring holds the pure computation behind leaderboards: wpm
// and accuracy derivation, live standings, final round results, and
// cross-round rankings. Nothing here touches storage or the clock.
package scoring

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/neeru24/typing-comp/internal/competition/events"
	"github.com/neeru24/typing-comp/internal/models"
)

// CharsPerWord is the standard typing convention: one word is five
// characters, correct or not.
const CharsPerWord = 5.0

// WPM derives words-per-minute from correct characters over elapsed
// time. Zero or negative elapsed yields zero rather than infinity.
func WPM(correctChars int, elapsed time.Duration) int {
	minutes := elapsed.Minutes()
	if minutes <= 0 {
		return 0
	}
	return int(math.Round(float64(correctChars) / CharsPerWord / minutes))
}

// Accuracy is the percentage of typed characters that were correct,
// rounded. With nothing typed the accuracy is zero.
func Accuracy(correctChars, totalChars int) int {
	if totalChars < 1 {
		totalChars = 1
	}
	return int(math.Round(float64(correctChars) / float64(totalChars) * 100))
}

// Row is one participant's progress, as read from the session snapshot.
type Row struct {
	ParticipantID uuid.UUID
	Name          string
	CorrectChars  int
	TotalChars    int
	Errors        int
	Backspaces    int
	Elapsed       time.Duration
}

// sortStandings orders entries wpm descending, accuracy descending.
// The sort is stable so equal rows keep their insertion order.
func sortStandings(entries []events.LeaderboardEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].WPM != entries[j].WPM {
			return entries[i].WPM > entries[j].WPM
		}
		return entries[i].Accuracy > entries[j].Accuracy
	})
}

// LiveLeaderboard computes the throttled mid-round standings. Progress
// is the percentage of the round text the participant has covered.
func LiveLeaderboard(rows []Row, textLen int) []events.LeaderboardEntry {
	entries := make([]events.LeaderboardEntry, 0, len(rows))
	for _, r := range rows {
		progress := 0
		if textLen > 0 {
			progress = int(math.Round(float64(r.TotalChars) / float64(textLen) * 100))
		}
		entries = append(entries, events.LeaderboardEntry{
			Name:          r.Name,
			ParticipantID: r.ParticipantID.String(),
			WPM:           WPM(r.CorrectChars, r.Elapsed),
			Accuracy:      Accuracy(r.CorrectChars, r.TotalChars),
			CorrectChars:  r.CorrectChars,
			Progress:      progress,
		})
	}
	sortStandings(entries)
	return entries
}

// RoundResults finalizes a round: elapsed time is clamped to the round
// duration so nothing typed after the deadline inflates wpm, and ranks
// are assigned from the sorted order.
func RoundResults(rows []Row, duration time.Duration) []models.RoundResult {
	results := make([]models.RoundResult, 0, len(rows))
	for _, r := range rows {
		elapsed := r.Elapsed
		if elapsed > duration {
			elapsed = duration
		}
		results = append(results, models.RoundResult{
			ParticipantID:   r.ParticipantID,
			ParticipantName: r.Name,
			WPM:             WPM(r.CorrectChars, elapsed),
			Accuracy:        Accuracy(r.CorrectChars, r.TotalChars),
			CorrectChars:    r.CorrectChars,
			TotalChars:      r.TotalChars,
			Errors:          r.Errors,
			Backspaces:      r.Backspaces,
			TypingTime:      int(math.Round(elapsed.Seconds())),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].WPM != results[j].WPM {
			return results[i].WPM > results[j].WPM
		}
		return results[i].Accuracy > results[j].Accuracy
	})
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}

// RoundScore is one finished round's contribution to a participant's
// final aggregate.
type RoundScore struct {
	Round    int
	WPM      int
	Accuracy int
	Rank     int
}

// ParticipantAggregate collects a participant's completed rounds.
type ParticipantAggregate struct {
	ParticipantID uuid.UUID
	Name          string
	Scores        []RoundScore
}

// FinalRankings averages each participant's wpm and accuracy over the
// rounds they actually completed (a participant finishing 2 of 3 rounds
// divides by 2), then ranks by average wpm descending with average
// accuracy as the tie-break.
func FinalRankings(parts []ParticipantAggregate) []models.FinalRanking {
	rankings := make([]models.FinalRanking, 0, len(parts))
	for _, p := range parts {
		var wpmSum, accSum int
		for _, s := range p.Scores {
			wpmSum += s.WPM
			accSum += s.Accuracy
		}
		avgWPM, avgAcc := 0, 0
		if n := len(p.Scores); n > 0 {
			avgWPM = int(math.Round(float64(wpmSum) / float64(n)))
			avgAcc = int(math.Round(float64(accSum) / float64(n)))
		}
		rankings = append(rankings, models.FinalRanking{
			ParticipantID:   p.ParticipantID,
			ParticipantName: p.Name,
			AverageWPM:      avgWPM,
			AverageAccuracy: avgAcc,
			RoundsCompleted: len(p.Scores),
		})
	}

	sort.SliceStable(rankings, func(i, j int) bool {
		if rankings[i].AverageWPM != rankings[j].AverageWPM {
			return rankings[i].AverageWPM > rankings[j].AverageWPM
		}
		return rankings[i].AverageAccuracy > rankings[j].AverageAccuracy
	})
	for i := range rankings {
		rankings[i].Rank = i + 1
	}
	return rankings
}
