package scoring

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestWPM(t *testing.T) {
	tests := []struct {
		name    string
		correct int
		elapsed time.Duration
		want    int
	}{
		{name: "one word per second", correct: 300, elapsed: time.Minute, want: 60},
		{name: "zero elapsed", correct: 50, elapsed: 0, want: 0},
		{name: "half minute", correct: 100, elapsed: 30 * time.Second, want: 40},
		{name: "rounds nearest", correct: 13, elapsed: time.Minute, want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WPM(tt.correct, tt.elapsed); got != tt.want {
				t.Fatalf("WPM(%d, %v) = %d, want %d", tt.correct, tt.elapsed, got, tt.want)
			}
		})
	}
}

func TestAccuracy(t *testing.T) {
	tests := []struct {
		name           string
		correct, total int
		want           int
	}{
		{name: "perfect", correct: 40, total: 40, want: 100},
		{name: "three quarters", correct: 30, total: 40, want: 75},
		{name: "nothing typed", correct: 0, total: 0, want: 0},
		{name: "rounds", correct: 2, total: 3, want: 67},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Accuracy(tt.correct, tt.total); got != tt.want {
				t.Fatalf("Accuracy(%d, %d) = %d, want %d", tt.correct, tt.total, got, tt.want)
			}
		})
	}
}

func TestLiveLeaderboardOrdering(t *testing.T) {
	rows := []Row{
		{ParticipantID: uuid.New(), Name: "slow", CorrectChars: 50, TotalChars: 60, Elapsed: time.Minute},
		{ParticipantID: uuid.New(), Name: "fast", CorrectChars: 300, TotalChars: 300, Elapsed: time.Minute},
		{ParticipantID: uuid.New(), Name: "sloppy", CorrectChars: 300, TotalChars: 400, Elapsed: time.Minute},
	}

	entries := LiveLeaderboard(rows, 400)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	// Total order: wpm descending, ties broken by accuracy descending.
	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1], entries[i]
		if prev.WPM < cur.WPM {
			t.Fatalf("leaderboard not sorted by wpm: %v before %v", prev, cur)
		}
		if prev.WPM == cur.WPM && prev.Accuracy < cur.Accuracy {
			t.Fatalf("accuracy tie-break violated: %v before %v", prev, cur)
		}
	}

	if entries[0].Name != "fast" || entries[1].Name != "sloppy" {
		t.Fatalf("unexpected order: %s, %s, %s", entries[0].Name, entries[1].Name, entries[2].Name)
	}
	if entries[1].Progress != 100 {
		t.Fatalf("sloppy covered the whole text, progress = %d", entries[1].Progress)
	}
}

func TestRoundResultsClampsElapsed(t *testing.T) {
	id := uuid.New()
	// 300 correct chars reported with 120s elapsed on a 60s round: the
	// clamp keeps wpm at 60 instead of letting late typing halve it.
	rows := []Row{{ParticipantID: id, Name: "late", CorrectChars: 300, TotalChars: 300, Elapsed: 2 * time.Minute}}

	results := RoundResults(rows, time.Minute)
	if results[0].WPM != 60 {
		t.Fatalf("clamped wpm = %d, want 60", results[0].WPM)
	}
	if results[0].TypingTime != 60 {
		t.Fatalf("typing time = %d, want 60", results[0].TypingTime)
	}
	if results[0].Rank != 1 {
		t.Fatalf("rank = %d, want 1", results[0].Rank)
	}
}

func TestFinalRankingsAveragesCompletedRoundsOnly(t *testing.T) {
	a := uuid.New()
	b := uuid.New()
	parts := []ParticipantAggregate{
		{ParticipantID: a, Name: "partial", Scores: []RoundScore{
			{Round: 1, WPM: 40, Accuracy: 90},
			{Round: 2, WPM: 60, Accuracy: 92},
		}},
		{ParticipantID: b, Name: "full", Scores: []RoundScore{
			{Round: 1, WPM: 45, Accuracy: 95},
			{Round: 2, WPM: 45, Accuracy: 95},
			{Round: 3, WPM: 45, Accuracy: 95},
		}},
	}

	rankings := FinalRankings(parts)

	// 2 of 3 rounds with {40, 60} averages 50, not 33.
	if rankings[0].ParticipantName != "partial" || rankings[0].AverageWPM != 50 {
		t.Fatalf("expected partial first with avg 50, got %+v", rankings[0])
	}
	if rankings[0].RoundsCompleted != 2 {
		t.Fatalf("rounds completed = %d, want 2", rankings[0].RoundsCompleted)
	}
	if rankings[1].Rank != 2 {
		t.Fatalf("second entry rank = %d, want 2", rankings[1].Rank)
	}
}

func TestFinalRankingsTieBreak(t *testing.T) {
	parts := []ParticipantAggregate{
		{ParticipantID: uuid.New(), Name: "lowacc", Scores: []RoundScore{{WPM: 50, Accuracy: 80}}},
		{ParticipantID: uuid.New(), Name: "highacc", Scores: []RoundScore{{WPM: 50, Accuracy: 99}}},
	}

	rankings := FinalRankings(parts)
	if rankings[0].ParticipantName != "highacc" {
		t.Fatalf("accuracy tie-break not applied: %+v", rankings)
	}
}
