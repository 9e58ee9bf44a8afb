package models

import (
	"time"

	"github.com/google/uuid"
)

type CompetitionStatus string

const (
	CompetitionStatusPending   CompetitionStatus = "pending"
	CompetitionStatusOngoing   CompetitionStatus = "ongoing"
	CompetitionStatusCompleted CompetitionStatus = "completed"
)

type RoundStatus string

const (
	RoundStatusPending RoundStatus = "pending"
	RoundStatusRunning RoundStatus = "running"
	RoundStatusEnded   RoundStatus = "ended"
)

// Competition is the durable record. The live in-memory counterpart is
// session.Session; the two are reconciled by the recovery manager after
// a restart.
type Competition struct {
	ID            uuid.UUID         `json:"id"`
	Name          string            `json:"name"`
	Code          string            `json:"code"`
	Description   string            `json:"description"`
	Organizer     string            `json:"organizer"`
	Status        CompetitionStatus `json:"status"`
	Rounds        []Round           `json:"rounds"`
	Participants  []Participant     `json:"participants"`
	CurrentRound  int               `json:"current_round"` // -1 before the first round starts
	FinalRankings []FinalRanking    `json:"final_rankings"`
	StartedAt     *time.Time        `json:"started_at,omitempty"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// ActiveRound returns the round at CurrentRound, or nil when no round
// has been started yet.
func (c *Competition) ActiveRound() *Round {
	if c.CurrentRound < 0 || c.CurrentRound >= len(c.Rounds) {
		return nil
	}
	return &c.Rounds[c.CurrentRound]
}

// Round is one timed typing exercise. Text and duration are immutable
// once the competition is created.
type Round struct {
	Number    int           `json:"number"` // 1-based sequence position
	Text      string        `json:"text"`
	Duration  int           `json:"duration"` // seconds
	Status    RoundStatus   `json:"status"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
	Results   []RoundResult `json:"results"`
}

// InProgress reports whether the round has started but not ended.
func (r *Round) InProgress() bool {
	return r.StartedAt != nil && r.EndedAt == nil
}

type Participant struct {
	ParticipantID uuid.UUID `json:"participant_id"`
	Name          string    `json:"name"`
	JoinedAt      time.Time `json:"joined_at"`
}

// RoundResult is a participant's finalized score for one round. WPM and
// accuracy are derived server-side from the progress snapshot, never
// taken from the client verbatim.
type RoundResult struct {
	ParticipantID   uuid.UUID `json:"participant_id"`
	ParticipantName string    `json:"participant_name"`
	WPM             int       `json:"wpm"`
	Accuracy        int       `json:"accuracy"` // 0-100
	CorrectChars    int       `json:"correct_chars"`
	TotalChars      int       `json:"total_chars"`
	Errors          int       `json:"errors"`
	Backspaces      int       `json:"backspaces"`
	TypingTime      int       `json:"typing_time"` // seconds, clamped to round duration
	Rank            int       `json:"rank"`
}

type FinalRanking struct {
	ParticipantID   uuid.UUID `json:"participant_id"`
	ParticipantName string    `json:"participant_name"`
	AverageWPM      int       `json:"average_wpm"`
	AverageAccuracy int       `json:"average_accuracy"`
	RoundsCompleted int       `json:"rounds_completed"`
	Rank            int       `json:"rank"`
}
