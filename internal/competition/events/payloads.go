package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType identifies an outbound competition event.
type EventType string

const (
	EventTypeParticipantJoined EventType = "participantJoined"
	EventTypeParticipantLeft   EventType = "participantLeft"
	EventTypeRoundStarted      EventType = "roundStarted"
	EventTypeRoundEnded        EventType = "roundEnded"
	EventTypeRoundPaused       EventType = "roundPaused"
	EventTypeRoundResumed      EventType = "roundResumed"
	EventTypeLeaderboardUpdate EventType = "leaderboardUpdate"
	EventTypeFinalResults      EventType = "finalResults"
)

// Event is the envelope carried on the bus and delivered to websocket
// clients. Payload holds the event-specific body.
type Event struct {
	ID            string          `json:"id"`
	CompetitionID string          `json:"competition_id"`
	Type          EventType       `json:"type"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEvent builds an envelope, marshalling the payload. A marshal
// failure here is a programming error and surfaces as the error.
func NewEvent(compID uuid.UUID, typ EventType, now time.Time, payload any) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:            uuid.New().String(),
		CompetitionID: compID.String(),
		Type:          typ,
		Timestamp:     now,
		Payload:       body,
	}, nil
}

// ParticipantJoinedPayload announces a new (or renamed) participant.
type ParticipantJoinedPayload struct {
	Name              string `json:"name"`
	ParticipantID     string `json:"participant_id"`
	TotalParticipants int    `json:"total_participants"`
}

type ParticipantLeftPayload struct {
	Name              string `json:"name"`
	ParticipantID     string `json:"participant_id"`
	TotalParticipants int    `json:"total_participants"`
}

type RoundStartedPayload struct {
	RoundIndex int       `json:"round_index"`
	Text       string    `json:"text"`
	Duration   int       `json:"duration"` // seconds
	StartTime  time.Time `json:"start_time"`
}

// LeaderboardEntry is one row of a live or final leaderboard, ordered
// by wpm descending with accuracy as the tie-break.
type LeaderboardEntry struct {
	Name          string `json:"name"`
	ParticipantID string `json:"participant_id"`
	WPM           int    `json:"wpm"`
	Accuracy      int    `json:"accuracy"`
	CorrectChars  int    `json:"correct_chars"`
	Progress      int    `json:"progress"` // percent of round text reached
	Rank          int    `json:"rank,omitempty"`
}

type LeaderboardUpdatePayload struct {
	RoundIndex  int                `json:"round_index"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

type RoundEndedPayload struct {
	RoundIndex  int                `json:"round_index"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

type RoundPausedPayload struct {
	RoundIndex int       `json:"round_index"`
	PausedAt   time.Time `json:"paused_at"`
}

type RoundResumedPayload struct {
	RoundIndex    int       `json:"round_index"`
	ResumedAt     time.Time `json:"resumed_at"`
	PauseDuration int       `json:"pause_duration"` // seconds
}

// FinalRankingEntry carries the full per-participant aggregate; the
// persisted record is the trimmed subset (name, id, rounds completed).
type FinalRankingEntry struct {
	ParticipantID   string `json:"participant_id"`
	ParticipantName string `json:"participant_name"`
	AverageWPM      int    `json:"average_wpm"`
	AverageAccuracy int    `json:"average_accuracy"`
	RoundsCompleted int    `json:"rounds_completed"`
	Rank            int    `json:"rank"`
}

type FinalResultsPayload struct {
	Rankings []FinalRankingEntry `json:"rankings"`
}
