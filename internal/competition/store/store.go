// Package store is the durable side of a competition: a Postgres
// repository of competitions, rounds, participants, results and
// organizer tokens. The engine treats it through the Store interface;
// the single conditional update (StartRound) is the cross-process
// arbiter for round-start races.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/neeru24/typing-comp/internal/models"
)

var (
	// ErrNotFound means no competition (or token) matched.
	ErrNotFound = errors.New("not found")

	// ErrConflict means a conditional update lost its race: the round
	// was already started, or the token already consumed. Expected
	// during normal operation, never a server fault.
	ErrConflict = errors.New("conditional update conflict")
)

// Store is the persistence gateway contract the engine and recovery
// manager program against.
type Store interface {
	CreateCompetition(ctx context.Context, comp *models.Competition) error
	GetByCode(ctx context.Context, code string) (*models.Competition, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Competition, error)
	ListOngoing(ctx context.Context) ([]*models.Competition, error)

	InsertParticipant(ctx context.Context, competitionID uuid.UUID, p models.Participant) error

	// StartRound conditionally marks the round started. It returns
	// ErrConflict when the round already has a start time — the loser
	// of a concurrent start gets no side effects.
	StartRound(ctx context.Context, competitionID uuid.UUID, roundIndex int, startedAt time.Time) error

	// FinishRound persists results and the end time. Idempotent: a
	// round already ended reports ErrConflict and writes nothing.
	FinishRound(ctx context.Context, competitionID uuid.UUID, roundIndex int, endedAt time.Time, results []models.RoundResult) error

	// ShiftRoundStart moves started_at forward by the pause duration so
	// durable elapsed-time math matches the shifted in-memory clock.
	ShiftRoundStart(ctx context.Context, competitionID uuid.UUID, roundIndex int, delta time.Duration) error

	CompleteCompetition(ctx context.Context, competitionID uuid.UUID, completedAt time.Time, rankings []models.FinalRanking) error

	IssueOrganizerToken(ctx context.Context, token string, competitionID uuid.UUID, expiresAt time.Time) error

	// ConsumeOrganizerToken atomically flips used=false to used=true and
	// returns the bound competition. A reused or unknown token reports
	// ErrConflict / ErrNotFound.
	ConsumeOrganizerToken(ctx context.Context, token string, now time.Time) (uuid.UUID, error)
}
