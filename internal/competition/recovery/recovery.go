// Package recovery rebuilds in-memory sessions from the store after a
// restart. Every ongoing competition is rehydrated with its persisted
// roster marked reconnecting; a round that was in flight either gets
// its deadline re-armed with the remaining time or, if the deadline
// passed while the process was down, is finalized immediately.
package recovery

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/neeru24/typing-comp/internal/competition/session"
	"github.com/neeru24/typing-comp/internal/models"
	"github.com/rs/zerolog/log"
)

// Lister is the slice of the store recovery reads from.
type Lister interface {
	ListOngoing(ctx context.Context) ([]*models.Competition, error)
}

// Ender is the slice of the engine recovery drives: finalizing overdue
// rounds and re-arming deadlines for rounds still in flight.
type Ender interface {
	EndRound(ctx context.Context, competitionID uuid.UUID, roundIndex int) error
	ArmRoundDeadline(competitionID uuid.UUID, roundIndex int, after time.Duration)
}

type Manager struct {
	store    Lister
	registry *session.Registry
	engine   Ender
	clock    clockwork.Clock
}

func NewManager(store Lister, registry *session.Registry, engine Ender, clock clockwork.Clock) *Manager {
	return &Manager{store: store, registry: registry, engine: engine, clock: clock}
}

// Run performs one recovery sweep. Called once at startup, before the
// gateway starts accepting connections.
func (m *Manager) Run(ctx context.Context) error {
	comps, err := m.store.ListOngoing(ctx)
	if err != nil {
		return fmt.Errorf("list ongoing competitions: %w", err)
	}

	for _, comp := range comps {
		m.recover(ctx, comp)
	}
	log.Info().Int("competitions", len(comps)).Msg("recovery sweep complete")
	return nil
}

func (m *Manager) recover(ctx context.Context, comp *models.Competition) {
	sess := m.registry.GetOrCreate(comp.ID, comp.Code)
	for _, p := range comp.Participants {
		sess.Restore(p.ParticipantID, p.Name, p.JoinedAt)
	}
	sess.MarkAllReconnecting()

	log.Info().
		Str("competition_id", comp.ID.String()).
		Str("code", comp.Code).
		Int("participants", len(comp.Participants)).
		Msg("session rehydrated")

	round := comp.ActiveRound()
	if round == nil || !round.InProgress() {
		return
	}

	idx := comp.CurrentRound
	startedAt := *round.StartedAt
	sess.RestoreRound(idx, utf8.RuneCountInString(round.Text), startedAt)

	deadline := startedAt.Add(time.Duration(round.Duration) * time.Second)
	now := m.clock.Now()
	if !deadline.After(now) {
		// The deadline passed while the process was down. Finalize with
		// whatever results were persisted; live snapshots are gone.
		log.Warn().
			Str("competition_id", comp.ID.String()).
			Int("round", idx).
			Time("deadline", deadline).
			Msg("recovered round already overdue, ending now")
		if err := m.engine.EndRound(ctx, comp.ID, idx); err != nil {
			log.Error().Err(err).
				Str("competition_id", comp.ID.String()).
				Int("round", idx).
				Msg("failed to end overdue round")
		}
		return
	}

	remaining := deadline.Sub(now)
	m.engine.ArmRoundDeadline(comp.ID, idx, remaining)
	log.Info().
		Str("competition_id", comp.ID.String()).
		Int("round", idx).
		Dur("remaining", remaining).
		Msg("round deadline re-armed")
}
