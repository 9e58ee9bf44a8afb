// Package engine is the coordinator's core: it owns the round state
// machine, validates and applies progress reports, derives leaderboards
// and final rankings, and drives the store and the event bus. The
// gateway translates websocket frames into engine calls; the engine
// never sees a connection beyond its opaque id.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/neeru24/typing-comp/internal/competition/bus"
	"github.com/neeru24/typing-comp/internal/competition/events"
	"github.com/neeru24/typing-comp/internal/competition/scoring"
	"github.com/neeru24/typing-comp/internal/competition/session"
	"github.com/neeru24/typing-comp/internal/competition/store"
	"github.com/neeru24/typing-comp/internal/models"
	"github.com/rs/zerolog/log"
)

// persistTimeout bounds the background writes that follow state
// transitions. The in-memory transition has already happened; a slow
// store must not stall the live competition.
const persistTimeout = 5 * time.Second

type Config struct {
	MaxParticipants     int
	RejectImplausible   bool
	ReconnectGrace      time.Duration
	SessionEvictDelay   time.Duration
	LeaderboardInterval time.Duration
}

type Engine struct {
	store    store.Store
	registry *session.Registry
	bus      bus.Bus
	clock    clockwork.Clock
	timers   *timerSet
	cfg      Config
}

func New(st store.Store, registry *session.Registry, b bus.Bus, clock clockwork.Clock, cfg Config) *Engine {
	return &Engine{
		store:    st,
		registry: registry,
		bus:      b,
		clock:    clock,
		timers:   newTimerSet(clock),
		cfg:      cfg,
	}
}

// JoinResult carries everything a joining client needs to render the
// current state, including mid-round catch-up data on reconnect.
type JoinResult struct {
	Competition *models.Competition
	Participant session.Participant
	Reconnected bool

	RoundActive    bool
	RoundIndex     int
	RoundText      string
	RoundDuration  int
	RoundStartedAt time.Time
	Snapshot       *session.Snapshot
}

// Join admits a connection into the competition behind code. A name
// already present but disconnected reattaches to its old identity; a
// fresh name creates a participant, persists it, and announces it.
func (e *Engine) Join(ctx context.Context, code, name, connID string) (*JoinResult, error) {
	comp, err := e.store.GetByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrCompetitionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load competition: %w", err)
	}
	if comp.Status == models.CompetitionStatusCompleted {
		return nil, ErrCompetitionCompleted
	}

	sess := e.registry.GetOrCreate(comp.ID, comp.Code)
	now := e.clock.Now()
	p, reconnected, err := sess.Join(name, connID, e.cfg.MaxParticipants, now)
	if err != nil {
		return nil, err
	}

	if reconnected {
		e.timers.cancelGrace(comp.ID, p.ParticipantID)
		log.Info().
			Str("competition_id", comp.ID.String()).
			Str("participant", p.Name).
			Msg("participant reconnected")
	} else {
		persisted := models.Participant{ParticipantID: p.ParticipantID, Name: p.Name, JoinedAt: now}
		go func() {
			pctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			defer cancel()
			if err := e.store.InsertParticipant(pctx, comp.ID, persisted); err != nil {
				log.Error().Err(err).
					Str("competition_id", comp.ID.String()).
					Str("participant", persisted.Name).
					Msg("failed to persist participant")
			}
		}()
		e.publish(comp.ID, events.EventTypeParticipantJoined, events.ParticipantJoinedPayload{
			Name:              p.Name,
			ParticipantID:     p.ParticipantID.String(),
			TotalParticipants: sess.Count(),
		})
	}

	return e.joinResult(comp, sess, *p, reconnected, connID), nil
}

// Rejoin reattaches an explicit reconnect request without going through
// name deduplication. The name must already exist in the session.
func (e *Engine) Rejoin(ctx context.Context, code, name, connID string) (*JoinResult, error) {
	comp, err := e.store.GetByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrCompetitionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load competition: %w", err)
	}

	sess, ok := e.registry.Get(comp.ID)
	if !ok {
		return nil, ErrUnknownParticipant
	}
	p := sess.Rejoin(name, connID)
	if p == nil {
		return nil, ErrUnknownParticipant
	}
	e.timers.cancelGrace(comp.ID, p.ParticipantID)

	return e.joinResult(comp, sess, *p, true, connID), nil
}

func (e *Engine) joinResult(comp *models.Competition, sess *session.Session, p session.Participant, reconnected bool, connID string) *JoinResult {
	res := &JoinResult{
		Competition: comp,
		Participant: p,
		Reconnected: reconnected,
	}
	idx, active, _ := sess.RoundState()
	if active && idx >= 0 && idx < len(comp.Rounds) {
		res.RoundActive = true
		res.RoundIndex = idx
		res.RoundText = comp.Rounds[idx].Text
		res.RoundDuration = comp.Rounds[idx].Duration
		res.RoundStartedAt = sess.RoundStartedAt()
		if snap, ok := sess.SnapshotFor(connID); ok {
			res.Snapshot = &snap
		}
	}
	return res
}

// OrganizerAttach burns a one-time organizer token and returns the
// competition it controls.
func (e *Engine) OrganizerAttach(ctx context.Context, token string) (*models.Competition, error) {
	compID, err := e.store.ConsumeOrganizerToken(ctx, token, e.clock.Now())
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrInvalidToken
	case errors.Is(err, store.ErrConflict):
		log.Warn().Str("token", token).Msg("organizer token reuse attempt")
		return nil, ErrTokenUsed
	case err != nil:
		return nil, fmt.Errorf("consume organizer token: %w", err)
	}

	comp, err := e.store.GetByID(ctx, compID)
	if err != nil {
		return nil, fmt.Errorf("load competition: %w", err)
	}
	return comp, nil
}

// Disconnect detaches a connection and arms the removal grace timer.
// The participant survives until the timer fires; a reconnect inside
// the window cancels it.
func (e *Engine) Disconnect(competitionID uuid.UUID, connID string) {
	sess, ok := e.registry.Get(competitionID)
	if !ok {
		return
	}
	p := sess.Detach(connID)
	if p == nil {
		return
	}
	participantID := p.ParticipantID
	log.Info().
		Str("competition_id", competitionID.String()).
		Str("participant", p.Name).
		Dur("grace", e.cfg.ReconnectGrace).
		Msg("participant disconnected, grace timer armed")

	e.timers.armGrace(competitionID, participantID, e.cfg.ReconnectGrace, func() {
		gone, removed := sess.Remove(participantID)
		if !removed {
			return
		}
		e.publish(competitionID, events.EventTypeParticipantLeft, events.ParticipantLeftPayload{
			Name:              gone.Name,
			ParticipantID:     gone.ParticipantID.String(),
			TotalParticipants: sess.Count(),
		})
	})
}

// StartRound transitions a pending round to running. The store's
// conditional update arbitrates concurrent starts; only the winner arms
// the deadline timer and broadcasts.
func (e *Engine) StartRound(ctx context.Context, competitionID uuid.UUID, roundIndex int, organizer bool) error {
	if !organizer {
		return ErrUnauthorized
	}

	comp, err := e.store.GetByID(ctx, competitionID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrCompetitionNotFound
	}
	if err != nil {
		return fmt.Errorf("load competition: %w", err)
	}
	if roundIndex < 0 || roundIndex >= len(comp.Rounds) {
		return ErrInvalidRound
	}
	if comp.Rounds[roundIndex].StartedAt != nil {
		return ErrRoundAlreadyStarted
	}

	sess, ok := e.registry.Get(competitionID)
	if !ok || sess.Count() == 0 {
		return ErrNoParticipants
	}
	// Only one round may be in flight. Starting the next one while the
	// previous still runs would orphan its deadline timer and leave it
	// without results.
	if _, active, _ := sess.RoundState(); active {
		return ErrRoundInProgress
	}

	now := e.clock.Now()
	err = e.store.StartRound(ctx, competitionID, roundIndex, now)
	if errors.Is(err, store.ErrConflict) {
		return ErrRoundAlreadyStarted
	}
	if err != nil {
		return fmt.Errorf("start round: %w", err)
	}

	round := comp.Rounds[roundIndex]
	sess.BeginRound(roundIndex, utf8.RuneCountInString(round.Text), now)
	e.ArmRoundDeadline(competitionID, roundIndex, time.Duration(round.Duration)*time.Second)

	log.Info().
		Str("competition_id", competitionID.String()).
		Int("round", roundIndex).
		Int("duration_sec", round.Duration).
		Msg("round started")

	e.publish(competitionID, events.EventTypeRoundStarted, events.RoundStartedPayload{
		RoundIndex: roundIndex,
		Text:       round.Text,
		Duration:   round.Duration,
		StartTime:  now,
	})
	return nil
}

// EndRound finalizes a running round: freeze standings, persist
// results, record per-participant scores, broadcast, and when this was
// the last round, complete the competition. Safe to call twice; the
// session's finish guard makes the second call a no-op.
func (e *Engine) EndRound(ctx context.Context, competitionID uuid.UUID, roundIndex int) error {
	sess, ok := e.registry.Get(competitionID)
	if !ok {
		return ErrCompetitionNotFound
	}

	comp, err := e.store.GetByID(ctx, competitionID)
	if err != nil {
		return fmt.Errorf("load competition: %w", err)
	}
	if roundIndex < 0 || roundIndex >= len(comp.Rounds) {
		return ErrInvalidRound
	}

	now := e.clock.Now()
	rows := sess.Rows(now)
	if !sess.FinishRound(roundIndex) {
		return nil
	}
	e.timers.cancelRound(competitionID, roundIndex)

	duration := time.Duration(comp.Rounds[roundIndex].Duration) * time.Second
	results := scoring.RoundResults(rows, duration)

	if err := e.store.FinishRound(ctx, competitionID, roundIndex, now, results); err != nil {
		if errors.Is(err, store.ErrConflict) {
			log.Debug().
				Str("competition_id", competitionID.String()).
				Int("round", roundIndex).
				Msg("round already persisted as ended")
		} else {
			log.Error().Err(err).
				Str("competition_id", competitionID.String()).
				Int("round", roundIndex).
				Msg("failed to persist round results")
		}
	}

	scores := make(map[uuid.UUID]scoring.RoundScore, len(results))
	for _, r := range results {
		scores[r.ParticipantID] = scoring.RoundScore{WPM: r.WPM, Accuracy: r.Accuracy, Rank: r.Rank}
	}
	sess.RecordScores(comp.Rounds[roundIndex].Number, scores)

	log.Info().
		Str("competition_id", competitionID.String()).
		Int("round", roundIndex).
		Int("results", len(results)).
		Msg("round ended")

	e.publish(competitionID, events.EventTypeRoundEnded, events.RoundEndedPayload{
		RoundIndex:  roundIndex,
		Leaderboard: resultEntries(results),
	})

	if roundIndex == len(comp.Rounds)-1 {
		e.finalize(ctx, competitionID, sess)
	}
	return nil
}

func (e *Engine) finalize(ctx context.Context, competitionID uuid.UUID, sess *session.Session) {
	rankings := scoring.FinalRankings(sess.Aggregates())
	now := e.clock.Now()

	if err := e.store.CompleteCompetition(ctx, competitionID, now, rankings); err != nil {
		if errors.Is(err, store.ErrConflict) {
			log.Debug().Str("competition_id", competitionID.String()).Msg("competition already completed")
		} else {
			log.Error().Err(err).
				Str("competition_id", competitionID.String()).
				Msg("failed to persist final rankings")
		}
	}

	entries := make([]events.FinalRankingEntry, 0, len(rankings))
	for _, r := range rankings {
		entries = append(entries, events.FinalRankingEntry{
			ParticipantID:   r.ParticipantID.String(),
			ParticipantName: r.ParticipantName,
			AverageWPM:      r.AverageWPM,
			AverageAccuracy: r.AverageAccuracy,
			RoundsCompleted: r.RoundsCompleted,
			Rank:            r.Rank,
		})
	}
	e.publish(competitionID, events.EventTypeFinalResults, events.FinalResultsPayload{Rankings: entries})

	e.registry.ScheduleEviction(competitionID, e.cfg.SessionEvictDelay)
	log.Info().Str("competition_id", competitionID.String()).Msg("competition completed")
}

// PauseRound freezes the running round: the deadline timer is cancelled
// and progress reports are rejected until resume.
func (e *Engine) PauseRound(ctx context.Context, competitionID uuid.UUID, roundIndex int, organizer bool) error {
	if !organizer {
		return ErrUnauthorized
	}
	sess, ok := e.registry.Get(competitionID)
	if !ok {
		return ErrCompetitionNotFound
	}
	idx, active, _ := sess.RoundState()
	if !active || idx != roundIndex {
		return ErrRoundNotActive
	}

	now := e.clock.Now()
	if err := sess.Pause(now); err != nil {
		if errors.Is(err, session.ErrNotPaused) {
			return ErrRoundNotActive
		}
		return err
	}
	e.timers.cancelRound(competitionID, roundIndex)

	log.Info().
		Str("competition_id", competitionID.String()).
		Int("round", roundIndex).
		Msg("round paused")

	e.publish(competitionID, events.EventTypeRoundPaused, events.RoundPausedPayload{
		RoundIndex: roundIndex,
		PausedAt:   now,
	})
	return nil
}

// ResumeRound lifts a pause: elapsed time excludes the paused span, the
// durable start time shifts forward to match, and the deadline timer is
// re-armed with exactly the time that remained.
func (e *Engine) ResumeRound(ctx context.Context, competitionID uuid.UUID, roundIndex int, organizer bool) error {
	if !organizer {
		return ErrUnauthorized
	}
	sess, ok := e.registry.Get(competitionID)
	if !ok {
		return ErrCompetitionNotFound
	}
	idx, active, _ := sess.RoundState()
	if !active || idx != roundIndex {
		return ErrRoundNotActive
	}

	comp, err := e.store.GetByID(ctx, competitionID)
	if err != nil {
		return fmt.Errorf("load competition: %w", err)
	}
	if roundIndex < 0 || roundIndex >= len(comp.Rounds) {
		return ErrInvalidRound
	}

	now := e.clock.Now()
	pauseDur, err := sess.Resume(now)
	if err != nil {
		return err
	}

	go func() {
		pctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := e.store.ShiftRoundStart(pctx, competitionID, roundIndex, pauseDur); err != nil {
			log.Error().Err(err).
				Str("competition_id", competitionID.String()).
				Int("round", roundIndex).
				Msg("failed to shift persisted round start")
		}
	}()

	duration := time.Duration(comp.Rounds[roundIndex].Duration) * time.Second
	remaining := sess.RoundStartedAt().Add(duration).Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	e.ArmRoundDeadline(competitionID, roundIndex, remaining)

	log.Info().
		Str("competition_id", competitionID.String()).
		Int("round", roundIndex).
		Dur("pause_duration", pauseDur).
		Dur("remaining", remaining).
		Msg("round resumed")

	e.publish(competitionID, events.EventTypeRoundResumed, events.RoundResumedPayload{
		RoundIndex:    roundIndex,
		ResumedAt:     now,
		PauseDuration: int(pauseDur.Seconds()),
	})
	return nil
}

// Progress validates and applies one progress report. Reports that fail
// hard bounds are dropped without a reply; implausible but in-bounds
// reports are logged and, depending on policy, dropped. A successful
// apply may trigger a throttled leaderboard broadcast.
func (e *Engine) Progress(ctx context.Context, competitionID uuid.UUID, connID string, report scoring.Report) {
	sess, ok := e.registry.Get(competitionID)
	if !ok {
		return
	}
	idx, active, paused := sess.RoundState()
	if !active || paused {
		return
	}

	now := e.clock.Now()
	serverElapsed := now.Sub(sess.RoundStartedAt())
	if err := scoring.CheckBounds(report, sess.RoundTextLen(), serverElapsed); err != nil {
		log.Warn().Err(err).
			Str("competition_id", competitionID.String()).
			Str("conn_id", connID).
			Msg("progress report dropped")
		return
	}

	if flags := scoring.PlausibilityFlags(report); len(flags) > 0 {
		log.Warn().
			Str("competition_id", competitionID.String()).
			Str("conn_id", connID).
			Strs("flags", flags).
			Msg("implausible progress report")
		if e.cfg.RejectImplausible {
			return
		}
	}

	if !sess.ApplyProgress(connID, report.CorrectChars, report.TotalChars, report.Cursor,
		report.Errors, report.Backspaces, report.ElapsedMS) {
		return
	}

	if sess.ShouldBroadcast(now, e.cfg.LeaderboardInterval) {
		e.publish(competitionID, events.EventTypeLeaderboardUpdate, events.LeaderboardUpdatePayload{
			RoundIndex:  idx,
			Leaderboard: scoring.LiveLeaderboard(sess.Rows(now), sess.RoundTextLen()),
		})
	}
}

// ArmRoundDeadline schedules the automatic round end. Arming the same
// round again replaces the previous timer, which is how resume and
// recovery re-establish a deadline.
func (e *Engine) ArmRoundDeadline(competitionID uuid.UUID, roundIndex int, after time.Duration) {
	e.timers.armRound(competitionID, roundIndex, after, func() {
		if err := e.EndRound(context.Background(), competitionID, roundIndex); err != nil {
			log.Error().Err(err).
				Str("competition_id", competitionID.String()).
				Int("round", roundIndex).
				Msg("deadline round end failed")
		}
	})
}

func (e *Engine) publish(competitionID uuid.UUID, typ events.EventType, payload any) {
	ev, err := events.NewEvent(competitionID, typ, e.clock.Now(), payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(typ)).Msg("failed to build event")
		return
	}
	if err := e.bus.Publish(context.Background(), ev); err != nil {
		log.Error().Err(err).
			Str("competition_id", competitionID.String()).
			Str("event_type", string(typ)).
			Msg("failed to publish event")
	}
}

func resultEntries(results []models.RoundResult) []events.LeaderboardEntry {
	entries := make([]events.LeaderboardEntry, 0, len(results))
	for _, r := range results {
		entries = append(entries, events.LeaderboardEntry{
			Name:          r.ParticipantName,
			ParticipantID: r.ParticipantID.String(),
			WPM:           r.WPM,
			Accuracy:      r.Accuracy,
			CorrectChars:  r.CorrectChars,
			Rank:          r.Rank,
		})
	}
	return entries
}
