// Package session holds the live, in-memory state of a competition:
// who is connected, the round in flight, pause state, and the transient
// progress snapshots that back the leaderboard. The durable record in
// the store is the source of truth across restarts; a Session only
// exists while the competition is live on this process.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/neeru24/typing-comp/internal/competition/scoring"
)

var (
	ErrSessionFull   = errors.New("competition is full")
	ErrAlreadyPaused = errors.New("round already paused")
	ErrNotPaused     = errors.New("round is not paused")
)

// Snapshot is a participant's transient progress for the round in
// flight. It is reset when a round starts and discarded when it ends.
type Snapshot struct {
	CorrectChars int
	TotalChars   int
	Cursor       int
	ElapsedMS    int64
	Errors       int
	Backspaces   int
	StartedAt    time.Time // wall clock when the round began for this participant
}

// Participant is a live competitor. ConnID is empty while disconnected;
// ParticipantID is assigned on first join and survives reconnects.
type Participant struct {
	ParticipantID uuid.UUID
	Name          string
	ConnID        string
	Reconnecting  bool
	JoinedAt      time.Time
	Snapshot      *Snapshot
	Scores        []scoring.RoundScore
}

// Session is the in-memory mirror of one live competition. All fields
// are guarded by mu; mutation goes through the exported methods.
type Session struct {
	CompetitionID uuid.UUID
	Code          string

	mu           sync.Mutex
	participants map[uuid.UUID]*Participant
	byConn       map[string]uuid.UUID
	byName       map[string]uuid.UUID

	currentRound   int
	roundActive    bool
	roundTextLen   int
	roundStartedAt time.Time
	paused         bool
	pausedAt       time.Time

	lastLeaderboard time.Time
}

func New(competitionID uuid.UUID, code string) *Session {
	return &Session{
		CompetitionID: competitionID,
		Code:          code,
		participants:  make(map[uuid.UUID]*Participant),
		byConn:        make(map[string]uuid.UUID),
		byName:        make(map[string]uuid.UUID),
		currentRound:  -1,
	}
}

// Join registers a connection under the requested name. A name already
// present with no live connection is treated as a reconnect and the
// participant keeps its identifier and scores; otherwise the name is
// deduplicated with a " (n)" suffix and a fresh participant is created.
// The second return value reports whether this was a reconnect.
func (s *Session) Join(name, connID string, max int, now time.Time) (*Participant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byName[name]; ok {
		p := s.participants[id]
		if p.ConnID == "" || p.Reconnecting {
			s.attachLocked(p, connID)
			return p, true, nil
		}
	}

	if len(s.participants) >= max {
		return nil, false, ErrSessionFull
	}

	final := name
	for n := 2; ; n++ {
		if _, taken := s.byName[final]; !taken {
			break
		}
		final = fmt.Sprintf("%s (%d)", name, n)
	}

	p := &Participant{
		ParticipantID: uuid.New(),
		Name:          final,
		JoinedAt:      now,
	}
	// A joiner during a running round competes from now; without a
	// snapshot their progress reports would be silently dropped.
	if s.roundActive {
		p.Snapshot = &Snapshot{StartedAt: now}
	}
	s.participants[p.ParticipantID] = p
	s.byName[final] = p.ParticipantID
	s.attachLocked(p, connID)
	return p, false, nil
}

// Rejoin reattaches an explicit rejoin request to the existing
// participant of that name. It returns nil when the name is unknown.
func (s *Session) Rejoin(name, connID string) *Participant {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byName[name]
	if !ok {
		return nil
	}
	p := s.participants[id]
	s.attachLocked(p, connID)
	return p
}

func (s *Session) attachLocked(p *Participant, connID string) {
	if p.ConnID != "" {
		delete(s.byConn, p.ConnID)
	}
	p.ConnID = connID
	p.Reconnecting = false
	if connID != "" {
		s.byConn[connID] = p.ParticipantID
	}
}

// Detach marks the participant behind connID as reconnecting and
// detaches the connection handle. The caller arms the removal grace
// timer. Returns nil if the connection is unknown.
func (s *Session) Detach(connID string) *Participant {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byConn[connID]
	if !ok {
		return nil
	}
	delete(s.byConn, connID)
	p := s.participants[id]
	p.ConnID = ""
	p.Reconnecting = true
	return p
}

// Remove drops a participant for good (grace expired). It is a no-op
// when the participant reconnected in the meantime.
func (s *Session) Remove(participantID uuid.UUID) (*Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[participantID]
	if !ok || !p.Reconnecting {
		return nil, false
	}
	delete(s.participants, participantID)
	delete(s.byName, p.Name)
	if p.ConnID != "" {
		delete(s.byConn, p.ConnID)
	}
	return p, true
}

func (s *Session) Participant(connID string) *Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byConn[connID]; ok {
		return s.participants[id]
	}
	return nil
}

func (s *Session) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.participants)
}

// MarkAllReconnecting is used by recovery: every persisted participant
// is rehydrated with no live connection.
func (s *Session) MarkAllReconnecting() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.participants {
		p.ConnID = ""
		p.Reconnecting = true
	}
}

// Restore inserts a participant rehydrated from the store.
func (s *Session) Restore(id uuid.UUID, name string, joinedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &Participant{ParticipantID: id, Name: name, JoinedAt: joinedAt, Reconnecting: true}
	s.participants[id] = p
	s.byName[name] = id
}

// BeginRound flips the session into a running round and resets every
// participant's snapshot to zero with the given start time.
func (s *Session) BeginRound(roundIndex, textLen int, startedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentRound = roundIndex
	s.roundActive = true
	s.roundTextLen = textLen
	s.roundStartedAt = startedAt
	s.paused = false
	s.lastLeaderboard = time.Time{}
	for _, p := range s.participants {
		p.Snapshot = &Snapshot{StartedAt: startedAt}
	}
}

// FinishRound flips the round out of running and clears snapshots,
// returning false if no round was active (idempotence guard).
func (s *Session) FinishRound(roundIndex int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.roundActive || s.currentRound != roundIndex {
		return false
	}
	s.roundActive = false
	s.paused = false
	for _, p := range s.participants {
		p.Snapshot = nil
	}
	return true
}

// RestoreRound rehydrates round state after a crash without touching
// participant snapshots (recovery creates them fresh).
func (s *Session) RestoreRound(roundIndex, textLen int, startedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentRound = roundIndex
	s.roundActive = true
	s.roundTextLen = textLen
	s.roundStartedAt = startedAt
	for _, p := range s.participants {
		p.Snapshot = &Snapshot{StartedAt: startedAt}
	}
}

func (s *Session) RoundState() (roundIndex int, active bool, paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentRound, s.roundActive, s.paused
}

func (s *Session) RoundTextLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roundTextLen
}

func (s *Session) RoundStartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roundStartedAt
}

// Pause stamps the pause. Progress is rejected while paused; the engine
// cancels the round-end timer alongside.
func (s *Session) Pause(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.roundActive {
		return ErrNotPaused
	}
	if s.paused {
		return ErrAlreadyPaused
	}
	s.paused = true
	s.pausedAt = now
	return nil
}

// Resume lifts the pause and shifts the round start (and every
// snapshot's start) forward by the pause span so elapsed-time math
// stays consistent. It returns the pause duration.
func (s *Session) Resume(now time.Time) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.paused {
		return 0, ErrNotPaused
	}
	pauseDur := now.Sub(s.pausedAt)
	s.paused = false
	s.roundStartedAt = s.roundStartedAt.Add(pauseDur)
	for _, p := range s.participants {
		if p.Snapshot != nil {
			p.Snapshot.StartedAt = p.Snapshot.StartedAt.Add(pauseDur)
		}
	}
	return pauseDur, nil
}

// SnapshotFor returns a copy of the snapshot backing connID, or false
// when the connection maps to no participant or no round is running.
func (s *Session) SnapshotFor(connID string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byConn[connID]
	if !ok {
		return Snapshot{}, false
	}
	p := s.participants[id]
	if !s.roundActive || s.paused || p.Snapshot == nil {
		return Snapshot{}, false
	}
	return *p.Snapshot, true
}

// ApplyProgress overwrites the snapshot behind connID with validated
// figures. Validation happens in the engine before this call.
func (s *Session) ApplyProgress(connID string, correct, total, cursor, errCount, backspaces int, elapsedMS int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byConn[connID]
	if !ok {
		return false
	}
	p := s.participants[id]
	if !s.roundActive || s.paused || p.Snapshot == nil {
		return false
	}
	p.Snapshot.CorrectChars = correct
	p.Snapshot.TotalChars = total
	p.Snapshot.Cursor = cursor
	p.Snapshot.Errors = errCount
	p.Snapshot.Backspaces = backspaces
	p.Snapshot.ElapsedMS = elapsedMS
	return true
}

// Rows flattens the live snapshots for the leaderboard engine. Elapsed
// is the server's own measurement from the per-participant start.
func (s *Session) Rows(now time.Time) []scoring.Row {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([]scoring.Row, 0, len(s.participants))
	for _, p := range s.participants {
		if p.Snapshot == nil {
			continue
		}
		rows = append(rows, scoring.Row{
			ParticipantID: p.ParticipantID,
			Name:          p.Name,
			CorrectChars:  p.Snapshot.CorrectChars,
			TotalChars:    p.Snapshot.TotalChars,
			Errors:        p.Snapshot.Errors,
			Backspaces:    p.Snapshot.Backspaces,
			Elapsed:       now.Sub(p.Snapshot.StartedAt),
		})
	}
	return rows
}

// RecordScores stores each participant's finalized round score for the
// final-rankings aggregate.
func (s *Session) RecordScores(roundNumber int, byParticipant map[uuid.UUID]scoring.RoundScore) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, score := range byParticipant {
		if p, ok := s.participants[id]; ok {
			score.Round = roundNumber
			p.Scores = append(p.Scores, score)
		}
	}
}

// Aggregates returns every participant's completed-round scores.
func (s *Session) Aggregates() []scoring.ParticipantAggregate {
	s.mu.Lock()
	defer s.mu.Unlock()

	parts := make([]scoring.ParticipantAggregate, 0, len(s.participants))
	for _, p := range s.participants {
		parts = append(parts, scoring.ParticipantAggregate{
			ParticipantID: p.ParticipantID,
			Name:          p.Name,
			Scores:        append([]scoring.RoundScore(nil), p.Scores...),
		})
	}
	return parts
}

// ShouldBroadcast implements the leaderboard throttle: it returns true
// and records the broadcast at most once per interval.
func (s *Session) ShouldBroadcast(now time.Time, interval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lastLeaderboard.IsZero() && now.Sub(s.lastLeaderboard) < interval {
		return false
	}
	s.lastLeaderboard = now
	return true
}
