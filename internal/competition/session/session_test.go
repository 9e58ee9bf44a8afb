package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestJoinDeduplicatesNames(t *testing.T) {
	s := New(uuid.New(), "ABC12")
	now := time.Now()

	first, reconnect, err := s.Join("alice", "c1", 200, now)
	require.NoError(t, err)
	require.False(t, reconnect)
	require.Equal(t, "alice", first.Name)

	second, _, err := s.Join("alice", "c2", 200, now)
	require.NoError(t, err)
	require.Equal(t, "alice (2)", second.Name)

	third, _, err := s.Join("alice", "c3", 200, now)
	require.NoError(t, err)
	require.Equal(t, "alice (3)", third.Name)

	require.NotEqual(t, first.ParticipantID, second.ParticipantID)
}

func TestJoinEnforcesCapacity(t *testing.T) {
	s := New(uuid.New(), "ABC12")
	now := time.Now()

	for i := 0; i < 3; i++ {
		_, _, err := s.Join(fmt.Sprintf("p%d", i), fmt.Sprintf("c%d", i), 3, now)
		require.NoError(t, err)
	}
	_, _, err := s.Join("late", "c9", 3, now)
	require.ErrorIs(t, err, ErrSessionFull)
}

func TestDisconnectThenReconnectKeepsIdentity(t *testing.T) {
	s := New(uuid.New(), "ABC12")
	now := time.Now()

	p, _, err := s.Join("bob", "c1", 200, now)
	require.NoError(t, err)
	id := p.ParticipantID

	detached := s.Detach("c1")
	require.NotNil(t, detached)
	require.True(t, detached.Reconnecting)
	require.Empty(t, detached.ConnID)

	// A join with the same name while disconnected reattaches instead of
	// creating "bob (2)".
	back, reconnect, err := s.Join("bob", "c2", 200, now)
	require.NoError(t, err)
	require.True(t, reconnect)
	require.Equal(t, id, back.ParticipantID)
	require.Equal(t, "bob", back.Name)
	require.False(t, back.Reconnecting)
	require.Equal(t, 1, s.Count())
}

func TestRemoveOnlyDropsStillReconnecting(t *testing.T) {
	s := New(uuid.New(), "ABC12")
	now := time.Now()

	p, _, _ := s.Join("carol", "c1", 200, now)
	s.Detach("c1")

	// Reconnect before the grace timer fires.
	s.Rejoin("carol", "c2")
	_, removed := s.Remove(p.ParticipantID)
	require.False(t, removed, "reconnected participant must not be removed")

	s.Detach("c2")
	gone, removed := s.Remove(p.ParticipantID)
	require.True(t, removed)
	require.Equal(t, "carol", gone.Name)
	require.Equal(t, 0, s.Count())
}

func TestResumeShiftsStartTimes(t *testing.T) {
	s := New(uuid.New(), "ABC12")
	start := time.Now()
	s.Join("dave", "c1", 200, start)
	s.BeginRound(0, 100, start)

	require.NoError(t, s.Pause(start.Add(10*time.Second)))
	require.ErrorIs(t, s.Pause(start.Add(11*time.Second)), ErrAlreadyPaused)

	pauseDur, err := s.Resume(start.Add(15 * time.Second))
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, pauseDur)
	require.Equal(t, start.Add(5*time.Second), s.RoundStartedAt())

	snap, ok := s.SnapshotFor("c1")
	require.True(t, ok)
	require.Equal(t, start.Add(5*time.Second), snap.StartedAt)

	_, err = s.Resume(start.Add(16 * time.Second))
	require.ErrorIs(t, err, ErrNotPaused)
}

func TestProgressRejectedWhilePaused(t *testing.T) {
	s := New(uuid.New(), "ABC12")
	start := time.Now()
	s.Join("erin", "c1", 200, start)
	s.BeginRound(0, 100, start)

	require.True(t, s.ApplyProgress("c1", 10, 12, 12, 1, 0, 5000))
	require.NoError(t, s.Pause(start.Add(time.Second)))
	require.False(t, s.ApplyProgress("c1", 20, 22, 22, 1, 0, 6000))
}

func TestJoinDuringRoundCompetesImmediately(t *testing.T) {
	s := New(uuid.New(), "ABC12")
	start := time.Now()
	s.Join("gail", "c1", 200, start)
	s.BeginRound(0, 100, start)

	late, reconnect, err := s.Join("hank", "c2", 200, start.Add(20*time.Second))
	require.NoError(t, err)
	require.False(t, reconnect)
	require.NotNil(t, late.Snapshot)
	require.Equal(t, start.Add(20*time.Second), late.Snapshot.StartedAt)

	require.True(t, s.ApplyProgress("c2", 10, 12, 12, 1, 0, 5000))
	require.Len(t, s.Rows(start.Add(30*time.Second)), 2)
}

func TestFinishRoundIsIdempotent(t *testing.T) {
	s := New(uuid.New(), "ABC12")
	start := time.Now()
	s.Join("fay", "c1", 200, start)
	s.BeginRound(1, 100, start)

	require.True(t, s.FinishRound(1))
	require.False(t, s.FinishRound(1), "second finish must be a no-op")
}

func TestRegistryEvictionAfterGrace(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg := NewRegistry(clock)
	id := uuid.New()

	reg.GetOrCreate(id, "ABC12")
	require.Equal(t, 1, reg.Len())

	reg.ScheduleEviction(id, 5*time.Minute)
	clock.Advance(4 * time.Minute)
	require.Equal(t, 1, reg.Len())

	clock.Advance(2 * time.Minute)
	require.Eventually(t, func() bool { return reg.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestRegistryEvictionCancelledByRejoin(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg := NewRegistry(clock)
	id := uuid.New()

	reg.GetOrCreate(id, "ABC12")
	reg.ScheduleEviction(id, time.Minute)

	// A join during the grace window keeps the session alive.
	reg.GetOrCreate(id, "ABC12")
	clock.Advance(2 * time.Minute)
	require.Equal(t, 1, reg.Len())
}
