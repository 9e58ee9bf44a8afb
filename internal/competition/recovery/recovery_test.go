package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/neeru24/typing-comp/internal/competition/session"
	"github.com/neeru24/typing-comp/internal/models"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	comps []*models.Competition
}

func (f *fakeLister) ListOngoing(ctx context.Context) ([]*models.Competition, error) {
	return f.comps, nil
}

type fakeEnder struct {
	ended []int
	armed map[int]time.Duration
}

func newFakeEnder() *fakeEnder {
	return &fakeEnder{armed: make(map[int]time.Duration)}
}

func (f *fakeEnder) EndRound(ctx context.Context, competitionID uuid.UUID, roundIndex int) error {
	f.ended = append(f.ended, roundIndex)
	return nil
}

func (f *fakeEnder) ArmRoundDeadline(competitionID uuid.UUID, roundIndex int, after time.Duration) {
	f.armed[roundIndex] = after
}

func ongoingCompetition(clock clockwork.Clock, startedAgo time.Duration, durationSec int) *models.Competition {
	started := clock.Now().Add(-startedAgo)
	return &models.Competition{
		ID:           uuid.New(),
		Code:         "XY9Z8",
		Status:       models.CompetitionStatusOngoing,
		CurrentRound: 0,
		Rounds: []models.Round{{
			Number:    1,
			Text:      "recovery never loses a finished keystroke",
			Duration:  durationSec,
			Status:    models.RoundStatusRunning,
			StartedAt: &started,
		}},
		Participants: []models.Participant{
			{ParticipantID: uuid.New(), Name: "alice", JoinedAt: started},
			{ParticipantID: uuid.New(), Name: "bob", JoinedAt: started},
		},
	}
}

func TestRecoveryRehydratesRoster(t *testing.T) {
	clock := clockwork.NewFakeClock()
	comp := ongoingCompetition(clock, 10*time.Second, 60)
	reg := session.NewRegistry(clock)
	ender := newFakeEnder()

	m := NewManager(&fakeLister{comps: []*models.Competition{comp}}, reg, ender, clock)
	require.NoError(t, m.Run(context.Background()))

	sess, ok := reg.Get(comp.ID)
	require.True(t, ok)
	require.Equal(t, 2, sess.Count())

	// Every restored participant is awaiting reconnect; a same-name join
	// must reattach instead of duplicating.
	p, reconnected, err := sess.Join("alice", "c1", 200, clock.Now())
	require.NoError(t, err)
	require.True(t, reconnected)
	require.Equal(t, comp.Participants[0].ParticipantID, p.ParticipantID)
}

func TestRecoveryRearmsRemainingTime(t *testing.T) {
	clock := clockwork.NewFakeClock()
	comp := ongoingCompetition(clock, 20*time.Second, 60)
	reg := session.NewRegistry(clock)
	ender := newFakeEnder()

	m := NewManager(&fakeLister{comps: []*models.Competition{comp}}, reg, ender, clock)
	require.NoError(t, m.Run(context.Background()))

	require.Empty(t, ender.ended)
	require.Equal(t, 40*time.Second, ender.armed[0])

	sess, _ := reg.Get(comp.ID)
	idx, active, paused := sess.RoundState()
	require.Equal(t, 0, idx)
	require.True(t, active)
	require.False(t, paused)
}

func TestRecoveryEndsOverdueRound(t *testing.T) {
	clock := clockwork.NewFakeClock()
	// Started 90 seconds ago with a 60 second duration: overdue.
	comp := ongoingCompetition(clock, 90*time.Second, 60)
	reg := session.NewRegistry(clock)
	ender := newFakeEnder()

	m := NewManager(&fakeLister{comps: []*models.Competition{comp}}, reg, ender, clock)
	require.NoError(t, m.Run(context.Background()))

	require.Equal(t, []int{0}, ender.ended)
	require.Empty(t, ender.armed)
}

func TestRecoveryIgnoresIdleCompetition(t *testing.T) {
	clock := clockwork.NewFakeClock()
	comp := ongoingCompetition(clock, 0, 60)
	comp.CurrentRound = -1
	comp.Rounds[0].StartedAt = nil
	comp.Rounds[0].Status = models.RoundStatusPending
	reg := session.NewRegistry(clock)
	ender := newFakeEnder()

	m := NewManager(&fakeLister{comps: []*models.Competition{comp}}, reg, ender, clock)
	require.NoError(t, m.Run(context.Background()))

	require.Empty(t, ender.ended)
	require.Empty(t, ender.armed)

	sess, ok := reg.Get(comp.ID)
	require.True(t, ok)
	_, active, _ := sess.RoundState()
	require.False(t, active)
}
