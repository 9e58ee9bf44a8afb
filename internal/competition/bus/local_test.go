package bus

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/neeru24/typing-comp/internal/competition/events"
	"github.com/stretchr/testify/require"
)

func TestLocalBusDeliversInOrder(t *testing.T) {
	b := NewLocalBus()
	var got []events.EventType
	require.NoError(t, b.Subscribe(func(ev events.Event) {
		got = append(got, ev.Type)
	}))

	compID := uuid.New()
	for _, typ := range []events.EventType{
		events.EventTypeRoundStarted,
		events.EventTypeLeaderboardUpdate,
		events.EventTypeRoundEnded,
	} {
		ev, err := events.NewEvent(compID, typ, time.Now(), nil)
		require.NoError(t, err)
		require.NoError(t, b.Publish(context.Background(), ev))
	}

	require.Equal(t, []events.EventType{
		events.EventTypeRoundStarted,
		events.EventTypeLeaderboardUpdate,
		events.EventTypeRoundEnded,
	}, got)
}

func TestLocalBusFanOut(t *testing.T) {
	b := NewLocalBus()
	var a, c int
	require.NoError(t, b.Subscribe(func(events.Event) { a++ }))
	require.NoError(t, b.Subscribe(func(events.Event) { c++ }))

	ev, err := events.NewEvent(uuid.New(), events.EventTypeRoundStarted, time.Now(), nil)
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), ev))

	require.Equal(t, 1, a)
	require.Equal(t, 1, c)
}

func TestLocalBusClosedDropsQuietly(t *testing.T) {
	b := NewLocalBus()
	var n int
	require.NoError(t, b.Subscribe(func(events.Event) { n++ }))
	require.NoError(t, b.Close())

	ev, err := events.NewEvent(uuid.New(), events.EventTypeRoundStarted, time.Now(), nil)
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), ev))
	require.Zero(t, n)
}
