package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

type roundKey struct {
	competitionID uuid.UUID
	roundIndex    int
}

type graceKey struct {
	competitionID uuid.UUID
	participantID uuid.UUID
}

// timerSet owns the cancellable timers of the engine: one round-end
// deadline per running round and one removal grace timer per
// disconnected participant. Arming a key that already holds a timer
// replaces it.
type timerSet struct {
	clock clockwork.Clock

	mu     sync.Mutex
	rounds map[roundKey]clockwork.Timer
	graces map[graceKey]clockwork.Timer
}

func newTimerSet(clock clockwork.Clock) *timerSet {
	return &timerSet{
		clock:  clock,
		rounds: make(map[roundKey]clockwork.Timer),
		graces: make(map[graceKey]clockwork.Timer),
	}
}

func (t *timerSet) armRound(competitionID uuid.UUID, roundIndex int, d time.Duration, fire func()) {
	key := roundKey{competitionID, roundIndex}
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.rounds[key]; ok {
		old.Stop()
	}
	t.rounds[key] = t.clock.AfterFunc(d, func() {
		t.mu.Lock()
		delete(t.rounds, key)
		t.mu.Unlock()
		fire()
	})
}

func (t *timerSet) cancelRound(competitionID uuid.UUID, roundIndex int) {
	key := roundKey{competitionID, roundIndex}
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.rounds[key]; ok {
		timer.Stop()
		delete(t.rounds, key)
	}
}

func (t *timerSet) armGrace(competitionID, participantID uuid.UUID, d time.Duration, fire func()) {
	key := graceKey{competitionID, participantID}
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.graces[key]; ok {
		old.Stop()
	}
	t.graces[key] = t.clock.AfterFunc(d, func() {
		t.mu.Lock()
		delete(t.graces, key)
		t.mu.Unlock()
		fire()
	})
}

func (t *timerSet) cancelGrace(competitionID, participantID uuid.UUID) {
	key := graceKey{competitionID, participantID}
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.graces[key]; ok {
		timer.Stop()
		delete(t.graces, key)
	}
}
