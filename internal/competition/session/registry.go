package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Registry is the process-wide map of live sessions. It is created at
// process start and injected wherever sessions are needed; entries are
// created on first join (or by recovery) and evicted a grace window
// after the competition completes.
type Registry struct {
	clock clockwork.Clock

	mu        sync.RWMutex
	sessions  map[uuid.UUID]*Session
	evictions map[uuid.UUID]clockwork.Timer
}

func NewRegistry(clock clockwork.Clock) *Registry {
	return &Registry{
		clock:     clock,
		sessions:  make(map[uuid.UUID]*Session),
		evictions: make(map[uuid.UUID]clockwork.Timer),
	}
}

func (r *Registry) Get(competitionID uuid.UUID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[competitionID]
	return s, ok
}

// GetOrCreate returns the session for a competition, creating it on
// first use. A pending eviction is cancelled: the session is live again.
func (r *Registry) GetOrCreate(competitionID uuid.UUID, code string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.evictions[competitionID]; ok {
		t.Stop()
		delete(r.evictions, competitionID)
	}
	if s, ok := r.sessions[competitionID]; ok {
		return s
	}
	s := New(competitionID, code)
	r.sessions[competitionID] = s
	return s
}

// ScheduleEviction removes the session after the grace window. Called
// when the competition completes; the durable record stays in the store.
func (r *Registry) ScheduleEviction(competitionID uuid.UUID, after time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.evictions[competitionID]; ok {
		t.Stop()
	}
	r.evictions[competitionID] = r.clock.AfterFunc(after, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.sessions, competitionID)
		delete(r.evictions, competitionID)
		log.Info().Str("competition_id", competitionID.String()).Msg("session evicted after grace window")
	})
}

// Delete removes a session immediately (tests and shutdown paths).
func (r *Registry) Delete(competitionID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.evictions[competitionID]; ok {
		t.Stop()
		delete(r.evictions, competitionID)
	}
	delete(r.sessions, competitionID)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
