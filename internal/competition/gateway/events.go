package gateway

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/neeru24/typing-comp/internal/competition/bus"
	"github.com/neeru24/typing-comp/internal/competition/events"
	"github.com/rs/zerolog/log"
)

// AttachBus routes every bus event into the room of its competition.
// The event envelope goes to the client as-is.
func AttachBus(b bus.Bus, cm *ConnectionManager) error {
	return b.Subscribe(func(ev events.Event) {
		competitionID, err := uuid.Parse(ev.CompetitionID)
		if err != nil {
			log.Error().Err(err).Str("competition_id", ev.CompetitionID).Msg("event with bad competition id")
			return
		}
		data, err := json.Marshal(ev)
		if err != nil {
			log.Error().Err(err).Str("event_type", string(ev.Type)).Msg("failed to marshal event")
			return
		}
		cm.Broadcast(competitionID, data)
	})
}
