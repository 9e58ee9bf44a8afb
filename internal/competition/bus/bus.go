// Package bus carries competition events from the engine to whoever
// fans them out (the websocket gateway in a single process, JetStream
// between processes). Delivery order per competition follows publish
// order.
package bus

import (
	"context"

	"github.com/neeru24/typing-comp/internal/competition/events"
)

// Handler receives published events. Handlers must not block; slow
// consumers stall the whole bus.
type Handler func(ev events.Event)

type Bus interface {
	Publish(ctx context.Context, ev events.Event) error
	Subscribe(h Handler) error
	Close() error
}
