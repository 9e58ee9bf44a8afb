package bus

import (
	"context"
	"sync"

	"github.com/neeru24/typing-comp/internal/competition/events"
)

// LocalBus dispatches events synchronously inside the process. The
// mutex is held across the handler calls so two publishes for the same
// competition can never interleave.
type LocalBus struct {
	mu       sync.Mutex
	handlers []Handler
	closed   bool
}

func NewLocalBus() *LocalBus {
	return &LocalBus{}
}

func (b *LocalBus) Publish(_ context.Context, ev events.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	for _, h := range b.handlers {
		h(ev)
	}
	return nil
}

func (b *LocalBus) Subscribe(h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
	return nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = nil
	return nil
}
