// Package eventbus provides the in-process event bus connecting the payment
// module to its consumers (order module, notifications). Handlers run
// asynchronously; consumers are expected to be idempotent on the event id.
package eventbus

import (
	"sync"

	"payment-ledger/internal/core/domain"

	"github.com/rs/zerolog"
)

// Handler consumes one published event.
type Handler func(evt domain.Event)

// Bus is an in-memory publish/subscribe bus keyed by event type.
type Bus struct {
	mu       sync.RWMutex
	handlers map[domain.EventType][]Handler
	wg       sync.WaitGroup
	log      zerolog.Logger
}

// New creates an empty bus.
func New(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[domain.EventType][]Handler),
		log:      log,
	}
}

// Subscribe registers a handler for one event type.
// Not safe to call concurrently with Publish during startup wiring only by
// convention; registration normally happens before the server starts.
func (b *Bus) Subscribe(eventType domain.EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// Publish fans the event out to all registered handlers, each on its own
// goroutine. Publishing never blocks the caller and never returns a handler
// error; a panicking handler is recovered and logged.
func (b *Bus) Publish(evt domain.Event) error {
	b.mu.RLock()
	handlers := b.handlers[evt.Type]
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.log.Debug().Str("event", string(evt.Type)).Msg("no subscribers for event")
		return nil
	}

	for _, h := range handlers {
		b.wg.Add(1)
		go func(h Handler) {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.log.Error().
						Interface("panic", r).
						Str("event", string(evt.Type)).
						Str("event_id", evt.ID.String()).
						Msg("event handler panicked")
				}
			}()
			h(evt)
		}(h)
	}
	return nil
}

// Wait blocks until all in-flight handlers finish. Used on shutdown and in
// tests.
func (b *Bus) Wait() {
	b.wg.Wait()
}
