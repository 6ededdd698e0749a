package service

import (
	"sync"

	"github.com/mnehpets/servicebox/schema"
)

// Receiver is the delivery callback of an event.
type Receiver func(id string, data any)

// Event is a single-slot push channel. Exactly one receiver is registered at
// a time; hosts attach one aggregate receiver and address the data to the
// session id themselves.
type Event struct {
	schema schema.Schema

	mu       sync.RWMutex
	receiver Receiver
}

func NewEvent(s schema.Schema) *Event {
	return &Event{schema: s}
}

// Schema is the schema event data is expected to satisfy. It is published in
// the host metadata and not enforced by Send.
func (e *Event) Schema() schema.Schema {
	return e.schema
}

// Receive registers fn, replacing any previous receiver. A nil fn detaches
// the receiver.
func (e *Event) Receive(fn Receiver) {
	e.mu.Lock()
	e.receiver = fn
	e.mu.Unlock()
}

// Send delivers data for session id to the current receiver. It is a no-op
// when no receiver is registered. There is no buffering and no retry.
func (e *Event) Send(id string, data any) {
	e.mu.RLock()
	fn := e.receiver
	e.mu.RUnlock()
	if fn != nil {
		fn(id, data)
	}
}

func (*Event) member() {}
