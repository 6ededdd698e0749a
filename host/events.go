package host

import (
	"fmt"
)

// EventSink receives the events of all registered services. event is the
// qualified name "namespace/name", id the session id passed to Send.
type EventSink interface {
	Publish(event, id string, data any) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(event, id string, data any) error

func (f EventSinkFunc) Publish(event, id string, data any) error {
	return f(event, id, data)
}

// attachEvents registers one receiver per event that forwards to the sink.
// Without a sink no receiver is attached and Send stays a no-op.
func (h *Host) attachEvents() {
	if h.sink == nil {
		return
	}
	for _, ns := range h.order {
		for name, ev := range h.namespaces[ns].Events() {
			qualified := ns + "/" + name
			ev.Receive(func(id string, data any) {
				if err := h.publish(qualified, id, data); err != nil {
					h.logger.Warn().Err(err).Str("event", qualified).Str("session", id).Msg("event dropped")
				}
			})
		}
	}
}

func (h *Host) publish(event, id string, data any) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("host: event sink panic: %v", p)
		}
	}()
	return h.sink.Publish(event, id, data)
}
