package eventsourcing

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/amp-labs/amp-fsm/automate"
	"github.com/amp-labs/amp-fsm/message"
)

// ErrUnknownEventType is returned by EventRegistry.Decode for a type that was
// never registered.
var ErrUnknownEventType = errors.New("unknown event type")

// UnmarshalFunc decodes data into v, which is always a pointer.
type UnmarshalFunc func(data []byte, v any) error

type decoder func(data []byte, unmarshal UnmarshalFunc) (message.Event, error)

// EventRegistry maps event type names to concrete Go types so serialized
// logs can be turned back into events.
type EventRegistry struct {
	mutex    sync.RWMutex
	decoders map[automate.EventType]decoder
}

// NewEventRegistry returns an empty registry.
func NewEventRegistry() *EventRegistry {
	return &EventRegistry{decoders: make(map[automate.EventType]decoder)}
}

// RegisterEvent binds eventType to T. Decoded events are T values.
func RegisterEvent[T message.Event](r *EventRegistry, eventType automate.EventType) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.decoders[eventType] = func(data []byte, unmarshal UnmarshalFunc) (message.Event, error) {
		var ev T

		if err := unmarshal(data, &ev); err != nil {
			return nil, err
		}

		return ev, nil
	}
}

// Decode turns data into the event registered for eventType.
func (r *EventRegistry) Decode(eventType automate.EventType, data []byte, unmarshal UnmarshalFunc) (message.Event, error) {
	r.mutex.RLock()
	dec, ok := r.decoders[eventType]
	r.mutex.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}

	ev, err := dec(data, unmarshal)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", eventType, err)
	}

	return ev, nil
}

// Has reports whether eventType is registered.
func (r *EventRegistry) Has(eventType automate.EventType) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	_, ok := r.decoders[eventType]

	return ok
}

// Types returns the registered event types, sorted.
func (r *EventRegistry) Types() []automate.EventType {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	out := make([]automate.EventType, 0, len(r.decoders))
	for t := range r.decoders {
		out = append(out, t)
	}

	slices.Sort(out)

	return out
}
