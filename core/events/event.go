package events

import "willvault/core/types"

// Event represents a structured state change emitted by the engine.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events. It
// is the default wiring for components that expose events optionally.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// MemoryEmitter retains every emitted event in order. It backs the RPC event
// feed and deterministic tests.
type MemoryEmitter struct {
	events []*types.Event
}

// NewMemoryEmitter returns an emitter that records events in memory.
func NewMemoryEmitter() *MemoryEmitter {
	return &MemoryEmitter{}
}

// Emit implements the Emitter interface.
func (m *MemoryEmitter) Emit(evt Event) {
	if m == nil || evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}
	m.events = append(m.events, payload)
}

// Events returns a copy of the recorded event log.
func (m *MemoryEmitter) Events() []*types.Event {
	if m == nil {
		return nil
	}
	out := make([]*types.Event, len(m.events))
	copy(out, m.events)
	return out
}
