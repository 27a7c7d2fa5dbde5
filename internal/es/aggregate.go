package es

import "fmt"

// Aggregate is a consistency boundary whose state is derived from its events.
type Aggregate interface {
	AggregateID() string
	AggregateType() string
	// Version is the version of the last persisted event, -1 when none.
	Version() int64
	Changes() []Event
	ClearChanges()
	LoadFromHistory(events []Event) error
	// MarkCommitted advances the version past the buffered events and
	// empties the buffer. Stores call it once the events are durable.
	MarkCommitted()
}

// Transition mutates aggregate state for one event. It must not have side
// effects beyond the aggregate itself.
type Transition func(Event) error

// Factory builds an empty aggregate ready for replay.
type Factory func(id string) Aggregate

// Base implements the bookkeeping half of Aggregate. Embed it and pass the
// aggregate's own transition function to NewBase.
type Base struct {
	id            string
	aggregateType string
	version       int64
	changes       []Event
	transition    Transition
}

// NewBase returns a Base in the "new" state (version -1, empty buffer).
func NewBase(id, aggregateType string, transition Transition) Base {
	return Base{
		id:            id,
		aggregateType: aggregateType,
		version:       -1,
		transition:    transition,
	}
}

func (b *Base) AggregateID() string   { return b.id }
func (b *Base) AggregateType() string { return b.aggregateType }
func (b *Base) Version() int64        { return b.version }

// ApplyChange runs the transition and buffers e. A failed transition leaves
// both state and buffer untouched.
func (b *Base) ApplyChange(e Event) error {
	if b.transition == nil {
		return fmt.Errorf("%s %s: no transition function", b.aggregateType, b.id)
	}
	if err := b.transition(e); err != nil {
		return err
	}
	b.changes = append(b.changes, e)
	return nil
}

// LoadFromHistory replays persisted events in ascending version order.
// Replay never buffers.
func (b *Base) LoadFromHistory(events []Event) error {
	if b.transition == nil {
		return fmt.Errorf("%s %s: no transition function", b.aggregateType, b.id)
	}
	for _, e := range events {
		if err := b.transition(e); err != nil {
			return fmt.Errorf("replay %s at version %d: %w", e.EventType(), b.version+1, err)
		}
		b.version++
	}
	return nil
}

// Changes returns a copy of the uncommitted events.
func (b *Base) Changes() []Event {
	if len(b.changes) == 0 {
		return nil
	}
	out := make([]Event, len(b.changes))
	copy(out, b.changes)
	return out
}

// ClearChanges drops the buffer without touching the version.
func (b *Base) ClearChanges() { b.changes = nil }

func (b *Base) MarkCommitted() {
	b.version += int64(len(b.changes))
	b.changes = nil
}

// HasChanges reports whether the aggregate is dirty.
func (b *Base) HasChanges() bool { return len(b.changes) > 0 }
