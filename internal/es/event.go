package es

import (
	"time"

	"github.com/google/uuid"
)

// Event is an immutable fact recorded against an aggregate.
type Event interface {
	// EventType is the registry tag persisted next to the payload.
	EventType() string
	EventID() string
	AggregateID() string
	OccurredAt() time.Time
}

// Meta carries the identity fields every event shares. Embed it in concrete
// event structs so they satisfy most of Event.
type Meta struct {
	ID         string    `json:"id"`
	Aggregate  string    `json:"aggregate_id"`
	OccurredOn time.Time `json:"occurred_on"`
}

// NewMeta stamps a fresh event id and the current UTC time.
func NewMeta(aggregateID string) Meta {
	return Meta{
		ID:         uuid.NewString(),
		Aggregate:  aggregateID,
		OccurredOn: time.Now().UTC(),
	}
}

func (m Meta) EventID() string       { return m.ID }
func (m Meta) AggregateID() string   { return m.Aggregate }
func (m Meta) OccurredAt() time.Time { return m.OccurredOn }
