// Package bus carries committed events out of the store: to in-process
// subscribers right after commit, and to the cross-service broker through
// the outbox relay.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/richardliu001/eventkernel/internal/es"
)

// Publisher publishes a single event.
type Publisher interface {
	Publish(ctx context.Context, evt es.Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, evt es.Event) error

func (f PublisherFunc) Publish(ctx context.Context, evt es.Event) error { return f(ctx, evt) }

// Envelope is the wire format shared by the broker adapters.
type Envelope struct {
	ID          string          `json:"id"`
	EventType   string          `json:"event_type"`
	AggregateID string          `json:"aggregate_id"`
	OccurredOn  time.Time       `json:"occurred_on"`
	Payload     json.RawMessage `json:"payload"`
}

// NewEnvelope wraps evt with its routing metadata.
func NewEnvelope(evt es.Event) (Envelope, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", evt.EventType(), err)
	}
	return Envelope{
		ID:          evt.EventID(),
		EventType:   evt.EventType(),
		AggregateID: evt.AggregateID(),
		OccurredOn:  evt.OccurredAt().UTC(),
		Payload:     payload,
	}, nil
}

func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
