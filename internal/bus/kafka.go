package bus

import (
	"context"
	"fmt"

	"github.com/richardliu001/eventkernel/internal/es"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaPublisher writes envelopes keyed by aggregate id, so one aggregate's
// events land on one partition in order.
type KafkaPublisher struct {
	writer MessageWriter
}

func NewKafkaPublisher(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

// NewKafkaWriter builds the writer used by the poller.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt es.Event) error {
	env, err := NewEnvelope(evt)
	if err != nil {
		return err
	}
	value, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(env.AggregateID),
		Value: value,
		Time:  env.OccurredOn,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(env.EventType)},
			{Key: "event-id", Value: []byte(env.ID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish %s: %w", env.ID, err)
	}
	return nil
}
