package bus

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/eventkernel/internal/es"
)

// RedisPublisher fans envelopes out over Redis pub/sub, one channel per
// event type. Redis pub/sub does not buffer for absent subscribers; the
// outbox still guarantees the attempt, not the consumption.
type RedisPublisher struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisPublisher(rdb *redis.Client, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = "events"
	}
	return &RedisPublisher{rdb: rdb, prefix: prefix}
}

// Channel returns the channel an event type is published on.
func (p *RedisPublisher) Channel(eventType string) string {
	return p.prefix + ":" + eventType
}

func (p *RedisPublisher) Publish(ctx context.Context, evt es.Event) error {
	env, err := NewEnvelope(evt)
	if err != nil {
		return err
	}
	data, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.Channel(env.EventType), string(data)).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", env.ID, err)
	}
	return nil
}
