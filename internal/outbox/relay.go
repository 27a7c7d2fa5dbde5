// Package outbox relays staged outbox messages to the cross-service bus.
//
// Delivery is at-least-once. Nothing coordinates several relays polling the
// same table, and a crash between publish and MarkProcessed republishes the
// message, so consumers must deduplicate on the event id.
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/richardliu001/eventkernel/internal/bus"
	"github.com/richardliu001/eventkernel/internal/es"
	"github.com/richardliu001/eventkernel/internal/model"
	"go.uber.org/zap"
)

// Store is the persistence the relay needs. *repo.OutboxRepository
// implements it.
type Store interface {
	Pending(ctx context.Context, limit, maxRetries int) ([]model.OutboxMessage, error)
	MarkProcessed(ctx context.Context, id uint64, at time.Time) error
	MarkFailed(ctx context.Context, id uint64, reason string) error
}

type Config struct {
	BatchSize int
	Interval  time.Duration
	// MaxRetries parks a message after that many failures. Zero retries forever.
	MaxRetries int
}

// DefaultConfig matches the poller defaults.
func DefaultConfig() Config {
	return Config{BatchSize: 100, Interval: time.Second}
}

// Result summarises one batch.
type Result struct {
	Processed int
	Failed    int
	// Remaining counts messages left untouched because ctx was cancelled.
	Remaining int
}

type Relay struct {
	store     Store
	registry  *es.Registry
	publisher bus.Publisher
	cfg       Config
	clock     func() time.Time
	log       *zap.SugaredLogger
}

func NewRelay(store Store, registry *es.Registry, publisher bus.Publisher, cfg Config, log *zap.SugaredLogger) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Relay{
		store:     store,
		registry:  registry,
		publisher: publisher,
		cfg:       cfg,
		clock:     time.Now,
		log:       log,
	}
}

// ProcessBatch publishes one batch of pending messages, oldest first. Each
// message is marked on its own, so a failure never holds back its siblings
// and a cancelled ctx only leaves a suffix of the batch pending.
func (r *Relay) ProcessBatch(ctx context.Context) (Result, error) {
	var res Result
	msgs, err := r.store.Pending(ctx, r.cfg.BatchSize, r.cfg.MaxRetries)
	if err != nil {
		return res, fmt.Errorf("poll outbox: %w", err)
	}

	for i, msg := range msgs {
		if err := ctx.Err(); err != nil {
			res.Remaining = len(msgs) - i
			return res, err
		}

		if err := r.relay(ctx, msg); err != nil {
			if ctx.Err() != nil {
				res.Remaining = len(msgs) - i
				return res, ctx.Err()
			}
			res.Failed++
			r.log.Warnw("outbox publish failed",
				"id", msg.ID, "type", msg.MessageType, "retry", msg.RetryCount+1, "error", err)
			if markErr := r.store.MarkFailed(ctx, msg.ID, err.Error()); markErr != nil {
				r.log.Errorw("outbox mark failed", "id", msg.ID, "error", markErr)
			}
			continue
		}

		// the publish went out, so record it even if ctx was cancelled meanwhile
		if err := r.store.MarkProcessed(context.WithoutCancel(ctx), msg.ID, r.clock().UTC()); err != nil {
			// published but still pending: it will go out again next cycle
			res.Failed++
			r.log.Errorw("outbox mark processed", "id", msg.ID, "error", err)
			continue
		}
		res.Processed++
	}
	return res, nil
}

func (r *Relay) relay(ctx context.Context, msg model.OutboxMessage) error {
	evt, err := r.registry.Decode(msg.MessageType, []byte(msg.Payload))
	if err != nil {
		return err
	}
	return r.publisher.Publish(ctx, evt)
}
