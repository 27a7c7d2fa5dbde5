package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/richardliu001/eventkernel/internal/bus"
	"github.com/richardliu001/eventkernel/internal/es"
	"github.com/richardliu001/eventkernel/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// EventStore appends and replays aggregate histories. Every save writes the
// event records and their outbox messages in one transaction.
type EventStore struct {
	db         *gorm.DB
	registry   *es.Registry
	outbox     *OutboxRepository
	dispatcher *bus.Dispatcher
	log        *zap.SugaredLogger
	now        func() time.Time
}

// NewEventStore wires a store. dispatcher may be nil when no in-process
// subscribers exist.
func NewEventStore(db *gorm.DB, registry *es.Registry, dispatcher *bus.Dispatcher, log *zap.SugaredLogger) *EventStore {
	if dispatcher == nil {
		dispatcher = bus.NewDispatcher(nil)
	}
	return &EventStore{
		db:         db,
		registry:   registry,
		outbox:     NewOutboxRepository(db),
		dispatcher: dispatcher,
		log:        log,
		now:        time.Now,
	}
}

// DB returns the underlying *gorm.DB bound to ctx.
func (s *EventStore) DB(ctx context.Context) *gorm.DB { return s.db.WithContext(ctx) }

// Outbox exposes the outbox repository sharing this store's connection.
func (s *EventStore) Outbox() *OutboxRepository { return s.outbox }

func (s *EventStore) Save(ctx context.Context, agg es.Aggregate) error {
	return s.SaveAll(ctx, agg)
}

// SaveAll commits the pending events of every aggregate atomically. Clean
// aggregates are skipped. A concurrent writer that already took one of the
// versions makes the whole save fail with es.ErrConflict.
func (s *EventStore) SaveAll(ctx context.Context, aggs ...es.Aggregate) error {
	var (
		dirty   []es.Aggregate
		records []model.EventRecord
		msgs    []model.OutboxMessage
	)
	staged := s.now().UTC()
	for _, agg := range aggs {
		changes := agg.Changes()
		if len(changes) == 0 {
			continue
		}
		dirty = append(dirty, agg)
		for i, evt := range changes {
			if evt.AggregateID() != agg.AggregateID() {
				return fmt.Errorf("event %s belongs to %q, not %q", evt.EventID(), evt.AggregateID(), agg.AggregateID())
			}
			payload, err := s.registry.Encode(evt)
			if err != nil {
				return err
			}
			records = append(records, model.EventRecord{
				AggregateID:   agg.AggregateID(),
				Version:       agg.Version() + 1 + int64(i),
				AggregateType: agg.AggregateType(),
				EventID:       evt.EventID(),
				EventType:     evt.EventType(),
				Payload:       string(payload),
				OccurredOn:    evt.OccurredAt().UTC(),
			})
			msgs = append(msgs, model.OutboxMessage{
				MessageID:     evt.EventID(),
				MessageType:   evt.EventType(),
				AggregateType: agg.AggregateType(),
				AggregateID:   agg.AggregateID(),
				Payload:       string(payload),
				CreatedAt:     staged,
			})
		}
	}
	if len(dirty) == 0 {
		return nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&records).Error; err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %v", es.ErrConflict, err)
			}
			return fmt.Errorf("append events: %w", err)
		}
		return s.outbox.Stage(ctx, tx, msgs)
	})
	if err != nil {
		if es.IsRetryable(err) {
			s.log.Infow("save conflict", "aggregates", aggregateIDs(dirty))
		}
		return err
	}
	s.log.Debugw("events committed", "aggregates", aggregateIDs(dirty), "events", len(records))

	return s.dispatcher.Dispatch(ctx, dirty...)
}

// Load replays the full history of id into a fresh aggregate from factory.
// No aggregate is returned unless every event decodes and applies.
func (s *EventStore) Load(ctx context.Context, id string, factory es.Factory) (es.Aggregate, error) {
	rows, err := s.History(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", es.ErrNotFound, id)
	}

	agg := factory(id)
	events := make([]es.Event, 0, len(rows))
	for i, row := range rows {
		if row.Version != int64(i) {
			return nil, fmt.Errorf("%w: %s expected version %d, found %d", es.ErrCorruptHistory, id, i, row.Version)
		}
		if row.AggregateType != agg.AggregateType() {
			return nil, fmt.Errorf("%w: %s is a %s, not a %s", es.ErrCorruptHistory, id, row.AggregateType, agg.AggregateType())
		}
		evt, err := s.registry.Decode(row.EventType, []byte(row.Payload))
		if err != nil {
			return nil, fmt.Errorf("load %s version %d: %w", id, row.Version, err)
		}
		events = append(events, evt)
	}
	if err := agg.LoadFromHistory(events); err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	return agg, nil
}

// History returns the raw records of id ordered by version.
func (s *EventStore) History(ctx context.Context, id string) ([]model.EventRecord, error) {
	var rows []model.EventRecord
	err := s.db.WithContext(ctx).
		Where("aggregate_id = ?", id).
		Order("version asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("read history %s: %w", id, err)
	}
	return rows, nil
}

// CurrentVersion returns the version of the newest event of id, -1 when it
// has none.
func (s *EventStore) CurrentVersion(ctx context.Context, id string) (int64, error) {
	var v int64
	err := s.db.WithContext(ctx).
		Model(&model.EventRecord{}).
		Select("COALESCE(MAX(version), -1)").
		Where("aggregate_id = ?", id).
		Scan(&v).Error
	if err != nil {
		return 0, fmt.Errorf("read version %s: %w", id, err)
	}
	return v, nil
}

// LoadAs is Load with a typed factory.
func LoadAs[A es.Aggregate](ctx context.Context, s *EventStore, id string, factory func(string) A) (A, error) {
	var zero A
	agg, err := s.Load(ctx, id, func(id string) es.Aggregate { return factory(id) })
	if err != nil {
		return zero, err
	}
	return agg.(A), nil
}

func aggregateIDs(aggs []es.Aggregate) []string {
	ids := make([]string, len(aggs))
	for i, a := range aggs {
		ids[i] = a.AggregateID()
	}
	return ids
}
