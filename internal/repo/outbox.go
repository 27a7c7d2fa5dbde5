package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/richardliu001/eventkernel/internal/model"
	"gorm.io/gorm"
)

// OutboxRepository stages and tracks outbox messages.
type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Stage inserts msgs using the caller's transaction.
func (r *OutboxRepository) Stage(ctx context.Context, tx *gorm.DB, msgs []model.OutboxMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := tx.WithContext(ctx).Create(&msgs).Error; err != nil {
		return fmt.Errorf("stage outbox: %w", err)
	}
	return nil
}

// Pending returns up to limit unprocessed messages, oldest first. With
// maxRetries > 0, messages that already failed that many times are parked
// and no longer returned.
func (r *OutboxRepository) Pending(ctx context.Context, limit, maxRetries int) ([]model.OutboxMessage, error) {
	var msgs []model.OutboxMessage
	q := r.db.WithContext(ctx).Where("processed_at IS NULL")
	if maxRetries > 0 {
		q = q.Where("retry_count < ?", maxRetries)
	}
	err := q.Order("id").Limit(limit).Find(&msgs).Error
	return msgs, err
}

// MarkProcessed is terminal; already processed rows are left alone.
func (r *OutboxRepository) MarkProcessed(ctx context.Context, id uint64, at time.Time) error {
	return r.db.WithContext(ctx).Model(&model.OutboxMessage{}).
		Where("id = ? AND processed_at IS NULL", id).
		Updates(map[string]interface{}{"processed_at": at, "error": ""}).Error
}

// MarkFailed bumps retry_count atomically and records the reason.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uint64, reason string) error {
	return r.db.WithContext(ctx).Model(&model.OutboxMessage{}).
		Where("id = ? AND processed_at IS NULL", id).
		Updates(map[string]interface{}{
			"retry_count": gorm.Expr("retry_count + 1"),
			"error":       reason,
		}).Error
}

// CountPending counts unprocessed messages, parked ones included.
func (r *OutboxRepository) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.OutboxMessage{}).Where("processed_at IS NULL").Count(&n).Error
	return n, err
}

// ByAggregate lists every message staged for one aggregate in insertion order.
func (r *OutboxRepository) ByAggregate(ctx context.Context, aggregateID string) ([]model.OutboxMessage, error) {
	var msgs []model.OutboxMessage
	err := r.db.WithContext(ctx).Where("aggregate_id = ?", aggregateID).Order("id").Find(&msgs).Error
	return msgs, err
}
