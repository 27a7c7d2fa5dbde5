package model

import "time"

// OutboxMessage is one integration event waiting to be relayed. Rows are
// inserted in the same transaction as the event records they mirror.
type OutboxMessage struct {
	ID            uint64     `gorm:"primaryKey"`
	MessageID     string     `gorm:"size:36;not null;uniqueIndex"`
	MessageType   string     `gorm:"size:128;not null"`
	AggregateType string     `gorm:"size:64;not null"`
	AggregateID   string     `gorm:"size:64;not null"`
	Payload       string     `gorm:"type:jsonb;not null"`
	CreatedAt     time.Time  `gorm:"not null;index"`
	ProcessedAt   *time.Time `gorm:"index"`
	RetryCount    int        `gorm:"not null;default:0"`
	Error         string     `gorm:"type:text"`
}

func (OutboxMessage) TableName() string { return "outbox" }

// Pending reports whether the message still awaits a successful publish.
func (m OutboxMessage) Pending() bool { return m.ProcessedAt == nil }
