package model

import "time"

// EventRecord is one persisted domain event. The composite primary key on
// (aggregate_id, version) is what rejects concurrent writers.
type EventRecord struct {
	AggregateID   string    `gorm:"primaryKey;size:64;autoIncrement:false"`
	Version       int64     `gorm:"primaryKey;autoIncrement:false"`
	AggregateType string    `gorm:"size:64;not null;index"`
	EventID       string    `gorm:"size:36;not null;uniqueIndex"`
	EventType     string    `gorm:"size:128;not null"`
	Payload       string    `gorm:"type:jsonb;not null"`
	OccurredOn    time.Time `gorm:"not null"`
}

func (EventRecord) TableName() string { return "event_log" }
