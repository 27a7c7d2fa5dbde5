package model

import "gorm.io/gorm"

// AutoMigrate creates or updates the kernel tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&EventRecord{}, &OutboxMessage{})
}
