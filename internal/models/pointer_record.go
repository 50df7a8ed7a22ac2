package models

import "time"

// PointerRecord is a named string slot in local storage.
// There should only ever be one row per key.
type PointerRecord struct {
	Key       string `gorm:"primaryKey"`
	Value     string `gorm:"not null"`
	UpdatedAt time.Time
}
