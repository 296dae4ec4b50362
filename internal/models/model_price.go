package models

import "time"

// ModelPrice overrides the static price table for one model. Prices are
// minor units per one million tokens.
type ModelPrice struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ModelID string `gorm:"type:varchar(255);not null;uniqueIndex"` // Model identifier.

	InputPrice  int64 `gorm:"not null;default:0"` // Input price per million tokens.
	OutputPrice int64 `gorm:"not null;default:0"` // Output price per million tokens.

	IsEnabled bool `gorm:"not null;default:true"` // Whether the override applies.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
