package models

import "time"

// PrechargeRecord reserves an estimated cost against a user's balance
// until the request settles or refunds. A record is consumed at most
// once; ConsumedAt is set by a conditional update so that retries
// cannot double-settle the same reservation.
type PrechargeRecord struct {
	ID string `gorm:"type:varchar(64);primaryKey"` // Reservation id (uuid).

	UserID  uint64 `gorm:"not null;index"`       // Owning user.
	ModelID string `gorm:"type:text;not null"`   // Model the reservation priced.

	EstimatedPromptTokens     int64 `gorm:"not null;default:0"` // Estimated prompt tokens.
	EstimatedCompletionTokens int64 `gorm:"not null;default:0"` // Max completion tokens reserved for.

	ReservedCost int64 `gorm:"not null;default:0"` // Debited amount in minor units.

	ConsumedAt *time.Time `gorm:"index"` // Set once by settle or refund.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
