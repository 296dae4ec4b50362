package models

import "time"

// RedeemCode is a multi-use credit voucher. CurrentUses advances under
// the code row lock together with the use-count check.
type RedeemCode struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Code   string `gorm:"type:varchar(64);not null;uniqueIndex"` // Voucher string.
	Amount int64  `gorm:"not null"`                              // Credit per redemption in minor units.

	MaxUses     int `gorm:"not null;default:1"` // Redemption cap.
	CurrentUses int `gorm:"not null;default:0"` // Redemptions so far.

	StartsAt  *time.Time // Validity window start, if bounded.
	ExpiresAt *time.Time // Validity window end, if bounded.

	IsEnabled bool `gorm:"not null;default:true"` // Whether the code is active.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// RedeemLog records one redemption; the (code, user) pair is unique so
// a user redeems a given code at most once.
type RedeemLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	CodeID uint64 `gorm:"not null;uniqueIndex:idx_redeem_code_user"` // Redeemed code.
	UserID uint64 `gorm:"not null;uniqueIndex:idx_redeem_code_user"` // Redeeming user.

	Amount int64 `gorm:"not null"` // Credited amount in minor units.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Redemption timestamp.
}
