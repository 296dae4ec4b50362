package models

import "time"

// FirstRechargeLog records a claimed first-recharge bonus. The bonus is
// claimable once per distinct recharge tier, not once globally, so the
// (user, tier) pair carries the uniqueness.
type FirstRechargeLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID     uint64 `gorm:"not null;uniqueIndex:idx_first_recharge_user_tier"` // Claiming user.
	TierAmount int64  `gorm:"not null;uniqueIndex:idx_first_recharge_user_tier"` // Recharge tier in minor units.

	BonusAmount int64 `gorm:"not null"` // Credited bonus in minor units.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Claim timestamp.
}

// SignInLog records a daily sign-in reward; one claim per user per
// calendar date.
type SignInLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;uniqueIndex:idx_sign_in_user_date"`                 // Claiming user.
	Date   string `gorm:"type:varchar(10);not null;uniqueIndex:idx_sign_in_user_date"` // Calendar date, YYYY-MM-DD.

	Amount int64 `gorm:"not null"` // Reward in minor units.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Claim timestamp.
}

// InviteRebateLog records a referral rebate credited to an inviter.
type InviteRebateLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	InviterID uint64 `gorm:"not null;index"` // Credited user.
	InviteeID uint64 `gorm:"not null;index"` // Recharging user.
	OrderID   uint64 `gorm:"not null;index"` // Triggering payment order.

	Amount int64 `gorm:"not null"` // Rebate in minor units.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Credit timestamp.
}
