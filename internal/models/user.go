package models

import "time"

// Billing status values for a user account.
const (
	// BillingStatusActive marks an account that may spend.
	BillingStatusActive = "active"
	// BillingStatusFrozen marks an account blocked from spending.
	BillingStatusFrozen = "frozen"
)

// User holds the balance-bearing account row. All monetary fields are
// integer minor units (1 major unit = 10,000 minor units).
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name  string `gorm:"type:text"`                      // Display name.
	Email string `gorm:"type:text;uniqueIndex;not null"` // Login email.

	Balance       int64  `gorm:"not null;default:0"`                    // Current balance in minor units.
	TotalConsumed int64  `gorm:"not null;default:0"`                    // Lifetime spend in minor units.
	BillingStatus string `gorm:"type:text;not null;default:'active'"`   // active or frozen.

	InviterID *uint64 `gorm:"index"`                 // Referring user, if any.
	Inviter   *User   `gorm:"foreignKey:InviterID"`  // Referring user record.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
