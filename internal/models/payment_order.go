package models

import "time"

// Payment order status values. An order transitions to paid exactly
// once via the gateway callback and never regresses.
const (
	// OrderStatusPending marks a freshly created order.
	OrderStatusPending = "pending"
	// OrderStatusPaid marks a gateway-confirmed order.
	OrderStatusPaid = "paid"
	// OrderStatusClosed marks an expired or cancelled order.
	OrderStatusClosed = "closed"
	// OrderStatusRefunded marks a reversed order.
	OrderStatusRefunded = "refunded"
)

// OrderTTL is the window after which an unpaid order expires.
const OrderTTL = 900 * time.Second

// PaymentOrder tracks one deposit attempt against an external gateway.
type PaymentOrder struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID     uint64 `gorm:"not null;index"`                        // Paying user.
	OutTradeNo string `gorm:"type:varchar(64);not null;uniqueIndex"` // Merchant order id.
	TradeNo    string `gorm:"type:varchar(128)"`                     // Gateway's trade id.

	Amount int64  `gorm:"not null"`                              // Order amount in minor units.
	Status string `gorm:"type:text;not null;default:'pending'"`  // Order state.

	PaymentMethod string `gorm:"type:text"` // Gateway identifier.
	PaymentType   string `gorm:"type:text"` // Channel within the gateway.

	PaidAt    *time.Time // Gateway confirmation time.
	ExpiredAt time.Time  `gorm:"not null"` // CreatedAt + OrderTTL.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
