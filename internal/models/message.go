package models

import "time"

// Message is one turn of a conversation; the summarization pipeline
// reads these, the billing path never touches them.
type Message struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ChatID string `gorm:"type:varchar(64);not null;index"` // Owning chat.
	UserID uint64 `gorm:"not null;index"`                  // Owning user.

	Role    string `gorm:"type:text;not null"` // user, assistant or system.
	Content string `gorm:"type:text;not null"` // Message text.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
}
