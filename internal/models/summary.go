package models

import (
	"time"

	"gorm.io/datatypes"
)

// Summary state status values.
const (
	// SummaryStatusGenerating marks a summarization run in flight.
	SummaryStatusGenerating = "generating"
	// SummaryStatusDone marks an up-to-date summary state.
	SummaryStatusDone = "done"
)

// ChatSummaryState drives the rolling-summarization state machine for
// one chat. The generating/done transition is a conditional update so
// concurrent triggers cannot start two runs.
type ChatSummaryState struct {
	ChatID string `gorm:"type:varchar(64);primaryKey"` // Owning chat.
	UserID uint64 `gorm:"not null;index"`              // Owning user.

	Status string `gorm:"type:text;not null;default:'done'"` // generating or done.

	LastSummarizedMessageID  uint64     `gorm:"not null;default:0"` // Newest message covered by a chunk.
	LastSummarizedTimestamp  *time.Time // Timestamp of that message.

	CurrentChunkCount     int `gorm:"not null;default:0"` // Stored chunk count.
	ProcessedMessageCount int `gorm:"not null;default:0"` // Messages folded into chunks.

	TotalPromptTokens     int64 `gorm:"not null;default:0"` // Cumulative summarization prompt tokens.
	TotalCompletionTokens int64 `gorm:"not null;default:0"` // Cumulative summarization completion tokens.

	ErrorStatus  string `gorm:"type:text"` // Last failure marker, empty when healthy.
	ErrorMessage string `gorm:"type:text"` // Last failure detail.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// SummaryChunk is one vector-embedded summary document scoped to a
// chat. Embeddings are stored as a JSON float array and ranked by
// cosine similarity in process.
type SummaryChunk struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ChatID     string `gorm:"type:varchar(64);not null;uniqueIndex:idx_summary_chat_chunk"` // Owning chat.
	ChunkIndex int    `gorm:"not null;uniqueIndex:idx_summary_chat_chunk"`                  // Position within the chat.

	UserID uint64 `gorm:"not null;index"` // Owning user.

	Content   string         `gorm:"type:text;not null"` // Summary text.
	Embedding datatypes.JSON `gorm:"type:jsonb"`         // Embedding vector as JSON floats.

	FirstMessageID uint64    `gorm:"not null"` // Oldest source message.
	LastMessageID  uint64    `gorm:"not null"` // Newest source message.
	RangeStart     time.Time `gorm:"not null"` // Oldest source timestamp.
	RangeEnd       time.Time `gorm:"not null"` // Newest source timestamp.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
