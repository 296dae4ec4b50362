package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ai-friend-coming/chatledger/internal/models"

	"gorm.io/gorm"
)

// Store persists summary chunks and ranks them for retrieval. Embeddings
// live as JSON float arrays on the chunk row and are ranked in process;
// per-chat chunk counts stay small enough that a brute-force scan beats
// shipping a vector index.
type Store struct {
	db *gorm.DB
}

// NewStore builds a chunk store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// SaveChunks appends chunk rows in one batch.
func (s *Store) SaveChunks(ctx context.Context, chunks []models.SummaryChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if errCreate := s.db.WithContext(ctx).Create(&chunks).Error; errCreate != nil {
		return fmt.Errorf("summary: save chunks: %w", errCreate)
	}
	return nil
}

// ChunksByChat returns all chunks of a chat ordered by position.
func (s *Store) ChunksByChat(ctx context.Context, chatID string) ([]models.SummaryChunk, error) {
	var chunks []models.SummaryChunk
	if errFind := s.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("chunk_index ASC").
		Find(&chunks).Error; errFind != nil {
		return nil, errFind
	}
	return chunks, nil
}

// MostAdjacent returns the chunk whose covered range ends closest to t,
// or nil when the chat has no chunks.
func (s *Store) MostAdjacent(ctx context.Context, chatID string, t time.Time) (*models.SummaryChunk, error) {
	chunks, errLoad := s.ChunksByChat(ctx, chatID)
	if errLoad != nil {
		return nil, errLoad
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	best := 0
	bestGap := absDuration(t.Sub(chunks[0].RangeEnd))
	for i := 1; i < len(chunks); i++ {
		gap := absDuration(t.Sub(chunks[i].RangeEnd))
		if gap < bestGap {
			best = i
			bestGap = gap
		}
	}
	return &chunks[best], nil
}

// scoredChunk pairs a chunk with its similarity to the query vector.
type scoredChunk struct {
	chunk models.SummaryChunk
	score float64
}

// TopKSimilar returns up to k chunks of the chat ranked by cosine
// similarity to the query embedding, skipping excludeID.
func (s *Store) TopKSimilar(ctx context.Context, chatID string, query []float64, k int, excludeID uint64) ([]models.SummaryChunk, error) {
	if k <= 0 || len(query) == 0 {
		return nil, nil
	}
	chunks, errLoad := s.ChunksByChat(ctx, chatID)
	if errLoad != nil {
		return nil, errLoad
	}

	scored := make([]scoredChunk, 0, len(chunks))
	for _, chunk := range chunks {
		if chunk.ID == excludeID {
			continue
		}
		embedding, errDecode := decodeEmbedding(chunk.Embedding)
		if errDecode != nil {
			continue
		}
		scored = append(scored, scoredChunk{chunk: chunk, score: cosine(query, embedding)})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	if len(scored) > k {
		scored = scored[:k]
	}
	out := make([]models.SummaryChunk, len(scored))
	for i, sc := range scored {
		out[i] = sc.chunk
	}
	return out, nil
}

// encodeEmbedding serializes a vector for the chunk row.
func encodeEmbedding(v []float64) ([]byte, error) {
	return json.Marshal(v)
}

func decodeEmbedding(raw []byte) ([]float64, error) {
	var v []float64
	if errDecode := json.Unmarshal(raw, &v); errDecode != nil {
		return nil, errDecode
	}
	return v, nil
}

// cosine returns the cosine similarity of two vectors, zero for mismatched
// or zero-length inputs.
func cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
