package pricing

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/ai-friend-coming/chatledger/internal/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CacheTokenRatio discounts cached input tokens to 10% of the input
// price.
const CacheTokenRatio = 0.1

// DefaultModelID keys the global fallback price entry.
const DefaultModelID = "default"

// Price holds per-million-token prices in minor currency units
// (1 major unit = 10,000 minor units).
type Price struct {
	Input  int64 // Minor units per million prompt tokens.
	Output int64 // Minor units per million completion tokens.
}

// defaultPrices is the static table consulted when no per-model
// override is persisted. Keys are model ids; DefaultModelID is the
// terminal fallback.
var defaultPrices = map[string]Price{
	DefaultModelID:      {Input: 10000, Output: 20000},
	"gpt-4o":            {Input: 25000, Output: 100000},
	"gpt-4o-mini":       {Input: 1500, Output: 6000},
	"gpt-4.1":           {Input: 20000, Output: 80000},
	"o3-mini":           {Input: 11000, Output: 44000},
	"claude-sonnet-4":   {Input: 30000, Output: 150000},
	"claude-haiku-3-5":  {Input: 8000, Output: 40000},
	"gemini-2.0-flash":  {Input: 1000, Output: 4000},
	"gemini-2.5-pro":    {Input: 12500, Output: 100000},
	"deepseek-chat":     {Input: 2700, Output: 11000},
	"deepseek-reasoner": {Input: 5500, Output: 21900},
}

// Service resolves model prices and converts token counts into integer
// minor-unit costs.
type Service struct {
	db *gorm.DB
}

// NewService constructs a pricing Service. A nil db disables persisted
// overrides and resolves from the static table only.
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Resolve returns the price for a model: persisted override first, then
// the static table, then the global default entry.
func (s *Service) Resolve(ctx context.Context, modelID string) Price {
	modelID = strings.TrimSpace(modelID)

	if s != nil && s.db != nil && modelID != "" {
		var row models.ModelPrice
		errFind := s.db.WithContext(ctx).
			Where("model_id = ? AND is_enabled = ?", modelID, true).
			Take(&row).Error
		if errFind == nil {
			return Price{Input: row.InputPrice, Output: row.OutputPrice}
		}
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			log.WithError(errFind).Warn("pricing: model price lookup failed, using defaults")
		}
	}

	if price, ok := defaultPrices[modelID]; ok {
		return price
	}
	return defaultPrices[DefaultModelID]
}

// Cost computes the integer minor-unit cost for one request. Prices are
// per million tokens; cached input tokens are billed at CacheTokenRatio
// of the input price and reasoning tokens at the output price.
func (s *Service) Cost(ctx context.Context, modelID string, promptTokens, completionTokens, cachedTokens, reasoningTokens int64) int64 {
	price := s.Resolve(ctx, modelID)
	return costAt(price, promptTokens, completionTokens, cachedTokens, reasoningTokens)
}

// costAt applies the pricing formula at a resolved price.
func costAt(price Price, promptTokens, completionTokens, cachedTokens, reasoningTokens int64) int64 {
	if promptTokens < 0 {
		promptTokens = 0
	}
	if completionTokens < 0 {
		completionTokens = 0
	}
	if cachedTokens < 0 {
		cachedTokens = 0
	}
	if reasoningTokens < 0 {
		reasoningTokens = 0
	}

	total := float64(promptTokens) * float64(price.Input) / 1e6
	total += float64(cachedTokens) * float64(price.Input) / 1e6 * CacheTokenRatio
	total += float64(completionTokens+reasoningTokens) * float64(price.Output) / 1e6

	return int64(math.Round(total))
}
