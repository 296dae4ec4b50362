// Package settings exposes DB-backed configuration as a typed snapshot with
// a short TTL. Callers hold a *Service and read Values from it; the service
// re-reads the settings table when the cached snapshot goes stale, so admin
// edits propagate within the TTL without a restart.
package settings

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ai-friend-coming/chatledger/internal/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SnapshotTTL is how long a loaded snapshot is served before re-reading.
const SnapshotTTL = 30 * time.Second

// FirstRechargeTier pairs a recharge amount with its one-time bonus.
type FirstRechargeTier struct {
	Amount int64 `json:"amount"` // Recharge tier in minor units.
	Bonus  int64 `json:"bonus"`  // One-time bonus in minor units.
}

// SignInReward describes the daily reward distribution: a normal draw
// clamped to [Min, Max].
type SignInReward struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    int64   `json:"min"`
	Max    int64   `json:"max"`
}

// SummaryConfig holds the summarization pipeline thresholds.
type SummaryConfig struct {
	FirstChunkTokenBudget   int64 `json:"first_chunk_token_budget"`
	ChunkTokenBudget        int64 `json:"chunk_token_budget"`
	RollingMinMessages      int   `json:"rolling_min_messages"`
	RollingMessageCeiling   int   `json:"rolling_message_ceiling"`
	RollingTokenCeiling     int64 `json:"rolling_token_ceiling"`
	RetrievalTopK           int   `json:"retrieval_top_k"`
	RecentWindowTokenBudget int64 `json:"recent_window_token_budget"`
	MaxParallelChunks       int   `json:"max_parallel_chunks"`
}

// Values is one immutable configuration snapshot.
type Values struct {
	TrustQuotaThreshold int64
	RechargeTiers       []int64
	FirstRechargeTiers  []FirstRechargeTier
	InviteRebatePercent int64
	SignIn              SignInReward
	Summary             SummaryConfig
}

// FirstRechargeBonus returns the bonus for a tier amount, zero when none.
func (v Values) FirstRechargeBonus(amount int64) int64 {
	for _, tier := range v.FirstRechargeTiers {
		if tier.Amount == amount {
			return tier.Bonus
		}
	}
	return 0
}

func defaultValues() Values {
	return Values{
		TrustQuotaThreshold: DefaultTrustQuotaThreshold,
		RechargeTiers:       []int64{50_000, 100_000, 300_000, 500_000, 1_000_000},
		FirstRechargeTiers: []FirstRechargeTier{
			{Amount: 100_000, Bonus: 20_000},
			{Amount: 500_000, Bonus: 150_000},
		},
		InviteRebatePercent: DefaultInviteRebatePercent,
		SignIn: SignInReward{
			Mean:   200,
			StdDev: 80,
			Min:    50,
			Max:    500,
		},
		Summary: SummaryConfig{
			FirstChunkTokenBudget:   DefaultFirstChunkTokenBudget,
			ChunkTokenBudget:        DefaultChunkTokenBudget,
			RollingMinMessages:      DefaultRollingMinMessages,
			RollingMessageCeiling:   DefaultRollingMessageCeiling,
			RollingTokenCeiling:     DefaultRollingTokenCeiling,
			RetrievalTopK:           DefaultRetrievalTopK,
			RecentWindowTokenBudget: DefaultRecentWindowTokenBudget,
			MaxParallelChunks:       DefaultMaxParallelChunks,
		},
	}
}

// Service serves typed configuration snapshots backed by the settings table.
type Service struct {
	db  *gorm.DB
	ttl time.Duration

	mu       sync.RWMutex
	current  Values
	loadedAt time.Time
}

// NewService builds a settings service. A non-positive ttl falls back to
// SnapshotTTL. A nil db serves defaults forever, which keeps tests that do
// not care about settings free of a database.
func NewService(db *gorm.DB, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = SnapshotTTL
	}
	return &Service{db: db, ttl: ttl, current: defaultValues()}
}

// Current returns the live snapshot, re-reading the settings table when the
// cached one is stale. Load failures keep serving the previous snapshot.
func (s *Service) Current(ctx context.Context) Values {
	s.mu.RLock()
	fresh := time.Since(s.loadedAt) < s.ttl
	values := s.current
	s.mu.RUnlock()
	if fresh || s.db == nil {
		return values
	}

	loaded, errLoad := s.load(ctx)
	if errLoad != nil {
		log.WithError(errLoad).Warn("settings refresh failed, serving stale snapshot")
		return values
	}

	s.mu.Lock()
	s.current = loaded
	s.loadedAt = time.Now()
	s.mu.Unlock()
	return loaded
}

// Refresh forces a re-read regardless of TTL.
func (s *Service) Refresh(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	loaded, errLoad := s.load(ctx)
	if errLoad != nil {
		return errLoad
	}
	s.mu.Lock()
	s.current = loaded
	s.loadedAt = time.Now()
	s.mu.Unlock()
	return nil
}

func (s *Service) load(ctx context.Context) (Values, error) {
	var rows []models.Setting
	if errFind := s.db.WithContext(ctx).
		Select("key", "value").
		Order("key ASC").
		Find(&rows).Error; errFind != nil {
		return Values{}, errFind
	}

	values := defaultValues()
	for _, row := range rows {
		key := strings.TrimSpace(row.Key)
		if key == "" || len(row.Value) == 0 {
			continue
		}
		applySetting(&values, key, row.Value)
	}
	sort.Slice(values.RechargeTiers, func(i, j int) bool {
		return values.RechargeTiers[i] < values.RechargeTiers[j]
	})
	return values, nil
}

// applySetting decodes one settings row into the snapshot. Unknown keys and
// malformed values are skipped so one bad row cannot poison the snapshot.
func applySetting(values *Values, key string, raw json.RawMessage) {
	var errDecode error
	switch key {
	case TrustQuotaThresholdKey:
		errDecode = json.Unmarshal(raw, &values.TrustQuotaThreshold)
	case RechargeTiersKey:
		errDecode = json.Unmarshal(raw, &values.RechargeTiers)
	case FirstRechargeTiersKey:
		errDecode = json.Unmarshal(raw, &values.FirstRechargeTiers)
	case InviteRebatePercentKey:
		errDecode = json.Unmarshal(raw, &values.InviteRebatePercent)
	case SignInRewardKey:
		errDecode = json.Unmarshal(raw, &values.SignIn)
	case SummaryKey:
		errDecode = json.Unmarshal(raw, &values.Summary)
	default:
		return
	}
	if errDecode != nil {
		log.WithError(errDecode).Warnf("skipping malformed setting %s", key)
	}
}
