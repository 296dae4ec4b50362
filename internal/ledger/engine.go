package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	dbutil "github.com/ai-friend-coming/chatledger/internal/db"
	"github.com/ai-friend-coming/chatledger/internal/models"
	"github.com/ai-friend-coming/chatledger/internal/pricing"
	"github.com/ai-friend-coming/chatledger/internal/usage"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	// DefaultTrustQuotaThreshold grants post-paid trust mode above this
	// balance (minor units).
	DefaultTrustQuotaThreshold = 1_000_000
	// unfreezeMinimumBalance reactivates a frozen account once a credit
	// lifts the balance to this floor (minor units).
	unfreezeMinimumBalance = 100
)

// Engine is the balance/precharge/settle/refund state machine. Every
// mutation runs in one transaction holding the user row lock for its
// full read-modify-write span.
type Engine struct {
	db             *gorm.DB
	prices         *pricing.Service
	trustThreshold func() int64
}

// NewEngine constructs a ledger Engine. trustThreshold may be nil, in
// which case DefaultTrustQuotaThreshold applies.
func NewEngine(db *gorm.DB, prices *pricing.Service, trustThreshold func() int64) *Engine {
	if trustThreshold == nil {
		trustThreshold = func() int64 { return DefaultTrustQuotaThreshold }
	}
	return &Engine{db: db, prices: prices, trustThreshold: trustThreshold}
}

// PrechargeResult reports a successful reservation.
type PrechargeResult struct {
	PrechargeID  string // Reservation id for the later settle/refund.
	ReservedCost int64  // Debited amount in minor units.
	BalanceAfter int64  // Balance after the debit.
}

// SettleResult reports a consumed reservation.
type SettleResult struct {
	ActualCost   int64 // Final captured cost in minor units.
	RefundAmount int64 // Reserved minus actual; negative means an extra debit.
	BalanceAfter int64 // Balance after the adjustment.
}

// DeductResult reports a direct post-paid debit.
type DeductResult struct {
	Cost         int64 // Debited amount in minor units.
	BalanceAfter int64 // Balance after the debit.
}

// Precharge reserves the estimated cost of a request: it prices the
// estimate, checks the frozen flag and the balance, debits immediately
// and records a precharge log row. Insufficient balance and frozen
// accounts fail before any money moves.
func (e *Engine) Precharge(ctx context.Context, userID uint64, modelID string, estimatedPromptTokens, maxCompletionTokens int64) (*PrechargeResult, error) {
	if e == nil || e.db == nil {
		return nil, errors.New("ledger: nil engine")
	}

	reservedCost := e.prices.Cost(ctx, modelID, estimatedPromptTokens, maxCompletionTokens, 0, 0)

	var result PrechargeResult
	errTx := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, errLock := lockUser(ctx, tx, userID)
		if errLock != nil {
			return errLock
		}
		if user.BillingStatus == models.BillingStatusFrozen {
			return ErrAccountFrozen
		}
		if user.Balance < reservedCost {
			return ErrInsufficientBalance
		}

		balanceAfter := user.Balance - reservedCost
		if errUpdate := tx.Model(&models.User{}).
			Where("id = ?", userID).
			Update("balance", balanceAfter).Error; errUpdate != nil {
			return fmt.Errorf("ledger: debit precharge: %w", errUpdate)
		}

		record := models.PrechargeRecord{
			ID:                        uuid.NewString(),
			UserID:                    userID,
			ModelID:                   modelID,
			EstimatedPromptTokens:     estimatedPromptTokens,
			EstimatedCompletionTokens: maxCompletionTokens,
			ReservedCost:              reservedCost,
		}
		if errCreate := tx.Create(&record).Error; errCreate != nil {
			return fmt.Errorf("ledger: create precharge record: %w", errCreate)
		}

		if errLog := writeLog(tx, models.BillingLog{
			UserID:          userID,
			ModelID:         modelID,
			EstimatedTokens: estimatedPromptTokens + maxCompletionTokens,
			TotalCost:       reservedCost,
			BalanceAfter:    balanceAfter,
			LogType:         models.LogTypePrecharge,
			PrechargeID:     record.ID,
		}); errLog != nil {
			return errLog
		}

		result = PrechargeResult{
			PrechargeID:  record.ID,
			ReservedCost: reservedCost,
			BalanceAfter: balanceAfter,
		}
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return &result, nil
}

// Settle consumes a reservation with the true usage: it recomputes the
// actual cost, credits (or further debits) the difference and records a
// settle log row correlated to the precharge. Zero usage degenerates to
// a full refund. The consumed_at conditional update guarantees a
// precharge is consumed at most once even under concurrent retries.
func (e *Engine) Settle(ctx context.Context, prechargeID string, actual usage.Info) (*SettleResult, error) {
	if e == nil || e.db == nil {
		return nil, errors.New("ledger: nil engine")
	}

	var result SettleResult
	errTx := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record models.PrechargeRecord
		if errFind := tx.Where("id = ?", prechargeID).Take(&record).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return ErrPrechargeNotFound
			}
			return fmt.Errorf("ledger: load precharge: %w", errFind)
		}

		user, errLock := lockUser(ctx, tx, record.UserID)
		if errLock != nil {
			return errLock
		}

		now := time.Now().UTC()
		consume := tx.Model(&models.PrechargeRecord{}).
			Where("id = ? AND consumed_at IS NULL", prechargeID).
			Update("consumed_at", now)
		if consume.Error != nil {
			return fmt.Errorf("ledger: consume precharge: %w", consume.Error)
		}
		if consume.RowsAffected == 0 {
			return ErrPrechargeConsumed
		}

		logType := models.LogTypeSettle
		var actualCost int64
		if actual.IsZero() {
			logType = models.LogTypeRefund
		} else {
			actualCost = e.prices.Cost(ctx, record.ModelID,
				actual.PromptTokens, actual.CompletionTokens,
				actual.CachedTokens, actual.ReasoningTokens)
		}

		refund := record.ReservedCost - actualCost
		balanceAfter := user.Balance + refund
		updates := map[string]any{
			"balance": balanceAfter,
		}
		if actualCost > 0 {
			updates["total_consumed"] = gorm.Expr("total_consumed + ?", actualCost)
		}
		if errUpdate := tx.Model(&models.User{}).
			Where("id = ?", record.UserID).
			Updates(updates).Error; errUpdate != nil {
			return fmt.Errorf("ledger: apply settle: %w", errUpdate)
		}

		if errLog := writeLog(tx, models.BillingLog{
			UserID:           record.UserID,
			ModelID:          record.ModelID,
			PromptTokens:     actual.TotalPrompt(),
			CompletionTokens: actual.TotalCompletion(),
			EstimatedTokens:  record.EstimatedPromptTokens + record.EstimatedCompletionTokens,
			TotalCost:        actualCost,
			RefundAmount:     refund,
			BalanceAfter:     balanceAfter,
			LogType:          logType,
			PrechargeID:      record.ID,
		}); errLog != nil {
			return errLog
		}

		result = SettleResult{
			ActualCost:   actualCost,
			RefundAmount: refund,
			BalanceAfter: balanceAfter,
		}
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return &result, nil
}

// Refund fully reverses an unconsumed reservation.
func (e *Engine) Refund(ctx context.Context, prechargeID string) (*SettleResult, error) {
	return e.Settle(ctx, prechargeID, usage.Info{})
}

// Deduct applies a direct post-paid debit with no prior reservation.
// It backs the trust-quota fast path and RAG/summary side-charges.
// Callers below the trust threshold fail on insufficient balance;
// trusted callers may overdraw, since the tokens were already consumed.
func (e *Engine) Deduct(ctx context.Context, userID uint64, modelID string, u usage.Info, logType string) (*DeductResult, error) {
	if e == nil || e.db == nil {
		return nil, errors.New("ledger: nil engine")
	}
	if logType == "" {
		logType = models.LogTypeDeduct
	}

	cost := e.prices.Cost(ctx, modelID, u.PromptTokens, u.CompletionTokens, u.CachedTokens, u.ReasoningTokens)

	var result DeductResult
	errTx := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, errLock := lockUser(ctx, tx, userID)
		if errLock != nil {
			return errLock
		}
		if user.BillingStatus == models.BillingStatusFrozen {
			return ErrAccountFrozen
		}
		if user.Balance < cost && user.Balance < e.trustThreshold() {
			return ErrInsufficientBalance
		}

		balanceAfter := user.Balance - cost
		if errUpdate := tx.Model(&models.User{}).
			Where("id = ?", userID).
			Updates(map[string]any{
				"balance":        balanceAfter,
				"total_consumed": gorm.Expr("total_consumed + ?", cost),
			}).Error; errUpdate != nil {
			return fmt.Errorf("ledger: apply deduct: %w", errUpdate)
		}

		if errLog := writeLog(tx, models.BillingLog{
			UserID:           userID,
			ModelID:          modelID,
			PromptTokens:     u.TotalPrompt(),
			CompletionTokens: u.TotalCompletion(),
			TotalCost:        cost,
			BalanceAfter:     balanceAfter,
			LogType:          logType,
		}); errLog != nil {
			return errLog
		}

		result = DeductResult{Cost: cost, BalanceAfter: balanceAfter}
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return &result, nil
}

// TrustQuota reports whether a user's balance grants post-paid trust
// mode, skipping the precharge reservation entirely.
func (e *Engine) TrustQuota(ctx context.Context, userID uint64) (bool, error) {
	if e == nil || e.db == nil {
		return false, errors.New("ledger: nil engine")
	}
	var user models.User
	if errFind := e.db.WithContext(ctx).
		Select("balance", "billing_status").
		Take(&user, userID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return false, ErrUserNotFound
		}
		return false, fmt.Errorf("ledger: load user: %w", errFind)
	}
	if user.BillingStatus == models.BillingStatusFrozen {
		return false, nil
	}
	return user.Balance > e.trustThreshold(), nil
}

// Recharge credits a user's balance. Credits always succeed; a frozen
// account reactivates once the balance reaches the minimum threshold.
func (e *Engine) Recharge(ctx context.Context, userID uint64, amount int64, operatorID uint64, remark string) (int64, error) {
	if e == nil || e.db == nil {
		return 0, errors.New("ledger: nil engine")
	}
	if amount <= 0 {
		return 0, fmt.Errorf("ledger: non-positive recharge amount %d", amount)
	}

	var balanceAfter int64
	errTx := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var errCredit error
		balanceAfter, errCredit = e.CreditInTx(tx, userID, amount, models.LogTypeRecharge, remark)
		return errCredit
	})
	if errTx != nil {
		return 0, errTx
	}
	log.Infof("ledger: recharged user=%d amount=%d operator=%d balance=%d", userID, amount, operatorID, balanceAfter)
	return balanceAfter, nil
}

// CreditInTx credits a user inside an existing transaction, writing the
// billing log row and unfreezing the account when the balance recovers.
// Payment and promo flows use it to fold several credits into one
// transaction.
func (e *Engine) CreditInTx(tx *gorm.DB, userID uint64, amount int64, logType, status string) (int64, error) {
	if tx == nil {
		return 0, errors.New("ledger: nil tx")
	}

	user, errLock := lockUser(tx.Statement.Context, tx, userID)
	if errLock != nil {
		return 0, errLock
	}

	balanceAfter := user.Balance + amount
	updates := map[string]any{"balance": balanceAfter}
	if user.BillingStatus == models.BillingStatusFrozen && balanceAfter >= unfreezeMinimumBalance {
		updates["billing_status"] = models.BillingStatusActive
	}
	if errUpdate := tx.Model(&models.User{}).
		Where("id = ?", userID).
		Updates(updates).Error; errUpdate != nil {
		return 0, fmt.Errorf("ledger: apply credit: %w", errUpdate)
	}

	if errLog := writeLog(tx, models.BillingLog{
		UserID:       userID,
		TotalCost:    -amount,
		BalanceAfter: balanceAfter,
		LogType:      logType,
		Status:       status,
	}); errLog != nil {
		return 0, errLog
	}
	return balanceAfter, nil
}

// lockUser fetches the user row under the dialect's row lock.
func lockUser(ctx context.Context, tx *gorm.DB, userID uint64) (*models.User, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var user models.User
	if errFind := tx.WithContext(ctx).
		Clauses(dbutil.RowLock(tx)...).
		Take(&user, userID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("ledger: lock user: %w", errFind)
	}
	return &user, nil
}

// writeLog appends one billing log row with a nanosecond timestamp.
func writeLog(tx *gorm.DB, row models.BillingLog) error {
	row.CreatedAtNanos = time.Now().UnixNano()
	if errCreate := tx.Create(&row).Error; errCreate != nil {
		return fmt.Errorf("ledger: write billing log: %w", errCreate)
	}
	return nil
}
