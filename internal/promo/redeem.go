// Package promo implements the promotional credit flows: redeem codes and
// the daily sign-in reward.
package promo

import (
	"context"
	"errors"
	"fmt"
	"time"

	dbutil "github.com/ai-friend-coming/chatledger/internal/db"
	"github.com/ai-friend-coming/chatledger/internal/ledger"
	"github.com/ai-friend-coming/chatledger/internal/models"
	"github.com/ai-friend-coming/chatledger/internal/settings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrCodeNotFound is returned for an unknown redeem code.
	ErrCodeNotFound = errors.New("promo: redeem code not found")
	// ErrCodeDisabled is returned for a deactivated code.
	ErrCodeDisabled = errors.New("promo: redeem code disabled")
	// ErrCodeNotYetActive is returned before the code's validity window opens.
	ErrCodeNotYetActive = errors.New("promo: redeem code not yet active")
	// ErrCodeExpired is returned after the code's validity window closes.
	ErrCodeExpired = errors.New("promo: redeem code expired")
	// ErrCodeExhausted is returned once the use cap is reached.
	ErrCodeExhausted = errors.New("promo: redeem code exhausted")
	// ErrCodeAlreadyUsed is returned when the user already redeemed the code.
	ErrCodeAlreadyUsed = errors.New("promo: redeem code already used")
	// ErrAlreadySignedIn is returned for a second sign-in on one calendar day.
	ErrAlreadySignedIn = errors.New("promo: already signed in today")
)

// Service hands out promotional credits through the ledger.
type Service struct {
	db       *gorm.DB
	engine   *ledger.Engine
	settings *settings.Service
}

// NewService builds a promo service.
func NewService(db *gorm.DB, engine *ledger.Engine, cfg *settings.Service) *Service {
	return &Service{db: db, engine: engine, settings: cfg}
}

// Redeem credits a voucher to the user. The code row lock covers the
// use-count check and increment, and the (code, user) unique index keeps a
// user from redeeming the same code twice.
func (s *Service) Redeem(ctx context.Context, userID uint64, code string) (int64, error) {
	var credited int64
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.RedeemCode
		if errFind := tx.Clauses(dbutil.RowLock(tx)...).
			Where("code = ?", code).
			Take(&row).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return ErrCodeNotFound
			}
			return errFind
		}

		now := time.Now().UTC()
		switch {
		case !row.IsEnabled:
			return ErrCodeDisabled
		case row.StartsAt != nil && now.Before(*row.StartsAt):
			return ErrCodeNotYetActive
		case row.ExpiresAt != nil && now.After(*row.ExpiresAt):
			return ErrCodeExpired
		case row.CurrentUses >= row.MaxUses:
			return ErrCodeExhausted
		}

		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.RedeemLog{
			CodeID: row.ID,
			UserID: userID,
			Amount: row.Amount,
		})
		if res.Error != nil {
			return fmt.Errorf("promo: record redemption: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrCodeAlreadyUsed
		}

		if errCount := tx.Model(&models.RedeemCode{}).
			Where("id = ?", row.ID).
			Update("current_uses", gorm.Expr("current_uses + 1")).Error; errCount != nil {
			return fmt.Errorf("promo: advance use count: %w", errCount)
		}

		if _, errCredit := s.engine.CreditInTx(tx, userID, row.Amount, models.LogTypeRedeem, row.Code); errCredit != nil {
			return errCredit
		}
		credited = row.Amount
		return nil
	})
	if errTx != nil {
		return 0, errTx
	}
	return credited, nil
}
