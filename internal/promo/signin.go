package promo

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/ai-friend-coming/chatledger/internal/models"
	"github.com/ai-friend-coming/chatledger/internal/settings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// signInDateFormat keys one claim per calendar date.
const signInDateFormat = "2006-01-02"

// SignIn grants the daily reward: a normal draw clamped to the configured
// bounds, claimable once per (user, UTC calendar date). Returns the credited
// amount.
func (s *Service) SignIn(ctx context.Context, userID uint64) (int64, error) {
	cfg := s.settings.Current(ctx).SignIn
	amount := drawReward(cfg)
	today := time.Now().UTC().Format(signInDateFormat)

	var credited int64
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.SignInLog{
			UserID: userID,
			Date:   today,
			Amount: amount,
		})
		if res.Error != nil {
			return fmt.Errorf("promo: record sign-in: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrAlreadySignedIn
		}

		if _, errCredit := s.engine.CreditInTx(tx, userID, amount, models.LogTypeSignIn, today); errCredit != nil {
			return errCredit
		}
		credited = amount
		return nil
	})
	if errTx != nil {
		return 0, errTx
	}
	return credited, nil
}

// drawReward samples the reward distribution and clamps it to [Min, Max].
func drawReward(cfg settings.SignInReward) int64 {
	draw := int64(math.Round(rand.NormFloat64()*cfg.StdDev + cfg.Mean))
	if draw < cfg.Min {
		return cfg.Min
	}
	if draw > cfg.Max {
		return cfg.Max
	}
	return draw
}
