// Package payment owns the deposit flow: order creation, gateway notify
// handling with idempotent paid transitions, the one-time first-recharge
// bonus and the referral rebate.
package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	dbutil "github.com/ai-friend-coming/chatledger/internal/db"
	"github.com/ai-friend-coming/chatledger/internal/ledger"
	"github.com/ai-friend-coming/chatledger/internal/models"
	"github.com/ai-friend-coming/chatledger/internal/settings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// minorUnitsPerMajor converts gateway major-unit amounts to ledger minor units.
const minorUnitsPerMajor = 10_000

// amountTolerance accepts gateway rounding of up to 0.01 major units.
const amountTolerance = minorUnitsPerMajor / 100

// AnalyticsHook receives best-effort events after a paid order commits.
type AnalyticsHook interface {
	OrderPaid(ctx context.Context, order *models.PaymentOrder)
}

// Service manages payment orders against one gateway provider.
type Service struct {
	db        *gorm.DB
	engine    *ledger.Engine
	settings  *settings.Service
	provider  Provider
	analytics AnalyticsHook
}

// NewService builds a payment service. analytics may be nil.
func NewService(db *gorm.DB, engine *ledger.Engine, cfg *settings.Service, provider Provider, analytics AnalyticsHook) *Service {
	return &Service{db: db, engine: engine, settings: cfg, provider: provider, analytics: analytics}
}

// CreateOrder opens a pending order for one of the configured recharge
// tiers and returns it with a fresh merchant order id.
func (s *Service) CreateOrder(ctx context.Context, userID uint64, amount int64, method, payType string) (*models.PaymentOrder, error) {
	tiers := s.settings.Current(ctx).RechargeTiers
	if !containsAmount(tiers, amount) {
		return nil, ErrInvalidAmount
	}

	now := time.Now().UTC()
	order := models.PaymentOrder{
		UserID:        userID,
		OutTradeNo:    strings.ReplaceAll(uuid.NewString(), "-", ""),
		Amount:        amount,
		Status:        models.OrderStatusPending,
		PaymentMethod: method,
		PaymentType:   payType,
		ExpiredAt:     now.Add(models.OrderTTL),
	}
	if errCreate := s.db.WithContext(ctx).Create(&order).Error; errCreate != nil {
		return nil, fmt.Errorf("payment: create order: %w", errCreate)
	}
	return &order, nil
}

// GetOrder returns the order for a merchant order id.
func (s *Service) GetOrder(ctx context.Context, outTradeNo string) (*models.PaymentOrder, error) {
	var order models.PaymentOrder
	if errFind := s.db.WithContext(ctx).
		Where("out_trade_no = ?", outTradeNo).
		Take(&order).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, errFind
	}
	return &order, nil
}

// HandleNotify processes a gateway payment callback. The paid transition is
// idempotent: a duplicate notify for an already-paid order succeeds without
// moving money. The credit and the first-recharge bonus commit in one
// transaction; the invite rebate and analytics run best-effort afterwards.
func (s *Service) HandleNotify(ctx context.Context, params map[string]string) error {
	if !s.provider.Verify(params) {
		return ErrInvalidSignature
	}
	if params[paramMerchantID] != s.provider.MerchantID() {
		return ErrMerchantMismatch
	}
	if params[paramStatus] != notifyStatusSuccess {
		// Non-success notifies are acknowledged without action.
		log.Infof("ignoring notify with status %q for %s", params[paramStatus], params[paramOutTradeNo])
		return nil
	}

	paidMinor, errMoney := parseMajorAmount(params[paramMoney])
	if errMoney != nil {
		return fmt.Errorf("payment: parse notify amount: %w", errMoney)
	}

	var paid *models.PaymentOrder
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.PaymentOrder
		if errFind := tx.Clauses(dbutil.RowLock(tx)...).
			Where("out_trade_no = ?", params[paramOutTradeNo]).
			Take(&order).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return errFind
		}

		switch order.Status {
		case models.OrderStatusPaid:
			// Duplicate delivery; the first one already credited.
			return nil
		case models.OrderStatusPending:
		default:
			return ErrOrderClosed
		}

		diff := paidMinor - order.Amount
		if diff < -amountTolerance || diff > amountTolerance {
			return fmt.Errorf("%w: order=%d notify=%d", ErrAmountMismatch, order.Amount, paidMinor)
		}

		now := time.Now().UTC()
		order.Status = models.OrderStatusPaid
		order.TradeNo = params[paramTradeNo]
		order.PaidAt = &now
		if errSave := tx.Model(&models.PaymentOrder{}).
			Where("id = ? AND status = ?", order.ID, models.OrderStatusPending).
			Updates(map[string]any{
				"status":   models.OrderStatusPaid,
				"trade_no": order.TradeNo,
				"paid_at":  now,
			}).Error; errSave != nil {
			return fmt.Errorf("payment: mark paid: %w", errSave)
		}

		if _, errCredit := s.engine.CreditInTx(tx, order.UserID, order.Amount, models.LogTypeRecharge, order.OutTradeNo); errCredit != nil {
			return errCredit
		}
		if errBonus := s.applyFirstRechargeBonus(ctx, tx, &order); errBonus != nil {
			return errBonus
		}

		paid = &order
		return nil
	})
	if errTx != nil {
		return errTx
	}
	if paid == nil {
		return nil
	}

	s.applyInviteRebate(ctx, paid)
	if s.analytics != nil {
		s.analytics.OrderPaid(ctx, paid)
	}
	return nil
}

// applyFirstRechargeBonus credits the one-time bonus for the order's tier.
// The (user, tier) unique index carries the once-only guarantee; a conflict
// means the bonus was claimed before and is not an error.
func (s *Service) applyFirstRechargeBonus(ctx context.Context, tx *gorm.DB, order *models.PaymentOrder) error {
	bonus := s.settings.Current(ctx).FirstRechargeBonus(order.Amount)
	if bonus <= 0 {
		return nil
	}

	claim := models.FirstRechargeLog{
		UserID:      order.UserID,
		TierAmount:  order.Amount,
		BonusAmount: bonus,
	}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&claim)
	if res.Error != nil {
		return fmt.Errorf("payment: record first recharge: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}

	_, errCredit := s.engine.CreditInTx(tx, order.UserID, bonus, models.LogTypeFirstRecharge, order.OutTradeNo)
	return errCredit
}

// applyInviteRebate credits the inviter a configured percentage of the
// recharge. Failures are logged, never propagated: the deposit itself has
// already committed.
func (s *Service) applyInviteRebate(ctx context.Context, order *models.PaymentOrder) {
	percent := s.settings.Current(ctx).InviteRebatePercent
	if percent <= 0 {
		return
	}

	var user models.User
	if errFind := s.db.WithContext(ctx).Take(&user, order.UserID).Error; errFind != nil {
		log.WithError(errFind).Warnf("invite rebate skipped for order %s", order.OutTradeNo)
		return
	}
	if user.InviterID == nil {
		return
	}

	rebate := order.Amount * percent / 100
	if rebate <= 0 {
		return
	}

	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errLog := tx.Create(&models.InviteRebateLog{
			InviterID: *user.InviterID,
			InviteeID: user.ID,
			OrderID:   order.ID,
			Amount:    rebate,
		}).Error; errLog != nil {
			return errLog
		}
		_, errCredit := s.engine.CreditInTx(tx, *user.InviterID, rebate, models.LogTypeRebate, order.OutTradeNo)
		return errCredit
	})
	if errTx != nil {
		log.WithError(errTx).Errorf("invite rebate failed for order %s", order.OutTradeNo)
	}
}

// CloseExpired sweeps pending orders past their expiry and returns how many
// were closed. Meant to run periodically.
func (s *Service) CloseExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.PaymentOrder{}).
		Where("status = ? AND expired_at < ?", models.OrderStatusPending, time.Now().UTC()).
		Update("status", models.OrderStatusClosed)
	if res.Error != nil {
		return 0, fmt.Errorf("payment: close expired: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		log.Infof("closed %d expired payment orders", res.RowsAffected)
	}
	return res.RowsAffected, nil
}

func containsAmount(tiers []int64, amount int64) bool {
	for _, tier := range tiers {
		if tier == amount {
			return true
		}
	}
	return false
}

// parseMajorAmount converts a gateway decimal major-unit string ("10.00")
// into integer minor units.
func parseMajorAmount(s string) (int64, error) {
	major, errParse := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if errParse != nil {
		return 0, errParse
	}
	if major < 0 {
		return 0, errors.New("negative amount")
	}
	return int64(math.Round(major * minorUnitsPerMajor)), nil
}
