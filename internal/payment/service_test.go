package payment

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	dbpkg "github.com/ai-friend-coming/chatledger/internal/db"
	"github.com/ai-friend-coming/chatledger/internal/ledger"
	"github.com/ai-friend-coming/chatledger/internal/models"
	"github.com/ai-friend-coming/chatledger/internal/pricing"
	"github.com/ai-friend-coming/chatledger/internal/settings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const (
	testMerchantID = "1001"
	testSecret     = "test-merchant-secret"
)

func newPaymentFixture(t *testing.T) (*Service, *HMACProvider, *gorm.DB, uint64) {
	t.Helper()
	conn, errOpen := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	if errMigrate := dbpkg.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	user := models.User{Email: "payer@example.com", Balance: 0, BillingStatus: models.BillingStatusActive}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}

	engine := ledger.NewEngine(conn, pricing.NewService(conn), nil)
	provider := NewHMACProvider(testMerchantID, testSecret)
	svc := NewService(conn, engine, settings.NewService(conn, 0), provider, nil)
	return svc, provider, conn, user.ID
}

func signedNotify(provider *HMACProvider, outTradeNo string, amountMinor int64) map[string]string {
	params := map[string]string{
		"pid":          testMerchantID,
		"out_trade_no": outTradeNo,
		"trade_no":     "gw-" + outTradeNo,
		"money":        fmt.Sprintf("%.2f", float64(amountMinor)/minorUnitsPerMajor),
		"trade_status": "TRADE_SUCCESS",
	}
	params["sign"] = provider.Sign(params)
	return params
}

func paymentBalance(t *testing.T, conn *gorm.DB, userID uint64) int64 {
	t.Helper()
	var user models.User
	if errFind := conn.Take(&user, userID).Error; errFind != nil {
		t.Fatalf("load user: %v", errFind)
	}
	return user.Balance
}

func TestNotifyIdempotent(t *testing.T) {
	svc, provider, conn, userID := newPaymentFixture(t)
	ctx := context.Background()

	order, errCreate := svc.CreateOrder(ctx, userID, 50_000, "epay", "alipay")
	if errCreate != nil {
		t.Fatalf("create order: %v", errCreate)
	}

	params := signedNotify(provider, order.OutTradeNo, order.Amount)
	if errNotify := svc.HandleNotify(ctx, params); errNotify != nil {
		t.Fatalf("first notify: %v", errNotify)
	}
	balance := paymentBalance(t, conn, userID)
	if balance != 50_000 {
		t.Fatalf("expected balance=50000, got %d", balance)
	}

	// Duplicate gateway delivery: acknowledged, no second credit.
	if errNotify := svc.HandleNotify(ctx, params); errNotify != nil {
		t.Fatalf("duplicate notify: %v", errNotify)
	}
	if got := paymentBalance(t, conn, userID); got != balance {
		t.Fatalf("duplicate notify credited again: %d vs %d", got, balance)
	}

	var rechargeCount int64
	conn.Model(&models.BillingLog{}).Where("log_type = ?", models.LogTypeRecharge).Count(&rechargeCount)
	if rechargeCount != 1 {
		t.Fatalf("expected one recharge log, got %d", rechargeCount)
	}

	got, errGet := svc.GetOrder(ctx, order.OutTradeNo)
	if errGet != nil {
		t.Fatalf("get order: %v", errGet)
	}
	if got.Status != models.OrderStatusPaid || got.PaidAt == nil {
		t.Fatalf("order not marked paid: %+v", got)
	}
}

func TestNotifyRejectsBadSignatureAndMerchant(t *testing.T) {
	svc, provider, conn, userID := newPaymentFixture(t)
	ctx := context.Background()

	order, errCreate := svc.CreateOrder(ctx, userID, 50_000, "epay", "alipay")
	if errCreate != nil {
		t.Fatalf("create order: %v", errCreate)
	}

	params := signedNotify(provider, order.OutTradeNo, order.Amount)
	params["sign"] = "deadbeef"
	if errNotify := svc.HandleNotify(ctx, params); !errors.Is(errNotify, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", errNotify)
	}

	params = signedNotify(provider, order.OutTradeNo, order.Amount)
	params["pid"] = "9999"
	params["sign"] = provider.Sign(params)
	if errNotify := svc.HandleNotify(ctx, params); !errors.Is(errNotify, ErrMerchantMismatch) {
		t.Fatalf("expected ErrMerchantMismatch, got %v", errNotify)
	}

	if got := paymentBalance(t, conn, userID); got != 0 {
		t.Fatalf("rejected notify credited money: %d", got)
	}
}

func TestNotifyRejectsAmountMismatch(t *testing.T) {
	svc, provider, _, userID := newPaymentFixture(t)
	ctx := context.Background()

	order, errCreate := svc.CreateOrder(ctx, userID, 50_000, "epay", "alipay")
	if errCreate != nil {
		t.Fatalf("create order: %v", errCreate)
	}

	// 1.00 major unit short: outside the 0.01 tolerance.
	params := signedNotify(provider, order.OutTradeNo, order.Amount-minorUnitsPerMajor)
	if errNotify := svc.HandleNotify(ctx, params); !errors.Is(errNotify, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", errNotify)
	}

	// Within tolerance: accepted.
	params = signedNotify(provider, order.OutTradeNo, order.Amount-50)
	if errNotify := svc.HandleNotify(ctx, params); errNotify != nil {
		t.Fatalf("tolerated amount rejected: %v", errNotify)
	}
}

func TestFirstRechargeBonusOncePerTier(t *testing.T) {
	svc, provider, conn, userID := newPaymentFixture(t)
	ctx := context.Background()

	// 100000 is a configured first-recharge tier with a 20000 bonus.
	first, errFirst := svc.CreateOrder(ctx, userID, 100_000, "epay", "alipay")
	if errFirst != nil {
		t.Fatalf("create first order: %v", errFirst)
	}
	if errNotify := svc.HandleNotify(ctx, signedNotify(provider, first.OutTradeNo, first.Amount)); errNotify != nil {
		t.Fatalf("first notify: %v", errNotify)
	}
	if got := paymentBalance(t, conn, userID); got != 120_000 {
		t.Fatalf("expected amount+bonus=120000, got %d", got)
	}

	// Same tier again: no second bonus.
	second, errSecond := svc.CreateOrder(ctx, userID, 100_000, "epay", "alipay")
	if errSecond != nil {
		t.Fatalf("create second order: %v", errSecond)
	}
	if errNotify := svc.HandleNotify(ctx, signedNotify(provider, second.OutTradeNo, second.Amount)); errNotify != nil {
		t.Fatalf("second notify: %v", errNotify)
	}
	if got := paymentBalance(t, conn, userID); got != 220_000 {
		t.Fatalf("expected 220000 after second recharge, got %d", got)
	}

	var bonusCount int64
	conn.Model(&models.FirstRechargeLog{}).Where("user_id = ?", userID).Count(&bonusCount)
	if bonusCount != 1 {
		t.Fatalf("expected one bonus claim, got %d", bonusCount)
	}
}

func TestInviteRebateCreditsInviter(t *testing.T) {
	svc, provider, conn, userID := newPaymentFixture(t)
	ctx := context.Background()

	inviter := models.User{Email: "inviter@example.com", BillingStatus: models.BillingStatusActive}
	if errCreate := conn.Create(&inviter).Error; errCreate != nil {
		t.Fatalf("create inviter: %v", errCreate)
	}
	if errUpdate := conn.Model(&models.User{}).Where("id = ?", userID).
		Update("inviter_id", inviter.ID).Error; errUpdate != nil {
		t.Fatalf("link inviter: %v", errUpdate)
	}

	order, errCreate := svc.CreateOrder(ctx, userID, 50_000, "epay", "alipay")
	if errCreate != nil {
		t.Fatalf("create order: %v", errCreate)
	}
	if errNotify := svc.HandleNotify(ctx, signedNotify(provider, order.OutTradeNo, order.Amount)); errNotify != nil {
		t.Fatalf("notify: %v", errNotify)
	}

	// Default rebate is 10 percent.
	if got := paymentBalance(t, conn, inviter.ID); got != 5_000 {
		t.Fatalf("expected rebate=5000, got %d", got)
	}
	var rebate models.InviteRebateLog
	if errFind := conn.Where("inviter_id = ?", inviter.ID).Take(&rebate).Error; errFind != nil {
		t.Fatalf("rebate log missing: %v", errFind)
	}
	if rebate.InviteeID != userID || rebate.Amount != 5_000 {
		t.Fatalf("unexpected rebate log: %+v", rebate)
	}
}

func TestCreateOrderRejectsNonTierAmount(t *testing.T) {
	svc, _, _, userID := newPaymentFixture(t)
	if _, errCreate := svc.CreateOrder(context.Background(), userID, 123, "epay", "alipay"); !errors.Is(errCreate, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", errCreate)
	}
}

func TestCloseExpiredSweepsPendingOrders(t *testing.T) {
	svc, provider, conn, userID := newPaymentFixture(t)
	ctx := context.Background()

	order, errCreate := svc.CreateOrder(ctx, userID, 50_000, "epay", "alipay")
	if errCreate != nil {
		t.Fatalf("create order: %v", errCreate)
	}
	if errAge := conn.Model(&models.PaymentOrder{}).Where("id = ?", order.ID).
		Update("expired_at", time.Now().UTC().Add(-time.Hour)).Error; errAge != nil {
		t.Fatalf("age order: %v", errAge)
	}

	closed, errClose := svc.CloseExpired(ctx)
	if errClose != nil {
		t.Fatalf("close expired: %v", errClose)
	}
	if closed != 1 {
		t.Fatalf("expected one closed order, got %d", closed)
	}

	// A late notify for the closed order is rejected and credits nothing.
	errNotify := svc.HandleNotify(ctx, signedNotify(provider, order.OutTradeNo, order.Amount))
	if !errors.Is(errNotify, ErrOrderClosed) {
		t.Fatalf("expected ErrOrderClosed, got %v", errNotify)
	}
	if got := paymentBalance(t, conn, userID); got != 0 {
		t.Fatalf("closed order credited money: %d", got)
	}
}
