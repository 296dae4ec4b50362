package promo

import (
	"context"
	"errors"
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

func newPromoFixture(t *testing.T) (*Service, *gorm.DB, uint64) {
	t.Helper()
	conn, errOpen := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	if errMigrate := dbpkg.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	user := models.User{Email: "promo@example.com", BillingStatus: models.BillingStatusActive}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}
	engine := ledger.NewEngine(conn, pricing.NewService(conn), nil)
	return NewService(conn, engine, settings.NewService(conn, 0)), conn, user.ID
}

func seedCode(t *testing.T, conn *gorm.DB, code models.RedeemCode) models.RedeemCode {
	t.Helper()
	if code.Code == "" {
		code.Code = "WELCOME"
	}
	if code.Amount == 0 {
		code.Amount = 1_000
	}
	if code.MaxUses == 0 {
		code.MaxUses = 2
	}
	code.IsEnabled = true
	if errCreate := conn.Create(&code).Error; errCreate != nil {
		t.Fatalf("seed code: %v", errCreate)
	}
	return code
}

func promoBalance(t *testing.T, conn *gorm.DB, userID uint64) int64 {
	t.Helper()
	var user models.User
	if errFind := conn.Take(&user, userID).Error; errFind != nil {
		t.Fatalf("load user: %v", errFind)
	}
	return user.Balance
}

func TestRedeemCreditsOncePerUser(t *testing.T) {
	svc, conn, userID := newPromoFixture(t)
	ctx := context.Background()
	code := seedCode(t, conn, models.RedeemCode{})

	amount, errRedeem := svc.Redeem(ctx, userID, code.Code)
	if errRedeem != nil {
		t.Fatalf("redeem: %v", errRedeem)
	}
	if amount != 1_000 {
		t.Fatalf("expected credit=1000, got %d", amount)
	}
	if got := promoBalance(t, conn, userID); got != 1_000 {
		t.Fatalf("balance not credited: %d", got)
	}

	if _, errAgain := svc.Redeem(ctx, userID, code.Code); !errors.Is(errAgain, ErrCodeAlreadyUsed) {
		t.Fatalf("expected ErrCodeAlreadyUsed, got %v", errAgain)
	}
	if got := promoBalance(t, conn, userID); got != 1_000 {
		t.Fatalf("second redeem credited again: %d", got)
	}

	var row models.RedeemCode
	if errFind := conn.Take(&row, code.ID).Error; errFind != nil {
		t.Fatalf("load code: %v", errFind)
	}
	if row.CurrentUses != 1 {
		t.Fatalf("expected current_uses=1, got %d", row.CurrentUses)
	}
}

func TestRedeemTypedFailures(t *testing.T) {
	svc, conn, userID := newPromoFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	if _, errRedeem := svc.Redeem(ctx, userID, "NO-SUCH-CODE"); !errors.Is(errRedeem, ErrCodeNotFound) {
		t.Fatalf("expected ErrCodeNotFound, got %v", errRedeem)
	}

	disabled := seedCode(t, conn, models.RedeemCode{Code: "DISABLED"})
	if errOff := conn.Model(&models.RedeemCode{}).Where("id = ?", disabled.ID).
		Update("is_enabled", false).Error; errOff != nil {
		t.Fatalf("disable code: %v", errOff)
	}
	if _, errRedeem := svc.Redeem(ctx, userID, "DISABLED"); !errors.Is(errRedeem, ErrCodeDisabled) {
		t.Fatalf("expected ErrCodeDisabled, got %v", errRedeem)
	}

	seedCode(t, conn, models.RedeemCode{Code: "EARLY", StartsAt: &future})
	if _, errRedeem := svc.Redeem(ctx, userID, "EARLY"); !errors.Is(errRedeem, ErrCodeNotYetActive) {
		t.Fatalf("expected ErrCodeNotYetActive, got %v", errRedeem)
	}

	seedCode(t, conn, models.RedeemCode{Code: "LATE", ExpiresAt: &past})
	if _, errRedeem := svc.Redeem(ctx, userID, "LATE"); !errors.Is(errRedeem, ErrCodeExpired) {
		t.Fatalf("expected ErrCodeExpired, got %v", errRedeem)
	}

	drained := seedCode(t, conn, models.RedeemCode{Code: "DRAINED", MaxUses: 1})
	if errUse := conn.Model(&models.RedeemCode{}).Where("id = ?", drained.ID).
		Update("current_uses", 1).Error; errUse != nil {
		t.Fatalf("drain code: %v", errUse)
	}
	if _, errRedeem := svc.Redeem(ctx, userID, "DRAINED"); !errors.Is(errRedeem, ErrCodeExhausted) {
		t.Fatalf("expected ErrCodeExhausted, got %v", errRedeem)
	}

	if got := promoBalance(t, conn, userID); got != 0 {
		t.Fatalf("failed redemptions credited money: %d", got)
	}
}

func TestRedeemSecondUserSharesCode(t *testing.T) {
	svc, conn, userID := newPromoFixture(t)
	ctx := context.Background()
	code := seedCode(t, conn, models.RedeemCode{})

	other := models.User{Email: "other@example.com", BillingStatus: models.BillingStatusActive}
	if errCreate := conn.Create(&other).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}

	if _, errRedeem := svc.Redeem(ctx, userID, code.Code); errRedeem != nil {
		t.Fatalf("first user redeem: %v", errRedeem)
	}
	if _, errRedeem := svc.Redeem(ctx, other.ID, code.Code); errRedeem != nil {
		t.Fatalf("second user redeem: %v", errRedeem)
	}

	// Cap of 2 is now reached.
	third := models.User{Email: "third@example.com", BillingStatus: models.BillingStatusActive}
	if errCreate := conn.Create(&third).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}
	if _, errRedeem := svc.Redeem(ctx, third.ID, code.Code); !errors.Is(errRedeem, ErrCodeExhausted) {
		t.Fatalf("expected ErrCodeExhausted, got %v", errRedeem)
	}
}

func TestSignInOncePerDay(t *testing.T) {
	svc, conn, userID := newPromoFixture(t)
	ctx := context.Background()

	amount, errSignIn := svc.SignIn(ctx, userID)
	if errSignIn != nil {
		t.Fatalf("sign in: %v", errSignIn)
	}
	cfg := settings.NewService(nil, 0).Current(ctx).SignIn
	if amount < cfg.Min || amount > cfg.Max {
		t.Fatalf("reward %d outside [%d, %d]", amount, cfg.Min, cfg.Max)
	}
	if got := promoBalance(t, conn, userID); got != amount {
		t.Fatalf("balance %d does not match reward %d", got, amount)
	}

	if _, errAgain := svc.SignIn(ctx, userID); !errors.Is(errAgain, ErrAlreadySignedIn) {
		t.Fatalf("expected ErrAlreadySignedIn, got %v", errAgain)
	}

	var logCount int64
	conn.Model(&models.BillingLog{}).Where("log_type = ?", models.LogTypeSignIn).Count(&logCount)
	if logCount != 1 {
		t.Fatalf("expected one sign-in log, got %d", logCount)
	}
}
