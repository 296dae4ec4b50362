package ledger

import (
	"context"
	"errors"
	"testing"

	dbpkg "github.com/ai-friend-coming/chatledger/internal/db"
	"github.com/ai-friend-coming/chatledger/internal/models"
	"github.com/ai-friend-coming/chatledger/internal/pricing"
	"github.com/ai-friend-coming/chatledger/internal/usage"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestEngine(t *testing.T, balance int64) (*Engine, *gorm.DB, uint64) {
	t.Helper()
	conn, errOpen := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	if errMigrate := dbpkg.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	user := models.User{Email: "test@example.com", Balance: balance, BillingStatus: models.BillingStatusActive}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}

	engine := NewEngine(conn, pricing.NewService(conn), nil)
	return engine, conn, user.ID
}

func userBalance(t *testing.T, conn *gorm.DB, userID uint64) int64 {
	t.Helper()
	var user models.User
	if errFind := conn.Take(&user, userID).Error; errFind != nil {
		t.Fatalf("load user: %v", errFind)
	}
	return user.Balance
}

func TestPrechargeSettleRoundTrip(t *testing.T) {
	// Default pricing: input=10000, output=20000 minor units per million
	// tokens. Estimate 100 prompt + 4096 max completion reserves
	// round(100*0.01 + 4096*0.02) = 83; actual 100+50 costs 2.
	engine, conn, userID := newTestEngine(t, 10_000)
	ctx := context.Background()

	pre, errPre := engine.Precharge(ctx, userID, "default", 100, 4096)
	if errPre != nil {
		t.Fatalf("precharge: %v", errPre)
	}
	if pre.ReservedCost != 83 {
		t.Fatalf("expected reserved=83, got %d", pre.ReservedCost)
	}
	if pre.BalanceAfter != 10_000-83 {
		t.Fatalf("expected balance=%d, got %d", 10_000-83, pre.BalanceAfter)
	}

	settle, errSettle := engine.Settle(ctx, pre.PrechargeID, usage.Info{PromptTokens: 100, CompletionTokens: 50})
	if errSettle != nil {
		t.Fatalf("settle: %v", errSettle)
	}
	if settle.ActualCost != 2 {
		t.Fatalf("expected actual=2, got %d", settle.ActualCost)
	}
	if settle.RefundAmount != 81 {
		t.Fatalf("expected refund=81, got %d", settle.RefundAmount)
	}
	if got := userBalance(t, conn, userID); got != 10_000-2 {
		t.Fatalf("ledger not conserved: balance=%d want %d", got, 10_000-2)
	}

	var settleLog models.BillingLog
	if errFind := conn.Where("log_type = ? AND precharge_id = ?", models.LogTypeSettle, pre.PrechargeID).
		Take(&settleLog).Error; errFind != nil {
		t.Fatalf("settle log missing: %v", errFind)
	}
	if settleLog.TotalCost != 2 || settleLog.RefundAmount != 81 {
		t.Fatalf("unexpected settle log: %+v", settleLog)
	}
}

func TestPrechargeInsufficientBalance(t *testing.T) {
	engine, conn, userID := newTestEngine(t, 10)
	ctx := context.Background()

	_, errPre := engine.Precharge(ctx, userID, "default", 100, 4096)
	if !errors.Is(errPre, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", errPre)
	}
	if got := userBalance(t, conn, userID); got != 10 {
		t.Fatalf("failed precharge moved money: balance=%d", got)
	}

	var count int64
	conn.Model(&models.BillingLog{}).Count(&count)
	if count != 0 {
		t.Fatalf("failed precharge wrote %d log rows", count)
	}
}

func TestPrechargeFrozenAccount(t *testing.T) {
	engine, conn, userID := newTestEngine(t, 10_000)
	if errUpdate := conn.Model(&models.User{}).Where("id = ?", userID).
		Update("billing_status", models.BillingStatusFrozen).Error; errUpdate != nil {
		t.Fatalf("freeze user: %v", errUpdate)
	}

	_, errPre := engine.Precharge(context.Background(), userID, "default", 10, 10)
	if !errors.Is(errPre, ErrAccountFrozen) {
		t.Fatalf("expected ErrAccountFrozen, got %v", errPre)
	}
}

func TestSettleConsumedOnlyOnce(t *testing.T) {
	engine, conn, userID := newTestEngine(t, 10_000)
	ctx := context.Background()

	pre, errPre := engine.Precharge(ctx, userID, "default", 100, 100)
	if errPre != nil {
		t.Fatalf("precharge: %v", errPre)
	}

	if _, errSettle := engine.Settle(ctx, pre.PrechargeID, usage.Info{PromptTokens: 100, CompletionTokens: 10}); errSettle != nil {
		t.Fatalf("first settle: %v", errSettle)
	}
	balanceAfterFirst := userBalance(t, conn, userID)

	_, errSecond := engine.Settle(ctx, pre.PrechargeID, usage.Info{PromptTokens: 100, CompletionTokens: 10})
	if !errors.Is(errSecond, ErrPrechargeConsumed) {
		t.Fatalf("expected ErrPrechargeConsumed, got %v", errSecond)
	}
	if _, errRefund := engine.Refund(ctx, pre.PrechargeID); !errors.Is(errRefund, ErrPrechargeConsumed) {
		t.Fatalf("expected ErrPrechargeConsumed on refund after settle, got %v", errRefund)
	}
	if got := userBalance(t, conn, userID); got != balanceAfterFirst {
		t.Fatalf("second consume moved money: %d vs %d", got, balanceAfterFirst)
	}
}

func TestRefundFullyReverses(t *testing.T) {
	engine, conn, userID := newTestEngine(t, 5_000)
	ctx := context.Background()

	pre, errPre := engine.Precharge(ctx, userID, "default", 200, 2048)
	if errPre != nil {
		t.Fatalf("precharge: %v", errPre)
	}

	refund, errRefund := engine.Refund(ctx, pre.PrechargeID)
	if errRefund != nil {
		t.Fatalf("refund: %v", errRefund)
	}
	if refund.ActualCost != 0 || refund.RefundAmount != pre.ReservedCost {
		t.Fatalf("unexpected refund result: %+v", refund)
	}
	if got := userBalance(t, conn, userID); got != 5_000 {
		t.Fatalf("refund did not restore balance: %d", got)
	}

	var refundLog models.BillingLog
	if errFind := conn.Where("log_type = ?", models.LogTypeRefund).Take(&refundLog).Error; errFind != nil {
		t.Fatalf("refund log missing: %v", errFind)
	}
}

func TestSettleActualExceedsEstimate(t *testing.T) {
	engine, conn, userID := newTestEngine(t, 10_000)
	ctx := context.Background()

	pre, errPre := engine.Precharge(ctx, userID, "default", 100, 100)
	if errPre != nil {
		t.Fatalf("precharge: %v", errPre)
	}

	// 10k prompt + 10k completion = 100 + 200 = 300 > reserved.
	settle, errSettle := engine.Settle(ctx, pre.PrechargeID, usage.Info{PromptTokens: 10_000, CompletionTokens: 10_000})
	if errSettle != nil {
		t.Fatalf("settle: %v", errSettle)
	}
	if settle.RefundAmount >= 0 {
		t.Fatalf("expected negative refund (extra debit), got %d", settle.RefundAmount)
	}
	if got := userBalance(t, conn, userID); got != 10_000-settle.ActualCost {
		t.Fatalf("user charged wrong total: balance=%d actual=%d", got, settle.ActualCost)
	}
}

func TestDeductAndTrustQuota(t *testing.T) {
	engine, conn, userID := newTestEngine(t, 200)
	ctx := context.Background()

	// Below the trust threshold with insufficient funds: rejected.
	_, errDeduct := engine.Deduct(ctx, userID, "default", usage.Info{PromptTokens: 1_000_000}, models.LogTypeDeduct)
	if !errors.Is(errDeduct, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", errDeduct)
	}

	trusted, errTrust := engine.TrustQuota(ctx, userID)
	if errTrust != nil {
		t.Fatalf("trust quota: %v", errTrust)
	}
	if trusted {
		t.Fatalf("low-balance user should not be trusted")
	}

	// Above the threshold: trusted, and may overdraw.
	if errUpdate := conn.Model(&models.User{}).Where("id = ?", userID).
		Update("balance", DefaultTrustQuotaThreshold+1).Error; errUpdate != nil {
		t.Fatalf("raise balance: %v", errUpdate)
	}
	trusted, errTrust = engine.TrustQuota(ctx, userID)
	if errTrust != nil || !trusted {
		t.Fatalf("expected trusted user, got %v %v", trusted, errTrust)
	}

	res, errDeduct := engine.Deduct(ctx, userID, "default", usage.Info{PromptTokens: 1_000_000, CompletionTokens: 1_000_000}, models.LogTypeDeduct)
	if errDeduct != nil {
		t.Fatalf("trusted deduct: %v", errDeduct)
	}
	if res.Cost != 30_000 {
		t.Fatalf("expected cost=30000, got %d", res.Cost)
	}
}

func TestRechargeUnfreezes(t *testing.T) {
	engine, conn, userID := newTestEngine(t, 0)
	ctx := context.Background()

	if errUpdate := conn.Model(&models.User{}).Where("id = ?", userID).
		Update("billing_status", models.BillingStatusFrozen).Error; errUpdate != nil {
		t.Fatalf("freeze user: %v", errUpdate)
	}

	balance, errRecharge := engine.Recharge(ctx, userID, 500, 1, "manual top-up")
	if errRecharge != nil {
		t.Fatalf("recharge: %v", errRecharge)
	}
	if balance != 500 {
		t.Fatalf("expected balance=500, got %d", balance)
	}

	var user models.User
	if errFind := conn.Take(&user, userID).Error; errFind != nil {
		t.Fatalf("load user: %v", errFind)
	}
	if user.BillingStatus != models.BillingStatusActive {
		t.Fatalf("recharge above minimum should unfreeze, status=%s", user.BillingStatus)
	}
}

func TestLedgerConservationAcrossSequences(t *testing.T) {
	engine, conn, userID := newTestEngine(t, 100_000)
	ctx := context.Background()

	var totalActual int64
	for i := 0; i < 5; i++ {
		pre, errPre := engine.Precharge(ctx, userID, "default", 500, 2048)
		if errPre != nil {
			t.Fatalf("precharge %d: %v", i, errPre)
		}
		if i%2 == 0 {
			settle, errSettle := engine.Settle(ctx, pre.PrechargeID, usage.Info{PromptTokens: 500, CompletionTokens: 300})
			if errSettle != nil {
				t.Fatalf("settle %d: %v", i, errSettle)
			}
			totalActual += settle.ActualCost
		} else {
			if _, errRefund := engine.Refund(ctx, pre.PrechargeID); errRefund != nil {
				t.Fatalf("refund %d: %v", i, errRefund)
			}
		}
	}

	if got := userBalance(t, conn, userID); got != 100_000-totalActual {
		t.Fatalf("conservation violated: balance=%d want %d", got, 100_000-totalActual)
	}
}
