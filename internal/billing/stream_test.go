package billing

import (
	"bytes"
	"context"
	"io"
	"testing"

	dbpkg "github.com/ai-friend-coming/chatledger/internal/db"
	"github.com/ai-friend-coming/chatledger/internal/ledger"
	"github.com/ai-friend-coming/chatledger/internal/models"
	"github.com/ai-friend-coming/chatledger/internal/pricing"
	"github.com/ai-friend-coming/chatledger/internal/usage"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newBillingFixture(t *testing.T, balance int64) (*ledger.Engine, *gorm.DB, uint64) {
	t.Helper()
	conn, errOpen := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	if errMigrate := dbpkg.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	user := models.User{Email: "stream@example.com", Balance: balance, BillingStatus: models.BillingStatusActive}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}
	return ledger.NewEngine(conn, pricing.NewService(conn), nil), conn, user.ID
}

func fetchBalance(t *testing.T, conn *gorm.DB, userID uint64) int64 {
	t.Helper()
	var user models.User
	if errFind := conn.Take(&user, userID).Error; errFind != nil {
		t.Fatalf("load user: %v", errFind)
	}
	return user.Balance
}

func TestContextSettleIdempotent(t *testing.T) {
	engine, conn, userID := newBillingFixture(t, 10_000)
	ctx := context.Background()

	bc := NewContext(engine, userID, "default", true)
	if errPre := bc.Precharge(ctx, 100, 4096); errPre != nil {
		t.Fatalf("precharge: %v", errPre)
	}
	bc.UpdateUsage(usage.Info{PromptTokens: 100, CompletionTokens: 50})

	bc.Settle(ctx)
	balance := fetchBalance(t, conn, userID)
	if balance != 10_000-2 {
		t.Fatalf("expected balance=%d, got %d", 10_000-2, balance)
	}

	// Second settle and a late refund are both no-ops.
	bc.Settle(ctx)
	bc.Refund(ctx)
	if got := fetchBalance(t, conn, userID); got != balance {
		t.Fatalf("repeat terminal ops moved money: %d vs %d", got, balance)
	}

	var settleCount int64
	conn.Model(&models.BillingLog{}).Where("log_type = ?", models.LogTypeSettle).Count(&settleCount)
	if settleCount != 1 {
		t.Fatalf("expected exactly one settle log, got %d", settleCount)
	}
}

func TestContextRefundReverses(t *testing.T) {
	engine, conn, userID := newBillingFixture(t, 10_000)
	ctx := context.Background()

	bc := NewContext(engine, userID, "default", true)
	if errPre := bc.Precharge(ctx, 100, 100); errPre != nil {
		t.Fatalf("precharge: %v", errPre)
	}
	bc.Refund(ctx)
	if got := fetchBalance(t, conn, userID); got != 10_000 {
		t.Fatalf("refund did not restore balance: %d", got)
	}
	bc.Settle(ctx)
	if got := fetchBalance(t, conn, userID); got != 10_000 {
		t.Fatalf("settle after refund moved money: %d", got)
	}
}

func TestContextDisabledIsFree(t *testing.T) {
	engine, conn, userID := newBillingFixture(t, 10_000)
	ctx := context.Background()

	bc := NewContext(engine, userID, "default", false)
	if errPre := bc.Precharge(ctx, 1_000_000, 1_000_000); errPre != nil {
		t.Fatalf("disabled precharge should be a no-op: %v", errPre)
	}
	bc.UpdateUsage(usage.Info{PromptTokens: 1_000_000})
	bc.Settle(ctx)

	if got := fetchBalance(t, conn, userID); got != 10_000 {
		t.Fatalf("disabled context moved money: %d", got)
	}
	var count int64
	conn.Model(&models.BillingLog{}).Count(&count)
	if count != 0 {
		t.Fatalf("disabled context wrote %d log rows", count)
	}
}

func TestContextFallbackEstimateWhenNoUsage(t *testing.T) {
	engine, conn, userID := newBillingFixture(t, 10_000)
	ctx := context.Background()

	bc := NewContext(engine, userID, "default", true)
	if errPre := bc.Precharge(ctx, 1000, 4096); errPre != nil {
		t.Fatalf("precharge: %v", errPre)
	}
	bc.AddContent("hello world, this is a streamed reply without a usage object")
	bc.Settle(ctx)

	var settleLog models.BillingLog
	if errFind := conn.Where("log_type = ?", models.LogTypeSettle).Take(&settleLog).Error; errFind != nil {
		t.Fatalf("settle log missing: %v", errFind)
	}
	// Prompt side falls back to the precharge estimate, so at least the
	// prompt cost of 1000 tokens (10 minor units) is charged.
	if settleLog.TotalCost < 10 {
		t.Fatalf("fallback settle undercharged: %d", settleLog.TotalCost)
	}
	if settleLog.PromptTokens != 1000 {
		t.Fatalf("expected prompt fallback 1000, got %d", settleLog.PromptTokens)
	}
}

type chunkReader struct {
	chunks [][]byte
	pos    int
	closed bool
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.chunks) {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[r.pos])
	r.pos++
	return n, nil
}

func (r *chunkReader) Close() error {
	r.closed = true
	return nil
}

func sseChunk(data string) []byte {
	return []byte("data: " + data + "\n\n")
}

func TestStreamBillerSettlesOnEOF(t *testing.T) {
	engine, conn, userID := newBillingFixture(t, 10_000)
	ctx := context.Background()

	bc := NewContext(engine, userID, "default", true)
	if errPre := bc.Precharge(ctx, 100, 4096); errPre != nil {
		t.Fatalf("precharge: %v", errPre)
	}

	upstream := &chunkReader{chunks: [][]byte{
		sseChunk(`{"choices":[{"delta":{"content":"hi"}}]}`),
		sseChunk(`{"usage":{"prompt_tokens":100,"completion_tokens":50}}`),
		[]byte("data: [DONE]\n\n"),
	}}
	wrapped := NewStreamBiller(ctx, upstream, bc)

	var out bytes.Buffer
	if _, errCopy := io.Copy(&out, wrapped); errCopy != nil {
		t.Fatalf("drain stream: %v", errCopy)
	}
	if errClose := wrapped.Close(); errClose != nil {
		t.Fatalf("close: %v", errClose)
	}

	// Bytes pass through unchanged.
	if !bytes.Contains(out.Bytes(), []byte(`"content":"hi"`)) {
		t.Fatalf("stream bytes were altered: %s", out.String())
	}
	if !upstream.closed {
		t.Fatalf("upstream body was not closed")
	}
	if got := fetchBalance(t, conn, userID); got != 10_000-2 {
		t.Fatalf("expected balance=%d, got %d", 10_000-2, got)
	}
}

func TestStreamBillerSettlesOnClientDisconnect(t *testing.T) {
	// Client disconnects after two of ten chunks, having seen partial
	// usage (prompt=50, completion=10). Closing the wrapper must still
	// settle with that partial usage.
	engine, conn, userID := newBillingFixture(t, 10_000)
	reqCtx, cancel := context.WithCancel(context.Background())

	bc := NewContext(engine, userID, "default", true)
	if errPre := bc.Precharge(reqCtx, 100, 4096); errPre != nil {
		t.Fatalf("precharge: %v", errPre)
	}
	reserved := int64(83)

	upstream := &chunkReader{chunks: [][]byte{
		sseChunk(`{"choices":[{"delta":{"content":"partial"}}]}`),
		sseChunk(`{"usage":{"prompt_tokens":50,"completion_tokens":10}}`),
		sseChunk(`{"choices":[{"delta":{"content":"never read"}}]}`),
	}}
	wrapped := NewStreamBiller(reqCtx, upstream, bc)

	buf := make([]byte, 4096)
	for i := 0; i < 2; i++ {
		if _, errRead := wrapped.Read(buf); errRead != nil {
			t.Fatalf("read chunk %d: %v", i, errRead)
		}
	}
	cancel()
	if errClose := wrapped.Close(); errClose != nil {
		t.Fatalf("close: %v", errClose)
	}

	var settleLog models.BillingLog
	if errFind := conn.Where("log_type = ?", models.LogTypeSettle).Take(&settleLog).Error; errFind != nil {
		t.Fatalf("settle log missing: %v", errFind)
	}
	if settleLog.PrechargeID == "" {
		t.Fatalf("settle log missing precharge correlator")
	}
	// 50 prompt + 10 completion costs round(0.5+0.2) = 1: non-zero and
	// not the reservation amount.
	if settleLog.TotalCost != 1 {
		t.Fatalf("expected partial cost=1, got %d", settleLog.TotalCost)
	}
	if settleLog.TotalCost == reserved {
		t.Fatalf("settled at reservation instead of partial usage")
	}
	if got := fetchBalance(t, conn, userID); got != 10_000-1 {
		t.Fatalf("expected balance=%d, got %d", 10_000-1, got)
	}

	// Redundant close after settlement stays a no-op.
	if errClose := wrapped.Close(); errClose != nil {
		t.Fatalf("second close: %v", errClose)
	}
	var settleCount int64
	conn.Model(&models.BillingLog{}).Where("log_type = ?", models.LogTypeSettle).Count(&settleCount)
	if settleCount != 1 {
		t.Fatalf("settled %d times", settleCount)
	}
}
