package models

// Billing log types recorded for every ledger mutation.
const (
	// LogTypeDeduct marks a direct post-paid deduction.
	LogTypeDeduct = "deduct"
	// LogTypePrecharge marks a balance reservation.
	LogTypePrecharge = "precharge"
	// LogTypeSettle marks a reservation capture with refund of the difference.
	LogTypeSettle = "settle"
	// LogTypeRefund marks a full reservation reversal.
	LogTypeRefund = "refund"
	// LogTypeRecharge marks a balance credit.
	LogTypeRecharge = "recharge"
	// LogTypeRAG marks a retrieval side-charge.
	LogTypeRAG = "RAG"
	// LogTypeDeductSummary marks a summarization side-charge.
	LogTypeDeductSummary = "deduct_summary"
	// LogTypeRedeem marks a redeem-code credit.
	LogTypeRedeem = "redeem"
	// LogTypeSignIn marks a daily sign-in reward credit.
	LogTypeSignIn = "sign_in"
	// LogTypeRebate marks an invite-rebate credit.
	LogTypeRebate = "rebate"
	// LogTypeFirstRecharge marks a first-recharge bonus credit.
	LogTypeFirstRecharge = "first_recharge"
)

// BillingLog is the append-only audit trail; one row per ledger
// mutation, never updated after insert.
type BillingLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID  uint64 `gorm:"not null;index"`     // Owning user.
	ModelID string `gorm:"type:text;index"`    // Model billed, when applicable.

	PromptTokens     int64 `gorm:"not null;default:0"` // Prompt tokens billed.
	CompletionTokens int64 `gorm:"not null;default:0"` // Completion tokens billed.
	EstimatedTokens  int64 `gorm:"not null;default:0"` // Estimated tokens at precharge time.

	TotalCost    int64 `gorm:"not null;default:0"` // Signed cost in minor units (credits negative).
	RefundAmount int64 `gorm:"not null;default:0"` // Refund in minor units, settle rows only.
	BalanceAfter int64 `gorm:"not null;default:0"` // Balance after the mutation.

	LogType string `gorm:"type:text;not null;index"` // One of the LogType constants.
	Status  string `gorm:"type:text"`                // Free-form status marker.

	PrechargeID string `gorm:"type:varchar(64);index"` // Correlates precharge and settle rows.

	CreatedAtNanos int64 `gorm:"not null;index"` // Nanosecond creation timestamp.
}
