package settings

// DB config keys and defaults for settings.
const (
	// TrustQuotaThresholdKey sets the balance above which precharge is skipped.
	TrustQuotaThresholdKey = "TRUST_QUOTA_THRESHOLD"
	// RechargeTiersKey lists the selectable recharge amounts in minor units.
	RechargeTiersKey = "RECHARGE_TIERS"
	// FirstRechargeTiersKey maps recharge tiers to one-time bonus amounts.
	FirstRechargeTiersKey = "FIRST_RECHARGE_TIERS"
	// InviteRebatePercentKey sets the inviter rebate as a percentage of the recharge.
	InviteRebatePercentKey = "INVITE_REBATE_PERCENT"
	// SignInRewardKey configures the daily sign-in reward distribution.
	SignInRewardKey = "SIGN_IN_REWARD"
	// SummaryKey configures the conversation summarization thresholds.
	SummaryKey = "SUMMARY"

	// DefaultTrustQuotaThreshold is the fallback trust threshold (100 major units).
	DefaultTrustQuotaThreshold int64 = 1_000_000
	// DefaultInviteRebatePercent is the fallback inviter rebate percentage.
	DefaultInviteRebatePercent int64 = 10

	// DefaultFirstChunkTokenBudget caps the first bootstrap chunk.
	DefaultFirstChunkTokenBudget int64 = 90_000
	// DefaultChunkTokenBudget caps every later chunk.
	DefaultChunkTokenBudget int64 = 10_000
	// DefaultRollingMinMessages is the floor of new messages before a rolling update.
	DefaultRollingMinMessages = 6
	// DefaultRollingMessageCeiling triggers a rolling update on message count alone.
	DefaultRollingMessageCeiling = 20
	// DefaultRollingTokenCeiling triggers a rolling update on token count alone.
	DefaultRollingTokenCeiling int64 = 4_000
	// DefaultRetrievalTopK bounds semantic chunk retrieval.
	DefaultRetrievalTopK = 3
	// DefaultRecentWindowTokenBudget bounds the verbatim recent-message window.
	DefaultRecentWindowTokenBudget int64 = 4_000
	// DefaultMaxParallelChunks bounds concurrent per-chunk summarization calls.
	DefaultMaxParallelChunks = 4
)
