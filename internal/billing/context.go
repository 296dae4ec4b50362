// Package billing ties a single chat turn to the ledger: a Context carries
// the precharge reservation through the request, accumulates streamed usage,
// and guarantees the reservation is settled or refunded exactly once.
package billing

import (
	"context"
	"errors"
	"sync"

	"github.com/ai-friend-coming/chatledger/internal/ledger"
	"github.com/ai-friend-coming/chatledger/internal/pricing"
	"github.com/ai-friend-coming/chatledger/internal/usage"

	log "github.com/sirupsen/logrus"
)

var errNotPrecharged = errors.New("billing: settle without a precharge")

// Context tracks the billing state of one LLM call. The zero value is not
// usable; construct with NewContext. A disabled context short-circuits every
// operation to a no-op, which is how bring-your-own-key requests stay free.
type Context struct {
	engine  *ledger.Engine
	enabled bool

	userID  uint64
	modelID string

	mu         sync.Mutex
	precharged bool
	settled    bool

	prechargeID     string
	estimatedPrompt int64
	observed        usage.Info

	// Fallback material when the provider never echoes a usage object.
	accumulatedContent int64
}

// NewContext returns a billing context for one call against the given user
// and model. Pass enabled=false for requests billed outside the ledger.
func NewContext(engine *ledger.Engine, userID uint64, modelID string, enabled bool) *Context {
	return &Context{
		engine:  engine,
		enabled: enabled,
		userID:  userID,
		modelID: modelID,
	}
}

// Precharge reserves the estimated cost. Errors propagate so the caller can
// reject the request before any provider spend happens.
func (c *Context) Precharge(ctx context.Context, estimatedPromptTokens, maxCompletionTokens int64) error {
	if !c.enabled {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.precharged {
		return nil
	}

	result, errPre := c.engine.Precharge(ctx, c.userID, c.modelID, estimatedPromptTokens, maxCompletionTokens)
	if errPre != nil {
		return errPre
	}

	c.precharged = true
	c.prechargeID = result.PrechargeID
	c.estimatedPrompt = estimatedPromptTokens
	return nil
}

// UpdateUsage merges an observed usage snapshot into the running total.
// Merging is component-wise max, so repeated partial snapshots from a
// stream never decrease the accumulated value.
func (c *Context) UpdateUsage(u usage.Info) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	c.observed.MergeFrom(u)
	c.mu.Unlock()
}

// AddContent records streamed completion text for fallback estimation.
func (c *Context) AddContent(text string) {
	if !c.enabled || text == "" {
		return
	}
	tokens := pricing.EstimateTextTokens(text)
	c.mu.Lock()
	c.accumulatedContent += tokens
	c.mu.Unlock()
}

// Settle captures the final cost and refunds the difference. It is
// idempotent, and it never returns an error: settlement runs on stream-close
// and cancellation paths where a raised error would mask the stream's real
// outcome, so failures are logged and absorbed here.
func (c *Context) Settle(ctx context.Context) {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	if c.settled {
		c.mu.Unlock()
		return
	}
	if !c.precharged {
		c.settled = true
		c.mu.Unlock()
		log.WithError(errNotPrecharged).Warn("billing settle skipped")
		return
	}
	c.settled = true
	actual := c.observed
	if actual.IsZero() {
		// The provider never reported usage. Charge the prompt estimate
		// plus whatever completion text we counted ourselves.
		actual = usage.Info{
			PromptTokens:     c.estimatedPrompt,
			CompletionTokens: c.accumulatedContent,
		}
	}
	prechargeID := c.prechargeID
	c.mu.Unlock()

	result, errSettle := c.engine.Settle(ctx, prechargeID, actual)
	if errSettle != nil {
		if errors.Is(errSettle, ledger.ErrPrechargeConsumed) {
			log.WithField("precharge_id", prechargeID).Info("precharge already consumed")
			return
		}
		log.WithError(errSettle).WithField("precharge_id", prechargeID).Error("billing settle failed")
		return
	}
	log.Debugf("settled precharge %s: cost=%d refund=%d", prechargeID, result.ActualCost, result.RefundAmount)
}

// Refund fully reverses the reservation. Like Settle it is idempotent and
// absorbs errors; use it when the provider call failed before producing
// anything billable.
func (c *Context) Refund(ctx context.Context) {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	if c.settled || !c.precharged {
		c.settled = true
		c.mu.Unlock()
		return
	}
	c.settled = true
	prechargeID := c.prechargeID
	c.mu.Unlock()

	if _, errRefund := c.engine.Refund(ctx, prechargeID); errRefund != nil {
		if errors.Is(errRefund, ledger.ErrPrechargeConsumed) {
			return
		}
		log.WithError(errRefund).WithField("precharge_id", prechargeID).Error("billing refund failed")
	}
}

// Settled reports whether the reservation reached a terminal state.
func (c *Context) Settled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settled
}
