package summary

import (
	"fmt"
	"strings"

	"github.com/ai-friend-coming/chatledger/internal/models"
	"github.com/ai-friend-coming/chatledger/internal/pricing"
)

// window is a contiguous run of messages destined for one summary chunk.
type window struct {
	Messages []models.Message
	Tokens   int64
}

// first and last return the window's boundary messages; callers only build
// windows through splitByBudget, which never emits an empty one.
func (w window) first() models.Message { return w.Messages[0] }
func (w window) last() models.Message  { return w.Messages[len(w.Messages)-1] }

// renderTranscript flattens a window into the prompt fed to the summarizer.
func (w window) renderTranscript() string {
	var b strings.Builder
	for _, msg := range w.Messages {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}
	return b.String()
}

// messageTokens estimates one message's token weight including the
// per-message framing overhead.
func messageTokens(msg models.Message) int64 {
	return pricing.EstimateTextTokens(msg.Content) + 4
}

// splitByBudget partitions messages oldest to newest into windows by a
// token-budget cascade: the first window may grow to firstBudget, every
// later one to restBudget. A single message larger than the budget still
// gets its own window rather than being dropped.
func splitByBudget(messages []models.Message, firstBudget, restBudget int64) []window {
	if len(messages) == 0 {
		return nil
	}

	var out []window
	budget := firstBudget
	current := window{}
	for _, msg := range messages {
		tokens := messageTokens(msg)
		if len(current.Messages) > 0 && current.Tokens+tokens > budget {
			out = append(out, current)
			current = window{}
			budget = restBudget
		}
		current.Messages = append(current.Messages, msg)
		current.Tokens += tokens
	}
	out = append(out, current)
	return out
}

// totalTokens sums the estimated token weight of a message run.
func totalTokens(messages []models.Message) int64 {
	var sum int64
	for _, msg := range messages {
		sum += messageTokens(msg)
	}
	return sum
}
