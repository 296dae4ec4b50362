package pricing

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Per-message structural overhead applied by chat completion formats.
const (
	perMessageOverheadTokens = 4
	perReplyPrimerTokens     = 2
)

// Image token counts by resolution tier.
const (
	imageTokensSmall  = 85   // Up to 512px on the longest edge.
	imageTokensMedium = 765  // Up to 1024px.
	imageTokensLarge  = 1105 // Anything bigger.
)

// videoTokensPerSecond approximates sampled-frame token usage.
const videoTokensPerSecond = 263

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

// loadCodec initializes the shared subword tokenizer once; failures
// leave codec nil and estimation falls back to a rune heuristic.
func loadCodec() tokenizer.Codec {
	codecOnce.Do(func() {
		c, errGet := tokenizer.Get(tokenizer.Cl100kBase)
		if errGet != nil {
			return
		}
		codec = c
	})
	return codec
}

// EstimateTextTokens counts subword tokens in text, approximating with
// runes/4 when the tokenizer is unavailable.
func EstimateTextTokens(text string) int64 {
	if text == "" {
		return 0
	}
	if c := loadCodec(); c != nil {
		if n, errCount := c.Count(text); errCount == nil {
			return int64(n)
		}
	}
	return int64(len([]rune(text))+3) / 4
}

// EstimateMessagesTokens estimates the prompt tokens of a message list,
// including the per-message format overhead.
func EstimateMessagesTokens(contents []string) int64 {
	var total int64 = perReplyPrimerTokens
	for _, content := range contents {
		total += perMessageOverheadTokens
		total += EstimateTextTokens(content)
	}
	return total
}

// EstimateImageTokens returns the flat token count for one image given
// its pixel dimensions.
func EstimateImageTokens(width, height int) int64 {
	longest := width
	if height > longest {
		longest = height
	}
	switch {
	case longest <= 512:
		return imageTokensSmall
	case longest <= 1024:
		return imageTokensMedium
	default:
		return imageTokensLarge
	}
}

// EstimateFileTokens approximates tokens for an attached file by size.
func EstimateFileTokens(sizeBytes int64) int64 {
	if sizeBytes <= 0 {
		return 0
	}
	return (sizeBytes + 3) / 4
}

// EstimateVideoTokens approximates tokens for a video by duration.
func EstimateVideoTokens(durationSeconds int64) int64 {
	if durationSeconds <= 0 {
		return 0
	}
	return durationSeconds * videoTokensPerSecond
}
