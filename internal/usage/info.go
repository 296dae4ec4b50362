package usage

import "encoding/json"

// Info is the canonical token-count structure normalized from
// heterogeneous provider usage payloads.
type Info struct {
	PromptTokens        int64 `json:"prompt_tokens"`
	CompletionTokens    int64 `json:"completion_tokens"`
	CachedTokens        int64 `json:"cached_tokens"`
	CacheCreationTokens int64 `json:"cache_creation_tokens"`
	ReasoningTokens     int64 `json:"reasoning_tokens"`
	AudioInputTokens    int64 `json:"audio_input_tokens"`
	AudioOutputTokens   int64 `json:"audio_output_tokens"`
	ImageTokens         int64 `json:"image_tokens"`

	// Raw keeps the last provider payload for debugging; it never
	// participates in billing.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// TotalPrompt returns the billable prompt-side total.
func (i Info) TotalPrompt() int64 {
	return i.PromptTokens + i.CachedTokens + i.CacheCreationTokens
}

// TotalCompletion returns the billable completion-side total.
func (i Info) TotalCompletion() int64 {
	return i.CompletionTokens + i.ReasoningTokens
}

// IsZero reports whether no token field carries a value.
func (i Info) IsZero() bool {
	return i.PromptTokens == 0 && i.CompletionTokens == 0 &&
		i.CachedTokens == 0 && i.CacheCreationTokens == 0 &&
		i.ReasoningTokens == 0 && i.AudioInputTokens == 0 &&
		i.AudioOutputTokens == 0 && i.ImageTokens == 0
}

// Merge combines two readings component-wise by max. Streamed chunks
// report running totals, so a later chunk never decreases the
// accumulated value.
func Merge(a, b Info) Info {
	out := Info{
		PromptTokens:        maxInt64(a.PromptTokens, b.PromptTokens),
		CompletionTokens:    maxInt64(a.CompletionTokens, b.CompletionTokens),
		CachedTokens:        maxInt64(a.CachedTokens, b.CachedTokens),
		CacheCreationTokens: maxInt64(a.CacheCreationTokens, b.CacheCreationTokens),
		ReasoningTokens:     maxInt64(a.ReasoningTokens, b.ReasoningTokens),
		AudioInputTokens:    maxInt64(a.AudioInputTokens, b.AudioInputTokens),
		AudioOutputTokens:   maxInt64(a.AudioOutputTokens, b.AudioOutputTokens),
		ImageTokens:         maxInt64(a.ImageTokens, b.ImageTokens),
		Raw:                 a.Raw,
	}
	if len(b.Raw) > 0 {
		out.Raw = b.Raw
	}
	return out
}

// MergeFrom folds another reading into the receiver by max.
func (i *Info) MergeFrom(other Info) {
	*i = Merge(*i, other)
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
