package usage

import (
	"bytes"
	"encoding/json"
	"strings"

	log "github.com/sirupsen/logrus"
)

// extractor reads one vendor shape out of a usage payload and returns
// nil when the shape is absent. Extractors are pure and fold
// left-to-right with a prefer-non-zero merge, so a zero-valued field in
// a later shape never clobbers a valid earlier reading.
type extractor func(payload []byte) *Info

// extractors lists the recognized vendor shapes in fold order.
var extractors = []extractor{
	extractOpenAIShape,
	extractAlternateShape,
	extractGeminiShape,
}

// ParsePayload normalizes a provider-shaped usage object into an Info,
// or nil when nothing in the payload looks like usage. It never fails;
// malformed input degrades to "no usage found".
func ParsePayload(payload []byte) *Info {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return nil
	}

	var out Info
	found := false
	for _, extract := range extractors {
		partial := extract(trimmed)
		if partial == nil {
			continue
		}
		found = true
		fillNonZero(&out, *partial)
	}
	if !found || out.IsZero() {
		return nil
	}
	out.Raw = json.RawMessage(bytes.Clone(trimmed))
	return &out
}

// fillNonZero overrides dst fields with non-zero src values; zero src
// values never clobber an existing reading.
func fillNonZero(dst *Info, src Info) {
	if src.PromptTokens != 0 {
		dst.PromptTokens = src.PromptTokens
	}
	if src.CompletionTokens != 0 {
		dst.CompletionTokens = src.CompletionTokens
	}
	if src.CachedTokens != 0 {
		dst.CachedTokens = src.CachedTokens
	}
	if src.CacheCreationTokens != 0 {
		dst.CacheCreationTokens = src.CacheCreationTokens
	}
	if src.ReasoningTokens != 0 {
		dst.ReasoningTokens = src.ReasoningTokens
	}
	if src.AudioInputTokens != 0 {
		dst.AudioInputTokens = src.AudioInputTokens
	}
	if src.AudioOutputTokens != 0 {
		dst.AudioOutputTokens = src.AudioOutputTokens
	}
	if src.ImageTokens != 0 {
		dst.ImageTokens = src.ImageTokens
	}
}

// extractOpenAIShape reads the chat-completions usage object, including
// nested prompt/completion token details.
func extractOpenAIShape(payload []byte) *Info {
	var shape struct {
		PromptTokens        int64 `json:"prompt_tokens"`
		CompletionTokens    int64 `json:"completion_tokens"`
		PromptTokensDetails *struct {
			CachedTokens int64 `json:"cached_tokens"`
			AudioTokens  int64 `json:"audio_tokens"`
			ImageTokens  int64 `json:"image_tokens"`
		} `json:"prompt_tokens_details"`
		CompletionTokensDetails *struct {
			ReasoningTokens int64 `json:"reasoning_tokens"`
			AudioTokens     int64 `json:"audio_tokens"`
		} `json:"completion_tokens_details"`
	}
	if errUnmarshal := json.Unmarshal(payload, &shape); errUnmarshal != nil {
		return nil
	}
	if shape.PromptTokens == 0 && shape.CompletionTokens == 0 &&
		shape.PromptTokensDetails == nil && shape.CompletionTokensDetails == nil {
		return nil
	}

	out := Info{
		PromptTokens:     shape.PromptTokens,
		CompletionTokens: shape.CompletionTokens,
	}
	if shape.PromptTokensDetails != nil {
		out.CachedTokens = shape.PromptTokensDetails.CachedTokens
		out.AudioInputTokens = shape.PromptTokensDetails.AudioTokens
		out.ImageTokens = shape.PromptTokensDetails.ImageTokens
	}
	if shape.CompletionTokensDetails != nil {
		out.ReasoningTokens = shape.CompletionTokensDetails.ReasoningTokens
		out.AudioOutputTokens = shape.CompletionTokensDetails.AudioTokens
	}
	return &out
}

// extractAlternateShape reads the input_tokens/output_tokens naming
// family, including anthropic-style cache fields.
func extractAlternateShape(payload []byte) *Info {
	var shape struct {
		InputTokens        int64 `json:"input_tokens"`
		OutputTokens       int64 `json:"output_tokens"`
		InputTokensDetails *struct {
			CachedTokens int64 `json:"cached_tokens"`
		} `json:"input_tokens_details"`
		CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
		CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	}
	if errUnmarshal := json.Unmarshal(payload, &shape); errUnmarshal != nil {
		return nil
	}
	if shape.InputTokens == 0 && shape.OutputTokens == 0 &&
		shape.CacheReadInputTokens == 0 && shape.CacheCreationInputTokens == 0 {
		return nil
	}

	out := Info{
		PromptTokens:        shape.InputTokens,
		CompletionTokens:    shape.OutputTokens,
		CachedTokens:        shape.CacheReadInputTokens,
		CacheCreationTokens: shape.CacheCreationInputTokens,
	}
	if shape.InputTokensDetails != nil && shape.InputTokensDetails.CachedTokens != 0 {
		out.CachedTokens = shape.InputTokensDetails.CachedTokens
	}
	return &out
}

// extractGeminiShape reads the candidates/thoughts counting family in
// both snake_case and camelCase spellings.
func extractGeminiShape(payload []byte) *Info {
	type geminiCounts struct {
		PromptTokenCount        int64 `json:"prompt_token_count"`
		CandidatesTokenCount    int64 `json:"candidates_token_count"`
		ThoughtsTokenCount      int64 `json:"thoughts_token_count"`
		CachedContentTokenCount int64 `json:"cached_content_token_count"`
	}
	type geminiCountsCamel struct {
		PromptTokenCount        int64 `json:"promptTokenCount"`
		CandidatesTokenCount    int64 `json:"candidatesTokenCount"`
		ThoughtsTokenCount      int64 `json:"thoughtsTokenCount"`
		CachedContentTokenCount int64 `json:"cachedContentTokenCount"`
	}

	var snake geminiCounts
	var camel geminiCountsCamel
	_ = json.Unmarshal(payload, &snake)
	_ = json.Unmarshal(payload, &camel)

	counts := geminiCounts{
		PromptTokenCount:        maxInt64(snake.PromptTokenCount, camel.PromptTokenCount),
		CandidatesTokenCount:    maxInt64(snake.CandidatesTokenCount, camel.CandidatesTokenCount),
		ThoughtsTokenCount:      maxInt64(snake.ThoughtsTokenCount, camel.ThoughtsTokenCount),
		CachedContentTokenCount: maxInt64(snake.CachedContentTokenCount, camel.CachedContentTokenCount),
	}
	if counts.PromptTokenCount == 0 && counts.CandidatesTokenCount == 0 &&
		counts.ThoughtsTokenCount == 0 && counts.CachedContentTokenCount == 0 {
		return nil
	}

	return &Info{
		PromptTokens:     counts.PromptTokenCount,
		CompletionTokens: counts.CandidatesTokenCount,
		ReasoningTokens:  counts.ThoughtsTokenCount,
		CachedTokens:     counts.CachedContentTokenCount,
	}
}

// sseDataPrefix marks payload lines in a server-sent-event stream.
const sseDataPrefix = "data: "

// sseDoneSentinel terminates an SSE stream.
const sseDoneSentinel = "[DONE]"

// ParseSSEChunk scans one raw SSE chunk for usage objects and merges
// every reading it finds. Lines without the data prefix, the [DONE]
// sentinel and malformed JSON are skipped silently; the parser is
// advisory and must never abort the billing flow.
func ParseSSEChunk(chunk []byte) *Info {
	var merged Info
	found := false

	for _, line := range strings.Split(string(chunk), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, sseDataPrefix) {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, sseDataPrefix))
		if data == "" || data == sseDoneSentinel {
			continue
		}
		if !json.Valid([]byte(data)) {
			log.Debugf("usage: skipping malformed sse line (%d bytes)", len(data))
			continue
		}

		if info := parseEventUsage([]byte(data)); info != nil {
			merged.MergeFrom(*info)
			found = true
		}
	}

	if !found {
		return nil
	}
	return &merged
}

// parseEventUsage locates the usage object inside one SSE event body.
func parseEventUsage(data []byte) *Info {
	var envelope struct {
		Usage         json.RawMessage `json:"usage"`
		UsageMetadata json.RawMessage `json:"usageMetadata"`
		Response      *struct {
			Usage json.RawMessage `json:"usage"`
		} `json:"response"`
		Message *struct {
			Usage json.RawMessage `json:"usage"`
		} `json:"message"`
	}
	if errUnmarshal := json.Unmarshal(data, &envelope); errUnmarshal != nil {
		return nil
	}

	var merged Info
	found := false
	for _, raw := range []json.RawMessage{
		envelope.Usage,
		envelope.UsageMetadata,
		responseUsage(envelope.Response),
		messageUsage(envelope.Message),
	} {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		if info := ParsePayload(raw); info != nil {
			merged.MergeFrom(*info)
			found = true
		}
	}
	if !found {
		return nil
	}
	return &merged
}

func responseUsage(r *struct {
	Usage json.RawMessage `json:"usage"`
}) json.RawMessage {
	if r == nil {
		return nil
	}
	return r.Usage
}

func messageUsage(m *struct {
	Usage json.RawMessage `json:"usage"`
}) json.RawMessage {
	if m == nil {
		return nil
	}
	return m.Usage
}
