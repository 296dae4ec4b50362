package usage

import (
	"encoding/json"
	"strings"
)

// ExtractDeltaContent pulls plain-text delta content out of an SSE
// chunk, used for fallback token estimation when a provider never
// returns a usage object. Best-effort; failures yield an empty string.
func ExtractDeltaContent(chunk []byte) string {
	var builder strings.Builder
	for _, data := range sseDataLines(chunk) {
		var event struct {
			Choices []struct {
				Delta *struct {
					Content string `json:"content"`
				} `json:"delta"`
				Message *struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
			Delta *struct {
				Text string `json:"text"`
			} `json:"delta"`
		}
		if errUnmarshal := json.Unmarshal(data, &event); errUnmarshal != nil {
			continue
		}
		for _, choice := range event.Choices {
			if choice.Delta != nil {
				builder.WriteString(choice.Delta.Content)
			} else if choice.Message != nil {
				builder.WriteString(choice.Message.Content)
			}
		}
		if event.Delta != nil {
			builder.WriteString(event.Delta.Text)
		}
	}
	return builder.String()
}

// ExtractReasoningContent pulls the reasoning/thinking delta text out
// of an SSE chunk, checking the alternate key names providers use.
func ExtractReasoningContent(chunk []byte) string {
	var builder strings.Builder
	for _, data := range sseDataLines(chunk) {
		var event struct {
			Choices []struct {
				Delta *struct {
					Reasoning        string `json:"reasoning"`
					ReasoningContent string `json:"reasoning_content"`
					Thinking         string `json:"thinking"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if errUnmarshal := json.Unmarshal(data, &event); errUnmarshal != nil {
			continue
		}
		for _, choice := range event.Choices {
			if choice.Delta == nil {
				continue
			}
			switch {
			case choice.Delta.ReasoningContent != "":
				builder.WriteString(choice.Delta.ReasoningContent)
			case choice.Delta.Reasoning != "":
				builder.WriteString(choice.Delta.Reasoning)
			case choice.Delta.Thinking != "":
				builder.WriteString(choice.Delta.Thinking)
			}
		}
	}
	return builder.String()
}

// sseDataLines returns the valid JSON payload lines of an SSE chunk.
func sseDataLines(chunk []byte) []json.RawMessage {
	var out []json.RawMessage
	for _, line := range strings.Split(string(chunk), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, sseDataPrefix) {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, sseDataPrefix))
		if data == "" || data == sseDoneSentinel || !json.Valid([]byte(data)) {
			continue
		}
		out = append(out, json.RawMessage(data))
	}
	return out
}
