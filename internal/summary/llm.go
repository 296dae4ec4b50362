package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ai-friend-coming/chatledger/internal/usage"
)

// summarizePrompt instructs the model; the transcript follows as the user
// message.
const summarizePrompt = "Summarize the following conversation segment. " +
	"Keep the facts, decisions, names and open questions; drop pleasantries. " +
	"Answer with the summary only."

// OpenAIClient talks to an OpenAI-compatible endpoint for chat completions
// and embeddings. It implements both Summarizer and Embedder.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	chatModel  string
	embedModel string
	httpClient *http.Client
}

// NewOpenAIClient builds a client for the given endpoint and models.
func NewOpenAIClient(baseURL, apiKey, chatModel, embedModel string) *OpenAIClient {
	return &OpenAIClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		chatModel:  chatModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage json.RawMessage `json:"usage"`
}

// Summarize implements Summarizer.
func (c *OpenAIClient) Summarize(ctx context.Context, transcript string) (string, usage.Info, error) {
	payload := chatRequest{
		Model: c.chatModel,
		Messages: []chatMessage{
			{Role: "system", Content: summarizePrompt},
			{Role: "user", Content: transcript},
		},
	}

	body, errCall := c.post(ctx, "/chat/completions", payload)
	if errCall != nil {
		return "", usage.Info{}, errCall
	}

	var resp chatResponse
	if errDecode := json.Unmarshal(body, &resp); errDecode != nil {
		return "", usage.Info{}, fmt.Errorf("summary: decode chat response: %w", errDecode)
	}
	if len(resp.Choices) == 0 {
		return "", usage.Info{}, fmt.Errorf("summary: chat response has no choices")
	}

	var used usage.Info
	if info := usage.ParsePayload(body); info != nil {
		used = *info
	}
	return resp.Choices[0].Message.Content, used, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed implements Embedder with one batched call.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, errCall := c.post(ctx, "/embeddings", embedRequest{Model: c.embedModel, Input: texts})
	if errCall != nil {
		return nil, errCall
	}

	var resp embedResponse
	if errDecode := json.Unmarshal(body, &resp); errDecode != nil {
		return nil, fmt.Errorf("summary: decode embeddings: %w", errDecode)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("summary: got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float64, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(out) {
			return nil, fmt.Errorf("summary: embedding index %d out of range", item.Index)
		}
		out[item.Index] = item.Embedding
	}
	return out, nil
}

func (c *OpenAIClient) post(ctx context.Context, path string, payload any) ([]byte, error) {
	encoded, errEncode := json.Marshal(payload)
	if errEncode != nil {
		return nil, fmt.Errorf("summary: encode request: %w", errEncode)
	}

	req, errReq := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if errReq != nil {
		return nil, errReq
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, errDo := c.httpClient.Do(req)
	if errDo != nil {
		return nil, fmt.Errorf("summary: call %s: %w", path, errDo)
	}
	defer func() { _ = resp.Body.Close() }()

	body, errRead := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if errRead != nil {
		return nil, fmt.Errorf("summary: read %s response: %w", path, errRead)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("summary: %s returned %d: %s", path, resp.StatusCode, truncate(body, 256))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
