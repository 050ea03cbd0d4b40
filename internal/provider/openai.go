package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ndwlabs/ndw-gateway/internal/docmodel"
)

// OpenAICompatible talks to any chat-completions endpoint that follows the
// OpenAI request/response shape (OpenAI itself, Groq, OpenRouter, ...).
type OpenAICompatible struct {
	cfg     Config
	client  *http.Client
	backoff *Backoff
	logger  *zap.Logger
}

// NewOpenAICompatible constructs a client for an OpenAI-shaped provider.
func NewOpenAICompatible(cfg Config, logger *zap.Logger) *OpenAICompatible {
	initial, max := cfg.backoffBounds()
	return &OpenAICompatible{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.timeout()},
		backoff: NewBackoff(initial, max),
		logger:  logOrDiscard(logger),
	}
}

func (c *OpenAICompatible) Name() string        { return c.cfg.Name }
func (c *OpenAICompatible) Configured() bool     { return c.cfg.APIKey != "" }
func (c *OpenAICompatible) SupportsBurst() bool  { return c.cfg.Burst }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model          string                 `json:"model"`
	Messages       []openAIMessage        `json:"messages"`
	Stream         bool                   `json:"stream,omitempty"`
	ResponseFormat map[string]interface{} `json:"response_format,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *OpenAICompatible) GeneratePage(ctx context.Context, brief string, seed int, categoryNote string) (*docmodel.Doc, error) {
	if c.backoff.Active(time.Now()) {
		return nil, nil
	}
	prompt := BuildPagePrompt(brief, seed, categoryNote)

	text, err := c.complete(ctx, c.cfg.Model, prompt, c.cfg.JSONMode)
	if err != nil {
		if err == errFallbackModel {
			text, err = c.complete(ctx, c.cfg.FallbackModel, prompt, c.cfg.JSONMode)
		}
		if err != nil {
			return nil, nil
		}
	}
	if text == "" {
		return nil, nil
	}
	doc, ok := finalizeDoc(text)
	if !ok {
		return nil, nil
	}
	return doc, nil
}

var errFallbackModel = fmt.Errorf("provider: retry with fallback model")

// complete performs one chat-completions call, handling the JSON-mode
// downgrade and fallback-model retry described by the provider protocol.
func (c *OpenAICompatible) complete(ctx context.Context, model, prompt string, jsonMode bool) (string, error) {
	req := openAIRequest{
		Model:    model,
		Messages: []openAIMessage{{Role: "user", Content: prompt}},
	}
	if jsonMode {
		req.ResponseFormat = map[string]interface{}{"type": "json_object"}
	}

	status, body, err := postJSON(ctx, c.client, c.cfg.BaseURL+"/chat/completions", c.authHeaders(), req)
	if err != nil {
		return "", err
	}

	if jsonModeRejected(status, string(body)) {
		req.ResponseFormat = nil
		status, body, err = postJSON(ctx, c.client, c.cfg.BaseURL+"/chat/completions", c.authHeaders(), req)
		if err != nil {
			return "", err
		}
	}

	if backoffEligible(status) {
		c.backoff.Trip(time.Now())
		return "", nil
	}

	if status != http.StatusOK {
		if retryableStatus(status, string(body)) && model != c.cfg.FallbackModel && c.cfg.FallbackModel != "" {
			return "", errFallbackModel
		}
		c.logger.Warn("openai-compatible provider returned non-200",
			zap.String("provider", c.cfg.Name), zap.Int("status", status))
		return "", nil
	}

	var parsed openAIResponse
	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed.Choices) == 0 {
		return "", nil
	}
	c.backoff.Reset()
	return parsed.Choices[0].Message.Content, nil
}

// CompletePrompt issues a raw chat-completions call for callers (the
// compliance reviewer) that build their own prompts and schemas rather than
// using GeneratePage's generation prompt.
func (c *OpenAICompatible) CompletePrompt(ctx context.Context, prompt string, jsonMode bool) (string, error) {
	if c.backoff.Active(time.Now()) {
		return "", nil
	}
	text, err := c.complete(ctx, c.cfg.Model, prompt, jsonMode)
	if err != nil {
		if err == errFallbackModel {
			return c.complete(ctx, c.cfg.FallbackModel, prompt, jsonMode)
		}
		return "", nil
	}
	return text, nil
}

func (c *OpenAICompatible) authHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
}

// GenerateBurst requests a streaming chat-completions response and parses
// completed documents incrementally from the SSE `data:` line payloads'
// delta content, concatenated across chunks.
func (c *OpenAICompatible) GenerateBurst(ctx context.Context, brief string, seed int, yield func(*docmodel.Doc)) (int, error) {
	if !c.cfg.Burst {
		return 0, nil
	}
	if c.backoff.Active(time.Now()) {
		return 0, nil
	}
	prompt := BuildBurstPrompt(brief, seed, "")

	req := openAIRequest{
		Model:    c.cfg.Model,
		Messages: []openAIMessage{{Role: "user", Content: prompt}},
		Stream:   true,
	}
	status, body, err := postJSON(ctx, c.client, c.cfg.BaseURL+"/chat/completions", c.authHeaders(), req)
	if err != nil {
		return 0, err
	}
	if backoffEligible(status) {
		c.backoff.Trip(time.Now())
		return 0, nil
	}
	if status != http.StatusOK || len(body) == 0 {
		return 0, nil
	}
	c.backoff.Reset()

	parser := NewBurstParser()
	count := 0
	for _, text := range sseDeltaChunks(body) {
		for _, raw := range parser.Feed([]byte(text)) {
			var m map[string]interface{}
			if json.Unmarshal(raw, &m) != nil {
				continue
			}
			doc, ok := docmodel.Normalize(docmodel.RawDocFromMap(m))
			if !ok {
				continue
			}
			doc = docmodel.SanitizeExternalAssets(doc)
			yield(doc)
			count++
		}
	}
	return count, nil
}
