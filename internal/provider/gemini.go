package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ndwlabs/ndw-gateway/internal/docmodel"
)

// GeminiCompatible talks to a Gemini-shaped generateContent /
// streamGenerateContent endpoint.
type GeminiCompatible struct {
	cfg     Config
	client  *http.Client
	backoff *Backoff
	logger  *zap.Logger
}

// NewGeminiCompatible constructs a client for a Gemini-shaped provider.
func NewGeminiCompatible(cfg Config, logger *zap.Logger) *GeminiCompatible {
	initial, max := cfg.backoffBounds()
	return &GeminiCompatible{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.timeout()},
		backoff: NewBackoff(initial, max),
		logger:  logOrDiscard(logger),
	}
}

func (c *GeminiCompatible) Name() string       { return c.cfg.Name }
func (c *GeminiCompatible) Configured() bool    { return c.cfg.APIKey != "" }
func (c *GeminiCompatible) SupportsBurst() bool { return c.cfg.Burst }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig map[string]interface{} `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (c *GeminiCompatible) endpoint(method string) string {
	return c.cfg.BaseURL + "/models/" + c.cfg.Model + ":" + method + "?key=" + c.cfg.APIKey
}

func (c *GeminiCompatible) GeneratePage(ctx context.Context, brief string, seed int, categoryNote string) (*docmodel.Doc, error) {
	if c.backoff.Active(time.Now()) {
		return nil, nil
	}
	prompt := BuildPagePrompt(brief, seed, categoryNote)
	req := geminiRequest{Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}}}
	if c.cfg.JSONMode {
		req.GenerationConfig = map[string]interface{}{"responseMimeType": "application/json"}
	}

	status, body, err := postJSON(ctx, c.client, c.endpoint("generateContent"), nil, req)
	if err != nil {
		return nil, nil
	}
	if jsonModeRejected(status, string(body)) {
		req.GenerationConfig = nil
		status, body, err = postJSON(ctx, c.client, c.endpoint("generateContent"), nil, req)
		if err != nil {
			return nil, nil
		}
	}
	if backoffEligible(status) {
		c.backoff.Trip(time.Now())
		return nil, nil
	}
	if status != http.StatusOK {
		c.logger.Warn("gemini-compatible provider returned non-200",
			zap.String("provider", c.cfg.Name), zap.Int("status", status))
		return nil, nil
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed.Candidates) == 0 {
		return nil, nil
	}
	c.backoff.Reset()

	text := concatParts(parsed.Candidates[0].Content.Parts)
	doc, ok := finalizeDoc(text)
	if !ok {
		return nil, nil
	}
	return doc, nil
}

// CompletePrompt issues a raw generateContent call for callers (the
// compliance reviewer) that build their own prompts and schemas rather than
// using GeneratePage's generation prompt.
func (c *GeminiCompatible) CompletePrompt(ctx context.Context, prompt string, jsonMode bool) (string, error) {
	if c.backoff.Active(time.Now()) {
		return "", nil
	}
	req := geminiRequest{Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}}}
	if jsonMode {
		req.GenerationConfig = map[string]interface{}{"responseMimeType": "application/json"}
	}
	status, body, err := postJSON(ctx, c.client, c.endpoint("generateContent"), nil, req)
	if err != nil {
		return "", err
	}
	if backoffEligible(status) {
		c.backoff.Trip(time.Now())
		return "", nil
	}
	if status != http.StatusOK {
		return "", nil
	}
	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed.Candidates) == 0 {
		return "", nil
	}
	c.backoff.Reset()
	return concatParts(parsed.Candidates[0].Content.Parts), nil
}

func concatParts(parts []geminiPart) string {
	var sb strings.Builder
	for _, p := range parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// GenerateBurst requests a streaming generateContent response pinned to an
// array-of-documents responseSchema, feeding each SSE chunk's text delta to
// a BurstParser.
func (c *GeminiCompatible) GenerateBurst(ctx context.Context, brief string, seed int, yield func(*docmodel.Doc)) (int, error) {
	if !c.cfg.Burst {
		return 0, nil
	}
	if c.backoff.Active(time.Now()) {
		return 0, nil
	}
	prompt := BuildBurstPrompt(brief, seed, "")
	req := geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: map[string]interface{}{
			"responseMimeType": "application/json",
			"responseSchema":   burstResponseSchema(),
		},
	}

	status, body, err := postJSON(ctx, c.client, c.endpoint("streamGenerateContent")+"&alt=sse", nil, req)
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
	for _, text := range geminiSSETextChunks(body) {
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

// burstResponseSchema pins the top-level shape to an array of up to
// BurstMax loosely-typed document objects.
func burstResponseSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":     "array",
		"maxItems": BurstMax,
		"items":    map[string]interface{}{"type": "object"},
	}
}
