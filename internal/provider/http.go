package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config configures a single upstream provider client.
type Config struct {
	Name           string
	APIKey         string
	BaseURL        string
	Model          string
	FallbackModel  string
	JSONMode       bool
	Burst          bool
	Timeout        time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

func (c Config) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 60 * time.Second
}

func (c Config) backoffBounds() (time.Duration, time.Duration) {
	initial, max := c.BackoffInitial, c.BackoffMax
	if initial <= 0 {
		initial = 2 * time.Second
	}
	if max <= 0 {
		max = 60 * time.Second
	}
	return initial, max
}

// retryableStatus reports whether body/status indicates the request should
// be retried once against the provider's configured fallback model.
func retryableStatus(status int, body string) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	lower := strings.ToLower(body)
	return strings.Contains(lower, "model not found") || strings.Contains(lower, "invalid model")
}

func backoffEligible(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

func jsonModeRejected(status int, body string) bool {
	return status == http.StatusBadRequest && strings.Contains(strings.ToLower(body), "json mode not enabled")
}

// postJSON issues an HTTP POST with a JSON body and returns the status code
// and raw response body.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload interface{}) (int, []byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func logOrDiscard(logger *zap.Logger) *zap.Logger {
	if logger != nil {
		return logger
	}
	return zap.NewNop()
}
