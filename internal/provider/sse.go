package provider

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
)

// sseDeltaChunks scans an OpenAI-style SSE response body (`data: {...}`
// lines terminated by `data: [DONE]`) and returns each chunk's incremental
// `choices[0].delta.content` text, in order, so the burst parser can feed
// them as they would have arrived live.
func sseDeltaChunks(body []byte) []string {
	var out []string
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" || data == "" {
			continue
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if text := chunk.Choices[0].Delta.Content; text != "" {
			out = append(out, text)
		}
	}
	return out
}

// geminiSSETextChunks scans a Gemini streamGenerateContent SSE body and
// returns each chunk's candidates[0].content.parts[].text, concatenated per
// chunk, in order.
func geminiSSETextChunks(body []byte) []string {
	var out []string
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var chunk struct {
			Candidates []struct {
				Content struct {
					Parts []struct {
						Text string `json:"text"`
					} `json:"parts"`
				} `json:"content"`
			} `json:"candidates"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Candidates) == 0 {
			continue
		}
		var sb strings.Builder
		for _, p := range chunk.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
		if sb.Len() > 0 {
			out = append(out, sb.String())
		}
	}
	return out
}
