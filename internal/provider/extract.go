package provider

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/ndwlabs/ndw-gateway/internal/docmodel"
)

var (
	htmlStartRe   = regexp.MustCompile(`(?i)^\s*<\s*(?:!doctype|html|div|body)\b`)
	htmlAnywhereRe = regexp.MustCompile(`(?i)<\s*(?:!doctype|html|body|main|header|section|footer)\b`)
	fencedJSONRe  = regexp.MustCompile(`(?is)` + "```json\\s*([\\s\\S]*?)```")
	fencedAnyRe   = regexp.MustCompile(`(?s)` + "```\\s*([\\s\\S]*?)```")
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

// ExtractText turns a raw provider response string into a RawDoc, following
// the same tolerant steps regardless of whether the text is clean JSON, JSON
// wrapped in prose, fenced markdown, or bare HTML:
//
//  1. Text starting with an HTML tag is wrapped as full_page_html directly.
//  2. A ```json fenced block, then any fenced block, is tried as JSON.
//  3. Failing that, the first balanced {...} slice (brace-aware inside
//     strings) is tried.
//  4. Trailing commas before `}`/`]` are stripped and smart quotes are
//     normalized, then parsing is retried once.
//  5. If nothing parses but an HTML-like tag appears anywhere, the whole
//     text is wrapped as full_page_html.
//  6. Otherwise extraction fails.
func ExtractText(text string) (*docmodel.RawDoc, bool) {
	t := strings.TrimSpace(text)
	if t == "" {
		return nil, false
	}
	if htmlStartRe.MatchString(t) {
		return &docmodel.RawDoc{Kind: "full_page_html", HTML: t}, true
	}

	candidate := ""
	if m := fencedJSONRe.FindStringSubmatch(t); m != nil {
		candidate = m[1]
	} else if m := fencedAnyRe.FindStringSubmatch(t); m != nil {
		candidate = m[1]
	} else if s := balancedJSONSlice(t); s != "" {
		candidate = s
	}

	if candidate != "" {
		if raw, ok := tryParseRawDoc(candidate); ok {
			return raw, true
		}
		sanitized := trailingComma.ReplaceAllString(candidate, "$1")
		sanitized = normalizeSmartQuotes(sanitized)
		if raw, ok := tryParseRawDoc(sanitized); ok {
			return raw, true
		}
	}

	if htmlAnywhereRe.MatchString(t) {
		return &docmodel.RawDoc{Kind: "full_page_html", HTML: t}, true
	}
	return nil, false
}

func tryParseRawDoc(s string) (*docmodel.RawDoc, bool) {
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, false
	}
	return docmodel.RawDocFromMap(m), true
}

// balancedJSONSlice returns the first top-level {...} slice in s, treating
// quoted strings (with backslash escapes) as opaque to brace counting.
func balancedJSONSlice(s string) string {
	inStr := false
	esc := false
	depth := 0
	start := -1
	for i, ch := range s {
		if inStr {
			if esc {
				esc = false
			} else if ch == '\\' {
				esc = true
			} else if ch == '"' {
				inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			inStr = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}

var smartQuoteReplacer = strings.NewReplacer(
	"“", `"`,
	"”", `"`,
	"’", "'",
)

func normalizeSmartQuotes(s string) string {
	return smartQuoteReplacer.Replace(s)
}
