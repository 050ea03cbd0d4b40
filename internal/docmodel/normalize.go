package docmodel

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	titleTagRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	h1TagRe    = regexp.MustCompile(`(?is)<h1[^>]*>(.*?)</h1>`)
	tagStripRe = regexp.MustCompile(`(?is)<[^>]+>`)
	wsRe       = regexp.MustCompile(`\s+`)
)

func cleanTitleText(s string) string {
	s = tagStripRe.ReplaceAllString(s, "")
	s = wsRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return "Untitled"
	}
	return s
}

// RawDoc is the loosely-typed shape produced by the tolerant text-to-document
// extractor (internal/provider) before normalization. Fields mirror the raw
// provider JSON; any subset may be populated.
type RawDoc struct {
	Kind       string                 `json:"kind,omitempty"`
	Type       string                 `json:"type,omitempty"`
	Title      string                 `json:"title,omitempty"`
	Category   string                 `json:"category,omitempty"`
	Vibe       string                 `json:"vibe,omitempty"`
	Background map[string]interface{} `json:"background,omitempty"`
	CSS        string                 `json:"css,omitempty"`
	HTML       string                 `json:"html,omitempty"`
	JS         string                 `json:"js,omitempty"`
	Content    string                 `json:"content,omitempty"`
	Body       string                 `json:"body,omitempty"`
	Components []RawComponent         `json:"components,omitempty"`
}

// RawComponent is the loosely-typed shape of one components-variant entry.
type RawComponent struct {
	ID    string                 `json:"id,omitempty"`
	Type  string                 `json:"type,omitempty"`
	HTML  string                 `json:"html,omitempty"`
	Props map[string]interface{} `json:"props,omitempty"`
}

var snippetKindSynonyms = map[string]bool{
	"ndw_snippet_v1":     true,
	"ndw_snippet":        true,
	"snippet_v1":         true,
	"ndw-canvas-snippet": true,
	"canvas_snippet":     true,
	"canvas-snippet":     true,
}

var fullPageKindSynonyms = map[string]bool{
	"full_page_html": true,
	"page_html":      true,
	"html_page":      true,
	"full_html":      true,
}

// Normalize converts a RawDoc (the tolerant parser's output) into exactly one
// Doc variant, or returns ok=false when nothing renderable could be found.
// This is the single chokepoint all dirty provider output must pass through;
// once a Doc exists, every other layer assumes it is well-formed.
func Normalize(raw *RawDoc) (*Doc, bool) {
	if raw == nil {
		return nil, false
	}
	doc, ok := normalizeVariant(raw)
	if !ok {
		return nil, false
	}
	doc.Category = raw.Category
	doc.Vibe = raw.Vibe
	return doc, true
}

func normalizeVariant(raw *RawDoc) (*Doc, bool) {
	kind := strings.ToLower(raw.Kind)
	if kind == "" {
		kind = strings.ToLower(raw.Type)
	}
	if snippetKindSynonyms[kind] {
		kind = string(KindSnippet)
	}

	// Bare html/css/js with no explicit kind/components is coerced to a snippet.
	if kind == "" && len(raw.Components) == 0 && (raw.HTML != "" || raw.CSS != "" || raw.JS != "") {
		kind = string(KindSnippet)
	}

	if kind == string(KindSnippet) {
		return normalizeSnippet(raw)
	}

	for _, k := range []string{kind, strings.ToLower(raw.Type)} {
		if fullPageKindSynonyms[k] {
			html := firstNonEmpty(raw.HTML, raw.Content, raw.Body)
			if html != "" {
				return &Doc{Kind: KindFullPage, HTML: html}, true
			}
		}
	}

	if raw.HTML != "" {
		return &Doc{Kind: KindFullPage, HTML: raw.HTML}, true
	}
	for _, v := range []string{raw.Content, raw.Body} {
		if looksLikeHTML(v) {
			return &Doc{Kind: KindFullPage, HTML: v}, true
		}
	}

	if len(raw.Components) > 0 {
		return normalizeComponents(raw.Components)
	}

	return nil, false
}

func normalizeSnippet(raw *RawDoc) (*Doc, bool) {
	out := &Doc{Kind: KindSnippet}
	if raw.Title != "" {
		out.Title = raw.Title
	}
	if bg := normalizeBackground(raw.Background); bg != nil {
		out.Background = bg
	}
	out.CSS = raw.CSS
	out.HTML = raw.HTML
	out.JS = raw.JS
	if out.HTML == "" {
		for _, v := range []string{raw.Content, raw.Body} {
			if looksLikeHTML(v) {
				out.HTML = v
				break
			}
		}
	}
	if out.HTML == "" && out.CSS == "" && out.JS == "" {
		return nil, false
	}
	return out, true
}

func normalizeBackground(raw map[string]interface{}) *Background {
	if raw == nil {
		return nil
	}
	out := &Background{}
	if s, ok := raw["style"].(string); ok {
		out.Style = strings.TrimSpace(s)
	}
	if c, ok := raw["class"].(string); ok {
		out.Class = strings.TrimSpace(c)
	} else if c, ok := raw["className"].(string); ok {
		out.Class = strings.TrimSpace(c)
	}
	if out.Style == "" && out.Class == "" {
		return nil
	}
	return out
}

func normalizeComponents(raw []RawComponent) (*Doc, bool) {
	var comps []Component
	for idx, c := range raw {
		html := ""
		if c.Props != nil {
			if h, ok := c.Props["html"].(string); ok {
				html = h
			}
		}
		if html == "" {
			html = c.HTML
		}
		if strings.TrimSpace(html) == "" {
			continue
		}
		height := 360
		if c.Props != nil {
			if hv, ok := c.Props["height"]; ok {
				switch v := hv.(type) {
				case float64:
					height = int(v)
				case int:
					height = v
				case string:
					if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
						height = n
					} else {
						height = 720
					}
				default:
					height = 720
				}
			}
		}
		title := ""
		if c.Props != nil {
			if t, ok := c.Props["title"].(string); ok {
				title = t
			}
		}
		id := c.ID
		if id == "" {
			id = "custom-" + strconv.Itoa(idx+1)
		}
		comps = append(comps, Component{
			ID:   id,
			Type: "custom",
			Props: ComponentProps{
				Title:  title,
				HTML:   strings.TrimSpace(html),
				Height: height,
			},
		})
	}
	if len(comps) == 0 {
		return nil, false
	}
	return &Doc{Kind: KindComponent, Components: comps}, true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

var htmlLikeRe = regexp.MustCompile(`(?i)<\s*(?:!doctype|html|body|main|header|section|footer|div)\b`)

func looksLikeHTML(s string) bool {
	return s != "" && htmlLikeRe.MatchString(s)
}
