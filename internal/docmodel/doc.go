// Package docmodel defines the artifact shapes the gateway generates, reviews,
// and serves: the ndw_snippet_v1, full_page_html, and components variants.
package docmodel

import "encoding/json"

// Kind discriminates the Doc variants.
type Kind string

const (
	KindSnippet   Kind = "ndw_snippet_v1"
	KindFullPage  Kind = "full_page_html"
	KindComponent Kind = "components"
)

// Background is the optional snippet background hint.
type Background struct {
	Style string `json:"style,omitempty"`
	Class string `json:"class,omitempty"`
}

// Component is one entry of a components-variant Doc.
type Component struct {
	ID    string         `json:"id"`
	Type  string         `json:"type"`
	Props ComponentProps `json:"props"`
}

// ComponentProps carries the rendered HTML and layout hint for a Component.
type ComponentProps struct {
	Title  string `json:"title,omitempty"`
	HTML   string `json:"html"`
	Height int    `json:"height"`
}

// Issue is one finding from a compliance review.
type Issue struct {
	Severity string `json:"severity"`
	Field    string `json:"field"`
	Message  string `json:"message"`
}

// Severity values for Issue.Severity.
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityBlock = "block"
)

// ReviewRecord is the outcome of a compliance review pass, attached to a Doc.
type ReviewRecord struct {
	OK     bool    `json:"ok"`
	Issues []Issue `json:"issues,omitempty"`
	Notes  string  `json:"notes,omitempty"`
	Doc    *Doc    `json:"doc,omitempty"`
}

// HasBlock reports whether any issue in the review has block severity.
func (r *ReviewRecord) HasBlock() bool {
	if r == nil {
		return false
	}
	for _, iss := range r.Issues {
		if iss.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// DebugInfo carries non-semantic diagnostics about a generated Doc.
type DebugInfo struct {
	ExternalAssetsRemoved []Issue `json:"external_assets_removed,omitempty"`
}

// Doc is the tagged-union artifact returned to clients and persisted by the
// prefetch queue. Exactly one of the variant-specific field groups is
// populated, selected by Kind.
type Doc struct {
	Kind Kind `json:"kind"`

	// snippet fields
	Title      string      `json:"title,omitempty"`
	Background *Background `json:"background,omitempty"`
	CSS        string      `json:"css,omitempty"`
	HTML       string      `json:"html,omitempty"`
	JS         string      `json:"js,omitempty"`

	// components field
	Components []Component `json:"components,omitempty"`

	// carried on any variant
	Category  string        `json:"category,omitempty"`
	Vibe      string        `json:"vibe,omitempty"`
	Review    *ReviewRecord `json:"review,omitempty"`
	Debug     *DebugInfo    `json:"ndw_debug,omitempty"`
	CreatedAt int64         `json:"created_at,omitempty"`

	// Error is set when the engine could not produce a Doc; present only on
	// the wire envelope, never persisted to the prefetch queue.
	Error string `json:"error,omitempty"`
}

// IsSnippet reports whether d is a normalized snippet.
func (d *Doc) IsSnippet() bool { return d != nil && d.Kind == KindSnippet }

// IsFullPage reports whether d is a normalized full page.
func (d *Doc) IsFullPage() bool { return d != nil && d.Kind == KindFullPage }

// IsComponents reports whether d is a normalized components bundle.
func (d *Doc) IsComponents() bool { return d != nil && d.Kind == KindComponent }

// Clone returns a deep-enough copy of d suitable for independent mutation
// (review repair, sanitization) without aliasing slices/maps with the original.
func (d *Doc) Clone() *Doc {
	if d == nil {
		return nil
	}
	out := *d
	if d.Background != nil {
		bg := *d.Background
		out.Background = &bg
	}
	if d.Components != nil {
		out.Components = append([]Component(nil), d.Components...)
	}
	if d.Review != nil {
		r := *d.Review
		out.Review = &r
	}
	if d.Debug != nil {
		dbg := *d.Debug
		dbg.ExternalAssetsRemoved = append([]Issue(nil), d.Debug.ExternalAssetsRemoved...)
		out.Debug = &dbg
	}
	return &out
}

// PrimaryHTML returns the HTML content used for structural signature and
// title extraction: the full page HTML, the snippet HTML, or the first
// component's HTML with non-empty props.html.
func (d *Doc) PrimaryHTML() string {
	if d == nil {
		return ""
	}
	switch d.Kind {
	case KindFullPage:
		return d.HTML
	case KindSnippet:
		return d.HTML
	case KindComponent:
		for _, c := range d.Components {
			if c.Props.HTML != "" {
				return c.Props.HTML
			}
		}
	}
	return ""
}

// ExtractTitle extracts a human-readable title for previews: explicit title
// field first, then <title>, then <h1>, then the first component's
// props.title, falling back to "Untitled".
func (d *Doc) ExtractTitle() string {
	if d == nil {
		return "Untitled"
	}
	if d.Title != "" {
		return d.Title
	}
	if t := titleTagRe.FindStringSubmatch(d.PrimaryHTML()); t != nil {
		return cleanTitleText(t[1])
	}
	if h := h1TagRe.FindStringSubmatch(d.PrimaryHTML()); h != nil {
		return cleanTitleText(h[1])
	}
	for _, c := range d.Components {
		if c.Props.Title != "" {
			return c.Props.Title
		}
	}
	return "Untitled"
}

// MarshalCanonicalJSON serializes d with its fields in struct declaration
// order (deterministic for a given Doc) for use as a dedupe
// fallback payload when no HTML can be extracted (see sigstore.Signature).
func (d *Doc) MarshalCanonicalJSON() ([]byte, error) {
	return json.Marshal(d)
}
