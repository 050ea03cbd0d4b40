// Package provider implements upstream LLM provider clients: single-page
// generation, burst streaming generation, the tolerant text-to-document
// extractor, and per-provider backoff tracking.
package provider

import (
	"context"

	"github.com/ndwlabs/ndw-gateway/internal/docmodel"
)

// Client is one upstream LLM provider. Concrete identifiers ("primary",
// "fallback_1", "groq", "gemini", ...) are assigned by configuration; the
// engine only cares about ordering and credential/backoff state.
type Client interface {
	// Name identifies the provider for logging, backoff tracking, and
	// provider-order selection.
	Name() string

	// Configured reports whether this provider has usable credentials.
	Configured() bool

	// SupportsBurst reports whether GenerateBurst is meaningful for this
	// provider (at least one provider in the configured set must support it).
	SupportsBurst() bool

	// GeneratePage performs a single-document generation call. A nil Doc
	// with no error means the provider declined (e.g. backoff, empty
	// output) without a hard failure.
	GeneratePage(ctx context.Context, brief string, seed int, categoryNote string) (*docmodel.Doc, error)

	// GenerateBurst performs a streaming multi-document generation call,
	// invoking yield for each completed Doc as it becomes available
	// (up to BurstMax). It returns the number of documents yielded.
	GenerateBurst(ctx context.Context, brief string, seed int, yield func(*docmodel.Doc)) (int, error)

	// CompletePrompt performs one raw completion call with an arbitrary
	// prompt, used by the compliance reviewer rather than the generation
	// prompts baked into GeneratePage/GenerateBurst. An empty string with no
	// error means the provider declined (backoff, non-200, empty output).
	CompletePrompt(ctx context.Context, prompt string, jsonMode bool) (string, error)
}

// finalizeDoc runs extraction output through normalization and external
// asset sanitization, the chokepoint every provider response passes through
// before becoming a usable Doc.
func finalizeDoc(text string) (*docmodel.Doc, bool) {
	raw, ok := ExtractText(text)
	if !ok {
		return nil, false
	}
	doc, ok := docmodel.Normalize(raw)
	if !ok {
		return nil, false
	}
	return docmodel.SanitizeExternalAssets(doc), true
}
