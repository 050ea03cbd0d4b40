// Package generate implements the generation engine (C5): selecting a
// provider order, driving the dedupe/review retry loop, and producing one
// accepted document or a failure for a single /generate request.
package generate

import (
	"context"
	"math/rand"
	"strings"

	"go.uber.org/zap"

	"github.com/ndwlabs/ndw-gateway/internal/category"
	"github.com/ndwlabs/ndw-gateway/internal/docmodel"
	"github.com/ndwlabs/ndw-gateway/internal/metrics"
)

// MaxAttempts bounds the dedupe/review retry loop per request.
const MaxAttempts = 3

// seedMod and seedPerturb implement the spec's collision-retry seed walk:
// add seedPerturb, wrap modulo seedMod.
const (
	seedMod     = 10_000_019
	seedPerturb = 7919
	seedMax     = 10_000_000
)

// Provider is the generation-capable subset of provider.Client.
type Provider interface {
	Name() string
	Configured() bool
	GeneratePage(ctx context.Context, brief string, seed int, categoryNote string) (*docmodel.Doc, error)
}

// Rotator supplies the next category directive for a caller key.
type Rotator interface {
	Next(userKey string) category.Directive
}

// SignatureStore is the dedupe check/record the engine uses around C1.
type SignatureStore interface {
	Has(sig string) bool
	Add(sig string)
}

// Reviewer is the review-stage dependency the engine drives during its
// retry loop.
type Reviewer interface {
	Review(ctx context.Context, doc *docmodel.Doc, brief, categoryNote string) (*docmodel.ReviewRecord, *docmodel.Doc, bool)
}

// Signer computes a dedupe signature for a doc; normally sigstore.Signature.
type Signer func(doc *docmodel.Doc) string

// Engine wires C1 (dedupe), C4 (category rotation), and C6 (review) around
// an ordered provider list to implement generatePage.
type Engine struct {
	providers []Provider
	rotator   Rotator
	sigs      SignatureStore
	reviewer  Reviewer
	sign      Signer
	logger    *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger attaches a zap logger; nil disables logging.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine constructs an Engine. providers is the full configured provider
// list in priority order; Generate filters it per-call per the provider
// selection rule.
func NewEngine(providers []Provider, rotator Rotator, sigs SignatureStore, reviewer Reviewer, sign Signer, opts ...Option) *Engine {
	e := &Engine{providers: providers, rotator: rotator, sigs: sigs, reviewer: reviewer, sign: sign, logger: zap.NewNop()}
	for _, o := range opts {
		o(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Result is the outcome of Generate: exactly one of Doc or Error is set.
type Result struct {
	Doc   *docmodel.Doc
	Error string
}

// autoBriefs are brief values normalized to empty, per spec §4.5.
var autoBriefs = map[string]bool{
	"":             true,
	"auto":         true,
	"random":       true,
	"surprise me":  true,
}

// NormalizeBrief collapses empty/auto/random/"surprise me" (case-insensitive)
// requests to an empty brief, letting the category directive and provider
// pick the content freely.
func NormalizeBrief(brief string) string {
	if autoBriefs[strings.ToLower(strings.TrimSpace(brief))] {
		return ""
	}
	return brief
}

// NormalizeSeed returns seed unchanged if positive, otherwise a random value
// in [1, seedMax].
func NormalizeSeed(seed int) int {
	if seed > 0 {
		return seed
	}
	return rand.Intn(seedMax) + 1
}

// SelectProviders implements the provider order rule: an explicit override
// (filtered to configured providers) if given, else the engine's full list
// filtered to configured providers, preserving priority order.
func (e *Engine) SelectProviders(override []Provider) []Provider {
	list := e.providers
	if len(override) > 0 {
		list = override
	}
	out := make([]Provider, 0, len(list))
	for _, p := range list {
		if p.Configured() {
			out = append(out, p)
		}
	}
	return out
}

// Generate runs the attempt loop described in spec §4.5: draft, dedupe,
// review, re-dedupe, up to MaxAttempts, tagging the accepted doc with the
// category and attaching any review record.
func (e *Engine) Generate(ctx context.Context, brief string, seed int, userKey string, runReview bool, override []Provider) Result {
	brief = NormalizeBrief(brief)
	seed = NormalizeSeed(seed)
	providers := e.SelectProviders(override)

	for attempt := 0; attempt < MaxAttempts; attempt++ {
		directive := e.rotator.Next(userKey)

		draft := e.draft(ctx, brief, seed, directive.Text, providers)
		if draft == nil {
			continue
		}

		if final := e.AcceptDraft(ctx, draft, brief, directive.Name, directive.Text, runReview); final != nil {
			return Result{Doc: final}
		}
		seed = perturb(seed)
	}

	return Result{Error: "Model generation failed"}
}

// AcceptDraft runs the dedupe/review gate spec §3 requires of every document
// before it reaches a client or persistence: structural-signature dedupe,
// then (when runReview) compliance review, then a re-check of the
// (possibly review-corrected) signature. It is the same gate Generate
// applies to each drafted attempt, exposed so callers that source drafts
// some other way (a provider's burst stream, in particular) can put each
// candidate through the identical check instead of skipping it. Returns nil
// when the draft is rejected: a duplicate signature, or a review block with
// no corrected replacement. Callers that can produce another draft should
// treat nil as "try the next candidate," the same way Generate perturbs the
// seed and retries.
func (e *Engine) AcceptDraft(ctx context.Context, draft *docmodel.Doc, brief, categoryName, categoryNote string, runReview bool) *docmodel.Doc {
	sig := e.sign(draft)
	if sig != "" && e.sigs.Has(sig) {
		metrics.DedupeHitsTotal.Inc()
		return nil
	}

	final := draft
	var record *docmodel.ReviewRecord
	if runReview && e.reviewer != nil {
		rec, corrected, ok := e.reviewer.Review(ctx, draft, brief, categoryNote)
		record = rec
		if !ok {
			return nil
		}
		if corrected != nil {
			final = corrected
		}
	}

	finalSig := e.sign(final)
	if finalSig != "" && finalSig != sig && e.sigs.Has(finalSig) {
		metrics.DedupeHitsTotal.Inc()
		return nil
	}

	final.Category = categoryName
	final.Review = record
	if finalSig != "" {
		e.sigs.Add(finalSig)
	}
	return final
}

func (e *Engine) draft(ctx context.Context, brief string, seed int, categoryNote string, providers []Provider) *docmodel.Doc {
	for _, p := range providers {
		doc, err := p.GeneratePage(ctx, brief, seed, categoryNote)
		if err != nil {
			metrics.ProviderErrorsTotal.WithLabelValues(p.Name()).Inc()
			e.logger.Warn("provider generate error", zap.String("provider", p.Name()), zap.Error(err))
			continue
		}
		if doc != nil {
			return doc
		}
	}
	return nil
}

func perturb(seed int) int {
	return (seed + seedPerturb) % seedMod
}
