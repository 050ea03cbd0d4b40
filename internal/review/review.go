// Package review implements the compliance review stage: submitting drafted
// documents to a reviewer provider (singly or in indexed batches), parsing
// its verdict, and applying corrected payloads in place of unsafe drafts.
package review

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/ndwlabs/ndw-gateway/internal/docmodel"
	"github.com/ndwlabs/ndw-gateway/pkg/ndwutil"
)

// maxNotesLen bounds how much of a reviewer's free-text notes field is kept
// on the ReviewRecord.
const maxNotesLen = 160

// Provider is the subset of provider.Client the reviewer needs. Defined
// locally (rather than importing provider.Client) so this package never
// depends on the concrete provider wiring, only on the capability it uses.
type Provider interface {
	Name() string
	CompletePrompt(ctx context.Context, prompt string, jsonMode bool) (string, error)
}

// Reviewer submits drafts to a reviewer provider and interprets its verdict.
// repair, if non-nil, is tried once when primary is unreachable or returns
// unparseable output, per the fail-open-after-one-repair-attempt contract.
type Reviewer struct {
	primary Provider
	repair  Provider
	logger  *zap.Logger
}

// Option configures a Reviewer.
type Option func(*Reviewer)

// WithRepairProvider sets a secondary provider tried once when the primary
// reviewer is unreachable or returns unparseable JSON.
func WithRepairProvider(p Provider) Option {
	return func(r *Reviewer) { r.repair = p }
}

// WithLogger attaches a zap logger; nil disables logging.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reviewer) { r.logger = l }
}

// NewReviewer constructs a Reviewer. A nil primary makes every call a no-op
// fail-open pass (used when review is disabled by configuration).
func NewReviewer(primary Provider, opts ...Option) *Reviewer {
	r := &Reviewer{primary: primary, logger: zap.NewNop()}
	for _, o := range opts {
		o(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// wireReview is the loosely-typed shape of one reviewer verdict, before its
// optional doc is normalized into a docmodel.Doc.
type wireReview struct {
	OK     bool            `json:"ok"`
	Issues []docmodel.Issue `json:"issues"`
	Notes  string          `json:"notes"`
	Doc    json.RawMessage `json:"doc"`
}

func (w *wireReview) correctedDoc() *docmodel.Doc {
	if len(w.Doc) == 0 || string(w.Doc) == "null" {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(w.Doc, &m); err != nil {
		return nil
	}
	doc, ok := docmodel.Normalize(docmodel.RawDocFromMap(m))
	if !ok {
		return nil
	}
	return doc
}

// Review sends one document to the reviewer and interprets its verdict.
// Returns (record, correctedDoc, overallOK). overallOK is false iff the
// reviewer explicitly rejected the doc, or reported a block-severity issue
// without supplying a corrected doc. Unreachable/unparseable reviewer output
// fails open: a nil record and overallOK=true.
func (r *Reviewer) Review(ctx context.Context, doc *docmodel.Doc, brief, categoryNote string) (*docmodel.ReviewRecord, *docmodel.Doc, bool) {
	if r.primary == nil {
		return nil, nil, true
	}
	prompt := buildPrompt(doc, brief, categoryNote)

	text, err := r.primary.CompletePrompt(ctx, prompt, true)
	verdict, ok := parseReviewText(text, err)
	if !ok && r.repair != nil {
		text, err = r.repair.CompletePrompt(ctx, prompt, true)
		verdict, ok = parseReviewText(text, err)
	}
	if !ok {
		r.logger.Debug("review skipped: unreachable or unparseable, failing open",
			zap.String("provider", r.primary.Name()))
		return nil, nil, true
	}

	corrected := verdict.correctedDoc()
	record := &docmodel.ReviewRecord{
		Issues: verdict.Issues,
		Notes:  ndwutil.Truncate(verdict.Notes, maxNotesLen),
		Doc:    corrected,
	}
	overallOK := verdict.OK
	if record.HasBlock() && corrected == nil {
		overallOK = false
	}
	record.OK = overallOK
	return record, corrected, overallOK
}

func parseReviewText(text string, err error) (*wireReview, bool) {
	if err != nil || strings.TrimSpace(text) == "" {
		return nil, false
	}
	candidate := extractJSONObject(text)
	if candidate == "" {
		return nil, false
	}
	var w wireReview
	if jsonErr := json.Unmarshal([]byte(candidate), &w); jsonErr != nil {
		return nil, false
	}
	return &w, true
}

// batchEntry mirrors one element of the reviewer's batch "results" array.
type batchEntry struct {
	Index  int             `json:"index"`
	OK     bool            `json:"ok"`
	Issues []docmodel.Issue `json:"issues"`
	Notes  string          `json:"notes"`
	Doc    json.RawMessage `json:"doc"`
}

type batchResponse struct {
	Results []batchEntry `json:"results"`
}

// ReviewBatch submits all docs in one indexed prompt and returns a
// ReviewRecord per input position (nil entries mean review was skipped for
// that doc, fail-open). Falls back to per-doc single review if the batch
// call fails or its response is unparseable.
func (r *Reviewer) ReviewBatch(ctx context.Context, docs []*docmodel.Doc, brief, categoryNote string) []*docmodel.ReviewRecord {
	out := make([]*docmodel.ReviewRecord, len(docs))
	if len(docs) == 0 || r.primary == nil {
		return out
	}

	text, err := r.primary.CompletePrompt(ctx, buildBatchPrompt(docs), true)
	if err == nil && strings.TrimSpace(text) != "" {
		if candidate := extractJSONObject(text); candidate != "" {
			var resp batchResponse
			if jsonErr := json.Unmarshal([]byte(candidate), &resp); jsonErr == nil && len(resp.Results) > 0 {
				for _, entry := range resp.Results {
					if entry.Index < 0 || entry.Index >= len(docs) {
						continue
					}
					out[entry.Index] = entryToRecord(entry)
				}
				return out
			}
		}
	}

	r.logger.Debug("batch review failed or unparseable, falling back to per-doc review",
		zap.String("provider", r.primary.Name()), zap.Int("count", len(docs)))
	for i, d := range docs {
		record, _, _ := r.Review(ctx, d, brief, categoryNote)
		out[i] = record
	}
	return out
}

func entryToRecord(entry batchEntry) *docmodel.ReviewRecord {
	var corrected *docmodel.Doc
	if len(entry.Doc) > 0 && string(entry.Doc) != "null" {
		var m map[string]interface{}
		if err := json.Unmarshal(entry.Doc, &m); err == nil {
			if doc, ok := docmodel.Normalize(docmodel.RawDocFromMap(m)); ok {
				corrected = doc
			}
		}
	}
	record := &docmodel.ReviewRecord{
		Issues: entry.Issues,
		Notes:  ndwutil.Truncate(entry.Notes, maxNotesLen),
		Doc:    corrected,
	}
	overallOK := entry.OK
	if record.HasBlock() && corrected == nil {
		overallOK = false
	}
	record.OK = overallOK
	return record
}

