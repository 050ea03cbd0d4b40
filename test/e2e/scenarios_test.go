// Package e2e drives the six literal end-to-end scenarios from the gateway
// specification. Scenarios 1-4 run across the real component wiring
// (provider -> engine -> review -> server); scenarios 5 and 6 call the
// asset sanitizer and the burst parser directly.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/ndwlabs/ndw-gateway/internal/category"
	"github.com/ndwlabs/ndw-gateway/internal/config"
	"github.com/ndwlabs/ndw-gateway/internal/docmodel"
	"github.com/ndwlabs/ndw-gateway/internal/generate"
	"github.com/ndwlabs/ndw-gateway/internal/metrics"
	"github.com/ndwlabs/ndw-gateway/internal/prefetch"
	"github.com/ndwlabs/ndw-gateway/internal/provider"
	"github.com/ndwlabs/ndw-gateway/internal/ratelimit"
	"github.com/ndwlabs/ndw-gateway/internal/review"
	"github.com/ndwlabs/ndw-gateway/internal/server"
	"github.com/ndwlabs/ndw-gateway/internal/sigstore"
	"github.com/ndwlabs/ndw-gateway/internal/topup"
)

type fakeSigs struct{ seen map[string]bool }

func newFakeSigs() *fakeSigs { return &fakeSigs{seen: map[string]bool{}} }
func (f *fakeSigs) Has(sig string) bool { return f.seen[sig] }
func (f *fakeSigs) Add(sig string)      { f.seen[sig] = true }

type nopReviewer struct{}

func (nopReviewer) ReviewBatch(_ context.Context, docs []*docmodel.Doc, _, _ string) []*docmodel.ReviewRecord {
	out := make([]*docmodel.ReviewRecord, len(docs))
	for i := range docs {
		out[i] = &docmodel.ReviewRecord{OK: true}
	}
	return out
}

func buildServer(t *testing.T, bucketBurst int) (*server.Server, *prefetch.Queue) {
	t.Helper()
	dir := t.TempDir()
	sigs := newFakeSigs()
	queue := prefetch.New(filepath.Join(dir, "pfq"), sigs)
	rotator := category.NewRotator()
	stub := provider.NewStubClient("stub", true)
	eng := generate.NewEngine([]generate.Provider{stub}, rotator, sigs, nil, sigstore.Signature)
	sched := topup.New(queue, []topup.BurstSource{stub}, rotator, nopReviewer{}, topup.Config{LowWater: 1, FillTo: 2, ReviewBatch: 5, MaxWorkers: 1})
	bucket := ratelimit.NewBucket("gen", 1, bucketBurst)
	counter := metrics.NewCounter(filepath.Join(dir, "counter.json"))
	cfg := &config.ServerConfig{Host: "localhost", Port: 0, TestMode: true}
	srv := server.New(cfg, server.PrefetchConfig{LowWater: 1}, zap.NewNop(), []provider.Client{stub}, queue, rotator, eng, sched, bucket, counter, false)
	return srv, queue
}

// Scenario 1: prefetch hit — a pre-populated queue entry is served verbatim
// and the queue drains by exactly one.
func TestScenarioPrefetchHit(t *testing.T) {
	srv, queue := buildServer(t, 10)

	pre := &docmodel.Doc{Kind: docmodel.KindFullPage, HTML: `<!doctype html><html><body>A</body></html>`}
	if _, ok := queue.Enqueue(pre); !ok {
		t.Fatal("expected to seed the queue")
	}
	sizeBefore := queue.Size()

	req := httptest.NewRequest(http.MethodPost, "/generate", bytes.NewReader([]byte(`{"seed":1}`)))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var doc docmodel.Doc
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatal(err)
	}
	if doc.HTML != pre.HTML {
		t.Fatalf("expected the exact pre-populated document, got %q", doc.HTML)
	}
	if queue.Size() != sizeBefore-1 {
		t.Fatalf("expected queue size to drop by one, before=%d after=%d", sizeBefore, queue.Size())
	}
}

// Scenario 2: dedupe-on-burst — three structurally identical drafts in a
// row, whose layout has already been served, exhaust MaxAttempts and the
// engine returns the fixed error string.
type identicalDraftProvider struct{ calls int }

func (p *identicalDraftProvider) Name() string      { return "identical" }
func (p *identicalDraftProvider) Configured() bool   { return true }
func (p *identicalDraftProvider) GeneratePage(_ context.Context, _ string, _ int, _ string) (*docmodel.Doc, error) {
	p.calls++
	return &docmodel.Doc{Kind: docmodel.KindFullPage, HTML: `<!doctype html><html><body><p>same</p></body></html>`}, nil
}

func TestScenarioDedupeOnBurstExhaustsAttempts(t *testing.T) {
	sigs := newFakeSigs()
	sigs.Add(sigstore.Signature(&docmodel.Doc{Kind: docmodel.KindFullPage, HTML: `<!doctype html><html><body><p>same</p></body></html>`}))
	rotator := category.NewRotator()
	src := &identicalDraftProvider{}
	eng := generate.NewEngine([]generate.Provider{src}, rotator, sigs, nil, sigstore.Signature)

	result := eng.Generate(context.Background(), "auto", 1, "user", false, nil)
	if result.Error != "Model generation failed" {
		t.Fatalf("expected the fixed failure error, got doc=%+v error=%q", result.Doc, result.Error)
	}
	if src.calls != generate.MaxAttempts {
		t.Fatalf("expected exactly %d draft attempts, got %d", generate.MaxAttempts, src.calls)
	}
}

// Scenario 3: compliance rewrite — a real review.Reviewer backed by a fake
// provider.Client whose CompletePrompt returns the literal wire verdict from
// the spec, run through the real generate.Engine.
type scriptedReviewProvider struct{ response string }

func (p scriptedReviewProvider) Name() string { return "reviewer" }
func (p scriptedReviewProvider) CompletePrompt(_ context.Context, _ string, _ bool) (string, error) {
	return p.response, nil
}

type singleDraftProvider struct{ html string }

func (p singleDraftProvider) Name() string    { return "drafter" }
func (p singleDraftProvider) Configured() bool { return true }
func (p singleDraftProvider) GeneratePage(_ context.Context, _ string, _ int, _ string) (*docmodel.Doc, error) {
	return &docmodel.Doc{Kind: docmodel.KindFullPage, HTML: p.html}, nil
}

func TestScenarioComplianceRewrite(t *testing.T) {
	draft := `<!doctype html><html><body><main id="ndw-shell">OK</main></body></html>`
	verdict := `{"ok":true,"doc":{"kind":"full_page_html","html":"<!doctype html><html><body><main id=\"ndw-shell\">Reviewed</main></body></html>"},"issues":[{"severity":"info","field":"html","message":"tightened copy"}]}`

	reviewer := review.NewReviewer(scriptedReviewProvider{response: verdict})
	sigs := newFakeSigs()
	rotator := category.NewRotator()
	eng := generate.NewEngine([]generate.Provider{singleDraftProvider{html: draft}}, rotator, sigs, reviewer, sigstore.Signature)

	result := eng.Generate(context.Background(), "auto", 1, "user", true, nil)
	if result.Error != "" {
		t.Fatalf("expected a doc, got error %q", result.Error)
	}
	if !bytes.Contains([]byte(result.Doc.HTML), []byte("Reviewed")) {
		t.Fatalf("expected reviewed html to replace the draft, got %q", result.Doc.HTML)
	}
	if result.Doc.Review == nil || !result.Doc.Review.OK {
		t.Fatalf("expected review.ok=true, got %+v", result.Doc.Review)
	}
}

// Scenario 4: rate-limit — bucket allowance 2, three calls in a row yield
// 200, 200, 429 with Retry-After and the zeroed remaining header.
func TestScenarioRateLimitThirdCallDenied(t *testing.T) {
	srv, _ := buildServer(t, 2)
	router := srv.Router()

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/generate", bytes.NewReader([]byte(`{}`)))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("call %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/generate", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on the third call, got %d", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("expected X-RateLimit-Remaining=0, got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected a Retry-After header")
	}
}

// Scenario 5: external-asset strip — the known tailwind CDN is rewritten to
// a local path, an unknown CDN is stripped, and both removals are recorded.
func TestScenarioExternalAssetStrip(t *testing.T) {
	html := `<!doctype html><html><head>
	<script src="https://cdn.tailwindcss.com"></script>
	<script src="https://evil.example/x.js"></script>
	</head><body>hi</body></html>`
	doc := &docmodel.Doc{Kind: docmodel.KindFullPage, HTML: html}

	out := docmodel.SanitizeExternalAssets(doc)
	if !bytes.Contains([]byte(out.HTML), []byte(`src="/static/vendor/tailwind-play.js"`)) {
		t.Fatalf("expected the tailwind CDN rewritten to a local path, got %s", out.HTML)
	}
	if bytes.Contains([]byte(out.HTML), []byte("evil.example")) {
		t.Fatalf("expected the unknown CDN stripped entirely, got %s", out.HTML)
	}
	if out.Debug == nil || len(out.Debug.ExternalAssetsRemoved) != 2 {
		t.Fatalf("expected both removals recorded in debug info, got %+v", out.Debug)
	}
}

// Scenario 6: burst stream parsing — three chunks split mid-object yield
// three ordered docs.
func TestScenarioBurstStreamParsing(t *testing.T) {
	parser := provider.NewBurstParser()

	var htmls []string
	feed := func(chunk string) {
		for _, raw := range parser.Feed([]byte(chunk)) {
			var m map[string]interface{}
			if err := json.Unmarshal(raw, &m); err != nil {
				t.Fatalf("unmarshal chunk %s: %v", raw, err)
			}
			htmls = append(htmls, m["html"].(string))
		}
	}

	feed(`[{"kind":"full_page_html","html":"v1"`)
	feed(`},{"kind":"full_page_html","html":"v2"`)
	feed(`},{"kind":"full_page_html","html":"v3"}]`)

	want := []string{"v1", "v2", "v3"}
	if len(htmls) != len(want) {
		t.Fatalf("got %v, want %v", htmls, want)
	}
	for i := range want {
		if htmls[i] != want[i] {
			t.Errorf("position %d: got %q, want %q", i, htmls[i], want[i])
		}
	}
}
