package server

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
	"github.com/ndwlabs/ndw-gateway/internal/sigstore"
	"github.com/ndwlabs/ndw-gateway/internal/topup"
)

type fakeSigs struct{ seen map[string]bool }

func newFakeSigs() *fakeSigs { return &fakeSigs{seen: map[string]bool{}} }
func (f *fakeSigs) Has(sig string) bool { return f.seen[sig] }
func (f *fakeSigs) Add(sig string)      { f.seen[sig] = true }

func testServer(t *testing.T, burst bool, bucketBurst int) *Server {
	t.Helper()
	dir := t.TempDir()
	sigs := newFakeSigs()
	queue := prefetch.New(filepath.Join(dir, "pfq"), sigs)
	rotator := category.NewRotator()
	stub := provider.NewStubClient("stub", burst)
	eng := generate.NewEngine([]generate.Provider{stub}, rotator, sigs, nil, sigstore.Signature)
	sched := topup.New(queue, []topup.BurstSource{stub}, rotator, nopReviewer{}, topup.Config{LowWater: 1, FillTo: 2, ReviewBatch: 5, MaxWorkers: 1})
	bucket := ratelimit.NewBucket("gen", 1, bucketBurst)
	counter := metrics.NewCounter(filepath.Join(dir, "counter.json"))

	cfg := &config.ServerConfig{Host: "localhost", Port: 0, TestMode: true}
	return New(cfg, PrefetchConfig{LowWater: 1, ServeDelayMS: 0}, zap.NewNop(), []provider.Client{stub}, queue, rotator, eng, sched, bucket, counter, false)
}

type nopReviewer struct{}

func (nopReviewer) ReviewBatch(_ context.Context, docs []*docmodel.Doc, _, _ string) []*docmodel.ReviewRecord {
	out := make([]*docmodel.ReviewRecord, len(docs))
	for i := range docs {
		out[i] = &docmodel.ReviewRecord{OK: true}
	}
	return out
}

func TestGenerateServesPrefetchHitAndDrainsQueue(t *testing.T) {
	s := testServer(t, true, 10)
	pre := &docmodel.Doc{Kind: docmodel.KindFullPage, HTML: "<!doctype html><html><body>A</body></html>"}
	if _, ok := s.queue.Enqueue(pre); !ok {
		t.Fatal("expected prepopulate enqueue to succeed")
	}

	body, _ := json.Marshal(generateRequest{Seed: 1})
	req := httptest.NewRequest(http.MethodPost, "/generate", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var doc docmodel.Doc
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatal(err)
	}
	if doc.HTML != pre.HTML {
		t.Fatalf("expected exact prefetched doc returned, got %q", doc.HTML)
	}
	if s.queue.Size() != 0 {
		t.Fatalf("expected queue drained, got size %d", s.queue.Size())
	}
}

func TestGenerateFallsBackToLiveWhenQueueEmpty(t *testing.T) {
	s := testServer(t, true, 10)

	body, _ := json.Marshal(generateRequest{Brief: "a toy"})
	req := httptest.NewRequest(http.MethodPost, "/generate", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var doc docmodel.Doc
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Error != "" {
		t.Fatalf("expected a doc, got error %q", doc.Error)
	}
	if doc.HTML == "" {
		t.Fatal("expected non-empty html from stub provider")
	}
}

func TestGenerateRateLimitDeniesThirdCallWithRetryAfter(t *testing.T) {
	s := testServer(t, true, 2)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/generate", bytes.NewReader([]byte(`{}`)))
		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("call %d: expected 200, got %d", i, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/generate", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on third call, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header on 429")
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("expected X-RateLimit-Remaining=0, got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
	if rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Fatal("expected X-RateLimit-Reset header on 429")
	}
}

func TestPrefetchStatusReportsSizeAndDir(t *testing.T) {
	s := testServer(t, true, 10)
	s.queue.Enqueue(&docmodel.Doc{Kind: docmodel.KindFullPage, HTML: "<p>x</p>"})

	req := httptest.NewRequest(http.MethodGet, "/prefetch/status", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if int(resp["size"].(float64)) != 1 {
		t.Fatalf("expected size 1, got %v", resp["size"])
	}
}

func TestPrefetchPreviewsAndTakeRoundTrip(t *testing.T) {
	s := testServer(t, true, 10)
	doc := &docmodel.Doc{Kind: docmodel.KindFullPage, HTML: "<html><head><title>T</title></head><body>x</body></html>"}
	s.queue.Enqueue(doc)

	req := httptest.NewRequest(http.MethodGet, "/prefetch/previews?limit=5", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	var previews []prefetch.Preview
	if err := json.Unmarshal(rec.Body.Bytes(), &previews); err != nil {
		t.Fatal(err)
	}
	if len(previews) != 1 {
		t.Fatalf("expected one preview, got %d", len(previews))
	}

	body, _ := json.Marshal(takeRequest{Token: previews[0].ID})
	takeReq := httptest.NewRequest(http.MethodPost, "/prefetch/take", bytes.NewReader(body))
	takeRec := httptest.NewRecorder()
	s.Router().ServeHTTP(takeRec, takeReq)
	if takeRec.Code != http.StatusOK {
		t.Fatalf("expected 200 on take, got %d", takeRec.Code)
	}
}

func TestPrefetchTakeUnknownTokenReturns404(t *testing.T) {
	s := testServer(t, true, 10)
	body, _ := json.Marshal(takeRequest{Token: "garbage"})
	req := httptest.NewRequest(http.MethodPost, "/prefetch/take", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestValidateStubAlwaysReportsValid(t *testing.T) {
	s := testServer(t, true, 10)
	req := httptest.NewRequest(http.MethodPost, "/validate", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMetricsTotalIncrementsAcrossGenerate(t *testing.T) {
	s := testServer(t, true, 10)
	s.queue.Enqueue(&docmodel.Doc{Kind: docmodel.KindFullPage, HTML: "<p>x</p>"})

	req := httptest.NewRequest(http.MethodPost, "/generate", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	totalReq := httptest.NewRequest(http.MethodGet, "/metrics/total", nil)
	totalRec := httptest.NewRecorder()
	s.Router().ServeHTTP(totalRec, totalReq)
	var resp map[string]int64
	if err := json.Unmarshal(totalRec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["total"] != 1 {
		t.Fatalf("expected total 1, got %d", resp["total"])
	}
}

func TestGenerateStreamEmitsMetaThenPage(t *testing.T) {
	s := testServer(t, true, 10)
	s.queue.Enqueue(&docmodel.Doc{Kind: docmodel.KindFullPage, HTML: "<p>streamed</p>"})

	req := httptest.NewRequest(http.MethodPost, "/generate/stream", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	lines := bytes.Split(bytes.TrimSpace(rec.Body.Bytes()), []byte("\n"))
	if len(lines) < 2 {
		t.Fatalf("expected at least meta+page lines, got %d", len(lines))
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(lines[0], &meta); err != nil {
		t.Fatal(err)
	}
	if meta["event"] != "meta" {
		t.Fatalf("expected first event meta, got %v", meta["event"])
	}
	var page map[string]interface{}
	if err := json.Unmarshal(lines[1], &page); err != nil {
		t.Fatal(err)
	}
	if page["event"] != "page" {
		t.Fatalf("expected second event page, got %v", page["event"])
	}
}

func TestLLMStatusListsProviders(t *testing.T) {
	s := testServer(t, true, 10)
	req := httptest.NewRequest(http.MethodGet, "/llm/status", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
