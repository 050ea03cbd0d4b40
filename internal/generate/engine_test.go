package generate

import (
	"context"
	"fmt"
	"testing"

	"github.com/ndwlabs/ndw-gateway/internal/category"
	"github.com/ndwlabs/ndw-gateway/internal/docmodel"
)

type stubProvider struct {
	name       string
	configured bool
	docs       []*docmodel.Doc
	calls      int
}

func (s *stubProvider) Name() string     { return s.name }
func (s *stubProvider) Configured() bool { return s.configured }

func (s *stubProvider) GeneratePage(_ context.Context, brief string, seed int, categoryNote string) (*docmodel.Doc, error) {
	i := s.calls
	s.calls++
	if i < len(s.docs) {
		return s.docs[i], nil
	}
	if len(s.docs) > 0 {
		return s.docs[len(s.docs)-1], nil
	}
	return nil, nil
}

type fakeRotator struct{}

func (fakeRotator) Next(_ string) category.Directive {
	return category.Directive{Name: "web-toy", Text: "Category: Web Toy"}
}

type fakeSigs struct {
	seen map[string]bool
}

func newFakeSigs() *fakeSigs { return &fakeSigs{seen: map[string]bool{}} }
func (f *fakeSigs) Has(sig string) bool { return f.seen[sig] }
func (f *fakeSigs) Add(sig string)      { f.seen[sig] = true }

func sign(doc *docmodel.Doc) string {
	if doc == nil {
		return ""
	}
	return doc.HTML
}

type approveReviewer struct{}

func (approveReviewer) Review(_ context.Context, doc *docmodel.Doc, _, _ string) (*docmodel.ReviewRecord, *docmodel.Doc, bool) {
	return &docmodel.ReviewRecord{OK: true}, nil, true
}

func page(html string) *docmodel.Doc {
	return &docmodel.Doc{Kind: docmodel.KindFullPage, HTML: html}
}

func TestGenerateAcceptsFirstUniqueDoc(t *testing.T) {
	p := &stubProvider{name: "primary", configured: true, docs: []*docmodel.Doc{page("<p>one</p>")}}
	e := NewEngine([]Provider{p}, fakeRotator{}, newFakeSigs(), approveReviewer{}, sign)

	res := e.Generate(context.Background(), "brief", 1, "user", true, nil)
	if res.Error != "" || res.Doc == nil {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Doc.Category != "web-toy" {
		t.Fatalf("expected category tagged, got %q", res.Doc.Category)
	}
}

func TestGenerateRetriesOnDedupeCollision(t *testing.T) {
	p := &stubProvider{name: "primary", configured: true, docs: []*docmodel.Doc{
		page("<p>dup</p>"), page("<p>dup</p>"), page("<p>fresh</p>"),
	}}
	sigs := newFakeSigs()
	sigs.Add("<p>dup</p>")
	e := NewEngine([]Provider{p}, fakeRotator{}, sigs, approveReviewer{}, sign)

	res := e.Generate(context.Background(), "brief", 1, "user", true, nil)
	if res.Error != "" || res.Doc == nil || res.Doc.HTML != "<p>fresh</p>" {
		t.Fatalf("expected retry past duplicates, got %+v", res)
	}
}

func TestGenerateFailsAfterThreeDuplicateAttempts(t *testing.T) {
	p := &stubProvider{name: "primary", configured: true, docs: []*docmodel.Doc{page("<p>dup</p>")}}
	sigs := newFakeSigs()
	sigs.Add("<p>dup</p>")
	e := NewEngine([]Provider{p}, fakeRotator{}, sigs, approveReviewer{}, sign)

	res := e.Generate(context.Background(), "brief", 1, "user", true, nil)
	if res.Doc != nil || res.Error != "Model generation failed" {
		t.Fatalf("expected Model generation failed error, got %+v", res)
	}
}

func TestGenerateReturnsErrorWhenNoProviderProducesADoc(t *testing.T) {
	p := &stubProvider{name: "primary", configured: true}
	e := NewEngine([]Provider{p}, fakeRotator{}, newFakeSigs(), approveReviewer{}, sign)

	res := e.Generate(context.Background(), "brief", 1, "user", true, nil)
	if res.Error == "" {
		t.Fatal("expected error result")
	}
}

func TestGenerateSkipsUnconfiguredProviders(t *testing.T) {
	dead := &stubProvider{name: "dead", configured: false}
	alive := &stubProvider{name: "alive", configured: true, docs: []*docmodel.Doc{page("<p>ok</p>")}}
	e := NewEngine([]Provider{dead, alive}, fakeRotator{}, newFakeSigs(), approveReviewer{}, sign)

	res := e.Generate(context.Background(), "brief", 1, "user", true, nil)
	if res.Error != "" || res.Doc == nil {
		t.Fatalf("expected success via alive provider, got %+v", res)
	}
	if dead.calls != 0 {
		t.Fatal("expected unconfigured provider never called")
	}
}

type blockingReviewer struct{ calls int }

func (b *blockingReviewer) Review(_ context.Context, doc *docmodel.Doc, _, _ string) (*docmodel.ReviewRecord, *docmodel.Doc, bool) {
	b.calls++
	return &docmodel.ReviewRecord{OK: false, Issues: []docmodel.Issue{{Severity: docmodel.SeverityBlock, Field: "html", Message: "unsafe"}}}, nil, false
}

func TestGenerateRetriesOnReviewBlock(t *testing.T) {
	docs := make([]*docmodel.Doc, 0, MaxAttempts)
	for i := 0; i < MaxAttempts; i++ {
		docs = append(docs, page(fmt.Sprintf("<p>%d</p>", i)))
	}
	p := &stubProvider{name: "primary", configured: true, docs: docs}
	rev := &blockingReviewer{}
	e := NewEngine([]Provider{p}, fakeRotator{}, newFakeSigs(), rev, sign)

	res := e.Generate(context.Background(), "brief", 1, "user", true, nil)
	if res.Error == "" {
		t.Fatalf("expected failure after repeated blocks, got %+v", res)
	}
	if rev.calls != MaxAttempts {
		t.Fatalf("expected %d review calls, got %d", MaxAttempts, rev.calls)
	}
}

func TestNormalizeBriefCollapsesAutoSynonyms(t *testing.T) {
	for _, in := range []string{"", "auto", "AUTO", "Random", "surprise me", "  Surprise Me  "} {
		if got := NormalizeBrief(in); got != "" {
			t.Fatalf("expected %q to normalize to empty, got %q", in, got)
		}
	}
	if got := NormalizeBrief("a tetris clone"); got != "a tetris clone" {
		t.Fatalf("expected explicit brief preserved, got %q", got)
	}
}

func TestNormalizeSeedFillsZero(t *testing.T) {
	if got := NormalizeSeed(42); got != 42 {
		t.Fatalf("expected explicit seed preserved, got %d", got)
	}
	got := NormalizeSeed(0)
	if got < 1 || got > seedMax {
		t.Fatalf("expected random seed in range, got %d", got)
	}
}
