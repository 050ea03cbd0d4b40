package provider

import (
	"context"
	"fmt"

	"github.com/ndwlabs/ndw-gateway/internal/docmodel"
)

// StubClient is a deterministic, offline provider used for the test-mode
// stub path and for manual offline-generation fallback. It never performs
// network I/O.
type StubClient struct {
	name  string
	burst bool
}

// NewStubClient returns a provider that manufactures a deterministic
// full_page_html doc embedding the brief, seed, and category, per the
// hermetic test-mode contract. The seed is also carried in an attribute, so
// docs for different seeds differ in structural signature.
func NewStubClient(name string, burst bool) *StubClient {
	return &StubClient{name: name, burst: burst}
}

func (s *StubClient) Name() string       { return s.name }
func (s *StubClient) Configured() bool   { return true }
func (s *StubClient) SupportsBurst() bool { return s.burst }

func (s *StubClient) GeneratePage(_ context.Context, brief string, seed int, categoryNote string) (*docmodel.Doc, error) {
	return stubDoc(brief, seed, categoryNote), nil
}

func (s *StubClient) GenerateBurst(_ context.Context, brief string, seed int, yield func(*docmodel.Doc)) (int, error) {
	if !s.burst {
		return 0, nil
	}
	yield(stubDoc(brief, seed, ""))
	return 1, nil
}

// CompletePrompt always approves for the stub client: it returns a
// review-shaped {"ok":true,"issues":[],"notes":""} payload regardless of
// the prompt, so test-mode generation never blocks on review.
func (s *StubClient) CompletePrompt(_ context.Context, _ string, _ bool) (string, error) {
	return `{"ok":true,"issues":[],"notes":"","doc":null}`, nil
}

func stubDoc(brief string, seed int, categoryNote string) *docmodel.Doc {
	html := fmt.Sprintf(
		"<!doctype html><html><body data-seed=\"%d\"><p>%s</p><p>%d</p><p>%s</p></body></html>",
		seed, brief, seed, categoryNote,
	)
	return &docmodel.Doc{Kind: docmodel.KindFullPage, HTML: html}
}
