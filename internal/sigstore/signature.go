// Package sigstore computes structural signatures for generated documents and
// remembers recently-seen signatures with bounded capacity, so the
// generation engine can refuse near-duplicate layouts.
package sigstore

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"

	"github.com/ndwlabs/ndw-gateway/internal/docmodel"
)

var (
	commentRe    = regexp.MustCompile(`(?s)<!--.*?-->`)
	scriptOrStyle = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</\s*script\s*>|<style\b[^>]*>.*?</\s*style\s*>`)
	betweenTagsRe = regexp.MustCompile(`>[^<]+<`)
	leadingTextRe = regexp.MustCompile(`^[^<]+`)
	trailingTextRe = regexp.MustCompile(`[^>]+$`)
	skeletonWSRe  = regexp.MustCompile(`\s+`)
)

// skeletonize reduces html to its structural skeleton: comments, script/style
// bodies, and all text nodes removed, leaving tag order and attributes (which
// includes class names) as the content that gets hashed. Two documents with
// identical layout but different copy collide on purpose.
func skeletonize(html string) string {
	if html == "" {
		return ""
	}
	s := commentRe.ReplaceAllString(html, "")
	s = scriptOrStyle.ReplaceAllString(s, "")
	s = betweenTagsRe.ReplaceAllString(s, "><")
	s = leadingTextRe.ReplaceAllString(s, "")
	s = trailingTextRe.ReplaceAllString(s, "")
	return skeletonWSRe.ReplaceAllString(s, "")
}

// Signature computes a stable structural signature for doc. Snippets append
// their CSS and JS strings after the skeletonized HTML (layout plus
// behavior/styling hash together). Documents with no extractable HTML fall
// back to the canonical JSON serialization; documents with neither yield the
// empty string, which callers must treat as "cannot dedupe".
func Signature(doc *docmodel.Doc) string {
	if doc == nil {
		return ""
	}

	var payload string
	switch doc.Kind {
	case docmodel.KindSnippet:
		payload = skeletonize(doc.HTML) + doc.CSS + doc.JS
	case docmodel.KindFullPage:
		payload = skeletonize(doc.HTML)
	case docmodel.KindComponent:
		if len(doc.Components) > 0 {
			payload = skeletonize(doc.Components[0].Props.HTML)
		}
	}

	if payload == "" {
		b, err := doc.MarshalCanonicalJSON()
		if err != nil || len(b) == 0 {
			return ""
		}
		payload = string(b)
	}

	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
