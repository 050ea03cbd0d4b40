package review

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ndwlabs/ndw-gateway/internal/docmodel"
)

const hardRules = "Hard rules: remove any external <script src>, <link href>, or CSS @import urls (http/https). " +
	"Do not rely on external fonts/images/CDNs; assume GSAP, Tailwind CSS, and Lucide are already present globally."

// buildPrompt composes a single-document review prompt: the doc serialized
// as indented JSON, the brief and category instruction, and the response
// schema the reviewer must follow.
func buildPrompt(doc *docmodel.Doc, brief, categoryNote string) string {
	serialized := serializeDoc(doc)
	instructions := "You are a compliance reviewer and fixer for interactive web apps. " +
		"Inspect the provided JSON payload for safety, policy violations, markup/runtime bugs, or accessibility issues. " +
		"If problems are minor, repair them directly and return the corrected payload. " +
		"If the experience is unsafe or too broken to repair confidently, reject it. " +
		hardRules + " " +
		"Output JSON only. No explanations. " +
		"Respond with compact JSON using this schema:\n" +
		`{"ok": true|false, "issues":[{"severity":"info|warn|block","field":"...","message":"..."}],` +
		`"notes":"optional summary","doc":{...optional corrected payload...} or null}` + "\n" +
		"Always include keys ok, issues, notes, and doc. If there are no issues, use an empty issues array. " +
		"Notes must be <= 160 characters and MUST be an empty string when there are no issues. " +
		"Always include doc; set doc to null if you made no corrections. " +
		"If you corrected the payload, include the corrected doc object. " +
		"Only set ok=true if the final payload (original or corrected) is safe, functional, and accessible."

	if brief == "" {
		brief = "(auto generated)"
	}
	return fmt.Sprintf("%s\n\nBrief: %s\nCategory Instruction: %s\n\nApp JSON:\n%s\n",
		instructions, brief, categoryNote, serialized)
}

// buildBatchPrompt composes a multi-document review prompt, indexing each
// document by its position so the response can be matched back up.
func buildBatchPrompt(docs []*docmodel.Doc) string {
	var sections []string
	for idx, doc := range docs {
		sections = append(sections, fmt.Sprintf("APP_INDEX: %d\nJSON:\n%s\n", idx, serializeDoc(doc)))
	}
	instructions := "You are a compliance reviewer and fixer for interactive web apps. " +
		"Evaluate each document below. Return a JSON object with a 'results' array. " +
		"Each array element is:\n" +
		`{"index": <matching APP_INDEX>, "ok": true|false, ` +
		`"issues":[{"severity":"info|warn|block","field":"...","message":"..."}], ` +
		`"notes":"optional summary", "doc":{...optional corrected payload...} or null}` + "\n" +
		"Output JSON only. No explanations. The first non-whitespace character MUST be '{'. " +
		"Only set ok=true if the payload (original or corrected) is safe, functional, and accessible. " +
		hardRules + " " +
		"Always include ok, issues, notes, and doc in every result. If there are no issues, use an empty issues array. " +
		"Notes must be <= 160 characters and MUST be an empty string when there are no issues. " +
		"Always include doc; set doc to null if you made no corrections. " +
		"If you corrected the payload, include the corrected doc object. " +
		"If a document is irreparable, set ok=false and set doc to null."

	return instructions + "\n\n---\n" + strings.Join(sections, "\n---\n")
}

func serializeDoc(doc *docmodel.Doc) string {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}
