package provider

import "strconv"

// shapeHint documents the three accepted output shapes and their
// constraints; it is appended verbatim to every generation prompt so the
// model's raw text has a fighting chance of extracting cleanly.
const shapeHint = `Respond with JSON only, no prose, matching exactly one of these shapes:
1) {"kind":"ndw_snippet_v1","title"?,"background"?:{"style"?,"class"?},"css"?,"html"?,"js"?} — at least one of css/html/js non-empty.
2) {"kind":"full_page_html","html":"<!doctype html>...full document..."}
3) {"components":[{"id","type":"custom","props":{"html","height"}}, ...]} — height is a positive integer, html non-empty.
Do not reference any external script/stylesheet/font/CDN URL except Tailwind, GSAP, or Lucide, which are already available globally.`

// BuildPagePrompt composes the single-generate prompt: category directive,
// shape hint, then the brief and seed.
func BuildPagePrompt(brief string, seed int, categoryNote string) string {
	if brief == "" {
		brief = "(auto generated)"
	}
	return categoryNote + "\n\n" +
		shapeHint + "\n\n" +
		"Brief: " + brief + "\n" +
		"Seed: " + strconv.Itoa(seed) + "\n"
}

// BuildBurstPrompt composes the burst prompt: same ingredients, asking for a
// JSON array of up to BurstMax documents instead of a single one.
func BuildBurstPrompt(brief string, seed int, categoryNote string) string {
	if brief == "" {
		brief = "(auto generated)"
	}
	return categoryNote + "\n\n" +
		"Respond with a JSON array of up to " + strconv.Itoa(BurstMax) + " documents, each matching one of:\n" +
		shapeHint + "\n\n" +
		"Brief: " + brief + "\n" +
		"Seed: " + strconv.Itoa(seed) + "\n"
}
