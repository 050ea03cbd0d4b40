// Package category implements the deterministic round-robin over the fixed
// set of creative-output categories that every generation request is tagged
// with.
package category

import "sync"

// GlobalKey is the shared cursor used for empty or unknown caller keys.
const GlobalKey = "__global__"

// evictThreshold and evictTarget bound the cursor map's growth: once it
// exceeds evictThreshold entries, every key but the one just used is
// discarded down to evictTarget.
const (
	evictThreshold = 4096
	evictTarget    = 2048
)

// Directive pairs a category label with the multi-line text appended to the
// prompt.
type Directive struct {
	Name string
	Text string
}

var rotation = []Directive{
	{
		Name: "web-toy",
		Text: "Category: Web Toy\n" +
			"Build a small, self-contained interactive toy: something a visitor " +
			"pokes at for thirty seconds and smiles. Motion, color, or sound " +
			"reacting to input matters more than any practical purpose.",
	},
	{
		Name: "utility-tool",
		Text: "Category: Utility Tool\n" +
			"Build a single-purpose tool that solves one concrete, everyday " +
			"problem (a converter, calculator, generator, formatter). Favor a " +
			"clear input/output flow over decoration.",
	},
	{
		Name: "playable-game",
		Text: "Category: Playable Game\n" +
			"Build a tiny game with a win or score condition the player can " +
			"reach within a minute. Keep the rules explainable in one sentence.",
	},
	{
		Name: "interactive-art",
		Text: "Category: Interactive Art\n" +
			"Build a generative or reactive visual piece driven by pointer, " +
			"keyboard, or time. There is no objective beyond the visual or " +
			"ambient experience itself.",
	},
	{
		Name: "quiz",
		Text: "Category: Quiz\n" +
			"Build a short multi-question quiz or personality test with a " +
			"result screen. Questions should be self-contained; no external " +
			"data source.",
	},
}

// Rotator hands out the next category directive for a caller key,
// round-robining through the five fixed categories independently per key.
type Rotator struct {
	mu      sync.Mutex
	cursors map[string]int
}

// NewRotator constructs an empty rotator.
func NewRotator() *Rotator {
	return &Rotator{cursors: make(map[string]int)}
}

// Next advances userKey's cursor and returns the directive at the new
// position. An empty key is folded into GlobalKey.
func (r *Rotator) Next(userKey string) Directive {
	if userKey == "" {
		userKey = GlobalKey
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.cursors[userKey]
	d := rotation[idx%len(rotation)]
	r.cursors[userKey] = (idx + 1) % len(rotation)

	r.evictLocked(userKey)
	return d
}

func (r *Rotator) evictLocked(activeKey string) {
	if len(r.cursors) <= evictThreshold {
		return
	}
	active, hadActive := r.cursors[activeKey]
	kept := make(map[string]int, evictTarget)
	if hadActive {
		kept[activeKey] = active
	}
	for k, v := range r.cursors {
		if len(kept) >= evictTarget {
			break
		}
		if k == activeKey {
			continue
		}
		kept[k] = v
	}
	r.cursors = kept
}

// Size returns the number of distinct keys currently tracked.
func (r *Rotator) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cursors)
}
