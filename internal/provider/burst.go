package provider

import "encoding/json"

// BurstMax is the ceiling on documents a single burst stream may yield (K=10
// per the provider protocol).
const BurstMax = 10

// BurstParser incrementally extracts completed top-level JSON objects from a
// stream of concatenated chunks representing a single (possibly still-open)
// `[{...}, {...}, ...]` array. Feed may be called repeatedly as chunks
// arrive; each call returns any objects that became complete since the last
// call. The parser is brace-/quote-aware so braces inside string values
// never affect nesting depth.
type BurstParser struct {
	pending []byte
	depth   int
	inStr   bool
	esc     bool
	start   int
	count   int
	pos     int // index in pending of the next byte not yet scanned
}

// NewBurstParser returns a parser ready to accept the first chunk.
func NewBurstParser() *BurstParser {
	return &BurstParser{start: -1}
}

// Feed appends chunk to the parser's buffer and returns any raw JSON objects
// that completed as a result. Once BurstMax objects have been yielded,
// further input is accepted but ignored.
func (p *BurstParser) Feed(chunk []byte) []json.RawMessage {
	if p.count >= BurstMax {
		return nil
	}
	p.pending = append(p.pending, chunk...)

	var out []json.RawMessage
	i := p.pos
	for ; i < len(p.pending) && p.count < BurstMax; i++ {
		ch := p.pending[i]
		if p.inStr {
			if p.esc {
				p.esc = false
			} else if ch == '\\' {
				p.esc = true
			} else if ch == '"' {
				p.inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			p.inStr = true
		case '{':
			if p.depth == 0 {
				p.start = i
			}
			p.depth++
		case '}':
			if p.depth > 0 {
				p.depth--
				if p.depth == 0 && p.start != -1 {
					obj := p.pending[p.start : i+1]
					cp := make(json.RawMessage, len(obj))
					copy(cp, obj)
					out = append(out, cp)
					p.count++
					p.start = -1
				}
			}
		}
	}

	// Drop fully-consumed prefix (everything before an in-progress object, or
	// everything if we're between objects) to keep the buffer bounded.
	p.pos = i
	if p.depth == 0 {
		p.pending = nil
		p.pos = 0
	} else if p.start > 0 {
		p.pending = p.pending[p.start:]
		p.pos -= p.start
		p.start = 0
	}
	return out
}

// Count returns the number of objects yielded so far.
func (p *BurstParser) Count() int { return p.count }

// Done reports whether the parser has reached BurstMax.
func (p *BurstParser) Done() bool { return p.count >= BurstMax }
