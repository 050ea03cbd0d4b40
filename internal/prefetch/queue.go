// Package prefetch implements the FIFO persistent queue of reviewed,
// ready-to-serve documents that /generate can hand out without a round trip
// to an LLM provider.
package prefetch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ndwlabs/ndw-gateway/internal/docmodel"
	"github.com/ndwlabs/ndw-gateway/internal/sigstore"
)

// BatchMin and BatchMax bound the accepted count for a /prefetch/fill request.
const (
	BatchMin = 5
	BatchMax = 20
)

// ClampBatch constrains n to [BatchMin, BatchMax].
func ClampBatch(n int) int {
	if n < BatchMin {
		return BatchMin
	}
	if n > BatchMax {
		return BatchMax
	}
	return n
}

// DefaultTokenTTL is how long a peek token remains valid for a take.
const DefaultTokenTTL = 5 * time.Minute

// SignatureStore is the subset of sigstore.Store's behavior the queue needs,
// so tests can substitute an in-memory fake.
type SignatureStore interface {
	Has(sig string) bool
	Add(sig string)
}

// Preview is the lightweight description returned by Peek, paired with a
// signed token that authorizes a subsequent Take.
type Preview struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Category  string `json:"category,omitempty"`
	Vibe      string `json:"vibe,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// Queue is a file-backed FIFO of docmodel.Doc records. Each record is a
// single JSON file named by nanosecond enqueue time plus a short random
// suffix, so sorted directory listing order is always enqueue order, even
// across multiple enqueues landing in the same second.
type Queue struct {
	dir      string
	sigs     SignatureStore
	secret   []byte
	tokenTTL time.Duration
	mu       sync.Mutex
}

// Option configures a Queue.
type Option func(*Queue)

// WithSecret sets the HMAC key used to sign peek tokens. Without one, a
// random process-lifetime key is generated, meaning tokens never survive a
// restart.
func WithSecret(secret []byte) Option {
	return func(q *Queue) { q.secret = secret }
}

// WithTokenTTL overrides DefaultTokenTTL.
func WithTokenTTL(ttl time.Duration) Option {
	return func(q *Queue) {
		if ttl > 0 {
			q.tokenTTL = ttl
		}
	}
}

// New creates a queue persisting records under dir, deduping against sigs.
func New(dir string, sigs SignatureStore, opts ...Option) *Queue {
	q := &Queue{dir: dir, sigs: sigs, tokenTTL: DefaultTokenTTL, secret: randomSecret()}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func randomSecret() []byte {
	id := uuid.New()
	return id[:]
}

// Dir returns the backing directory, for status reporting.
func (q *Queue) Dir() string { return q.dir }

func (q *Queue) ensureDir() error {
	return os.MkdirAll(q.dir, 0o755)
}

func (q *Queue) listFiles() ([]string, error) {
	if err := q.ensureDir(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Size returns the number of records currently queued.
func (q *Queue) Size() int {
	names, err := q.listFiles()
	if err != nil {
		return 0
	}
	return len(names)
}

// Enqueue persists doc to the queue. It refuses a duplicate-by-signature
// document unless the queue is currently empty, in which case the enqueue is
// forced through as a recovery path (an empty queue with an unreachable
// upstream is worse than one stale duplicate). Returns the record id and
// true on success.
func (q *Queue) Enqueue(doc *docmodel.Doc) (string, bool) {
	if doc == nil {
		return "", false
	}
	sig := sigstore.Signature(doc)
	if sig == "" {
		return "", false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	size := q.Size()
	if q.sigs.Has(sig) && size > 0 {
		return "", false
	}
	q.sigs.Add(sig)

	if err := q.ensureDir(); err != nil {
		return "", false
	}

	stamped := doc.Clone()
	if stamped.CreatedAt == 0 {
		stamped.CreatedAt = time.Now().Unix()
	}
	b, err := json.Marshal(stamped)
	if err != nil {
		return "", false
	}

	name := fmt.Sprintf("%d-%s.json", time.Now().UnixNano(), uuid.New().String()[:8])
	path := filepath.Join(q.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return "", false
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", false
	}
	return strings.TrimSuffix(name, ".json"), true
}

// Dequeue atomically removes and returns the head of the queue. A corrupt
// (unparseable) head record is silently dropped and the next one tried.
// Returns false when the queue is empty or every remaining record is corrupt.
func (q *Queue) Dequeue() (*docmodel.Doc, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		names, err := q.listFiles()
		if err != nil || len(names) == 0 {
			return nil, false
		}
		path := filepath.Join(q.dir, names[0])
		b, err := os.ReadFile(path)
		_ = os.Remove(path)
		if err != nil {
			continue
		}
		var doc docmodel.Doc
		if err := json.Unmarshal(b, &doc); err != nil {
			continue
		}
		return &doc, true
	}
}

// Peek returns up to n previews of the oldest queued records, each paired
// with a signed token that authorizes a Take of that exact record. Records
// that fail to parse are skipped rather than surfaced.
func (q *Queue) Peek(n int) []Preview {
	q.mu.Lock()
	names, err := q.listFiles()
	q.mu.Unlock()
	if err != nil {
		return nil
	}
	if n > 0 && n < len(names) {
		names = names[:n]
	}

	previews := make([]Preview, 0, len(names))
	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(q.dir, name))
		if err != nil {
			continue
		}
		var doc docmodel.Doc
		if err := json.Unmarshal(b, &doc); err != nil {
			continue
		}
		ident := strings.TrimSuffix(name, ".json")
		previews = append(previews, Preview{
			ID:        signToken(q.secret, ident, q.tokenTTL),
			Title:     doc.ExtractTitle(),
			Category:  doc.Category,
			Vibe:      doc.Vibe,
			CreatedAt: doc.CreatedAt,
		})
	}
	return previews
}

// RecordPath returns the backing file path for record id (the value returned
// by Enqueue), for the top-up scheduler's load/overwrite/delete-by-id review
// pass. Unlike Peek/Take, id here is the raw record identifier, not a signed
// token: this is an in-process API, not one exposed over HTTP.
func (q *Queue) RecordPath(id string) string {
	return filepath.Join(q.dir, id+".json")
}

// LoadRecord reads and parses record id without removing it. A corrupt
// record is deleted and reported as missing, matching the "corrupted
// records are deleted on read" prefetch I/O contract.
func (q *Queue) LoadRecord(id string) (*docmodel.Doc, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	path := q.RecordPath(id)
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var doc docmodel.Doc
	if err := json.Unmarshal(b, &doc); err != nil {
		_ = os.Remove(path)
		return nil, false
	}
	return &doc, true
}

// OverwriteRecord replaces record id's payload with doc (the reviewer's
// corrected document), stamping CreatedAt if unset, and adds doc's signature
// to the dedupe store.
func (q *Queue) OverwriteRecord(id string, doc *docmodel.Doc) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	stamped := doc.Clone()
	if stamped.CreatedAt == 0 {
		stamped.CreatedAt = time.Now().Unix()
	}
	b, err := json.Marshal(stamped)
	if err != nil {
		return false
	}
	path := q.RecordPath(id)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return false
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return false
	}
	if sig := sigstore.Signature(doc); sig != "" {
		q.sigs.Add(sig)
	}
	return true
}

// DeleteRecord removes record id outright (the reviewer blocked it).
func (q *Queue) DeleteRecord(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return os.Remove(q.RecordPath(id)) == nil
}

// Take verifies token, locates the matching record, removes it, and returns
// the document. It rejects malformed, expired, path-traversing, or
// already-consumed tokens.
func (q *Queue) Take(token string) (*docmodel.Doc, bool) {
	ident, err := verifyToken(q.secret, token)
	if err != nil {
		return nil, false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	path := filepath.Join(q.dir, ident+".json")
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	_ = os.Remove(path)

	var doc docmodel.Doc
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, false
	}
	return &doc, true
}
