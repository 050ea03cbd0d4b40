// Package metrics exposes the gateway's Prometheus counters and the
// process-wide served-document total, persisted the way the prefetch queue
// persists its records (atomic write-temp-then-rename JSON).
package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GenerationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ndw_generations_total",
		Help: "Documents served by /generate, labeled by source.",
	}, []string{"source"})

	DedupeHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ndw_dedupe_hits_total",
		Help: "Generation attempts rejected by the structural signature store.",
	})

	ProviderErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ndw_provider_errors_total",
		Help: "Upstream provider call failures, labeled by provider name.",
	}, []string{"provider"})

	RateLimitDeniedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ndw_rate_limit_denied_total",
		Help: "Requests rejected with 429 by the gen bucket.",
	})
)

// Counter is the process-wide "total served" count exposed at
// GET /metrics/total, file-persisted across restarts.
type Counter struct {
	path string
	mu   sync.Mutex
}

// NewCounter loads (or initializes) a Counter persisted at path.
func NewCounter(path string) *Counter {
	return &Counter{path: path}
}

type counterFile struct {
	Total int64 `json:"total"`
}

// Total returns the current count.
func (c *Counter) Total() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.read().Total
}

// Increment adds delta to the persisted total and returns the new value.
func (c *Counter) Increment(delta int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.read()
	cur.Total += delta
	c.write(cur)
	return cur.Total
}

func (c *Counter) read() counterFile {
	b, err := os.ReadFile(c.path)
	if err != nil {
		return counterFile{}
	}
	var cf counterFile
	if err := json.Unmarshal(b, &cf); err != nil {
		return counterFile{}
	}
	return cf
}

func (c *Counter) write(cf counterFile) {
	if dir := filepath.Dir(c.path); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	b, err := json.Marshal(cf)
	if err != nil {
		return
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, c.path)
}
