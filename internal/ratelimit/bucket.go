// Package ratelimit implements the per-bucket token-bucket gate (e.g. the
// "gen" bucket guarding /generate) on top of golang.org/x/time/rate, exposing
// the header contract (X-RateLimit-Remaining/-Reset, Retry-After) the
// dispatcher attaches to every response.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Decision is the outcome of a single Allow call, carrying everything the
// dispatcher needs to set response headers regardless of admit/deny.
type Decision struct {
	Allowed     bool
	Remaining   int
	ResetAt     time.Time
	RetryAfter  time.Duration
}

// Bucket wraps a named rate.Limiter with integer burst accounting so
// Remaining can be reported (rate.Limiter itself only exposes a float token
// count via Tokens(), not an integer "slots left").
type Bucket struct {
	name    string
	limiter *rate.Limiter
	burst   int
	mu      sync.Mutex
}

// NewBucket constructs a Bucket allowing burst permits and refilling at
// ratePerSecond tokens/sec thereafter.
func NewBucket(name string, ratePerSecond float64, burst int) *Bucket {
	return &Bucket{
		name:    name,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		burst:   burst,
	}
}

// Allow consumes one token if available and reports the resulting state.
func (b *Bucket) Allow(now time.Time) Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	reservation := b.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return Decision{Allowed: false, Remaining: 0, ResetAt: now}
	}
	delay := reservation.DelayFrom(now)
	if delay > 0 {
		reservation.Cancel()
		remaining := int(b.limiter.TokensAt(now))
		if remaining < 0 {
			remaining = 0
		}
		return Decision{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    now.Add(delay),
			RetryAfter: delay,
		}
	}

	remaining := int(b.limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Remaining: remaining, ResetAt: now}
}

// Name returns the bucket identifier used for logging/metrics labels.
func (b *Bucket) Name() string { return b.name }
