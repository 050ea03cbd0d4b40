// Package topup implements the prefetch top-up scheduler (C7): a bounded
// worker pool that refills the prefetch queue via burst generation and
// drives batched compliance review over the newly queued records, in the
// idiom of the teacher's directory watcher (mutex-guarded state, functional
// options, a stopOnce-guarded done channel).
package topup

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ndwlabs/ndw-gateway/internal/category"
	"github.com/ndwlabs/ndw-gateway/internal/docmodel"
)

// retryCooldown is the wait between retry-batch attempts.
const retryCooldown = 5 * time.Second

// maxRetryAttempts bounds how many times a review-retry batch is rescheduled
// before being abandoned. reviewOrRetry's initial pass counts as the first of
// the 3 total review attempts a batch gets, so retryWorker gets 2 more.
const maxRetryAttempts = 2

// BurstSource is the generation-capable subset of provider.Client the
// scheduler drives to refill the queue.
type BurstSource interface {
	Name() string
	Configured() bool
	SupportsBurst() bool
	GenerateBurst(ctx context.Context, brief string, seed int, yield func(*docmodel.Doc)) (int, error)
}

// Rotator supplies the category directive attached to each burst request.
type Rotator interface {
	Next(userKey string) category.Directive
}

// Queue is the subset of prefetch.Queue the scheduler needs.
type Queue interface {
	Size() int
	Enqueue(doc *docmodel.Doc) (string, bool)
	LoadRecord(id string) (*docmodel.Doc, bool)
	OverwriteRecord(id string, doc *docmodel.Doc) bool
	DeleteRecord(id string) bool
}

// Reviewer is the batch-review dependency (C6) driven over queued record IDs.
type Reviewer interface {
	ReviewBatch(ctx context.Context, docs []*docmodel.Doc, brief, categoryNote string) []*docmodel.ReviewRecord
}

// Config holds the tuning knobs from spec §4.7.
type Config struct {
	LowWater    int
	FillTo      int
	ReviewBatch int
	MaxWorkers  int
}

func (c Config) normalized() Config {
	if c.LowWater <= 0 {
		c.LowWater = 10
	}
	if c.FillTo <= 0 {
		c.FillTo = 30
	}
	if c.ReviewBatch <= 0 {
		c.ReviewBatch = 5
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 3
	}
	return c
}

// Scheduler runs prewarm-at-startup and on-demand top-up passes, batching
// review over newly-enqueued records via a single retry worker.
type Scheduler struct {
	queue    Queue
	sources  []BurstSource
	rotator  Rotator
	reviewer Reviewer
	cfg      Config
	logger   *zap.Logger

	mu         sync.Mutex
	retryFIFO  []retryBatch
	retryCond  *sync.Cond
	done       chan struct{}
	stopOnce   sync.Once
	started    bool
	topUpBusy  atomic.Bool
}

type retryBatch struct {
	ids      []string
	attempts int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger attaches a zap logger; nil disables logging.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New constructs a Scheduler. sources should be filtered to burst-capable,
// configured providers by the caller; New does not filter them itself so
// callers can pass a forced override.
func New(queue Queue, sources []BurstSource, rotator Rotator, reviewer Reviewer, cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		queue:    queue,
		sources:  sources,
		rotator:  rotator,
		reviewer: reviewer,
		cfg:      cfg.normalized(),
		logger:   zap.NewNop(),
		done:     make(chan struct{}),
	}
	s.retryCond = sync.NewCond(&s.mu)
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Start launches the single long-lived retry worker. Safe to call once.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()
	go s.retryWorker(ctx)
}

// Stop signals the retry worker to exit.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.retryCond.Broadcast()
		s.mu.Unlock()
	})
}

// Prewarm runs at startup until the queue has at least desired docs, bounded
// by max_failures = max(5, desired*3).
func (s *Scheduler) Prewarm(ctx context.Context, brief string, desired int) {
	maxFailures := desired * 3
	if maxFailures < 5 {
		maxFailures = 5
	}
	failures := 0
	for s.queue.Size() < desired && failures < maxFailures {
		ids := s.burstOnce(ctx, brief)
		if len(ids) == 0 {
			failures++
			continue
		}
		s.reviewOrRetry(ctx, brief, ids)
	}
}

// TriggerTopUp runs TopUp in the background, coalescing concurrent requests:
// if a top-up pass is already in flight, this call is a no-op rather than
// starting a second overlapping pass.
func (s *Scheduler) TriggerTopUp(ctx context.Context, brief string, minFill int) {
	if !s.topUpBusy.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer s.topUpBusy.Store(false)
		s.TopUp(ctx, brief, minFill)
	}()
}

// TopUp runs the main refill loop: exits when size >= max(minFill, FillTo)
// and size > LowWater, dispatching up to MaxWorkers concurrent burst jobs
// and batching review over their combined results.
func (s *Scheduler) TopUp(ctx context.Context, brief string, minFill int) {
	target := s.cfg.FillTo
	if minFill > target {
		target = minFill
	}
	maxFailures := target * 3
	if maxFailures < 5 {
		maxFailures = 5
	}

	var pending []string
	var pendingMu sync.Mutex
	failures := 0

	flush := func() {
		pendingMu.Lock()
		batch := pending
		pending = nil
		pendingMu.Unlock()
		if len(batch) > 0 {
			s.reviewOrRetry(ctx, brief, batch)
		}
	}

	for {
		if s.queue.Size() >= target && s.queue.Size() > s.cfg.LowWater {
			break
		}
		if failures >= maxFailures {
			s.logger.Warn("top-up giving up after repeated burst failures", zap.Int("failures", failures))
			break
		}

		sem := make(chan struct{}, s.cfg.MaxWorkers)
		var wg sync.WaitGroup
		round := s.cfg.MaxWorkers

		for i := 0; i < round; i++ {
			if s.queue.Size() >= target {
				break
			}
			sem <- struct{}{}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				ids := s.burstOnce(ctx, brief)
				if len(ids) == 0 {
					pendingMu.Lock()
					failures++
					pendingMu.Unlock()
					return
				}
				pendingMu.Lock()
				pending = append(pending, ids...)
				shouldFlush := len(pending) >= s.cfg.ReviewBatch
				var batch []string
				if shouldFlush {
					batch = pending
					pending = nil
				}
				pendingMu.Unlock()
				if len(batch) > 0 {
					s.reviewOrRetry(ctx, brief, batch)
				}
			}()
		}
		wg.Wait()

		select {
		case <-ctx.Done():
			flush()
			return
		default:
		}
	}
	flush()
}

// burstOnce runs one burst generation across the configured sources
// (stopping at the first source that yields anything), offering every
// yielded doc to the queue and returning the enqueued record IDs. It does
// not check the fill target: docs that arrive after the queue reaches it
// are enqueued too, unless Enqueue refuses them as duplicates.
func (s *Scheduler) burstOnce(ctx context.Context, brief string) []string {
	directive := s.rotator.Next("")
	var ids []string
	for _, src := range s.sources {
		if !src.Configured() || !src.SupportsBurst() {
			continue
		}
		seed := int(time.Now().UnixNano() % 9_999_999)
		count, err := src.GenerateBurst(ctx, brief, seed, func(doc *docmodel.Doc) {
			doc.Category = directive.Name
			id, ok := s.queue.Enqueue(doc)
			if ok {
				ids = append(ids, id)
			}
		})
		if err != nil {
			s.logger.Warn("burst source error", zap.String("source", src.Name()), zap.Error(err))
			continue
		}
		if count > 0 {
			return ids
		}
	}
	return ids
}

// ScheduleReview runs a batch review over ids in the background (the
// dispatcher's deferred-review path for docs enqueued, but not served,
// during a /generate/stream burst).
func (s *Scheduler) ScheduleReview(ctx context.Context, brief string, ids []string) {
	if len(ids) == 0 {
		return
	}
	go s.reviewOrRetry(ctx, brief, ids)
}

// reviewOrRetry loads the given record IDs, runs a batch review, applies the
// verdicts, and enqueues any still-unreviewable IDs onto the retry FIFO.
func (s *Scheduler) reviewOrRetry(ctx context.Context, brief string, ids []string) {
	unresolved := s.reviewIDs(ctx, brief, ids)
	if len(unresolved) == 0 {
		return
	}
	s.mu.Lock()
	s.retryFIFO = append(s.retryFIFO, retryBatch{ids: unresolved})
	s.retryCond.Broadcast()
	s.mu.Unlock()
}

// reviewIDs loads each record, runs ReviewBatch, and applies ok/delete/
// overwrite per the spec's reviewQueuedDocs rule. Returns the subset of IDs
// that could not be reviewed this round (reviewer returned nil for them).
func (s *Scheduler) reviewIDs(ctx context.Context, brief string, ids []string) []string {
	docs := make([]*docmodel.Doc, 0, len(ids))
	loadedIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		doc, ok := s.queue.LoadRecord(id)
		if !ok {
			continue
		}
		docs = append(docs, doc)
		loadedIDs = append(loadedIDs, id)
	}
	if len(docs) == 0 {
		return nil
	}

	records := s.reviewer.ReviewBatch(ctx, docs, brief, "")

	var unresolved []string
	for i, id := range loadedIDs {
		rec := records[i]
		if rec == nil {
			unresolved = append(unresolved, id)
			continue
		}
		if !rec.OK {
			s.queue.DeleteRecord(id)
			continue
		}
		if rec.Doc != nil {
			corrected := rec.Doc
			corrected.Review = rec
			s.queue.OverwriteRecord(id, corrected)
		}
	}
	return unresolved
}

// retryWorker is the single long-lived goroutine servicing the retry FIFO,
// cooling down retryCooldown between attempts and abandoning a batch after
// maxRetryAttempts retries here, on top of reviewOrRetry's initial pass — 3
// review attempts total per batch.
func (s *Scheduler) retryWorker(ctx context.Context) {
	for {
		s.mu.Lock()
		for len(s.retryFIFO) == 0 {
			select {
			case <-s.done:
				s.mu.Unlock()
				return
			case <-ctx.Done():
				s.mu.Unlock()
				return
			default:
			}
			s.retryCond.Wait()
			select {
			case <-s.done:
				s.mu.Unlock()
				return
			default:
			}
		}
		batch := s.retryFIFO[0]
		s.retryFIFO = s.retryFIFO[1:]
		s.mu.Unlock()

		select {
		case <-time.After(retryCooldown):
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}

		unresolved := s.reviewIDs(ctx, "", batch.ids)
		batch.attempts++
		if len(unresolved) > 0 && batch.attempts < maxRetryAttempts {
			batch.ids = unresolved
			s.mu.Lock()
			s.retryFIFO = append(s.retryFIFO, batch)
			s.mu.Unlock()
		} else if len(unresolved) > 0 {
			s.logger.Warn("abandoning review retry batch after max attempts",
				zap.Int("attempts", batch.attempts), zap.Int("unresolved", len(unresolved)))
		}
	}
}
