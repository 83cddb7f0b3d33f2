package pipeline

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rzbill/beacon/internal/breaker"
	"github.com/rzbill/beacon/internal/deadletter"
	"github.com/rzbill/beacon/internal/event"
	"github.com/rzbill/beacon/internal/filter"
	"github.com/rzbill/beacon/internal/queue"
	"github.com/rzbill/beacon/internal/retry"
	pebblestore "github.com/rzbill/beacon/internal/storage/pebble"
	"github.com/rzbill/beacon/internal/transport"
	logpkg "github.com/rzbill/beacon/pkg/log"
)

var lastFlushKey = []byte("tq/meta/lastflush")

// Options wires the pipeline's collaborators. Store, DeadLetters, Breaker,
// and Transport are required; the rest default sensibly.
type Options struct {
	Store       *queue.Store
	DeadLetters *deadletter.Store
	Breaker     *breaker.Breaker
	Transport   transport.Transport
	Retry       retry.Policy
	Filter      filter.Filter
	Logger      logpkg.Logger
	Clock       Clock

	// DB, when set, persists the last-flush record across restarts.
	DB *pebblestore.DB

	BatchMaxCount int
	BatchMaxBytes int
	MaxRetries    int
	FlushInterval time.Duration
	HighWaterMark int
}

// Stats is the diagnostic snapshot served to operators.
type Stats struct {
	QueueDepth       int    `json:"queueDepth"`
	DeadLetterDepth  int    `json:"deadLetterDepth"`
	CircuitState     string `json:"circuitState"`
	LastFlushOutcome string `json:"lastFlushOutcome"`
}

// Pipeline coordinates enqueue, flush, retry, and dead-lettering.
type Pipeline struct {
	store       *queue.Store
	deadLetters *deadletter.Store
	breaker     *breaker.Breaker
	transport   transport.Transport
	retry       retry.Policy
	filter      filter.Filter
	logger      logpkg.Logger
	clock       Clock
	db          *pebblestore.DB

	batchMaxCount int
	batchMaxBytes int
	maxRetries    int
	flushInterval time.Duration
	highWaterMark int

	flushing    atomic.Bool
	lastOutcome atomic.Value // string

	wake chan struct{}
	errs chan error

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	started bool
}

// New builds a pipeline. It does not start the scheduler; call Start.
func New(opts Options) (*Pipeline, error) {
	if opts.Store == nil || opts.DeadLetters == nil || opts.Breaker == nil || opts.Transport == nil {
		return nil, errors.New("pipeline: Store, DeadLetters, Breaker, and Transport are required")
	}
	if opts.Logger == nil {
		opts.Logger = logpkg.NewLogger()
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.BatchMaxCount <= 0 {
		opts.BatchMaxCount = 100
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 30 * time.Second
	}
	p := &Pipeline{
		store:         opts.Store,
		deadLetters:   opts.DeadLetters,
		breaker:       opts.Breaker,
		transport:     opts.Transport,
		retry:         opts.Retry,
		filter:        opts.Filter,
		logger:        opts.Logger.WithComponent("pipeline"),
		clock:         opts.Clock,
		db:            opts.DB,
		batchMaxCount: opts.BatchMaxCount,
		batchMaxBytes: opts.BatchMaxBytes,
		maxRetries:    opts.MaxRetries,
		flushInterval: opts.FlushInterval,
		highWaterMark: opts.HighWaterMark,
		wake:          make(chan struct{}, 1),
		errs:          make(chan error, 16),
	}
	p.lastOutcome.Store("NONE")
	p.loadLastFlush()
	return p, nil
}

// Track records one telemetry event. It is fire-and-forget: filters may
// drop it, queue overflow may drop another, and every failure is absorbed
// here. Payloads must be sanitized before this call; the pipeline stores
// them verbatim.
func (p *Pipeline) Track(eventType string, payload []byte) {
	nowMs := p.clock.NowMs()
	if !p.filter.Keep(eventType, payload, nowMs) {
		return
	}
	ev := event.New(eventType, payload, nowMs)
	err := p.store.Enqueue(context.Background(), ev)
	switch {
	case errors.Is(err, queue.ErrQueueFull):
		p.logger.Warn("queue full, telemetry dropped", logpkg.Str("type", eventType))
		p.reportErr(err)
	case err != nil:
		p.logger.Error("enqueue failed", logpkg.Str("type", eventType), logpkg.Err(err))
		p.reportErr(err)
		return
	}
	if p.highWaterMark > 0 && p.store.Size() >= p.highWaterMark {
		p.trigger()
	}
}

// Errors exposes internal failures for hosts that want visibility. The
// channel is buffered and never blocks the pipeline; unread errors are
// dropped.
func (p *Pipeline) Errors() <-chan error { return p.errs }

func (p *Pipeline) reportErr(err error) {
	select {
	case p.errs <- err:
	default:
	}
}

// Flush runs one delivery pass. Only one flush runs at a time; concurrent
// calls return immediately.
func (p *Pipeline) Flush(ctx context.Context) {
	if !p.flushing.CompareAndSwap(false, true) {
		return
	}
	defer p.flushing.Store(false)

	nowMs := p.clock.NowMs()
	verdict := p.breaker.Allow(nowMs)
	if verdict == breaker.Deny {
		p.skipOpen(ctx, nowMs)
		return
	}

	batch := p.store.PeekBatch(p.batchMaxCount, p.batchMaxBytes, nowMs)
	if len(batch) == 0 {
		if verdict == breaker.AllowProbe {
			// hand the unused probe slot back or no later flush ever sends
			p.breaker.OnProbeAbandoned()
		}
		return
	}
	seqs := make([]uint64, len(batch))
	events := make([]event.Event, len(batch))
	for i, it := range batch {
		seqs[i] = it.Seq
		events[i] = it.Event
	}

	p.store.MarkInflight(seqs)
	defer p.store.ReleaseInflight(seqs)

	out := p.transport.Send(ctx, events)
	doneMs := p.clock.NowMs()

	switch out.Status {
	case transport.Success:
		if err := p.store.Remove(ctx, seqs); err != nil {
			p.logger.Error("ack removal failed", logpkg.Err(err))
			p.reportErr(err)
		}
		p.breaker.OnSuccess(doneMs)
		p.logger.Debug("flush delivered", logpkg.Int("batch", len(batch)))
		p.recordFlush(doneMs, "SUCCESS")

	case transport.Retryable:
		p.handleRetryable(ctx, batch, doneMs, out.Reason)
		p.breaker.OnFailure(doneMs)
		p.recordFlush(doneMs, "RETRYABLE")

	case transport.Permanent:
		// payload problem, not endpoint health: breaker untouched
		p.deadLetterBatch(ctx, batch, deadletter.ReasonPermanent, doneMs)
		p.logger.Warn("batch permanently rejected",
			logpkg.Int("batch", len(batch)), logpkg.Str("reason", out.Reason))
		p.recordFlush(doneMs, "PERMANENT")
	}
}

// skipOpen applies backoff to the eligible head of the queue without any
// network I/O, so a tripped breaker still spaces out future work.
func (p *Pipeline) skipOpen(ctx context.Context, nowMs int64) {
	batch := p.store.PeekBatch(p.batchMaxCount, p.batchMaxBytes, nowMs)
	if len(batch) == 0 {
		p.recordFlush(nowMs, "SKIPPED_OPEN")
		return
	}
	updates := make([]queue.RetryUpdate, len(batch))
	for i, it := range batch {
		// synthetic failure: reschedule without consuming retry budget
		updates[i] = queue.RetryUpdate{
			Seq:              it.Seq,
			Attempt:          it.Event.Attempt,
			NextEligibleAtMs: nowMs + p.retry.NextDelay(it.Event.Attempt).Milliseconds(),
		}
	}
	if err := p.store.ScheduleRetries(ctx, updates); err != nil {
		p.logger.Error("open-circuit reschedule failed", logpkg.Err(err))
		p.reportErr(err)
	}
	p.logger.Debug("circuit open, flush skipped", logpkg.Int("deferred", len(batch)))
	p.recordFlush(nowMs, "SKIPPED_OPEN")
}

func (p *Pipeline) handleRetryable(ctx context.Context, batch []queue.Item, nowMs int64, reason string) {
	var updates []queue.RetryUpdate
	var exhausted []queue.Item
	for _, it := range batch {
		attempt := it.Event.Attempt + 1
		if attempt > p.maxRetries {
			it.Event.Attempt = attempt
			exhausted = append(exhausted, it)
			continue
		}
		updates = append(updates, queue.RetryUpdate{
			Seq:              it.Seq,
			Attempt:          attempt,
			NextEligibleAtMs: nowMs + p.retry.NextDelay(attempt).Milliseconds(),
		})
	}
	if err := p.store.ScheduleRetries(ctx, updates); err != nil {
		p.logger.Error("retry reschedule failed", logpkg.Err(err))
		p.reportErr(err)
	}
	if len(exhausted) > 0 {
		p.deadLetterItems(ctx, exhausted, deadletter.ReasonMaxRetries, nowMs)
	}
	p.logger.Debug("flush failed, batch rescheduled",
		logpkg.Int("retried", len(updates)),
		logpkg.Int("dead_lettered", len(exhausted)),
		logpkg.Str("reason", reason))
}

func (p *Pipeline) deadLetterBatch(ctx context.Context, batch []queue.Item, reason deadletter.Reason, nowMs int64) {
	p.deadLetterItems(ctx, batch, reason, nowMs)
}

// deadLetterItems moves items into the dead-letter store and then removes
// them from the main queue. Add-before-remove: a crash in between leaves a
// duplicate, never a vanished event.
func (p *Pipeline) deadLetterItems(ctx context.Context, items []queue.Item, reason deadletter.Reason, nowMs int64) {
	entries := make([]deadletter.Entry, len(items))
	seqs := make([]uint64, len(items))
	for i, it := range items {
		entries[i] = deadletter.Entry{Event: it.Event, Reason: reason, MovedAtMs: nowMs}
		seqs[i] = it.Seq
	}
	if err := p.deadLetters.Add(ctx, entries); err != nil {
		p.logger.Error("dead-letter write failed", logpkg.Err(err))
		p.reportErr(err)
		return
	}
	if err := p.store.Remove(ctx, seqs); err != nil {
		p.logger.Error("dead-letter removal failed", logpkg.Err(err))
		p.reportErr(err)
	}
}

// Stats returns the diagnostic snapshot.
func (p *Pipeline) Stats() Stats {
	return Stats{
		QueueDepth:       p.store.Size(),
		DeadLetterDepth:  p.deadLetters.Depth(),
		CircuitState:     p.breaker.State().String(),
		LastFlushOutcome: p.lastOutcome.Load().(string),
	}
}

// DeadLetters exposes the dead-letter store for diagnostics surfaces.
func (p *Pipeline) DeadLetters() *deadletter.Store { return p.deadLetters }

func (p *Pipeline) recordFlush(nowMs int64, outcome string) {
	p.lastOutcome.Store(outcome)
	if p.db == nil {
		return
	}
	v := make([]byte, 8, 8+len(outcome))
	binary.BigEndian.PutUint64(v[:8], uint64(nowMs))
	v = append(v, outcome...)
	if err := p.db.Set(lastFlushKey, v); err != nil {
		p.logger.Warn("last-flush record write failed", logpkg.Err(err))
	}
}

func (p *Pipeline) loadLastFlush() {
	if p.db == nil {
		return
	}
	if v, err := p.db.Get(lastFlushKey); err == nil && len(v) > 8 {
		p.lastOutcome.Store(string(v[8:]))
	}
}
