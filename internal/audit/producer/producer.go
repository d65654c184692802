// Package producer implements fire-and-forget audit emission. Handlers
// enqueue envelopes on a bounded in-process queue and move on; a dedicated
// drain loop forwards batches to the broker sink. Emission is best-effort by
// contract: a dropped audit event never fails or retries the business
// mutation it describes.
package producer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"poscore/internal/audit"
	"poscore/internal/audit/sink"
	"poscore/pkg/platform/sentinel"
)

const (
	// DefaultCapacity bounds queued envelopes when no capacity is configured.
	DefaultCapacity = 4096
	// DefaultBatchSize caps how many envelopes one drain pass forwards.
	DefaultBatchSize = 100
	// DefaultMaxPublishAttempts bounds retries for one envelope before it
	// is dropped, so a record the broker keeps rejecting cannot head-of-line
	// block the drain loop.
	DefaultMaxPublishAttempts = 5

	dropWarnInterval = 10 * time.Second
	backoffBase      = 100 * time.Millisecond
	backoffCap       = 5 * time.Second
	closeDrainBudget = 5 * time.Second
)

// Producer is the in-process audit emitter. Emit is safe for concurrent use
// from many request handlers; a single drain goroutine consumes the queue.
type Producer struct {
	queue              chan audit.Envelope
	sink               sink.Sink
	topic              string
	batchSize          int
	maxPublishAttempts int
	logger             *slog.Logger
	metrics            *Metrics

	lastDropWarn atomic.Int64

	closeOnce sync.Once
	closing   chan struct{}
	drained   chan struct{}
}

// Option configures the Producer.
type Option func(*Producer)

// WithCapacity bounds the in-process queue.
func WithCapacity(n int) Option {
	return func(p *Producer) {
		if n > 0 {
			p.queue = make(chan audit.Envelope, n)
		}
	}
}

// WithBatchSize caps how many envelopes a single drain pass forwards.
func WithBatchSize(n int) Option {
	return func(p *Producer) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithMaxPublishAttempts bounds sink retries per envelope.
func WithMaxPublishAttempts(n int) Option {
	return func(p *Producer) {
		if n > 0 {
			p.maxPublishAttempts = n
		}
	}
}

// New creates a producer forwarding to the given sink and topic.
func New(s sink.Sink, topic string, logger *slog.Logger, metrics *Metrics, opts ...Option) *Producer {
	p := &Producer{
		queue:              make(chan audit.Envelope, DefaultCapacity),
		sink:               s,
		topic:              topic,
		batchSize:          DefaultBatchSize,
		maxPublishAttempts: DefaultMaxPublishAttempts,
		logger:             logger,
		metrics:            metrics,
		closing:            make(chan struct{}),
		drained:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit enqueues an envelope without blocking. When the queue is full the
// incoming event is dropped (drop-newest: bounded memory under sustained
// overload) and the drop counter increments; the caller never sees an error.
func (p *Producer) Emit(env audit.Envelope) {
	select {
	case p.queue <- env:
		p.metrics.IncEmitted()
		p.metrics.SetQueueDepth(len(p.queue))
	default:
		p.metrics.IncDropped()
		p.warnDropped(env)
	}
}

// warnDropped logs at most once per interval so sustained overload does not
// flood the log with one line per dropped event.
func (p *Producer) warnDropped(env audit.Envelope) {
	now := time.Now().UnixNano()
	last := p.lastDropWarn.Load()
	if now-last < int64(dropWarnInterval) {
		return
	}
	if !p.lastDropWarn.CompareAndSwap(last, now) {
		return
	}
	p.logger.Warn("audit queue full, dropping events",
		"action", env.Action,
		"tenant_id", env.TenantID,
		"capacity", cap(p.queue),
	)
}

// Run is the drain loop. It blocks until ctx is canceled or Close is
// called, then forwards whatever is still queued (with a bounded budget)
// before returning.
func (p *Producer) Run(ctx context.Context) error {
	defer close(p.drained)
	for {
		select {
		case <-ctx.Done():
			p.drainRemaining()
			return ctx.Err()
		case <-p.closing:
			p.drainRemaining()
			return nil
		case env := <-p.queue:
			p.forwardBatch(ctx, env)
		}
	}
}

// Close stops the drain loop after it forwards the remaining queue. Safe to
// call multiple times.
func (p *Producer) Close() {
	p.closeOnce.Do(func() {
		close(p.closing)
	})
	<-p.drained
}

// forwardBatch publishes the first envelope plus whatever else is already
// queued, up to the batch size, preserving enqueue order.
func (p *Producer) forwardBatch(ctx context.Context, first audit.Envelope) {
	batch := make([]audit.Envelope, 1, p.batchSize)
	batch[0] = first
	for len(batch) < p.batchSize {
		select {
		case env := <-p.queue:
			batch = append(batch, env)
		default:
			goto publish
		}
	}
publish:
	p.metrics.SetQueueDepth(len(p.queue))
	for _, env := range batch {
		p.publish(ctx, env)
	}
}

// publish forwards one envelope, retrying transient sink failures with
// capped exponential backoff. While it retries, new emissions accumulate in
// the bounded queue and fall under the overflow policy, which bounds memory
// during a broker outage. Retries are bounded per envelope; after the last
// attempt, or on a non-transient failure, the event is dropped with a
// counter so the drain loop keeps moving. Audit durability is best-effort,
// not a correctness dependency.
func (p *Producer) publish(ctx context.Context, env audit.Envelope) {
	value, err := json.Marshal(env)
	if err != nil {
		p.metrics.IncPublishFailures()
		p.logger.Error("failed to marshal audit envelope",
			"event_id", env.EventID,
			"action", env.Action,
			"error", err,
		)
		return
	}

	backoff := retry.WithMaxRetries(uint64(p.maxPublishAttempts-1),
		retry.WithCappedDuration(backoffCap, retry.NewExponential(backoffBase)))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := p.sink.Publish(ctx, p.topic, []byte(env.TenantID), value)
		if errors.Is(err, sentinel.ErrUnavailable) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		p.metrics.IncPublishFailures()
		p.logger.ErrorContext(ctx, "failed to publish audit envelope",
			"event_id", env.EventID,
			"action", env.Action,
			"error", err,
		)
	}
}

// drainRemaining forwards queued envelopes after shutdown begins, under a
// fresh bounded context so a dead broker cannot hang process exit.
func (p *Producer) drainRemaining() {
	ctx, cancel := context.WithTimeout(context.Background(), closeDrainBudget)
	defer cancel()
	for {
		select {
		case env := <-p.queue:
			p.publish(ctx, env)
		default:
			p.metrics.SetQueueDepth(0)
			return
		}
	}
}
