// Package consumer ingests audit envelopes from the broker into the durable
// store. One global topic fans in events for all tenants; isolation is
// enforced at query time by mandatory tenant filtering, which keeps the
// partition count flat as tenants grow.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"poscore/internal/audit"
	"poscore/internal/audit/redact"
	kafkaconsumer "poscore/internal/platform/kafka/consumer"
	"poscore/pkg/platform/sentinel"
)

const (
	// DefaultBatchSize caps records per multi-row insert.
	DefaultBatchSize = 200
	// DefaultMaxStoreAttempts bounds retries for one batch before the batch
	// is dead-lettered, so a poisoned batch cannot starve the partition.
	DefaultMaxStoreAttempts = 5

	storeBackoffBase = 200 * time.Millisecond
	storeBackoffCap  = 10 * time.Second
	pollErrorPause   = time.Second
	lagProbeInterval = 30 * time.Second
)

// Broker is the transport the ingestor reads from. Satisfied by
// internal/platform/kafka/consumer.Consumer; tests supply a fake.
type Broker interface {
	Poll(ctx context.Context) ([]*kafkaconsumer.Message, error)
	Commit(ctx context.Context) error
	Lag(ctx context.Context) (int64, error)
}

// Store persists redacted audit records. UpsertBatch must be idempotent on
// event ID: re-delivered envelopes insert at most one row.
type Store interface {
	UpsertBatch(ctx context.Context, records []audit.StoredRecord) error
}

// Ingestor is the consumer loop: poll, decode, redact, batch, upsert,
// commit. It never crashes on a bad record; undecodable or unstorable
// records are counted and set aside.
type Ingestor struct {
	broker   Broker
	store    Store
	redactor *redact.Engine
	logger   *slog.Logger
	metrics  *Metrics

	batchSize        int
	maxStoreAttempts int

	lastLagProbe time.Time
}

// Option configures the Ingestor.
type Option func(*Ingestor)

// WithBatchSize caps records per store round trip.
func WithBatchSize(n int) Option {
	return func(i *Ingestor) {
		if n > 0 {
			i.batchSize = n
		}
	}
}

// WithMaxStoreAttempts bounds transient store retries per batch.
func WithMaxStoreAttempts(n int) Option {
	return func(i *Ingestor) {
		if n > 0 {
			i.maxStoreAttempts = n
		}
	}
}

// New creates an ingestor.
func New(broker Broker, store Store, redactor *redact.Engine, logger *slog.Logger, metrics *Metrics, opts ...Option) *Ingestor {
	i := &Ingestor{
		broker:           broker,
		store:            store,
		redactor:         redactor,
		logger:           logger,
		metrics:          metrics,
		batchSize:        DefaultBatchSize,
		maxStoreAttempts: DefaultMaxStoreAttempts,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Run consumes until ctx is canceled. Offsets commit only after every
// record of a poll has either been persisted or dead-lettered, so a crash
// re-delivers rather than loses; the store upsert absorbs the re-delivery.
func (i *Ingestor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgs, err := i.broker.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			i.logger.ErrorContext(ctx, "poll failed", "error", err)
			select {
			case <-time.After(pollErrorPause):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		if err := i.handlePoll(ctx, msgs); err != nil {
			// Only context cancellation propagates; everything else is
			// absorbed inside handlePoll.
			return err
		}

		if len(msgs) > 0 {
			if err := i.broker.Commit(ctx); err != nil {
				// Uncommitted offsets re-deliver; the upsert keeps that safe.
				i.logger.WarnContext(ctx, "offset commit failed, records will re-deliver", "error", err)
			}
		}

		i.probeLag(ctx, msgs)
	}
}

// handlePoll processes one poll's records in order, flushing batches at the
// configured size and once at the end.
func (i *Ingestor) handlePoll(ctx context.Context, msgs []*kafkaconsumer.Message) error {
	batch := make([]audit.StoredRecord, 0, i.batchSize)
	for _, msg := range msgs {
		var env audit.Envelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			i.metrics.IncDeadLetters(ReasonDecode, 1)
			i.logger.WarnContext(ctx, "undecodable audit message, dead-lettering",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			continue
		}
		if env.EventID == "" {
			i.metrics.IncDeadLetters(ReasonDecode, 1)
			i.logger.WarnContext(ctx, "audit message missing event_id, dead-lettering",
				"action", env.Action,
				"offset", msg.Offset,
			)
			continue
		}

		record := i.redactor.Ingest(env)
		record.IngestedAt = time.Now().UTC()
		batch = append(batch, record)

		if len(batch) >= i.batchSize {
			if err := i.flush(ctx, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		return i.flush(ctx, batch)
	}
	return nil
}

// flush upserts one batch, retrying transient store failures with bounded
// exponential backoff. After max attempts, or on a permanent error, the
// batch is dead-lettered instead of blocking the partition indefinitely.
// Only context cancellation is returned as an error.
func (i *Ingestor) flush(ctx context.Context, batch []audit.StoredRecord) error {
	backoff := retry.WithMaxRetries(uint64(i.maxStoreAttempts-1),
		retry.WithCappedDuration(storeBackoffCap, retry.NewExponential(storeBackoffBase)))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := i.store.UpsertBatch(ctx, batch)
		if errors.Is(err, sentinel.ErrUnavailable) {
			i.metrics.IncStoreRetries()
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		i.metrics.IncDeadLetters(ReasonStore, len(batch))
		i.logger.ErrorContext(ctx, "batch insert failed permanently, dead-lettering",
			"batch_size", len(batch),
			"first_event_id", batch[0].EventID,
			"error", err,
		)
		return nil
	}

	i.metrics.IncIngested(len(batch))
	now := time.Now().UTC()
	for _, rec := range batch {
		i.metrics.ObserveIngestLatency(now.Sub(rec.OccurredAt))
	}
	return nil
}

// probeLag refreshes the lag gauges: time lag from the newest record of the
// poll, offset lag from the broker at a coarse interval (the admin call is
// not free).
func (i *Ingestor) probeLag(ctx context.Context, msgs []*kafkaconsumer.Message) {
	if len(msgs) > 0 {
		newest := msgs[len(msgs)-1].Timestamp
		if !newest.IsZero() {
			i.metrics.SetLagSeconds(time.Since(newest))
		}
	}

	if time.Since(i.lastLagProbe) < lagProbeInterval {
		return
	}
	i.lastLagProbe = time.Now()
	lag, err := i.broker.Lag(ctx)
	if err != nil {
		i.logger.WarnContext(ctx, "failed to read consumer group lag", "error", err)
		return
	}
	i.metrics.SetLagRecords(lag)
}
