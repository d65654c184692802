// Package retention enforces the audit retention window: events older
// than the configured duration are deleted in bounded batches on a
// schedule. Retention is the only path that removes audit rows.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"poscore/internal/audit"
)

const (
	// DefaultRetention keeps roughly two years of events.
	DefaultRetention = 730 * 24 * time.Hour
	// DefaultInterval is how often a purge run starts.
	DefaultInterval = time.Hour
	// DefaultDeleteBatch caps rows per delete statement so a large
	// backlog drains without a single long-running transaction.
	DefaultDeleteBatch = 1000

	lockKey = "poscore:audit:purge"
)

// Store is the subset of the audit store the purger needs.
type Store interface {
	CountExpired(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteExpired(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// Purger deletes expired audit events under a leader lock.
type Purger struct {
	store   Store
	locker  Locker
	logger  *slog.Logger
	metrics *Metrics

	retention   time.Duration
	interval    time.Duration
	deleteBatch int
	dryRun      bool
}

// Option configures the Purger.
type Option func(*Purger)

// WithRetention overrides how long events are kept.
func WithRetention(d time.Duration) Option {
	return func(p *Purger) {
		if d > 0 {
			p.retention = d
		}
	}
}

// WithInterval overrides the run cadence.
func WithInterval(d time.Duration) Option {
	return func(p *Purger) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithDeleteBatch overrides rows per delete statement.
func WithDeleteBatch(n int) Option {
	return func(p *Purger) {
		if n > 0 {
			p.deleteBatch = n
		}
	}
}

// WithDryRun counts candidates but deletes nothing.
func WithDryRun(dryRun bool) Option {
	return func(p *Purger) { p.dryRun = dryRun }
}

// New creates a purger.
func New(store Store, locker Locker, logger *slog.Logger, metrics *Metrics, opts ...Option) *Purger {
	p := &Purger{
		store:       store,
		locker:      locker,
		logger:      logger,
		metrics:     metrics,
		retention:   DefaultRetention,
		interval:    DefaultInterval,
		deleteBatch: DefaultDeleteBatch,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run purges on the configured interval until ctx is canceled. The first
// run happens after one interval, not at startup, so a crash-looping
// deployment does not hammer the store.
func (p *Purger) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			report, err := p.RunOnce(ctx)
			if err != nil {
				p.metrics.IncFailures()
				p.logger.ErrorContext(ctx, "purge run failed", "error", err)
				continue
			}
			p.logger.InfoContext(ctx, "purge run complete",
				"candidates", report.Candidates,
				"deleted", report.Deleted,
				"dry_run", report.DryRun,
			)
		}
	}
}

// RunOnce executes a single purge run, taking the leader lock first. When
// another instance holds the lock the run is skipped with an empty report.
func (p *Purger) RunOnce(ctx context.Context) (audit.PurgeReport, error) {
	// The TTL outlives one run comfortably; Release returns the lock as
	// soon as the run finishes.
	held, err := p.locker.Acquire(ctx, lockKey, 2*p.interval)
	if err != nil {
		return audit.PurgeReport{}, err
	}
	if !held {
		p.logger.DebugContext(ctx, "purge lock held elsewhere, skipping run")
		return audit.PurgeReport{DryRun: p.dryRun}, nil
	}
	defer func() {
		if err := p.locker.Release(ctx, lockKey); err != nil {
			p.logger.WarnContext(ctx, "failed to release purge lock", "error", err)
		}
	}()

	return p.Purge(ctx, time.Now().UTC())
}

// Purge deletes everything older than now minus the retention window, in
// batches, and reports what it did. Exported separately so an operator
// command can trigger an immediate run.
func (p *Purger) Purge(ctx context.Context, now time.Time) (audit.PurgeReport, error) {
	cutoff := now.Add(-p.retention)
	report := audit.PurgeReport{DryRun: p.dryRun}

	candidates, err := p.store.CountExpired(ctx, cutoff)
	if err != nil {
		return report, fmt.Errorf("count expired: %w", err)
	}
	report.Candidates = candidates
	p.metrics.SetCandidates(candidates)

	if !p.dryRun {
		for {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			deleted, err := p.store.DeleteExpired(ctx, cutoff, p.deleteBatch)
			if err != nil {
				return report, fmt.Errorf("delete expired: %w", err)
			}
			if deleted == 0 {
				break
			}
			report.Deleted += deleted
			p.metrics.IncPurged(deleted)
		}
	}

	p.metrics.SetLastRun(now.Unix())
	return report, nil
}
