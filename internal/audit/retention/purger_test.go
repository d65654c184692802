package retention

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poscore/internal/audit"
	"poscore/internal/audit/store/memory"
)

// denyLocker simulates another instance holding the lock.
type denyLocker struct{}

func (denyLocker) Acquire(context.Context, string, time.Duration) (bool, error) { return false, nil }
func (denyLocker) Release(context.Context, string) error                        { return nil }

func seed(t *testing.T, store *memory.Store, now time.Time, ages ...time.Duration) {
	t.Helper()
	var records []audit.StoredRecord
	for i, age := range ages {
		records = append(records, audit.StoredRecord{
			EventID:    fmt.Sprintf("e%d", i),
			Action:     audit.ActionOrderCreated,
			Severity:   audit.SeverityInfo,
			TenantID:   "tenant-a",
			OccurredAt: now.Add(-age),
			Payload:    map[string]any{},
		})
	}
	require.NoError(t, store.UpsertBatch(context.Background(), records))
}

func newPurger(store Store, locker Locker, opts ...Option) *Purger {
	metrics := NewMetricsWith(prometheus.NewRegistry())
	return New(store, locker, slog.New(slog.DiscardHandler), metrics, opts...)
}

func TestPurgeDeletesOnlyExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := memory.New()
	seed(t, store, now, 800*24*time.Hour, 750*24*time.Hour, 10*24*time.Hour)

	p := newPurger(store, SoloLocker{})
	report, err := p.Purge(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, int64(2), report.Candidates)
	assert.Equal(t, int64(2), report.Deleted)
	assert.False(t, report.DryRun)
	assert.Equal(t, 1, store.Len())
}

func TestPurgeDrainsBacklogInBatches(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := memory.New()
	ages := make([]time.Duration, 7)
	for i := range ages {
		ages[i] = time.Duration(740+i) * 24 * time.Hour
	}
	seed(t, store, now, ages...)

	p := newPurger(store, SoloLocker{}, WithDeleteBatch(3))
	report, err := p.Purge(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, int64(7), report.Deleted)
	assert.Equal(t, 0, store.Len())
}

func TestPurgeDryRunDeletesNothing(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := memory.New()
	seed(t, store, now, 800*24*time.Hour, 10*24*time.Hour)

	p := newPurger(store, SoloLocker{}, WithDryRun(true))
	report, err := p.Purge(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, int64(1), report.Candidates)
	assert.Equal(t, int64(0), report.Deleted)
	assert.True(t, report.DryRun)
	assert.Equal(t, 2, store.Len())
}

func TestPurgeCustomRetention(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := memory.New()
	seed(t, store, now, 40*24*time.Hour, 20*24*time.Hour)

	p := newPurger(store, SoloLocker{}, WithRetention(30*24*time.Hour))
	report, err := p.Purge(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, int64(1), report.Deleted)
	assert.Equal(t, 1, store.Len())
}

func TestRunOnceSkipsWhenLockHeldElsewhere(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := memory.New()
	seed(t, store, now, 800*24*time.Hour)

	p := newPurger(store, denyLocker{})
	report, err := p.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(0), report.Candidates)
	assert.Equal(t, int64(0), report.Deleted)
	assert.Equal(t, 1, store.Len())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	p := newPurger(memory.New(), SoloLocker{}, WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
