package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poscore/internal/audit"
	"poscore/internal/audit/redact"
	"poscore/internal/audit/store/memory"
	"poscore/internal/authz"
	kafkaconsumer "poscore/internal/platform/kafka/consumer"
	"poscore/pkg/platform/sentinel"
)

// fakeBroker serves a fixed sequence of polls, then cancels the run
// context so Run returns.
type fakeBroker struct {
	polls   [][]*kafkaconsumer.Message
	commits int
	cancel  context.CancelFunc
}

func (b *fakeBroker) Poll(ctx context.Context) ([]*kafkaconsumer.Message, error) {
	if len(b.polls) == 0 {
		b.cancel()
		return nil, ctx.Err()
	}
	next := b.polls[0]
	b.polls = b.polls[1:]
	return next, nil
}

func (b *fakeBroker) Commit(context.Context) error {
	b.commits++
	return nil
}

func (b *fakeBroker) Lag(context.Context) (int64, error) { return 0, nil }

// flakyStore fails the first failures calls with failErr, then delegates
// to the wrapped store.
type flakyStore struct {
	inner    *memory.Store
	failures int
	failErr  error
	calls    int
}

func (s *flakyStore) UpsertBatch(ctx context.Context, records []audit.StoredRecord) error {
	s.calls++
	if s.calls <= s.failures {
		return s.failErr
	}
	return s.inner.UpsertBatch(ctx, records)
}

func testEnvelope(t *testing.T, id string, action audit.Action) []byte {
	t.Helper()
	env := audit.NewEnvelope(authz.ExecutionContext{
		TenantID: "tenant-a",
		ActorID:  "actor-1",
		Roles:    []authz.Role{authz.RoleCashier},
		TraceID:  "trace-1",
	}, action, map[string]any{"entity_id": "order-1", "card_number": "4111-1111"})
	env.EventID = id
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return raw
}

func message(offset int64, value []byte) *kafkaconsumer.Message {
	return &kafkaconsumer.Message{
		Topic:     "audit.events",
		Partition: 0,
		Offset:    offset,
		Key:       []byte("tenant-a"),
		Value:     value,
		Timestamp: time.Now().UTC(),
	}
}

func runIngestor(t *testing.T, broker *fakeBroker, store Store, rules []redact.Rule, opts ...Option) *Metrics {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	broker.cancel = cancel

	metrics := NewMetricsWith(prometheus.NewRegistry())
	redactor := redact.New(rules, redact.NewMetricsWith(prometheus.NewRegistry()))
	ing := New(broker, store, redactor, slog.New(slog.DiscardHandler), metrics, opts...)

	err := ing.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	return metrics
}

func TestRunPersistsAndCommits(t *testing.T) {
	store := memory.New()
	broker := &fakeBroker{polls: [][]*kafkaconsumer.Message{{
		message(0, testEnvelope(t, "e1", audit.ActionOrderCreated)),
		message(1, testEnvelope(t, "e2", audit.ActionOrderRefunded)),
	}}}

	runIngestor(t, broker, store, nil)

	assert.Equal(t, 2, store.Len())
	assert.Equal(t, 1, broker.commits)

	rec, ok := store.Get("e2")
	require.True(t, ok)
	assert.Equal(t, audit.ActionOrderRefunded, rec.Action)
	assert.Equal(t, "tenant-a", rec.TenantID)
	assert.False(t, rec.IngestedAt.IsZero())
}

func TestRunDoubleDeliveryStoresOneRow(t *testing.T) {
	store := memory.New()
	value := testEnvelope(t, "e1", audit.ActionOrderCreated)
	broker := &fakeBroker{polls: [][]*kafkaconsumer.Message{
		{message(0, value)},
		{message(0, value)}, // same offset re-delivered after a commit failure
	}}

	runIngestor(t, broker, store, nil)

	assert.Equal(t, 1, store.Len())
}

func TestRunDeadLettersUndecodable(t *testing.T) {
	store := memory.New()
	broker := &fakeBroker{polls: [][]*kafkaconsumer.Message{{
		message(0, []byte("{not json")),
		message(1, []byte(`{"action":"order.created"}`)), // missing event_id
		message(2, testEnvelope(t, "e1", audit.ActionOrderCreated)),
	}}}

	runIngestor(t, broker, store, nil)

	// The poisoned records are skipped, the good one lands, and the
	// offset still commits so the poison is not re-polled forever.
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 1, broker.commits)
}

func TestRunRetriesTransientStoreFailure(t *testing.T) {
	store := &flakyStore{
		inner:    memory.New(),
		failures: 2,
		failErr:  fmt.Errorf("insert: %w", sentinel.ErrUnavailable),
	}
	broker := &fakeBroker{polls: [][]*kafkaconsumer.Message{{
		message(0, testEnvelope(t, "e1", audit.ActionOrderCreated)),
	}}}

	runIngestor(t, broker, store, nil)

	assert.Equal(t, 3, store.calls)
	assert.Equal(t, 1, store.inner.Len())
}

func TestRunDeadLettersAfterPermanentStoreFailure(t *testing.T) {
	store := &flakyStore{
		inner:    memory.New(),
		failures: 100,
		failErr:  errors.New("constraint violation"),
	}
	broker := &fakeBroker{polls: [][]*kafkaconsumer.Message{{
		message(0, testEnvelope(t, "e1", audit.ActionOrderCreated)),
	}}}

	runIngestor(t, broker, store, nil)

	// Permanent errors do not retry; the batch dead-letters and the
	// offset commits.
	assert.Equal(t, 1, store.calls)
	assert.Equal(t, 0, store.inner.Len())
	assert.Equal(t, 1, broker.commits)
}

func TestRunFlushesAtBatchSize(t *testing.T) {
	store := &flakyStore{inner: memory.New()}
	var msgs []*kafkaconsumer.Message
	for n := 0; n < 5; n++ {
		msgs = append(msgs, message(int64(n), testEnvelope(t, fmt.Sprintf("e%d", n), audit.ActionOrderCreated)))
	}
	broker := &fakeBroker{polls: [][]*kafkaconsumer.Message{msgs}}

	runIngestor(t, broker, store, nil, WithBatchSize(2))

	// 2 + 2 + trailing 1.
	assert.Equal(t, 3, store.calls)
	assert.Equal(t, 5, store.inner.Len())
}

func TestRunAppliesRedactionBeforePersisting(t *testing.T) {
	store := memory.New()
	broker := &fakeBroker{polls: [][]*kafkaconsumer.Message{{
		message(0, testEnvelope(t, "e1", audit.ActionOrderCreated)),
	}}}

	rules := []redact.Rule{{Path: "card_number", Mode: redact.ModeEnforce}}
	runIngestor(t, broker, store, rules)

	rec, ok := store.Get("e1")
	require.True(t, ok)
	assert.Equal(t, redact.DefaultMask, rec.Payload["card_number"])
	assert.Equal(t, "order-1", rec.Payload["entity_id"])
}
