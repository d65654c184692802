package producer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"poscore/internal/audit"
	"poscore/internal/audit/sink"
	"poscore/internal/audit/sink/mocks"
	"poscore/pkg/platform/sentinel"
)

const testTopic = "audit.events"

// captureSink records published messages and can fail the first N publishes.
type captureSink struct {
	mu        sync.Mutex
	values    [][]byte
	keys      []string
	failures  int
	failErr   error
	attempted int
}

func (s *captureSink) Publish(_ context.Context, _ string, key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempted++
	if s.attempted <= s.failures {
		return s.failErr
	}
	s.keys = append(s.keys, string(key))
	s.values = append(s.values, append([]byte(nil), value...))
	return nil
}

func (s *captureSink) Close() {}

// poisonSink rejects one event ID with the given error and accepts the rest.
type poisonSink struct {
	mu       sync.Mutex
	poisonID string
	failErr  error
	rejected int
	values   [][]byte
}

func (s *poisonSink) Publish(_ context.Context, _ string, _, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bytes.Contains(value, []byte(s.poisonID)) {
		s.rejected++
		return s.failErr
	}
	s.values = append(s.values, append([]byte(nil), value...))
	return nil
}

func (s *poisonSink) Close() {}

func (s *poisonSink) published() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.values...)
}

func (s *poisonSink) poisonAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejected
}

func (s *captureSink) published() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.values...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEnvelope(action string) audit.Envelope {
	return audit.Envelope{
		EventID:       fmt.Sprintf("E-%s-%d", action, time.Now().UnixNano()),
		SchemaVersion: 1,
		Action:        audit.Action(action),
		Severity:      audit.SeverityInfo,
		TenantID:      "t1",
		ActorID:       "clerk-7",
		OccurredAt:    time.Now().UTC(),
	}
}

func newTestProducer(t *testing.T, s sink.Sink, opts ...Option) (*Producer, *Metrics) {
	t.Helper()
	m := NewMetricsWith(prometheus.NewRegistry())
	return New(s, testTopic, testLogger(), m, opts...), m
}

func TestEmit_ForwardsInOrder(t *testing.T) {
	s := &captureSink{}
	p, _ := newTestProducer(t, s)

	for i := 0; i < 5; i++ {
		env := testEnvelope("order.created")
		env.EventID = fmt.Sprintf("E%d", i)
		p.Emit(env)
	}

	go func() { _ = p.Run(context.Background()) }()
	p.Close()

	values := s.published()
	require.Len(t, values, 5)
	for i, raw := range values {
		var env audit.Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		assert.Equal(t, fmt.Sprintf("E%d", i), env.EventID, "enqueue order must be preserved")
	}
}

func TestEmit_KeysMessagesByTenant(t *testing.T) {
	s := &captureSink{}
	p, _ := newTestProducer(t, s)

	env := testEnvelope("order.created")
	env.TenantID = "tenant-42"
	p.Emit(env)

	go func() { _ = p.Run(context.Background()) }()
	p.Close()

	require.Len(t, s.keys, 1)
	assert.Equal(t, "tenant-42", s.keys[0])
}

func TestEmit_OverflowDropsNewest(t *testing.T) {
	s := &captureSink{}
	p, m := newTestProducer(t, s, WithCapacity(2))

	// No drain loop running: the third emit overflows.
	p.Emit(func() audit.Envelope { e := testEnvelope("a"); e.EventID = "E0"; return e }())
	p.Emit(func() audit.Envelope { e := testEnvelope("b"); e.EventID = "E1"; return e }())
	p.Emit(func() audit.Envelope { e := testEnvelope("c"); e.EventID = "E2"; return e }())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dropped))

	go func() { _ = p.Run(context.Background()) }()
	p.Close()

	values := s.published()
	require.Len(t, values, 2, "the two oldest events survive")
	var first, second audit.Envelope
	require.NoError(t, json.Unmarshal(values[0], &first))
	require.NoError(t, json.Unmarshal(values[1], &second))
	assert.Equal(t, "E0", first.EventID)
	assert.Equal(t, "E1", second.EventID)
}

func TestEmit_OverflowCountMatchesExcess(t *testing.T) {
	s := &captureSink{}
	p, m := newTestProducer(t, s, WithCapacity(3))

	for i := 0; i < 10; i++ {
		p.Emit(testEnvelope("order.created"))
	}

	assert.Equal(t, 7.0, testutil.ToFloat64(m.Dropped))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Emitted))
}

func TestEmit_NeverBlocks(t *testing.T) {
	s := &captureSink{}
	p, _ := newTestProducer(t, s, WithCapacity(1))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			p.Emit(testEnvelope("order.created"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a full queue")
	}
}

func TestPublish_RetriesTransientSinkErrors(t *testing.T) {
	s := &captureSink{failures: 2, failErr: fmt.Errorf("broker down: %w", sentinel.ErrUnavailable)}
	p, m := newTestProducer(t, s)

	p.Emit(testEnvelope("order.created"))

	go func() { _ = p.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return len(s.published()) == 1
	}, 5*time.Second, 10*time.Millisecond, "transient failures must be retried")
	p.Close()

	assert.Equal(t, 0.0, testutil.ToFloat64(m.PublishFailures))
}

func TestPublish_PermanentErrorDropsWithCounter(t *testing.T) {
	s := &captureSink{failures: 1000, failErr: errors.New("message too large")}
	p, m := newTestProducer(t, s)

	p.Emit(testEnvelope("order.created"))

	go func() { _ = p.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.PublishFailures) == 1.0
	}, 5*time.Second, 10*time.Millisecond)
	p.Close()

	assert.Empty(t, s.published())
}

func TestPublish_RetryExhaustionDropsAndMovesOn(t *testing.T) {
	s := &poisonSink{
		poisonID: "E-poison",
		failErr:  fmt.Errorf("broker rejects record: %w", sentinel.ErrUnavailable),
	}
	p, m := newTestProducer(t, s, WithMaxPublishAttempts(2))

	bad := testEnvelope("order.created")
	bad.EventID = "E-poison"
	good := testEnvelope("order.created")
	good.EventID = "E-good"
	p.Emit(bad)
	p.Emit(good)

	go func() { _ = p.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return len(s.published()) == 1
	}, 5*time.Second, 10*time.Millisecond, "events behind a rejected record must still publish")
	p.Close()

	var env audit.Envelope
	require.NoError(t, json.Unmarshal(s.published()[0], &env))
	assert.Equal(t, "E-good", env.EventID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishFailures))
	assert.Equal(t, 2, s.poisonAttempts(), "retries per envelope are bounded")
}

func TestClose_DrainsQueue(t *testing.T) {
	s := &captureSink{}
	p, _ := newTestProducer(t, s, WithCapacity(100))

	for i := 0; i < 42; i++ {
		p.Emit(testEnvelope("order.created"))
	}

	go func() { _ = p.Run(context.Background()) }()
	p.Close()

	assert.Len(t, s.published(), 42, "all queued events must be forwarded on close")
}

func TestRun_PublishesThroughSinkInterface(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockSink := mocks.NewMockSink(ctrl)

	m := NewMetricsWith(prometheus.NewRegistry())
	p := New(mockSink, testTopic, testLogger(), m)

	env := testEnvelope("payment.captured")
	mockSink.EXPECT().
		Publish(gomock.Any(), testTopic, []byte(env.TenantID), gomock.Any()).
		Return(nil)

	p.Emit(env)
	go func() { _ = p.Run(context.Background()) }()
	p.Close()
}
