package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"poscore/pkg/platform/sentinel"
)

// Kafka publishes audit envelopes through a franz-go client. Messages are
// keyed by tenant so a key-partitioned broker keeps per-tenant locality.
type Kafka struct {
	client *kgo.Client
}

// NewKafka creates a Kafka sink against the given seed brokers.
func NewKafka(seeds []string) (*Kafka, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(seeds...),
		// Audit events tolerate at-least-once; idempotent produce keeps
		// broker-side retries from duplicating within a session.
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Kafka{client: client}, nil
}

// Publish produces one record synchronously. Transport failures wrap
// sentinel.ErrUnavailable; the drain loop retries those with backoff. A
// broker response the protocol marks non-retriable (oversized message,
// unknown topic, invalid record) passes through unwrapped so the caller
// drops the record instead of retrying it forever.
func (k *Kafka) Publish(ctx context.Context, topic string, key, value []byte) error {
	record := &kgo.Record{Topic: topic, Key: key, Value: value}
	if err := k.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		var ke *kerr.Error
		if errors.As(err, &ke) && !ke.Retriable {
			return fmt.Errorf("produce to %s: %w", topic, err)
		}
		return fmt.Errorf("produce to %s: %w: %w", topic, sentinel.ErrUnavailable, err)
	}
	return nil
}

// Close flushes buffered records and releases the client.
func (k *Kafka) Close() {
	k.client.Close()
}
