// Package consumer wraps a franz-go group consumer behind a small poll/
// commit surface so ingestion logic stays testable without a broker.
package consumer

import (
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"poscore/pkg/platform/sentinel"
)

// Message is one consumed record, decoupled from the kgo types.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
}

// Consumer is a group consumer over a single topic with manual commits:
// offsets advance only after the caller confirms a poll was fully handled,
// so a crash mid-batch re-delivers instead of losing records.
type Consumer struct {
	client *kgo.Client
	admin  *kadm.Client
	group  string
}

// New creates a group consumer for the topic.
func New(seeds []string, group, topic string) (*Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(seeds...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	return &Consumer{
		client: client,
		admin:  kadm.NewClient(client),
		group:  group,
	}, nil
}

// Poll fetches the next batch of records, blocking until records arrive or
// ctx is canceled. Transport errors wrap sentinel.ErrUnavailable.
func (c *Consumer) Poll(ctx context.Context) ([]*Message, error) {
	fetches := c.client.PollFetches(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if errs := fetches.Errors(); len(errs) > 0 {
		return nil, fmt.Errorf("poll fetches: %w: %v", sentinel.ErrUnavailable, errs[0].Err)
	}

	var msgs []*Message
	fetches.EachRecord(func(r *kgo.Record) {
		msgs = append(msgs, &Message{
			Topic:     r.Topic,
			Partition: r.Partition,
			Offset:    r.Offset,
			Key:       r.Key,
			Value:     r.Value,
			Timestamp: r.Timestamp,
		})
	})
	return msgs, nil
}

// Commit marks everything returned by prior Polls as processed.
func (c *Consumer) Commit(ctx context.Context) error {
	if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
		return fmt.Errorf("commit offsets: %w: %w", sentinel.ErrUnavailable, err)
	}
	return nil
}

// Lag returns the group's total offset lag across all partitions of the
// consumed topic, as reported by the broker.
func (c *Consumer) Lag(ctx context.Context) (int64, error) {
	lags, err := c.admin.Lag(ctx, c.group)
	if err != nil {
		return 0, fmt.Errorf("describe group lag: %w", err)
	}
	group, ok := lags[c.group]
	if !ok {
		return 0, fmt.Errorf("group %s missing from lag response", c.group)
	}
	if group.FetchErr != nil {
		return 0, fmt.Errorf("fetch group offsets: %w", group.FetchErr)
	}
	return group.Lag.Total(), nil
}

// Close leaves the group and releases the client.
func (c *Consumer) Close() {
	c.client.Close()
}
