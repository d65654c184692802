// Package sink abstracts the broker transport behind the audit producer.
// The Kafka variant is the deployment default; Noop keeps local development
// and producer tests free of network dependencies.
package sink

import "context"

//go:generate mockgen -source=sink.go -destination=mocks/mocks.go -package=mocks Sink

// Sink publishes serialized audit envelopes to a topic. Implementations
// wrap transient transport failures in sentinel.ErrUnavailable so the
// producer's drain loop knows they are retryable.
type Sink interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
	Close()
}
