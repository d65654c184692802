package sink

import "context"

// Noop accepts and drops every message. Used in environments without a
// broker so the producer's behavior stays observable without transport.
type Noop struct{}

// NewNoop creates a no-op sink.
func NewNoop() *Noop {
	return &Noop{}
}

// Publish always succeeds and discards the message.
func (*Noop) Publish(context.Context, string, []byte, []byte) error {
	return nil
}

// Close is a no-op.
func (*Noop) Close() {}
