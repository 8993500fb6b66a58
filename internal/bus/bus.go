// Package bus defines the pub/sub transport the relay core talks to: a
// fire-and-forget Publisher shared by every connection, and a
// per-connection Subscriber polled by that connection's bus receiver loop.
// Two implementations are provided: a NATS-backed one for production, and
// an in-process one for tests and single-binary deployments where no
// external broker is available.
package bus

import "context"

// Publisher publishes payloads to opaque topics (agent-uuid or space-uuid
// strings). A single Publisher is shared across all connections.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Message is one payload delivered off a Subscriber, tagged with the topic
// it arrived on.
type Message struct {
	Topic   string
	Payload []byte
}

// Subscriber is a per-connection handle onto the bus. Next is a
// non-blocking poll: it returns (nil, nil) immediately when no message is
// queued, never blocking the caller's loop.
type Subscriber interface {
	Subscribe(ctx context.Context, topics ...string) error
	Unsubscribe(ctx context.Context, topics ...string) error
	Next(ctx context.Context) (*Message, error)
	Close() error
}

// Bus opens per-connection Subscribers against a shared Publisher.
type Bus interface {
	Publisher
	NewSubscriber() (Subscriber, error)
	Close() error
}
