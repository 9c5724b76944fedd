package channel

import "context"

// Transport is a best-effort publish/subscribe session. Implementations run
// their network I/O on their own goroutines and invoke subscription
// callbacks from there.
type Transport interface {
	// Connect blocks until the session handshake, including credentials,
	// completes or ctx is done. Later drops and automatic reconnects are
	// reported through events.
	Connect(ctx context.Context, events ConnectionHandler) error

	// Publish hands one payload to the transport for delivery on topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers fn for payloads arriving on topic. fn is called
	// from a transport goroutine and must not block for long.
	Subscribe(ctx context.Context, topic string, fn func(payload []byte)) error

	Close() error
}

// ConnectionHandler receives session events from a Transport.
type ConnectionHandler interface {
	// ConnectionLost is called when an established session drops.
	ConnectionLost(err error)
	// Reconnected is called when the transport restores a dropped session.
	Reconnected()
}
