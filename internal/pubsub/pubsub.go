package pubsub

import (
	"context"
)

// Message is the structure passed between components on the bus.
// It is intentionally simple to act as a wrapper for raw data.
type Message struct {
	// Topic identifies the channel the message belongs to (e.g., "scripts.reload.requested").
	Topic string
	// Source identifies the component that published the message (e.g., "watcher").
	Source string
	// Payload contains the raw message data, usually JSON.
	Payload []byte
	// Metadata can contain arbitrary key-value pairs for context.
	Metadata map[string]string
}

// Handler defines the function signature for processing a received message.
type Handler func(ctx context.Context, msg Message) error

// Publisher defines the contract for sending messages to the Pub/Sub system.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Subscriber defines the contract for receiving messages from the Pub/Sub system.
type Subscriber interface {
	// Subscribe starts listening to the given topic, processing messages with the handler
	// in the background until the context is canceled or the subscriber is closed.
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}

// HandlerError describes a message a subscriber failed to process.
type HandlerError struct {
	Message Message
	Err     error
}

// ErrorNotifier is implemented by buses that report handler failures.
// OnHandlerError returns a function that removes the listener.
type ErrorNotifier interface {
	OnHandlerError(fn func(ctx context.Context, failure HandlerError)) (remove func())
}
