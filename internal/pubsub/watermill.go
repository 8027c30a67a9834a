package pubsub

import (
	"context"
	"log/slog"
	"maps"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// WatermillBridge implements the Publisher and Subscriber interfaces using watermill's GoChannel.
type WatermillBridge struct {
	pub message.Publisher
	sub message.Subscriber
	// Logger for watermill to use
	logger watermill.LoggerAdapter

	mu        sync.Mutex
	listeners map[uint64]func(context.Context, HandlerError)
	nextID    uint64
	failures  map[string]int
}

var _ ErrorNotifier = (*WatermillBridge)(nil)

const (
	// Metadata keys used to transfer our Message structure fields through watermill's message.
	metaKeySource = "source"
	metaKeyTopic  = "topic"
)

// NewWatermillBridge initializes the in-process bus.
func NewWatermillBridge() *WatermillBridge {
	logger := watermill.NewStdLogger(false, false)
	goChannel := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 64},
		logger,
	)

	return &WatermillBridge{
		pub:       goChannel,
		sub:       goChannel,
		logger:    logger,
		listeners: make(map[uint64]func(context.Context, HandlerError)),
		failures:  make(map[string]int),
	}
}

// mapToWatermillMessage converts our pubsub.Message to a watermill message.
func mapToWatermillMessage(msg Message) *message.Message {
	wmMsg := message.NewMessage(watermill.NewUUID(), msg.Payload)

	wmMsg.Metadata.Set(metaKeySource, msg.Source)
	wmMsg.Metadata.Set(metaKeyTopic, msg.Topic)

	for k, v := range msg.Metadata {
		wmMsg.Metadata.Set(k, v)
	}

	return wmMsg
}

// mapToPubSubMessage converts a watermill message back to our internal pubsub.Message.
func mapToPubSubMessage(wmMsg *message.Message) Message {
	metadata := make(map[string]string)
	for k, v := range wmMsg.Metadata {
		if k != metaKeySource && k != metaKeyTopic {
			metadata[k] = v
		}
	}

	return Message{
		Topic:    wmMsg.Metadata.Get(metaKeyTopic),
		Source:   wmMsg.Metadata.Get(metaKeySource),
		Payload:  wmMsg.Payload,
		Metadata: metadata,
	}
}

// Publish implements the Publisher interface.
func (wb *WatermillBridge) Publish(ctx context.Context, msg Message) error {
	return wb.pub.Publish(msg.Topic, mapToWatermillMessage(msg))
}

// Subscribe implements the Subscriber interface. It returns once the
// subscription is active; messages are handled on a background goroutine.
func (wb *WatermillBridge) Subscribe(ctx context.Context, topic string, handler Handler) error {
	messages, err := wb.sub.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	go func() {
		for wmMsg := range messages {
			msg := mapToPubSubMessage(wmMsg)

			if err := handler(ctx, msg); err != nil {
				slog.Warn("Failed to handle message", "topic", topic, "msg_id", wmMsg.UUID, "error", err)
				wb.handlerFailed(ctx, HandlerError{Message: msg, Err: err})
			}
			// GoChannel redelivers nacked messages forever, so failures are acked after logging.
			wmMsg.Ack()
		}
		slog.Debug("Subscription message loop ended", "topic", topic)
	}()

	return nil
}

// OnHandlerError implements ErrorNotifier. Listeners run on the subscription
// goroutine of the failed message.
func (wb *WatermillBridge) OnHandlerError(fn func(ctx context.Context, failure HandlerError)) (remove func()) {
	wb.mu.Lock()
	id := wb.nextID
	wb.nextID++
	wb.listeners[id] = fn
	wb.mu.Unlock()

	return func() {
		wb.mu.Lock()
		delete(wb.listeners, id)
		wb.mu.Unlock()
	}
}

// Failures returns how many messages failed per topic since the bridge started
func (wb *WatermillBridge) Failures() map[string]int {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	return maps.Clone(wb.failures)
}

func (wb *WatermillBridge) handlerFailed(ctx context.Context, failure HandlerError) {
	wb.mu.Lock()
	wb.failures[failure.Message.Topic]++
	listeners := make([]func(context.Context, HandlerError), 0, len(wb.listeners))
	for _, fn := range wb.listeners {
		listeners = append(listeners, fn)
	}
	wb.mu.Unlock()

	for _, fn := range listeners {
		fn(ctx, failure)
	}
}

// Close implements the Publisher and Subscriber interface to shut down the bridge.
func (wb *WatermillBridge) Close() error {
	return wb.sub.Close()
}
