package bus

import "context"

// MessageBus decouples the channel listener from the router. Inbound events
// are buffered so a slow agent turn never blocks the channel's read loop.
type MessageBus struct {
	inbound chan InboundMessage
}

// New creates a message bus with a buffered inbound queue.
func New() *MessageBus {
	return &MessageBus{
		inbound: make(chan InboundMessage, 100),
	}
}

// PublishInbound enqueues a message received from the channel.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	b.inbound <- msg
}

// ConsumeInbound blocks until a message is available or ctx is cancelled.
// The second return value is false when the bus is shutting down.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case <-ctx.Done():
		return InboundMessage{}, false
	case msg := <-b.inbound:
		return msg, true
	}
}

// InboundSize returns the number of messages waiting to be consumed.
func (b *MessageBus) InboundSize() int {
	return len(b.inbound)
}
