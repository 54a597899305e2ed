package messagepipeline

import (
	"context"
)

// ====================================================================================
// Contracts for the three pipeline stages: a consumer yields broker frames, a
// transformer turns a frame into a typed payload, and a processor delivers it.
// ====================================================================================

// --- Stage 1: Consumer ---

// MessageConsumer is a message source (a STOMP subscription in this module).
type MessageConsumer interface {
	// Messages returns the channel frames are delivered on, in broker order.
	Messages() <-chan Message
	// Start connects and subscribes. A failure here is fatal to the caller.
	Start(ctx context.Context) error
	// Stop unsubscribes, disconnects and waits for background tasks to finish.
	Stop(ctx context.Context) error
	// Done is closed once the consumer has shut down, whether by Stop or because
	// the broker went away.
	Done() <-chan struct{}
}

// --- Stage 2: Transformer ---

// MessageTransformer turns a Message into a typed payload.
//
// skip=true means the message should be acknowledged and not processed further
// (unknown destination, malformed body, duplicate...). A non-nil error Nacks it.
type MessageTransformer[T any] func(ctx context.Context, msg *Message) (payload *T, skip bool, err error)

// --- Stage 3: Processor ---

// StreamProcessor handles one transformed payload. A returned error Nacks the
// original message.
type StreamProcessor[T any] func(ctx context.Context, original Message, payload *T) error
