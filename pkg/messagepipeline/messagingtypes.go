package messagepipeline

import (
	"time"
)

// Attribute keys populated by broker consumers.
const (
	// AttrDestination is the topic or queue the frame was delivered from.
	AttrDestination = "destination"
	// AttrSubscription is the broker-side subscription id the frame arrived on.
	AttrSubscription = "subscription"
	// AttrAckID is the identifier the broker expects back in an ACK/NACK.
	AttrAckID = "ack"
)

// Message is the internal representation of one broker frame flowing through the
// pipeline: its data, the broker headers and the acknowledgment handles.
type Message struct {
	MessageData

	// Attributes holds the broker headers of the frame (destination, subscription, ack id...).
	Attributes map[string]string

	// Ack signals that processing finished and the frame can be released by the broker.
	Ack func()

	// Nack signals that processing failed. What happens next is up to the consumer
	// that built the message (redelivery, or an acknowledge-and-log policy).
	Nack func()
}

// MessageData holds the frame body and the identity fields used for logging,
// duplicate detection and archiving.
type MessageData struct {
	// ID is the broker's message-id for the frame.
	ID string `json:"id"`

	// Payload is the raw body of the frame.
	Payload []byte `json:"payload"`

	// PublishTime is the broker timestamp when present, otherwise the receive time.
	PublishTime time.Time `json:"publishTime"`
}

// Destination returns the AttrDestination attribute, or "" when unset.
func (m *Message) Destination() string {
	if m.Attributes == nil {
		return ""
	}
	return m.Attributes[AttrDestination]
}
