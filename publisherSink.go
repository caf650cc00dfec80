package relog

import (
	"github.com/ThreeDotsLabs/watermill/message"
)

// MetadataKeyLevel is the Watermill metadata key carrying the event level.
const MetadataKeyLevel = "level"

// PublisherSink publishes each event to a topic of a Watermill publisher,
// so any broker Watermill supports can be a sink. The message UUID is the
// event ID, which lets consumers drop the duplicates at-least-once delivery
// can produce.
type PublisherSink struct {
	pub   message.Publisher
	topic string
	codec Codec[*Event]
}

// compile-time check for Sink conformance
var _ Sink = (*PublisherSink)(nil)

// NewPublisherSink returns a PublisherSink. A nil codec means msgpack.
func NewPublisherSink(pub message.Publisher, topic string, codec Codec[*Event]) *PublisherSink {
	if codec == nil {
		codec = MsgpackCodec[*Event]{}
	}
	return &PublisherSink{pub: pub, topic: topic, codec: codec}
}

func (s *PublisherSink) Write(e *Event) error {
	e.stamp()
	payload, err := s.codec.Marshal(e)
	if err != nil {
		return err
	}

	msg := message.NewMessage(e.ID, payload)
	msg.Metadata.Set(MetadataKeyLevel, e.Level.String())
	return s.pub.Publish(s.topic, msg)
}

// Close closes the publisher.
func (s *PublisherSink) Close() error {
	return s.pub.Close()
}
