package relog

// EventMode defines the Fluent protocol event/carrier mode.
//   - Message mode: one event per message
//   - Forward mode: an array of events per message
//     ref: https://github.com/fluent/fluentd/wiki/Forward-Protocol-Specification-v1
type EventMode int

const (
	// MessageMode indicates the Fluent Message mode.
	MessageMode EventMode = iota

	// ForwardMode indicates the Fluent Forward mode. Each message carries a
	// single entry.
	ForwardMode
)

// EncoderOptions are used to customize the Encoders and the Encoder pool.
type EncoderOptions struct {
	// Mode is the Fluent event mode that applies to all of the events
	// serialized using Encoders from one shared EncoderPool. The default is
	// MessageMode.
	Mode EventMode

	// NewBufferCap sets the capacity, in bytes, for newly created Encoder
	// buffers. The minimum value is 64 bytes. The default is 1KiB (1<<10).
	NewBufferCap int

	// MaxBufferCap sets the maximum buffer capacity, in bytes, beyond which an
	// Encoder will not be returned to the shared Encoder pool, to prevent rare,
	// unusually large buffers from staying resident in memory. The minimum
	// value is the NewBufferCap. The default is 8KiB (1<<13).
	MaxBufferCap int

	// UseCoarseTimestamps controls whether the event time is serialized as
	// Unix epoch, which is useful for legacy collectors that do not support
	// sub-second precision. The default is false, so timestamps are
	// serialized as Fluent EventTime values.
	UseCoarseTimestamps bool

	// RequestACKs adds a chunk option carrying the event ID to every message,
	// asking the collector to acknowledge it.
	RequestACKs bool
}

const (
	minBufferCap        = 64
	defaultNewBufferCap = 1024
	defaultMaxBufferCap = 8192
)

// DefaultEncoderOptions returns *EncoderOptions with all default values.
func DefaultEncoderOptions() *EncoderOptions {
	return &EncoderOptions{
		NewBufferCap: defaultNewBufferCap,
		MaxBufferCap: defaultMaxBufferCap,
	}
}

// resolve ensures that all options have valid values.
func (o *EncoderOptions) resolve() {
	if o.Mode != MessageMode && o.Mode != ForwardMode {
		o.Mode = MessageMode
	}
	if o.NewBufferCap == 0 {
		o.NewBufferCap = defaultNewBufferCap
	}
	o.NewBufferCap = max(o.NewBufferCap, minBufferCap)
	if o.MaxBufferCap == 0 {
		o.MaxBufferCap = defaultMaxBufferCap
	}
	o.MaxBufferCap = max(o.NewBufferCap, o.MaxBufferCap)
}
