package relog

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Record keys written by EncodeEvent. Event fields using one of these keys
// are written under "fields.<key>" instead.
const (
	RecordKeyID      = "id"
	RecordKeyLevel   = "level"
	RecordKeyMessage = "msg"

	// optionKeyChunk carries the id a collector echoes back as its ack
	optionKeyChunk = "chunk"
)

// EncoderPool defines a shared *Encoder pool, used to minimize heap
// allocations on the send path.
type EncoderPool struct {
	p sync.Pool
	*EncoderOptions
	preludeLen int
}

// NewEncoderPool creates a shared *Encoder pool that returns Encoders with
// the message prelude, the outer msgpack array and the tag, pre-encoded.
func NewEncoderPool(tag string, opts *EncoderOptions) *EncoderPool {
	if opts == nil {
		opts = DefaultEncoderOptions()
	} else {
		opts.resolve()
	}

	ep := &EncoderPool{EncoderOptions: opts}

	// encode the prelude once; every Encoder starts with a copy of it
	prelude := NewEncoder(minBufferCap)
	arrayLen := 2
	if opts.Mode == MessageMode {
		arrayLen = 3
	}
	if opts.RequestACKs {
		arrayLen++
	}
	if err := prelude.EncodeArrayLen(arrayLen); err != nil {
		DefaultLogger().Error("failed to encode prelude array length", "error", err)
	}
	if err := prelude.EncodeString(tag); err != nil {
		DefaultLogger().Error("failed to encode prelude tag", "error", err)
	}
	ep.preludeLen = prelude.Len()
	preludeBytes := prelude.Bytes()

	ep.p = sync.Pool{
		New: func() any {
			enc := NewEncoder(opts.NewBufferCap)
			enc.p = ep
			enc.Write(preludeBytes)
			return enc
		},
	}

	return ep
}

// Get returns an Encoder with the prelude pre-rendered.
func (p *EncoderPool) Get() *Encoder {
	return p.p.Get().(*Encoder)
}

// Put resets an Encoder and returns it to the shared pool.
func (p *EncoderPool) Put(e *Encoder) {

	// drop if the buffer got too large
	if e.Buffer.Cap() > p.MaxBufferCap {
		return
	}

	// reset for the next usage
	e.Buffer.Truncate(p.preludeLen)
	e.Encoder.Reset(e.Buffer)
	e.Encoder.SetSortMapKeys(true)

	p.p.Put(e)
}

// Encoder provides a msgpack encoder and its underlying bytes.Buffer.
type Encoder struct {
	*bytes.Buffer
	*msgpack.Encoder
	p *EncoderPool
}

// NewEncoder returns a newly allocated Encoder with no prelude.
func NewEncoder(bufferCap int) *Encoder {
	buf := bytes.NewBuffer(make([]byte, 0, bufferCap))
	enc := msgpack.NewEncoder(buf)
	enc.SetSortMapKeys(true)
	return &Encoder{
		Buffer:  buf,
		Encoder: enc,
	}
}

// Free returns the encoder to the shared pool after eagerly resetting it.
func (e *Encoder) Free() {
	if e.p != nil {
		e.p.Put(e)
	}
}

// EncodeEventTime by default encodes a time value as the msgpack extension
// type defined by Fluent (EventTime). If the pool is set to use coarse
// timestamps, then it encodes the time as a Unix epoch integer.
func (e *Encoder) EncodeEventTime(utc time.Time) error {

	// no timezone support in Fluent spec; ensure time is in UTC
	utc = utc.In(time.UTC)

	if e.p != nil && e.p.UseCoarseTimestamps {
		if err := e.EncodeInt64(utc.Unix()); err != nil {
			return fmt.Errorf("failed to encode timestamp as int64: %w", err)
		}
		return nil
	}

	t := EventTime(utc)
	if err := e.Encode(&t); err != nil {
		return fmt.Errorf("failed to encode timestamp as EventTime: %w", err)
	}

	return nil
}

// EncodeEvent appends the body of a pooled Encoder: the time and record of
// e in Message mode, or a single entry array in Forward mode, followed by
// the option map when acks are requested.
func (e *Encoder) EncodeEvent(ev *Event) error {
	if e.p == nil {
		return fmt.Errorf("EncodeEvent requires a pooled Encoder")
	}

	if e.p.Mode == ForwardMode {
		// [[time, record]]
		if err := e.EncodeArrayLen(1); err != nil {
			return err
		}
		if err := e.EncodeArrayLen(2); err != nil {
			return err
		}
	}

	if err := e.EncodeEventTime(ev.Time); err != nil {
		return err
	}
	if err := e.encodeRecord(ev); err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	if e.p.RequestACKs {
		if err := e.EncodeMapLen(1); err != nil {
			return err
		}
		if err := e.EncodeString(optionKeyChunk); err != nil {
			return err
		}
		if err := e.EncodeString(ev.ID); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) encodeRecord(ev *Event) error {
	if err := e.EncodeMapLen(3 + len(ev.Fields)); err != nil {
		return err
	}
	if err := e.EncodeString(RecordKeyLevel); err != nil {
		return err
	}
	if err := e.EncodeString(ev.Level.String()); err != nil {
		return err
	}
	if err := e.EncodeString(RecordKeyMessage); err != nil {
		return err
	}
	if err := e.EncodeString(ev.Message); err != nil {
		return err
	}
	if err := e.EncodeString(RecordKeyID); err != nil {
		return err
	}
	if err := e.EncodeString(ev.ID); err != nil {
		return err
	}

	for _, k := range slices.Sorted(maps.Keys(ev.Fields)) {
		key := k
		if k == RecordKeyID || k == RecordKeyLevel || k == RecordKeyMessage {
			key = "fields." + k
		}
		if err := e.EncodeString(key); err != nil {
			return err
		}
		if err := e.Encode(ev.Fields[k]); err != nil {
			return fmt.Errorf("field %q: %w", k, err)
		}
	}
	return nil
}

// Mode returns the Fluent event mode of the Encoder.
func (e *Encoder) Mode() EventMode { return e.p.Mode }
