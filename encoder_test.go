package relog

import (
	"bytes"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

func testEvent() *Event {
	return &Event{
		ID:      "01HZX3Q7S8C0V6M9K2W4T1B5NE",
		Time:    time.Date(2024, time.May, 1, 12, 30, 0, 250, time.UTC),
		Level:   WarnLevel,
		Message: "disk almost full",
		Fields: map[string]any{
			"free_mb": int64(512),
			"mount":   "/var",
		},
	}
}

func decodeTestMessage(t *testing.T, b []byte) *TestMessage {
	t.Helper()
	m := new(TestMessage)
	if err := msgpack.NewDecoder(bytes.NewReader(b)).Decode(m); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}
	return m
}

func TestEncoder_EncodeEventMessageMode(t *testing.T) {
	p := NewEncoderPool(testTag, nil)
	enc := p.Get()
	defer enc.Free()

	e := testEvent()
	if err := enc.EncodeEvent(e); err != nil {
		t.Fatal(err)
	}

	m := decodeTestMessage(t, enc.Bytes())
	if m.Tag != testTag {
		t.Fatalf("expected tag %q, got %q", testTag, m.Tag)
	}
	if !m.Time.Equal(e.Time) {
		t.Fatalf("expected time %v, got %v", e.Time, m.Time)
	}
	want := map[string]any{
		"level":   "WARN",
		"msg":     "disk almost full",
		"id":      e.ID,
		"free_mb": int64(512),
		"mount":   "/var",
	}
	assertRecord(t, want, m.Record)
	if m.Option != nil {
		t.Fatalf("expected no option field, got %v", m.Option)
	}
}

func TestEncoder_EncodeEventRequestsACK(t *testing.T) {
	p := NewEncoderPool(testTag, &EncoderOptions{RequestACKs: true})
	enc := p.Get()
	defer enc.Free()

	e := testEvent()
	if err := enc.EncodeEvent(e); err != nil {
		t.Fatal(err)
	}
	m := decodeTestMessage(t, enc.Bytes())
	if m.Option["chunk"] != e.ID {
		t.Fatalf("expected chunk option %q, got %v", e.ID, m.Option)
	}
}

func TestEncoder_EncodeEventForwardMode(t *testing.T) {
	p := NewEncoderPool(testTag, &EncoderOptions{Mode: ForwardMode})
	enc := p.Get()
	defer enc.Free()

	e := testEvent()
	if err := enc.EncodeEvent(e); err != nil {
		t.Fatal(err)
	}

	// [tag, [[time, record]]]
	var msg []msgpack.RawMessage
	if err := msgpack.Unmarshal(enc.Bytes(), &msg); err != nil {
		t.Fatal(err)
	}
	if len(msg) != 2 {
		t.Fatalf("expected a 2 element message, got %d", len(msg))
	}
	var entries []msgpack.RawMessage
	if err := msgpack.Unmarshal(msg[1], &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected a single entry, got %d", len(entries))
	}
	var entry []msgpack.RawMessage
	if err := msgpack.Unmarshal(entries[0], &entry); err != nil {
		t.Fatal(err)
	}
	var et EventTime
	if err := msgpack.Unmarshal(entry[0], &et); err != nil {
		t.Fatal(err)
	}
	if !time.Time(et).Equal(e.Time) {
		t.Fatalf("expected time %v, got %v", e.Time, time.Time(et))
	}
}

func TestEncoder_CoarseTimestamp(t *testing.T) {
	p := NewEncoderPool(testTag, &EncoderOptions{UseCoarseTimestamps: true})
	enc := p.Get()
	defer enc.Free()

	e := testEvent()
	if err := enc.EncodeEvent(e); err != nil {
		t.Fatal(err)
	}
	m := decodeTestMessage(t, enc.Bytes())
	if m.Time.Unix() != e.Time.Unix() {
		t.Fatalf("expected unix time %d, got %d", e.Time.Unix(), m.Time.Unix())
	}
}

func TestEncoder_ReservedFieldKeys(t *testing.T) {
	p := NewEncoderPool(testTag, nil)
	enc := p.Get()
	defer enc.Free()

	e := testEvent()
	e.Fields = map[string]any{"msg": "shadowed"}
	if err := enc.EncodeEvent(e); err != nil {
		t.Fatal(err)
	}
	m := decodeTestMessage(t, enc.Bytes())
	if m.Record["msg"] != e.Message {
		t.Fatalf("expected msg %q, got %v", e.Message, m.Record["msg"])
	}
	if m.Record["fields.msg"] != "shadowed" {
		t.Fatalf("expected shadowed field under fields.msg, got %v", m.Record["fields.msg"])
	}
}

func TestEncoderPool_PutResetsToPrelude(t *testing.T) {
	p := NewEncoderPool(testTag, nil)
	enc := p.Get()
	prelude := append([]byte(nil), enc.Bytes()...)

	if err := enc.EncodeEvent(testEvent()); err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(prelude, enc.Bytes()) {
		t.Fatal("expected the event to be appended to the prelude")
	}
	p.Put(enc)

	enc2 := p.Get()
	if !bytes.Equal(prelude, enc2.Bytes()) {
		t.Fatalf("expected a pooled Encoder to hold only the prelude, got %d bytes", enc2.Len())
	}
}

func TestEncoder_EncodeEventRequiresPool(t *testing.T) {
	enc := NewEncoder(defaultNewBufferCap)
	if err := enc.EncodeEvent(testEvent()); err == nil {
		t.Fatal("expected an error encoding an event without a pool")
	}
}
