package relog

import (
	"io"
	"sync"
)

// WriterSink writes each event as one JSON line to an io.Writer.
type WriterSink struct {
	mu    sync.Mutex
	w     io.Writer
	codec Codec[*Event]

	// set when the sink owns w
	closer io.Closer
}

// compile-time check for Sink conformance
var _ Sink = (*WriterSink)(nil)

// NewWriterSink returns a WriterSink for w. Close does not close w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w, codec: JSONCodec[*Event]{}}
}

// newOwningWriterSink returns a WriterSink that closes wc on Close.
func newOwningWriterSink(wc io.WriteCloser) *WriterSink {
	s := NewWriterSink(wc)
	s.closer = wc
	return s
}

func (s *WriterSink) Write(e *Event) error {
	e.stamp()
	b, err := s.codec.Marshal(e)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(b)
	return err
}

func (s *WriterSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
