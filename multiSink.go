package relog

import (
	"errors"

	"golang.org/x/sync/errgroup"
)

// MultiSink fans every event out to several sinks.
//
// Write fails when any child fails, so behind a Reliable wrapper the event
// is retried against every child, and the children that had accepted it
// see it again.
type MultiSink struct {
	sinks []Sink
}

// compile-time check for Sink conformance
var _ Sink = (*MultiSink)(nil)

// NewMultiSink returns a MultiSink over sinks, skipping nil entries.
func NewMultiSink(sinks ...Sink) *MultiSink {
	m := &MultiSink{sinks: make([]Sink, 0, len(sinks))}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Write offers e to every sink and joins their errors.
func (m *MultiSink) Write(e *Event) error {
	var errs []error
	for _, s := range m.sinks {
		errs = append(errs, s.Write(e))
	}
	return errors.Join(errs...)
}

// Close closes every sink concurrently and joins their errors.
func (m *MultiSink) Close() error {
	errs := make([]error, len(m.sinks))
	var g errgroup.Group
	for i, s := range m.sinks {
		g.Go(func() error {
			errs[i] = s.Close()
			return errs[i]
		})
	}
	g.Wait()
	return errors.Join(errs...)
}
