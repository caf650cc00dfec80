package relog

// Sink is a destination for events: a console, a file, a database or a
// remote collector. Write reports whether the event was accepted; a non-nil
// error tells the Reliable wrapper to spool the event and retry later.
type Sink interface {
	Write(e *Event) error
	Close() error
}

// SinkFunc adapts an ordinary function into a Sink with a no-op Close.
type SinkFunc func(e *Event) error

func (f SinkFunc) Write(e *Event) error { return f(e) }

func (f SinkFunc) Close() error { return nil }
