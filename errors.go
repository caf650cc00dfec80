package relog

import (
	"errors"
	"fmt"
)

var (
	ErrClosed          = errors.New("relog: closed")
	ErrQueueFull       = errors.New("relog: queue full, event discarded")
	ErrAddingCompleted = errors.New("relog: queue no longer accepts items")
	ErrInvalidState    = errors.New("relog: invalid state for operation")
	ErrDisposed        = errors.New("relog: queue disposed")
	ErrLocked          = errors.New("relog: directory locked by another writer")
	ErrNoRecord        = errors.New("relog: no record pending completion")
	ErrAlreadyStarted  = errors.New("relog: already started")
)

// ErrNotConnected is returned by TransportClient.SendData when no
// connection to the collector is currently believed to be open.
var ErrNotConnected = &CommunicationError{Op: "send", Err: errors.New("not connected")}

// ProcessError wraps a failure raised by a WorkerQueue process function.
// The worker that raised it exits; the other workers keep running.
type ProcessError struct {
	Queue  string
	Worker int
	Err    error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("relog: queue %q worker %d: process failed: %v", e.Queue, e.Worker, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// CommunicationError reports a failure talking to a remote collector.
type CommunicationError struct {
	Op   string
	Addr string
	Err  error
}

func (e *CommunicationError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("relog: transport %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("relog: transport %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *CommunicationError) Unwrap() error { return e.Err }
