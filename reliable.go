package relog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Reliable delivers events to a Sink asynchronously with at-least-once
// semantics. Events are queued and handed to the sink by a pool of
// workers; an event the sink rejects is persisted to a disk spool, and a
// drain goroutine keeps offering spooled events to the sink until it
// accepts them. Events at or above BypassLevel skip the queue.
//
// Reliable is itself a Sink, so pipelines can be nested.
type Reliable struct {
	opts *ReliableOptions
	sink Sink
	lock *DirLock

	// spoolMu serializes every spool operation, appends from the workers
	// and the bypass path as well as reads from the drain loop
	spoolMu sync.Mutex
	writer  *SpoolWriter[*Event]
	reader  *SpoolReader[*Event]

	queue     *WorkerQueue[*Event]
	stats     Stats
	errs      *errorLimiter
	aboveHalf atomic.Bool

	cancel    context.CancelFunc
	drainDone chan struct{}
	closed    atomic.Bool
}

// compile-time check for Sink conformance
var _ Sink = (*Reliable)(nil)

// NewReliable wraps sink. It acquires the spool directory, recovers any
// events spooled by an earlier run, and starts the workers and the drain
// loop. opts.SpoolDir is required.
func NewReliable(sink Sink, opts *ReliableOptions) (*Reliable, error) {
	if sink == nil {
		return nil, errors.New("relog: Reliable requires a sink")
	}
	if opts == nil || len(opts.SpoolDir) == 0 {
		return nil, errors.New("relog: Reliable requires a spool directory")
	}
	opts.resolve()

	r := &Reliable{
		opts:      opts,
		sink:      sink,
		errs:      newErrorLimiter(opts.Logger, opts.ErrorLogWindow),
		drainDone: make(chan struct{}),
	}

	var err error
	r.lock, err = FindNotLockedDirectory(opts.SpoolDir)
	if err != nil {
		return nil, err
	}
	if r.lock.Dir != opts.SpoolDir {
		opts.Logger.Warn("spool directory in use, using fallback", "pipeline", opts.Name, "requested", opts.SpoolDir, "dir", r.lock.Dir)
	}

	r.writer, err = NewSpoolWriter(r.lock.Dir, opts.Codec, opts.spoolOptions())
	if err != nil {
		r.lock.Release()
		return nil, err
	}
	r.reader, err = NewSpoolReader(r.lock.Dir, opts.Codec, opts.spoolOptions())
	if err != nil {
		r.writer.Close()
		r.lock.Release()
		return nil, err
	}

	r.queue, err = NewWorkerQueue(opts.Name, r.process, opts.queueOptions())
	if err == nil {
		err = r.queue.Start()
	}
	if err != nil {
		r.writer.Close()
		r.reader.Close()
		r.lock.Release()
		return nil, err
	}

	if opts.Registerer != nil {
		if err := registerCollector(opts.Registerer, NewCollector(opts.Name, r)); err != nil {
			opts.Logger.Warn("failed to register metrics collector", "pipeline", opts.Name, "error", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.drainLoop(ctx)

	r.debug("started", "dir", r.lock.Dir, "workers", opts.Workers, "max_queue_size", opts.MaxQueueSize)
	return r, nil
}

// Write hands e to the pipeline, assigning its ID and Time when they are
// missing.
//
// Events at or above BypassLevel are delivered before Write returns; an
// error means the event could neither be delivered nor spooled. Other
// events are queued. When the queue is full, Write blocks, or with
// DiscardOnFull drops the event and returns ErrQueueFull.
func (r *Reliable) Write(e *Event) error {
	if e == nil {
		return nil
	}
	if r.closed.Load() {
		return ErrClosed
	}
	e.stamp()

	if e.Level >= r.opts.BypassLevel {
		r.stats.bypassed.Add(1)
		return r.deliver(e)
	}

	ok, err := r.queue.TryAdd(e)
	if err != nil {
		return ErrClosed
	}
	if !ok {
		if r.opts.DiscardOnFull {
			r.stats.dropped.Add(1)
			r.errs.Error("queue-full", "queue full, discarding events", "pipeline", r.opts.Name, "capacity", r.opts.MaxQueueSize)
			return ErrQueueFull
		}
		if err := r.queue.Add(context.Background(), e); err != nil {
			return ErrClosed
		}
	}
	r.stats.queued.Add(1)
	r.trackOccupancy()
	return nil
}

// process is the worker queue callback. Failures are accounted for in
// deliver, so the worker never exits on its account.
func (r *Reliable) process(e *Event) error {
	r.trackOccupancy()
	r.deliver(e)
	return nil
}

// deliver offers e to the sink and spools it when the sink fails. An error
// is returned only when the event was lost.
func (r *Reliable) deliver(e *Event) error {
	err := r.sink.Write(e)
	if err == nil {
		r.stats.delivered.Add(1)
		return nil
	}
	r.stats.sinkFailures.Add(1)
	r.errs.Error("sink", "sink rejected event, spooling", "pipeline", r.opts.Name, "error", err)

	r.spoolMu.Lock()
	err = r.writer.Write(e, e.Level >= r.opts.SyncLevel)
	r.spoolMu.Unlock()
	if err != nil {
		r.stats.lost.Add(1)
		r.errs.Error("spool", "failed to spool event, event lost", "pipeline", r.opts.Name, "id", e.ID, "error", err)
		return fmt.Errorf("relog: event %s lost: %w", e.ID, err)
	}
	r.stats.spooled.Add(1)
	return nil
}

// trackOccupancy logs once each time the queue crosses half its capacity.
func (r *Reliable) trackOccupancy() {
	n, half := r.queue.Len(), r.opts.MaxQueueSize/2
	switch {
	case n >= half && r.aboveHalf.CompareAndSwap(false, true):
		r.opts.Logger.Info("queue above half capacity", "pipeline", r.opts.Name, "len", n, "capacity", r.opts.MaxQueueSize)
	case n < half && r.aboveHalf.CompareAndSwap(true, false):
		r.opts.Logger.Info("queue back below half capacity", "pipeline", r.opts.Name, "len", n, "capacity", r.opts.MaxQueueSize)
	}
}

func (r *Reliable) drainLoop(ctx context.Context) {
	defer close(r.drainDone)

	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		for ctx.Err() == nil && r.drainOne() {
		}
		t.Reset(r.opts.DrainInterval)
	}
}

// drainOne offers the oldest spooled event to the sink and reports whether
// it was delivered.
func (r *Reliable) drainOne() bool {
	r.spoolMu.Lock()
	e, ok, err := r.reader.GetRecord()
	r.spoolMu.Unlock()
	if err != nil {
		r.errs.Error("drain-read", "failed to read spool", "pipeline", r.opts.Name, "error", err)
		return false
	}
	if !ok {
		return false
	}

	if err := r.sink.Write(e); err != nil {
		r.errs.Error("drain-sink", "sink still rejecting spooled events", "pipeline", r.opts.Name, "error", err)
		return false
	}

	r.spoolMu.Lock()
	err = r.reader.RecordCompleted()
	r.spoolMu.Unlock()
	if err != nil {
		r.errs.Error("drain-commit", "failed to advance spool checkpoint", "pipeline", r.opts.Name, "error", err)
		return false
	}
	r.stats.drained.Add(1)
	return true
}

// Shutdown stops accepting events, lets the workers deliver what is
// queued, stops the drain loop, closes the spool and the sink, and releases
// the spool directory. If ctx is done before the queue has drained, the
// remaining queued events are discarded. Shutdown is idempotent.
func (r *Reliable) Shutdown(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.debug("shutting down")

	var errs []error
	err := r.queue.Stop(ctx, StopOptions{Wait: true, Drain: true, CompleteAdding: true})
	if err != nil {
		errs = append(errs, fmt.Errorf("relog: queue did not drain: %w", err))
		r.opts.Logger.Warn("shutdown deadline reached, discarding queued events", "pipeline", r.opts.Name, "len", r.queue.Len())
		go r.queue.Close()
	} else {
		r.queue.Close()
	}

	r.cancel()
	select {
	case <-r.drainDone:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("relog: drain loop did not stop: %w", ctx.Err()))
	}

	r.spoolMu.Lock()
	errs = append(errs, r.writer.Close(), r.reader.Close())
	r.spoolMu.Unlock()

	errs = append(errs, r.sink.Close(), r.lock.Release())
	return errors.Join(errs...)
}

// Close is Shutdown without a deadline.
func (r *Reliable) Close() error {
	return r.Shutdown(context.Background())
}

// Dir returns the spool directory in use, which is a sub_<N> directory of
// SpoolDir when SpoolDir was held by another pipeline.
func (r *Reliable) Dir() string { return r.lock.Dir }

// Stats returns the pipeline counters and queue gauges.
func (r *Reliable) Stats() Snapshot {
	s := r.stats.snapshot()
	q := r.queue.Stats()
	s.QueueLen = q.QueueLen
	s.QueueCap = q.QueueCap
	s.Processed = q.Processed
	s.ProcessErrors = q.ProcessErrors
	s.ActiveWorkers = q.ActiveWorkers
	return s
}

func (r *Reliable) debug(msg string, args ...any) {
	if !r.opts.Verbose {
		return
	}
	r.opts.Logger.Debug(msg, append([]any{"pipeline", r.opts.Name}, args...)...)
}
