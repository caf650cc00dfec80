package relog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// QueueState is the lifecycle state of a WorkerQueue.
type QueueState int32

const (
	QueueCreated QueueState = iota
	QueueStartPending
	QueueInWork
	QueueStopPending
	QueueStopped
	QueueDisposed
)

func (s QueueState) String() string {
	switch s {
	case QueueCreated:
		return "Created"
	case QueueStartPending:
		return "StartPending"
	case QueueInWork:
		return "InWork"
	case QueueStopPending:
		return "StopPending"
	case QueueStopped:
		return "Stopped"
	case QueueDisposed:
		return "Disposed"
	default:
		return "Unknown"
	}
}

// StopOptions control how WorkerQueue.Stop winds the workers down.
type StopOptions struct {
	// Wait blocks Stop until every worker has exited, or the context passed
	// to Stop is done.
	Wait bool

	// Drain lets the workers consume everything still queued before they
	// exit. Without it, workers exit after the item they are processing.
	Drain bool

	// CompleteAdding permanently rejects further TryAdd and Add calls.
	CompleteAdding bool
}

// WorkerQueue is a capacity-bounded FIFO consumed by a fixed pool of worker
// goroutines, each calling the process function for one item at a time.
//
// The queue moves through Created -> StartPending -> InWork -> StopPending
// -> Stopped, and may be restarted from Stopped. Close moves it to Disposed
// from any state. Items may be added before Start; they are processed once
// the workers run.
type WorkerQueue[T any] struct {
	opts    *QueueOptions
	name    string
	process func(T) error

	state  atomic.Int32
	active atomic.Int32

	mu         sync.Mutex
	notEmpty   *sync.Cond
	notFull    *sync.Cond
	items      []T
	head       int
	cancelled  bool
	drain      bool
	addingDone bool
	done       chan struct{} // closed by the last worker of the current run

	processed atomic.Uint64
	failed    atomic.Uint64
}

// NewWorkerQueue returns a queue in the Created state. Call Start to launch
// the workers.
func NewWorkerQueue[T any](name string, process func(T) error, opts *QueueOptions) (*WorkerQueue[T], error) {
	if process == nil {
		return nil, errors.New("relog: WorkerQueue requires a process function")
	}
	if len(name) == 0 {
		name = "relog-queue"
	}

	if opts == nil {
		opts = DefaultQueueOptions()
	} else {
		if opts.Workers < 0 {
			return nil, fmt.Errorf("relog: WorkerQueue %q: worker count must be positive, got %d", name, opts.Workers)
		}
		opts.resolve()
	}

	q := &WorkerQueue[T]{
		opts:    opts,
		name:    name,
		process: process,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)

	return q, nil
}

// Name returns the queue name used in diagnostics.
func (q *WorkerQueue[T]) Name() string { return q.name }

// State returns the current lifecycle state.
func (q *WorkerQueue[T]) State() QueueState { return QueueState(q.state.Load()) }

// Cap returns the configured capacity; 0 means unbounded.
func (q *WorkerQueue[T]) Cap() int { return q.opts.MaxSize }

// Len returns the number of items waiting to be processed. The value is
// stale as soon as it is returned and is only suitable as a hint.
func (q *WorkerQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size()
}

// ActiveWorkers returns the number of workers currently running.
func (q *WorkerQueue[T]) ActiveWorkers() int { return int(q.active.Load()) }

// Processed returns the number of items processed successfully.
func (q *WorkerQueue[T]) Processed() uint64 { return q.processed.Load() }

// Failed returns the number of workers terminated by a process failure.
func (q *WorkerQueue[T]) Failed() uint64 { return q.failed.Load() }

// Stats returns the queue gauges as a Snapshot. Only the queue fields are
// populated.
func (q *WorkerQueue[T]) Stats() Snapshot {
	return Snapshot{
		QueueLen:      q.Len(),
		QueueCap:      q.Cap(),
		Processed:     q.Processed(),
		ProcessErrors: q.Failed(),
		ActiveWorkers: q.ActiveWorkers(),
	}
}

// Start launches the workers. It fails with ErrInvalidState unless the
// queue is Created or Stopped.
func (q *WorkerQueue[T]) Start() error {
	for {
		s := q.State()
		if s != QueueCreated && s != QueueStopped {
			return fmt.Errorf("%w: cannot start queue %q while %s", ErrInvalidState, q.name, s)
		}
		if q.state.CompareAndSwap(int32(s), int32(QueueStartPending)) {
			break
		}
	}

	q.mu.Lock()
	// Close may have won the race since the CAS above
	if q.State() != QueueStartPending {
		q.mu.Unlock()
		return ErrDisposed
	}
	q.cancelled = false
	q.drain = false
	done := make(chan struct{})
	q.done = done
	q.active.Store(int32(q.opts.Workers))
	for i := 0; i < q.opts.Workers; i++ {
		go q.work(i+1, done)
	}
	q.mu.Unlock()

	q.state.CompareAndSwap(int32(QueueStartPending), int32(QueueInWork))
	q.debug("started", "workers", q.opts.Workers, "max_size", q.opts.MaxSize)
	return nil
}

// TryAdd enqueues item without blocking. It returns false when the queue
// is at capacity, and ErrAddingCompleted once adding has been locked.
func (q *WorkerQueue[T]) TryAdd(item T) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.addingDone {
		return false, ErrAddingCompleted
	}
	if q.opts.MaxSize > 0 && q.size() >= q.opts.MaxSize {
		return false, nil
	}
	q.push(item)
	return true, nil
}

// Add enqueues item, blocking while the queue is at capacity. It returns
// the context error if ctx is done first, and ErrAddingCompleted if adding
// is locked, including while it is blocked.
func (q *WorkerQueue[T]) Add(ctx context.Context, item T) error {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notFull.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.addingDone {
			return ErrAddingCompleted
		}
		if q.opts.MaxSize <= 0 || q.size() < q.opts.MaxSize {
			q.push(item)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		q.notFull.Wait()
	}
}

// Stop moves an InWork queue to StopPending and signals the workers. It is
// a no-op in any other state, except Disposed, where it returns
// ErrDisposed. The transition to Stopped is made by the last exiting
// worker, whether or not Stop waits for it.
func (q *WorkerQueue[T]) Stop(ctx context.Context, opts StopOptions) error {
	if q.State() == QueueDisposed {
		return ErrDisposed
	}
	if !q.state.CompareAndSwap(int32(QueueInWork), int32(QueueStopPending)) {
		return nil
	}

	q.mu.Lock()
	q.cancelled = true
	q.drain = opts.Drain
	if opts.CompleteAdding {
		q.addingDone = true
		q.notFull.Broadcast()
	}
	q.notEmpty.Broadcast()
	done := q.done
	q.mu.Unlock()

	q.debug("stopping", "drain", opts.Drain, "complete_adding", opts.CompleteAdding, "wait", opts.Wait)

	if !opts.Wait {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the workers without draining, locks adding, waits for the
// workers to exit and leaves the queue Disposed. Items still queued are
// discarded. Close is idempotent.
func (q *WorkerQueue[T]) Close() error {
	if QueueState(q.state.Swap(int32(QueueDisposed))) == QueueDisposed {
		return nil
	}

	q.mu.Lock()
	q.cancelled = true
	q.drain = false
	q.addingDone = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
	done := q.done
	q.mu.Unlock()

	if done != nil {
		<-done
	}

	q.mu.Lock()
	if n := q.size(); n > 0 {
		q.debug("discarding queued items on close", "count", n)
	}
	q.items, q.head = nil, 0
	q.mu.Unlock()

	return nil
}

func (q *WorkerQueue[T]) work(id int, done chan struct{}) {
	defer q.exit(done)

	for {
		item, ok := q.take()
		if !ok {
			return
		}
		if err := q.run(item); err != nil {
			q.failed.Add(1)
			perr := &ProcessError{Queue: q.name, Worker: id, Err: err}
			q.opts.Logger.Error("queue worker terminated", "queue", q.name, "worker", id, "error", err)
			if q.opts.OnError != nil {
				q.opts.OnError(perr)
			}
			return
		}
		q.processed.Add(1)
	}
}

// run isolates a panicking process function to the worker that called it.
func (q *WorkerQueue[T]) run(item T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return q.process(item)
}

func (q *WorkerQueue[T]) take() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.cancelled && !q.drain {
			return item, false
		}
		if q.size() > 0 {
			item = q.pop()
			q.notFull.Signal()
			// another worker may be idle while items remain
			if q.size() > 0 {
				q.notEmpty.Signal()
			}
			return item, true
		}
		if q.cancelled {
			return item, false
		}
		q.notEmpty.Wait()
	}
}

func (q *WorkerQueue[T]) exit(done chan struct{}) {
	if q.active.Add(-1) != 0 {
		return
	}
	for {
		s := q.State()
		if s != QueueInWork && s != QueueStopPending {
			break
		}
		if q.state.CompareAndSwap(int32(s), int32(QueueStopped)) {
			q.debug("stopped")
			break
		}
	}
	close(done)
}

// size, push and pop require q.mu

func (q *WorkerQueue[T]) size() int { return len(q.items) - q.head }

func (q *WorkerQueue[T]) push(item T) {
	q.items = append(q.items, item)
	q.notEmpty.Signal()
}

func (q *WorkerQueue[T]) pop() T {
	var zero T
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head++

	// reclaim the consumed prefix once it dominates the slice
	if q.head == len(q.items) {
		q.items, q.head = q.items[:0], 0
	} else if q.head > 64 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items, q.head = q.items[:n], 0
	}
	return item
}

func (q *WorkerQueue[T]) debug(msg string, args ...any) {
	if !q.opts.Verbose {
		return
	}
	q.opts.Logger.Debug(msg, append([]any{"queue", q.name}, args...)...)
}
