package relog

// QueueOptions are used to customize a WorkerQueue.
//
// # Invalid options are coerced
//
// Zero values are replaced with defaults. The only value that is rejected
// outright is a negative worker count, since it can only be a programming
// error.
type QueueOptions struct {

	// Workers is the number of goroutines consuming the queue. With a single
	// worker, items are processed in the order they were added. The default
	// is 1.
	Workers int

	// MaxSize bounds the number of items waiting in the queue. TryAdd fails
	// and Add blocks while the queue holds MaxSize items. A value <= 0 means
	// the queue is unbounded. The default is 0.
	MaxSize int

	// OnError is called with a *ProcessError each time a worker exits
	// because its process function returned an error or panicked.
	OnError func(error)

	// Logger receives diagnostics. The default is DefaultLogger().
	Logger Logger

	// Verbose controls whether debug logs are written to the Logger.
	Verbose bool
}

const defaultWorkers = 1

// DefaultQueueOptions returns *QueueOptions with all default values.
func DefaultQueueOptions() *QueueOptions {
	return &QueueOptions{
		Workers: defaultWorkers,
		Logger:  DefaultLogger(),
	}
}

// resolve ensures that all options have valid values.
func (o *QueueOptions) resolve() {

	// must have at least one worker; negatives are rejected by the constructor
	if o.Workers == 0 {
		o.Workers = defaultWorkers
	}

	// any non-positive size means unbounded
	if o.MaxSize < 0 {
		o.MaxSize = 0
	}

	if o.Logger == nil {
		o.Logger = DefaultLogger()
	}
}
