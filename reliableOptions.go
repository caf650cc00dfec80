package relog

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReliableOptions are used to customize a Reliable wrapper.
//
// # Invalid options are coerced
//
// Apart from SpoolDir, which is required, zero and out-of-range values are
// replaced with defaults.
type ReliableOptions struct {

	// SpoolDir is where undeliverable events are persisted. If the directory
	// is held by another Reliable, a sub_<N> directory is used instead.
	SpoolDir string

	// MaxQueueSize bounds the number of events waiting for a worker. The
	// default is 10000.
	MaxQueueSize int

	// Workers is the number of goroutines delivering queued events. Events
	// reach the sink in enqueue order only with a single worker. The default
	// is 1.
	Workers int

	// DiscardOnFull makes Write return ErrQueueFull instead of blocking when
	// the queue is full.
	DiscardOnFull bool

	// BypassLevel is the lowest level delivered inline by Write instead of
	// through the queue. FatalLevel+1 disables the bypass. The default is
	// ErrorLevel.
	BypassLevel Level

	// SyncLevel is the lowest level that is flushed to disk immediately when
	// spooled. The default is ErrorLevel.
	SyncLevel Level

	// MaxSegmentSize, FlushEvery: see SpoolOptions.
	MaxSegmentSize int64
	FlushEvery     int

	// DrainInterval is how long the drain loop waits after the spool was
	// found empty or the sink rejected a spooled event. The default is 10s.
	DrainInterval time.Duration

	// ErrorLogWindow limits repeated error logs of the same kind to one per
	// window. The default is 1 minute.
	ErrorLogWindow time.Duration

	// Codec serializes spooled events. The default is msgpack.
	Codec Codec[*Event]

	// Name identifies the pipeline in diagnostics and metrics. The default is
	// "relog".
	Name string

	// Registerer, when set, has a Collector for this pipeline registered
	// with it.
	Registerer prometheus.Registerer

	// Logger receives diagnostics. The default is DefaultLogger().
	Logger Logger

	// Verbose controls whether debug logs are written to the Logger.
	Verbose bool

	// the zero Level is DebugLevel; these record that it was chosen
	bypassSet, syncSet bool
}

const (
	defaultMaxQueueSize   = 10000
	defaultBypassLevel    = ErrorLevel
	defaultSyncLevel      = ErrorLevel
	defaultDrainInterval  = time.Second * 10
	defaultErrorLogWindow = time.Minute
	defaultPipelineName   = "relog"
)

// DefaultReliableOptions returns *ReliableOptions with all default values
// for the given spool directory.
func DefaultReliableOptions(spoolDir string) *ReliableOptions {
	return &ReliableOptions{
		SpoolDir:       spoolDir,
		MaxQueueSize:   defaultMaxQueueSize,
		Workers:        defaultWorkers,
		BypassLevel:    defaultBypassLevel,
		SyncLevel:      defaultSyncLevel,
		MaxSegmentSize: defaultMaxSegmentSize,
		FlushEvery:     defaultFlushEvery,
		DrainInterval:  defaultDrainInterval,
		ErrorLogWindow: defaultErrorLogWindow,
		Codec:          MsgpackCodec[*Event]{},
		Name:           defaultPipelineName,
		Logger:         DefaultLogger(),
		bypassSet:      true,
		syncSet:        true,
	}
}

// WithBypassLevel sets BypassLevel. Setting it through this method is the
// only way to choose DebugLevel, which is otherwise taken as unset.
func (o *ReliableOptions) WithBypassLevel(l Level) *ReliableOptions {
	o.BypassLevel, o.bypassSet = l, true
	return o
}

// WithSyncLevel sets SyncLevel. Setting it through this method is the only
// way to choose DebugLevel, which is otherwise taken as unset.
func (o *ReliableOptions) WithSyncLevel(l Level) *ReliableOptions {
	o.SyncLevel, o.syncSet = l, true
	return o
}

// resolve ensures that all options have valid values.
func (o *ReliableOptions) resolve() {

	// must be positive
	if o.MaxQueueSize < 1 {
		o.MaxQueueSize = defaultMaxQueueSize
	}

	// must have at least one worker
	if o.Workers < 1 {
		o.Workers = defaultWorkers
	}

	// DebugLevel is the zero value; only honour it when set explicitly
	if (o.BypassLevel == DebugLevel && !o.bypassSet) || o.BypassLevel < DebugLevel || o.BypassLevel > FatalLevel+1 {
		o.BypassLevel = defaultBypassLevel
	}
	if (o.SyncLevel == DebugLevel && !o.syncSet) || o.SyncLevel < DebugLevel || o.SyncLevel > FatalLevel+1 {
		o.SyncLevel = defaultSyncLevel
	}

	if o.MaxSegmentSize < headerSize+recordHeaderSize {
		o.MaxSegmentSize = defaultMaxSegmentSize
	}

	if o.FlushEvery < 1 {
		o.FlushEvery = defaultFlushEvery
	}

	// must be positive
	if o.DrainInterval < 1 {
		o.DrainInterval = defaultDrainInterval
	}
	if o.ErrorLogWindow < 1 {
		o.ErrorLogWindow = defaultErrorLogWindow
	}

	if o.Codec == nil {
		o.Codec = MsgpackCodec[*Event]{}
	}

	if len(o.Name) == 0 {
		o.Name = defaultPipelineName
	}

	if o.Logger == nil {
		o.Logger = DefaultLogger()
	}
}

func (o *ReliableOptions) spoolOptions() *SpoolOptions {
	return &SpoolOptions{
		MaxSegmentSize: o.MaxSegmentSize,
		FlushEvery:     o.FlushEvery,
		Logger:         o.Logger,
		Verbose:        o.Verbose,
	}
}

func (o *ReliableOptions) queueOptions() *QueueOptions {
	return &QueueOptions{
		Workers: o.Workers,
		MaxSize: o.MaxQueueSize,
		Logger:  o.Logger,
		Verbose: o.Verbose,
	}
}
