package relog

import "sync/atomic"

// Stats tracks what happened to the events offered to a Reliable wrapper.
// All counters are updated atomically and can be read at any time.
type Stats struct {
	queued       atomic.Uint64
	bypassed     atomic.Uint64
	dropped      atomic.Uint64
	delivered    atomic.Uint64
	sinkFailures atomic.Uint64
	spooled      atomic.Uint64
	drained      atomic.Uint64
	lost         atomic.Uint64
}

// Snapshot is a point-in-time copy of Stats plus the gauges of the
// pipeline that owns them.
type Snapshot struct {
	// Queued counts events accepted into the worker queue.
	Queued uint64 `json:"queued" yaml:"queued"`
	// Bypassed counts high-severity events delivered inline.
	Bypassed uint64 `json:"bypassed" yaml:"bypassed"`
	// Dropped counts events rejected because the queue was full.
	Dropped uint64 `json:"dropped" yaml:"dropped"`
	// Delivered counts first-attempt sink successes.
	Delivered uint64 `json:"delivered" yaml:"delivered"`
	// SinkFailures counts first-attempt sink failures.
	SinkFailures uint64 `json:"sink_failures" yaml:"sink_failures"`
	// Spooled counts events persisted to disk after a sink failure.
	Spooled uint64 `json:"spooled" yaml:"spooled"`
	// Drained counts spooled events later delivered by the drain loop.
	Drained uint64 `json:"drained" yaml:"drained"`
	// Lost counts events that could be neither delivered nor spooled.
	Lost uint64 `json:"lost" yaml:"lost"`

	QueueLen      int    `json:"queue_len" yaml:"queue_len"`
	QueueCap      int    `json:"queue_cap" yaml:"queue_cap"`
	Processed     uint64 `json:"processed" yaml:"processed"`
	ProcessErrors uint64 `json:"process_errors" yaml:"process_errors"`
	ActiveWorkers int    `json:"active_workers" yaml:"active_workers"`
}

func (s *Stats) snapshot() Snapshot {
	return Snapshot{
		Queued:       s.queued.Load(),
		Bypassed:     s.bypassed.Load(),
		Dropped:      s.dropped.Load(),
		Delivered:    s.delivered.Load(),
		SinkFailures: s.sinkFailures.Load(),
		Spooled:      s.spooled.Load(),
		Drained:      s.drained.Load(),
		Lost:         s.lost.Load(),
	}
}

// StatsProvider is implemented by pipelines that can report a Snapshot.
type StatsProvider interface {
	Stats() Snapshot
}
