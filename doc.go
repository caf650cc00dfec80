/*
Package relog provides reliable asynchronous log delivery in Go, including:

  - `relog.Reliable` - decouples producers from slow, unavailable or remote
    sinks, with a bounded queue and a crash-safe disk spool
  - `relog.WorkerQueue` - the bounded worker queue behind it
  - `relog.SpoolWriter` and `relog.SpoolReader` - the segmented on-disk
    spool, with a persisted checkpoint per segment
  - `relog.TransportClient` - keeps a connection to a remote Fluent
    collector alive, reconnecting with backoff
  - `relog.Handler` - turns Go structured logs into events (implements
    `slog.Handler`)

Delivery is at-least-once. An event the sink rejects is spooled and
retried until the sink accepts it, so a sink can see an event twice after
an outage; every event carries a stable, time-sortable ID for
de-duplication.

	r, err := relog.NewReliable(sink, relog.DefaultReliableOptions("/var/spool/app"))
	if err != nil {
		log.Fatalln(err)
	}
	defer r.Close()

	slog.SetDefault(slog.New(relog.NewHandler(r, nil)))

The spool layout is a directory of `relLog_<N>` segment files. Each
segment starts with a 9-byte header, a state byte followed by the
little-endian offset of the next unconsumed record, and holds records
framed by a little-endian int32 size. A record is written with a zero
size first and the size patched in afterwards, so a crash mid-write leaves
a record the reader recognizes as incomplete.
*/
package relog
