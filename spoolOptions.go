package relog

// SpoolOptions are used to customize a SpoolWriter and SpoolReader.
//
// # Invalid options are coerced
type SpoolOptions struct {

	// MaxSegmentSize is the size in bytes at which the writer rolls over to a
	// new segment. The check is made before each append, so a segment can
	// exceed the limit by one record. The default is 10 MiB.
	MaxSegmentSize int64

	// FlushEvery controls how many records the writer appends, or the reader
	// completes, between fsyncs. Writes flagged as sync are flushed
	// immediately regardless. The default is 64.
	FlushEvery int

	// Logger receives diagnostics, including corruption reports. The default
	// is DefaultLogger().
	Logger Logger

	// Verbose controls whether debug logs are written to the Logger.
	Verbose bool
}

const (
	defaultMaxSegmentSize = 10 << 20
	defaultFlushEvery     = 64
)

// DefaultSpoolOptions returns *SpoolOptions with all default values.
func DefaultSpoolOptions() *SpoolOptions {
	return &SpoolOptions{
		MaxSegmentSize: defaultMaxSegmentSize,
		FlushEvery:     defaultFlushEvery,
		Logger:         DefaultLogger(),
	}
}

// resolve ensures that all options have valid values.
func (o *SpoolOptions) resolve() {

	// must leave room for the header and at least one record header
	if o.MaxSegmentSize < headerSize+recordHeaderSize {
		o.MaxSegmentSize = defaultMaxSegmentSize
	}

	// must be positive
	if o.FlushEvery < 1 {
		o.FlushEvery = defaultFlushEvery
	}

	if o.Logger == nil {
		o.Logger = DefaultLogger()
	}
}
