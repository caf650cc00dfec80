package relog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
)

// SpoolReader consumes records from the lowest segment of a spool
// directory. A record stays in the spool until RecordCompleted advances the
// persisted checkpoint past it, so a crash between GetRecord and
// RecordCompleted delivers the record again after a restart.
type SpoolReader[T any] struct {
	opts  *SpoolOptions
	dir   string
	codec Codec[T]

	mu          sync.Mutex
	seg         *readSegment
	cached      T
	cachedEnd   int64
	hasCached   bool
	completions int
	closed      bool
}

type readSegment struct {
	f        *os.File
	index    uint64
	path     string
	state    SegmentState
	offset   int64 // persisted checkpoint
	validEnd int64 // end of the last structurally valid record
	damaged  bool
}

// NewSpoolReader returns a reader for dir. Segments are opened lazily by
// GetRecord.
func NewSpoolReader[T any](dir string, codec Codec[T], opts *SpoolOptions) (*SpoolReader[T], error) {
	if len(dir) == 0 {
		return nil, errors.New("relog: spool directory required")
	}
	if codec == nil {
		codec = MsgpackCodec[T]{}
	}
	if opts == nil {
		opts = DefaultSpoolOptions()
	} else {
		opts.resolve()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("relog: failed to create spool directory: %w", err)
	}

	return &SpoolReader[T]{
		opts:  opts,
		dir:   dir,
		codec: codec,
	}, nil
}

// GetRecord returns the oldest record that has not been completed. The
// record is cached, so calling GetRecord again before RecordCompleted
// returns the same record. The bool is false when the spool holds nothing
// unconsumed.
//
// Damaged segments are never reported as errors: the records before the
// damage are served and the rest of the segment is dropped. The error
// return is reserved for I/O failures.
func (r *SpoolReader[T]) GetRecord() (T, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.closed {
		return zero, false, ErrClosed
	}
	if r.hasCached {
		return r.cached, true, nil
	}

	for {
		if r.seg == nil {
			ok, err := r.openNext()
			if err != nil || !ok {
				return zero, false, err
			}
		}
		s := r.seg

		if s.offset < s.validEnd {
			v, end, err := r.readAt(s)
			if err != nil {
				if !errors.Is(err, ErrDeserialize) {
					return zero, false, err
				}
				r.markDamaged(s, s.offset, err.Error())
				continue
			}
			r.cached, r.cachedEnd, r.hasCached = v, end, true
			return v, true, nil
		}

		if s.damaged {
			r.dropSegment("consumed valid prefix of damaged segment")
			continue
		}

		// The state must be read before rescanning: once Completed is seen,
		// everything the writer appended is already on disk.
		h, err := readHeaderLocked(s.f)
		if err != nil {
			if errors.Is(err, errBadHeader) {
				r.opts.Logger.Error("spool segment header became unreadable, deleting", "segment", s.path, "error", err)
				r.dropSegment("unreadable header")
				continue
			}
			return zero, false, err
		}
		s.state = h.state

		grown, err := r.extend(s)
		if err != nil {
			return zero, false, err
		}
		if grown {
			continue
		}
		if s.damaged {
			continue
		}
		if s.state == SegmentActive {
			return zero, false, nil
		}
		r.dropSegment("fully consumed")
	}
}

// RecordCompleted advances the persisted checkpoint past the record last
// returned by GetRecord. It must only be called once that record has been
// delivered; the advance cannot be undone.
func (r *SpoolReader[T]) RecordCompleted() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if !r.hasCached {
		return ErrNoRecord
	}
	s := r.seg
	if err := writeCheckpoint(s.f, r.cachedEnd); err != nil {
		return fmt.Errorf("relog: failed to persist spool checkpoint: %w", err)
	}
	s.offset = r.cachedEnd

	var zero T
	r.cached, r.cachedEnd, r.hasCached = zero, 0, false

	r.completions++
	if r.completions >= r.opts.FlushEvery {
		r.completions = 0
		if err := s.f.Sync(); err != nil {
			return fmt.Errorf("relog: failed to flush spool checkpoint: %w", err)
		}
	}
	return nil
}

// Pending reports whether a record returned by GetRecord is awaiting
// RecordCompleted.
func (r *SpoolReader[T]) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasCached
}

// Close flushes the checkpoint and releases the open segment. A cached
// record that was never completed is read again by the next reader.
func (r *SpoolReader[T]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.hasCached = false
	if r.seg == nil {
		return nil
	}
	f := r.seg.f
	r.seg = nil
	return errors.Join(f.Sync(), f.Close())
}

// openNext opens the lowest segment that still has something to offer,
// deleting the ones that do not. It reports false when there is none.
func (r *SpoolReader[T]) openNext() (bool, error) {
	segs, err := listSegments(r.dir)
	if err != nil {
		return false, fmt.Errorf("relog: failed to list spool segments: %w", err)
	}

	for _, sf := range segs {
		f, err := os.OpenFile(sf.path, os.O_RDWR, 0)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return false, fmt.Errorf("relog: failed to open segment %s: %w", sf.path, err)
		}

		s, err := r.open(f, sf)
		if err != nil {
			f.Close()
			return false, err
		}
		if s == nil {
			f.Close()
			r.remove(sf.path)
			continue
		}
		r.seg = s
		r.debug("opened segment", "segment", s.path, "index", s.index, "state", s.state, "checkpoint", s.offset, "valid_end", s.validEnd)
		return true, nil
	}
	return false, nil
}

// open validates a segment. A nil segment without an error means the
// segment is unusable and should be deleted.
func (r *SpoolReader[T]) open(f *os.File, sf segmentFile) (*readSegment, error) {
	h, err := readHeaderLocked(f)
	if err != nil {
		if errors.Is(err, errBadHeader) {
			r.opts.Logger.Error("deleting spool segment with unreadable header", "segment", sf.path, "error", err)
			return nil, nil
		}
		return nil, fmt.Errorf("relog: failed to read header of %s: %w", sf.path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	onBoundary := h.checkpoint == headerSize
	end, reason, err := scanRecords(f, headerSize, fi.Size(), h.state == SegmentActive, func(off int64, _ int32) {
		if off == h.checkpoint {
			onBoundary = true
		}
	})
	if err != nil {
		return nil, fmt.Errorf("relog: failed to scan %s: %w", sf.path, err)
	}
	if end == h.checkpoint {
		onBoundary = true
	}
	if !onBoundary {
		r.opts.Logger.Error("deleting spool segment with checkpoint off a record boundary",
			"segment", sf.path, "checkpoint", h.checkpoint, "valid_end", end)
		return nil, nil
	}

	s := &readSegment{
		f:        f,
		index:    sf.index,
		path:     sf.path,
		state:    h.state,
		offset:   h.checkpoint,
		validEnd: end,
		damaged:  h.state == SegmentCorrupted,
	}
	if reason != "" {
		r.markDamaged(s, end, reason)
	}
	if s.offset >= s.validEnd && s.state != SegmentActive {
		// nothing left to serve
		return nil, nil
	}
	return s, nil
}

// extend scans records appended since the segment was opened and reports
// whether any were found.
func (r *SpoolReader[T]) extend(s *readSegment) (bool, error) {
	fi, err := s.f.Stat()
	if err != nil {
		return false, err
	}
	end, reason, err := scanRecords(s.f, s.validEnd, fi.Size(), s.state == SegmentActive, nil)
	if err != nil {
		return false, fmt.Errorf("relog: failed to scan %s: %w", s.path, err)
	}
	grown := end > s.validEnd
	s.validEnd = end
	if reason != "" {
		r.markDamaged(s, end, reason)
	}
	return grown, nil
}

func (r *SpoolReader[T]) readAt(s *readSegment) (T, int64, error) {
	var zero T
	var hdr [recordHeaderSize]byte
	if _, err := s.f.ReadAt(hdr[:], s.offset); err != nil {
		return zero, 0, fmt.Errorf("relog: failed to read record header in %s: %w", s.path, err)
	}
	n := int64(binary.LittleEndian.Uint32(hdr[:]))
	payload := make([]byte, n)
	if _, err := s.f.ReadAt(payload, s.offset+recordHeaderSize); err != nil {
		return zero, 0, fmt.Errorf("relog: failed to read record in %s: %w", s.path, err)
	}
	v, err := r.codec.Unmarshal(payload)
	if err != nil {
		return zero, 0, err
	}
	return v, s.offset + recordHeaderSize + n, nil
}

// markDamaged truncates the servable range of s at end and flags the
// segment Corrupted on disk.
func (r *SpoolReader[T]) markDamaged(s *readSegment, end int64, reason string) {
	if end < s.validEnd {
		s.validEnd = end
	}
	lost := !s.damaged
	s.damaged = true
	if s.state == SegmentCorrupted {
		return
	}
	s.state = SegmentCorrupted
	if lost {
		r.opts.Logger.Error("spool segment is damaged; records past the damage are dropped",
			"segment", s.path, "offset", end, "reason", reason)
	}
	if err := writeState(s.f, SegmentCorrupted); err != nil {
		r.opts.Logger.Error("failed to flag spool segment as corrupted", "segment", s.path, "error", err)
	}
}

func (r *SpoolReader[T]) dropSegment(why string) {
	s := r.seg
	r.seg = nil
	s.f.Close()
	r.debug("deleting segment", "segment", s.path, "reason", why)
	r.remove(s.path)
}

func (r *SpoolReader[T]) remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.opts.Logger.Error("failed to delete spool segment", "segment", path, "error", err)
	}
}

func (r *SpoolReader[T]) debug(msg string, args ...any) {
	if !r.opts.Verbose {
		return
	}
	r.opts.Logger.Debug(msg, args...)
}
