package relog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// SpoolWriter appends records to the highest segment of a spool directory.
// Only one SpoolWriter may use a directory at a time; use
// FindNotLockedDirectory to guarantee that across processes.
type SpoolWriter[T any] struct {
	opts  *SpoolOptions
	dir   string
	codec Codec[T]

	mu       sync.Mutex
	f        *os.File // nil until the next write rolls a segment
	index    uint64   // index of the current segment, or of the next one
	size     int64
	unsynced int
	closed   bool
}

// NewSpoolWriter prepares dir for appending. Segments left Active by an
// earlier run are marked Completed, and numbering resumes after the highest
// existing index. No segment is created until the first Write.
func NewSpoolWriter[T any](dir string, codec Codec[T], opts *SpoolOptions) (*SpoolWriter[T], error) {
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

	w := &SpoolWriter[T]{
		opts:  opts,
		dir:   dir,
		codec: codec,
	}
	if err := w.recover(); err != nil {
		return nil, err
	}
	return w, nil
}

// recover completes segments abandoned by a crashed writer and removes
// temporary files that never made it into place.
func (w *SpoolWriter[T]) recover() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("relog: failed to read spool directory: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if base, ok := strings.CutSuffix(name, tmpSuffix); ok {
			if _, ok := parseSegmentName(base); ok {
				w.debug("removing abandoned temporary segment", "file", name)
				os.Remove(filepath.Join(w.dir, name))
			}
		}
	}

	segs, err := listSegments(w.dir)
	if err != nil {
		return fmt.Errorf("relog: failed to list spool segments: %w", err)
	}
	for _, s := range segs {
		if err := w.completeAbandoned(s); err != nil {
			return err
		}
	}
	if n := len(segs); n > 0 {
		w.index = segs[n-1].index + 1
	}
	w.debug("spool writer ready", "dir", w.dir, "segments", len(segs), "next_index", w.index)
	return nil
}

func (w *SpoolWriter[T]) completeAbandoned(s segmentFile) error {
	f, err := os.OpenFile(s.path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("relog: failed to open segment %s: %w", s.path, err)
	}
	defer f.Close()

	h, err := readHeaderLocked(f)
	if err != nil {
		// the reader deletes segments it cannot read
		w.debug("skipping segment with unreadable header", "segment", s.path, "error", err)
		return nil
	}
	if h.state != SegmentActive {
		return nil
	}
	w.debug("completing segment left active by a previous run", "segment", s.path)
	if err := writeState(f, SegmentCompleted); err != nil {
		return fmt.Errorf("relog: failed to complete segment %s: %w", s.path, err)
	}
	return f.Sync()
}

// Write serializes v and appends it to the current segment, rolling to a
// new segment first when the current one has reached MaxSegmentSize. The
// record is flushed to stable storage when durable is set, and otherwise every
// FlushEvery records.
//
// On an I/O failure the partial record is removed, the segment is completed
// and the error is returned. Nothing is buffered; the next Write starts a
// new segment.
func (w *SpoolWriter[T]) Write(v T, durable bool) error {
	payload, err := w.codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("relog: failed to serialize spool record: %w", err)
	}
	if len(payload) == 0 || len(payload) > math.MaxInt32 {
		return fmt.Errorf("relog: spool record size %d out of range", len(payload))
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}

	if w.f != nil && w.needsRoll() {
		if err := w.release(); err != nil {
			w.opts.Logger.Error("failed to complete spool segment", "dir", w.dir, "index", w.index, "error", err)
		}
		w.index++
	}
	if w.f == nil {
		if err := w.roll(); err != nil {
			return err
		}
	}

	start := w.size
	if err := w.append(start, payload); err != nil {
		return w.abort(start, err)
	}

	w.unsynced++
	if durable || w.unsynced >= w.opts.FlushEvery {
		if err := w.f.Sync(); err != nil {
			// the record is complete in the page cache; keep it
			return w.abort(w.size, err)
		}
		w.unsynced = 0
	}
	return nil
}

// needsRoll reports whether the current segment is full, or was given up
// by the reader after it found damage.
func (w *SpoolWriter[T]) needsRoll() bool {
	if w.size >= w.opts.MaxSegmentSize {
		return true
	}
	h, err := readHeaderLocked(w.f)
	return err != nil || h.state != SegmentActive
}

func (w *SpoolWriter[T]) roll() error {
	f, err := createSegment(w.dir, w.index)
	if err != nil {
		return fmt.Errorf("relog: failed to create spool segment %d: %w", w.index, err)
	}
	syncDir(w.dir)
	w.f = f
	w.size = headerSize
	w.unsynced = 0
	w.debug("rolled to new segment", "dir", w.dir, "index", w.index)
	return nil
}

// append writes the record with a zero size, then patches in the real size
// once the payload is in place.
func (w *SpoolWriter[T]) append(at int64, payload []byte) error {
	buf := make([]byte, recordHeaderSize+len(payload))
	copy(buf[recordHeaderSize:], payload)
	if _, err := w.f.WriteAt(buf, at); err != nil {
		return err
	}

	var hdr [recordHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.f.WriteAt(hdr[:], at); err != nil {
		return err
	}
	w.size = at + int64(len(buf))
	return nil
}

// abort trims the segment back to end, completes it and lets it go.
func (w *SpoolWriter[T]) abort(end int64, cause error) error {
	err := w.f.Truncate(end)
	err = errors.Join(err, w.release())
	w.index++
	if err != nil {
		w.opts.Logger.Error("failed to clean up spool segment after write failure", "dir", w.dir, "error", err)
	}
	return fmt.Errorf("relog: spool write failed: %w", cause)
}

// release marks the current segment Completed, flushes and closes it. A
// segment the reader has flagged Corrupted keeps that state.
func (w *SpoolWriter[T]) release() error {
	f := w.f
	w.f = nil
	w.size = 0
	w.unsynced = 0

	var err error
	if h, herr := readHeaderLocked(f); herr != nil || h.state == SegmentActive {
		err = writeState(f, SegmentCompleted)
	}
	err = errors.Join(err, f.Sync())
	return errors.Join(err, f.Close())
}

// Close completes the current segment. Further writes fail with ErrClosed.
func (w *SpoolWriter[T]) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if w.f == nil {
		return nil
	}
	return w.release()
}

// Dir returns the spool directory.
func (w *SpoolWriter[T]) Dir() string { return w.dir }

func (w *SpoolWriter[T]) debug(msg string, args ...any) {
	if !w.opts.Verbose {
		return
	}
	w.opts.Logger.Debug(msg, args...)
}
