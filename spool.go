package relog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// On-disk layout of a spool directory.
//
// A spool is a directory of segment files named relLog_<index>. Each segment
// starts with a 9 byte header: one state byte followed by the little-endian
// int64 offset of the first record that has not been consumed. Records
// follow from offset 9, each a little-endian int32 payload size and the
// payload itself. A size of 0 marks a record that is still being written.
const (
	segmentPrefix    = "relLog_"
	tmpSuffix        = ".tmp"
	lockFileName     = ".lock"
	subDirPrefix     = "sub_"
	headerSize       = 9
	recordHeaderSize = 4
)

// SegmentState is the state byte stored at the start of every segment.
type SegmentState byte

const (
	// SegmentActive is being appended to by a writer.
	SegmentActive SegmentState = 0
	// SegmentCompleted will receive no more records.
	SegmentCompleted SegmentState = 1
	// SegmentCorrupted failed a structural check; only the records before
	// the damage are served.
	SegmentCorrupted SegmentState = 2
)

func (s SegmentState) String() string {
	switch s {
	case SegmentActive:
		return "active"
	case SegmentCompleted:
		return "completed"
	case SegmentCorrupted:
		return "corrupted"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// MarshalText lets SegmentState render by name in JSON and YAML output.
func (s SegmentState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var errBadHeader = errors.New("relog: unreadable segment header")

type segmentHeader struct {
	state      SegmentState
	checkpoint int64
}

func (h segmentHeader) encode() []byte {
	b := make([]byte, headerSize)
	b[0] = byte(h.state)
	binary.LittleEndian.PutUint64(b[1:], uint64(h.checkpoint))
	return b
}

func readHeader(f io.ReaderAt) (segmentHeader, error) {
	b := make([]byte, headerSize)
	if _, err := f.ReadAt(b, 0); err != nil {
		if errors.Is(err, io.EOF) {
			return segmentHeader{}, fmt.Errorf("%w: short header", errBadHeader)
		}
		return segmentHeader{}, err
	}
	h := segmentHeader{
		state:      SegmentState(b[0]),
		checkpoint: int64(binary.LittleEndian.Uint64(b[1:])),
	}
	if h.state > SegmentCorrupted {
		return h, fmt.Errorf("%w: state byte %d", errBadHeader, b[0])
	}
	if h.checkpoint < headerSize {
		return h, fmt.Errorf("%w: checkpoint %d", errBadHeader, h.checkpoint)
	}
	return h, nil
}

// readHeaderLocked reads the header while holding the byte-range lock.
func readHeaderLocked(f *os.File) (segmentHeader, error) {
	if err := lockHeader(f, false); err != nil {
		return segmentHeader{}, err
	}
	defer unlockHeader(f)
	return readHeader(f)
}

func writeState(f *os.File, s SegmentState) error {
	if err := lockHeader(f, true); err != nil {
		return err
	}
	defer unlockHeader(f)
	_, err := f.WriteAt([]byte{byte(s)}, 0)
	return err
}

func writeCheckpoint(f *os.File, off int64) error {
	if err := lockHeader(f, true); err != nil {
		return err
	}
	defer unlockHeader(f)
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(off))
	_, err := f.WriteAt(b[:], 1)
	return err
}

func segmentName(index uint64) string {
	return segmentPrefix + strconv.FormatUint(index, 10)
}

// parseSegmentName reports the index of a segment file name. Anything but
// relLog_ followed by decimal digits is rejected.
func parseSegmentName(name string) (uint64, bool) {
	digits, ok := strings.CutPrefix(name, segmentPrefix)
	if !ok || len(digits) == 0 {
		return 0, false
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	idx, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return idx, true
}

type segmentFile struct {
	index uint64
	path  string
}

// listSegments returns the segments in dir ordered by ascending index.
func listSegments(dir string) ([]segmentFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	segs := make([]segmentFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		idx, ok := parseSegmentName(e.Name())
		if !ok {
			continue
		}
		segs = append(segs, segmentFile{index: idx, path: filepath.Join(dir, e.Name())})
	}
	slices.SortFunc(segs, func(a, b segmentFile) int {
		switch {
		case a.index < b.index:
			return -1
		case a.index > b.index:
			return 1
		}
		return 0
	})
	return segs, nil
}

// createSegment writes a fresh Active header to a temporary file and renames
// it into place, so a segment is never visible without its header.
func createSegment(dir string, index uint64) (*os.File, error) {
	path := filepath.Join(dir, segmentName(index))
	tmp := path + tmpSuffix

	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	hdr := segmentHeader{state: SegmentActive, checkpoint: headerSize}
	if _, err = f.WriteAt(hdr.encode(), 0); err == nil {
		err = f.Sync()
	}
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, err
	}
	return f, nil
}

// scanRecords walks the records of a segment from offset from up to size,
// calling visit for every complete record. It returns the end offset of
// the last complete record. A non-empty reason means the segment is
// structurally damaged at end.
//
// An incomplete trailing record is accepted only when active is set, since
// a live writer may be in the middle of appending it.
func scanRecords(r io.ReaderAt, from, size int64, active bool, visit func(off int64, n int32)) (end int64, reason string, err error) {
	var b [recordHeaderSize]byte
	pos := from
	for pos < size {
		if size-pos < recordHeaderSize {
			if active {
				return pos, "", nil
			}
			return pos, "truncated record header", nil
		}
		if _, err := r.ReadAt(b[:], pos); err != nil {
			return pos, "", err
		}
		n := int32(binary.LittleEndian.Uint32(b[:]))
		switch {
		case n == 0:
			if active {
				return pos, "", nil
			}
			return pos, "incomplete record", nil
		case n < 0:
			return pos, fmt.Sprintf("negative record size %d", n), nil
		case pos+recordHeaderSize+int64(n) > size:
			return pos, fmt.Sprintf("record size %d past end of file", n), nil
		}
		if visit != nil {
			visit(pos, n)
		}
		pos += recordHeaderSize + int64(n)
	}
	return pos, "", nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
