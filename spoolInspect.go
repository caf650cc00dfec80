package relog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// SegmentInfo describes one spool segment as found on disk.
type SegmentInfo struct {
	Index      uint64       `json:"index" yaml:"index"`
	Path       string       `json:"path" yaml:"path"`
	State      SegmentState `json:"state" yaml:"state"`
	Checkpoint int64        `json:"checkpoint" yaml:"checkpoint"`
	Size       int64        `json:"size" yaml:"size"`
	ValidEnd   int64        `json:"valid_end" yaml:"valid_end"`
	Records    int          `json:"records" yaml:"records"`
	Pending    int          `json:"pending" yaml:"pending"`

	// Damage is empty for a structurally sound segment.
	Damage string `json:"damage,omitempty" yaml:"damage,omitempty"`
}

// InspectSpool describes every segment in dir without modifying anything.
// It can run alongside a live writer and reader.
func InspectSpool(dir string) ([]SegmentInfo, error) {
	segs, err := listSegments(dir)
	if err != nil {
		return nil, err
	}
	infos := make([]SegmentInfo, 0, len(segs))
	for _, s := range segs {
		info, err := ScanSegment(s.path, nil)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				// consumed while we were looking
				continue
			}
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// ScanSegment describes the segment at path, calling fn with the payload of
// every complete record at or past the checkpoint. A segment with an
// unreadable header is reported with Damage set rather than as an error.
// An error returned by fn stops the scan and is returned.
func ScanSegment(path string, fn func(payload []byte) error) (SegmentInfo, error) {
	info := SegmentInfo{Path: path}
	if idx, ok := parseSegmentName(filepath.Base(path)); ok {
		info.Index = idx
	}

	f, err := os.Open(path)
	if err != nil {
		return info, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return info, err
	}
	info.Size = fi.Size()

	h, err := readHeaderLocked(f)
	if err != nil {
		if errors.Is(err, errBadHeader) {
			info.State = h.state
			info.Damage = err.Error()
			return info, nil
		}
		return info, err
	}
	info.State = h.state
	info.Checkpoint = h.checkpoint

	type record struct {
		off int64
		n   int32
	}
	var pending []record
	end, reason, err := scanRecords(f, headerSize, info.Size, h.state == SegmentActive, func(off int64, n int32) {
		info.Records++
		if off >= h.checkpoint {
			info.Pending++
			if fn != nil {
				pending = append(pending, record{off, n})
			}
		}
	})
	if err != nil {
		return info, fmt.Errorf("relog: failed to scan %s: %w", path, err)
	}
	info.ValidEnd = end
	info.Damage = reason

	for _, rec := range pending {
		payload := make([]byte, rec.n)
		if _, err := f.ReadAt(payload, rec.off+recordHeaderSize); err != nil {
			return info, err
		}
		if err := fn(payload); err != nil {
			return info, err
		}
	}
	return info, nil
}
