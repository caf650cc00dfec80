package relog

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietSpoolOptions() *SpoolOptions {
	return &SpoolOptions{Logger: discardLogger{}}
}

func newTestSpool(t *testing.T, dir string, opts *SpoolOptions) (*SpoolWriter[*Event], *SpoolReader[*Event]) {
	t.Helper()
	if opts == nil {
		opts = quietSpoolOptions()
	}
	w, err := NewSpoolWriter[*Event](dir, nil, opts)
	require.NoError(t, err)
	r, err := NewSpoolReader[*Event](dir, nil, opts)
	require.NoError(t, err)
	return w, r
}

func testEvents(n int) []*Event {
	evs := make([]*Event, n)
	for i := range evs {
		evs[i] = &Event{
			ID:      fmt.Sprintf("ev-%03d", i),
			Level:   InfoLevel,
			Message: fmt.Sprintf("message %d", i),
		}
	}
	return evs
}

// readAll drains r, completing every record, and returns the IDs in order.
func readAll(t *testing.T, r *SpoolReader[*Event]) []string {
	t.Helper()
	var ids []string
	for {
		e, ok, err := r.GetRecord()
		require.NoError(t, err)
		if !ok {
			return ids
		}
		ids = append(ids, e.ID)
		require.NoError(t, r.RecordCompleted())
	}
}

func eventIDs(evs []*Event) []string {
	ids := make([]string, len(evs))
	for i, e := range evs {
		ids[i] = e.ID
	}
	return ids
}

func segmentCount(t *testing.T, dir string) int {
	t.Helper()
	segs, err := listSegments(dir)
	require.NoError(t, err)
	return len(segs)
}

func TestParseSegmentName(t *testing.T) {
	tests := []struct {
		name string
		idx  uint64
		ok   bool
	}{
		{"relLog_0", 0, true},
		{"relLog_42", 42, true},
		{"relLog_", 0, false},
		{"relLog_1.tmp", 0, false},
		{"relLog_-1", 0, false},
		{"rellog_1", 0, false},
		{".lock", 0, false},
	}
	for _, tt := range tests {
		idx, ok := parseSegmentName(tt.name)
		assert.Equal(t, tt.ok, ok, tt.name)
		assert.Equal(t, tt.idx, idx, tt.name)
	}
}

func TestSpool_HeaderLayout(t *testing.T) {
	dir := t.TempDir()
	w, _ := newTestSpool(t, dir, nil)
	require.NoError(t, w.Write(testEvents(1)[0], true))

	b, err := os.ReadFile(filepath.Join(dir, "relLog_0"))
	require.NoError(t, err)
	require.Greater(t, len(b), headerSize+recordHeaderSize)

	assert.Equal(t, byte(SegmentActive), b[0])
	assert.Equal(t, uint64(headerSize), binary.LittleEndian.Uint64(b[1:9]))
	n := binary.LittleEndian.Uint32(b[9:13])
	assert.Equal(t, len(b)-headerSize-recordHeaderSize, int(n))

	require.NoError(t, w.Close())
	b, err = os.ReadFile(filepath.Join(dir, "relLog_0"))
	require.NoError(t, err)
	assert.Equal(t, byte(SegmentCompleted), b[0])
}

func TestSpool_RoundTripAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	evs := testEvents(25)

	w, r := newTestSpool(t, dir, nil)
	for _, e := range evs {
		require.NoError(t, w.Write(e, false))
	}
	require.NoError(t, w.Close())
	require.NoError(t, r.Close())

	// a fresh reader simulates a restart
	_, r2 := newTestSpool(t, dir, nil)
	defer r2.Close()
	assert.Equal(t, eventIDs(evs), readAll(t, r2))
	assert.Equal(t, 0, segmentCount(t, dir))
}

func TestSpool_ResumesFromCheckpoint(t *testing.T) {
	dir := t.TempDir()
	evs := testEvents(10)

	w, r := newTestSpool(t, dir, nil)
	for _, e := range evs {
		require.NoError(t, w.Write(e, false))
	}
	require.NoError(t, w.Close())

	for i := 0; i < 4; i++ {
		_, ok, err := r.GetRecord()
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, r.RecordCompleted())
	}

	// fetched but never completed: must come back after a restart
	e, ok, err := r.GetRecord()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ev-004", e.ID)
	require.NoError(t, r.Close())

	_, r2 := newTestSpool(t, dir, nil)
	defer r2.Close()
	assert.Equal(t, eventIDs(evs[4:]), readAll(t, r2))
}

func TestSpool_WriterCompletesAbandonedSegments(t *testing.T) {
	dir := t.TempDir()
	w, _ := newTestSpool(t, dir, nil)
	require.NoError(t, w.Write(testEvents(1)[0], true))
	// no Close: the segment stays Active as after a crash

	w2, err := NewSpoolWriter[*Event](dir, nil, quietSpoolOptions())
	require.NoError(t, err)

	f, err := os.Open(filepath.Join(dir, "relLog_0"))
	require.NoError(t, err)
	defer f.Close()
	h, err := readHeader(f)
	require.NoError(t, err)
	assert.Equal(t, SegmentCompleted, h.state)

	require.NoError(t, w2.Write(testEvents(1)[0], true))
	_, err = os.Stat(filepath.Join(dir, "relLog_1"))
	assert.NoError(t, err)
	require.NoError(t, w2.Close())
}

func TestSpool_IdempotentRead(t *testing.T) {
	dir := t.TempDir()
	w, r := newTestSpool(t, dir, nil)
	defer r.Close()
	for _, e := range testEvents(3) {
		require.NoError(t, w.Write(e, false))
	}

	first, ok, err := r.GetRecord()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, r.Pending())

	for i := 0; i < 5; i++ {
		again, ok, err := r.GetRecord()
		require.NoError(t, err)
		require.True(t, ok)
		assert.Same(t, first, again)
	}

	require.NoError(t, r.RecordCompleted())
	assert.False(t, r.Pending())
	assert.ErrorIs(t, r.RecordCompleted(), ErrNoRecord)

	next, ok, err := r.GetRecord()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ev-001", next.ID)
	require.NoError(t, w.Close())
}

func TestSpool_ReaderFollowsLiveWriter(t *testing.T) {
	dir := t.TempDir()
	w, r := newTestSpool(t, dir, nil)
	defer r.Close()

	_, ok, err := r.GetRecord()
	require.NoError(t, err)
	assert.False(t, ok)

	evs := testEvents(6)
	for _, e := range evs[:3] {
		require.NoError(t, w.Write(e, false))
	}
	assert.Equal(t, eventIDs(evs[:3]), readAll(t, r))

	// the active segment is kept while the writer may still append
	assert.Equal(t, 1, segmentCount(t, dir))

	for _, e := range evs[3:] {
		require.NoError(t, w.Write(e, false))
	}
	assert.Equal(t, eventIDs(evs[3:]), readAll(t, r))

	require.NoError(t, w.Close())
	_, ok, err = r.GetRecord()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, segmentCount(t, dir))
}

func TestSpool_Rollover(t *testing.T) {
	dir := t.TempDir()
	opts := quietSpoolOptions()
	opts.MaxSegmentSize = 256
	w, r := newTestSpool(t, dir, opts)
	defer r.Close()

	evs := testEvents(40)
	for _, e := range evs {
		require.NoError(t, w.Write(e, false))
	}
	require.NoError(t, w.Close())
	assert.Greater(t, segmentCount(t, dir), 2)

	assert.Equal(t, eventIDs(evs), readAll(t, r))
	assert.Equal(t, 0, segmentCount(t, dir))
}

func TestSpool_CorruptionContainment(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(t *testing.T, path string, ends []int64)
		want    int
	}{
		{
			name: "truncated mid-record",
			corrupt: func(t *testing.T, path string, ends []int64) {
				require.NoError(t, os.Truncate(path, ends[6]-3))
			},
			want: 6,
		},
		{
			name: "truncated mid-size-header",
			corrupt: func(t *testing.T, path string, ends []int64) {
				require.NoError(t, os.Truncate(path, ends[6]+2))
			},
			want: 7,
		},
		{
			name: "negative record size",
			corrupt: func(t *testing.T, path string, ends []int64) {
				f, err := os.OpenFile(path, os.O_RDWR, 0)
				require.NoError(t, err)
				defer f.Close()
				_, err = f.WriteAt([]byte{0xff, 0xff, 0xff, 0xff}, ends[3])
				require.NoError(t, err)
			},
			want: 4,
		},
		{
			name: "undecodable payload",
			corrupt: func(t *testing.T, path string, ends []int64) {
				f, err := os.OpenFile(path, os.O_RDWR, 0)
				require.NoError(t, err)
				defer f.Close()
				// 0xc1 is never used in msgpack
				_, err = f.WriteAt([]byte{0xc1}, ends[2]+recordHeaderSize)
				require.NoError(t, err)
			},
			want: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			evs := testEvents(10)
			w, r := newTestSpool(t, dir, nil)
			defer r.Close()

			ends := make([]int64, len(evs))
			for i, e := range evs {
				require.NoError(t, w.Write(e, false))
				ends[i] = w.size
			}
			require.NoError(t, w.Close())

			path := filepath.Join(dir, "relLog_0")
			tt.corrupt(t, path, ends)

			assert.Equal(t, eventIDs(evs[:tt.want]), readAll(t, r))
			assert.Equal(t, 0, segmentCount(t, dir))
		})
	}
}

func TestSpool_CorruptSegmentDoesNotAffectOthers(t *testing.T) {
	dir := t.TempDir()
	opts := quietSpoolOptions()
	opts.MaxSegmentSize = 128
	w, r := newTestSpool(t, dir, opts)
	defer r.Close()

	evs := testEvents(12)
	for _, e := range evs {
		require.NoError(t, w.Write(e, false))
	}
	require.NoError(t, w.Close())
	segs, err := listSegments(dir)
	require.NoError(t, err)
	require.Greater(t, len(segs), 2)

	first, err := ScanSegment(segs[0].path, nil)
	require.NoError(t, err)
	require.Positive(t, first.Records)

	// damage the header of the first segment beyond repair
	require.NoError(t, os.WriteFile(segs[0].path, []byte{9, 9, 9}, 0o644))

	assert.Equal(t, eventIDs(evs[first.Records:]), readAll(t, r))
	assert.Equal(t, 0, segmentCount(t, dir))
}

func TestSpool_ClosedOperations(t *testing.T) {
	dir := t.TempDir()
	w, r := newTestSpool(t, dir, nil)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	assert.ErrorIs(t, w.Write(testEvents(1)[0], false), ErrClosed)
	_, _, err := r.GetRecord()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, r.RecordCompleted(), ErrClosed)
}

func TestInspectSpool(t *testing.T) {
	dir := t.TempDir()
	w, r := newTestSpool(t, dir, nil)
	defer r.Close()

	for _, e := range testEvents(5) {
		require.NoError(t, w.Write(e, false))
	}
	for i := 0; i < 2; i++ {
		_, _, err := r.GetRecord()
		require.NoError(t, err)
		require.NoError(t, r.RecordCompleted())
	}

	infos, err := InspectSpool(dir)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	info := infos[0]
	assert.Equal(t, uint64(0), info.Index)
	assert.Equal(t, SegmentActive, info.State)
	assert.Equal(t, 5, info.Records)
	assert.Equal(t, 3, info.Pending)
	assert.Equal(t, info.Size, info.ValidEnd)
	assert.Empty(t, info.Damage)

	var ids []string
	codec := MsgpackCodec[*Event]{}
	_, err = ScanSegment(info.Path, func(payload []byte) error {
		e, err := codec.Unmarshal(payload)
		if err != nil {
			return err
		}
		ids = append(ids, e.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ev-002", "ev-003", "ev-004"}, ids)
	require.NoError(t, w.Close())
}

func TestFindNotLockedDirectory(t *testing.T) {
	dir := t.TempDir()

	first, err := FindNotLockedDirectory(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, first.Dir)

	second, err := FindNotLockedDirectory(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sub_1"), second.Dir)

	third, err := FindNotLockedDirectory(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sub_2"), third.Dir)

	// a released sub directory is reused before a new one is created
	require.NoError(t, second.Release())
	require.NoError(t, second.Release())
	again, err := FindNotLockedDirectory(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sub_1"), again.Dir)

	require.NoError(t, first.Release())
	top, err := FindNotLockedDirectory(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, top.Dir)

	for _, l := range []*DirLock{third, again, top} {
		require.NoError(t, l.Release())
	}
}

func TestFindNotLockedDirectory_Concurrent(t *testing.T) {
	dir := t.TempDir()

	results := make(chan *DirLock, 2)
	for i := 0; i < 2; i++ {
		go func() {
			l, err := FindNotLockedDirectory(dir)
			if err != nil {
				results <- nil
				return
			}
			results <- l
		}()
	}
	a, b := <-results, <-results
	require.NotNil(t, a)
	require.NotNil(t, b)
	defer a.Release()
	defer b.Release()

	got := []string{a.Dir, b.Dir}
	assert.ElementsMatch(t, []string{dir, filepath.Join(dir, "sub_1")}, got)
}

func TestLockDirectory(t *testing.T) {
	dir := t.TempDir()

	l, err := LockDirectory(dir)
	require.NoError(t, err)

	_, err = LockDirectory(dir)
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, l.Release())
	l, err = LockDirectory(dir)
	require.NoError(t, err)
	require.NoError(t, l.Release())

	_, err = LockDirectory(filepath.Join(dir, "missing"))
	require.Error(t, err)
}
