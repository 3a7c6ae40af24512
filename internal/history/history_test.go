package history

import (
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nvalkyr/vigil/internal/errors"
	"github.com/nvalkyr/vigil/internal/stats"
)

func testEntry(sec int) stats.ConsolidatedEntry {
	load := float64(sec)
	return stats.ConsolidatedEntry{
		CPU:         stats.CPUStats{AggregateLoadPercent: &load},
		Timestamp:   time.Date(2026, 8, 25, 12, 0, sec, 0, time.UTC),
		SampleCount: 6,
	}
}

func mustOpen(t *testing.T, dir string, opts Options) *Log {
	t.Helper()
	l, err := Open(dir, opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestAppendAndReadBack(t *testing.T) {
	l := mustOpen(t, t.TempDir(), Options{})

	for i := 0; i < 5; i++ {
		if err := l.Append(testEntry(i)); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := l.Entries(time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 5 {
		t.Fatalf("entries = %d, want 5", len(entries))
	}
	for i, e := range entries {
		if !e.Timestamp.Equal(testEntry(i).Timestamp) {
			t.Errorf("entry %d timestamp = %v, want %v", i, e.Timestamp, testEntry(i).Timestamp)
		}
		if *e.CPU.AggregateLoadPercent != float64(i) {
			t.Errorf("entry %d load = %v, want %d", i, *e.CPU.AggregateLoadPercent, i)
		}
	}
}

func TestSegmentRotation(t *testing.T) {
	// Tiny rotation size: every record forces a new segment.
	l := mustOpen(t, t.TempDir(), Options{
		MaxTotalBytes:   1024 * 1024,
		MaxSegmentBytes: 64,
	})

	for i := 0; i < 3; i++ {
		if err := l.Append(testEntry(i)); err != nil {
			t.Fatal(err)
		}
	}

	st := l.Stats()
	if st.Segments < 3 {
		t.Errorf("segments = %d, want at least 3", st.Segments)
	}

	entries, err := l.Entries(time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
}

func TestOldestSegmentsEvictedUnderByteCap(t *testing.T) {
	dir := t.TempDir()
	l := mustOpen(t, dir, Options{
		MaxTotalBytes:   2048,
		MaxSegmentBytes: 512,
	})

	for i := 0; i < 50; i++ {
		if err := l.Append(testEntry(i)); err != nil {
			t.Fatal(err)
		}
	}

	if total := l.TotalBytes(); total > 2048+512 {
		t.Errorf("total = %d bytes, expected near the 2048 cap", total)
	}

	st := l.Stats()
	if st.SegmentsEvicted == 0 {
		t.Error("no segments were evicted")
	}

	// Survivors are the newest entries, contiguous to the end.
	entries, err := l.Entries(time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 || len(entries) == 50 {
		t.Fatalf("entries = %d, want a proper suffix of the 50 written", len(entries))
	}
	last := testEntry(49).Timestamp
	if !entries[len(entries)-1].Timestamp.Equal(last) {
		t.Error("newest entry was evicted")
	}
	for i := 1; i < len(entries); i++ {
		if !entries[i].Timestamp.After(entries[i-1].Timestamp) {
			t.Error("surviving entries are not in chronological order")
		}
	}
}

func TestReopenContinuesSequence(t *testing.T) {
	dir := t.TempDir()

	l, err := Open(dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Append(testEntry(0)); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	reopened := mustOpen(t, dir, Options{})
	if err := reopened.Append(testEntry(1)); err != nil {
		t.Fatal(err)
	}

	entries, err := reopened.Entries(time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2 across restart", len(entries))
	}
}

func TestTruncatedTailSkipped(t *testing.T) {
	dir := t.TempDir()

	l, err := Open(dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Append(testEntry(0)); err != nil {
		t.Fatal(err)
	}
	if err := l.Append(testEntry(1)); err != nil {
		t.Fatal(err)
	}
	path := l.activePath
	size := l.activeSize
	l.Close()

	// Chop mid-record, as a crash during the second write would.
	if err := os.Truncate(path, size-5); err != nil {
		t.Fatal(err)
	}

	reopened := mustOpen(t, dir, Options{})
	entries, err := reopened.Entries(time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1 (intact record before the torn tail)", len(entries))
	}

	if st := reopened.Stats(); st.CorruptRecords == 0 {
		t.Error("corrupt record not counted")
	}
}

func TestCorruptedPayloadSkipped(t *testing.T) {
	dir := t.TempDir()

	l, err := Open(dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Append(testEntry(0)); err != nil {
		t.Fatal(err)
	}
	path := l.activePath
	l.Close()

	// Flip a payload byte so the checksum no longer matches.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	reopened := mustOpen(t, dir, Options{})
	entries, err := reopened.Entries(time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries = %d, want 0", len(entries))
	}
}

func TestUnreadableSegmentDoesNotEndScan(t *testing.T) {
	dir := t.TempDir()
	l := mustOpen(t, dir, Options{
		MaxTotalBytes:   1024 * 1024,
		MaxSegmentBytes: 64, // Each entry in its own segment
	})

	for i := 0; i < 3; i++ {
		if err := l.Append(testEntry(i)); err != nil {
			t.Fatal(err)
		}
	}

	// Damage the middle sealed segment's payload.
	middle := l.sealed[1].path
	data, err := os.ReadFile(middle)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(middle, data, 0644); err != nil {
		t.Fatal(err)
	}

	entries, err := l.Entries(time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2 (segments before and after the damaged one)", len(entries))
	}
}

func TestReadRangeFilters(t *testing.T) {
	l := mustOpen(t, t.TempDir(), Options{})

	for i := 0; i < 10; i++ {
		if err := l.Append(testEntry(i)); err != nil {
			t.Fatal(err)
		}
	}

	from := testEntry(3).Timestamp
	to := testEntry(6).Timestamp

	entries, err := l.Entries(from, to)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 4 {
		t.Fatalf("entries = %d, want 4 (bounds inclusive)", len(entries))
	}
	if !entries[0].Timestamp.Equal(from) || !entries[3].Timestamp.Equal(to) {
		t.Errorf("range = [%v, %v], want [%v, %v]",
			entries[0].Timestamp, entries[3].Timestamp, from, to)
	}
}

func TestAppendAfterClose(t *testing.T) {
	l, err := Open(t.TempDir(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	l.Close()

	if err := l.Append(testEntry(0)); !errors.Is(err, errors.ErrHistoryClosed) {
		t.Fatalf("err = %v, want ErrHistoryClosed", err)
	}
}

func TestIteratorIgnoresWritesAfterCreation(t *testing.T) {
	l := mustOpen(t, t.TempDir(), Options{})

	if err := l.Append(testEntry(0)); err != nil {
		t.Fatal(err)
	}

	it, err := l.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()

	// Written after the iterator captured the committed length.
	if err := l.Append(testEntry(1)); err != nil {
		t.Fatal(err)
	}

	count := 0
	for it.Next() {
		count++
	}
	if err := it.Err(); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("iterator saw %d entries, want 1", count)
	}
}

func TestOpenEvictsWhenAlreadyOverBudget(t *testing.T) {
	dir := t.TempDir()

	l := mustOpen(t, dir, Options{
		MaxTotalBytes:   1024 * 1024,
		MaxSegmentBytes: 64, // Each entry in its own segment
	})
	for i := 0; i < 5; i++ {
		if err := l.Append(testEntry(i)); err != nil {
			t.Fatal(err)
		}
	}
	l.Close()

	// Reopen with a cap the existing segments already exceed.
	reopened := mustOpen(t, dir, Options{
		MaxTotalBytes:   300,
		MaxSegmentBytes: 64,
	})

	if total := reopened.TotalBytes(); total > 300+64 {
		t.Errorf("total after reopen = %d bytes, want reclaimed near the 300 cap", total)
	}
	if st := reopened.Stats(); st.SegmentsEvicted == 0 {
		t.Error("no segments evicted at open")
	}

	// Survivors are the newest entries, still readable.
	entries, err := reopened.Entries(time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 || len(entries) == 5 {
		t.Fatalf("entries = %d, want a proper suffix of the 5 written", len(entries))
	}
	if !entries[len(entries)-1].Timestamp.Equal(testEntry(4).Timestamp) {
		t.Error("newest entry was evicted")
	}
}

func TestIteratorSkipsSegmentEvictedMidRead(t *testing.T) {
	l := mustOpen(t, t.TempDir(), Options{
		MaxTotalBytes:   1024 * 1024,
		MaxSegmentBytes: 64, // Each entry in its own segment
	})

	for i := 0; i < 4; i++ {
		if err := l.Append(testEntry(i)); err != nil {
			t.Fatal(err)
		}
	}

	it, err := l.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()

	// The oldest sealed segment is evicted after the iterator captured its
	// sources but before it opened the file.
	if err := os.Remove(l.sealed[0].path); err != nil {
		t.Fatal(err)
	}

	var got []stats.ConsolidatedEntry
	for it.Next() {
		got = append(got, it.Entry())
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error = %v, want nil (missing segment is skipped)", err)
	}
	if len(got) != 3 {
		t.Fatalf("entries = %d, want 3 from the surviving segments", len(got))
	}
	if !got[0].Timestamp.Equal(testEntry(1).Timestamp) {
		t.Errorf("first surviving entry = %v, want %v", got[0].Timestamp, testEntry(1).Timestamp)
	}
}

func TestBadMagicRejected(t *testing.T) {
	dir := t.TempDir()

	// A foreign file with the segment naming convention.
	path := filepath.Join(dir, "0000000000000000.seg")
	garbage := make([]byte, 64)
	binary.LittleEndian.PutUint32(garbage[12:16], crc32.ChecksumIEEE(nil))
	if err := os.WriteFile(path, garbage, 0644); err != nil {
		t.Fatal(err)
	}

	l := mustOpen(t, dir, Options{})

	entries, err := l.Entries(time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries = %d, want 0", len(entries))
	}
	if st := l.Stats(); st.CorruptRecords == 0 {
		t.Error("bad segment not counted as corrupt")
	}
}
