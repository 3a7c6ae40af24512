package store

import (
	"testing"
	"time"

	"github.com/nvalkyr/vigil/internal/errors"
	"github.com/nvalkyr/vigil/internal/history"
	"github.com/nvalkyr/vigil/internal/stats"
)

func newTestStore(t *testing.T, limit int, withHistory bool) *TieredStore {
	t.Helper()

	var h *history.Log
	if withHistory {
		var err error
		h, err = history.Open(t.TempDir(), history.Options{
			MaxTotalBytes:   1024 * 1024,
			MaxSegmentBytes: 64 * 1024,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	st := New(Config{RecentHistorySize: 10, ConsolidationLimit: limit}, h)
	t.Cleanup(func() { st.Close() })
	return st
}

func loadSnapshot(load float64) stats.Snapshot {
	return stats.Snapshot{
		CPU:            stats.CPUStats{AggregateLoadPercent: &load},
		CollectionTime: time.Now(),
	}
}

func TestStoreConsolidatesAtLimit(t *testing.T) {
	st := newTestStore(t, 3, false)

	for i := 0; i < 7; i++ {
		st.Record(loadSnapshot(float64(i * 10)))
	}

	// 7 snapshots at limit 3: two consolidations, one snapshot pending.
	entries := st.RecentHistory()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if st.WindowCount() != 1 {
		t.Errorf("window = %d, want 1", st.WindowCount())
	}

	// First entry covers loads 0, 10, 20.
	if got := *entries[0].CPU.AggregateLoadPercent; !approxEqual(got, 10) {
		t.Errorf("first entry load = %v, want 10", got)
	}
	if entries[0].SampleCount != 3 {
		t.Errorf("sample count = %d, want 3", entries[0].SampleCount)
	}
}

func TestStoreLatestSurvivesConsolidation(t *testing.T) {
	st := newTestStore(t, 2, false)

	st.Record(loadSnapshot(10))
	st.Record(loadSnapshot(20)) // Triggers consolidation

	snapshot, ok := st.LatestSnapshot()
	if !ok {
		t.Fatal("no latest snapshot after consolidation")
	}
	if got := *snapshot.CPU.AggregateLoadPercent; !approxEqual(got, 20) {
		t.Errorf("latest load = %v, want 20", got)
	}
}

func TestStoreStatusReportsNewestEntry(t *testing.T) {
	st := newTestStore(t, 2, false)

	if status := st.Status(); status.LastEntryAt != nil {
		t.Error("LastEntryAt set before any consolidation")
	}

	st.Record(loadSnapshot(1))
	st.Record(loadSnapshot(2)) // Triggers consolidation

	status := st.Status()
	if status.LastEntryAt == nil {
		t.Fatal("LastEntryAt missing after consolidation")
	}
	newest, ok := st.ring.Newest()
	if !ok {
		t.Fatal("ring empty after consolidation")
	}
	if !status.LastEntryAt.Equal(newest.Timestamp) {
		t.Errorf("LastEntryAt = %v, want %v", status.LastEntryAt, newest.Timestamp)
	}
}

func TestStoreNoSnapshotBeforeFirstRecord(t *testing.T) {
	st := newTestStore(t, 3, false)

	if _, ok := st.LatestSnapshot(); ok {
		t.Error("LatestSnapshot returned ok before first record")
	}
	if status := st.Status(); status.HaveSnapshot {
		t.Error("status claims a snapshot before first record")
	}
}

func TestStorePersistsConsolidatedEntries(t *testing.T) {
	st := newTestStore(t, 2, true)

	for i := 0; i < 4; i++ {
		st.Record(loadSnapshot(float64(i)))
	}

	persisted, err := st.PersistedHistory(time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(persisted) != 2 {
		t.Fatalf("persisted = %d, want 2", len(persisted))
	}

	// Ring and disk hold the same entries.
	ring := st.RecentHistory()
	for i := range persisted {
		if !persisted[i].Timestamp.Equal(ring[i].Timestamp) {
			t.Errorf("entry %d: disk %v != ring %v",
				i, persisted[i].Timestamp, ring[i].Timestamp)
		}
	}
}

func TestStorePersistenceDisabled(t *testing.T) {
	st := newTestStore(t, 2, false)

	st.Record(loadSnapshot(1))
	st.Record(loadSnapshot(2))

	if _, err := st.PersistedHistory(time.Time{}, time.Time{}); !errors.Is(err, errors.ErrHistoryDisabled) {
		t.Fatalf("err = %v, want ErrHistoryDisabled", err)
	}

	if status := st.Status(); status.PersistEnabled {
		t.Error("status claims persistence is enabled")
	}
	// The in-memory tiers still work.
	if len(st.RecentHistory()) != 1 {
		t.Error("ring did not receive the consolidated entry")
	}
}

func TestStoreRingKeepsEntryWhenPersistFails(t *testing.T) {
	dir := t.TempDir()
	h, err := history.Open(dir, history.Options{
		MaxTotalBytes:   1024 * 1024,
		MaxSegmentBytes: 64 * 1024,
	})
	if err != nil {
		t.Fatal(err)
	}

	st := New(Config{RecentHistorySize: 10, ConsolidationLimit: 2}, h)

	// Closing the log makes every append fail.
	h.Close()

	st.Record(loadSnapshot(1))
	st.Record(loadSnapshot(2))

	if len(st.RecentHistory()) != 1 {
		t.Fatal("ring lost the entry when persistence failed")
	}

	status := st.Status()
	if !status.PersistDegraded {
		t.Error("status not marked degraded")
	}
	if status.PersistFailures != 1 {
		t.Errorf("persist failures = %d, want 1", status.PersistFailures)
	}
}

func TestStoreConsolidateIfDue(t *testing.T) {
	st := newTestStore(t, 100, false)
	st.Record(loadSnapshot(5))

	// Window far below the limit but old enough.
	st.lastConsolidation = time.Now().Add(-2 * time.Minute)
	st.ConsolidateIfDue(time.Minute)

	if len(st.RecentHistory()) != 1 {
		t.Fatal("age-based consolidation did not run")
	}
	if st.WindowCount() != 0 {
		t.Errorf("window = %d, want 0", st.WindowCount())
	}
}

func TestStoreConsolidateIfDueEmptyWindow(t *testing.T) {
	st := newTestStore(t, 100, false)

	st.lastConsolidation = time.Now().Add(-2 * time.Minute)
	st.ConsolidateIfDue(time.Minute)

	if len(st.RecentHistory()) != 0 {
		t.Error("consolidation fabricated an entry from an empty window")
	}
	if status := st.Status(); status.Skipped != 0 {
		t.Errorf("skipped = %d, want 0 (empty window is not drained)", status.Skipped)
	}
}

func TestStoreCloseFlushesPartialWindow(t *testing.T) {
	dir := t.TempDir()
	h, err := history.Open(dir, history.Options{
		MaxTotalBytes:   1024 * 1024,
		MaxSegmentBytes: 64 * 1024,
	})
	if err != nil {
		t.Fatal(err)
	}

	st := New(Config{RecentHistorySize: 10, ConsolidationLimit: 100}, h)
	st.Record(loadSnapshot(7))

	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopen the directory and confirm the flushed entry is there.
	reopened, err := history.Open(dir, history.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	entries, err := reopened.Entries(time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
}
