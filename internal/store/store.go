// Package store implements the tiered stats store: a live snapshot buffer,
// an in-memory ring of recent consolidated entries, and an optional
// size-capped on-disk history.
package store

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nvalkyr/vigil/internal/errors"
	"github.com/nvalkyr/vigil/internal/history"
	"github.com/nvalkyr/vigil/internal/logging"
	"github.com/nvalkyr/vigil/internal/stats"
)

var log = logging.Component("store")

// Config configures a TieredStore.
type Config struct {
	// RecentHistorySize is the capacity of the in-memory ring.
	RecentHistorySize int

	// ConsolidationLimit is the window size that triggers consolidation.
	ConsolidationLimit int
}

// TieredStore ties the three storage tiers together behind a single writer.
// Record and ConsolidateIfDue are serialized by the writer mutex so the
// read-window-consolidate-append-clear sequence is atomic with respect to
// other writers; readers never take the writer mutex and operate on copies.
type TieredStore struct {
	writerMu sync.Mutex

	current *CurrentBuffer
	ring    *RecentRing
	history *history.Log // nil when persistence is disabled

	limit int

	lastConsolidation time.Time // writer-owned

	consolidations  atomic.Int64
	skipped         atomic.Int64
	persistFailures atomic.Int64
	degraded        atomic.Bool
}

// New creates a TieredStore. A nil historyLog disables the persisted tier;
// no disk I/O happens in that mode.
func New(cfg Config, historyLog *history.Log) *TieredStore {
	if cfg.RecentHistorySize <= 0 {
		cfg.RecentHistorySize = 1
	}
	if cfg.ConsolidationLimit <= 0 {
		cfg.ConsolidationLimit = 1
	}
	return &TieredStore{
		current:           NewCurrentBuffer(cfg.ConsolidationLimit),
		ring:              NewRecentRing(cfg.RecentHistorySize),
		history:           historyLog,
		limit:             cfg.ConsolidationLimit,
		lastConsolidation: time.Now(),
	}
}

// Record ingests one snapshot. When the window reaches the consolidation
// limit it is consolidated inline on the caller's goroutine, so a reader
// can never observe a window at or above the limit.
func (t *TieredStore) Record(snapshot stats.Snapshot) {
	t.writerMu.Lock()
	defer t.writerMu.Unlock()

	t.current.Record(snapshot)

	if t.current.WindowCount() >= t.limit {
		t.consolidateLocked(time.Now())
	}
}

// ConsolidateIfDue consolidates a non-empty window that has been
// accumulating for longer than maxAge, regardless of the count threshold.
// This bounds the staleness of the recent tier when sampling is slow or the
// limit is large.
func (t *TieredStore) ConsolidateIfDue(maxAge time.Duration) {
	if maxAge <= 0 {
		return
	}

	t.writerMu.Lock()
	defer t.writerMu.Unlock()

	if t.current.WindowCount() == 0 {
		return
	}

	now := time.Now()
	if now.Sub(t.lastConsolidation) >= maxAge {
		t.consolidateLocked(now)
	}
}

// consolidateLocked drains the window, reduces it, and appends the result to
// the ring and the persisted history. Caller holds writerMu.
func (t *TieredStore) consolidateLocked(now time.Time) {
	window := t.current.DrainWindow()

	entry, err := Consolidate(window, now)
	if err != nil {
		t.skipped.Add(1)
		if errors.Is(err, errors.ErrEmptyWindow) {
			log.Warn("consolidation skipped, empty window")
		} else {
			log.Error("consolidation failed", "error", err)
		}
		return
	}

	t.ring.Push(entry)
	t.lastConsolidation = now
	t.consolidations.Add(1)

	if t.history == nil {
		return
	}

	// A persistence failure degrades the disk tier only; the entry is
	// already in the ring and ingestion continues.
	if err := t.history.Append(entry); err != nil {
		t.persistFailures.Add(1)
		t.degraded.Store(true)
		log.Error("history append failed", "error", err)
		return
	}
	t.degraded.Store(false)
}

// LatestSnapshot returns a copy of the most recent raw snapshot. The second
// return value is false before the first recording.
func (t *TieredStore) LatestSnapshot() (stats.Snapshot, bool) {
	return t.current.Latest()
}

// RecentHistory returns the in-memory consolidated entries, oldest first.
func (t *TieredStore) RecentHistory() []stats.ConsolidatedEntry {
	return t.ring.Snapshot()
}

// PersistedHistory reads persisted entries in [from, to]; zero bounds are
// unbounded. Returns ErrHistoryDisabled when persistence is off.
func (t *TieredStore) PersistedHistory(from, to time.Time) ([]stats.ConsolidatedEntry, error) {
	if t.history == nil {
		return nil, errors.ErrHistoryDisabled
	}
	return t.history.Entries(from, to)
}

// WindowCount returns the number of snapshots awaiting consolidation.
func (t *TieredStore) WindowCount() int {
	return t.current.WindowCount()
}

// Status describes the store's tiers for health reporting.
type Status struct {
	HaveSnapshot    bool              `json:"haveSnapshot"`
	WindowCount     int               `json:"windowCount"`
	LastEntryAt     *time.Time        `json:"lastEntryAt,omitempty"`
	Ring            RingStats         `json:"ring"`
	Consolidations  int64             `json:"consolidations"`
	Skipped         int64             `json:"skipped"`
	PersistEnabled  bool              `json:"persistEnabled"`
	PersistDegraded bool              `json:"persistDegraded"`
	PersistFailures int64             `json:"persistFailures"`
	History         *history.LogStats `json:"history,omitempty"`
}

// Status returns a point-in-time view of the store.
func (t *TieredStore) Status() Status {
	_, have := t.current.Latest()

	s := Status{
		HaveSnapshot:    have,
		WindowCount:     t.current.WindowCount(),
		Ring:            t.ring.Stats(),
		Consolidations:  t.consolidations.Load(),
		Skipped:         t.skipped.Load(),
		PersistEnabled:  t.history != nil,
		PersistDegraded: t.degraded.Load(),
		PersistFailures: t.persistFailures.Load(),
	}
	if newest, ok := t.ring.Newest(); ok {
		ts := newest.Timestamp
		s.LastEntryAt = &ts
	}
	if t.history != nil {
		hs := t.history.Stats()
		s.History = &hs
	}
	return s
}

// Close flushes the final partial window and closes the history log.
func (t *TieredStore) Close() error {
	t.writerMu.Lock()
	if t.current.WindowCount() > 0 {
		t.consolidateLocked(time.Now())
	}
	t.writerMu.Unlock()

	if t.history != nil {
		return t.history.Close()
	}
	return nil
}
