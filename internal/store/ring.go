package store

import (
	"sync"
	"sync/atomic"

	"github.com/nvalkyr/vigil/internal/stats"
)

// RecentRing is a thread-safe fixed-capacity ring of consolidated entries.
// When full, each push evicts exactly the oldest entry (strict FIFO, one in
// one out). Readers receive an immutable copy so a concurrent push is never
// observable mid-read.
type RecentRing struct {
	mu       sync.RWMutex
	data     []stats.ConsolidatedEntry
	head     int64 // Next write position
	tail     int64 // Oldest entry position
	count    int64
	capacity int64

	// Statistics
	pushCount  atomic.Int64
	evictCount atomic.Int64
}

// NewRecentRing creates a ring with the given capacity.
func NewRecentRing(capacity int) *RecentRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &RecentRing{
		data:     make([]stats.ConsolidatedEntry, capacity),
		capacity: int64(capacity),
	}
}

// Push appends an entry, evicting the oldest if the ring is full.
func (r *RecentRing) Push(entry stats.ConsolidatedEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count >= r.capacity {
		idx := r.tail % r.capacity
		r.data[idx] = stats.ConsolidatedEntry{} // Clear for GC
		r.tail++
		r.count--
		r.evictCount.Add(1)
	}

	idx := r.head % r.capacity
	r.data[idx] = entry
	r.head++
	r.count++
	r.pushCount.Add(1)
}

// Snapshot returns the current entries ordered oldest to newest.
// The returned slice and its entries are copies, safe to hold across
// concurrent pushes.
func (r *RecentRing) Snapshot() []stats.ConsolidatedEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.count == 0 {
		return nil
	}

	out := make([]stats.ConsolidatedEntry, r.count)
	for i := int64(0); i < r.count; i++ {
		idx := (r.tail + i) % r.capacity
		out[i] = r.data[idx].Clone()
	}
	return out
}

// Newest returns the most recently pushed entry.
func (r *RecentRing) Newest() (stats.ConsolidatedEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.count == 0 {
		return stats.ConsolidatedEntry{}, false
	}

	idx := (r.head - 1) % r.capacity
	return r.data[idx].Clone(), true
}

// Len returns the current number of entries.
func (r *RecentRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int(r.count)
}

// Cap returns the ring capacity.
func (r *RecentRing) Cap() int {
	return int(r.capacity)
}

// Stats returns ring statistics.
func (r *RecentRing) Stats() RingStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return RingStats{
		Capacity:   int(r.capacity),
		Count:      int(r.count),
		PushCount:  r.pushCount.Load(),
		EvictCount: r.evictCount.Load(),
	}
}

// RingStats holds ring statistics.
type RingStats struct {
	Capacity   int   `json:"capacity"`
	Count      int   `json:"count"`
	PushCount  int64 `json:"pushCount"`
	EvictCount int64 `json:"evictCount"`
}
