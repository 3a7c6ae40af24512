package store

import (
	"sync"

	"github.com/nvalkyr/vigil/internal/stats"
)

// CurrentBuffer holds the most recent snapshot and the window of snapshots
// accumulated since the last consolidation. The window's backing array is
// allocated once at the consolidation limit and reused after each drain, so
// steady-state operation allocates nothing here.
//
// Mutations (Record, DrainWindow) are serialized by the TieredStore writer
// path; the internal lock exists so readers can take consistent copies
// without blocking that path for longer than the copy.
type CurrentBuffer struct {
	mu     sync.RWMutex
	latest *stats.Snapshot
	window []stats.Snapshot
}

// NewCurrentBuffer creates a buffer whose window holds up to limit snapshots.
func NewCurrentBuffer(limit int) *CurrentBuffer {
	if limit <= 0 {
		limit = 1
	}
	return &CurrentBuffer{
		window: make([]stats.Snapshot, 0, limit),
	}
}

// Record appends a snapshot to the window and replaces the latest pointer.
func (c *CurrentBuffer) Record(snapshot stats.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.window = append(c.window, snapshot)
	c.latest = &c.window[len(c.window)-1]
}

// Latest returns a copy of the most recent snapshot.
// The second return value is false before the first tick.
func (c *CurrentBuffer) Latest() (stats.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.latest == nil {
		return stats.Snapshot{}, false
	}
	return c.latest.Clone(), true
}

// WindowCount returns the number of snapshots accumulated since the last
// consolidation.
func (c *CurrentBuffer) WindowCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.window)
}

// DrainWindow returns the accumulated window and clears it for reuse.
// The returned slice is a copy; the latest snapshot survives the drain so
// Latest keeps answering between consolidations.
func (c *CurrentBuffer) DrainWindow() []stats.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.window) == 0 {
		return nil
	}

	drained := make([]stats.Snapshot, len(c.window))
	copy(drained, c.window)

	if c.latest != nil {
		kept := c.latest.Clone()
		c.latest = &kept
	}
	c.window = c.window[:0]

	return drained
}
