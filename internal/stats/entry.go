package stats

import "time"

// ConsolidatedEntry is the reduction of a window of snapshots into one
// aggregate. It carries the same field set as Snapshot; each field is
// derived per the consolidation policy (means for loads and memory, last
// snapshot for filesystems and uptime, deltas for network counters).
type ConsolidatedEntry struct {
	General     GeneralStats `json:"general"`
	CPU         CPUStats     `json:"cpu"`
	Memory      *MemoryStats `json:"memory,omitempty"`
	Filesystems []MountStats `json:"filesystems,omitempty"`
	Network     NetworkStats `json:"network"`

	// Timestamp is when the consolidation was performed (end of window).
	Timestamp time.Time `json:"timestamp"`
	// SampleCount is the number of snapshots reduced into this entry.
	SampleCount int `json:"sampleCount"`

	// CPULoadSummary is a percentile summary of the window's aggregate
	// CPU load. Nil when no aggregate load readings were present.
	CPULoadSummary *LoadSummary `json:"cpuLoadSummary,omitempty"`
}

// LoadSummary summarizes the distribution of a value over one window.
type LoadSummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
}

// Clone returns a deep copy of the entry.
func (e ConsolidatedEntry) Clone() ConsolidatedEntry {
	out := e
	out.General = e.General.clone()
	out.CPU = e.CPU.clone()
	if e.Memory != nil {
		m := *e.Memory
		out.Memory = &m
	}
	if e.Filesystems != nil {
		out.Filesystems = append([]MountStats(nil), e.Filesystems...)
	}
	out.Network = e.Network.clone()
	if e.CPULoadSummary != nil {
		s := *e.CPULoadSummary
		out.CPULoadSummary = &s
	}
	return out
}
