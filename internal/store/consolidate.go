package store

import (
	"math"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/nvalkyr/vigil/internal/errors"
	"github.com/nvalkyr/vigil/internal/stats"
)

// Consolidate reduces a window of snapshots into one ConsolidatedEntry.
//
// Aggregation policy, per field:
//   - load averages, per-core and aggregate CPU load, temperature, memory:
//     arithmetic mean over the snapshots that carry the field
//   - filesystems, uptime, boot timestamp: value from the last snapshot
//   - network interface counters: delta between last and first snapshot;
//     a counter reset (last < first, or interface absent at window start)
//     reports the last raw value instead of a negative delta
//   - socket counts: mean rounded to nearest integer
//
// The entry timestamp is the consolidation time, not an average of snapshot
// timestamps. An empty window returns ErrEmptyWindow; no entry is fabricated.
func Consolidate(window []stats.Snapshot, now time.Time) (stats.ConsolidatedEntry, error) {
	if len(window) == 0 {
		return stats.ConsolidatedEntry{}, errors.ErrEmptyWindow
	}

	last := window[len(window)-1]

	entry := stats.ConsolidatedEntry{
		General:     consolidateGeneral(window, last),
		CPU:         consolidateCPU(window),
		Memory:      consolidateMemory(window),
		Filesystems: cloneMounts(last.Filesystems),
		Network: stats.NetworkStats{
			Interfaces: consolidateInterfaces(window),
			Sockets:    consolidateSockets(window),
		},
		Timestamp:   now,
		SampleCount: len(window),
	}

	entry.CPULoadSummary = summarizeAggregateLoad(window)

	return entry, nil
}

func consolidateGeneral(window []stats.Snapshot, last stats.Snapshot) stats.GeneralStats {
	out := stats.GeneralStats{}

	// Uptime and boot time are monotonic; the last reading is authoritative.
	if last.General.UptimeSeconds != nil {
		v := *last.General.UptimeSeconds
		out.UptimeSeconds = &v
	}
	if last.General.BootTimestamp != nil {
		v := *last.General.BootTimestamp
		out.BootTimestamp = &v
	}

	var one, five, fifteen float64
	var n int
	for _, s := range window {
		if la := s.General.LoadAverages; la != nil {
			one += la.OneMinute
			five += la.FiveMinutes
			fifteen += la.FifteenMinutes
			n++
		}
	}
	if n > 0 {
		out.LoadAverages = &stats.LoadAverages{
			OneMinute:      one / float64(n),
			FiveMinutes:    five / float64(n),
			FifteenMinutes: fifteen / float64(n),
		}
	}

	return out
}

func consolidateCPU(window []stats.Snapshot) stats.CPUStats {
	out := stats.CPUStats{}

	// Per-core means, index-wise over the snapshots that report each core.
	var coreSums []float64
	var coreCounts []int
	for _, s := range window {
		for i, v := range s.CPU.PerLogicalCPULoadPercent {
			if i >= len(coreSums) {
				coreSums = append(coreSums, 0)
				coreCounts = append(coreCounts, 0)
			}
			coreSums[i] += v
			coreCounts[i]++
		}
	}
	if len(coreSums) > 0 {
		out.PerLogicalCPULoadPercent = make([]float64, len(coreSums))
		for i := range coreSums {
			out.PerLogicalCPULoadPercent[i] = coreSums[i] / float64(coreCounts[i])
		}
	}

	if mean, ok := meanOf(window, func(s stats.Snapshot) *float64 { return s.CPU.AggregateLoadPercent }); ok {
		out.AggregateLoadPercent = &mean
	}
	if mean, ok := meanOf(window, func(s stats.Snapshot) *float64 { return s.CPU.TempCelsius }); ok {
		out.TempCelsius = &mean
	}

	return out
}

func consolidateMemory(window []stats.Snapshot) *stats.MemoryStats {
	var used, total float64
	var n int
	for _, s := range window {
		if s.Memory != nil {
			used += float64(s.Memory.UsedMB)
			total += float64(s.Memory.TotalMB)
			n++
		}
	}
	if n == 0 {
		return nil
	}
	return &stats.MemoryStats{
		UsedMB:  uint64(math.Round(used / float64(n))),
		TotalMB: uint64(math.Round(total / float64(n))),
	}
}

// consolidateInterfaces reports per-interface counter deltas over the
// window. Membership follows the last snapshot's set of interfaces.
func consolidateInterfaces(window []stats.Snapshot) []stats.InterfaceStats {
	last := window[len(window)-1]
	if len(last.Network.Interfaces) == 0 {
		return nil
	}

	first := make(map[string]stats.InterfaceStats)
	for _, iface := range window[0].Network.Interfaces {
		first[iface.Name] = iface
	}

	out := make([]stats.InterfaceStats, 0, len(last.Network.Interfaces))
	for _, iface := range last.Network.Interfaces {
		d := stats.InterfaceStats{
			Name: iface.Name,
		}
		if iface.Addresses != nil {
			d.Addresses = append([]string(nil), iface.Addresses...)
		}

		base, ok := first[iface.Name]
		if !ok {
			// Interface appeared mid-window: same handling as a reset.
			base = stats.InterfaceStats{}
		}
		d.SentMB = counterDelta(iface.SentMB, base.SentMB)
		d.ReceivedMB = counterDelta(iface.ReceivedMB, base.ReceivedMB)
		d.SentPackets = counterDelta(iface.SentPackets, base.SentPackets)
		d.ReceivedPackets = counterDelta(iface.ReceivedPackets, base.ReceivedPackets)
		d.SendErrors = counterDelta(iface.SendErrors, base.SendErrors)
		d.ReceiveErrors = counterDelta(iface.ReceiveErrors, base.ReceiveErrors)

		out = append(out, d)
	}
	return out
}

// counterDelta returns last-first for a cumulative counter. A reset
// (last < first) reports the last raw value, never a negative delta.
func counterDelta(last, first uint64) uint64 {
	if last < first {
		return last
	}
	return last - first
}

func consolidateSockets(window []stats.Snapshot) *stats.SocketStats {
	var tcp, udp, tcp6, udp6 float64
	var n int
	for _, s := range window {
		if sk := s.Network.Sockets; sk != nil {
			tcp += float64(sk.TCPInUse)
			udp += float64(sk.UDPInUse)
			tcp6 += float64(sk.TCP6InUse)
			udp6 += float64(sk.UDP6InUse)
			n++
		}
	}
	if n == 0 {
		return nil
	}
	return &stats.SocketStats{
		TCPInUse:  int(math.Round(tcp / float64(n))),
		UDPInUse:  int(math.Round(udp / float64(n))),
		TCP6InUse: int(math.Round(tcp6 / float64(n))),
		UDP6InUse: int(math.Round(udp6 / float64(n))),
	}
}

// summarizeAggregateLoad builds a percentile summary of the window's
// aggregate CPU load using a DDSketch with 1% relative accuracy.
func summarizeAggregateLoad(window []stats.Snapshot) *stats.LoadSummary {
	sketch, err := ddsketch.NewDefaultDDSketch(0.01)
	if err != nil {
		return nil
	}

	min := math.MaxFloat64
	max := -math.MaxFloat64
	n := 0
	for _, s := range window {
		if v := s.CPU.AggregateLoadPercent; v != nil {
			sketch.Add(*v)
			if *v < min {
				min = *v
			}
			if *v > max {
				max = *v
			}
			n++
		}
	}
	if n == 0 {
		return nil
	}

	p50, err50 := sketch.GetValueAtQuantile(0.50)
	p95, err95 := sketch.GetValueAtQuantile(0.95)
	if err50 != nil || err95 != nil {
		return nil
	}

	return &stats.LoadSummary{
		Min: min,
		Max: max,
		P50: p50,
		P95: p95,
	}
}

func meanOf(window []stats.Snapshot, field func(stats.Snapshot) *float64) (float64, bool) {
	var sum float64
	var n int
	for _, s := range window {
		if v := field(s); v != nil {
			sum += *v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func cloneMounts(mounts []stats.MountStats) []stats.MountStats {
	if mounts == nil {
		return nil
	}
	return append([]stats.MountStats(nil), mounts...)
}
