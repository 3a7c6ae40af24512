// Package collector gathers machine health readings from the local host.
package collector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"

	"github.com/nvalkyr/vigil/internal/errors"
	"github.com/nvalkyr/vigil/internal/logging"
	"github.com/nvalkyr/vigil/internal/stats"
)

var log = logging.Component("collector")

const bytesPerMB = 1024 * 1024

// Source produces one snapshot per call. Implementations must honor the
// context deadline; a snapshot that arrives after the deadline is discarded
// by the scheduler.
type Source interface {
	Collect(ctx context.Context) (stats.Snapshot, error)
}

// SystemSource reads stats from the local machine via gopsutil. Each section
// is gathered independently: a section the platform cannot provide stays nil
// in the snapshot instead of failing the whole collection. Collect returns
// an error only when no section could be read at all.
type SystemSource struct{}

// NewSystemSource creates a local host source.
func NewSystemSource() *SystemSource {
	return &SystemSource{}
}

// Collect gathers a snapshot of the local machine.
func (s *SystemSource) Collect(ctx context.Context) (stats.Snapshot, error) {
	snapshot := stats.Snapshot{
		CollectionTime: time.Now(),
	}

	sections := 0
	failures := 0
	fail := func(section string, err error) {
		failures++
		log.Debug("section unavailable", "section", section, "error", err)
	}

	sections++
	if err := s.collectGeneral(ctx, &snapshot); err != nil {
		fail("general", err)
	}

	sections++
	if err := s.collectCPU(ctx, &snapshot); err != nil {
		fail("cpu", err)
	}

	sections++
	if err := s.collectMemory(ctx, &snapshot); err != nil {
		fail("memory", err)
	}

	sections++
	if err := s.collectFilesystems(ctx, &snapshot); err != nil {
		fail("filesystems", err)
	}

	sections++
	if err := s.collectNetwork(ctx, &snapshot); err != nil {
		fail("network", err)
	}

	if err := ctx.Err(); err != nil {
		return stats.Snapshot{}, fmt.Errorf("%w: %v", errors.ErrCollectionTimeout, err)
	}
	if failures == sections {
		return stats.Snapshot{}, fmt.Errorf("%w: no stats section readable", errors.ErrCollection)
	}

	return snapshot, nil
}

func (s *SystemSource) collectGeneral(ctx context.Context, snapshot *stats.Snapshot) error {
	uptime, uptimeErr := host.UptimeWithContext(ctx)
	if uptimeErr == nil {
		snapshot.General.UptimeSeconds = &uptime
	}

	boot, bootErr := host.BootTimeWithContext(ctx)
	if bootErr == nil {
		ts := int64(boot)
		snapshot.General.BootTimestamp = &ts
	}

	avg, loadErr := load.AvgWithContext(ctx)
	if loadErr == nil {
		snapshot.General.LoadAverages = &stats.LoadAverages{
			OneMinute:      avg.Load1,
			FiveMinutes:    avg.Load5,
			FifteenMinutes: avg.Load15,
		}
	}

	if uptimeErr != nil && bootErr != nil && loadErr != nil {
		return uptimeErr
	}
	return nil
}

func (s *SystemSource) collectCPU(ctx context.Context, snapshot *stats.Snapshot) error {
	aggregate, aggErr := cpu.PercentWithContext(ctx, 0, false)
	if aggErr == nil && len(aggregate) > 0 {
		v := aggregate[0]
		snapshot.CPU.AggregateLoadPercent = &v
	}

	perCore, coreErr := cpu.PercentWithContext(ctx, 0, true)
	if coreErr == nil && len(perCore) > 0 {
		snapshot.CPU.PerLogicalCPULoadPercent = perCore
	}

	if temp, ok := cpuTemperature(ctx); ok {
		snapshot.CPU.TempCelsius = &temp
	}

	if aggErr != nil && coreErr != nil {
		return aggErr
	}
	return nil
}

// cpuTemperature picks the first CPU-looking sensor reading. Many platforms
// expose none; that is not an error.
func cpuTemperature(ctx context.Context) (float64, bool) {
	sensors, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil || len(sensors) == 0 {
		return 0, false
	}

	for _, sensor := range sensors {
		key := strings.ToLower(sensor.SensorKey)
		if strings.Contains(key, "coretemp") ||
			strings.Contains(key, "k10temp") ||
			strings.Contains(key, "cpu") {
			return sensor.Temperature, true
		}
	}
	return 0, false
}

func (s *SystemSource) collectMemory(ctx context.Context, snapshot *stats.Snapshot) error {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return err
	}

	snapshot.Memory = &stats.MemoryStats{
		UsedMB:  vm.Used / bytesPerMB,
		TotalMB: vm.Total / bytesPerMB,
	}
	return nil
}

func (s *SystemSource) collectFilesystems(ctx context.Context, snapshot *stats.Snapshot) error {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return err
	}

	mounts := make([]stats.MountStats, 0, len(partitions))
	for _, partition := range partitions {
		usage, err := disk.UsageWithContext(ctx, partition.Mountpoint)
		if err != nil {
			log.Debug("mount unavailable", "mount", partition.Mountpoint, "error", err)
			continue
		}
		// Pseudo-filesystems report zero capacity; not worth reporting.
		if usage.Total == 0 {
			continue
		}

		mounts = append(mounts, stats.MountStats{
			FSType:      partition.Fstype,
			MountedFrom: partition.Device,
			MountedOn:   partition.Mountpoint,
			UsedMB:      usage.Used / bytesPerMB,
			TotalMB:     usage.Total / bytesPerMB,
		})
	}

	snapshot.Filesystems = mounts
	return nil
}

func (s *SystemSource) collectNetwork(ctx context.Context, snapshot *stats.Snapshot) error {
	counters, countersErr := psnet.IOCountersWithContext(ctx, true)
	if countersErr == nil {
		addresses := interfaceAddresses(ctx)

		interfaces := make([]stats.InterfaceStats, 0, len(counters))
		for _, counter := range counters {
			interfaces = append(interfaces, stats.InterfaceStats{
				Name:            counter.Name,
				Addresses:       addresses[counter.Name],
				SentMB:          counter.BytesSent / bytesPerMB,
				ReceivedMB:      counter.BytesRecv / bytesPerMB,
				SentPackets:     counter.PacketsSent,
				ReceivedPackets: counter.PacketsRecv,
				SendErrors:      counter.Errout,
				ReceiveErrors:   counter.Errin,
			})
		}
		snapshot.Network.Interfaces = interfaces
	}

	sockets, socketsErr := socketCounts(ctx)
	if socketsErr == nil {
		snapshot.Network.Sockets = sockets
	}

	if countersErr != nil && socketsErr != nil {
		return countersErr
	}
	return nil
}

func interfaceAddresses(ctx context.Context) map[string][]string {
	list, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil
	}

	out := make(map[string][]string, len(list))
	for _, iface := range list {
		if len(iface.Addrs) == 0 {
			continue
		}
		addrs := make([]string, 0, len(iface.Addrs))
		for _, addr := range iface.Addrs {
			addrs = append(addrs, addr.Addr)
		}
		out[iface.Name] = addrs
	}
	return out
}

func socketCounts(ctx context.Context) (*stats.SocketStats, error) {
	out := &stats.SocketStats{}

	kinds := []struct {
		kind  string
		count *int
	}{
		{"tcp4", &out.TCPInUse},
		{"udp4", &out.UDPInUse},
		{"tcp6", &out.TCP6InUse},
		{"udp6", &out.UDP6InUse},
	}

	var firstErr error
	ok := false
	for _, k := range kinds {
		conns, err := psnet.ConnectionsWithContext(ctx, k.kind)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		*k.count = len(conns)
		ok = true
	}

	if !ok {
		return nil, firstErr
	}
	return out, nil
}
