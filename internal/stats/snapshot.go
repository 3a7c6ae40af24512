package stats

import "time"

// Snapshot holds one instant's machine health readings.
// Optional fields are nil when the platform could not provide them;
// a nil field is omitted from JSON rather than reported as zero.
type Snapshot struct {
	// General system stats
	General GeneralStats `json:"general"`
	// CPU stats
	CPU CPUStats `json:"cpu"`
	// Memory stats
	Memory *MemoryStats `json:"memory,omitempty"`
	// Stats for each mounted filesystem
	Filesystems []MountStats `json:"filesystems,omitempty"`
	// Network stats
	Network NetworkStats `json:"network"`
	// CollectionTime is when the readings were taken.
	CollectionTime time.Time `json:"collectionTime"`
}

// GeneralStats holds uptime, boot time and load averages.
type GeneralStats struct {
	// Number of seconds the system has been running
	UptimeSeconds *uint64 `json:"uptimeSeconds,omitempty"`
	// Boot time in seconds since the UNIX epoch
	BootTimestamp *int64 `json:"bootTimestamp,omitempty"`
	// Load average values for the system
	LoadAverages *LoadAverages `json:"loadAverages,omitempty"`
}

// LoadAverages holds the 1/5/15 minute load averages.
type LoadAverages struct {
	OneMinute      float64 `json:"oneMinute"`
	FiveMinutes    float64 `json:"fiveMinutes"`
	FifteenMinutes float64 `json:"fifteenMinutes"`
}

// CPUStats holds CPU load and temperature readings.
type CPUStats struct {
	// Load percentages for each logical CPU
	PerLogicalCPULoadPercent []float64 `json:"perLogicalCpuLoadPercent,omitempty"`
	// Load percentage of the CPU as a whole
	AggregateLoadPercent *float64 `json:"aggregateLoadPercent,omitempty"`
	// Temperature of the CPU in degrees Celsius
	TempCelsius *float64 `json:"tempCelsius,omitempty"`
}

// MemoryStats holds memory usage in megabytes.
type MemoryStats struct {
	UsedMB  uint64 `json:"usedMb"`
	TotalMB uint64 `json:"totalMb"`
}

// MountStats holds usage for one mounted filesystem.
type MountStats struct {
	// Type of filesystem (ext4, xfs, etc.)
	FSType string `json:"fsType"`
	// Name of the device corresponding to this mount
	MountedFrom string `json:"mountedFrom"`
	// Root path corresponding to this mount
	MountedOn string `json:"mountedOn"`
	UsedMB    uint64 `json:"usedMb"`
	TotalMB   uint64 `json:"totalMb"`
}

// NetworkStats holds per-interface counters and socket usage.
type NetworkStats struct {
	Interfaces []InterfaceStats `json:"interfaces,omitempty"`
	Sockets    *SocketStats     `json:"sockets,omitempty"`
}

// InterfaceStats holds cumulative counters for one network interface.
// In a Snapshot these are the OS's monotonically increasing totals; in a
// ConsolidatedEntry they are deltas over the window.
type InterfaceStats struct {
	Name      string   `json:"name"`
	Addresses []string `json:"addresses,omitempty"`
	// Megabytes sent via this interface
	SentMB uint64 `json:"sentMb"`
	// Megabytes received via this interface
	ReceivedMB      uint64 `json:"receivedMb"`
	SentPackets     uint64 `json:"sentPackets"`
	ReceivedPackets uint64 `json:"receivedPackets"`
	SendErrors      uint64 `json:"sendErrors"`
	ReceiveErrors   uint64 `json:"receiveErrors"`
}

// SocketStats holds counts of sockets in use.
type SocketStats struct {
	TCPInUse  int `json:"tcpInUse"`
	UDPInUse  int `json:"udpInUse"`
	TCP6InUse int `json:"tcp6InUse"`
	UDP6InUse int `json:"udp6InUse"`
}

// Clone returns a deep copy of the snapshot. Readers get clones so a
// snapshot handed out can never alias the writer's window.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.General = s.General.clone()
	out.CPU = s.CPU.clone()
	if s.Memory != nil {
		m := *s.Memory
		out.Memory = &m
	}
	if s.Filesystems != nil {
		out.Filesystems = append([]MountStats(nil), s.Filesystems...)
	}
	out.Network = s.Network.clone()
	return out
}

func (g GeneralStats) clone() GeneralStats {
	out := g
	if g.UptimeSeconds != nil {
		v := *g.UptimeSeconds
		out.UptimeSeconds = &v
	}
	if g.BootTimestamp != nil {
		v := *g.BootTimestamp
		out.BootTimestamp = &v
	}
	if g.LoadAverages != nil {
		v := *g.LoadAverages
		out.LoadAverages = &v
	}
	return out
}

func (c CPUStats) clone() CPUStats {
	out := c
	if c.PerLogicalCPULoadPercent != nil {
		out.PerLogicalCPULoadPercent = append([]float64(nil), c.PerLogicalCPULoadPercent...)
	}
	if c.AggregateLoadPercent != nil {
		v := *c.AggregateLoadPercent
		out.AggregateLoadPercent = &v
	}
	if c.TempCelsius != nil {
		v := *c.TempCelsius
		out.TempCelsius = &v
	}
	return out
}

func (n NetworkStats) clone() NetworkStats {
	out := n
	if n.Interfaces != nil {
		out.Interfaces = make([]InterfaceStats, len(n.Interfaces))
		for i, iface := range n.Interfaces {
			out.Interfaces[i] = iface
			if iface.Addresses != nil {
				out.Interfaces[i].Addresses = append([]string(nil), iface.Addresses...)
			}
		}
	}
	if n.Sockets != nil {
		v := *n.Sockets
		out.Sockets = &v
	}
	return out
}
