// Package stats collects a host-health snapshot for the daemon's
// GET /v1/status endpoint and periodic "agent alive" log line.
package stats

import (
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is one point-in-time host-health reading.
type Snapshot struct {
	CPUUsage    float64 `json:"cpuUsage"`
	RAMUsage    float64 `json:"ramUsage"`
	RAMTotal    uint64  `json:"ramTotal"`
	Uptime      uint64  `json:"uptime"`
	Hostname    string  `json:"hostname"`
	OS          string  `json:"os"`
	CollectedAt int64   `json:"collectedAt"`
}

// Collector takes Snapshots. It is stateless; kept as a type (rather than a
// bare function) to match the shape of a real sink this could grow into.
type Collector struct{}

// NewCollector builds a Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Collect takes one Snapshot. Each gopsutil call fails independently and a
// failure only leaves its own fields at zero value — a slow /proc read on
// one metric should not cost the whole status response.
func (c *Collector) Collect() (*Snapshot, error) {
	snap := &Snapshot{CollectedAt: time.Now().Unix()}

	if pct, err := cpu.Percent(200*time.Millisecond, false); err == nil && len(pct) > 0 {
		snap.CPUUsage = pct[0]
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		snap.RAMUsage = memInfo.UsedPercent
		snap.RAMTotal = memInfo.Total
	}

	if hostInfo, err := host.Info(); err == nil {
		snap.Uptime = hostInfo.Uptime
		snap.Hostname = hostInfo.Hostname
		snap.OS = hostInfo.OS
	}

	return snap, nil
}
