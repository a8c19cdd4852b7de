// Package collector samples host metrics with gopsutil and serves them as the
// JSON report consumed by the dashboard's telemetry fetcher.
package collector

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"infracontrol/internal/models"
)

const (
	DefaultPort       = 9101
	DefaultCPUWindow  = 100 * time.Millisecond
	DefaultRootVolume = "/"
)

// Source abstracts the host counters so Sample can be tested without a real host.
type Source interface {
	Hostname() (string, error)
	CPUTimes(ctx context.Context) (idle, total float64, err error)
	MemoryPercent(ctx context.Context) (float64, error)
	DiskPercent(ctx context.Context, path string) (float64, error)
	Uptime(ctx context.Context) (uint64, error)
}

// HostSource reads counters from the local machine through gopsutil.
type HostSource struct{}

func (HostSource) Hostname() (string, error) { return os.Hostname() }

func (HostSource) CPUTimes(ctx context.Context) (float64, float64, error) {
	stats, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return 0, 0, err
	}
	if len(stats) == 0 {
		return 0, 0, fmt.Errorf("no cpu times reported")
	}
	return stats[0].Idle + stats[0].Iowait, cpuTotal(stats[0]), nil
}

func (HostSource) MemoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	if vm.Total == 0 {
		return 0, nil
	}
	return float64(vm.Total-vm.Available) / float64(vm.Total) * 100, nil
}

func (HostSource) DiskPercent(ctx context.Context, path string) (float64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.UsedPercent, nil
}

func (HostSource) Uptime(ctx context.Context) (uint64, error) {
	return host.UptimeWithContext(ctx)
}

func cpuTotal(stat cpu.TimesStat) float64 {
	return stat.User + stat.System + stat.Nice + stat.Idle + stat.Iowait + stat.Irq + stat.Softirq + stat.Steal + stat.Guest + stat.GuestNice
}

// Collector produces CollectorReports. It keeps no state between requests;
// CPU utilization is measured inside a single Sample call.
type Collector struct {
	Source    Source
	CPUWindow time.Duration
	RootPath  string
	Now       func() time.Time
}

// New returns a collector backed by the local host.
func New() *Collector {
	return &Collector{
		Source:    HostSource{},
		CPUWindow: DefaultCPUWindow,
		RootPath:  DefaultRootVolume,
		Now:       time.Now,
	}
}

// Sample measures the host. Individual counter failures degrade to 0 rather
// than failing the whole report.
func (c *Collector) Sample(ctx context.Context) (*models.CollectorReport, error) {
	hostname, err := c.Source.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	cpuPct, err := c.cpuPercent(ctx)
	if err != nil {
		return nil, fmt.Errorf("sample cpu: %w", err)
	}

	ramPct, _ := c.Source.MemoryPercent(ctx)
	root := c.RootPath
	if root == "" {
		root = DefaultRootVolume
	}
	diskPct, _ := c.Source.DiskPercent(ctx, root)
	uptime, _ := c.Source.Uptime(ctx)

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	ts := now()

	cpuPct = round2(clampFloat(cpuPct, 0, 100))
	ramPct = round2(clampFloat(ramPct, 0, 100))
	diskPct = round2(clampFloat(diskPct, 0, 100))
	return &models.CollectorReport{
		Hostname:      hostname,
		Status:        models.StatusOnline,
		UptimeSeconds: float64(uptime),
		CPUPercent:    &cpuPct,
		RAMPercent:    &ramPct,
		DiskPercent:   &diskPct,
		Timestamp:     float64(ts.UnixNano()) / float64(time.Second),
	}, nil
}

func (c *Collector) cpuPercent(ctx context.Context) (float64, error) {
	idle1, total1, err := c.Source.CPUTimes(ctx)
	if err != nil {
		return 0, err
	}
	window := c.CPUWindow
	if window <= 0 {
		window = DefaultCPUWindow
	}
	select {
	case <-time.After(window):
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	idle2, total2, err := c.Source.CPUTimes(ctx)
	if err != nil {
		return 0, err
	}
	deltaTotal := total2 - total1
	if deltaTotal <= 0 {
		return 0, nil
	}
	deltaIdle := idle2 - idle1
	return (1 - deltaIdle/deltaTotal) * 100, nil
}

func clampFloat(val, min, max float64) float64 {
	if math.IsNaN(val) {
		return min
	}
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
