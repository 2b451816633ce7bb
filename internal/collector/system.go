package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
)

// SystemCollector reports host CPU, memory, load, uptime and network counters
type SystemCollector struct {
	cpuWindow time.Duration
}

// NewSystemCollector creates a system collector sampling CPU over one second
func NewSystemCollector() *SystemCollector {
	return &SystemCollector{cpuWindow: time.Second}
}

// Collect implements Collector
func (c *SystemCollector) Collect(ctx context.Context) (map[string]float64, error) {
	cpuPercent, err := cpu.PercentWithContext(ctx, c.cpuWindow, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get CPU usage: %w", err)
	}
	if len(cpuPercent) == 0 {
		return nil, fmt.Errorf("failed to get CPU usage: no samples")
	}

	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get memory usage: %w", err)
	}

	metrics := map[string]float64{
		"cpu_percent":         cpuPercent[0],
		"mem_percent":         memInfo.UsedPercent,
		"mem_used_bytes":      float64(memInfo.Used),
		"mem_available_bytes": float64(memInfo.Available),
	}

	// The remaining readings are not available on every platform
	if swap, err := mem.SwapMemoryWithContext(ctx); err == nil {
		metrics["swap_percent"] = swap.UsedPercent
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		metrics["load1"] = avg.Load1
		metrics["load5"] = avg.Load5
		metrics["load15"] = avg.Load15
	}
	if uptime, err := host.UptimeWithContext(ctx); err == nil {
		metrics["uptime_seconds"] = float64(uptime)
	}
	if counters, err := net.IOCountersWithContext(ctx, false); err == nil && len(counters) > 0 {
		metrics["net_bytes_sent"] = float64(counters[0].BytesSent)
		metrics["net_bytes_recv"] = float64(counters[0].BytesRecv)
	}

	return metrics, nil
}
