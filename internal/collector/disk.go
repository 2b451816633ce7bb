package collector

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
)

// DiskCollector reports filesystem usage for a set of mountpoints. Metric
// names carry the mountpoint as a suffix, e.g. "disk_used_percent:/mnt/tank".
type DiskCollector struct {
	mountpoints []string
}

// NewDiskCollector creates a disk collector; "/" is used when no mountpoint is given
func NewDiskCollector(mountpoints []string) (*DiskCollector, error) {
	if len(mountpoints) == 0 {
		mountpoints = []string{"/"}
	}
	for _, mp := range mountpoints {
		if mp == "" {
			return nil, fmt.Errorf("disk collector: empty mountpoint")
		}
	}
	return &DiskCollector{mountpoints: mountpoints}, nil
}

// Collect implements Collector
func (c *DiskCollector) Collect(ctx context.Context) (map[string]float64, error) {
	metrics := make(map[string]float64, len(c.mountpoints)*4)
	for _, mp := range c.mountpoints {
		usage, err := disk.UsageWithContext(ctx, mp)
		if err != nil {
			return nil, fmt.Errorf("failed to get disk usage for %s: %w", mp, err)
		}
		metrics["disk_used_percent:"+mp] = usage.UsedPercent
		metrics["disk_used_bytes:"+mp] = float64(usage.Used)
		metrics["disk_free_bytes:"+mp] = float64(usage.Free)
		metrics["disk_inodes_used_percent:"+mp] = usage.InodesUsedPercent
	}
	return metrics, nil
}
