package service

import (
	"context"
	"math"

	"github.com/shirou/gopsutil/v4/disk"
)

// FreeStorageGB reports free space on the filesystem holding dir.
func FreeStorageGB(ctx context.Context, dir string) float64 {
	usage, err := disk.UsageWithContext(ctx, dir)
	if err != nil {
		return 0
	}
	return round2(float64(usage.Free) / (1 << 30))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func megabytes(size int64) float64 {
	return round2(float64(size) / (1 << 20))
}
