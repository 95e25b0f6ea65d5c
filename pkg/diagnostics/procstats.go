package diagnostics

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcStats is the ambient "is this node healthy" snapshot written into
// each state dump.
type ProcStats struct {
	RSSBytes   uint64  `json:"rssBytes"`
	CPUPercent float64 `json:"cpuPercent"`
	Goroutines int     `json:"goroutines"`
}

// CollectProcStats reads the current process's memory and CPU usage.
func CollectProcStats(ctx context.Context) (ProcStats, error) {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())) //nolint:gosec
	if err != nil {
		return ProcStats{}, fmt.Errorf("diagnostics: open process handle: %w", err)
	}

	mem, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return ProcStats{}, fmt.Errorf("diagnostics: read memory info: %w", err)
	}

	cpuPct, err := proc.CPUPercentWithContext(ctx)
	if err != nil {
		return ProcStats{}, fmt.Errorf("diagnostics: read cpu percent: %w", err)
	}

	return ProcStats{
		RSSBytes:   mem.RSS,
		CPUPercent: cpuPct,
		Goroutines: runtime.NumGoroutine(),
	}, nil
}
