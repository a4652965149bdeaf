// diagnostics.go upgrades trader-go's handleSystemStatus (raw
// runtime.MemStats) to process-level diagnostics backed by gopsutil,
// exposed on /health and echoed into /expr/pack responses under a
// top-level engine key so a caller can correlate a slow pack with host load.
package server

import (
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// engineDiagnostics is the process health snapshot spec.md §6's /health
// and /expr/pack responses both carry.
type engineDiagnostics struct {
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
	UptimeSec  float64 `json:"uptime_s"`
}

func collectDiagnostics() engineDiagnostics {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return engineDiagnostics{}
	}
	cpuPct, _ := proc.CPUPercent()
	memInfo, _ := proc.MemoryInfo()
	createTimeMs, _ := proc.CreateTime()

	d := engineDiagnostics{CPUPercent: cpuPct}
	if memInfo != nil {
		d.RSSBytes = memInfo.RSS
	}
	if createTimeMs > 0 {
		d.UptimeSec = time.Since(time.UnixMilli(createTimeMs)).Seconds()
	}
	return d
}
