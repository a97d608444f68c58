package metrics

import (
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Usage summarizes resource samples taken while a process ran.
type Usage struct {
	PeakRSS    uint64  `json:"peak_rss,omitempty"`
	CPUPercent float64 `json:"cpu_percent,omitempty"` // last observed value
	Samples    int     `json:"samples,omitempty"`
}

// SampleUsage polls pid every interval until done is closed and then
// delivers the summary on the returned channel. A zero interval or a pid
// that cannot be opened yields an empty Usage.
func SampleUsage(pid int, interval time.Duration, done <-chan struct{}) <-chan Usage {
	out := make(chan Usage, 1)
	if interval <= 0 || pid <= 0 {
		out <- Usage{}
		return out
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		slog.Debug("usage sampling unavailable", "pid", pid, "error", err)
		out <- Usage{}
		return out
	}
	go func() {
		var u Usage
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		sample := func() {
			mem, err := proc.MemoryInfo()
			if err != nil {
				return
			}
			u.Samples++
			if mem.RSS > u.PeakRSS {
				u.PeakRSS = mem.RSS
			}
			// CPUPercent may require a previous call for accurate calculation
			if cpu, err := proc.CPUPercent(); err == nil {
				u.CPUPercent = cpu
			}
		}
		sample()
		for {
			select {
			case <-done:
				out <- u
				return
			case <-ticker.C:
				sample()
			}
		}
	}()
	return out
}
