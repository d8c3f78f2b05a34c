package app

import (
	"os"
	"runtime"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func (a *Application) initJob() {
	loc, err := time.LoadLocation(a.appConfig.System.Location)
	if err != nil {
		loc = time.Local
	}
	a.sched = cron.New(cron.WithLocation(loc), cron.WithParser(cronParser))

	_, err = a.sched.AddFunc("@every 30s", func() {
		go a.SchedProcessMonitorTask()
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	a.sched.Start()
}

// ProcessStats is a snapshot of host and process usage.
type ProcessStats struct {
	CPUPercent     float64 `json:"cpu_percent"`
	MemRSSMB       uint64  `json:"mem_rss_mb"`
	SystemCPU      float64 `json:"system_cpu_percent"`
	SystemMemUsed  uint64  `json:"system_mem_used_mb"`
	SystemMemTotal uint64  `json:"system_mem_total_mb"`
	Goroutines     int     `json:"goroutines"`
	Uptime         int64   `json:"uptime_seconds"`
}

var startedAt = time.Now()

// CollectProcessStats reads the current usage; fields that cannot be read
// are left zero.
func CollectProcessStats() ProcessStats {
	stats := ProcessStats{
		Goroutines: runtime.NumGoroutine(),
		Uptime:     int64(time.Since(startedAt).Seconds()),
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil { //nolint:gosec // G115: PID is always within int32 range
		if cpuuse, err := p.CPUPercent(); err == nil {
			stats.CPUPercent = cpuuse
		}
		if meminfo, err := p.MemoryInfo(); err == nil {
			stats.MemRSSMB = meminfo.RSS / 1024 / 1024
		}
	}
	if cpuuse, err := cpu.Percent(0, false); err == nil && len(cpuuse) > 0 {
		stats.SystemCPU = cpuuse[0]
	}
	if meminfo, err := mem.VirtualMemory(); err == nil {
		stats.SystemMemUsed = meminfo.Used / 1024 / 1024
		stats.SystemMemTotal = meminfo.Total / 1024 / 1024
	}
	return stats
}

// SchedProcessMonitorTask app process monitor
func (a *Application) SchedProcessMonitorTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	stats := CollectProcessStats()
	zap.L().Debug("process usage",
		zap.Float64("cpu_percent", stats.CPUPercent),
		zap.Uint64("mem_rss_mb", stats.MemRSSMB),
		zap.Int("goroutines", stats.Goroutines))
}
