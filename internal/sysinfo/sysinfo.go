// Package sysinfo reports resource usage of the running server for the
// /api/system endpoint.
package sysinfo

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

type ProcessInfo struct {
	PID        int       `json:"pid"`
	StartTime  time.Time `json:"startTime"`
	Uptime     string    `json:"uptime"`
	RSSBytes   uint64    `json:"rssBytes"`
	CPUPercent float64   `json:"cpuPercent"`
	Threads    int32     `json:"threads"`
	Goroutines int       `json:"goroutines"`
}

type HostInfo struct {
	Hostname       string  `json:"hostname"`
	OS             string  `json:"os"`
	Platform       string  `json:"platform"`
	CPUs           int     `json:"cpus"`
	MemTotalBytes  uint64  `json:"memTotalBytes"`
	MemUsedPercent float64 `json:"memUsedPercent"`
	HostUptimeSecs uint64  `json:"hostUptimeSecs"`
}

// Snapshot is one sample of process and host metrics.
type Snapshot struct {
	Process     ProcessInfo `json:"process"`
	Host        HostInfo    `json:"host"`
	CollectedAt time.Time   `json:"collectedAt"`
}

// Collector samples metrics for the current process.
type Collector struct {
	proc *process.Process
	now  func() time.Time
}

func New() (*Collector, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("opening own process: %w", err)
	}
	return &Collector{proc: p, now: time.Now}, nil
}

// Collect gathers a snapshot. Process metrics are required; host metrics
// that the platform cannot provide are left zero.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	now := c.now()
	snap := &Snapshot{CollectedAt: now}

	created, err := c.proc.CreateTimeWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("process create time: %w", err)
	}
	start := time.UnixMilli(created)
	memInfo, err := c.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("process memory: %w", err)
	}
	cpuPct, err := c.proc.CPUPercentWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("process cpu: %w", err)
	}
	threads, _ := c.proc.NumThreadsWithContext(ctx)

	snap.Process = ProcessInfo{
		PID:        int(c.proc.Pid),
		StartTime:  start,
		Uptime:     now.Sub(start).Round(time.Second).String(),
		RSSBytes:   memInfo.RSS,
		CPUPercent: cpuPct,
		Threads:    threads,
		Goroutines: runtime.NumGoroutine(),
	}

	snap.Host.OS = runtime.GOOS
	if hi, err := host.InfoWithContext(ctx); err == nil {
		snap.Host.Hostname = hi.Hostname
		snap.Host.Platform = hi.Platform
		snap.Host.HostUptimeSecs = hi.Uptime
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		snap.Host.CPUs = n
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.Host.MemTotalBytes = vm.Total
		snap.Host.MemUsedPercent = vm.UsedPercent
	}
	return snap, nil
}
