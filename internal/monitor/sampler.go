package monitor

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	gopsnet "github.com/shirou/gopsutil/v4/net"
)

// SystemMetrics is one host-level sample. Rates are bytes per second
// computed from counter deltas between consecutive samples and are
// never negative.
type SystemMetrics struct {
	CPUPercent    float64
	MemoryPercent float64
	DiskReadBPS   float64
	DiskWriteBPS  float64
	NetSentBPS    float64
	NetRecvBPS    float64
}

// SystemSampler produces host-level metrics once per tick.
type SystemSampler interface {
	Sample(ctx context.Context) (SystemMetrics, error)
}

// hostSampler reads host metrics through gopsutil. Disk and network
// rates need a previous observation, so the first sample reports them
// as zero. Not safe for concurrent use; the monitor loop is the single
// caller.
type hostSampler struct {
	primed        bool
	prevTime      time.Time
	prevDiskRead  uint64
	prevDiskWrite uint64
	prevNetSent   uint64
	prevNetRecv   uint64
}

// NewHostSampler returns a gopsutil-backed system sampler.
func NewHostSampler() SystemSampler {
	return &hostSampler{}
}

func (s *hostSampler) Sample(ctx context.Context) (SystemMetrics, error) {
	var metrics SystemMetrics

	// Interval 0 measures CPU since the previous call, which matches
	// the loop cadence without blocking inside the sampler.
	cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return metrics, err
	}
	if len(cpuPercents) > 0 {
		metrics.CPUPercent = cpuPercents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return metrics, err
	}
	metrics.MemoryPercent = vm.UsedPercent

	diskRead, diskWrite := sumDiskCounters(ctx)
	netSent, netRecv := sumNetCounters(ctx)

	now := time.Now()
	if s.primed {
		elapsed := now.Sub(s.prevTime).Seconds()
		if elapsed > 0 {
			metrics.DiskReadBPS = counterRate(diskRead, s.prevDiskRead, elapsed)
			metrics.DiskWriteBPS = counterRate(diskWrite, s.prevDiskWrite, elapsed)
			metrics.NetSentBPS = counterRate(netSent, s.prevNetSent, elapsed)
			metrics.NetRecvBPS = counterRate(netRecv, s.prevNetRecv, elapsed)
		}
	}
	s.primed = true
	s.prevTime = now
	s.prevDiskRead = diskRead
	s.prevDiskWrite = diskWrite
	s.prevNetSent = netSent
	s.prevNetRecv = netRecv

	return metrics, nil
}

func sumDiskCounters(ctx context.Context) (read, write uint64) {
	counters, err := disk.IOCountersWithContext(ctx)
	if err != nil {
		return 0, 0
	}
	for _, c := range counters {
		read += c.ReadBytes
		write += c.WriteBytes
	}
	return read, write
}

func sumNetCounters(ctx context.Context) (sent, recv uint64) {
	counters, err := gopsnet.IOCountersWithContext(ctx, false)
	if err != nil {
		return 0, 0
	}
	for _, c := range counters {
		sent += c.BytesSent
		recv += c.BytesRecv
	}
	return sent, recv
}

// counterRate converts a monotonic byte counter delta to bytes per
// second. Counter resets (reboots, driver reloads) produce a negative
// delta, reported as zero.
func counterRate(current, previous uint64, elapsed float64) float64 {
	if current < previous {
		return 0
	}
	return float64(current-previous) / elapsed
}
