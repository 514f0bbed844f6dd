// Package npumetrics exposes the latest monitor snapshot as prometheus
// metrics. The collector is read-only: all sampling happens in the
// monitor loop, Collect just renders whatever snapshot is current.
package npumetrics

import (
	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"

	"npu_exporter/internal/logger"
	"npu_exporter/internal/monitor"
)

// SnapshotSource provides the snapshot to render. monitor.Monitor
// implements it.
type SnapshotSource interface {
	Latest() *monitor.Snapshot
}

// Collector implements prometheus.Collector over the monitor snapshot.
type Collector struct {
	source SnapshotSource
	log    log.Logger

	cpuPercentDesc    *prometheus.Desc
	memoryPercentDesc *prometheus.Desc
	diskReadDesc      *prometheus.Desc
	diskWriteDesc     *prometheus.Desc
	netSentDesc       *prometheus.Desc
	netRecvDesc       *prometheus.Desc
	powerDesc         *prometheus.Desc

	gpuOverallDesc    *prometheus.Desc
	gpuComputeDesc    *prometheus.Desc
	gpuEngineDesc     *prometheus.Desc
	gpuAvailableDesc  *prometheus.Desc
	npuOverallDesc    *prometheus.Desc
	npuEngineDesc     *prometheus.Desc
	npuAvailableDesc  *prometheus.Desc
	estimateDesc      *prometheus.Desc
	confidenceDesc    *prometheus.Desc
	methodDesc        *prometheus.Desc
	aiActiveDesc      *prometheus.Desc
	aiProcessesDesc   *prometheus.Desc
	devicePresentDesc *prometheus.Desc

	avgPercentDesc *prometheus.Desc
	avgRateDesc    *prometheus.Desc
}

// NewCollector creates a collector reading from the given source.
func NewCollector(source SnapshotSource) *Collector {
	return &Collector{
		source: source,
		log:    logger.NewLoggerWithContext("npu_collector"),

		cpuPercentDesc: prometheus.NewDesc(
			"npu_host_cpu_percent",
			"Host CPU utilization percentage for the current tick.",
			nil, nil),
		memoryPercentDesc: prometheus.NewDesc(
			"npu_host_memory_percent",
			"Host memory usage percentage for the current tick.",
			nil, nil),
		diskReadDesc: prometheus.NewDesc(
			"npu_host_disk_read_bytes_per_second",
			"Host disk read rate for the current tick.",
			nil, nil),
		diskWriteDesc: prometheus.NewDesc(
			"npu_host_disk_write_bytes_per_second",
			"Host disk write rate for the current tick.",
			nil, nil),
		netSentDesc: prometheus.NewDesc(
			"npu_host_network_sent_bytes_per_second",
			"Host network send rate for the current tick.",
			nil, nil),
		netRecvDesc: prometheus.NewDesc(
			"npu_host_network_recv_bytes_per_second",
			"Host network receive rate for the current tick.",
			nil, nil),
		powerDesc: prometheus.NewDesc(
			"npu_host_power_watts",
			"Summed package power meter reading for the current tick.",
			nil, nil),

		gpuOverallDesc: prometheus.NewDesc(
			"npu_gpu_utilization_percent",
			"Overall GPU engine utilization after exclusion filtering.",
			nil, nil),
		gpuComputeDesc: prometheus.NewDesc(
			"npu_gpu_compute_utilization_percent",
			"Overall compute-class GPU engine utilization.",
			nil, nil),
		gpuEngineDesc: prometheus.NewDesc(
			"npu_gpu_engine_utilization_percent",
			"Top GPU engine instances by utilization.",
			[]string{"engine"}, nil),
		gpuAvailableDesc: prometheus.NewDesc(
			"npu_gpu_counters_available",
			"Whether GPU engine counters resolved at startup (1 or 0).",
			nil, nil),

		npuOverallDesc: prometheus.NewDesc(
			"npu_utilization_percent",
			"Overall NPU utilization from dedicated engine counters.",
			nil, nil),
		npuEngineDesc: prometheus.NewDesc(
			"npu_engine_utilization_percent",
			"Top NPU engine instances by utilization.",
			[]string{"engine"}, nil),
		npuAvailableDesc: prometheus.NewDesc(
			"npu_counters_available",
			"Whether dedicated NPU counters resolved at startup (1 or 0).",
			nil, nil),

		estimateDesc: prometheus.NewDesc(
			"npu_estimated_utilization_percent",
			"Heuristic NPU utilization estimate.",
			nil, nil),
		confidenceDesc: prometheus.NewDesc(
			"npu_estimate_confidence_percent",
			"Confidence of the current NPU utilization estimate.",
			nil, nil),
		methodDesc: prometheus.NewDesc(
			"npu_estimation_method",
			"Estimation method in effect, one series per method label.",
			[]string{"method"}, nil),

		aiActiveDesc: prometheus.NewDesc(
			"npu_ai_activity",
			"Whether AI workload processes are currently running (1 or 0).",
			nil, nil),
		aiProcessesDesc: prometheus.NewDesc(
			"npu_ai_process_count",
			"Number of detected AI workload processes.",
			nil, nil),
		devicePresentDesc: prometheus.NewDesc(
			"npu_device_present",
			"Whether an NPU device was detected at startup (1 or 0).",
			nil, nil),

		avgPercentDesc: prometheus.NewDesc(
			"npu_session_average_percent",
			"Session running average of a percentage resource.",
			[]string{"resource"}, nil),
		avgRateDesc: prometheus.NewDesc(
			"npu_session_average_bytes_per_second",
			"Session running average of a byte-rate resource.",
			[]string{"resource"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cpuPercentDesc
	ch <- c.memoryPercentDesc
	ch <- c.diskReadDesc
	ch <- c.diskWriteDesc
	ch <- c.netSentDesc
	ch <- c.netRecvDesc
	ch <- c.powerDesc
	ch <- c.gpuOverallDesc
	ch <- c.gpuComputeDesc
	ch <- c.gpuEngineDesc
	ch <- c.gpuAvailableDesc
	ch <- c.npuOverallDesc
	ch <- c.npuEngineDesc
	ch <- c.npuAvailableDesc
	ch <- c.estimateDesc
	ch <- c.confidenceDesc
	ch <- c.methodDesc
	ch <- c.aiActiveDesc
	ch <- c.aiProcessesDesc
	ch <- c.devicePresentDesc
	ch <- c.avgPercentDesc
	ch <- c.avgRateDesc
}

// Collect implements prometheus.Collector. Nothing is emitted before
// the first completed monitor tick.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.source.Latest()
	if snap == nil {
		c.log.Debug().Msg("No snapshot yet, skipping collection")
		return
	}

	gauge := func(desc *prometheus.Desc, value float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, value, labels...)
	}

	gauge(c.cpuPercentDesc, snap.System.CPUPercent)
	gauge(c.memoryPercentDesc, snap.System.MemoryPercent)
	gauge(c.diskReadDesc, snap.System.DiskReadBPS)
	gauge(c.diskWriteDesc, snap.System.DiskWriteBPS)
	gauge(c.netSentDesc, snap.System.NetSentBPS)
	gauge(c.netRecvDesc, snap.System.NetRecvBPS)
	if snap.PowerAvailable {
		gauge(c.powerDesc, snap.PowerWatts)
	}

	gauge(c.gpuAvailableDesc, boolValue(snap.GPUAvailable))
	if snap.GPUAvailable {
		gauge(c.gpuOverallDesc, snap.GPU.Overall)
		gauge(c.gpuComputeDesc, snap.GPUCompute.Overall)
		for _, e := range snap.GPU.Top {
			gauge(c.gpuEngineDesc, e.Value, e.Label)
		}
	}

	gauge(c.npuAvailableDesc, boolValue(snap.NPUAvailable))
	if snap.NPUAvailable {
		gauge(c.npuOverallDesc, snap.NPU.Overall)
		for _, e := range snap.NPU.Top {
			gauge(c.npuEngineDesc, e.Value, e.Label)
		}
	}

	gauge(c.estimateDesc, snap.Estimation.Estimate)
	gauge(c.confidenceDesc, snap.Estimation.Confidence)
	gauge(c.methodDesc, 1, snap.Estimation.Method.String())

	gauge(c.aiActiveDesc, boolValue(snap.Activity.Active))
	gauge(c.aiProcessesDesc, float64(snap.Activity.ProcessCount))
	gauge(c.devicePresentDesc, boolValue(snap.Activity.DevicePresent))

	gauge(c.avgPercentDesc, snap.Averages.CPUPercent, "cpu")
	gauge(c.avgPercentDesc, snap.Averages.MemoryPercent, "memory")
	gauge(c.avgPercentDesc, snap.Averages.GPUPercent, "gpu")
	gauge(c.avgPercentDesc, snap.Averages.NPUPercent, "npu")
	gauge(c.avgRateDesc, snap.Averages.DiskReadBPS, "disk_read")
	gauge(c.avgRateDesc, snap.Averages.DiskWriteBPS, "disk_write")
	gauge(c.avgRateDesc, snap.Averages.NetSentBPS, "net_sent")
	gauge(c.avgRateDesc, snap.Averages.NetRecvBPS, "net_recv")
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
