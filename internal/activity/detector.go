// Package activity detects AI workload processes on the host.
//
// The detector scans the process table on a coarse cadence and classifies
// processes as AI workloads by name substring, or by command line keywords
// for interpreter processes (python, node). The latest scan result is
// published through an atomic pointer so the monitor loop can read it
// without blocking on a scan in progress.
package activity

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
	"github.com/shirou/gopsutil/v4/process"

	"npu_exporter/internal/config"
	"npu_exporter/internal/logger"
)

// Process identifies one detected AI workload process.
type Process struct {
	PID        int32
	Name       string
	CPUPercent float64
}

// State is an immutable snapshot of AI activity on the host.
// Readers must not mutate Processes.
type State struct {
	// Active is true when at least one AI workload process was found.
	Active bool

	// CPUPercent is the summed CPU usage of detected processes.
	CPUPercent float64

	// ProcessCount is the number of detected processes.
	ProcessCount uint

	// Processes lists the detected processes, highest CPU first.
	Processes []Process

	// DevicePresent reports whether an NPU device was detected at startup.
	DevicePresent bool
}

// ProcessHandle exposes the process attributes the detector inspects.
type ProcessHandle interface {
	PID() int32
	Name() (string, error)
	CPUPercent() (float64, error)
	Cmdline() (string, error)
}

// ProcessSource enumerates running processes.
type ProcessSource interface {
	Processes(ctx context.Context) ([]ProcessHandle, error)
}

// Detector periodically scans the process table for AI workloads.
// Run owns the state pointer exclusively; any number of goroutines may
// call Latest concurrently.
type Detector struct {
	config config.ActivityConfig
	source ProcessSource

	devicePresent bool

	state atomic.Pointer[State]
	log   log.Logger
}

// NewDetector creates a detector backed by gopsutil process enumeration.
// devicePresent records the result of the startup NPU capability probe
// and is carried into every published State.
func NewDetector(cfg config.ActivityConfig, devicePresent bool) *Detector {
	return NewDetectorWithSource(cfg, devicePresent, gopsutilSource{})
}

// NewDetectorWithSource creates a detector with a custom process source.
func NewDetectorWithSource(cfg config.ActivityConfig, devicePresent bool, source ProcessSource) *Detector {
	d := &Detector{
		config:        cfg,
		source:        source,
		devicePresent: devicePresent,
		log:           logger.NewLoggerWithContext("activity"),
	}
	d.state.Store(&State{DevicePresent: devicePresent})
	return d
}

// Latest returns the most recent scan result, never nil.
func (d *Detector) Latest() *State {
	return d.state.Load()
}

// Run scans on the configured interval until ctx is cancelled.
func (d *Detector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.config.Interval.Duration)
	defer ticker.Stop()

	d.Scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Scan(ctx)
		}
	}
}

// Scan performs one process table scan and publishes the result.
// A failed enumeration keeps the previous state.
func (d *Detector) Scan(ctx context.Context) {
	handles, err := d.source.Processes(ctx)
	if err != nil {
		d.log.Debug().Err(err).Msg("Process enumeration failed, keeping previous state")
		return
	}

	var detected []Process
	var totalCPU float64
	for _, h := range handles {
		name, err := h.Name()
		if err != nil {
			continue // process likely exited mid-scan
		}
		cpu, err := h.CPUPercent()
		if err != nil {
			cpu = 0
		}
		if cpu < d.config.MinProcessCPU {
			continue
		}
		if !d.classify(name, h) {
			continue
		}
		detected = append(detected, Process{PID: h.PID(), Name: name, CPUPercent: cpu})
		totalCPU += cpu
	}

	sort.Slice(detected, func(i, j int) bool {
		if detected[i].CPUPercent != detected[j].CPUPercent {
			return detected[i].CPUPercent > detected[j].CPUPercent
		}
		return detected[i].PID < detected[j].PID
	})

	state := &State{
		Active:        len(detected) > 0,
		CPUPercent:    totalCPU,
		ProcessCount:  uint(len(detected)),
		Processes:     detected,
		DevicePresent: d.devicePresent,
	}
	d.state.Store(state)

	if state.Active {
		d.log.Debug().
			Uint64("processes", uint64(state.ProcessCount)).
			Float64("cpu_percent", state.CPUPercent).
			Msg("AI workload activity detected")
	}
}

// classify reports whether a process counts as an AI workload.
// The command line is only fetched for interpreter processes since it is
// the most expensive attribute to read.
func (d *Detector) classify(name string, h ProcessHandle) bool {
	lower := strings.ToLower(name)
	for _, pattern := range d.config.NamePatterns {
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return true
		}
	}

	if !d.isInterpreter(lower) {
		return false
	}
	cmdline, err := h.Cmdline()
	if err != nil {
		return false
	}
	cmdline = strings.ToLower(cmdline)
	for _, keyword := range d.config.CmdlineKeywords {
		if strings.Contains(cmdline, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}

func (d *Detector) isInterpreter(lowerName string) bool {
	for _, interp := range d.config.Interpreters {
		if strings.Contains(lowerName, strings.ToLower(interp)) {
			return true
		}
	}
	return false
}

// gopsutilSource enumerates processes with gopsutil.
type gopsutilSource struct{}

func (gopsutilSource) Processes(ctx context.Context) ([]ProcessHandle, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	handles := make([]ProcessHandle, 0, len(procs))
	for _, p := range procs {
		handles = append(handles, gopsutilHandle{p})
	}
	return handles, nil
}

type gopsutilHandle struct {
	proc *process.Process
}

func (h gopsutilHandle) PID() int32 { return h.proc.Pid }

func (h gopsutilHandle) Name() (string, error) { return h.proc.Name() }

func (h gopsutilHandle) CPUPercent() (float64, error) { return h.proc.CPUPercent() }

func (h gopsutilHandle) Cmdline() (string, error) { return h.proc.Cmdline() }
