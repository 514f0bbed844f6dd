// Package monitor runs the sampling loop. Each tick it collects host
// metrics, engine-class utilization, and AI activity, feeds the usage
// estimator, and publishes an immutable Snapshot. Engine classes whose
// counters cannot be resolved at startup stay disabled for the life of
// the monitor; the loop never retries resolution.
package monitor

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"

	"npu_exporter/internal/activity"
	"npu_exporter/internal/aggregate"
	"npu_exporter/internal/config"
	"npu_exporter/internal/counters"
	"npu_exporter/internal/estimate"
	"npu_exporter/internal/logger"
)

// ErrNoDataSources is returned by New when neither a system sampler
// nor a counter subsystem is available.
var ErrNoDataSources = errors.New("monitor: no system sampler and no counter subsystem")

// EngineSource produces per-instance utilization for one engine class.
// counters.Reader implements it.
type EngineSource interface {
	Sample(ctx context.Context) map[string]float64
	Close()
}

// ActivitySource provides the latest AI activity state.
// activity.Detector implements it.
type ActivitySource interface {
	Latest() *activity.State
}

// Averages holds the session running averages.
type Averages struct {
	CPUPercent    float64
	MemoryPercent float64
	GPUPercent    float64
	NPUPercent    float64
	DiskReadBPS   float64
	DiskWriteBPS  float64
	NetSentBPS    float64
	NetRecvBPS    float64
}

// Snapshot is the published result of one tick. It is immutable once
// stored; consumers must not modify it.
type Snapshot struct {
	Timestamp time.Time

	System   SystemMetrics
	Averages Averages

	// GPU summarizes all GPU engines minus excluded classes.
	GPU aggregate.Summary

	// GPUCompute summarizes compute-class GPU engines only.
	GPUCompute aggregate.Summary

	// NPU summarizes dedicated NPU engine counters. Zero when
	// NPUAvailable is false.
	NPU aggregate.Summary

	GPUAvailable bool
	NPUAvailable bool

	// PowerWatts is the summed package power meter reading. Zero when
	// PowerAvailable is false.
	PowerWatts     float64
	PowerAvailable bool

	Activity   activity.State
	Estimation estimate.Result
}

// session holds the per-run accumulators. A new monitor starts a new
// session; nothing persists across runs.
type session struct {
	cpu       aggregate.RunningAverage
	memory    aggregate.RunningAverage
	gpu       aggregate.RunningAverage
	npu       aggregate.RunningAverage
	diskRead  aggregate.RunningAverage
	diskWrite aggregate.RunningAverage
	netSent   aggregate.RunningAverage
	netRecv   aggregate.RunningAverage

	// powerIdle is the baseline power draw observed while no AI
	// activity is detected; the power signal measures rises above it.
	powerIdle aggregate.RunningAverage

	estimator *estimate.Estimator
}

// Options configures a Monitor. System and Subsystem may each be nil,
// but not both.
type Options struct {
	Monitor   config.MonitorConfig
	Counters  config.CountersConfig
	Estimator estimate.Config

	// Clock defaults to the wall clock when nil.
	Clock Clock

	// System samples host metrics. Nil disables host sampling and the
	// CPU estimation heuristic.
	System SystemSampler

	// Subsystem backs the engine counter readers. Nil disables all
	// engine classes.
	Subsystem counters.Subsystem

	// Activity supplies AI workload state. Nil means always idle.
	Activity ActivitySource

	// OnSnapshot, when set, is invoked after each published snapshot
	// from the loop goroutine.
	OnSnapshot func(*Snapshot)
}

// Monitor owns the sampling loop. Run must be called exactly once;
// Latest is safe from any goroutine.
type Monitor struct {
	interval    time.Duration
	tickTimeout time.Duration
	counters    config.CountersConfig

	clock      Clock
	system     SystemSampler
	activity   ActivitySource
	onSnapshot func(*Snapshot)

	gpu        EngineSource
	gpuCompute EngineSource
	npu        EngineSource
	power      EngineSource

	session *session

	// lastCompute/lastNPU/lastPower feed the estimator signals. Written
	// only by the loop goroutine before Estimate reads them.
	lastCompute aggregate.Summary
	lastNPU     aggregate.Summary
	lastPower   float64

	snapshot atomic.Pointer[Snapshot]
	log      log.Logger
}

// New resolves the configured counter patterns, opens readers for the
// available engine classes, and wires the estimator signals. Missing
// counters disable their engine class without failing construction.
func New(opts Options) (*Monitor, error) {
	if opts.System == nil && opts.Subsystem == nil {
		return nil, ErrNoDataSources
	}

	clock := opts.Clock
	if clock == nil {
		clock = RealClock()
	}

	m := &Monitor{
		interval:    opts.Monitor.Interval.Duration,
		tickTimeout: opts.Monitor.TickTimeout.Duration,
		counters:    opts.Counters,
		clock:       clock,
		system:      opts.System,
		activity:    opts.Activity,
		onSnapshot:  opts.OnSnapshot,
		log:         logger.NewLoggerWithContext("monitor"),
	}

	settle := opts.Monitor.SettleDelay.Duration
	m.gpu = m.openEngine(opts.Subsystem, opts.Counters.GPUEnginePattern, settle, "gpu")
	m.gpuCompute = m.openEngine(opts.Subsystem, opts.Counters.GPUComputePattern, settle, "gpu_compute")
	m.npu = m.openEngine(opts.Subsystem, opts.Counters.NPUEnginePattern, settle, "npu")
	m.power = m.openEngine(opts.Subsystem, opts.Counters.PowerMeterPattern, settle, "power")

	estimator := estimate.New(opts.Estimator)
	m.session = &session{estimator: estimator}
	if m.npu != nil {
		estimator.Register(estimate.DirectCounterSignal(func() (float64, bool) {
			return m.lastNPU.Overall, true
		}))
	}
	if m.gpuCompute != nil {
		estimator.Register(estimate.ParallelEngineSignal(func() (float64, bool) {
			return m.lastCompute.Overall, true
		}))
	}
	if m.power != nil {
		estimator.Register(estimate.PowerDrawSignal(m.powerRise))
	}

	return m, nil
}

// powerRise reports the percent increase of the current power draw over
// the idle baseline. No observation until both exist.
func (m *Monitor) powerRise() (float64, bool) {
	if m.lastPower <= 0 || !m.session.powerIdle.HasSamples() {
		return 0, false
	}
	idle := m.session.powerIdle.Average()
	if idle <= 0 {
		return 0, false
	}
	rise := (m.lastPower - idle) / idle * 100
	if rise < 0 {
		rise = 0
	}
	return rise, true
}

// openEngine resolves and attaches one engine class. Any failure
// disables the class for the whole session.
func (m *Monitor) openEngine(sub counters.Subsystem, pattern string, settle time.Duration, class string) EngineSource {
	if sub == nil || pattern == "" {
		return nil
	}
	paths, err := counters.Resolve(sub, pattern)
	if err != nil {
		if errors.Is(err, counters.ErrPatternNotFound) {
			m.log.Info().Str("class", class).Str("pattern", pattern).
				Msg("No counter instances found, engine class disabled")
		} else {
			m.log.Warn().Err(err).Str("class", class).
				Msg("Counter subsystem unavailable, engine class disabled")
		}
		return nil
	}
	reader, err := counters.Open(sub, paths, settle)
	if err != nil {
		m.log.Warn().Err(err).Str("class", class).
			Msg("Failed to attach counters, engine class disabled")
		return nil
	}
	m.log.Info().Str("class", class).Int("counters", reader.Len()).
		Msg("Engine counters attached")
	return reader
}

// Latest returns the most recent snapshot, or nil before the first
// completed tick.
func (m *Monitor) Latest() *Snapshot {
	return m.snapshot.Load()
}

// Run executes the loop until ctx is cancelled. An in-flight tick
// finishes before Run returns. Counter readers are closed on exit.
func (m *Monitor) Run(ctx context.Context) {
	defer m.closeReaders()

	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	m.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(ctx, m.tickTimeout)
	defer cancel()

	var sys SystemMetrics
	if m.system != nil {
		var err error
		sys, err = m.system.Sample(tickCtx)
		if err != nil {
			m.log.Warn().Err(err).Msg("System sample failed, skipping tick")
			return
		}
	}

	var gpuSummary, computeSummary, npuSummary aggregate.Summary
	if m.gpu != nil {
		gpuSummary = aggregate.Summarize(m.gpu.Sample(tickCtx), aggregate.Options{
			Exclude: m.counters.GPUExcludeKeywords,
		})
	}
	if m.gpuCompute != nil {
		computeSummary = aggregate.Summarize(m.gpuCompute.Sample(tickCtx), aggregate.Options{
			Include:         m.counters.ComputeIncludeKeywords,
			ParallelEngines: true,
		})
	}
	if m.npu != nil {
		npuSummary = aggregate.Summarize(m.npu.Sample(tickCtx), aggregate.Options{
			ParallelEngines: true,
		})
	}
	m.lastCompute = computeSummary
	m.lastNPU = npuSummary

	act := &activity.State{}
	if m.activity != nil {
		act = m.activity.Latest()
	}

	var powerWatts float64
	if m.power != nil {
		for _, w := range m.power.Sample(tickCtx) {
			powerWatts += w
		}
		m.lastPower = powerWatts
		if powerWatts > 0 && !act.Active {
			m.session.powerIdle.Add(powerWatts)
		}
	}

	s := m.session
	if m.system != nil {
		s.estimator.Observe(sys.CPUPercent, act.Active)
		s.cpu.Add(sys.CPUPercent)
		s.memory.Add(sys.MemoryPercent)
		s.diskRead.Add(sys.DiskReadBPS)
		s.diskWrite.Add(sys.DiskWriteBPS)
		s.netSent.Add(sys.NetSentBPS)
		s.netRecv.Add(sys.NetRecvBPS)
	}
	s.gpu.AddIfValid(gpuSummary.Overall, m.gpu != nil)
	s.npu.AddIfValid(npuSummary.Overall, m.npu != nil)

	snapshot := &Snapshot{
		Timestamp:    m.clock.Now(),
		System:       sys,
		Averages:     s.averages(),
		GPU:          gpuSummary,
		GPUCompute:   computeSummary,
		NPU:          npuSummary,
		GPUAvailable: m.gpu != nil,
		NPUAvailable: m.npu != nil,

		PowerWatts:     powerWatts,
		PowerAvailable: m.power != nil,

		Activity:   *act,
		Estimation: s.estimator.Estimate(),
	}
	m.snapshot.Store(snapshot)
	if m.onSnapshot != nil {
		m.onSnapshot(snapshot)
	}
}

func (s *session) averages() Averages {
	return Averages{
		CPUPercent:    s.cpu.Average(),
		MemoryPercent: s.memory.Average(),
		GPUPercent:    s.gpu.Average(),
		NPUPercent:    s.npu.Average(),
		DiskReadBPS:   s.diskRead.Average(),
		DiskWriteBPS:  s.diskWrite.Average(),
		NetSentBPS:    s.netSent.Average(),
		NetRecvBPS:    s.netRecv.Average(),
	}
}

func (m *Monitor) closeReaders() {
	for _, r := range []EngineSource{m.gpu, m.gpuCompute, m.npu, m.power} {
		if r != nil {
			r.Close()
		}
	}
}
