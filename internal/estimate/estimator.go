// Package estimate derives an accelerator-utilization figure from
// indirect signals when no direct hardware counter exists.
//
// The core heuristic compares CPU load during accelerator-consuming
// activity against an idle baseline: CPU load that drops below the
// baseline while such activity runs implies the missing work was
// offloaded. Auxiliary signal sources (parallel-engine utilization, a
// real accelerator counter where the host exposes one) blend into or
// override the CPU-pattern estimate.
package estimate

// Method tags how an estimation result was produced.
type Method int

const (
	// MethodInsufficientData means the estimator lacks enough history
	// and no signal contributed. Estimate and confidence are zero.
	MethodInsufficientData Method = iota

	// MethodEstimated means the CPU-pattern heuristic alone produced
	// the result.
	MethodEstimated

	// MethodBlended means at least one auxiliary signal contributed on
	// top of the CPU-pattern heuristic.
	MethodBlended

	// MethodDirect means a direct accelerator counter was available and
	// non-zero; the heuristic was bypassed entirely.
	MethodDirect
)

func (m Method) String() string {
	switch m {
	case MethodInsufficientData:
		return "insufficient_data"
	case MethodEstimated:
		return "estimated"
	case MethodBlended:
		return "blended"
	case MethodDirect:
		return "direct"
	default:
		return "unknown"
	}
}

// Result is one estimation outcome. Estimate and Confidence are
// percentages in [0, 100].
type Result struct {
	Estimate   float64
	Confidence float64
	Method     Method
}

// Config holds the estimation heuristics. The scale factor and
// efficiency threshold were chosen empirically against hosts with no
// ground-truth accelerator counter, so their calibration is unverified;
// they are configuration rather than constants for that reason.
type Config struct {
	BaselineWindow      int
	ActiveWindow        int
	MinBaselineSamples  int
	MinActiveSamples    int
	EfficiencyThreshold float64
	ScaleFactor         float64
	ConfidencePerSample float64
	PerSignalCap        float64
}

// DefaultConfig returns the estimation defaults.
func DefaultConfig() Config {
	return Config{
		BaselineWindow:      120,
		ActiveWindow:        45,
		MinBaselineSamples:  10,
		MinActiveSamples:    5,
		EfficiencyThreshold: 0.15,
		ScaleFactor:         150,
		ConfidencePerSample: 3,
		PerSignalCap:        25,
	}
}

// Estimator maintains the baseline and active CPU windows and computes
// estimates on demand. It is owned by a single task; methods are not
// safe for concurrent use.
type Estimator struct {
	cfg      Config
	baseline *window
	active   *window
	signals  []Signal
}

// New creates an estimator with the given heuristics.
func New(cfg Config) *Estimator {
	return &Estimator{
		cfg:      cfg,
		baseline: newWindow(cfg.BaselineWindow),
		active:   newWindow(cfg.ActiveWindow),
	}
}

// Register adds an auxiliary signal source. Sources participate in
// every subsequent Estimate call; a source that fails to read is simply
// omitted for that call.
func (e *Estimator) Register(s Signal) {
	e.signals = append(e.signals, s)
}

// Observe records one CPU sample. The state transition is driven purely
// by the externally supplied activity flag: active samples feed the
// active window, idle samples feed the baseline window.
func (e *Estimator) Observe(cpuPercent float64, active bool) {
	if active {
		e.active.push(cpuPercent)
	} else {
		e.baseline.push(cpuPercent)
	}
}

// BaselineSamples returns the current baseline window population.
func (e *Estimator) BaselineSamples() int {
	return e.baseline.len()
}

// ActiveSamples returns the current active window population.
func (e *Estimator) ActiveSamples() int {
	return e.active.len()
}

// Estimate computes the current accelerator-utilization estimate.
//
// A direct counter signal reading above zero short-circuits the
// heuristic. Otherwise the CPU-pattern estimate is computed from the
// two windows and auxiliary signal contributions are added, each capped
// per signal. Nothing is stored; callers get a fresh result per call.
func (e *Estimator) Estimate() Result {
	readings := e.readSignals()

	for _, r := range readings {
		if r.Direct && r.Value > 0 {
			return Result{
				Estimate:   clamp(r.Value),
				Confidence: clamp(90 + r.ConfidenceBonus),
				Method:     MethodDirect,
			}
		}
	}

	cpuResult, cpuOK := e.cpuPattern()

	estimate := cpuResult.Estimate
	confidence := cpuResult.Confidence
	contributed := 0
	for _, r := range readings {
		if r.Direct {
			continue // a zero direct reading contributes nothing
		}
		contribution := r.Value * r.Weight
		if contribution <= 0 {
			continue
		}
		if contribution > e.cfg.PerSignalCap {
			contribution = e.cfg.PerSignalCap
		}
		estimate += contribution
		confidence += r.ConfidenceBonus
		contributed++
	}

	if !cpuOK && contributed == 0 {
		return Result{Method: MethodInsufficientData}
	}

	method := MethodEstimated
	if contributed > 0 {
		method = MethodBlended
	}
	return Result{
		Estimate:   clamp(estimate),
		Confidence: clamp(confidence),
		Method:     method,
	}
}

// cpuPattern runs the baseline-versus-active comparison. The boolean is
// false when the windows are too small to say anything.
func (e *Estimator) cpuPattern() (Result, bool) {
	if e.baseline.len() < e.cfg.MinBaselineSamples || e.active.len() < e.cfg.MinActiveSamples {
		return Result{}, false
	}

	baselineAvg := e.baseline.mean()
	activeAvg := e.active.mean()

	efficiency := 0.0
	if baselineAvg > 0 {
		efficiency = (baselineAvg - activeAvg) / baselineAvg
		if efficiency < 0 {
			efficiency = 0
		}
	}

	if efficiency <= e.cfg.EfficiencyThreshold {
		return Result{Method: MethodEstimated}, true
	}

	estimate := efficiency * e.cfg.ScaleFactor
	confidence := float64(e.active.len())*e.cfg.ConfidencePerSample + efficiency*100
	return Result{
		Estimate:   clamp(estimate),
		Confidence: clamp(confidence),
		Method:     MethodEstimated,
	}, true
}

func (e *Estimator) readSignals() []SignalReading {
	readings := make([]SignalReading, 0, len(e.signals))
	for _, s := range e.signals {
		r, ok := s.Read()
		if !ok {
			continue
		}
		readings = append(readings, r)
	}
	return readings
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
