package estimate

// SignalReading is one auxiliary observation offered to the blend.
// Value is a percentage-like figure; Weight scales its contribution
// (contributions are additionally capped per signal). ConfidenceBonus
// is added to the result confidence when the signal contributes. A
// Direct reading above zero bypasses the CPU-pattern heuristic.
type SignalReading struct {
	Value           float64
	Weight          float64
	ConfidenceBonus float64
	Direct          bool
}

// Signal is a pluggable estimation signal source. New sources register
// on the estimator without modifying the core algorithm. Read returns
// false when the source has no usable observation this call; such
// sources are simply omitted.
type Signal interface {
	Name() string
	Read() (SignalReading, bool)
}

type funcSignal struct {
	name   string
	weight float64
	bonus  float64
	direct bool
	fetch  func() (float64, bool)
}

func (s *funcSignal) Name() string {
	return s.name
}

func (s *funcSignal) Read() (SignalReading, bool) {
	v, ok := s.fetch()
	if !ok {
		return SignalReading{}, false
	}
	return SignalReading{
		Value:           v,
		Weight:          s.weight,
		ConfidenceBonus: s.bonus,
		Direct:          s.direct,
	}, true
}

// ParallelEngineSignal observes utilization of compute-class engines
// that accelerator work may spill onto. It nudges the estimate rather
// than driving it: moderate weight, small confidence bonus.
func ParallelEngineSignal(fetch func() (float64, bool)) Signal {
	return &funcSignal{
		name:   "parallel_engine",
		weight: 0.5,
		bonus:  10,
		fetch:  fetch,
	}
}

// PowerDrawSignal observes the relative rise of package power draw
// over its idle baseline, in percent. Power is the weakest hint (fans,
// display, and CPU boost all move it), so it carries the lowest weight.
func PowerDrawSignal(fetch func() (float64, bool)) Signal {
	return &funcSignal{
		name:   "power_draw",
		weight: 0.3,
		bonus:  5,
		fetch:  fetch,
	}
}

// DirectCounterSignal observes a real accelerator utilization counter.
// Any reading above zero makes the estimation method Direct and
// bypasses the CPU-pattern heuristic entirely.
func DirectCounterSignal(fetch func() (float64, bool)) Signal {
	return &funcSignal{
		name:   "direct_counter",
		weight: 1,
		bonus:  10,
		direct: true,
		fetch:  fetch,
	}
}
