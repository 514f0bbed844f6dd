package estimate

import (
	"math"
	"testing"
)

func fill(e *Estimator, baseline, active []float64) {
	for _, v := range baseline {
		e.Observe(v, false)
	}
	for _, v := range active {
		e.Observe(v, true)
	}
}

func TestInsufficientData(t *testing.T) {
	tests := []struct {
		name     string
		baseline int
		active   int
	}{
		{"empty", 0, 0},
		{"baseline short", 9, 20},
		{"active short", 50, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(DefaultConfig())
			for i := 0; i < tt.baseline; i++ {
				e.Observe(50, false)
			}
			for i := 0; i < tt.active; i++ {
				e.Observe(30, true)
			}

			got := e.Estimate()
			if got.Method != MethodInsufficientData {
				t.Errorf("Method = %v, want insufficient_data", got.Method)
			}
			if got.Estimate != 0 || got.Confidence != 0 {
				t.Errorf("Expected zero estimate and confidence, got %v", got)
			}
		})
	}
}

func TestCPUPatternEstimation(t *testing.T) {
	// Baseline avg 50.1, active avg 30.0: efficiency (50.1-30)/50.1
	// exceeds the threshold, so the estimate is efficiency * scale.
	cfg := DefaultConfig()
	cfg.EfficiencyThreshold = 0.2
	e := New(cfg)
	fill(e,
		[]float64{50, 52, 48, 51, 49, 50, 53, 47, 50, 51},
		[]float64{30, 32, 28, 31, 29},
	)

	got := e.Estimate()
	if got.Method != MethodEstimated {
		t.Fatalf("Method = %v, want estimated", got.Method)
	}

	efficiency := (50.1 - 30.0) / 50.1
	wantEstimate := math.Min(100, efficiency*cfg.ScaleFactor)
	if math.Abs(got.Estimate-wantEstimate) > 0.1 {
		t.Errorf("Estimate = %f, want ~%f", got.Estimate, wantEstimate)
	}
	if got.Confidence <= 0 {
		t.Errorf("Confidence = %f, want > 0", got.Confidence)
	}
}

func TestEfficiencyBelowThresholdYieldsZero(t *testing.T) {
	e := New(DefaultConfig())
	// 5% reduction, below the 15% threshold.
	fill(e,
		[]float64{50, 50, 50, 50, 50, 50, 50, 50, 50, 50},
		[]float64{47.5, 47.5, 47.5, 47.5, 47.5},
	)

	got := e.Estimate()
	if got.Method != MethodEstimated {
		t.Fatalf("Method = %v, want estimated", got.Method)
	}
	if got.Estimate != 0 {
		t.Errorf("Estimate = %f, want 0 below threshold", got.Estimate)
	}
}

func TestActiveAboveBaselineYieldsZero(t *testing.T) {
	e := New(DefaultConfig())
	fill(e,
		[]float64{20, 20, 20, 20, 20, 20, 20, 20, 20, 20},
		[]float64{80, 80, 80, 80, 80},
	)

	got := e.Estimate()
	if got.Estimate != 0 {
		t.Errorf("Estimate = %f, want 0 when active CPU exceeds baseline", got.Estimate)
	}
}

func TestEstimateMonotonicInEfficiency(t *testing.T) {
	cfg := DefaultConfig()
	prev := -1.0
	// Sweep active averages downward: efficiency rises, estimate must
	// never decrease.
	for activeCPU := 40.0; activeCPU >= 5; activeCPU -= 5 {
		e := New(cfg)
		for i := 0; i < 20; i++ {
			e.Observe(50, false)
		}
		for i := 0; i < 10; i++ {
			e.Observe(activeCPU, true)
		}

		got := e.Estimate()
		if got.Estimate < prev {
			t.Fatalf("Estimate decreased from %f to %f at active CPU %f", prev, got.Estimate, activeCPU)
		}
		prev = got.Estimate
	}
}

func TestWindowEviction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaselineWindow = 10
	e := New(cfg)

	// Fill with high values, then push enough low values to evict them all.
	for i := 0; i < 10; i++ {
		e.Observe(90, false)
	}
	for i := 0; i < 10; i++ {
		e.Observe(10, false)
	}

	if e.BaselineSamples() != 10 {
		t.Errorf("BaselineSamples = %d, want capacity 10", e.BaselineSamples())
	}
	if mean := e.baseline.mean(); math.Abs(mean-10) > 1e-9 {
		t.Errorf("Baseline mean = %f, want 10 after eviction", mean)
	}
}

type stubSignal struct {
	name    string
	reading SignalReading
	ok      bool
}

func (s *stubSignal) Name() string { return s.name }

func (s *stubSignal) Read() (SignalReading, bool) { return s.reading, s.ok }

func TestDirectSignalBypassesHeuristic(t *testing.T) {
	e := New(DefaultConfig())
	// No CPU history at all: direct counter must still win.
	e.Register(&stubSignal{
		name:    "npu_counter",
		reading: SignalReading{Value: 64, Direct: true, ConfidenceBonus: 10},
		ok:      true,
	})

	got := e.Estimate()
	if got.Method != MethodDirect {
		t.Fatalf("Method = %v, want direct", got.Method)
	}
	if got.Estimate != 64 {
		t.Errorf("Estimate = %f, want 64", got.Estimate)
	}
	if got.Confidence != 100 {
		t.Errorf("Confidence = %f, want 100", got.Confidence)
	}
}

func TestZeroDirectReadingFallsThrough(t *testing.T) {
	e := New(DefaultConfig())
	fill(e,
		[]float64{50, 50, 50, 50, 50, 50, 50, 50, 50, 50},
		[]float64{25, 25, 25, 25, 25},
	)
	e.Register(&stubSignal{
		name:    "npu_counter",
		reading: SignalReading{Value: 0, Direct: true},
		ok:      true,
	})

	got := e.Estimate()
	if got.Method != MethodEstimated {
		t.Errorf("Method = %v, want estimated when direct counter reads zero", got.Method)
	}
}

func TestBlendedSignalContribution(t *testing.T) {
	cfg := DefaultConfig()
	e := New(cfg)
	fill(e,
		[]float64{50, 50, 50, 50, 50, 50, 50, 50, 50, 50},
		[]float64{25, 25, 25, 25, 25},
	)

	base := e.Estimate()

	e.Register(&stubSignal{
		name:    "gpu_compute",
		reading: SignalReading{Value: 30, Weight: 0.5, ConfidenceBonus: 10},
		ok:      true,
	})

	got := e.Estimate()
	if got.Method != MethodBlended {
		t.Fatalf("Method = %v, want blended", got.Method)
	}
	wantEstimate := math.Min(100, base.Estimate+15) // 30 * 0.5, under the cap
	if math.Abs(got.Estimate-wantEstimate) > 1e-9 {
		t.Errorf("Estimate = %f, want %f", got.Estimate, wantEstimate)
	}
	if got.Confidence <= base.Confidence {
		t.Errorf("Confidence should rise with a contributing signal: %f vs %f", got.Confidence, base.Confidence)
	}
}

func TestSignalContributionCapped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PerSignalCap = 10
	e := New(cfg)
	fill(e,
		[]float64{50, 50, 50, 50, 50, 50, 50, 50, 50, 50},
		[]float64{25, 25, 25, 25, 25},
	)

	base := e.Estimate()

	e.Register(&stubSignal{
		name:    "gpu_compute",
		reading: SignalReading{Value: 100, Weight: 1}, // raw contribution 100
		ok:      true,
	})

	got := e.Estimate()
	want := math.Min(100, base.Estimate+10)
	if math.Abs(got.Estimate-want) > 1e-9 {
		t.Errorf("Estimate = %f, want capped %f", got.Estimate, want)
	}
}

func TestFailingSignalOmitted(t *testing.T) {
	e := New(DefaultConfig())
	fill(e,
		[]float64{50, 50, 50, 50, 50, 50, 50, 50, 50, 50},
		[]float64{25, 25, 25, 25, 25},
	)

	base := e.Estimate()

	e.Register(&stubSignal{name: "broken", ok: false})

	got := e.Estimate()
	if got != base {
		t.Errorf("Failing signal changed the result: %v vs %v", got, base)
	}
	if got.Method != MethodEstimated {
		t.Errorf("Method = %v, want estimated", got.Method)
	}
}

func TestSignalOnlyBlendWithoutCPUHistory(t *testing.T) {
	e := New(DefaultConfig())
	e.Register(&stubSignal{
		name:    "gpu_compute",
		reading: SignalReading{Value: 40, Weight: 0.5, ConfidenceBonus: 10},
		ok:      true,
	})

	got := e.Estimate()
	if got.Method != MethodBlended {
		t.Fatalf("Method = %v, want blended from signal alone", got.Method)
	}
	if got.Estimate != 20 {
		t.Errorf("Estimate = %f, want 20", got.Estimate)
	}
}

func TestPowerDrawSignalContribution(t *testing.T) {
	e := New(DefaultConfig())
	rise := 50.0
	ok := true
	e.Register(PowerDrawSignal(func() (float64, bool) { return rise, ok }))

	got := e.Estimate()
	if got.Method != MethodBlended {
		t.Fatalf("Method = %v, want blended", got.Method)
	}
	if got.Estimate != 15 {
		t.Errorf("Estimate = %f, want 15 (50 * 0.3)", got.Estimate)
	}
	if got.Confidence != 5 {
		t.Errorf("Confidence = %f, want the power bonus of 5", got.Confidence)
	}

	// A source with no observation this call is omitted entirely.
	ok = false
	got = e.Estimate()
	if got.Method != MethodInsufficientData {
		t.Errorf("Method = %v, want insufficient_data with no observation", got.Method)
	}
}

func TestResultsAlwaysInRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ScaleFactor = 10000
	e := New(cfg)
	fill(e,
		[]float64{90, 90, 90, 90, 90, 90, 90, 90, 90, 90},
		[]float64{1, 1, 1, 1, 1},
	)

	got := e.Estimate()
	if got.Estimate < 0 || got.Estimate > 100 {
		t.Errorf("Estimate %f outside [0,100]", got.Estimate)
	}
	if got.Confidence < 0 || got.Confidence > 100 {
		t.Errorf("Confidence %f outside [0,100]", got.Confidence)
	}
}

func TestMethodString(t *testing.T) {
	tests := []struct {
		method Method
		want   string
	}{
		{MethodInsufficientData, "insufficient_data"},
		{MethodEstimated, "estimated"},
		{MethodBlended, "blended"},
		{MethodDirect, "direct"},
	}
	for _, tt := range tests {
		if got := tt.method.String(); got != tt.want {
			t.Errorf("Method(%d).String() = %q, want %q", tt.method, got, tt.want)
		}
	}
}
