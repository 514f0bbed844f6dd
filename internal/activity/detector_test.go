package activity

import (
	"context"
	"errors"
	"testing"

	"npu_exporter/internal/config"
)

type fakeProcess struct {
	pid        int32
	name       string
	cmdline    string
	cpu        float64
	nameErr    error
	cmdlineErr error
}

func (p fakeProcess) PID() int32 { return p.pid }

func (p fakeProcess) Name() (string, error) { return p.name, p.nameErr }

func (p fakeProcess) CPUPercent() (float64, error) { return p.cpu, nil }

func (p fakeProcess) Cmdline() (string, error) { return p.cmdline, p.cmdlineErr }

type fakeSource struct {
	procs []ProcessHandle
	err   error
}

func (s *fakeSource) Processes(ctx context.Context) ([]ProcessHandle, error) {
	return s.procs, s.err
}

func testConfig() config.ActivityConfig {
	return config.DefaultConfig().Activity
}

func TestLatestNeverNil(t *testing.T) {
	d := NewDetectorWithSource(testConfig(), true, &fakeSource{})
	state := d.Latest()
	if state == nil {
		t.Fatal("Latest returned nil before first scan")
	}
	if state.Active {
		t.Error("zero state should not be active")
	}
	if !state.DevicePresent {
		t.Error("zero state should carry device presence")
	}
}

func TestScanDetectsByName(t *testing.T) {
	source := &fakeSource{procs: []ProcessHandle{
		fakeProcess{pid: 100, name: "onnxruntime_server.exe", cpu: 12.5},
		fakeProcess{pid: 200, name: "notepad.exe", cpu: 30.0},
		fakeProcess{pid: 300, name: "PyTorch_Worker.exe", cpu: 5.0},
	}}
	d := NewDetectorWithSource(testConfig(), false, source)
	d.Scan(context.Background())

	state := d.Latest()
	if !state.Active {
		t.Fatal("expected activity with matching process names")
	}
	if state.ProcessCount != 2 {
		t.Fatalf("ProcessCount = %d, want 2", state.ProcessCount)
	}
	if state.CPUPercent != 17.5 {
		t.Errorf("CPUPercent = %v, want 17.5", state.CPUPercent)
	}
	// Sorted by CPU descending.
	if state.Processes[0].PID != 100 || state.Processes[1].PID != 300 {
		t.Errorf("unexpected process order: %+v", state.Processes)
	}
}

func TestScanDetectsInterpreterByCmdline(t *testing.T) {
	source := &fakeSource{procs: []ProcessHandle{
		fakeProcess{pid: 1, name: "python.exe", cmdline: "python train.py --model torch", cpu: 40},
		fakeProcess{pid: 2, name: "python.exe", cmdline: "python manage.py runserver", cpu: 40},
		fakeProcess{pid: 3, name: "node.exe", cmdline: "node inference-server.js", cpu: 10},
	}}
	d := NewDetectorWithSource(testConfig(), false, source)
	d.Scan(context.Background())

	state := d.Latest()
	if state.ProcessCount != 2 {
		t.Fatalf("ProcessCount = %d, want 2 (torch + inference)", state.ProcessCount)
	}
	for _, p := range state.Processes {
		if p.PID == 2 {
			t.Error("plain python process should not be classified as AI workload")
		}
	}
}

func TestScanAppliesCPUThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.MinProcessCPU = 5.0
	source := &fakeSource{procs: []ProcessHandle{
		fakeProcess{pid: 1, name: "onnxruntime.exe", cpu: 4.9},
		fakeProcess{pid: 2, name: "onnxruntime.exe", cpu: 5.0},
	}}
	d := NewDetectorWithSource(cfg, false, source)
	d.Scan(context.Background())

	state := d.Latest()
	if state.ProcessCount != 1 {
		t.Fatalf("ProcessCount = %d, want 1", state.ProcessCount)
	}
	if state.Processes[0].PID != 2 {
		t.Errorf("expected only the process at the threshold, got %+v", state.Processes)
	}
}

func TestScanSkipsUnreadableProcesses(t *testing.T) {
	source := &fakeSource{procs: []ProcessHandle{
		fakeProcess{pid: 1, name: "onnxruntime.exe", cpu: 10, nameErr: errors.New("gone")},
		fakeProcess{pid: 2, name: "python.exe", cmdline: "", cpu: 10, cmdlineErr: errors.New("denied")},
		fakeProcess{pid: 3, name: "directml_host.exe", cpu: 10},
	}}
	d := NewDetectorWithSource(testConfig(), false, source)
	d.Scan(context.Background())

	state := d.Latest()
	if state.ProcessCount != 1 {
		t.Fatalf("ProcessCount = %d, want 1", state.ProcessCount)
	}
	if state.Processes[0].PID != 3 {
		t.Errorf("unexpected surviving process: %+v", state.Processes)
	}
}

func TestScanFailureKeepsPreviousState(t *testing.T) {
	source := &fakeSource{procs: []ProcessHandle{
		fakeProcess{pid: 1, name: "copilot_runtime.exe", cpu: 20},
	}}
	d := NewDetectorWithSource(testConfig(), true, source)
	d.Scan(context.Background())
	if !d.Latest().Active {
		t.Fatal("expected active state after first scan")
	}

	source.err = errors.New("enumeration failed")
	source.procs = nil
	d.Scan(context.Background())

	state := d.Latest()
	if !state.Active || state.ProcessCount != 1 {
		t.Error("failed scan should keep the previous state")
	}
}

func TestScanClearsStateWhenWorkloadsExit(t *testing.T) {
	source := &fakeSource{procs: []ProcessHandle{
		fakeProcess{pid: 1, name: "tensorflow_serving.exe", cpu: 50},
	}}
	d := NewDetectorWithSource(testConfig(), true, source)
	d.Scan(context.Background())

	source.procs = nil
	d.Scan(context.Background())

	state := d.Latest()
	if state.Active || state.ProcessCount != 0 {
		t.Errorf("expected idle state, got %+v", state)
	}
	if !state.DevicePresent {
		t.Error("device presence should persist across scans")
	}
}
