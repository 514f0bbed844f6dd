//go:build windows

package main

import "npu_exporter/internal/counters"

// newCounterSubsystem returns the PDH-backed counter subsystem.
func newCounterSubsystem() counters.Subsystem {
	return counters.NewPDHSubsystem()
}
