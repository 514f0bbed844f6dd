//go:build !windows

package main

import "npu_exporter/internal/counters"

// newCounterSubsystem returns nil on platforms without a performance
// counter API; engine classes stay disabled and only host metrics and
// the estimation heuristic run.
func newCounterSubsystem() counters.Subsystem {
	return nil
}
