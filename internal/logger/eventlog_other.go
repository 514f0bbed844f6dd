//go:build !windows

package logger

import (
	"fmt"

	"npu_exporter/internal/config"

	"github.com/phuslu/log"
)

// createEventlogWriter rejects eventlog outputs where the OS has no
// event log. The config surface stays identical across platforms.
func createEventlogWriter(config *config.EventlogConfig) (log.Writer, error) {
	return nil, fmt.Errorf("eventlog output unsupported on this platform")
}
