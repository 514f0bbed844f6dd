//go:build windows

package logger

import (
	"npu_exporter/internal/config"

	"github.com/phuslu/log"
)

// createEventlogWriter creates an eventlog writer based on configuration
func createEventlogWriter(config *config.EventlogConfig) (log.Writer, error) {
	baseWriter := &log.EventlogWriter{
		Source: config.Source,
		ID:     uintptr(config.ID),
		Host:   config.Host,
	}

	if config.Async {
		return &log.AsyncWriter{
			ChannelSize: 4096,
			Writer:      baseWriter,
		}, nil
	}
	return baseWriter, nil
}
