package logger

import (
	"runtime"
	"testing"

	"npu_exporter/internal/config"
)

func TestEventlogWriterPlatformSupport(t *testing.T) {
	w, err := createEventlogWriter(&config.EventlogConfig{
		Source: "NPU Exporter",
		ID:     1000,
	})

	if runtime.GOOS == "windows" {
		if err != nil {
			t.Fatalf("createEventlogWriter: %v", err)
		}
		if w == nil {
			t.Fatal("createEventlogWriter returned nil writer")
		}
		return
	}

	if err == nil {
		t.Fatal("expected error for eventlog output on this platform")
	}
	if w != nil {
		t.Fatalf("got writer %v alongside error", w)
	}
}
