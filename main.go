package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"npu_exporter/internal/activity"
	"npu_exporter/internal/collectors/npumetrics"
	"npu_exporter/internal/config"
	"npu_exporter/internal/counters"
	"npu_exporter/internal/estimate"
	"npu_exporter/internal/logger"
	"npu_exporter/internal/monitor"
)

var (
	version = "0.1.0"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	// A nil config means -generate-config ran; nothing else to do.
	if cfg == nil {
		return
	}

	if err := logger.ConfigureLogging(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure loggers: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", version).
		Str("listen_address", cfg.Server.ListenAddress).
		Str("metrics_path", cfg.Server.MetricsPath).
		Dur("interval", cfg.Monitor.Interval.Duration).
		Msg("Starting NPU Exporter")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	subsystem := newCounterSubsystem()
	devicePresent := probeDevicePresence(subsystem, cfg.Counters.NPUEnginePattern)
	log.Info().Bool("npu_device_present", devicePresent).Msg("Accelerator capability probe complete")

	detector := activity.NewDetector(cfg.Activity, devicePresent)
	go detector.Run(ctx)
	log.Debug().Msg("- Activity detector started")

	mon, err := monitor.New(monitor.Options{
		Monitor:   cfg.Monitor,
		Counters:  cfg.Counters,
		Estimator: estimatorConfig(cfg.Estimator),
		System:    monitor.NewHostSampler(),
		Subsystem: subsystem,
		Activity:  detector,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to create monitor")
	}
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		mon.Run(ctx)
	}()
	log.Debug().Msg("- Monitor loop started")

	prometheus.MustRegister(npumetrics.NewCollector(mon))
	log.Debug().Msg("- Metrics collector registered")

	if cfg.Server.PprofEnabled {
		go func() {
			log.Info().Msg("Starting pprof HTTP server on localhost:6060")
			http.ListenAndServe("localhost:6060", nil)
		}()
	}

	// Set up HTTP server for Prometheus metrics
	http.Handle(cfg.Server.MetricsPath, promhttp.Handler())
	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>
            <head><title>NPU Exporter</title></head>
            <body>
            <h1>NPU Exporter v` + version + ` </h1>
            <p><a href="` + cfg.Server.MetricsPath + `">Metrics</a></p>
            </body>
            </html>`))
	})

	log.Info().Str("address", cfg.Server.ListenAddress).Msg("🌐 Starting HTTP server")
	srv := &http.Server{Addr: cfg.Server.ListenAddress}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("❌ Failed to start HTTP server")
		}
	}()

	log.Info().Msg("NPU Exporter is ready and sampling...")

	<-ctx.Done()
	log.Info().Msg("🛑 Received shutdown signal, shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("❌ Error shutting down HTTP server")
	}

	// Let the in-flight tick finish and the counter readers close.
	select {
	case <-monitorDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("Monitor loop did not stop before the shutdown deadline")
	}

	log.Info().Msg("NPU Exporter stopped gracefully")
}

// estimatorConfig maps the TOML estimator section onto the estimation
// heuristics.
func estimatorConfig(c config.EstimatorConfig) estimate.Config {
	return estimate.Config{
		BaselineWindow:      c.BaselineWindow,
		ActiveWindow:        c.ActiveWindow,
		MinBaselineSamples:  c.MinBaselineSamples,
		MinActiveSamples:    c.MinActiveSamples,
		EfficiencyThreshold: c.EfficiencyThreshold,
		ScaleFactor:         c.ScaleFactor,
		ConfidencePerSample: c.ConfidencePerSample,
		PerSignalCap:        c.PerSignalCap,
	}
}

// probeDevicePresence reports whether dedicated NPU counters exist on
// this host. The boolean feeds the activity state; full device
// enumeration is out of scope.
func probeDevicePresence(sub counters.Subsystem, pattern string) bool {
	if sub == nil {
		return false
	}
	paths, err := counters.Resolve(sub, pattern)
	return err == nil && len(paths) > 0
}
