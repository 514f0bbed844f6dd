package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Configuration system:
// - config.example.toml is auto-generated with -generate-config
// - Use brief comments here for reference only

// AppConfig represents the complete application configuration
type AppConfig struct {
	// Server configuration
	Server ServerConfig `toml:"server"`

	// Monitor loop configuration
	Monitor MonitorConfig `toml:"monitor"`

	// Counter pattern configuration
	Counters CountersConfig `toml:"counters"`

	// NPU usage estimator configuration
	Estimator EstimatorConfig `toml:"estimator"`

	// AI activity detector configuration
	Activity ActivityConfig `toml:"activity"`

	// Logging configuration
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	// Listen address (default: "localhost:9190")
	ListenAddress string `toml:"listen_address"`

	// Metrics endpoint path (default: "/metrics")
	MetricsPath string `toml:"metrics_path"`

	// Enable pprof endpoint for debugging (default: false)
	PprofEnabled bool `toml:"pprof_enabled"`
}

// MonitorConfig contains sampling loop settings
type MonitorConfig struct {
	// Sampling interval (default: "1s")
	Interval duration `toml:"interval"`

	// Settle delay between the two PDH collections of a tick (default: "200ms").
	// Rate counters compute percentages from deltas between collections.
	SettleDelay duration `toml:"settle_delay"`

	// Timeout budget for a single tick, including the settle delay (default: "5s")
	TickTimeout duration `toml:"tick_timeout"`
}

// CountersConfig contains the wildcard counter path patterns and the
// keyword filters applied to the expanded engine instances.
type CountersConfig struct {
	// GPU engine wildcard pattern (default: `\GPU Engine(*)\Utilization Percentage`)
	GPUEnginePattern string `toml:"gpu_engine_pattern"`

	// NPU engine wildcard pattern (default: `\NPU Engine(*)\Utilization Percentage`).
	// Only present on Windows 11 24H2+ with a supporting driver.
	NPUEnginePattern string `toml:"npu_engine_pattern"`

	// GPU compute engine pattern used as an auxiliary estimation signal
	// (default: `\GPU Engine(*engtype_Compute)\Utilization Percentage`)
	GPUComputePattern string `toml:"gpu_compute_pattern"`

	// Package power meter pattern used as an auxiliary estimation
	// signal; draw above the idle baseline hints at accelerator work
	// (default: `\Power Meter(*)\Power`)
	PowerMeterPattern string `toml:"power_meter_pattern"`

	// Instance keywords excluded from the GPU summary (default: ["Copy"])
	GPUExcludeKeywords []string `toml:"gpu_exclude_keywords"`

	// Instance keywords the GPU compute summary must contain
	// (default: ["Compute", "engtype_3D"])
	ComputeIncludeKeywords []string `toml:"compute_include_keywords"`
}

// EstimatorConfig contains the NPU usage estimation heuristics.
// The scale factor and efficiency threshold are empirically chosen; no
// ground-truth NPU counter was available to calibrate them.
type EstimatorConfig struct {
	// Baseline window capacity in samples (default: 120)
	BaselineWindow int `toml:"baseline_window"`

	// Active window capacity in samples (default: 45)
	ActiveWindow int `toml:"active_window"`

	// Minimum baseline samples before estimating (default: 10)
	MinBaselineSamples int `toml:"min_baseline_samples"`

	// Minimum active samples before estimating (default: 5)
	MinActiveSamples int `toml:"min_active_samples"`

	// CPU efficiency ratio below which the estimate is zero (default: 0.15)
	EfficiencyThreshold float64 `toml:"efficiency_threshold"`

	// Multiplier converting the efficiency ratio to a utilization
	// percentage (default: 150)
	ScaleFactor float64 `toml:"scale_factor"`

	// Confidence gained per active window sample (default: 3)
	ConfidencePerSample float64 `toml:"confidence_per_sample"`

	// Maximum contribution a single auxiliary signal may add to the
	// estimate (default: 25)
	PerSignalCap float64 `toml:"per_signal_cap"`
}

// ActivityConfig contains AI process detection settings
type ActivityConfig struct {
	// Detector scan interval, may be coarser than the monitor interval (default: "2s")
	Interval duration `toml:"interval"`

	// Process name substrings treated as AI workloads
	NamePatterns []string `toml:"name_patterns"`

	// Command line substrings that mark interpreter processes
	// (python, node) as AI workloads
	CmdlineKeywords []string `toml:"cmdline_keywords"`

	// Interpreter process names whose command line is inspected
	Interpreters []string `toml:"interpreters"`

	// Minimum per-process CPU percentage to count as active (default: 1.0)
	MinProcessCPU float64 `toml:"min_process_cpu"`
}

// LoggingConfig contains the complete logging configuration
type LoggingConfig struct {
	// Default logging settings applied to all loggers
	Defaults LogDefaults `toml:"defaults"`

	// Output configurations - can have multiple outputs
	Outputs []LogOutput `toml:"outputs"`
}

// LogDefaults contains default logger settings
type LogDefaults struct {
	// Log level (default: "info")
	Level string `toml:"level"`

	// Include caller information (default: 0)
	Caller int `toml:"caller"`

	// Time field name (default: "time")
	TimeField string `toml:"time_field"`

	// Time format (default: "" = RFC3339 with milliseconds)
	TimeFormat string `toml:"time_format"`

	// Time zone (default: "Local")
	TimeLocation string `toml:"time_location"`
}

// LogOutput represents a single output configuration
type LogOutput struct {
	// Output type: "console", "file", "syslog", "eventlog"
	Type string `toml:"type"`

	// Enable this output (default: true)
	Enabled bool `toml:"enabled"`

	// Configuration specific to the output type
	Console  *ConsoleConfig  `toml:"console,omitempty"`
	File     *FileConfig     `toml:"file,omitempty"`
	Syslog   *SyslogConfig   `toml:"syslog,omitempty"`
	Eventlog *EventlogConfig `toml:"eventlog,omitempty"`
}

// ConsoleConfig contains console/terminal output settings
type ConsoleConfig struct {
	// Use fast JSON output (default: false)
	FastIO bool `toml:"fast_io"`

	// Output format when fast_io=false (default: "auto")
	Format string `toml:"format"`

	// Enable colored output (default: true)
	ColorOutput bool `toml:"color_output"`

	// Quote string values (default: true)
	QuoteString bool `toml:"quote_string"`

	// Output destination (default: "stderr")
	Writer string `toml:"writer"`

	// Use asynchronous writing (default: false)
	Async bool `toml:"async"`
}

// FileConfig contains file output settings
type FileConfig struct {
	// Log file path (required)
	Filename string `toml:"filename"`

	// Maximum file size in megabytes (default: 10)
	MaxSize int64 `toml:"max_size"`

	// Maximum number of old log files to keep (default: 7)
	MaxBackups int `toml:"max_backups"`

	// Time format for rotated filenames (default: "2006-01-02T15-04-05")
	TimeFormat string `toml:"time_format"`

	// Use local time for rotation timestamps (default: true)
	LocalTime bool `toml:"local_time"`

	// Include hostname in filename (default: true)
	HostName bool `toml:"host_name"`

	// Include process ID in filename (default: true)
	ProcessID bool `toml:"process_id"`

	// Create directory if it doesn't exist (default: true)
	EnsureFolder bool `toml:"ensure_folder"`

	// Use asynchronous writing (default: true)
	Async bool `toml:"async"`
}

// SyslogConfig contains syslog output settings
type SyslogConfig struct {
	// Network protocol (default: "udp")
	Network string `toml:"network"`

	// Syslog server address (default: "localhost:514")
	Address string `toml:"address"`

	// Hostname for syslog messages (default: system hostname)
	Hostname string `toml:"hostname"`

	// Syslog tag/program name (default: "npu_exporter")
	Tag string `toml:"tag"`

	// Message prefix marker (default: "@cee:")
	Marker string `toml:"marker"`

	// Use asynchronous writing (default: true)
	Async bool `toml:"async"`
}

// EventlogConfig contains Windows Event Log settings
type EventlogConfig struct {
	// Event source name (default: "NPU Exporter")
	Source string `toml:"source"`

	// Event ID for log entries (default: 1000)
	ID int `toml:"id"`

	// Target host (default: local machine)
	Host string `toml:"host"`

	// Use asynchronous writing (default: false)
	Async bool `toml:"async"`
}

// duration wraps time.Duration so TOML can parse "1s" style strings.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			ListenAddress: "localhost:9190",
			MetricsPath:   "/metrics",
			PprofEnabled:  false,
		},
		Monitor: MonitorConfig{
			Interval:    duration{1 * time.Second},
			SettleDelay: duration{200 * time.Millisecond},
			TickTimeout: duration{5 * time.Second},
		},
		Counters: CountersConfig{
			GPUEnginePattern:       `\GPU Engine(*)\Utilization Percentage`,
			NPUEnginePattern:       `\NPU Engine(*)\Utilization Percentage`,
			GPUComputePattern:      `\GPU Engine(*engtype_Compute)\Utilization Percentage`,
			PowerMeterPattern:      `\Power Meter(*)\Power`,
			GPUExcludeKeywords:     []string{"Copy"},
			ComputeIncludeKeywords: []string{"Compute", "engtype_3D"},
		},
		Estimator: EstimatorConfig{
			BaselineWindow:      120,
			ActiveWindow:        45,
			MinBaselineSamples:  10,
			MinActiveSamples:    5,
			EfficiencyThreshold: 0.15,
			ScaleFactor:         150,
			ConfidencePerSample: 3,
			PerSignalCap:        25,
		},
		Activity: ActivityConfig{
			Interval: duration{2 * time.Second},
			NamePatterns: []string{
				"onnxruntime", "directml", "pytorch", "tensorflow",
				"windowsai", "winml", "copilot", "recall", "studio_effects",
			},
			CmdlineKeywords: []string{
				"onnx", "torch", "tensorflow", "ml", "ai", "neural", "inference",
			},
			Interpreters:  []string{"python", "node"},
			MinProcessCPU: 1.0,
		},
		Logging: LoggingConfig{
			Defaults: LogDefaults{
				Level:        "info",
				Caller:       0,
				TimeField:    "time",
				TimeFormat:   "",
				TimeLocation: "Local",
			},
			Outputs: []LogOutput{
				{
					Type:    "console",
					Enabled: true,
					Console: &ConsoleConfig{
						FastIO:      false,
						Format:      "auto",
						ColorOutput: true,
						QuoteString: true,
						Writer:      "stderr",
						Async:       false,
					},
				},
				{
					Type:    "file",
					Enabled: false,
					File: &FileConfig{
						Filename:     "logs/app.log",
						MaxSize:      10, // 10MB
						MaxBackups:   7,
						TimeFormat:   "2006-01-02T15-04-05",
						LocalTime:    true,
						HostName:     true,
						ProcessID:    true,
						EnsureFolder: true,
						Async:        true,
					},
				},
				{
					Type:    "syslog",
					Enabled: false,
					Syslog: &SyslogConfig{
						Network:  "udp",
						Address:  "localhost:514",
						Tag:      "npu_exporter",
						Hostname: "", // Uses system hostname by default
						Marker:   "@cee:",
						Async:    true,
					},
				},
				{
					Type:    "eventlog",
					Enabled: false,
					Eventlog: &EventlogConfig{
						Source: "NPU Exporter",
						ID:     1000,
						Host:   "",
						Async:  false,
					},
				},
			},
		},
	}
}

// LoadConfig loads configuration from a TOML file, falling back to defaults
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	// If no config file specified, use defaults
	if configPath == "" {
		return config, nil
	}

	if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
		return config, fmt.Errorf("config file not found: %s", configPath)
	}

	// Parse TOML file
	if _, err := toml.DecodeFile(configPath, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	return config, nil
}

// SaveConfig saves the configuration to a TOML file
func SaveConfig(configPath string, config *AppConfig) error {
	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file %s: %w", configPath, err)
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// GenerateExampleConfig generates a TOML configuration file with default values
func GenerateExampleConfig(outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	header := `# NPU Exporter Example Configuration
# This file is auto-generated and serves as an example configuration.
# Copy this file to create your own configuration and modify as needed.
#
# Format: TOML (Tom's Obvious, Minimal Language)

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	config := DefaultConfig()
	if err := toml.NewEncoder(file).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks the configuration for errors
func (c *AppConfig) Validate() error {
	if c.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address cannot be empty")
	}
	if c.Server.MetricsPath == "" {
		return fmt.Errorf("server.metrics_path cannot be empty")
	}

	if c.Monitor.Interval.Duration <= 0 {
		return fmt.Errorf("monitor.interval must be positive")
	}
	if c.Monitor.SettleDelay.Duration < 0 {
		return fmt.Errorf("monitor.settle_delay cannot be negative")
	}
	if c.Monitor.TickTimeout.Duration <= c.Monitor.SettleDelay.Duration {
		return fmt.Errorf("monitor.tick_timeout must exceed monitor.settle_delay")
	}

	if c.Estimator.BaselineWindow <= 0 || c.Estimator.ActiveWindow <= 0 {
		return fmt.Errorf("estimator window capacities must be positive")
	}
	if c.Estimator.MinBaselineSamples > c.Estimator.BaselineWindow {
		return fmt.Errorf("estimator.min_baseline_samples cannot exceed estimator.baseline_window")
	}
	if c.Estimator.MinActiveSamples > c.Estimator.ActiveWindow {
		return fmt.Errorf("estimator.min_active_samples cannot exceed estimator.active_window")
	}
	if c.Estimator.EfficiencyThreshold < 0 || c.Estimator.EfficiencyThreshold >= 1 {
		return fmt.Errorf("estimator.efficiency_threshold must be in [0, 1)")
	}
	if c.Estimator.ScaleFactor <= 0 {
		return fmt.Errorf("estimator.scale_factor must be positive")
	}

	if c.Activity.Interval.Duration <= 0 {
		return fmt.Errorf("activity.interval must be positive")
	}

	// Validate that at least one output is enabled
	hasEnabledOutput := false
	for _, output := range c.Logging.Outputs {
		if output.Enabled {
			hasEnabledOutput = true
			break
		}
	}
	if !hasEnabledOutput {
		return fmt.Errorf("at least one logging output must be enabled")
	}

	return nil
}

// Flags holds the command-line flags
type Flags struct {
	ListenAddress  string
	MetricsPath    string
	ConfigPath     string
	GenerateConfig string
}

// NewConfig creates a new configuration by parsing flags and loading the config file.
func NewConfig() (*AppConfig, error) {
	flags := &Flags{}

	flag.StringVar(&flags.ListenAddress,
		"web.listen-address",
		"localhost:9190",
		"Address to listen on for web interface and telemetry.")
	flag.StringVar(&flags.MetricsPath,
		"web.telemetry-path",
		"/metrics",
		"Path under which to expose metrics.")
	flag.StringVar(&flags.ConfigPath,
		"config",
		"",
		"Path to configuration file (optional).")
	flag.StringVar(&flags.GenerateConfig,
		"generate-config",
		"",
		"Generate example config file to specified path and exit.")
	flag.Parse()

	// Handle config generation and exit.
	// We return a nil config to signal that the program should exit cleanly.
	if flags.GenerateConfig != "" {
		if err := GenerateExampleConfig(flags.GenerateConfig); err != nil {
			return nil, fmt.Errorf("error generating example config: %w", err)
		}
		fmt.Printf("Generated %s successfully\n", flags.GenerateConfig)
		return nil, nil // Signal clean exit
	}

	// Start with default config
	config := DefaultConfig()

	// Load configuration from file if a path is provided
	if flags.ConfigPath != "" {
		var err error
		config, err = LoadConfig(flags.ConfigPath)
		if err != nil {
			return nil, err
		}
	}

	// Override config with command-line flags if they were set by the user
	if isFlagPassed("web.listen-address") {
		config.Server.ListenAddress = flags.ListenAddress
	}
	if isFlagPassed("web.telemetry-path") {
		config.Server.MetricsPath = flags.MetricsPath
	}

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// isFlagPassed checks if a flag was explicitly set on the command line.
func isFlagPassed(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
