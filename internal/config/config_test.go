package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestConfigData tests configuration data, defaults, edge cases, and validation
func TestConfigData(t *testing.T) {
	tests := []struct {
		name       string
		config     *AppConfig
		configTOML string
		setupFunc  func(*AppConfig)
		expectErr  bool
		validate   func(*testing.T, *AppConfig)
	}{
		{
			name:   "default config",
			config: DefaultConfig(),
			validate: func(t *testing.T, c *AppConfig) {
				if c.Server.ListenAddress != "localhost:9190" {
					t.Errorf("Expected ListenAddress 'localhost:9190', got %s", c.Server.ListenAddress)
				}
				if c.Monitor.Interval.Duration != time.Second {
					t.Errorf("Expected 1s monitor interval, got %v", c.Monitor.Interval.Duration)
				}
				if c.Estimator.ScaleFactor != 150 {
					t.Errorf("Expected scale factor 150, got %v", c.Estimator.ScaleFactor)
				}
				if c.Logging.Defaults.Level != "info" {
					t.Errorf("Expected default log level 'info', got %s", c.Logging.Defaults.Level)
				}
				if len(c.Logging.Outputs) != 4 {
					t.Errorf("Expected 4 outputs, got %d", len(c.Logging.Outputs))
				}
			},
		},
		{
			name: "custom monitor and estimator config",
			configTOML: `
[monitor]
interval = "500ms"
settle_delay = "100ms"

[estimator]
baseline_window = 60
scale_factor = 120

[[logging.outputs]]
type = "console"
enabled = true
`,
			validate: func(t *testing.T, c *AppConfig) {
				if c.Monitor.Interval.Duration != 500*time.Millisecond {
					t.Errorf("Expected 500ms interval, got %v", c.Monitor.Interval.Duration)
				}
				if c.Estimator.BaselineWindow != 60 {
					t.Errorf("Expected baseline window 60, got %d", c.Estimator.BaselineWindow)
				}
				if c.Estimator.ScaleFactor != 120 {
					t.Errorf("Expected scale factor 120, got %v", c.Estimator.ScaleFactor)
				}
				// Untouched sections keep their defaults.
				if c.Estimator.EfficiencyThreshold != 0.15 {
					t.Errorf("Expected default threshold 0.15, got %v", c.Estimator.EfficiencyThreshold)
				}
			},
		},
		{
			name: "custom counter patterns",
			configTOML: `
[counters]
npu_engine_pattern = '\NPU Engine(*)\Dedicated Usage'
gpu_exclude_keywords = ["Copy", "VideoDecode"]

[[logging.outputs]]
type = "console"
enabled = true
`,
			validate: func(t *testing.T, c *AppConfig) {
				if c.Counters.NPUEnginePattern != `\NPU Engine(*)\Dedicated Usage` {
					t.Errorf("Unexpected NPU pattern: %s", c.Counters.NPUEnginePattern)
				}
				if len(c.Counters.GPUExcludeKeywords) != 2 {
					t.Errorf("Expected 2 exclude keywords, got %v", c.Counters.GPUExcludeKeywords)
				}
			},
		},
		{
			name:   "invalid empty listen address",
			config: DefaultConfig(),
			setupFunc: func(c *AppConfig) {
				c.Server.ListenAddress = ""
			},
			expectErr: true,
		},
		{
			name:   "invalid zero monitor interval",
			config: DefaultConfig(),
			setupFunc: func(c *AppConfig) {
				c.Monitor.Interval.Duration = 0
			},
			expectErr: true,
		},
		{
			name:   "invalid tick timeout below settle delay",
			config: DefaultConfig(),
			setupFunc: func(c *AppConfig) {
				c.Monitor.TickTimeout.Duration = 100 * time.Millisecond
				c.Monitor.SettleDelay.Duration = 200 * time.Millisecond
			},
			expectErr: true,
		},
		{
			name:   "invalid min samples exceeding window",
			config: DefaultConfig(),
			setupFunc: func(c *AppConfig) {
				c.Estimator.MinBaselineSamples = 500
			},
			expectErr: true,
		},
		{
			name:   "invalid efficiency threshold",
			config: DefaultConfig(),
			setupFunc: func(c *AppConfig) {
				c.Estimator.EfficiencyThreshold = 1.5
			},
			expectErr: true,
		},
		{
			name:   "invalid no outputs enabled",
			config: DefaultConfig(),
			setupFunc: func(c *AppConfig) {
				for i := range c.Logging.Outputs {
					c.Logging.Outputs[i].Enabled = false
				}
			},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg *AppConfig

			// Get config from direct config, TOML, or setup function
			if tt.config != nil {
				cfg = tt.config
				if tt.setupFunc != nil {
					tt.setupFunc(cfg)
				}
			} else {
				tmpDir := t.TempDir()
				path := filepath.Join(tmpDir, "test.toml")
				os.WriteFile(path, []byte(tt.configTOML), 0644)
				var err error
				cfg, err = LoadConfig(path)
				if err != nil {
					t.Fatalf("Failed to load config: %v", err)
				}
			}

			// Test validation
			err := cfg.Validate()
			if tt.expectErr && err == nil {
				t.Error("Expected validation error but got none")
			} else if !tt.expectErr && err != nil {
				t.Errorf("Unexpected validation error: %v", err)
			}

			if !tt.expectErr && tt.validate != nil {
				tt.validate(t, cfg)
			}
		})
	}
}

// TestLoadConfig tests loading configurations with fallbacks and validation
func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name       string
		configTOML string
		configPath string
		expectErr  bool
	}{
		{
			name:       "non-existent file returns error",
			configPath: "nonexistent.toml",
			expectErr:  true,
		},
		{
			name:       "empty path returns defaults",
			configPath: "",
			expectErr:  false,
		},
		{
			name: "valid config loads correctly",
			configTOML: `
[server]
listen_address = ":8080"
metrics_path = "/test"

[monitor]
interval = "2s"

[[logging.outputs]]
type = "console"
enabled = true
`,
			expectErr: false,
		},
		{
			name: "invalid TOML returns error",
			configTOML: `
[server]
listen_address = ":8080"
invalid_syntax [
`,
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := tt.configPath
			if tt.configTOML != "" {
				tmpDir := t.TempDir()
				configPath = filepath.Join(tmpDir, "test.toml")
				if err := os.WriteFile(configPath, []byte(tt.configTOML), 0644); err != nil {
					t.Fatalf("Failed to create test config: %v", err)
				}
			}

			_, err := LoadConfig(configPath)
			if tt.expectErr && err == nil {
				t.Error("Expected load error but got none")
			} else if !tt.expectErr && err != nil {
				t.Errorf("Unexpected load error: %v", err)
			}
		})
	}
}

func TestGenerateExampleConfig(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "example.toml")

	if err := GenerateExampleConfig(path); err != nil {
		t.Fatalf("GenerateExampleConfig: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("generated config does not validate: %v", err)
	}
}
