package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validConfig returns a configuration that passes validation
func validConfig() *Config {
	return &Config{
		RPC: RPCConfig{
			Endpoint:        "http://localhost:8545",
			Timeout:         30 * time.Second,
			MaxConnsPerHost: 16,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Scan: ScanConfig{
			StartBlock:  100,
			EndBlock:    200,
			BatchSize:   10,
			Concurrency: 4,
		},
		Target: TargetConfig{
			Contract: "0xCCcCcC0000000000000000000000000000000001",
			Selector: "0x8f37ec19",
		},
	}
}

// TestNewConfig tests creating a config with defaults
func TestNewConfig(t *testing.T) {
	cfg := NewConfig()
	if cfg == nil {
		t.Fatal("NewConfig() returned nil")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Expected default log level 'info', got %q", cfg.Log.Level)
	}
	if cfg.Scan.BatchSize != 100 {
		t.Errorf("Expected default batch size 100, got %d", cfg.Scan.BatchSize)
	}
	if cfg.Scan.Concurrency != 100 {
		t.Errorf("Expected default concurrency 100, got %d", cfg.Scan.Concurrency)
	}
	if cfg.Scan.MaxRetries != 0 {
		t.Errorf("Expected no retries by default, got %d", cfg.Scan.MaxRetries)
	}
	if cfg.Target.Selector != "0x8f37ec19" {
		t.Errorf("Expected default selector 0x8f37ec19, got %q", cfg.Target.Selector)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

// TestConfigValidation tests configuration validation
func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:   "missing RPC endpoint",
			mutate: func(c *Config) { c.RPC.Endpoint = "" },
			errMsg: "RPC endpoint is required",
		},
		{
			name:   "non-positive timeout",
			mutate: func(c *Config) { c.RPC.Timeout = 0 },
			errMsg: "RPC timeout must be positive",
		},
		{
			name:   "negative rate limit",
			mutate: func(c *Config) { c.RPC.RateLimit = -1 },
			errMsg: "rate limit cannot be negative",
		},
		{
			name:   "invalid log level",
			mutate: func(c *Config) { c.Log.Level = "trace" },
			errMsg: "invalid log level",
		},
		{
			name:   "invalid log format",
			mutate: func(c *Config) { c.Log.Format = "xml" },
			errMsg: "invalid log format",
		},
		{
			name:   "zero batch size",
			mutate: func(c *Config) { c.Scan.BatchSize = 0 },
			errMsg: "batch size must be positive",
		},
		{
			name:   "negative concurrency",
			mutate: func(c *Config) { c.Scan.Concurrency = -3 },
			errMsg: "concurrency must be positive",
		},
		{
			name:   "concurrency above limit",
			mutate: func(c *Config) { c.Scan.Concurrency = 5000 },
			errMsg: "concurrency must not exceed",
		},
		{
			name:   "negative retries",
			mutate: func(c *Config) { c.Scan.MaxRetries = -1 },
			errMsg: "max retries cannot be negative",
		},
		{
			name:   "inverted range",
			mutate: func(c *Config) { c.Scan.StartBlock, c.Scan.EndBlock = 300, 200 },
			errMsg: "is after end block",
		},
		{
			name:   "whole block space",
			mutate: func(c *Config) { c.Scan.StartBlock, c.Scan.EndBlock = 0, math.MaxUint64 },
			errMsg: "covers the whole block space",
		},
		{
			name:   "top of block space",
			mutate: func(c *Config) { c.Scan.StartBlock, c.Scan.EndBlock = 1, math.MaxUint64 },
		},
		{
			name:   "end zero means chain head",
			mutate: func(c *Config) { c.Scan.StartBlock, c.Scan.EndBlock = 300, 0 },
		},
		{
			name:   "invalid contract",
			mutate: func(c *Config) { c.Target.Contract = "0x1234" },
			errMsg: "invalid contract address",
		},
		{
			name:   "short selector",
			mutate: func(c *Config) { c.Target.Selector = "0x8f37ec" },
			errMsg: "invalid method selector",
		},
		{
			name:   "selector without prefix",
			mutate: func(c *Config) { c.Target.Selector = "8f37ec19" },
			errMsg: "invalid method selector",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.errMsg == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.errMsg)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %q, want substring %q", err.Error(), tt.errMsg)
			}
		})
	}
}

// TestLoadFromEnv tests loading configuration from environment variables
func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SCANNER_RPC_ENDPOINT", "http://testnet:8545")
	t.Setenv("SCANNER_RPC_TIMEOUT", "60s")
	t.Setenv("SCANNER_RPC_RATE_LIMIT", "25.5")
	t.Setenv("SCANNER_LOG_LEVEL", "debug")
	t.Setenv("SCANNER_START_BLOCK", "1000")
	t.Setenv("SCANNER_END_BLOCK", "2000")
	t.Setenv("SCANNER_BATCH_SIZE", "50")
	t.Setenv("SCANNER_CONCURRENCY", "8")
	t.Setenv("SCANNER_MAX_RETRIES", "3")
	t.Setenv("SCANNER_RETRY_DELAY", "250ms")
	t.Setenv("SCANNER_CONTRACT", "0x00000000000000000000000000000000000000aa")
	t.Setenv("SCANNER_SELECTOR", "0xa9059cbb")
	t.Setenv("SCANNER_OUTPUT_DISABLED", "true")
	t.Setenv("SCANNER_DB_PATH", "/data/scan")
	t.Setenv("SCANNER_METRICS_ADDR", ":9100")

	cfg := NewConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.RPC.Endpoint != "http://testnet:8545" {
		t.Errorf("Expected RPC endpoint 'http://testnet:8545', got %q", cfg.RPC.Endpoint)
	}
	if cfg.RPC.Timeout != 60*time.Second {
		t.Errorf("Expected RPC timeout 60s, got %v", cfg.RPC.Timeout)
	}
	if cfg.RPC.RateLimit != 25.5 {
		t.Errorf("Expected rate limit 25.5, got %v", cfg.RPC.RateLimit)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level 'debug', got %q", cfg.Log.Level)
	}
	if cfg.Scan.StartBlock != 1000 || cfg.Scan.EndBlock != 2000 {
		t.Errorf("Expected range 1000-2000, got %d-%d", cfg.Scan.StartBlock, cfg.Scan.EndBlock)
	}
	if cfg.Scan.BatchSize != 50 {
		t.Errorf("Expected batch size 50, got %d", cfg.Scan.BatchSize)
	}
	if cfg.Scan.Concurrency != 8 {
		t.Errorf("Expected concurrency 8, got %d", cfg.Scan.Concurrency)
	}
	if cfg.Scan.MaxRetries != 3 {
		t.Errorf("Expected max retries 3, got %d", cfg.Scan.MaxRetries)
	}
	if cfg.Scan.RetryDelay != 250*time.Millisecond {
		t.Errorf("Expected retry delay 250ms, got %v", cfg.Scan.RetryDelay)
	}
	if cfg.Target.Selector != "0xa9059cbb" {
		t.Errorf("Expected selector 0xa9059cbb, got %q", cfg.Target.Selector)
	}
	if !cfg.Output.Disabled {
		t.Error("Expected output disabled")
	}
	if cfg.Database.Path != "/data/scan" {
		t.Errorf("Expected database path '/data/scan', got %q", cfg.Database.Path)
	}
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Expected metrics addr ':9100', got %q", cfg.Metrics.Addr)
	}
}

// TestLoadFromEnvInvalid tests that malformed environment values are rejected
func TestLoadFromEnvInvalid(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"SCANNER_RPC_TIMEOUT", "soon"},
		{"SCANNER_RPC_MAX_CONNS", "many"},
		{"SCANNER_RPC_RATE_LIMIT", "fast"},
		{"SCANNER_START_BLOCK", "-1"},
		{"SCANNER_END_BLOCK", "latest"},
		{"SCANNER_BATCH_SIZE", "ten"},
		{"SCANNER_CONCURRENCY", "1.5"},
		{"SCANNER_MAX_RETRIES", "x"},
		{"SCANNER_RETRY_DELAY", "5"},
		{"SCANNER_OUTPUT_DISABLED", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			err := NewConfig().LoadFromEnv()
			if err == nil {
				t.Fatalf("Expected error for %s=%q", tt.key, tt.value)
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("error %q should name %s", err.Error(), tt.key)
			}
		})
	}
}

// TestLoadFromFile tests loading configuration from a YAML file
func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
rpc:
  endpoint: http://localhost:9545
  timeout: 45s
  rate_limit: 50

log:
  level: warn
  format: json

scan:
  start_block: 100
  end_block: 104
  batch_size: 2
  concurrency: 2
  max_retries: 2
  retry_delay: 100ms

target:
  contract: "0xCCcCcC0000000000000000000000000000000001"
  selector: "0x8f37ec19"

output:
  dir: /tmp/reports
  prefix: story_tx_analysis
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg := NewConfig()
	if err := cfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.RPC.Endpoint != "http://localhost:9545" {
		t.Errorf("Expected RPC endpoint 'http://localhost:9545', got %q", cfg.RPC.Endpoint)
	}
	if cfg.RPC.Timeout != 45*time.Second {
		t.Errorf("Expected RPC timeout 45s, got %v", cfg.RPC.Timeout)
	}
	if cfg.RPC.RateLimit != 50 {
		t.Errorf("Expected rate limit 50, got %v", cfg.RPC.RateLimit)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Expected log level 'warn', got %q", cfg.Log.Level)
	}
	if cfg.Scan.StartBlock != 100 || cfg.Scan.EndBlock != 104 {
		t.Errorf("Expected range 100-104, got %d-%d", cfg.Scan.StartBlock, cfg.Scan.EndBlock)
	}
	if cfg.Scan.BatchSize != 2 {
		t.Errorf("Expected batch size 2, got %d", cfg.Scan.BatchSize)
	}
	if cfg.Scan.RetryDelay != 100*time.Millisecond {
		t.Errorf("Expected retry delay 100ms, got %v", cfg.Scan.RetryDelay)
	}
	if cfg.Output.Prefix != "story_tx_analysis" {
		t.Errorf("Expected output prefix 'story_tx_analysis', got %q", cfg.Output.Prefix)
	}
}

// TestLoadFromFileErrors tests missing and malformed files
func TestLoadFromFileErrors(t *testing.T) {
	cfg := NewConfig()
	if err := cfg.LoadFromFile("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error when loading non-existent file, got nil")
	}

	configFile := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(configFile, []byte("scan: [unclosed"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	if err := cfg.LoadFromFile(configFile); err == nil {
		t.Error("Expected error for invalid YAML, got nil")
	}
}

// TestLoadWithEnvOverride tests that environment variables override the file
func TestLoadWithEnvOverride(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	content := `
rpc:
  endpoint: http://file:8545
scan:
  batch_size: 20
`
	if err := os.WriteFile(configFile, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	t.Setenv("SCANNER_RPC_ENDPOINT", "http://env:8545")

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.RPC.Endpoint != "http://env:8545" {
		t.Errorf("Expected env endpoint to win, got %q", cfg.RPC.Endpoint)
	}
	if cfg.Scan.BatchSize != 20 {
		t.Errorf("Expected batch size from file, got %d", cfg.Scan.BatchSize)
	}
	if cfg.Scan.Concurrency != 100 {
		t.Errorf("Expected default concurrency, got %d", cfg.Scan.Concurrency)
	}
}

// TestLoadInvalidConfig tests that Load validates the result
func TestLoadInvalidConfig(t *testing.T) {
	t.Setenv("SCANNER_SELECTOR", "0x12")

	if _, err := Load(""); err == nil {
		t.Error("Expected validation error, got nil")
	}
}

// TestLoadOverridesBeforeValidation tests that overrides fix an invalid
// environment before validation runs
func TestLoadOverridesBeforeValidation(t *testing.T) {
	t.Setenv("SCANNER_START_BLOCK", "500")
	t.Setenv("SCANNER_END_BLOCK", "100")

	if _, err := Load(""); err == nil {
		t.Fatal("Expected inverted environment range to fail without overrides")
	}

	cfg, err := Load("", func(c *Config) {
		c.Scan.StartBlock = 10
		c.Scan.EndBlock = 20
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Scan.StartBlock != 10 || cfg.Scan.EndBlock != 20 {
		t.Errorf("Expected range 10-20, got %d-%d", cfg.Scan.StartBlock, cfg.Scan.EndBlock)
	}
}

// TestLoadOverridesAreValidated tests that an invalid override is rejected
func TestLoadOverridesAreValidated(t *testing.T) {
	_, err := Load("", func(c *Config) { c.Scan.BatchSize = 0 })
	if err == nil || !strings.Contains(err.Error(), "batch size must be positive") {
		t.Errorf("Load() error = %v, want batch size error", err)
	}
}
