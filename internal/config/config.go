package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/0xmhha/selector-scan/internal/constants"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the scanner
type Config struct {
	RPC      RPCConfig      `yaml:"rpc"`
	Log      LogConfig      `yaml:"log"`
	Scan     ScanConfig     `yaml:"scan"`
	Target   TargetConfig   `yaml:"target"`
	Output   OutputConfig   `yaml:"output"`
	Database DatabaseConfig `yaml:"database"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// RPCConfig holds RPC client configuration
type RPCConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
	// MaxConnsPerHost bounds the HTTP connection pool shared by all fetches
	MaxConnsPerHost int `yaml:"max_conns_per_host"`
	// RateLimit is the maximum number of requests per second (0 = unlimited)
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ScanConfig holds block range and pipeline configuration
type ScanConfig struct {
	StartBlock uint64 `yaml:"start_block"`
	// EndBlock of 0 means the current chain head
	EndBlock    uint64 `yaml:"end_block"`
	BatchSize   int    `yaml:"batch_size"`
	Concurrency int    `yaml:"concurrency"`
	// MaxRetries is the number of extra attempts per block (0 = no retry)
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay"`
}

// TargetConfig identifies the contract and method selector to match
type TargetConfig struct {
	Contract string `yaml:"contract"`
	Selector string `yaml:"selector"`
}

// OutputConfig holds JSON report configuration
type OutputConfig struct {
	Disabled bool   `yaml:"disabled"`
	Dir      string `yaml:"dir"`
	Prefix   string `yaml:"prefix"`
}

// DatabaseConfig holds result store configuration.
// An empty path disables the store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig holds Prometheus endpoint configuration.
// An empty address disables the endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults sets default values for unset fields
func (c *Config) SetDefaults() {
	// RPC defaults
	if c.RPC.Endpoint == "" {
		c.RPC.Endpoint = constants.DefaultRPCEndpoint
	}
	if c.RPC.Timeout == 0 {
		c.RPC.Timeout = constants.DefaultRPCTimeout
	}
	if c.RPC.MaxConnsPerHost == 0 {
		c.RPC.MaxConnsPerHost = constants.DefaultMaxConnsPerHost
	}
	if c.RPC.RateBurst == 0 {
		c.RPC.RateBurst = constants.DefaultRateLimitBurst
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}

	// Scan defaults
	if c.Scan.BatchSize == 0 {
		c.Scan.BatchSize = constants.DefaultBatchSize
	}
	if c.Scan.Concurrency == 0 {
		c.Scan.Concurrency = constants.DefaultConcurrency
	}
	if c.Scan.RetryDelay == 0 {
		c.Scan.RetryDelay = constants.DefaultRetryDelay
	}
	if c.Scan.MaxRetryDelay == 0 {
		c.Scan.MaxRetryDelay = constants.DefaultMaxRetryDelay
	}

	// Target defaults
	if c.Target.Contract == "" {
		c.Target.Contract = constants.DefaultContractAddress
	}
	if c.Target.Selector == "" {
		c.Target.Selector = constants.DefaultMethodSelector
	}

	// Output defaults
	if c.Output.Dir == "" {
		c.Output.Dir = constants.DefaultOutputDir
	}
	if c.Output.Prefix == "" {
		c.Output.Prefix = constants.DefaultOutputPrefix
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from SCANNER_* environment variables
func (c *Config) LoadFromEnv() error {
	// RPC configuration
	if endpoint := os.Getenv("SCANNER_RPC_ENDPOINT"); endpoint != "" {
		c.RPC.Endpoint = endpoint
	}
	if timeout := os.Getenv("SCANNER_RPC_TIMEOUT"); timeout != "" {
		duration, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("invalid SCANNER_RPC_TIMEOUT: %w", err)
		}
		c.RPC.Timeout = duration
	}
	if maxConns := os.Getenv("SCANNER_RPC_MAX_CONNS"); maxConns != "" {
		val, err := strconv.Atoi(maxConns)
		if err != nil {
			return fmt.Errorf("invalid SCANNER_RPC_MAX_CONNS: %w", err)
		}
		c.RPC.MaxConnsPerHost = val
	}
	if rateLimit := os.Getenv("SCANNER_RPC_RATE_LIMIT"); rateLimit != "" {
		val, err := strconv.ParseFloat(rateLimit, 64)
		if err != nil {
			return fmt.Errorf("invalid SCANNER_RPC_RATE_LIMIT: %w", err)
		}
		c.RPC.RateLimit = val
	}

	// Log configuration
	if level := os.Getenv("SCANNER_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if format := os.Getenv("SCANNER_LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}

	// Scan configuration
	if start := os.Getenv("SCANNER_START_BLOCK"); start != "" {
		val, err := strconv.ParseUint(start, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid SCANNER_START_BLOCK: %w", err)
		}
		c.Scan.StartBlock = val
	}
	if end := os.Getenv("SCANNER_END_BLOCK"); end != "" {
		val, err := strconv.ParseUint(end, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid SCANNER_END_BLOCK: %w", err)
		}
		c.Scan.EndBlock = val
	}
	if batchSize := os.Getenv("SCANNER_BATCH_SIZE"); batchSize != "" {
		val, err := strconv.Atoi(batchSize)
		if err != nil {
			return fmt.Errorf("invalid SCANNER_BATCH_SIZE: %w", err)
		}
		c.Scan.BatchSize = val
	}
	if concurrency := os.Getenv("SCANNER_CONCURRENCY"); concurrency != "" {
		val, err := strconv.Atoi(concurrency)
		if err != nil {
			return fmt.Errorf("invalid SCANNER_CONCURRENCY: %w", err)
		}
		c.Scan.Concurrency = val
	}
	if maxRetries := os.Getenv("SCANNER_MAX_RETRIES"); maxRetries != "" {
		val, err := strconv.Atoi(maxRetries)
		if err != nil {
			return fmt.Errorf("invalid SCANNER_MAX_RETRIES: %w", err)
		}
		c.Scan.MaxRetries = val
	}
	if retryDelay := os.Getenv("SCANNER_RETRY_DELAY"); retryDelay != "" {
		duration, err := time.ParseDuration(retryDelay)
		if err != nil {
			return fmt.Errorf("invalid SCANNER_RETRY_DELAY: %w", err)
		}
		c.Scan.RetryDelay = duration
	}

	// Target configuration
	if contract := os.Getenv("SCANNER_CONTRACT"); contract != "" {
		c.Target.Contract = contract
	}
	if selector := os.Getenv("SCANNER_SELECTOR"); selector != "" {
		c.Target.Selector = selector
	}

	// Output configuration
	if disabled := os.Getenv("SCANNER_OUTPUT_DISABLED"); disabled != "" {
		val, err := strconv.ParseBool(disabled)
		if err != nil {
			return fmt.Errorf("invalid SCANNER_OUTPUT_DISABLED: %w", err)
		}
		c.Output.Disabled = val
	}
	if dir := os.Getenv("SCANNER_OUTPUT_DIR"); dir != "" {
		c.Output.Dir = dir
	}

	if path := os.Getenv("SCANNER_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if addr := os.Getenv("SCANNER_METRICS_ADDR"); addr != "" {
		c.Metrics.Addr = addr
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate RPC configuration
	if c.RPC.Endpoint == "" {
		return fmt.Errorf("RPC endpoint is required")
	}
	if c.RPC.Timeout <= 0 {
		return fmt.Errorf("RPC timeout must be positive")
	}
	if c.RPC.MaxConnsPerHost <= 0 {
		return fmt.Errorf("max connections per host must be positive")
	}
	if c.RPC.RateLimit < 0 {
		return fmt.Errorf("rate limit cannot be negative")
	}

	// Validate log configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, console", c.Log.Format)
	}

	// Validate scan configuration
	if c.Scan.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.Scan.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.Scan.Concurrency > constants.MaxConcurrency {
		return fmt.Errorf("concurrency must not exceed %d", constants.MaxConcurrency)
	}
	if c.Scan.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.Scan.EndBlock != 0 && c.Scan.StartBlock > c.Scan.EndBlock {
		return fmt.Errorf("start block %d is after end block %d", c.Scan.StartBlock, c.Scan.EndBlock)
	}
	if c.Scan.StartBlock == 0 && c.Scan.EndBlock == math.MaxUint64 {
		return fmt.Errorf("block range [0, %d] covers the whole block space", c.Scan.EndBlock)
	}

	// Validate target configuration
	if !common.IsHexAddress(c.Target.Contract) {
		return fmt.Errorf("invalid contract address %q", c.Target.Contract)
	}
	selector, err := hexutil.Decode(c.Target.Selector)
	if err != nil || len(selector) != 4 {
		return fmt.Errorf("invalid method selector %q, must be 4 bytes of 0x-prefixed hex", c.Target.Selector)
	}

	return nil
}

// Load is a convenience method that loads configuration in the following order:
// 1. Set defaults
// 2. Load from file (if provided)
// 3. Load from environment variables (override file)
// 4. Apply overrides (command-line flags) in order
// 5. Validate
func Load(configFile string, overrides ...func(*Config)) (*Config, error) {
	cfg := NewConfig()

	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	// Set defaults for any missing values
	cfg.SetDefaults()

	for _, override := range overrides {
		override(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
