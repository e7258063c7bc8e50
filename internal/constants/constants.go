package constants

import "time"

// RPC Constants
const (
	// DefaultRPCEndpoint is the Story testnet JSON-RPC endpoint
	DefaultRPCEndpoint = "https://story-testnet.nodeinfra.com"

	// DefaultRPCTimeout is the per-call timeout for RPC requests
	DefaultRPCTimeout = 30 * time.Second

	// DefaultMaxConnsPerHost bounds the HTTP connection pool of the RPC transport
	DefaultMaxConnsPerHost = 64

	// DefaultRateLimitPerSecond is the default RPC request rate (0 disables limiting)
	DefaultRateLimitPerSecond = 0

	// DefaultRateLimitBurst is the default RPC request burst size
	DefaultRateLimitBurst = 100
)

// Target Constants
const (
	// DefaultContractAddress is the contract whose calls are counted by default
	DefaultContractAddress = "0xCCcCcC0000000000000000000000000000000001"

	// DefaultMethodSelector is the 4-byte selector counted by default
	DefaultMethodSelector = "0x8f37ec19"
)

// Scanner Constants
const (
	// DefaultBatchSize is the default number of blocks per batch
	DefaultBatchSize = 100

	// DefaultConcurrency is the default number of concurrent fetches per batch
	DefaultConcurrency = 100

	// MaxConcurrency is the upper bound accepted for concurrent fetches
	MaxConcurrency = 1000

	// DefaultMaxRetries is the default number of retries per block (0 = no retry)
	DefaultMaxRetries = 0

	// DefaultRetryDelay is the default initial delay between retries
	DefaultRetryDelay = 1 * time.Second

	// DefaultMaxRetryDelay caps the exponential backoff delay
	DefaultMaxRetryDelay = 30 * time.Second

	// DefaultRetryBackoffMultiplier is the default backoff multiplier for exponential backoff
	DefaultRetryBackoffMultiplier = 2

	// DefaultMetricsWindowSize is the size of the sliding window for RPC latency averaging
	DefaultMetricsWindowSize = 100
)

// Output Constants
const (
	// DefaultOutputDir is where JSON reports are written
	DefaultOutputDir = "."

	// DefaultOutputPrefix is the report filename prefix
	DefaultOutputPrefix = "tx_analysis"

	// ReportTimestampLayout is the timestamp layout embedded in report filenames
	ReportTimestampLayout = "20060102_150405"
)

// Metrics Server Constants
const (
	// DefaultReadTimeout is the maximum duration for reading a request
	DefaultReadTimeout = 15 * time.Second

	// DefaultWriteTimeout is the maximum duration before timing out writes
	DefaultWriteTimeout = 15 * time.Second

	// DefaultIdleTimeout is the maximum duration to wait for the next request
	DefaultIdleTimeout = 60 * time.Second

	// DefaultMaxHeaderBytes is the maximum size of request headers
	DefaultMaxHeaderBytes = 1 << 20 // 1 MB

	// DefaultShutdownTimeout is the graceful shutdown timeout of the metrics server
	DefaultShutdownTimeout = 10 * time.Second
)

// Storage Constants
const (
	// DefaultCacheSize is the default cache size in MB for PebbleDB
	DefaultCacheSize = 16 // MB

	// DefaultMaxOpenFiles is the default maximum number of open files for PebbleDB
	DefaultMaxOpenFiles = 500
)

// Math Constants
const (
	// PercentageMultiplier is used for converting fractions to percentages
	PercentageMultiplier = 100
)
