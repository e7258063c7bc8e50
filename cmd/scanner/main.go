package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/0xmhha/selector-scan/api"
	"github.com/0xmhha/selector-scan/client"
	"github.com/0xmhha/selector-scan/fetch"
	"github.com/0xmhha/selector-scan/filter"
	"github.com/0xmhha/selector-scan/internal/config"
	"github.com/0xmhha/selector-scan/internal/constants"
	"github.com/0xmhha/selector-scan/internal/logger"
	"github.com/0xmhha/selector-scan/scanner"
	"github.com/0xmhha/selector-scan/storage"
	"github.com/0xmhha/selector-scan/types"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

var (
	// Version information (injected at build time)
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// Exit codes
const (
	exitOK           = 0
	exitConnectivity = 1
	exitConfig       = 2
	exitFailure      = 3
	exitInterrupted  = 130
)

// options holds the command-line flags
type options struct {
	configFile  string
	showVersion bool
	rpcEndpoint string
	startBlock  uint64
	endBlock    uint64
	batchSize   int
	concurrency int
	contract    string
	selector    string
	maxRetries  int
	retryDelay  time.Duration
	rateLimit   float64
	outputDir   string
	noOutput    bool
	dbPath      string
	resume      bool
	retryFailed bool
	metricsAddr string
	logLevel    string
	logFormat   string

	// set records which flags were given explicitly
	set map[string]bool
}

func parseFlags(args []string) (*options, error) {
	opts := &options{set: make(map[string]bool)}

	fs := flag.NewFlagSet("scanner", flag.ContinueOnError)
	fs.StringVar(&opts.configFile, "config", "", "Path to configuration file (YAML)")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version information and exit")
	fs.StringVar(&opts.rpcEndpoint, "rpc", "", "JSON-RPC endpoint URL")
	fs.Uint64Var(&opts.startBlock, "start", 0, "First block to scan")
	fs.Uint64Var(&opts.endBlock, "end", 0, "Last block to scan (0 = chain head)")
	fs.IntVar(&opts.batchSize, "batch-size", 0, "Number of blocks per batch")
	fs.IntVar(&opts.concurrency, "concurrency", 0, "Maximum concurrent block fetches per batch (1 = sequential)")
	fs.StringVar(&opts.contract, "contract", "", "Target contract address")
	fs.StringVar(&opts.selector, "selector", "", "Target 4-byte method selector (0x-prefixed hex)")
	fs.IntVar(&opts.maxRetries, "max-retries", 0, "Retries per block on fetch failure")
	fs.DurationVar(&opts.retryDelay, "retry-delay", 0, "Initial delay between retries")
	fs.Float64Var(&opts.rateLimit, "rate-limit", 0, "Maximum RPC requests per second (0 = unlimited)")
	fs.StringVar(&opts.outputDir, "output-dir", "", "Directory for the JSON report")
	fs.BoolVar(&opts.noOutput, "no-output", false, "Do not write a JSON report")
	fs.StringVar(&opts.dbPath, "db", "", "Result database path (enables -resume and -retry-failed)")
	fs.BoolVar(&opts.resume, "resume", false, "Continue after the last committed block in the database")
	fs.BoolVar(&opts.retryFailed, "retry-failed", false, "Re-scan only the blocks recorded as failed in the database")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve /metrics and /health on this address")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&opts.logFormat, "log-format", "", "Log format (json, console)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) { opts.set[f.Name] = true })

	return opts, nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitConfig
	}

	// Show version and exit if requested
	if opts.showVersion {
		fmt.Printf("selector-scan version %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", buildTime)
		return exitOK
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return exitConfig
	}

	if err := validateOptions(cfg, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return exitConfig
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return exitConfig
	}
	defer log.Sync()

	target, err := filter.ParseTarget(cfg.Target.Contract, cfg.Target.Selector)
	if err != nil {
		log.Error("Invalid target", zap.Error(err))
		return exitConfig
	}

	log.Info("Starting scanner",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("rpc_endpoint", cfg.RPC.Endpoint),
		zap.String("contract", target.Contract.Hex()),
		zap.String("selector", target.SelectorHex()),
		zap.Int("batch_size", cfg.Scan.BatchSize),
		zap.Int("concurrency", cfg.Scan.Concurrency),
		zap.Int("max_retries", cfg.Scan.MaxRetries),
	)

	// Cancel the scan on SIGINT/SIGTERM; the current batch still completes
	ctx, stop := interruptContext(context.Background())
	defer stop()

	ethClient, err := client.NewClient(ctx, &client.Config{
		Endpoint:        cfg.RPC.Endpoint,
		Timeout:         cfg.RPC.Timeout,
		MaxConnsPerHost: cfg.RPC.MaxConnsPerHost,
		RateLimit:       cfg.RPC.RateLimit,
		RateBurst:       cfg.RPC.RateBurst,
		Logger:          logger.WithComponent(log, "client"),
	})
	if err != nil {
		log.Error("Failed to connect to RPC endpoint", zap.Error(err))
		if client.IsConnectivityError(err) {
			return exitConnectivity
		}
		return exitConfig
	}
	defer ethClient.Close()

	head, err := ethClient.GetLatestBlockNumber(ctx)
	if err != nil {
		log.Error("Failed to get latest block number", zap.Error(err))
		return exitConnectivity
	}
	log.Debug("Chain head", zap.String("endpoint", ethClient.Endpoint()), zap.Uint64("head", head))
	fmt.Printf("Latest block height: %d\n", head)

	rng := types.BlockRange{Start: cfg.Scan.StartBlock, End: cfg.Scan.EndBlock}
	if rng.End == 0 {
		rng.End = head
	}
	if rng.Start > rng.End {
		log.Error("Invalid block range",
			zap.Uint64("start", rng.Start),
			zap.Uint64("end", rng.End),
			zap.Uint64("head", head),
		)
		return exitConfig
	}
	requested := rng

	// Optional result store
	var store storage.Store
	if cfg.Database.Path != "" {
		pebbleStore, err := storage.NewPebbleStore(storage.DefaultConfig(cfg.Database.Path))
		if err != nil {
			log.Error("Failed to open database", zap.Error(err))
			return exitFailure
		}
		pebbleStore.SetLogger(logger.WithComponent(log, "storage"))
		store = pebbleStore
		defer func() {
			if err := store.Close(); err != nil {
				log.Error("Failed to close database", zap.Error(err))
			}
		}()

		if err := store.BindTarget(ctx, target); err != nil {
			log.Error("Database cannot be used for this target", zap.Error(err))
			if errors.Is(err, storage.ErrTargetMismatch) {
				return exitConfig
			}
			return exitFailure
		}
	}

	ranges := []types.BlockRange{rng}
	if store != nil {
		ranges, err = planRanges(ctx, store, rng, opts, log)
		if err != nil {
			log.Error("Failed to plan scan", zap.Error(err))
			return exitFailure
		}
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	scanMetrics := scanner.NewMetrics(registry, "", "")

	scanOpts := []scanner.Option{scanner.WithMetrics(scanMetrics)}
	if store != nil {
		scanOpts = append(scanOpts, scanner.WithRecorder(store))
	}

	var metricsServer *api.Server
	if cfg.Metrics.Addr != "" {
		metricsServer, err = api.NewServer(api.DefaultConfig(cfg.Metrics.Addr), logger.WithComponent(log, "api"), registry, version)
		if err != nil {
			log.Error("Failed to create metrics server", zap.Error(err))
			return exitConfig
		}
		go func() {
			if err := metricsServer.Start(); err != nil {
				log.Error("Metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultShutdownTimeout)
			defer cancel()
			if err := metricsServer.Stop(shutdownCtx); err != nil {
				log.Error("Failed to stop metrics server gracefully", zap.Error(err))
			}
		}()
		scanOpts = append(scanOpts, scanner.WithProgress(metricsServer.UpdateProgress))
	}

	fetcher := fetch.NewFetcher(ethClient, &fetch.Config{
		Retry:   retryPolicy(cfg),
		Metrics: fetch.NewRPCMetrics(constants.DefaultMetricsWindowSize),
	}, logger.WithComponent(log, "fetcher"))

	scan, err := scanner.New(fetcher, scanner.Config{
		BatchSize:   cfg.Scan.BatchSize,
		Concurrency: cfg.Scan.Concurrency,
	}, logger.WithComponent(log, "scanner"), scanOpts...)
	if err != nil {
		log.Error("Invalid scanner configuration", zap.Error(err))
		return exitConfig
	}

	started := time.Now()
	var result *types.ScanResult
	switch {
	case len(ranges) == 0:
		result = scanner.NewSink(rng).Finalize()
	case len(ranges) == 1:
		fmt.Printf("Scanning blocks %d to %d\n", ranges[0].Start, ranges[0].End)
		result, err = scan.Scan(ctx, ranges[0], target)
	default:
		fmt.Printf("Scanning %d block ranges between %d and %d\n", len(ranges), ranges[0].Start, ranges[len(ranges)-1].End)
		result, err = scan.ScanRanges(ctx, ranges, target)
	}
	elapsed := time.Since(started)

	if metricsServer != nil {
		metricsServer.MarkDone()
	}

	exitCode := exitOK
	if err != nil {
		var cfgErr *scanner.ConfigError
		switch {
		case errors.As(err, &cfgErr):
			log.Error("Invalid scan parameters", zap.Error(err))
			return exitConfig
		case errors.Is(err, context.Canceled):
			log.Warn("Scan interrupted, reporting partial result")
			exitCode = exitInterrupted
		default:
			log.Error("Scan stopped with error", zap.Error(err))
			exitCode = exitFailure
		}
	}
	if result == nil {
		return exitCode
	}

	snap := fetcher.Metrics().Snapshot()
	log.Info("RPC statistics",
		zap.Uint64("calls", snap.TotalCalls),
		zap.Uint64("errors", snap.ErrorCalls),
		zap.Float64("error_rate", snap.ErrorRate),
		zap.Duration("avg_latency", snap.AverageLatency),
		zap.Duration("max_latency", snap.MaxLatency),
		zap.Uint64("rate_limited", snap.RateLimitErrors),
		zap.Float64("blocks_per_second", snap.Throughput),
	)

	report := result
	if store != nil {
		// the database holds matches of earlier runs over the same range
		stored, err := store.Matches(context.WithoutCancel(ctx), requested.Start, requested.End)
		if err != nil {
			log.Warn("Failed to read stored matches, reporting this run only", zap.Error(err))
		} else {
			merged := *result
			merged.Matches = stored
			merged.MatchCount = uint64(len(stored))
			report = &merged
		}
	}

	printSummary(result, report, elapsed)

	if !cfg.Output.Disabled {
		path, err := storage.WriteReport(cfg.Output.Dir, cfg.Output.Prefix, report, time.Now())
		if err != nil {
			log.Error("Failed to write report", zap.Error(err))
			return exitFailure
		}
		fmt.Printf("Results saved to %s\n", path)
	}

	return exitCode
}

// loadConfig loads configuration from file and environment variables.
// Command-line flags take precedence and are applied before validation.
func loadConfig(opts *options) (*config.Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg, err := config.Load(opts.configFile, func(cfg *config.Config) {
		applyFlags(cfg, opts)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// loadDotEnv loads environment variables from a .env file if it exists.
func loadDotEnv() error {
	info, err := os.Stat(".env")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat .env: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf(".env exists but is a directory")
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// applyFlags applies explicitly given command-line flags to configuration
func applyFlags(cfg *config.Config, opts *options) {
	if opts.rpcEndpoint != "" {
		cfg.RPC.Endpoint = opts.rpcEndpoint
	}
	if opts.set["start"] {
		cfg.Scan.StartBlock = opts.startBlock
	}
	if opts.set["end"] {
		cfg.Scan.EndBlock = opts.endBlock
	}
	if opts.set["batch-size"] {
		cfg.Scan.BatchSize = opts.batchSize
	}
	if opts.set["concurrency"] {
		cfg.Scan.Concurrency = opts.concurrency
	}
	if opts.contract != "" {
		cfg.Target.Contract = opts.contract
	}
	if opts.selector != "" {
		cfg.Target.Selector = opts.selector
	}
	if opts.set["max-retries"] {
		cfg.Scan.MaxRetries = opts.maxRetries
	}
	if opts.retryDelay > 0 {
		cfg.Scan.RetryDelay = opts.retryDelay
	}
	if opts.set["rate-limit"] {
		cfg.RPC.RateLimit = opts.rateLimit
	}
	if opts.outputDir != "" {
		cfg.Output.Dir = opts.outputDir
	}
	if opts.noOutput {
		cfg.Output.Disabled = true
	}
	if opts.dbPath != "" {
		cfg.Database.Path = opts.dbPath
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Log.Format = opts.logFormat
	}
}

// validateOptions checks the flags that depend on the loaded configuration
func validateOptions(cfg *config.Config, opts *options) error {
	if (opts.resume || opts.retryFailed) && cfg.Database.Path == "" {
		return fmt.Errorf("-resume and -retry-failed need a database (use -db or set SCANNER_DB_PATH)")
	}
	if opts.resume && opts.retryFailed {
		return fmt.Errorf("-resume and -retry-failed cannot be combined")
	}
	return nil
}

// retryPolicy builds the per-block retry policy from configuration
func retryPolicy(cfg *config.Config) fetch.RetryPolicy {
	if cfg.Scan.MaxRetries <= 0 {
		return fetch.NoRetry{}
	}
	return fetch.ExponentialBackoff{
		MaxRetries: cfg.Scan.MaxRetries,
		BaseDelay:  cfg.Scan.RetryDelay,
		MaxDelay:   cfg.Scan.MaxRetryDelay,
		Multiplier: constants.DefaultRetryBackoffMultiplier,
	}
}

// interruptContext is cancelled by the first SIGINT or SIGTERM. Signal
// handling is then restored, so a second signal terminates the process.
func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()
	return ctx, stop
}

// planRanges decides which blocks this run scans
func planRanges(ctx context.Context, store storage.Reader, rng types.BlockRange, opts *options, log *zap.Logger) ([]types.BlockRange, error) {
	if !opts.resume && !opts.retryFailed {
		return []types.BlockRange{rng}, nil
	}

	if opts.retryFailed {
		failed, err := store.FailedBlocks(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read failed blocks: %w", err)
		}
		var inRange []uint64
		for _, n := range failed {
			if rng.Contains(n) {
				inRange = append(inRange, n)
			}
		}
		log.Info("Retrying failed blocks",
			zap.Int("recorded", len(failed)),
			zap.Int("in_range", len(inRange)),
		)
		return types.RangesFromBlocks(inRange), nil
	}

	covered, err := store.Coverage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read covered ranges: %w", err)
	}
	if len(covered) == 0 {
		log.Info("Nothing committed yet, scanning the full range")
		return []types.BlockRange{rng}, nil
	}

	gaps := rng.Subtract(covered)
	checkpoint, err := store.Checkpoint(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	log.Info("Resuming around committed blocks",
		zap.Uint64("checkpoint", checkpoint),
		zap.Int("covered_ranges", len(covered)),
		zap.Int("gaps", len(gaps)),
	)
	return gaps, nil
}

// printSummary prints the scan outcome and a sample match
func printSummary(result, report *types.ScanResult, elapsed time.Duration) {
	fmt.Printf("Blocks scanned: %d, failed: %d\n", result.BlocksScanned, result.BlocksFailed)
	if result.DecodeErrors > 0 {
		fmt.Printf("Transactions skipped (undecodable): %d\n", result.DecodeErrors)
	}
	if len(result.FailedBlocks) > 0 {
		fmt.Printf("Failed blocks: %v\n", result.FailedBlocks)
	}
	fmt.Printf("Found %d transactions calling the target method\n", result.MatchCount)
	if report != result {
		fmt.Printf("Total stored matches in range: %d\n", report.MatchCount)
	}
	fmt.Printf("Time taken: %.2f seconds\n", elapsed.Seconds())

	if len(report.Matches) > 0 {
		sample, err := json.MarshalIndent(report.Matches[0], "", "  ")
		if err == nil {
			fmt.Printf("\nSample transaction:\n%s\n", sample)
		}
	}
}
