// Package scanner drives a batched, concurrent scan of a block range and
// collects the transactions that call the target contract method.
package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/0xmhha/selector-scan/filter"
	"github.com/0xmhha/selector-scan/internal/constants"
	"github.com/0xmhha/selector-scan/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ConfigError reports invalid scan parameters
type ConfigError = types.ConfigError

// BlockFetcher retrieves one block with full transaction bodies.
// Implementations must be safe for concurrent use.
type BlockFetcher interface {
	Fetch(ctx context.Context, number uint64) (*types.Block, error)
}

// Recorder persists each committed batch
type Recorder interface {
	RecordBatch(ctx context.Context, batch types.BlockRange, matches []types.TransactionSummary, failed []uint64) error
}

// ProgressFunc is called after every committed batch
type ProgressFunc func(types.Progress)

// Config holds scanner configuration
type Config struct {
	// BatchSize is the number of blocks fetched per batch
	BatchSize int

	// Concurrency is the maximum number of fetches in flight within a batch.
	// 1 scans strictly sequentially.
	Concurrency int
}

// Validate validates the scanner configuration
func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return &ConfigError{Field: "batch size", Reason: fmt.Sprintf("must be positive, got %d", c.BatchSize)}
	}
	if c.Concurrency <= 0 {
		return &ConfigError{Field: "concurrency", Reason: fmt.Sprintf("must be positive, got %d", c.Concurrency)}
	}
	return nil
}

// Option configures optional scanner collaborators
type Option func(*Scanner)

// WithProgress registers a progress callback
func WithProgress(fn ProgressFunc) Option {
	return func(s *Scanner) { s.progress = fn }
}

// WithRecorder persists every committed batch through r
func WithRecorder(r Recorder) Option {
	return func(s *Scanner) { s.recorder = r }
}

// WithMetrics reports scan metrics to m
func WithMetrics(m *Metrics) Option {
	return func(s *Scanner) { s.metrics = m }
}

// Scanner scans block ranges in ordered batches
type Scanner struct {
	fetcher  BlockFetcher
	config   Config
	logger   *zap.Logger
	progress ProgressFunc
	recorder Recorder
	metrics  *Metrics
}

// New creates a scanner. It returns a *ConfigError if cfg is invalid.
func New(fetcher BlockFetcher, cfg Config, logger *zap.Logger, opts ...Option) (*Scanner, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Scanner{
		fetcher: fetcher,
		config:  cfg,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// slot holds the fetch outcome of one block of a batch
type slot struct {
	number uint64
	block  *types.Block
	err    error
}

// Scan scans rng for transactions matching target.
// An empty range (Start > End) yields an empty result without any fetch.
// On cancellation the blocks committed so far are returned together with
// the context error.
func (s *Scanner) Scan(ctx context.Context, rng types.BlockRange, target types.MatchTarget) (*types.ScanResult, error) {
	if rng.Empty() {
		s.logger.Debug("Empty scan range",
			zap.Uint64("start", rng.Start),
			zap.Uint64("end", rng.End),
		)
		return NewSink(rng).Finalize(), nil
	}
	total, err := totalBlocks([]types.BlockRange{rng})
	if err != nil {
		return nil, err
	}
	return s.scan(ctx, []types.BlockRange{rng}, rng, total, target)
}

// ScanRanges scans several disjoint ranges, which must be non-empty and in
// ascending order, as one scan with a single result.
func (s *Scanner) ScanRanges(ctx context.Context, ranges []types.BlockRange, target types.MatchTarget) (*types.ScanResult, error) {
	if len(ranges) == 0 {
		return nil, &ConfigError{Field: "ranges", Reason: "no ranges given"}
	}
	for i, r := range ranges {
		if r.Empty() {
			return nil, &ConfigError{Field: "ranges", Reason: fmt.Sprintf("range %d [%d, %d] is empty", i, r.Start, r.End)}
		}
		if i > 0 && r.Start <= ranges[i-1].End {
			return nil, &ConfigError{
				Field: "ranges",
				Reason: fmt.Sprintf("range %d [%d, %d] overlaps or precedes [%d, %d]",
					i, r.Start, r.End, ranges[i-1].Start, ranges[i-1].End),
			}
		}
	}
	total, err := totalBlocks(ranges)
	if err != nil {
		return nil, err
	}

	span := types.BlockRange{Start: ranges[0].Start, End: ranges[len(ranges)-1].End}
	return s.scan(ctx, ranges, span, total, target)
}

// totalBlocks sums the block counts of non-empty, disjoint ranges. A sum of
// 2^64 blocks does not fit progress accounting and is rejected.
func totalBlocks(ranges []types.BlockRange) (uint64, error) {
	var total uint64
	for _, r := range ranges {
		n := r.Len()
		if r.SpansAll() || total+n < total {
			return 0, &ConfigError{Field: "range", Reason: "covers the whole uint64 block space"}
		}
		total += n
	}
	return total, nil
}

func (s *Scanner) scan(ctx context.Context, ranges []types.BlockRange, span types.BlockRange, total uint64, target types.MatchTarget) (*types.ScanResult, error) {
	var batchCount uint64
	for _, r := range ranges {
		batchCount += r.BatchCount(s.config.BatchSize)
	}

	s.logger.Info("Starting scan",
		zap.Uint64("start", span.Start),
		zap.Uint64("end", span.End),
		zap.Uint64("total", total),
		zap.Uint64("batches", batchCount),
		zap.Int("batch_size", s.config.BatchSize),
		zap.Int("concurrency", s.config.Concurrency),
		zap.String("contract", target.Contract.Hex()),
		zap.String("selector", target.SelectorHex()),
	)

	started := time.Now()
	sink := NewSink(span)
	var processed uint64

	for _, r := range ranges {
		for start := r.Start; ; {
			batch := r.BatchAt(start, s.config.BatchSize)

			if err := ctx.Err(); err != nil {
				s.logger.Warn("Scan cancelled",
					zap.Uint64("processed", processed),
					zap.Uint64("total", total),
					zap.Error(err),
				)
				return sink.Finalize(), err
			}

			if err := s.scanBatch(ctx, batch, target, sink); err != nil {
				return sink.Finalize(), err
			}

			processed += batch.Len()
			s.reportProgress(types.Progress{
				ProcessedBlocks: processed,
				TotalBlocks:     total,
				BatchStart:      batch.Start,
				BatchEnd:        batch.End,
			})

			if batch.End == r.End {
				break
			}
			start = batch.End + 1
		}
	}

	result := sink.Finalize()
	s.logger.Info("Completed scan",
		zap.Uint64("start", span.Start),
		zap.Uint64("end", span.End),
		zap.Uint64("scanned", result.BlocksScanned),
		zap.Uint64("failed", result.BlocksFailed),
		zap.Uint64("matches", result.MatchCount),
		zap.Uint64("decode_errors", result.DecodeErrors),
		zap.Duration("duration", time.Since(started)),
	)
	return result, nil
}

// scanBatch fetches every block of batch concurrently and commits the
// outcome to sink in ascending block order.
func (s *Scanner) scanBatch(ctx context.Context, batch types.BlockRange, target types.MatchTarget, sink *Sink) error {
	started := time.Now()

	// a started batch always completes; cancellation is honored between batches
	fetchCtx := context.WithoutCancel(ctx)

	slots := make([]slot, batch.Len())
	g := new(errgroup.Group)
	g.SetLimit(s.config.Concurrency)

	for i := range slots {
		number := batch.Start + uint64(i)
		g.Go(func() error {
			slots[i] = s.fetch(fetchCtx, number)
			return nil
		})
	}
	_ = g.Wait()

	var matches []types.TransactionSummary
	var failed []uint64
	var decodeErrors uint64

	for _, sl := range slots {
		if sl.err != nil {
			s.logger.Warn("Failed to fetch block",
				zap.Uint64("height", sl.number),
				zap.Error(sl.err),
			)
			sink.MarkFailed(sl.number)
			failed = append(failed, sl.number)
			continue
		}

		sink.MarkScanned()
		for idx := range sl.block.Transactions {
			tx := &sl.block.Transactions[idx]

			ok, err := filter.Match(tx, target)
			if err == nil && ok {
				var summary types.TransactionSummary
				summary, err = filter.Normalize(tx, idx)
				if err == nil {
					matches = append(matches, summary)
					continue
				}
			}
			if err != nil {
				s.logger.Warn("Skipping undecodable transaction",
					zap.Uint64("height", sl.number),
					zap.Int("index", idx),
					zap.Error(err),
				)
				decodeErrors++
			}
		}
	}

	sink.Append(matches...)
	sink.AddDecodeErrors(decodeErrors)

	if s.metrics != nil {
		s.metrics.BlocksScannedTotal.Add(float64(batch.Len() - uint64(len(failed))))
		s.metrics.BlocksFailedTotal.Add(float64(len(failed)))
		s.metrics.MatchesTotal.Add(float64(len(matches)))
		s.metrics.DecodeErrorsTotal.Add(float64(decodeErrors))
		s.metrics.BatchesTotal.Inc()
		s.metrics.LastBlock.Set(float64(batch.End))
		s.metrics.BatchDuration.Observe(time.Since(started).Seconds())
	}

	s.logger.Debug("Committed batch",
		zap.Uint64("start", batch.Start),
		zap.Uint64("end", batch.End),
		zap.Int("matches", len(matches)),
		zap.Int("failed", len(failed)),
		zap.Duration("duration", time.Since(started)),
	)

	if s.recorder != nil {
		if err := s.recorder.RecordBatch(fetchCtx, batch, matches, failed); err != nil {
			return fmt.Errorf("failed to record batch [%d, %d]: %w", batch.Start, batch.End, err)
		}
	}
	return nil
}

func (s *Scanner) fetch(ctx context.Context, number uint64) slot {
	if s.metrics != nil {
		s.metrics.InFlightFetches.Inc()
		defer s.metrics.InFlightFetches.Dec()
	}

	started := time.Now()
	block, err := s.fetcher.Fetch(ctx, number)
	if err == nil && block == nil {
		err = fmt.Errorf("block %d: fetcher returned no block", number)
	}

	if s.metrics != nil {
		result := "ok"
		if err != nil {
			result = "error"
		}
		s.metrics.FetchDuration.WithLabelValues(result).Observe(time.Since(started).Seconds())
	}

	return slot{number: number, block: block, err: err}
}

func (s *Scanner) reportProgress(p types.Progress) {
	s.logger.Info("Scan progress",
		zap.Uint64("processed", p.ProcessedBlocks),
		zap.Uint64("total", p.TotalBlocks),
		zap.Float64("progress", p.Percent()),
		zap.Uint64("batch_start", p.BatchStart),
		zap.Uint64("batch_end", p.BatchEnd),
	)
	if s.metrics != nil {
		s.metrics.Progress.Set(p.Percent() / constants.PercentageMultiplier)
	}
	if s.progress != nil {
		s.progress(p)
	}
}
