package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/0xmhha/selector-scan/types"
	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

var _ Store = (*PebbleStore)(nil)

// PebbleStore implements Store using PebbleDB
type PebbleStore struct {
	db     *pebble.DB
	config *Config
	logger *zap.Logger
	closed atomic.Bool

	// serializes checkpoint read-modify-write across RecordBatch calls
	writeMu sync.Mutex
}

// NewPebbleStore opens (or creates) a PebbleDB store
func NewPebbleStore(cfg *Config) (*PebbleStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cache := pebble.NewCache(int64(cfg.Cache) << 20) // Convert MB to bytes
	defer cache.Unref()

	opts := &pebble.Options{
		Cache:        cache,
		MaxOpenFiles: cfg.MaxOpenFiles,
		ReadOnly:     cfg.ReadOnly,
	}

	db, err := pebble.Open(cfg.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &PebbleStore{
		db:     db,
		config: cfg,
		logger: zap.NewNop(),
	}, nil
}

// SetLogger sets the logger for the store
func (s *PebbleStore) SetLogger(logger *zap.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// ensureNotClosed checks if storage is closed
func (s *PebbleStore) ensureNotClosed() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// ensureWritable checks the store is open and not read-only
func (s *PebbleStore) ensureWritable() error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}
	if s.config.ReadOnly {
		return ErrReadOnly
	}
	return nil
}

// Close closes the store and releases resources
func (s *PebbleStore) Close() error {
	if s.closed.Swap(true) {
		return nil // Already closed
	}

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// BindTarget records target on first use and rejects a different target later,
// so matches of two different scans never mix in one database.
func (s *PebbleStore) BindTarget(ctx context.Context, target types.MatchTarget) error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}

	encoded, err := EncodeTarget(target)
	if err != nil {
		return err
	}

	value, closer, err := s.db.Get(TargetKey())
	switch {
	case err == nil:
		defer closer.Close()
		if !bytes.Equal(value, encoded) {
			return fmt.Errorf("%w: want %s/%s", ErrTargetMismatch, target.Contract.Hex(), target.SelectorHex())
		}
		return nil
	case errors.Is(err, pebble.ErrNotFound):
		if err := s.ensureWritable(); err != nil {
			return err
		}
		return s.db.Set(TargetKey(), encoded, pebble.Sync)
	default:
		return fmt.Errorf("failed to get target: %w", err)
	}
}

// RecordBatch implements Writer
func (s *PebbleStore) RecordBatch(ctx context.Context, batch types.BlockRange, matches []types.TransactionSummary, failed []uint64) error {
	if err := s.ensureWritable(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	checkpoint, err := s.Checkpoint(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if errors.Is(err, ErrNotFound) || batch.End > checkpoint {
		checkpoint = batch.End
	}

	b := s.db.NewBatch()
	defer b.Close()

	// every block of the batch that did not fail is no longer pending
	failedSet := make(map[uint64]struct{}, len(failed))
	for _, n := range failed {
		failedSet[n] = struct{}{}
	}
	for n := batch.Start; ; n++ {
		if _, ok := failedSet[n]; ok {
			if err := b.Set(FailedBlockKey(n), nil, nil); err != nil {
				return fmt.Errorf("failed to mark block %d failed: %w", n, err)
			}
		} else if err := b.Delete(FailedBlockKey(n), nil); err != nil {
			return fmt.Errorf("failed to clear block %d: %w", n, err)
		}
		if n == batch.End {
			break
		}
	}

	for i := range matches {
		data, err := EncodeMatch(&matches[i])
		if err != nil {
			return err
		}
		key := MatchKey(matches[i].BlockNumber, uint64(matches[i].TxIndex))
		if err := b.Set(key, data, nil); err != nil {
			return fmt.Errorf("failed to store match %s: %w", matches[i].TxHash, err)
		}
	}

	if err := s.mergeCoverage(b, batch); err != nil {
		return err
	}

	if err := b.Set(CheckpointKey(), EncodeUint64(checkpoint), nil); err != nil {
		return fmt.Errorf("failed to set checkpoint: %w", err)
	}

	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch [%d, %d]: %w", batch.Start, batch.End, err)
	}

	s.logger.Debug("Recorded batch",
		zap.Uint64("start", batch.Start),
		zap.Uint64("end", batch.End),
		zap.Int("matches", len(matches)),
		zap.Int("failed", len(failed)),
		zap.Uint64("checkpoint", checkpoint),
	)
	return nil
}

// mergeCoverage folds batch into the covered-range index. Stored ranges are
// kept disjoint and non-adjacent, so every range that overlaps or touches
// batch is replaced by one merged range. Callers hold writeMu.
func (s *PebbleStore) mergeCoverage(b *pebble.Batch, batch types.BlockRange) error {
	lowerStart := batch.End
	if lowerStart < ^uint64(0) {
		lowerStart++
	}
	lower, upper := CoveredKeyRange(lowerStart)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	merged := batch
	for iter.Last(); iter.Valid(); iter.Prev() {
		start, err := ParseCoveredKey(iter.Key())
		if err != nil {
			return err
		}
		end, err := DecodeUint64(iter.Value())
		if err != nil {
			return fmt.Errorf("failed to decode covered range at %s: %w", iter.Key(), err)
		}
		// ranges further left end before this one
		if end < merged.Start && merged.Start-end > 1 {
			break
		}
		merged.Start = min(merged.Start, start)
		merged.End = max(merged.End, end)
		if err := b.Delete(iter.Key(), nil); err != nil {
			return fmt.Errorf("failed to delete covered range %d: %w", start, err)
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("iterator error: %w", err)
	}

	if err := b.Set(CoveredKey(merged.Start), EncodeUint64(merged.End), nil); err != nil {
		return fmt.Errorf("failed to set covered range [%d, %d]: %w", merged.Start, merged.End, err)
	}
	return nil
}

// Coverage implements Reader
func (s *PebbleStore) Coverage(ctx context.Context) ([]types.BlockRange, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}

	lower, upper := CoveredKeyRange(^uint64(0))
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	var covered []types.BlockRange
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start, err := ParseCoveredKey(iter.Key())
		if err != nil {
			return nil, err
		}
		end, err := DecodeUint64(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("failed to decode covered range at %s: %w", iter.Key(), err)
		}
		covered = append(covered, types.BlockRange{Start: start, End: end})
	}

	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterator error: %w", err)
	}

	return covered, nil
}

// Checkpoint implements Reader. It returns ErrNotFound before the first batch.
func (s *PebbleStore) Checkpoint(ctx context.Context) (uint64, error) {
	if err := s.ensureNotClosed(); err != nil {
		return 0, err
	}

	value, closer, err := s.db.Get(CheckpointKey())
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	defer closer.Close()

	height, err := DecodeUint64(value)
	if err != nil {
		return 0, fmt.Errorf("failed to decode checkpoint: %w", err)
	}

	return height, nil
}

// FailedBlocks implements Reader
func (s *PebbleStore) FailedBlocks(ctx context.Context) ([]uint64, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}

	lower, upper := FailedBlockKeyRange()
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	var blocks []uint64
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		height, err := ParseFailedBlockKey(iter.Key())
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, height)
	}

	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterator error: %w", err)
	}

	return blocks, nil
}

// Matches implements Reader. Matches come back ordered by block and index.
func (s *PebbleStore) Matches(ctx context.Context, from, to uint64) ([]types.TransactionSummary, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}
	if from > to {
		return []types.TransactionSummary{}, nil
	}

	lower, upper := MatchKeyRange(from, to)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	matches := make([]types.TransactionSummary, 0)
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		match, err := DecodeMatch(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("failed to decode match at %s: %w", iter.Key(), err)
		}
		matches = append(matches, *match)
	}

	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterator error: %w", err)
	}

	return matches, nil
}
