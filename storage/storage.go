package storage

import (
	"context"
	"errors"

	"github.com/0xmhha/selector-scan/internal/constants"
	"github.com/0xmhha/selector-scan/types"
)

// Common errors
var (
	// ErrNotFound is returned when a key is not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidKey is returned when a key format is invalid
	ErrInvalidKey = errors.New("invalid key")

	// ErrClosed is returned when operating on a closed storage
	ErrClosed = errors.New("storage closed")

	// ErrReadOnly is returned when attempting to write to a read-only storage
	ErrReadOnly = errors.New("storage is read-only")

	// ErrTargetMismatch is returned when a database built for one target is
	// reused for another
	ErrTargetMismatch = errors.New("database was built for a different target")
)

// Reader provides read access to persisted scan progress
type Reader interface {
	// Checkpoint returns the highest block of any committed batch
	Checkpoint(ctx context.Context) (uint64, error)

	// Coverage returns the merged block ranges of every committed batch,
	// ascending and disjoint. Blocks that failed inside a committed batch
	// count as covered and are listed by FailedBlocks.
	Coverage(ctx context.Context) ([]types.BlockRange, error)

	// FailedBlocks returns the blocks that still need to be fetched, ascending
	FailedBlocks(ctx context.Context) ([]uint64, error)

	// Matches returns the matches stored for blocks in [from, to]
	Matches(ctx context.Context, from, to uint64) ([]types.TransactionSummary, error)
}

// Writer persists committed batches
type Writer interface {
	// RecordBatch atomically stores the matches of a batch, updates the
	// failed-block index and advances the checkpoint
	RecordBatch(ctx context.Context, batch types.BlockRange, matches []types.TransactionSummary, failed []uint64) error

	// BindTarget ties the database to one match target
	BindTarget(ctx context.Context, target types.MatchTarget) error
}

// Store combines Reader and Writer
type Store interface {
	Reader
	Writer
	Close() error
}

// Config holds storage configuration
type Config struct {
	// Path to the database directory
	Path string

	// Cache size in MB
	Cache int

	// MaxOpenFiles is the maximum number of open files
	MaxOpenFiles int

	// ReadOnly opens the database in read-only mode
	ReadOnly bool
}

// DefaultConfig returns a default configuration
func DefaultConfig(path string) *Config {
	return &Config{
		Path:         path,
		Cache:        constants.DefaultCacheSize,
		MaxOpenFiles: constants.DefaultMaxOpenFiles,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Path == "" {
		return errors.New("path cannot be empty")
	}
	if c.Cache < 0 {
		return errors.New("cache size cannot be negative")
	}
	if c.MaxOpenFiles < 0 {
		return errors.New("max open files cannot be negative")
	}
	return nil
}
