package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/0xmhha/selector-scan/types"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
)

var (
	// ErrBlockNotFound is returned when the node answers null for a block
	ErrBlockNotFound = errors.New("block not found")

	// ErrMalformedBlock is returned when the block payload cannot be used
	ErrMalformedBlock = errors.New("malformed block")
)

// FetchError reports that a block could not be retrieved
type FetchError struct {
	Number   uint64
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch block %d after %d attempt(s): %v", e.Number, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Caller performs a raw JSON-RPC call.
// Both *client.Client and go-ethereum's *rpc.Client satisfy it.
type Caller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// Config holds fetcher configuration
type Config struct {
	// Retry decides whether failed attempts are repeated. Nil means NoRetry.
	Retry RetryPolicy

	// Metrics receives per-call statistics. Optional.
	Metrics *RPCMetrics
}

// Fetcher retrieves full blocks from the node.
// It holds no mutable state of its own and is safe for concurrent use.
type Fetcher struct {
	caller  Caller
	retry   RetryPolicy
	metrics *RPCMetrics
	logger  *zap.Logger
}

// NewFetcher creates a new Fetcher instance
func NewFetcher(caller Caller, config *Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fetcher{
		caller: caller,
		retry:  NoRetry{},
		logger: logger,
	}
	if config != nil {
		if config.Retry != nil {
			f.retry = config.Retry
		}
		f.metrics = config.Metrics
	}
	return f
}

// Metrics returns the call statistics tracker, or nil if none is attached
func (f *Fetcher) Metrics() *RPCMetrics {
	return f.metrics
}

// rpcBlock is the subset of the eth_getBlockByNumber payload the scanner uses
type rpcBlock struct {
	Number       string              `json:"number"`
	Hash         string              `json:"hash"`
	Transactions []types.Transaction `json:"transactions"`
}

// Fetch retrieves block number with full transaction bodies.
// Any failure is returned as a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, number uint64) (*types.Block, error) {
	var err error

	for attempt := 1; ; attempt++ {
		var block *types.Block
		block, err = f.fetchOnce(ctx, number)
		if err == nil {
			if f.metrics != nil {
				f.metrics.RecordBlock(len(block.Transactions))
			}
			return block, nil
		}

		delay, retry := f.retry.Backoff(attempt, err)
		if !retry {
			return nil, &FetchError{Number: number, Attempts: attempt, Err: err}
		}

		f.logger.Warn("Retrying block fetch",
			zap.Uint64("height", number),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return nil, &FetchError{Number: number, Attempts: attempt, Err: err}
		}
	}
}

func (f *Fetcher) fetchOnce(ctx context.Context, number uint64) (*types.Block, error) {
	var raw *rpcBlock

	start := time.Now()
	err := f.caller.CallContext(ctx, &raw, "eth_getBlockByNumber", hexutil.EncodeUint64(number), true)
	if f.metrics != nil {
		f.metrics.RecordCall(time.Since(start), err)
	}
	if err != nil {
		return nil, fmt.Errorf("eth_getBlockByNumber: %w", err)
	}

	if raw == nil {
		return nil, ErrBlockNotFound
	}

	got, err := hexutil.DecodeUint64(raw.Number)
	if err != nil {
		return nil, fmt.Errorf("%w: number %q: %v", ErrMalformedBlock, raw.Number, err)
	}
	if got != number {
		return nil, fmt.Errorf("%w: requested %d, node returned %d", ErrMalformedBlock, number, got)
	}

	return &types.Block{
		Number:       got,
		Hash:         raw.Hash,
		Transactions: raw.Transactions,
	}, nil
}
