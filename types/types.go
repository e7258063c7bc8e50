// Package types defines the data model shared by the fetcher, the filter and
// the batch scanner.
package types

import (
	"fmt"
	"math"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// SelectorLength is the size of a method selector in bytes
const SelectorLength = 4

// maxPreallocatedBatches caps the capacity Batches reserves up front
const maxPreallocatedBatches = 1024

// BlockRange is an inclusive range of block numbers.
// A range with Start > End is empty.
type BlockRange struct {
	Start uint64 `json:"start" yaml:"start"`
	End   uint64 `json:"end" yaml:"end"`
}

// Empty reports whether the range contains no blocks
func (r BlockRange) Empty() bool {
	return r.Start > r.End
}

// Len returns the number of blocks in the range. The full range
// [0, MaxUint64] holds 2^64 blocks, which does not fit a uint64; Len reports
// 0 for it, see SpansAll.
func (r BlockRange) Len() uint64 {
	if r.Empty() {
		return 0
	}
	return r.End - r.Start + 1
}

// SpansAll reports whether the range covers every uint64 block number
func (r BlockRange) SpansAll() bool {
	return r.Start == 0 && r.End == math.MaxUint64
}

// Contains reports whether number lies inside the range
func (r BlockRange) Contains(number uint64) bool {
	return !r.Empty() && number >= r.Start && number <= r.End
}

// BatchAt returns the batch of at most size blocks that begins at start,
// clipped to the end of the range. start must lie inside the range and
// size must be positive.
func (r BlockRange) BatchAt(start uint64, size int) BlockRange {
	end := start + uint64(size) - 1
	// wrap-around at the top of the uint64 space
	if end < start || end > r.End {
		end = r.End
	}
	return BlockRange{Start: start, End: end}
}

// BatchCount returns the number of batches of at most size blocks the range
// splits into
func (r BlockRange) BatchCount(size int) uint64 {
	if r.Empty() || size <= 0 {
		return 0
	}
	// (Len-1)/size+1 without computing Len, which overflows for SpansAll
	return (r.End-r.Start)/uint64(size) + 1
}

// Batches partitions the range into consecutive sub-ranges of at most size
// blocks. The last batch may be shorter. A non-positive size or an empty
// range yields no batches.
func (r BlockRange) Batches(size int) []BlockRange {
	if r.Empty() || size <= 0 {
		return nil
	}

	batches := make([]BlockRange, 0, min(r.BatchCount(size), maxPreallocatedBatches))
	for start := r.Start; ; {
		batch := r.BatchAt(start, size)
		batches = append(batches, batch)
		if batch.End == r.End {
			break
		}
		start = batch.End + 1
	}
	return batches
}

// Subtract returns the parts of r not covered by any of covered, ascending.
// covered must be sorted by Start and disjoint.
func (r BlockRange) Subtract(covered []BlockRange) []BlockRange {
	if r.Empty() {
		return nil
	}

	var gaps []BlockRange
	next := r.Start
	for _, c := range covered {
		if c.Empty() || c.End < next {
			continue
		}
		if c.Start > r.End {
			break
		}
		if c.Start > next {
			gaps = append(gaps, BlockRange{Start: next, End: c.Start - 1})
		}
		if c.End >= r.End {
			return gaps
		}
		next = c.End + 1
	}
	return append(gaps, BlockRange{Start: next, End: r.End})
}

// RangesFromBlocks collapses block numbers into ascending, disjoint ranges
// of consecutive blocks. Duplicates are ignored.
func RangesFromBlocks(numbers []uint64) []BlockRange {
	if len(numbers) == 0 {
		return nil
	}

	sorted := make([]uint64, len(numbers))
	copy(sorted, numbers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	ranges := []BlockRange{{Start: sorted[0], End: sorted[0]}}
	for _, n := range sorted[1:] {
		last := &ranges[len(ranges)-1]
		switch {
		case n <= last.End:
			// duplicate
		case n == last.End+1:
			last.End = n
		default:
			ranges = append(ranges, BlockRange{Start: n, End: n})
		}
	}
	return ranges
}

// Block is a block with its full transaction bodies, as returned by
// eth_getBlockByNumber with includeFullTransactions set.
type Block struct {
	Number       uint64
	Hash         string
	Transactions []Transaction
}

// Transaction is a transaction object as received over JSON-RPC.
// Quantities stay hex-encoded until normalized, so a malformed field only
// invalidates the transaction that carries it.
type Transaction struct {
	Hash        string  `json:"hash"`
	BlockNumber string  `json:"blockNumber"`
	From        string  `json:"from"`
	To          *string `json:"to"`
	Value       string  `json:"value"`
	GasPrice    string  `json:"gasPrice"`
	Gas         string  `json:"gas"`
	Nonce       string  `json:"nonce"`
	Input       string  `json:"input"`
}

// IsContractCreation reports whether the transaction has no recipient
func (tx *Transaction) IsContractCreation() bool {
	return tx.To == nil || *tx.To == ""
}

// MatchTarget identifies the contract and method a scan is looking for
type MatchTarget struct {
	Contract common.Address
	Selector [SelectorLength]byte
}

// SelectorHex returns the selector as 0x-prefixed hex
func (t MatchTarget) SelectorHex() string {
	return hexutil.Encode(t.Selector[:])
}

// TransactionSummary is the normalized form of a matched transaction
type TransactionSummary struct {
	TxHash      string        `json:"tx_hash"`
	BlockNumber uint64        `json:"block_number"`
	TxIndex     int           `json:"tx_index"`
	From        string        `json:"from"`
	To          string        `json:"to"`
	Value       *big.Int      `json:"value"`
	GasPrice    *big.Int      `json:"gas_price"`
	Gas         uint64        `json:"gas"`
	Nonce       uint64        `json:"nonce"`
	InputData   hexutil.Bytes `json:"input_data"`
}

// ScanResult is the aggregated outcome of a scan
type ScanResult struct {
	Range         BlockRange           `json:"range"`
	Matches       []TransactionSummary `json:"matches"`
	BlocksScanned uint64               `json:"blocks_scanned"`
	BlocksFailed  uint64               `json:"blocks_failed"`
	MatchCount    uint64               `json:"match_count"`
	DecodeErrors  uint64               `json:"decode_errors"`
	FailedBlocks  []uint64             `json:"failed_blocks,omitempty"`
}

// Progress reports how far a scan has advanced
type Progress struct {
	ProcessedBlocks uint64
	TotalBlocks     uint64
	BatchStart      uint64
	BatchEnd        uint64
}

// Percent returns the processed share of the scan as a percentage
func (p Progress) Percent() float64 {
	if p.TotalBlocks == 0 {
		return 100
	}
	return float64(p.ProcessedBlocks) / float64(p.TotalBlocks) * 100
}

// ConfigError reports invalid scan parameters. It is raised before any
// block is fetched.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
