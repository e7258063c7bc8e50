package scanner

import (
	"github.com/0xmhha/selector-scan/types"
)

// Sink accumulates the outcome of a scan.
// It is not safe for concurrent use; only the batch driver mutates it.
type Sink struct {
	rng          types.BlockRange
	matches      []types.TransactionSummary
	scanned      uint64
	failed       uint64
	decodeErrors uint64
	failedBlocks []uint64
}

// NewSink creates an empty sink for a scan over rng
func NewSink(rng types.BlockRange) *Sink {
	return &Sink{
		rng:     rng,
		matches: make([]types.TransactionSummary, 0),
	}
}

// Append adds matches in the order given
func (s *Sink) Append(matches ...types.TransactionSummary) {
	s.matches = append(s.matches, matches...)
}

// MarkScanned counts one successfully processed block
func (s *Sink) MarkScanned() {
	s.scanned++
}

// MarkFailed counts a block that could not be fetched
func (s *Sink) MarkFailed(number uint64) {
	s.failed++
	s.failedBlocks = append(s.failedBlocks, number)
}

// AddDecodeErrors counts transactions skipped because they could not be decoded
func (s *Sink) AddDecodeErrors(n uint64) {
	s.decodeErrors += n
}

// Finalize returns a snapshot of the accumulated result.
// The sink stays usable; later mutations do not affect the snapshot.
func (s *Sink) Finalize() *types.ScanResult {
	matches := make([]types.TransactionSummary, len(s.matches))
	copy(matches, s.matches)

	var failedBlocks []uint64
	if len(s.failedBlocks) > 0 {
		failedBlocks = make([]uint64, len(s.failedBlocks))
		copy(failedBlocks, s.failedBlocks)
	}

	return &types.ScanResult{
		Range:         s.rng,
		Matches:       matches,
		BlocksScanned: s.scanned,
		BlocksFailed:  s.failed,
		MatchCount:    uint64(len(matches)),
		DecodeErrors:  s.decodeErrors,
		FailedBlocks:  failedBlocks,
	}
}
