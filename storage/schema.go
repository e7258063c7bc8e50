package storage

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Key prefixes for different data types
const (
	prefixMeta    = "/meta/"
	prefixData    = "/data/"
	prefixIndex   = "/index/"
	prefixMatches = "/data/matches/"
	prefixFailed  = "/index/failed/"
	prefixCovered = "/index/covered/"
)

// Metadata keys
const (
	keyCheckpoint = "/meta/checkpoint"
	keyTarget     = "/meta/target"
)

// CheckpointKey returns the key for the highest committed block
func CheckpointKey() []byte {
	return []byte(keyCheckpoint)
}

// TargetKey returns the key for the match target the database belongs to
func TargetKey() []byte {
	return []byte(keyTarget)
}

// MatchKey returns the key for storing a match
// Format: /data/matches/{height}/{index}
// Uses zero-padded fixed-width format for proper lexicographic sorting
func MatchKey(height uint64, txIndex uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d/%010d", prefixMatches, height, txIndex))
}

// FailedBlockKey returns the key for the failed-block index
// Format: /index/failed/{height}
func FailedBlockKey(height uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixFailed, height))
}

// CoveredKey returns the key of the covered range starting at height.
// The value holds the last block of the range.
// Format: /index/covered/{height}
func CoveredKey(height uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixCovered, height))
}

// MatchKeyRange returns the key range for iterating matches of blocks
// [startHeight, endHeight]. The returned end key is exclusive.
func MatchKeyRange(startHeight, endHeight uint64) ([]byte, []byte) {
	start := []byte(fmt.Sprintf("%s%020d/", prefixMatches, startHeight))
	if endHeight == ^uint64(0) {
		return start, prefixUpperBound([]byte(prefixMatches))
	}
	end := []byte(fmt.Sprintf("%s%020d/", prefixMatches, endHeight+1))
	return start, end
}

// FailedBlockKeyRange returns the key range covering the whole failed-block index
func FailedBlockKeyRange() ([]byte, []byte) {
	prefix := []byte(prefixFailed)
	return prefix, prefixUpperBound(prefix)
}

// CoveredKeyRange returns the key range of covered ranges that start at or
// before height. The returned end key is exclusive.
func CoveredKeyRange(height uint64) ([]byte, []byte) {
	prefix := []byte(prefixCovered)
	if height == ^uint64(0) {
		return prefix, prefixUpperBound(prefix)
	}
	return prefix, CoveredKey(height + 1)
}

// ParseFailedBlockKey parses a failed-block key and returns the height
func ParseFailedBlockKey(key []byte) (uint64, error) {
	return parseHeightKey(prefixFailed, "failed-block", key)
}

// ParseCoveredKey parses a covered-range key and returns its first block
func ParseCoveredKey(key []byte) (uint64, error) {
	return parseHeightKey(prefixCovered, "covered-range", key)
}

func parseHeightKey(prefix, kind string, key []byte) (uint64, error) {
	keyStr := string(key)
	if !strings.HasPrefix(keyStr, prefix) {
		return 0, fmt.Errorf("%w: %s key prefix: %s", ErrInvalidKey, kind, keyStr)
	}

	heightStr := strings.TrimPrefix(keyStr, prefix)
	if heightStr == "" {
		return 0, fmt.Errorf("%w: %s key missing height", ErrInvalidKey, kind)
	}

	height, err := strconv.ParseUint(heightStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s key: %v", ErrInvalidKey, kind, err)
	}

	return height, nil
}

// EncodeUint64 encodes uint64 to bytes in big-endian format
func EncodeUint64(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}

// DecodeUint64 decodes bytes to uint64 in big-endian format
func DecodeUint64(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("invalid uint64 data length: %d", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// prefixUpperBound returns the smallest key greater than every key with prefix
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
