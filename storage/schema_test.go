package storage

import (
	"bytes"
	"errors"
	"testing"
)

func TestMatchKey_Ordering(t *testing.T) {
	// lexicographic order must follow (height, index)
	keys := [][]byte{
		MatchKey(9, 0),
		MatchKey(9, 10),
		MatchKey(10, 0),
		MatchKey(100, 2),
	}
	for i := 1; i < len(keys); i++ {
		if bytes.Compare(keys[i-1], keys[i]) >= 0 {
			t.Errorf("key %s should sort before %s", keys[i-1], keys[i])
		}
	}
}

func TestMatchKeyRange(t *testing.T) {
	start, end := MatchKeyRange(10, 20)

	inside := [][]byte{MatchKey(10, 0), MatchKey(15, 99), MatchKey(20, 1000)}
	for _, key := range inside {
		if bytes.Compare(key, start) < 0 || bytes.Compare(key, end) >= 0 {
			t.Errorf("key %s should be inside [%s, %s)", key, start, end)
		}
	}

	outside := [][]byte{MatchKey(9, 1000), MatchKey(21, 0)}
	for _, key := range outside {
		if bytes.Compare(key, start) >= 0 && bytes.Compare(key, end) < 0 {
			t.Errorf("key %s should be outside [%s, %s)", key, start, end)
		}
	}

	_, end = MatchKeyRange(0, ^uint64(0))
	if bytes.Compare(MatchKey(^uint64(0), 5), end) >= 0 {
		t.Error("max height key should be inside the open-ended range")
	}
}

func TestFailedBlockKey(t *testing.T) {
	key := FailedBlockKey(102)

	height, err := ParseFailedBlockKey(key)
	if err != nil {
		t.Fatalf("ParseFailedBlockKey() error = %v", err)
	}
	if height != 102 {
		t.Errorf("ParseFailedBlockKey() = %d, want 102", height)
	}

	lower, upper := FailedBlockKeyRange()
	if bytes.Compare(key, lower) < 0 || bytes.Compare(key, upper) >= 0 {
		t.Errorf("key %s outside failed-block range", key)
	}
	if bytes.Compare(CheckpointKey(), lower) >= 0 && bytes.Compare(CheckpointKey(), upper) < 0 {
		t.Error("checkpoint key must not fall in the failed-block range")
	}
}

func TestCoveredKeyRange(t *testing.T) {
	height, err := ParseCoveredKey(CoveredKey(5000))
	if err != nil {
		t.Fatalf("ParseCoveredKey() error = %v", err)
	}
	if height != 5000 {
		t.Errorf("ParseCoveredKey() = %d, want 5000", height)
	}

	lower, upper := CoveredKeyRange(6001)
	for _, h := range []uint64{0, 5000, 6001} {
		if key := CoveredKey(h); bytes.Compare(key, lower) < 0 || bytes.Compare(key, upper) >= 0 {
			t.Errorf("key %s should be inside [%s, %s)", key, lower, upper)
		}
	}
	if key := CoveredKey(6002); bytes.Compare(key, upper) < 0 {
		t.Errorf("key %s should be outside the range", key)
	}

	_, upper = CoveredKeyRange(^uint64(0))
	if bytes.Compare(CoveredKey(^uint64(0)), upper) >= 0 {
		t.Error("max height key should be inside the open-ended range")
	}
}

func TestParseKeys_Invalid(t *testing.T) {
	if _, err := ParseCoveredKey(FailedBlockKey(1)); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("ParseCoveredKey() error = %v, want ErrInvalidKey", err)
	}
	if _, err := ParseFailedBlockKey([]byte(prefixFailed)); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("ParseFailedBlockKey() error = %v, want ErrInvalidKey", err)
	}
	if _, err := ParseFailedBlockKey([]byte(prefixFailed + "abc")); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("ParseFailedBlockKey() error = %v, want ErrInvalidKey", err)
	}
}

func TestUint64Encoding(t *testing.T) {
	for _, n := range []uint64{0, 1, 255, 1 << 40, ^uint64(0)} {
		got, err := DecodeUint64(EncodeUint64(n))
		if err != nil {
			t.Fatalf("DecodeUint64() error = %v", err)
		}
		if got != n {
			t.Errorf("DecodeUint64(EncodeUint64(%d)) = %d", n, got)
		}
	}

	if _, err := DecodeUint64([]byte{1, 2}); err == nil {
		t.Error("DecodeUint64() expected error for short input")
	}
}
