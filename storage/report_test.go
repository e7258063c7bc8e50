package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/0xmhha/selector-scan/types"
)

func TestReportPath(t *testing.T) {
	now := time.Date(2024, 11, 5, 9, 3, 7, 0, time.UTC)

	got := ReportPath("/tmp/out", "story_tx_analysis", now)
	want := filepath.Join("/tmp/out", "story_tx_analysis_20241105_090307.json")
	if got != want {
		t.Errorf("ReportPath() = %s, want %s", got, want)
	}

	if got := ReportPath("", "", now); got != "tx_analysis_20241105_090307.json" {
		t.Errorf("ReportPath() default prefix = %s", got)
	}
}

func TestWriteReport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	now := time.Date(2024, 11, 5, 9, 3, 7, 0, time.UTC)

	result := &types.ScanResult{
		Matches: []types.TransactionSummary{
			createTestMatch(t, 101, 1),
			createTestMatch(t, 103, 0),
		},
		MatchCount: 2,
	}

	path, err := WriteReport(dir, "story_tx_analysis", result, now)
	if err != nil {
		t.Fatalf("WriteReport() error = %v", err)
	}
	if filepath.Base(path) != "story_tx_analysis_20241105_090307.json" {
		t.Errorf("report name = %s", filepath.Base(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	var entries []map[string]interface{}
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("report is not a JSON array: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("report has %d entries, want 2", len(entries))
	}

	for _, field := range []string{"tx_hash", "block_number", "from", "to", "value", "gas_price", "gas", "nonce", "input_data"} {
		if _, ok := entries[0][field]; !ok {
			t.Errorf("report entry missing field %q", field)
		}
	}
	if entries[0]["block_number"].(float64) != 101 {
		t.Errorf("block_number = %v, want 101", entries[0]["block_number"])
	}
	if entries[0]["input_data"].(string)[:10] != "0x8f37ec19" {
		t.Errorf("input_data = %v, want selector prefix", entries[0]["input_data"])
	}

	// no temp file left behind
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}
}

func TestWriteReport_NoMatches(t *testing.T) {
	path, err := WriteReport(t.TempDir(), "", &types.ScanResult{}, time.Now())
	if err != nil {
		t.Fatalf("WriteReport() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "[]\n" {
		t.Errorf("empty report = %q, want []", data)
	}
}

func TestWriteReport_NilResult(t *testing.T) {
	if _, err := WriteReport(t.TempDir(), "", nil, time.Now()); err == nil {
		t.Error("WriteReport(nil) expected error")
	}
}
