package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/0xmhha/selector-scan/internal/constants"
	"github.com/0xmhha/selector-scan/types"
)

// ReportPath returns the report file name for a scan finished at now
func ReportPath(dir, prefix string, now time.Time) string {
	if prefix == "" {
		prefix = constants.DefaultOutputPrefix
	}
	name := fmt.Sprintf("%s_%s.json", prefix, now.Format(constants.ReportTimestampLayout))
	return filepath.Join(dir, name)
}

// WriteReport writes the matches of result as an indented JSON array and
// returns the path of the written file.
func WriteReport(dir, prefix string, result *types.ScanResult, now time.Time) (string, error) {
	if result == nil {
		return "", fmt.Errorf("result cannot be nil")
	}

	if dir == "" {
		dir = constants.DefaultOutputDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	matches := result.Matches
	if matches == nil {
		matches = []types.TransactionSummary{}
	}

	data, err := json.MarshalIndent(matches, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}

	path := ReportPath(dir, prefix, now)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	return path, nil
}
