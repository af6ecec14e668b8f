package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CleanupStats summarizes a retention sweep.
type CleanupStats struct {
	FilesRemoved int
	BytesFreed   int64
}

// Cleanup removes audit files older than retentionDays. Zero or
// negative retention means keep everything.
func Cleanup(dir string, retentionDays int) (CleanupStats, error) {
	var stats CleanupStats
	if retentionDays <= 0 {
		return stats, nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	files, err := filepath.Glob(filepath.Join(dir, filePrefix+"-*.ndjson"))
	if err != nil {
		return stats, fmt.Errorf("listing audit files: %w", err)
	}

	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(f); err != nil {
			return stats, fmt.Errorf("removing %s: %w", f, err)
		}
		stats.FilesRemoved++
		stats.BytesFreed += info.Size()
	}
	return stats, nil
}
