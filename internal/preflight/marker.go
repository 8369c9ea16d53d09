package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// markerFile records that checks passed once for this data directory.
const markerFile = ".preflight-passed"

// NeedsCheck reports whether checks should run: true until MarkPassed has
// been called for the data directory.
func NeedsCheck(dataDir string) bool {
	_, err := os.Stat(filepath.Join(dataDir, markerFile))
	return os.IsNotExist(err)
}

// MarkPassed records a successful check run.
func MarkPassed(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	content := []byte(time.Now().Format(time.RFC3339))
	return os.WriteFile(filepath.Join(dataDir, markerFile), content, 0o644)
}

// ClearMarker forces a re-check on the next run.
func ClearMarker(dataDir string) error {
	err := os.Remove(filepath.Join(dataDir, markerFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove marker: %w", err)
	}
	return nil
}
