// Package preflight validates the environment before ingestion or repair:
// disk space and write access in the data directory, file descriptor
// limits, the object store root, and the embedding endpoint.
package preflight

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/altadoc/altadoc/internal/config"
)

// CheckStatus is the outcome of one check.
type CheckStatus int

const (
	StatusPass CheckStatus = iota
	StatusWarn
	StatusFail
)

// String returns the string representation of a CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// CheckResult holds the result of a single check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical reports whether this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// MinDiskSpaceBytes is the minimum free space required in the data
// directory before ingestion starts.
const MinDiskSpaceBytes = 500 * 1024 * 1024

// MinFileDescriptors is the minimum file descriptor limit; the index
// writer holds several files per collection plus the SQLite database.
const MinFileDescriptors = 1024

// Checker runs environment checks against a configuration.
type Checker struct {
	httpClient *http.Client
}

// New creates a Checker.
func New() *Checker {
	return &Checker{httpClient: http.DefaultClient}
}

// RunAll runs every check and returns the results in a fixed order.
func (c *Checker) RunAll(ctx context.Context, cfg *config.Config) []CheckResult {
	return []CheckResult{
		c.CheckDataDir(cfg.Store.DataDir),
		c.CheckDiskSpace(cfg.Store.DataDir),
		c.CheckFileDescriptors(),
		c.CheckObjectStore(cfg),
		c.CheckEmbedder(ctx, cfg),
	}
}

// HasCriticalFailures reports whether any required check failed.
func HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// CheckDataDir verifies the data directory exists (or can be created) and
// is writable.
func (c *Checker) CheckDataDir(dataDir string) CheckResult {
	result := CheckResult{Name: "data_dir", Required: true}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create %s: %v", dataDir, err)
		return result
	}
	probe := filepath.Join(dataDir, ".write-probe")
	f, err := os.Create(probe)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("not writable: %v", err)
		return result
	}
	_ = f.Close()
	_ = os.Remove(probe)

	result.Status = StatusPass
	result.Message = dataDir
	return result
}

// CheckDiskSpace verifies free space in the data directory's filesystem.
func (c *Checker) CheckDiskSpace(dataDir string) CheckResult {
	result := CheckResult{Name: "disk_space", Required: true}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(dataDir, &stat); err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("cannot stat filesystem: %v", err)
		result.Required = false
		return result
	}

	available := stat.Bavail * uint64(stat.Bsize)
	result.Message = fmt.Sprintf("%s free (minimum: %s)", formatBytes(available), formatBytes(MinDiskSpaceBytes))
	if available < MinDiskSpaceBytes {
		result.Status = StatusFail
		return result
	}
	result.Status = StatusPass
	return result
}

// CheckFileDescriptors verifies the soft file descriptor limit.
func (c *Checker) CheckFileDescriptors() CheckResult {
	result := CheckResult{Name: "file_descriptors", Required: true}

	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("cannot read limit: %v", err)
		result.Required = false
		return result
	}

	result.Message = fmt.Sprintf("%d (minimum: %d)", rLimit.Cur, MinFileDescriptors)
	if rLimit.Cur < MinFileDescriptors {
		result.Status = StatusFail
		result.Details = fmt.Sprintf("Run 'ulimit -n %d' to raise the limit", 4*MinFileDescriptors)
		return result
	}
	result.Status = StatusPass
	return result
}

// CheckObjectStore verifies the archive source is reachable. Only the fs
// backend is checked locally; s3 reachability surfaces on first fetch.
func (c *Checker) CheckObjectStore(cfg *config.Config) CheckResult {
	result := CheckResult{Name: "object_store", Required: true}

	switch cfg.ObjectStore.Backend {
	case "", "fs":
		info, err := os.Stat(cfg.ObjectStore.Root)
		if err != nil {
			result.Status = StatusFail
			result.Message = fmt.Sprintf("root %s: %v", cfg.ObjectStore.Root, err)
			return result
		}
		if !info.IsDir() {
			result.Status = StatusFail
			result.Message = fmt.Sprintf("root %s is not a directory", cfg.ObjectStore.Root)
			return result
		}
		result.Status = StatusPass
		result.Message = cfg.ObjectStore.Root
	case "s3":
		result.Status = StatusPass
		result.Message = fmt.Sprintf("s3://%s (%s)", cfg.ObjectStore.Bucket, cfg.ObjectStore.Region)
	default:
		result.Status = StatusFail
		result.Message = fmt.Sprintf("unknown backend %q", cfg.ObjectStore.Backend)
	}
	return result
}

// CheckEmbedder pings the embedding endpoint. Not required: the static
// provider needs no endpoint, and ingestion retries transient failures.
func (c *Checker) CheckEmbedder(ctx context.Context, cfg *config.Config) CheckResult {
	result := CheckResult{Name: "embedder", Required: false}

	if cfg.Embeddings.Provider != "ollama" {
		result.Status = StatusPass
		result.Message = fmt.Sprintf("provider %q needs no endpoint", cfg.Embeddings.Provider)
		return result
	}

	url := strings.TrimRight(cfg.Embeddings.Host, "/") + "/api/version"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("bad host %q: %v", cfg.Embeddings.Host, err)
		return result
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("Ollama unreachable at %s", cfg.Embeddings.Host)
		result.Details = "Start Ollama or set embeddings.provider: static"
		return result
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("Ollama returned %d", resp.StatusCode)
		return result
	}
	result.Status = StatusPass
	result.Message = fmt.Sprintf("Ollama reachable, model %s", cfg.Embeddings.Model)
	return result
}

// formatBytes formats bytes as a human-readable string.
func formatBytes(bytes uint64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/TB)
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
