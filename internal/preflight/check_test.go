package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altadoc/altadoc/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Store.DataDir = t.TempDir()
	cfg.ObjectStore.Root = t.TempDir()
	cfg.Embeddings.Provider = "static"
	return cfg
}

func TestRunAllPassesOnHealthyEnvironment(t *testing.T) {
	results := New().RunAll(context.Background(), testConfig(t))
	require.NotEmpty(t, results)
	assert.False(t, HasCriticalFailures(results))
}

func TestCheckDataDirCreatesMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	r := New().CheckDataDir(dir)
	assert.Equal(t, StatusPass, r.Status)
	assert.True(t, r.Required)
}

func TestCheckObjectStoreMissingRootFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.ObjectStore.Root = filepath.Join(t.TempDir(), "does-not-exist")

	r := New().CheckObjectStore(cfg)
	assert.Equal(t, StatusFail, r.Status)
	assert.True(t, r.IsCritical())
}

func TestCheckObjectStoreS3NotProbedLocally(t *testing.T) {
	cfg := testConfig(t)
	cfg.ObjectStore.Backend = "s3"
	cfg.ObjectStore.Bucket = "docs"
	cfg.ObjectStore.Region = "eu-central-1"

	r := New().CheckObjectStore(cfg)
	assert.Equal(t, StatusPass, r.Status)
	assert.Contains(t, r.Message, "s3://docs")
}

func TestCheckEmbedderSkipsNonOllama(t *testing.T) {
	r := New().CheckEmbedder(context.Background(), testConfig(t))
	assert.Equal(t, StatusPass, r.Status)
	assert.False(t, r.Required)
}

func TestCheckEmbedderReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Embeddings.Provider = "ollama"
	cfg.Embeddings.Host = srv.URL

	r := New().CheckEmbedder(context.Background(), cfg)
	assert.Equal(t, StatusPass, r.Status)
}

func TestCheckEmbedderUnreachableWarns(t *testing.T) {
	cfg := testConfig(t)
	cfg.Embeddings.Provider = "ollama"
	cfg.Embeddings.Host = "http://127.0.0.1:1" // nothing listens here

	r := New().CheckEmbedder(context.Background(), cfg)
	assert.Equal(t, StatusWarn, r.Status)
	assert.False(t, r.IsCritical())
}
