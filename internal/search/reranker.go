package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/altadoc/altadoc/internal/errors"
)

// RerankResult is one scored document.
type RerankResult struct {
	// Index is the position in the input documents slice.
	Index int
	// Score is the raw cross-encoder relevance; callers normalise per call.
	Score float64
}

// Reranker scores query-document pairs with a cross-encoder. Joint
// encoding is slower than the bi-encoder retrieval path but markedly more
// accurate, so it runs only over the fused top candidates.
type Reranker interface {
	// Rerank scores documents against the query, preserving input order.
	Rerank(ctx context.Context, query string, documents []string) ([]RerankResult, error)

	// Available reports whether the scoring backend is reachable.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// NoOpReranker passes candidates through with slowly decreasing scores so
// the fused order is preserved. Used when no cross-encoder is configured.
type NoOpReranker struct{}

var _ Reranker = (*NoOpReranker)(nil)

func (n *NoOpReranker) Rerank(_ context.Context, _ string, documents []string) ([]RerankResult, error) {
	results := make([]RerankResult, len(documents))
	for i := range documents {
		results[i] = RerankResult{Index: i, Score: 1.0 - float64(i)*0.01}
	}
	return results, nil
}

func (n *NoOpReranker) Available(_ context.Context) bool { return true }

func (n *NoOpReranker) Close() error { return nil }

// Cross-encoder service defaults.
const (
	DefaultRerankerEndpoint = "http://localhost:9659"
	DefaultRerankerTimeout  = 10 * time.Second

	// maxRerankDocChars truncates candidate text to the cross-encoder's
	// effective context window.
	maxRerankDocChars = 2000
)

// HTTPRerankerConfig configures the cross-encoder client.
type HTTPRerankerConfig struct {
	Endpoint string
	Model    string
	Timeout  time.Duration
}

// HTTPReranker scores pairs against an external cross-encoder service
// speaking a minimal JSON protocol: POST /rerank with the query and the
// document list, scores back in input order.
type HTTPReranker struct {
	client   *http.Client
	config   HTTPRerankerConfig
	endpoint string

	mu     sync.RWMutex
	closed bool
}

var _ Reranker = (*HTTPReranker)(nil)

// NewHTTPReranker creates the cross-encoder client.
func NewHTTPReranker(cfg HTTPRerankerConfig) *HTTPReranker {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultRerankerEndpoint
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultRerankerTimeout
	}
	return &HTTPReranker{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		config:   cfg,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
	}
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

// Rerank scores all documents in one call, retrying transient failures.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, documents []string) ([]RerankResult, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, errors.Internal("reranker is closed", nil)
	}
	r.mu.RUnlock()

	if len(documents) == 0 {
		return []RerankResult{}, nil
	}

	scores, err := errors.RetryWithResult(ctx, errors.DefaultRetryConfig(), func() ([]float64, error) {
		return r.score(ctx, query, documents)
	})
	if err != nil {
		return nil, err
	}
	if len(scores) != len(documents) {
		return nil, errors.Internal(
			fmt.Sprintf("reranker returned %d scores for %d documents", len(scores), len(documents)), nil)
	}

	results := make([]RerankResult, len(scores))
	for i, s := range scores {
		results[i] = RerankResult{Index: i, Score: s}
	}
	return results, nil
}

func (r *HTTPReranker) score(ctx context.Context, query string, documents []string) ([]float64, error) {
	reqCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	body, err := json.Marshal(rerankRequest{Model: r.config.Model, Query: query, Documents: documents})
	if err != nil {
		return nil, errors.Internal("marshal rerank request", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, r.endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Internal("create rerank request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, errors.Transient("reranker request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, errors.Transient("read rerank response", err)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, errors.Transient(
			fmt.Sprintf("reranker returned status %d", resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Internal(
			fmt.Sprintf("reranker returned status %d: %s", resp.StatusCode, string(payload)), nil)
	}

	var decoded rerankResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, errors.Internal("decode rerank response", err)
	}
	return decoded.Scores, nil
}

// Available probes the service health endpoint.
func (r *HTTPReranker) Available(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, r.endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Close marks the client closed.
func (r *HTTPReranker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// candidateText builds the cross-encoder input for one candidate:
// title, section, clause, and content joined and truncated.
func candidateText(c *Candidate) string {
	var b strings.Builder
	common := &c.Chunk.Common
	if common.DocTitle != "" {
		b.WriteString(common.DocTitle)
		b.WriteString("\n")
	}
	if common.Section != "" {
		b.WriteString(common.Section)
		b.WriteString("\n")
	}
	if common.Clause != "" {
		b.WriteString(common.Clause)
		b.WriteString("\n")
	}
	b.WriteString(common.Content)

	text := b.String()
	if len(text) > maxRerankDocChars {
		runes := []rune(text)
		if len(runes) > maxRerankDocChars {
			text = string(runes[:maxRerankDocChars])
		}
	}
	return text
}
