// Package telemetry collects local query statistics: intent distribution,
// latency histogram, frequent terms, and queries that produced no answer.
// Everything stays on disk next to the indexes; nothing is reported
// externally. Zero-result queries are the main input for extending the
// synonym table.
package telemetry

import (
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/altadoc/altadoc/internal/domain"
)

// LatencyBucket is one histogram bucket.
type LatencyBucket string

const (
	BucketUnder100ms LatencyBucket = "lt_100ms"
	BucketUnder500ms LatencyBucket = "lt_500ms"
	BucketUnder1s    LatencyBucket = "lt_1s"
	BucketUnder3s    LatencyBucket = "lt_3s"
	BucketOver3s     LatencyBucket = "ge_3s"
)

// bucketFor maps a query latency to its histogram bucket.
func bucketFor(d time.Duration) LatencyBucket {
	switch {
	case d < 100*time.Millisecond:
		return BucketUnder100ms
	case d < 500*time.Millisecond:
		return BucketUnder500ms
	case d < time.Second:
		return BucketUnder1s
	case d < 3*time.Second:
		return BucketUnder3s
	default:
		return BucketOver3s
	}
}

// Event is one finished query.
type Event struct {
	Query       string
	Intent      domain.Intent
	ResultCount int
	Confidence  float64
	Latency     time.Duration
}

// Snapshot is an immutable view of the collected metrics.
type Snapshot struct {
	IntentCounts      map[domain.Intent]int64 `json:"intent_counts"`
	LatencyHistogram  map[LatencyBucket]int64 `json:"latency_histogram"`
	TopTerms          []TermCount             `json:"top_terms"`
	ZeroResultQueries []string                `json:"zero_result_queries"`
	TotalQueries      int64                   `json:"total_queries"`
	ZeroResultCount   int64                   `json:"zero_result_count"`
	Since             time.Time               `json:"since"`
}

// TermCount is a term with its frequency.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Config sizes the in-memory aggregates.
type Config struct {
	// TopTermsCapacity caps the tracked term set. Default: 200.
	TopTermsCapacity int
	// ZeroResultCapacity caps remembered zero-result queries. Default: 100.
	ZeroResultCapacity int
	// FlushInterval is the persistence cadence; 0 disables the background
	// flush (Close still flushes once).
	FlushInterval time.Duration
}

// Metrics aggregates query events in memory and periodically persists them.
// Safe for concurrent use.
type Metrics struct {
	mu sync.Mutex

	intents     map[domain.Intent]int64
	latencies   map[LatencyBucket]int64
	terms       *lru.Cache[string, int64]
	zeroResults []string
	zeroHead    int
	zeroCap     int
	total       int64
	zeroTotal   int64
	since       time.Time

	store  *Store
	ticker *time.Ticker
	stopCh chan struct{}
	closed bool
}

// New creates a metrics collector. A nil store keeps metrics in memory only.
func New(store *Store, cfg Config) *Metrics {
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = 200
	}
	if cfg.ZeroResultCapacity <= 0 {
		cfg.ZeroResultCapacity = 100
	}
	terms, _ := lru.New[string, int64](cfg.TopTermsCapacity)

	m := &Metrics{
		intents:   make(map[domain.Intent]int64),
		latencies: make(map[LatencyBucket]int64),
		terms:     terms,
		zeroCap:   cfg.ZeroResultCapacity,
		since:     time.Now(),
		store:     store,
		stopCh:    make(chan struct{}),
	}
	if store != nil && cfg.FlushInterval > 0 {
		m.ticker = time.NewTicker(cfg.FlushInterval)
		go m.flushLoop()
	}
	return m
}

func (m *Metrics) flushLoop() {
	for {
		select {
		case <-m.ticker.C:
			_ = m.Flush()
		case <-m.stopCh:
			return
		}
	}
}

// Record captures one finished query.
func (m *Metrics) Record(e Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	m.total++
	m.intents[e.Intent]++
	m.latencies[bucketFor(e.Latency)]++

	for _, term := range extractTerms(e.Query) {
		count, _ := m.terms.Get(term)
		m.terms.Add(term, count+1)
	}

	if e.ResultCount == 0 {
		m.zeroTotal++
		if len(m.zeroResults) < m.zeroCap {
			m.zeroResults = append(m.zeroResults, e.Query)
		} else {
			m.zeroResults[m.zeroHead] = e.Query
			m.zeroHead = (m.zeroHead + 1) % m.zeroCap
		}
	}
}

// extractTerms lowercases and keeps words of 3+ runes. Cyrillic terms pass
// unchanged; stemming belongs to the index, not the counter.
func extractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len([]rune(w)) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// Snapshot returns a copy of the current aggregates.
func (m *Metrics) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Metrics) snapshotLocked() *Snapshot {
	s := &Snapshot{
		IntentCounts:     make(map[domain.Intent]int64, len(m.intents)),
		LatencyHistogram: make(map[LatencyBucket]int64, len(m.latencies)),
		TotalQueries:     m.total,
		ZeroResultCount:  m.zeroTotal,
		Since:            m.since,
	}
	for k, v := range m.intents {
		s.IntentCounts[k] = v
	}
	for k, v := range m.latencies {
		s.LatencyHistogram[k] = v
	}
	for _, key := range m.terms.Keys() {
		if count, ok := m.terms.Peek(key); ok {
			s.TopTerms = append(s.TopTerms, TermCount{Term: key, Count: count})
		}
	}
	// Oldest first.
	s.ZeroResultQueries = append(s.ZeroResultQueries, m.zeroResults[m.zeroHead:]...)
	s.ZeroResultQueries = append(s.ZeroResultQueries, m.zeroResults[:m.zeroHead]...)
	return s
}

// ZeroResultRate is the share of queries with no answer.
func (s *Snapshot) ZeroResultRate() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries)
}

// Flush persists the aggregates. Counts are written under today's date, so
// long-running processes produce a daily series.
func (m *Metrics) Flush() error {
	if m.store == nil {
		return nil
	}
	m.mu.Lock()
	snapshot := m.snapshotLocked()
	m.mu.Unlock()
	return m.store.Save(time.Now().Format("2006-01-02"), snapshot)
}

// Close flushes once and stops the background loop.
func (m *Metrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.ticker != nil {
		m.ticker.Stop()
		close(m.stopCh)
	}
	return m.Flush()
}
