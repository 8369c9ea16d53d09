package telemetry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/altadoc/altadoc/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS query_intent_stats (
	date   TEXT NOT NULL,
	intent TEXT NOT NULL,
	count  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, intent)
);

CREATE TABLE IF NOT EXISTS query_latency_stats (
	date   TEXT NOT NULL,
	bucket TEXT NOT NULL,
	count  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, bucket)
);

CREATE TABLE IF NOT EXISTS query_terms (
	term      TEXT PRIMARY KEY,
	count     INTEGER NOT NULL DEFAULT 0,
	last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

CREATE TABLE IF NOT EXISTS zero_result_queries (
	id    INTEGER PRIMARY KEY AUTOINCREMENT,
	query TEXT NOT NULL,
	seen  TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

// zeroResultKeep bounds the persisted zero-result history.
const zeroResultKeep = 500

// Store persists query metrics in a SQLite database next to the indexes.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the telemetry database at path.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create telemetry directory: %w", err)
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open telemetry store: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply telemetry schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Save writes a snapshot's aggregates under the given date. Intent and
// latency counts replace the day's rows (the snapshot is cumulative for
// the process); term counts and zero-result queries accumulate.
func (s *Store) Save(date string, snap *Snapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin telemetry save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for intent, count := range snap.IntentCounts {
		if _, err := tx.Exec(
			`INSERT INTO query_intent_stats (date, intent, count) VALUES (?, ?, ?)
			 ON CONFLICT(date, intent) DO UPDATE SET count = excluded.count`,
			date, string(intent), count); err != nil {
			return fmt.Errorf("save intent counts: %w", err)
		}
	}

	for bucket, count := range snap.LatencyHistogram {
		if _, err := tx.Exec(
			`INSERT INTO query_latency_stats (date, bucket, count) VALUES (?, ?, ?)
			 ON CONFLICT(date, bucket) DO UPDATE SET count = excluded.count`,
			date, string(bucket), count); err != nil {
			return fmt.Errorf("save latency counts: %w", err)
		}
	}

	for _, tc := range snap.TopTerms {
		if _, err := tx.Exec(
			`INSERT INTO query_terms (term, count) VALUES (?, ?)
			 ON CONFLICT(term) DO UPDATE SET
				count = MAX(query_terms.count, excluded.count),
				last_seen = CURRENT_TIMESTAMP`,
			tc.Term, tc.Count); err != nil {
			return fmt.Errorf("save term counts: %w", err)
		}
	}

	for _, q := range snap.ZeroResultQueries {
		if _, err := tx.Exec(`INSERT INTO zero_result_queries (query) VALUES (?)`, q); err != nil {
			return fmt.Errorf("save zero-result query: %w", err)
		}
	}
	if _, err := tx.Exec(
		`DELETE FROM zero_result_queries WHERE id NOT IN
			(SELECT id FROM zero_result_queries ORDER BY id DESC LIMIT ?)`,
		zeroResultKeep); err != nil {
		return fmt.Errorf("trim zero-result queries: %w", err)
	}

	return tx.Commit()
}

// IntentCounts returns per-intent totals across the stored dates.
func (s *Store) IntentCounts() (map[domain.Intent]int64, error) {
	rows, err := s.db.Query(`SELECT intent, SUM(count) FROM query_intent_stats GROUP BY intent`)
	if err != nil {
		return nil, fmt.Errorf("query intent counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[domain.Intent]int64)
	for rows.Next() {
		var intent string
		var count int64
		if err := rows.Scan(&intent, &count); err != nil {
			return nil, err
		}
		out[domain.Intent(intent)] = count
	}
	return out, rows.Err()
}

// LatencyCounts returns per-bucket totals across the stored dates.
func (s *Store) LatencyCounts() (map[LatencyBucket]int64, error) {
	rows, err := s.db.Query(`SELECT bucket, SUM(count) FROM query_latency_stats GROUP BY bucket`)
	if err != nil {
		return nil, fmt.Errorf("query latency counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[LatencyBucket]int64)
	for rows.Next() {
		var bucket string
		var count int64
		if err := rows.Scan(&bucket, &count); err != nil {
			return nil, err
		}
		out[LatencyBucket(bucket)] = count
	}
	return out, rows.Err()
}

// TopTerms returns the most frequent query terms.
func (s *Store) TopTerms(limit int) ([]TermCount, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT term, count FROM query_terms ORDER BY count DESC, term LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// ZeroResultQueries returns recent queries that produced no answer, newest
// first.
func (s *Store) ZeroResultQueries(limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT query FROM zero_result_queries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero-result queries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}
