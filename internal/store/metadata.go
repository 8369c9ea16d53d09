package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/altadoc/altadoc/internal/domain"
	"github.com/altadoc/altadoc/internal/errors"
)

// MetadataStore persists archives, documents, jobs, and per-collection
// embedding metadata in SQLite. It is the system of record for pipeline
// state; the two search indexes can always be rebuilt from it plus the
// object store.
type MetadataStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS archives (
	id            TEXT PRIMARY KEY,
	content_hash  TEXT NOT NULL UNIQUE,
	project_id    TEXT NOT NULL,
	object_id     TEXT NOT NULL,
	phase         TEXT NOT NULL DEFAULT '',
	size_bytes    INTEGER NOT NULL DEFAULT 0,
	received_at   TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	id            TEXT PRIMARY KEY,
	archive_id    TEXT NOT NULL REFERENCES archives(id),
	path          TEXT NOT NULL,
	media_type    TEXT NOT NULL DEFAULT '',
	content_hash  TEXT NOT NULL,
	discipline    TEXT NOT NULL DEFAULT '',
	doc_type      TEXT NOT NULL DEFAULT '',
	doc_no        TEXT NOT NULL DEFAULT '',
	revision      TEXT NOT NULL DEFAULT '',
	issued_at     TIMESTAMP,
	vendor        TEXT NOT NULL DEFAULT '',
	language      TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'pending',
	last_error    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_documents_archive ON documents(archive_id);
CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(content_hash);

CREATE TABLE IF NOT EXISTS jobs (
	id             TEXT PRIMARY KEY,
	archive_id     TEXT NOT NULL REFERENCES archives(id),
	phase          TEXT NOT NULL,
	counters       TEXT NOT NULL DEFAULT '{}',
	started_at     TIMESTAMP NOT NULL,
	finished_at    TIMESTAMP,
	last_error     TEXT NOT NULL DEFAULT '',
	stop_requested INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_jobs_archive ON jobs(archive_id);

CREATE TABLE IF NOT EXISTS job_file_errors (
	job_id  TEXT NOT NULL REFERENCES jobs(id),
	path    TEXT NOT NULL,
	message TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_job_file_errors_job ON job_file_errors(job_id);

CREATE TABLE IF NOT EXISTS collections (
	name      TEXT PRIMARY KEY,
	dimension INTEGER NOT NULL,
	model     TEXT NOT NULL
);
`

// NewMetadataStore opens (creating if needed) the SQLite database at path.
func NewMetadataStore(path string) (*MetadataStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create metadata directory: %w", err)
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	// modernc.org/sqlite serialises writes; one connection avoids
	// SQLITE_BUSY under concurrent workers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply metadata schema: %w", err)
	}
	return &MetadataStore{db: db}, nil
}

// Close closes the database.
func (m *MetadataStore) Close() error { return m.db.Close() }

// --- archives ---

// CreateArchive records a new archive. A duplicate content hash returns the
// already-known archive so re-uploads are deduplicated.
func (m *MetadataStore) CreateArchive(ctx context.Context, a domain.Archive) (*domain.Archive, bool, error) {
	if existing, err := m.ArchiveByHash(ctx, a.ContentHash); err == nil {
		return existing, false, nil
	} else if !errors.IsKind(err, errors.KindNotFound) {
		return nil, false, err
	}

	_, err := m.db.ExecContext(ctx, `
		INSERT INTO archives (id, content_hash, project_id, object_id, phase, size_bytes, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ContentHash, a.ProjectID, a.ObjectID, string(a.Phase), a.SizeBytes, a.ReceivedAt)
	if err != nil {
		return nil, false, errors.Transient("insert archive", err)
	}
	return &a, true, nil
}

// ArchiveByHash finds an archive by content hash.
func (m *MetadataStore) ArchiveByHash(ctx context.Context, hash string) (*domain.Archive, error) {
	return m.archiveBy(ctx, "content_hash", hash)
}

// Archive finds an archive by ID.
func (m *MetadataStore) Archive(ctx context.Context, id string) (*domain.Archive, error) {
	return m.archiveBy(ctx, "id", id)
}

func (m *MetadataStore) archiveBy(ctx context.Context, column, value string) (*domain.Archive, error) {
	row := m.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, content_hash, project_id, object_id, phase, size_bytes, received_at
		FROM archives WHERE %s = ?`, column), value)

	var a domain.Archive
	var phase string
	err := row.Scan(&a.ID, &a.ContentHash, &a.ProjectID, &a.ObjectID, &phase, &a.SizeBytes, &a.ReceivedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(fmt.Sprintf("archive with %s %q", column, value))
	}
	if err != nil {
		return nil, errors.Transient("query archive", err)
	}
	a.Phase = domain.Phase(phase)
	return &a, nil
}

// --- documents ---

// UpsertDocument inserts or replaces a document record.
func (m *MetadataStore) UpsertDocument(ctx context.Context, d domain.Document) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO documents
			(id, archive_id, path, media_type, content_hash, discipline, doc_type,
			 doc_no, revision, issued_at, vendor, language, status, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content_hash = excluded.content_hash,
			discipline   = excluded.discipline,
			doc_type     = excluded.doc_type,
			doc_no       = excluded.doc_no,
			revision     = excluded.revision,
			issued_at    = excluded.issued_at,
			vendor       = excluded.vendor,
			language     = excluded.language,
			status       = excluded.status,
			last_error   = excluded.last_error`,
		d.ID, d.ArchiveID, d.Path, d.MediaType, d.ContentHash, string(d.Discipline),
		string(d.DocType), d.DocNo, d.Revision, d.IssuedAt, d.Vendor, d.Language,
		string(d.Status), d.LastError)
	if err != nil {
		return errors.Transient("upsert document", err)
	}
	return nil
}

// SetDocumentStatus advances a document's pipeline status.
func (m *MetadataStore) SetDocumentStatus(ctx context.Context, id string, status domain.DocumentStatus, lastError string) error {
	res, err := m.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, last_error = ? WHERE id = ?`,
		string(status), lastError, id)
	if err != nil {
		return errors.Transient("update document status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound(fmt.Sprintf("document %s", id))
	}
	return nil
}

// Document returns one document by ID.
func (m *MetadataStore) Document(ctx context.Context, id string) (*domain.Document, error) {
	docs, err := m.queryDocuments(ctx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, errors.NotFound(fmt.Sprintf("document %s", id))
	}
	return &docs[0], nil
}

// Documents lists the documents of an archive ordered by path.
func (m *MetadataStore) Documents(ctx context.Context, archiveID string) ([]domain.Document, error) {
	return m.queryDocuments(ctx, `WHERE archive_id = ? ORDER BY path`, archiveID)
}

// DocumentsByStatus lists an archive's documents in one status.
func (m *MetadataStore) DocumentsByStatus(ctx context.Context, archiveID string, status domain.DocumentStatus) ([]domain.Document, error) {
	return m.queryDocuments(ctx, `WHERE archive_id = ? AND status = ? ORDER BY path`, archiveID, string(status))
}

func (m *MetadataStore) queryDocuments(ctx context.Context, where string, args ...any) ([]domain.Document, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, archive_id, path, media_type, content_hash, discipline, doc_type,
		       doc_no, revision, issued_at, vendor, language, status, last_error
		FROM documents `+where, args...)
	if err != nil {
		return nil, errors.Transient("query documents", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []domain.Document
	for rows.Next() {
		var d domain.Document
		var discipline, docType, status string
		var issuedAt sql.NullTime
		if err := rows.Scan(&d.ID, &d.ArchiveID, &d.Path, &d.MediaType, &d.ContentHash,
			&discipline, &docType, &d.DocNo, &d.Revision, &issuedAt, &d.Vendor,
			&d.Language, &status, &d.LastError); err != nil {
			return nil, errors.Transient("scan document", err)
		}
		d.Discipline = domain.Discipline(discipline)
		d.DocType = domain.DocType(docType)
		d.Status = domain.DocumentStatus(status)
		if issuedAt.Valid {
			d.IssuedAt = issuedAt.Time
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// --- jobs ---

// CreateJob records a new ingestion job.
func (m *MetadataStore) CreateJob(ctx context.Context, j domain.Job) error {
	counters, err := json.Marshal(j.Counters)
	if err != nil {
		return errors.Internal("marshal job counters", err)
	}
	_, err = m.db.ExecContext(ctx, `
		INSERT INTO jobs (id, archive_id, phase, counters, started_at, last_error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		j.ID, j.ArchiveID, string(j.Phase), string(counters), j.StartedAt, j.LastError)
	if err != nil {
		return errors.Transient("insert job", err)
	}
	return nil
}

// UpdateJob persists the job's phase, counters, and error state.
func (m *MetadataStore) UpdateJob(ctx context.Context, j domain.Job) error {
	counters, err := json.Marshal(j.Counters)
	if err != nil {
		return errors.Internal("marshal job counters", err)
	}
	var finished any
	if !j.FinishedAt.IsZero() {
		finished = j.FinishedAt
	}
	res, err := m.db.ExecContext(ctx, `
		UPDATE jobs SET phase = ?, counters = ?, finished_at = ?, last_error = ?
		WHERE id = ?`,
		string(j.Phase), string(counters), finished, j.LastError, j.ID)
	if err != nil {
		return errors.Transient("update job", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound(fmt.Sprintf("job %s", j.ID))
	}
	return nil
}

// AppendFileError records a per-file failure on a job.
func (m *MetadataStore) AppendFileError(ctx context.Context, jobID string, fe domain.FileError) error {
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO job_file_errors (job_id, path, message) VALUES (?, ?, ?)`,
		jobID, fe.Path, fe.Message)
	if err != nil {
		return errors.Transient("insert job file error", err)
	}
	return nil
}

// RequestStop marks a job for graceful stop at the next batch boundary.
func (m *MetadataStore) RequestStop(ctx context.Context, jobID string) error {
	res, err := m.db.ExecContext(ctx,
		`UPDATE jobs SET stop_requested = 1 WHERE id = ?`, jobID)
	if err != nil {
		return errors.Transient("request job stop", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound(fmt.Sprintf("job %s", jobID))
	}
	return nil
}

// StopRequested reads the job's stop flag.
func (m *MetadataStore) StopRequested(ctx context.Context, jobID string) (bool, error) {
	var flag int
	err := m.db.QueryRowContext(ctx,
		`SELECT stop_requested FROM jobs WHERE id = ?`, jobID).Scan(&flag)
	if err == sql.ErrNoRows {
		return false, errors.NotFound(fmt.Sprintf("job %s", jobID))
	}
	if err != nil {
		return false, errors.Transient("query job stop flag", err)
	}
	return flag != 0, nil
}

// Job returns one job with its file errors.
func (m *MetadataStore) Job(ctx context.Context, id string) (*domain.Job, error) {
	jobs, err := m.queryJobs(ctx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, errors.NotFound(fmt.Sprintf("job %s", id))
	}
	j := jobs[0]

	rows, err := m.db.QueryContext(ctx,
		`SELECT path, message FROM job_file_errors WHERE job_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, errors.Transient("query job file errors", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var fe domain.FileError
		if err := rows.Scan(&fe.Path, &fe.Message); err != nil {
			return nil, errors.Transient("scan job file error", err)
		}
		j.FileErrors = append(j.FileErrors, fe)
	}
	return &j, rows.Err()
}

// Jobs lists jobs newest first, up to limit.
func (m *MetadataStore) Jobs(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	return m.queryJobs(ctx, `ORDER BY started_at DESC LIMIT ?`, limit)
}

// ActiveJob returns the most recent non-terminal job for an archive, if any.
func (m *MetadataStore) ActiveJob(ctx context.Context, archiveID string) (*domain.Job, error) {
	jobs, err := m.queryJobs(ctx,
		`WHERE archive_id = ? AND phase NOT IN (?, ?) ORDER BY started_at DESC LIMIT 1`,
		archiveID, string(domain.JobPhaseCompleted), string(domain.JobPhaseFailed))
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, errors.NotFound(fmt.Sprintf("active job for archive %s", archiveID))
	}
	return &jobs[0], nil
}

func (m *MetadataStore) queryJobs(ctx context.Context, clause string, args ...any) ([]domain.Job, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, archive_id, phase, counters, started_at, finished_at, last_error, stop_requested
		FROM jobs `+clause, args...)
	if err != nil {
		return nil, errors.Transient("query jobs", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []domain.Job
	for rows.Next() {
		var j domain.Job
		var phase, counters string
		var finished sql.NullTime
		var stop int
		if err := rows.Scan(&j.ID, &j.ArchiveID, &phase, &counters, &j.StartedAt,
			&finished, &j.LastError, &stop); err != nil {
			return nil, errors.Transient("scan job", err)
		}
		j.Phase = domain.JobPhase(phase)
		if err := json.Unmarshal([]byte(counters), &j.Counters); err != nil {
			return nil, errors.Integrity("job counters are corrupt", err).WithDetail("job_id", j.ID)
		}
		if finished.Valid {
			j.FinishedAt = finished.Time
		}
		j.StopRequested = stop != 0
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// --- collections ---

// CollectionMeta is the embedding contract of one collection.
type CollectionMeta struct {
	Name      string
	Dimension int
	Model     string
}

// BindCollection records the embedding dimension and model of a collection
// on first use, and refuses a mismatch afterwards: silently mixing vector
// widths would corrupt every search in the collection.
func (m *MetadataStore) BindCollection(ctx context.Context, meta CollectionMeta) error {
	existing, err := m.Collection(ctx, meta.Name)
	if errors.IsKind(err, errors.KindNotFound) {
		_, err := m.db.ExecContext(ctx,
			`INSERT INTO collections (name, dimension, model) VALUES (?, ?, ?)`,
			meta.Name, meta.Dimension, meta.Model)
		if err != nil {
			return errors.Transient("insert collection meta", err)
		}
		return nil
	}
	if err != nil {
		return err
	}
	if existing.Dimension != meta.Dimension || existing.Model != meta.Model {
		return errors.Integrity("collection is bound to a different embedding configuration", nil).
			WithDetail("collection", meta.Name).
			WithDetail("bound_model", existing.Model).
			WithDetail("bound_dimension", fmt.Sprintf("%d", existing.Dimension)).
			WithDetail("requested_model", meta.Model).
			WithDetail("requested_dimension", fmt.Sprintf("%d", meta.Dimension))
	}
	return nil
}

// Collection returns the stored embedding contract of a collection.
func (m *MetadataStore) Collection(ctx context.Context, name string) (*CollectionMeta, error) {
	var meta CollectionMeta
	err := m.db.QueryRowContext(ctx,
		`SELECT name, dimension, model FROM collections WHERE name = ?`, name).
		Scan(&meta.Name, &meta.Dimension, &meta.Model)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(fmt.Sprintf("collection %s", name))
	}
	if err != nil {
		return nil, errors.Transient("query collection meta", err)
	}
	return &meta, nil
}
