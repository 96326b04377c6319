// Package registry provides a SQLite-backed document registry for the
// ingestion pipeline. It records what has been ingested, at which content
// hash and version, so re-ingestion can skip unchanged files and replace
// changed ones. The registry is bookkeeping only — chunk vectors live in the
// vector store.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// ErrNotFound is returned when a document is not present in the registry.
var ErrNotFound = errors.New("registry: document not found")

// Status tracks a document through the ingestion lifecycle.
type Status string

const (
	// StatusPending means ingestion has started but not completed. A pending
	// document found on startup indicates an interrupted run.
	StatusPending Status = "pending"
	// StatusIngested means the document's chunks are in the vector store.
	StatusIngested Status = "ingested"
	// StatusFailed means the last ingestion attempt did not complete.
	StatusFailed Status = "failed"
)

// Record is one document's registry entry.
type Record struct {
	// ID is the stable document identifier derived from the source path.
	ID string
	// Path is the source file path as given at ingestion time.
	Path string
	// Format is the detected document format.
	Format string
	// ContentHash is the sha256 of the file content at ingestion time. Used
	// to skip re-ingesting unchanged files.
	ContentHash string
	// ChunkCount is how many chunks the document produced.
	ChunkCount int
	// IngestVersion increments each time the document is (re-)ingested.
	IngestVersion int
	// Status is the document's ingestion lifecycle state.
	Status Status
	// LastError holds the failure reason when Status is failed.
	LastError string
	// UpdatedAt is when the record last changed.
	UpdatedAt time.Time
}

// Registry persists document ingestion state in a local SQLite database.
// It is safe for concurrent use.
type Registry struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the registry database. It
// resolves to ~/.docqa/registry.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("registry: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".docqa")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("registry: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "registry.db"), nil
}

// Open opens (or creates) a Registry at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*Registry, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("registry: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	r := &Registry{db: db}
	if err := r.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// migrate creates the schema if it does not already exist.
func (r *Registry) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
    id             TEXT    PRIMARY KEY,
    path           TEXT    NOT NULL,
    format         TEXT    NOT NULL,
    content_hash   TEXT    NOT NULL,
    chunk_count    INTEGER NOT NULL DEFAULT 0,
    ingest_version INTEGER NOT NULL DEFAULT 1,
    status         TEXT    NOT NULL CHECK(status IN ('pending','ingested','failed')),
    last_error     TEXT    NOT NULL DEFAULT '',
    updated_at     INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents (status);
`
	if _, err := r.db.Exec(ddl); err != nil {
		return fmt.Errorf("registry: migrate: %w", err)
	}
	return nil
}

// Get returns the registry entry for the given document ID, or ErrNotFound.
func (r *Registry) Get(ctx context.Context, id string) (*Record, error) {
	const q = `
SELECT id, path, format, content_hash, chunk_count, ingest_version, status, last_error, updated_at
FROM   documents
WHERE  id = ?`

	var rec Record
	var status string
	var ts int64
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&rec.ID, &rec.Path, &rec.Format, &rec.ContentHash,
		&rec.ChunkCount, &rec.IngestVersion, &status, &rec.LastError, &ts,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("registry: get: %w", err)
	}
	rec.Status = Status(status)
	rec.UpdatedAt = time.Unix(ts, 0)
	return &rec, nil
}

// MarkPending records the start of an ingestion attempt. A new document
// starts at version 1; a known document gets its version bumped and its
// chunk count reset.
func (r *Registry) MarkPending(ctx context.Context, id, path, format, contentHash string) error {
	const q = `
INSERT INTO documents (id, path, format, content_hash, chunk_count, ingest_version, status, last_error, updated_at)
VALUES (?, ?, ?, ?, 0, 1, 'pending', '', ?)
ON CONFLICT(id) DO UPDATE SET
    path           = excluded.path,
    format         = excluded.format,
    content_hash   = excluded.content_hash,
    chunk_count    = 0,
    ingest_version = documents.ingest_version + 1,
    status         = 'pending',
    last_error     = '',
    updated_at     = excluded.updated_at`

	if _, err := r.db.ExecContext(ctx, q, id, path, format, contentHash, time.Now().Unix()); err != nil {
		return fmt.Errorf("registry: mark pending: %w", err)
	}
	return nil
}

// MarkIngested records a completed ingestion with its chunk count.
func (r *Registry) MarkIngested(ctx context.Context, id string, chunkCount int) error {
	const q = `UPDATE documents SET status = 'ingested', chunk_count = ?, last_error = '', updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, q, chunkCount, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("registry: mark ingested: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// MarkFailed records a failed ingestion attempt and its reason.
func (r *Registry) MarkFailed(ctx context.Context, id, reason string) error {
	const q = `UPDATE documents SET status = 'failed', last_error = ?, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, q, reason, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("registry: mark failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// List returns all registry entries ordered by path for stable output.
func (r *Registry) List(ctx context.Context) ([]Record, error) {
	const q = `
SELECT id, path, format, content_hash, chunk_count, ingest_version, status, last_error, updated_at
FROM   documents
ORDER  BY path ASC`

	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("registry: list: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var rec Record
		var status string
		var ts int64
		if err := rows.Scan(
			&rec.ID, &rec.Path, &rec.Format, &rec.ContentHash,
			&rec.ChunkCount, &rec.IngestVersion, &status, &rec.LastError, &ts,
		); err != nil {
			return nil, fmt.Errorf("registry: list scan: %w", err)
		}
		rec.Status = Status(status)
		rec.UpdatedAt = time.Unix(ts, 0)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: list rows: %w", err)
	}
	return recs, nil
}

// Delete removes a document's registry entry. Deleting an unknown document
// is not an error — the end state is the same.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("registry: delete: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (r *Registry) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("registry: close: %w", err)
	}
	return nil
}
