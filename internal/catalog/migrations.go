package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// migration is one forward-only schema step. Steps are applied in version
// order and recorded in schema_migrations; a step never runs twice.
type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		name:    "base schema",
		sql: `
CREATE TABLE IF NOT EXISTS cases (
	id                     TEXT PRIMARY KEY,
	title                  TEXT NOT NULL,
	case_number            TEXT,
	workspace_path         TEXT NOT NULL,
	user_id                TEXT NOT NULL,
	created_at             INTEGER NOT NULL,
	updated_at             INTEGER NOT NULL,
	summary_status         TEXT,
	summary_generated_at   INTEGER,
	summary_version        INTEGER NOT NULL DEFAULT 0,
	summary_document_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_cases_user ON cases(user_id);

CREATE TABLE IF NOT EXISTS documents (
	id                   TEXT PRIMARY KEY,
	case_id              TEXT NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
	filename             TEXT NOT NULL,
	folder_name          TEXT NOT NULL,
	document_type        TEXT,
	file_type            TEXT NOT NULL,
	page_count           INTEGER,
	word_count           INTEGER,
	processing_status    TEXT NOT NULL,
	has_text_extraction  INTEGER NOT NULL DEFAULT 0,
	has_metadata         INTEGER NOT NULL DEFAULT 0,
	rag_indexed          INTEGER NOT NULL DEFAULT 0,
	file_search_store_id TEXT,
	retrieval_file_uri   TEXT,
	blob_key             TEXT,
	blob_bucket          TEXT,
	blob_version_id      TEXT,
	blob_uploaded_at     INTEGER,
	content_type         TEXT,
	file_size_bytes      INTEGER,
	uploaded_at          INTEGER NOT NULL,
	processed_at         INTEGER
);

CREATE INDEX IF NOT EXISTS idx_documents_case ON documents(case_id);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(case_id, processing_status);
`,
	},
	{
		version: 2,
		name:    "narrative grounding columns",
		sql: `
ALTER TABLE cases ADD COLUMN narrative_updated_at INTEGER;
ALTER TABLE cases ADD COLUMN grounding_status TEXT;
`,
	},
}

// migrate brings the schema up to the latest known version. Already applied
// versions are skipped, and a database ahead of this binary is refused rather
// than rolled back.
func migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version    INTEGER PRIMARY KEY,
	name       TEXT NOT NULL,
	applied_at INTEGER NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	applied := map[int]bool{}
	maxApplied := 0
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("read applied migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
		if v > maxApplied {
			maxApplied = v
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate migrations: %w", err)
	}
	rows.Close()

	maxKnown := 0
	for _, m := range migrations {
		if m.version > maxKnown {
			maxKnown = m.version
		}
	}
	if maxApplied > maxKnown {
		return fmt.Errorf("database schema version %d is newer than supported version %d", maxApplied, maxKnown)
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			m.version, m.name, time.Now().Unix()); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}

// SchemaVersion reports the highest applied migration version.
func (c *Catalog) SchemaVersion(ctx context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var v sql.NullInt64
	err := c.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return int(v.Int64), nil
}
