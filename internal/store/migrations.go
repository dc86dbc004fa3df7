package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// migrate creates all tables if they don't exist and seeds metadata.
func (s *SQLiteStore) migrate() error {
	bootstrapDone, err := s.isMetaFlagEnabled("schema_bootstrap_complete")
	if err != nil {
		return fmt.Errorf("checking bootstrap state: %w", err)
	}

	if !bootstrapDone {
		if err := s.runBootstrapDDL(); err != nil {
			return err
		}
	}

	// Seed metadata (outside bootstrap transaction — meta table now exists)
	if err := s.seedMeta(); err != nil {
		return fmt.Errorf("seeding metadata: %w", err)
	}

	if !bootstrapDone {
		if err := s.setMetaFlag("schema_bootstrap_complete"); err != nil {
			return fmt.Errorf("marking bootstrap complete: %w", err)
		}
	}

	// Schema evolution: reviewer note on pending assignments.
	// Uses ALTER TABLE which can't be inside CREATE TABLE IF NOT EXISTS;
	// column existence is checked first to keep it idempotent.
	if err := s.migratePendingNoteColumn(); err != nil {
		return fmt.Errorf("migrating pending note column: %w", err)
	}

	// Schema evolution: covering indexes for the filtered listing queries.
	if err := s.migrateQueryIndexes(); err != nil {
		return fmt.Errorf("migrating query indexes: %w", err)
	}

	return nil
}

func (s *SQLiteStore) runBootstrapDDL() error {
	statements := []string{
		// Imported documents. content_hash UNIQUE enforces idempotent import.
		`CREATE TABLE IF NOT EXISTS documents (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			filename     TEXT NOT NULL,
			extension    TEXT NOT NULL DEFAULT '',
			size_bytes   INTEGER NOT NULL DEFAULT 0,
			content_hash TEXT UNIQUE NOT NULL,
			status       TEXT NOT NULL DEFAULT 'pending'
			             CHECK(status IN ('pending','processing','complete','failed')),
			metadata     TEXT,
			created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at   DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Classified segments. Immutable once created.
		`CREATE TABLE IF NOT EXISTS segments (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			document_id   INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			segment_type  TEXT NOT NULL CHECK(segment_type IN ('quantitative','qualitative','mixed')),
			payload       TEXT NOT NULL,
			position      TEXT NOT NULL DEFAULT '',
			region        TEXT NOT NULL DEFAULT 'body',
			numeric_ratio REAL NOT NULL DEFAULT 0,
			created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_segments_document ON segments(document_id)`,
		`CREATE INDEX IF NOT EXISTS idx_segments_type ON segments(segment_type)`,

		// Corpus-wide keyword statistics. One row per normalized term,
		// upserted atomically — never read-then-write.
		`CREATE TABLE IF NOT EXISTS keywords (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			term               TEXT UNIQUE NOT NULL,
			is_phrase          INTEGER NOT NULL DEFAULT 0,
			total_frequency    INTEGER NOT NULL DEFAULT 0,
			document_frequency INTEGER NOT NULL DEFAULT 0,
			relevance          REAL NOT NULL DEFAULT 0,
			created_at         DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at         DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Keyword occurrences. Append-only, polymorphic over segment type.
		`CREATE TABLE IF NOT EXISTS keyword_occurrences (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			keyword_id    INTEGER NOT NULL REFERENCES keywords(id) ON DELETE CASCADE,
			segment_id    INTEGER NOT NULL REFERENCES segments(id) ON DELETE CASCADE,
			segment_type  TEXT NOT NULL CHECK(segment_type IN ('quantitative','qualitative','mixed')),
			context       TEXT NOT NULL DEFAULT '',
			numeric_value REAL,
			frequency     INTEGER NOT NULL DEFAULT 1,
			weight        REAL NOT NULL DEFAULT 1.0,
			created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_occurrences_keyword ON keyword_occurrences(keyword_id)`,
		`CREATE INDEX IF NOT EXISTS idx_occurrences_segment ON keyword_occurrences(segment_id)`,

		// Case registry. Updated, never deleted.
		`CREATE TABLE IF NOT EXISTS cases (
			id                   INTEGER PRIMARY KEY AUTOINCREMENT,
			signature            TEXT UNIQUE NOT NULL,
			label                TEXT UNIQUE NOT NULL,
			method               TEXT NOT NULL,
			confidence           REAL NOT NULL CHECK(confidence >= 0 AND confidence <= 1),
			cross_type_validated INTEGER NOT NULL DEFAULT 0,
			keyword_count        INTEGER NOT NULL DEFAULT 0,
			segment_count        INTEGER NOT NULL DEFAULT 0,
			file_count           INTEGER NOT NULL DEFAULT 0,
			created_at           DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at           DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Append-only version history, one entry per contributing document.
		`CREATE TABLE IF NOT EXISTS case_versions (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			case_id       INTEGER NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
			document_id   INTEGER NOT NULL,
			segment_count INTEGER NOT NULL DEFAULT 0,
			created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_case_versions_case ON case_versions(case_id)`,

		// Review queue. Terminal states set only by manual action.
		`CREATE TABLE IF NOT EXISTS pending_assignments (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			segment_id      INTEGER NOT NULL REFERENCES segments(id) ON DELETE CASCADE,
			document_id     INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			suggested_case  INTEGER REFERENCES cases(id),
			suggested_label TEXT NOT NULL DEFAULT '',
			method          TEXT NOT NULL,
			confidence      REAL NOT NULL CHECK(confidence >= 0 AND confidence <= 1),
			signature       TEXT NOT NULL DEFAULT '',
			status          TEXT NOT NULL DEFAULT 'pending'
			                CHECK(status IN ('pending','assigned','rejected','merged')),
			reviewer        TEXT NOT NULL DEFAULT '',
			reviewed_at     DATETIME,
			created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_pending_status ON pending_assignments(status)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_document ON pending_assignments(document_id)`,

		// Metadata table
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT
		)`,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning migration transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("executing migration %q: %w", truncate(stmt, 80), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration: %w", err)
	}

	return nil
}

func (s *SQLiteStore) isMetaFlagEnabled(key string) (bool, error) {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='meta'`).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}

	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return value == "true", nil
}

func (s *SQLiteStore) setMetaFlag(key string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES (?, 'true')", key)
	return err
}

func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}

// migratePendingNoteColumn adds the note column to pending_assignments so
// reviewers can record why an item was rejected or merged.
func (s *SQLiteStore) migratePendingNoteColumn() error {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM pragma_table_info('pending_assignments') WHERE name='note'",
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking for note column: %w", err)
	}
	if count > 0 {
		return nil // Already migrated
	}

	if _, err := s.db.Exec(`ALTER TABLE pending_assignments ADD COLUMN note TEXT NOT NULL DEFAULT ''`); err != nil {
		if isDuplicateColumnError(err) {
			return nil
		}
		return fmt.Errorf("adding note column: %w", err)
	}
	return nil
}

// migrateQueryIndexes adds covering indexes for the recency-ordered listing
// and the required-keyword file lookup.
func (s *SQLiteStore) migrateQueryIndexes() error {
	done, err := s.isMetaFlagEnabled("query_indexes_v1")
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_documents_created ON documents(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_extension ON documents(extension)`,
		`CREATE INDEX IF NOT EXISTS idx_keywords_relevance ON keywords(relevance)`,
		// Term + segment join used by LookupKeyword and FilesByKeywords.
		`CREATE INDEX IF NOT EXISTS idx_occurrences_kw_segment
		 ON keyword_occurrences(keyword_id, segment_id)`,
	}

	for _, ddl := range indexes {
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("creating query index: %w", err)
		}
	}

	if _, err := s.db.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES ('query_indexes_v1', 'true')`); err != nil {
		return fmt.Errorf("setting query_indexes_v1 flag: %w", err)
	}

	return nil
}

// seedMeta initializes the meta table with defaults if not already set.
func (s *SQLiteStore) seedMeta() error {
	defaults := map[string]string{
		"schema_version": "1",
		"created_at":     time.Now().UTC().Format(time.RFC3339),
	}

	for k, v := range defaults {
		_, err := s.db.Exec(
			"INSERT OR IGNORE INTO meta (key, value) VALUES (?, ?)", k, v,
		)
		if err != nil {
			return fmt.Errorf("seeding meta key %q: %w", k, err)
		}
	}
	return nil
}

// truncate shortens a string for error messages.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
