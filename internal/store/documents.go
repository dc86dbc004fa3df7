package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// UpsertDocument inserts a document or, when its content hash is already
// present, updates the existing row in place. A duplicate import is not an
// error — it is what makes ingestion idempotent and safely retryable.
func (s *SQLiteStore) UpsertDocument(ctx context.Context, d *Document) (int64, bool, error) {
	return upsertDocument(ctx, s.db, d)
}

func upsertDocument(ctx context.Context, q dbtx, d *Document) (int64, bool, error) {
	if d.Filename == "" {
		return 0, false, &ValidationError{Field: "filename", Reason: "empty"}
	}
	if d.ContentHash == "" {
		return 0, false, &ValidationError{Field: "content_hash", Reason: "empty"}
	}
	if d.Status == "" {
		d.Status = DocStatusPending
	}

	now := time.Now().UTC()

	existing, err := getDocumentByHash(ctx, q, d.ContentHash)
	if err != nil {
		return 0, false, err
	}
	if existing != nil {
		// Update in place: filename and size may legitimately change when the
		// same bytes arrive under a new name.
		_, err := q.ExecContext(ctx,
			`UPDATE documents SET filename = ?, extension = ?, size_bytes = ?, updated_at = ? WHERE id = ?`,
			d.Filename, d.Extension, d.SizeBytes, now, existing.ID,
		)
		if err != nil {
			return 0, false, fmt.Errorf("updating document %d: %w", existing.ID, err)
		}
		d.ID = existing.ID
		d.Status = existing.Status
		d.Metadata = existing.Metadata
		d.CreatedAt = existing.CreatedAt
		d.UpdatedAt = now
		return existing.ID, false, nil
	}

	metadataArg := marshalMetadata(d.Metadata)
	result, err := q.ExecContext(ctx,
		`INSERT INTO documents (filename, extension, size_bytes, content_hash, status, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Filename, d.Extension, d.SizeBytes, d.ContentHash, d.Status, metadataArg, now, now,
	)
	if err != nil {
		return 0, false, fmt.Errorf("inserting document: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("getting last insert id: %w", err)
	}

	d.ID = id
	d.CreatedAt = now
	d.UpdatedAt = now
	return id, true, nil
}

// GetDocument retrieves a document by ID. Returns nil if not found.
func (s *SQLiteStore) GetDocument(ctx context.Context, id int64) (*Document, error) {
	return getDocument(ctx, s.db, id)
}

func getDocument(ctx context.Context, q dbtx, id int64) (*Document, error) {
	return scanDocument(q.QueryRowContext(ctx,
		`SELECT id, filename, extension, size_bytes, content_hash, status, metadata, created_at, updated_at
		 FROM documents WHERE id = ?`, id))
}

// GetDocumentByHash retrieves a document by content hash. Returns nil if not found.
func (s *SQLiteStore) GetDocumentByHash(ctx context.Context, hash string) (*Document, error) {
	return getDocumentByHash(ctx, s.db, hash)
}

func getDocumentByHash(ctx context.Context, q dbtx, hash string) (*Document, error) {
	return scanDocument(q.QueryRowContext(ctx,
		`SELECT id, filename, extension, size_bytes, content_hash, status, metadata, created_at, updated_at
		 FROM documents WHERE content_hash = ?`, hash))
}

func scanDocument(row *sql.Row) (*Document, error) {
	d := &Document{}
	var metadataStr sql.NullString
	err := row.Scan(&d.ID, &d.Filename, &d.Extension, &d.SizeBytes,
		&d.ContentHash, &d.Status, &metadataStr, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning document: %w", err)
	}
	d.Metadata = unmarshalMetadata(metadataStr)
	return d, nil
}

// SetDocumentStatus updates the processing status of a document.
func (s *SQLiteStore) SetDocumentStatus(ctx context.Context, id int64, status string) error {
	return setDocumentStatus(ctx, s.db, id, status)
}

func setDocumentStatus(ctx context.Context, q dbtx, id int64, status string) error {
	result, err := q.ExecContext(ctx,
		`UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating document %d status: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("document %d: %w", id, ErrNotFound)
	}
	return nil
}

// stampDocumentMetadata merges key/value pairs into the document's metadata
// map. Used by the case resolver and assignment processor.
func stampDocumentMetadata(ctx context.Context, q dbtx, id int64, kv map[string]string) error {
	d, err := getDocument(ctx, q, id)
	if err != nil {
		return err
	}
	if d == nil {
		return fmt.Errorf("document %d: %w", id, ErrNotFound)
	}

	if d.Metadata == nil {
		d.Metadata = make(map[string]string, len(kv))
	}
	for k, v := range kv {
		d.Metadata[k] = v
	}

	_, err = q.ExecContext(ctx,
		`UPDATE documents SET metadata = ?, updated_at = ? WHERE id = ?`,
		marshalMetadata(d.Metadata), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("stamping document %d metadata: %w", id, err)
	}
	return nil
}

// ListDocuments returns documents matching the filter, most recent first.
func (s *SQLiteStore) ListDocuments(ctx context.Context, f DocumentFilter) ([]*Document, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}

	query := `SELECT d.id, d.filename, d.extension, d.size_bytes, d.content_hash, d.status, d.metadata, d.created_at, d.updated_at
	          FROM documents d WHERE 1=1`
	args := []interface{}{}

	if f.Extension != "" {
		query += " AND d.extension = ?"
		args = append(args, f.Extension)
	}
	if f.SegmentType != "" {
		query += ` AND EXISTS (SELECT 1 FROM segments sg WHERE sg.document_id = d.id AND sg.segment_type = ?)`
		args = append(args, string(f.SegmentType))
	}
	if f.MinKeywords > 0 {
		query += ` AND (SELECT COUNT(DISTINCT ko.keyword_id)
		                FROM keyword_occurrences ko
		                JOIN segments sg ON sg.id = ko.segment_id
		                WHERE sg.document_id = d.id) >= ?`
		args = append(args, f.MinKeywords)
	}
	if f.HasCase != nil {
		if *f.HasCase {
			query += ` AND json_extract(d.metadata, '$.case_id') IS NOT NULL`
		} else {
			query += ` AND json_extract(d.metadata, '$.case_id') IS NULL`
		}
	}
	if f.After != "" {
		query += " AND d.created_at >= ?"
		args = append(args, f.After)
	}
	if f.Before != "" {
		query += " AND d.created_at < ?"
		args = append(args, f.Before+" 23:59:59")
	}
	if f.TermSubstr != "" {
		query += ` AND EXISTS (SELECT 1 FROM keywords k
		                       JOIN keyword_occurrences ko ON ko.keyword_id = k.id
		                       JOIN segments sg ON sg.id = ko.segment_id
		                       WHERE sg.document_id = d.id AND k.term LIKE '%' || ? || '%')`
		args = append(args, f.TermSubstr)
	}

	query += " ORDER BY d.created_at DESC, d.id DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		d := &Document{}
		var metadataStr sql.NullString
		if err := rows.Scan(&d.ID, &d.Filename, &d.Extension, &d.SizeBytes,
			&d.ContentHash, &d.Status, &metadataStr, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		d.Metadata = unmarshalMetadata(metadataStr)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// marshalMetadata serializes a metadata map to JSON, or nil for empty maps.
func marshalMetadata(m map[string]string) interface{} {
	if len(m) == 0 {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return string(b)
}

// unmarshalMetadata parses a metadata JSON column. Malformed or NULL values
// yield nil rather than an error.
func unmarshalMetadata(s sql.NullString) map[string]string {
	if !s.Valid || s.String == "" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil
	}
	return m
}
