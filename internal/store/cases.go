package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetCaseBySignature retrieves a case by its deterministic signature.
// Returns nil if not found.
func (s *SQLiteStore) GetCaseBySignature(ctx context.Context, signature string) (*Case, error) {
	return getCaseBySignature(ctx, s.db, signature)
}

func getCaseBySignature(ctx context.Context, q dbtx, signature string) (*Case, error) {
	return scanCase(q.QueryRowContext(ctx, caseSelect+` WHERE signature = ?`, signature))
}

// GetCaseByLabel retrieves a case by its human-readable label.
// Returns nil if not found.
func (s *SQLiteStore) GetCaseByLabel(ctx context.Context, label string) (*Case, error) {
	return getCaseByLabel(ctx, s.db, label)
}

func getCaseByLabel(ctx context.Context, q dbtx, label string) (*Case, error) {
	return scanCase(q.QueryRowContext(ctx, caseSelect+` WHERE label = ?`, label))
}

const caseSelect = `SELECT id, signature, label, method, confidence, cross_type_validated,
       keyword_count, segment_count, file_count, created_at, updated_at
  FROM cases`

func scanCase(row *sql.Row) (*Case, error) {
	c := &Case{}
	var crossType int
	err := row.Scan(&c.ID, &c.Signature, &c.Label, &c.Method, &c.Confidence, &crossType,
		&c.KeywordCount, &c.SegmentCount, &c.FileCount, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning case: %w", err)
	}
	c.CrossTypeValidated = crossType != 0
	return c, nil
}

// createCase inserts a new case and its first version-history entry, seeding
// counts from the contributing document's evidence.
func createCase(ctx context.Context, q dbtx, c *Case, documentID, segmentCount int64) (int64, error) {
	if err := ValidateConfidence(c.Confidence); err != nil {
		return 0, err
	}
	if c.Signature == "" {
		return 0, &ValidationError{Field: "signature", Reason: "empty"}
	}
	if c.Label == "" {
		return 0, &ValidationError{Field: "label", Reason: "empty"}
	}

	now := time.Now().UTC()
	result, err := q.ExecContext(ctx,
		`INSERT INTO cases (signature, label, method, confidence, cross_type_validated,
		                    keyword_count, segment_count, file_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Signature, c.Label, c.Method, c.Confidence, boolToInt(c.CrossTypeValidated),
		c.KeywordCount, c.SegmentCount, c.FileCount, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting case %q: %w", c.Label, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting last insert id: %w", err)
	}
	c.ID = id
	c.CreatedAt = now
	c.UpdatedAt = now

	if err := appendCaseVersion(ctx, q, id, documentID, segmentCount); err != nil {
		return 0, err
	}
	return id, nil
}

// appendCaseVersion adds one append-only history entry. Prior entries are
// never overwritten.
func appendCaseVersion(ctx context.Context, q dbtx, caseID, documentID, segmentCount int64) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO case_versions (case_id, document_id, segment_count, created_at)
		 VALUES (?, ?, ?, ?)`,
		caseID, documentID, segmentCount, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("appending version for case %d: %w", caseID, err)
	}
	return nil
}

// hasCaseVersionForDocument reports whether the document already contributed
// a version entry — the file_count idempotence guard.
func hasCaseVersionForDocument(ctx context.Context, q dbtx, caseID, documentID int64) (bool, error) {
	var exists int
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM case_versions WHERE case_id = ? AND document_id = ?)`,
		caseID, documentID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking case %d versions: %w", caseID, err)
	}
	return exists != 0, nil
}

// mergeCase appends a document's evidence to an existing case: increments
// segment_count, increments file_count unless the document already
// contributed, appends exactly one version entry, and re-derives
// keyword_count and cross_type_validated from the contributing documents.
func mergeCase(ctx context.Context, q dbtx, caseID, documentID, segmentCount int64) error {
	contributed, err := hasCaseVersionForDocument(ctx, q, caseID, documentID)
	if err != nil {
		return err
	}
	fileIncrement := 1
	if contributed {
		fileIncrement = 0
	}

	if _, err := q.ExecContext(ctx,
		`UPDATE cases SET segment_count = segment_count + ?,
		                  file_count = file_count + ?,
		                  updated_at = ?
		 WHERE id = ?`,
		segmentCount, fileIncrement, time.Now().UTC(), caseID,
	); err != nil {
		return fmt.Errorf("merging into case %d: %w", caseID, err)
	}

	if err := appendCaseVersion(ctx, q, caseID, documentID, segmentCount); err != nil {
		return err
	}

	return rederiveCaseEvidence(ctx, q, caseID)
}

// rederiveCaseEvidence recomputes keyword_count and cross_type_validated from
// the occurrences of all contributing documents. Derived columns, safe to
// recompute at any time.
func rederiveCaseEvidence(ctx context.Context, q dbtx, caseID int64) error {
	var keywordCount int64
	if err := q.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT ko.keyword_id)
		 FROM keyword_occurrences ko
		 JOIN segments sg ON sg.id = ko.segment_id
		 WHERE sg.document_id IN (SELECT DISTINCT document_id FROM case_versions WHERE case_id = ?)`,
		caseID,
	).Scan(&keywordCount); err != nil {
		return fmt.Errorf("deriving keyword count for case %d: %w", caseID, err)
	}

	var typeCount int
	if err := q.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT ko.segment_type)
		 FROM keyword_occurrences ko
		 JOIN segments sg ON sg.id = ko.segment_id
		 WHERE sg.document_id IN (SELECT DISTINCT document_id FROM case_versions WHERE case_id = ?)
		   AND ko.segment_type IN ('quantitative','qualitative')`,
		caseID,
	).Scan(&typeCount); err != nil {
		return fmt.Errorf("deriving cross-type flag for case %d: %w", caseID, err)
	}

	if _, err := q.ExecContext(ctx,
		`UPDATE cases SET keyword_count = ?, cross_type_validated = ? WHERE id = ?`,
		keywordCount, boolToInt(typeCount == 2), caseID,
	); err != nil {
		return fmt.Errorf("updating derived evidence for case %d: %w", caseID, err)
	}
	return nil
}

// caseVersions returns the append-only history, oldest first.
func caseVersions(ctx context.Context, q dbtx, caseID int64) ([]CaseVersion, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, case_id, document_id, segment_count, created_at
		 FROM case_versions WHERE case_id = ? ORDER BY id`, caseID)
	if err != nil {
		return nil, fmt.Errorf("listing versions for case %d: %w", caseID, err)
	}
	defer rows.Close()

	var versions []CaseVersion
	for rows.Next() {
		var v CaseVersion
		if err := rows.Scan(&v.ID, &v.CaseID, &v.DocumentID, &v.SegmentCount, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning version row: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// CaseDetailByLabel returns the aggregated view of a case: counters, top
// keywords across contributing documents, source files, and version history.
func (s *SQLiteStore) CaseDetailByLabel(ctx context.Context, label string) (*CaseDetail, error) {
	c, err := getCaseByLabel(ctx, s.db, label)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("case %q: %w", label, ErrNotFound)
	}

	detail := &CaseDetail{Case: *c}

	kwRows, err := s.db.QueryContext(ctx,
		`SELECT k.id, k.term, k.is_phrase, k.total_frequency, k.document_frequency, k.relevance, k.created_at, k.updated_at
		 FROM keywords k
		 WHERE k.id IN (SELECT DISTINCT ko.keyword_id
		                FROM keyword_occurrences ko
		                JOIN segments sg ON sg.id = ko.segment_id
		                WHERE sg.document_id IN (SELECT DISTINCT document_id FROM case_versions WHERE case_id = ?))
		 ORDER BY k.relevance DESC, k.total_frequency DESC, k.term ASC
		 LIMIT 20`, c.ID)
	if err != nil {
		return nil, fmt.Errorf("listing case keywords: %w", err)
	}
	defer kwRows.Close()
	detail.TopKeywords, err = scanKeywords(kwRows)
	if err != nil {
		return nil, err
	}

	fileRows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT d.filename
		 FROM documents d
		 JOIN case_versions cv ON cv.document_id = d.id
		 WHERE cv.case_id = ?
		 ORDER BY d.filename`, c.ID)
	if err != nil {
		return nil, fmt.Errorf("listing case files: %w", err)
	}
	defer fileRows.Close()
	for fileRows.Next() {
		var name string
		if err := fileRows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning file row: %w", err)
		}
		detail.Files = append(detail.Files, name)
	}
	if err := fileRows.Err(); err != nil {
		return nil, err
	}

	detail.Versions, err = caseVersions(ctx, s.db, c.ID)
	if err != nil {
		return nil, err
	}
	return detail, nil
}
