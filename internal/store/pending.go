package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

func addPendingAssignment(ctx context.Context, q dbtx, p *PendingAssignment) (int64, error) {
	if err := ValidateConfidence(p.Confidence); err != nil {
		return 0, err
	}
	if p.Status == "" {
		p.Status = ReviewPending
	}

	now := time.Now().UTC()
	result, err := q.ExecContext(ctx,
		`INSERT INTO pending_assignments (segment_id, document_id, suggested_case, suggested_label,
		                                  method, confidence, signature, status, reviewer, note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.SegmentID, p.DocumentID, p.SuggestedCase, p.SuggestedLabel,
		p.Method, p.Confidence, p.Signature, p.Status, p.Reviewer, p.Note, now,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting pending assignment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting last insert id: %w", err)
	}
	p.ID = id
	p.CreatedAt = now
	return id, nil
}

// GetPending retrieves a pending assignment by ID. Returns nil if not found.
func (s *SQLiteStore) GetPending(ctx context.Context, id int64) (*PendingAssignment, error) {
	return getPending(ctx, s.db, id)
}

func getPending(ctx context.Context, q dbtx, id int64) (*PendingAssignment, error) {
	rows, err := q.QueryContext(ctx, pendingSelect+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("getting pending %d: %w", id, err)
	}
	defer rows.Close()

	items, err := scanPending(rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

const pendingSelect = `SELECT id, segment_id, document_id, suggested_case, suggested_label,
       method, confidence, signature, status, reviewer, note, reviewed_at, created_at
  FROM pending_assignments`

// ListPending returns review-queue entries matching the filter, oldest first
// so reviewers work in arrival order.
func (s *SQLiteStore) ListPending(ctx context.Context, f PendingFilter) ([]*PendingAssignment, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}

	query := pendingSelect + ` WHERE 1=1`
	args := []interface{}{}

	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	if f.DocumentID > 0 {
		query += " AND document_id = ?"
		args = append(args, f.DocumentID)
	}

	query += " ORDER BY id LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing pending assignments: %w", err)
	}
	defer rows.Close()
	return scanPending(rows)
}

func scanPending(rows *sql.Rows) ([]*PendingAssignment, error) {
	var items []*PendingAssignment
	for rows.Next() {
		p := &PendingAssignment{}
		var suggested sql.NullInt64
		var reviewedAt sql.NullTime
		if err := rows.Scan(&p.ID, &p.SegmentID, &p.DocumentID, &suggested, &p.SuggestedLabel,
			&p.Method, &p.Confidence, &p.Signature, &p.Status, &p.Reviewer, &p.Note,
			&reviewedAt, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning pending row: %w", err)
		}
		if suggested.Valid {
			p.SuggestedCase = &suggested.Int64
		}
		if reviewedAt.Valid {
			p.ReviewedAt = &reviewedAt.Time
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// mergePendingForDocument closes every open pending item of a document as
// merged. Used when a later resolution of the same document clears the
// auto-assign threshold, making its queued suggestions moot. Zero rows is
// fine: most documents never sat in the queue.
func mergePendingForDocument(ctx context.Context, q dbtx, documentID int64, note string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE pending_assignments SET status = ?, reviewer = 'auto', note = ?, reviewed_at = ?
		 WHERE document_id = ? AND status = 'pending'`,
		ReviewMerged, note, time.Now().UTC(), documentID,
	)
	if err != nil {
		return fmt.Errorf("merging pending items for document %d: %w", documentID, err)
	}
	return nil
}

// resolvePending transitions a single pending item out of the pending state on
// a reviewer decision, recording who decided and when.
func resolvePending(ctx context.Context, q dbtx, id int64, status, reviewer, note string) error {
	switch status {
	case ReviewAssigned, ReviewRejected, ReviewMerged:
	default:
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("%q is not a terminal review state", status)}
	}

	result, err := q.ExecContext(ctx,
		`UPDATE pending_assignments SET status = ?, reviewer = ?, note = ?, reviewed_at = ?
		 WHERE id = ? AND status = 'pending'`,
		status, reviewer, note, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("resolving pending %d: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("pending item %d (not pending or missing): %w", id, ErrNotFound)
	}
	return nil
}
