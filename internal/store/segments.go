package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

func addSegment(ctx context.Context, q dbtx, seg *Segment) (int64, error) {
	if seg.DocumentID <= 0 {
		return 0, &ValidationError{Field: "document_id", Reason: "missing"}
	}
	switch seg.SegmentType {
	case SegmentQuantitative, SegmentQualitative, SegmentMixed:
	default:
		return 0, &ValidationError{Field: "segment_type", Reason: fmt.Sprintf("unknown type %q", seg.SegmentType)}
	}
	if seg.Region == "" {
		seg.Region = "body"
	}

	now := time.Now().UTC()
	result, err := q.ExecContext(ctx,
		`INSERT INTO segments (document_id, segment_type, payload, position, region, numeric_ratio, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		seg.DocumentID, string(seg.SegmentType), seg.Payload, seg.Position, seg.Region, seg.NumericRatio, now,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting segment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting last insert id: %w", err)
	}

	seg.ID = id
	seg.CreatedAt = now
	return id, nil
}

// GetSegment retrieves a segment by ID. Returns nil if not found.
func (s *SQLiteStore) GetSegment(ctx context.Context, id int64) (*Segment, error) {
	return getSegment(ctx, s.db, id)
}

func getSegment(ctx context.Context, q dbtx, id int64) (*Segment, error) {
	seg := &Segment{}
	var segType string
	err := q.QueryRowContext(ctx,
		`SELECT id, document_id, segment_type, payload, position, region, numeric_ratio, created_at
		 FROM segments WHERE id = ?`, id,
	).Scan(&seg.ID, &seg.DocumentID, &segType, &seg.Payload, &seg.Position, &seg.Region, &seg.NumericRatio, &seg.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting segment %d: %w", id, err)
	}
	seg.SegmentType = SegmentType(segType)
	return seg, nil
}

// SegmentsByDocument returns all segments of a document in creation order.
func (s *SQLiteStore) SegmentsByDocument(ctx context.Context, documentID int64) ([]*Segment, error) {
	return segmentsByDocument(ctx, s.db, documentID)
}

func segmentsByDocument(ctx context.Context, q dbtx, documentID int64) ([]*Segment, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, document_id, segment_type, payload, position, region, numeric_ratio, created_at
		 FROM segments WHERE document_id = ? ORDER BY id`, documentID)
	if err != nil {
		return nil, fmt.Errorf("listing segments for document %d: %w", documentID, err)
	}
	defer rows.Close()

	var segments []*Segment
	for rows.Next() {
		seg := &Segment{}
		var segType string
		if err := rows.Scan(&seg.ID, &seg.DocumentID, &segType, &seg.Payload,
			&seg.Position, &seg.Region, &seg.NumericRatio, &seg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning segment row: %w", err)
		}
		seg.SegmentType = SegmentType(segType)
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}
