package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// LookupKeyword returns every occurrence of any of the given terms with its
// context, source file, and numeric association, across all segment types.
func (s *SQLiteStore) LookupKeyword(ctx context.Context, terms []string) ([]KeywordHit, error) {
	if len(terms) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(
		`SELECT k.term, ko.segment_id, ko.segment_type, sg.document_id, d.filename,
		        ko.context, ko.numeric_value, ko.frequency, ko.weight, k.relevance
		 FROM keyword_occurrences ko
		 JOIN keywords k ON k.id = ko.keyword_id
		 JOIN segments sg ON sg.id = ko.segment_id
		 JOIN documents d ON d.id = sg.document_id
		 WHERE k.term IN (%s)
		 ORDER BY k.relevance DESC, ko.id`, placeholders(len(terms)))

	args := make([]interface{}, len(terms))
	for i, t := range terms {
		args[i] = t
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("looking up keywords: %w", err)
	}
	defer rows.Close()

	var hits []KeywordHit
	for rows.Next() {
		var h KeywordHit
		var segType string
		var numeric sql.NullFloat64
		if err := rows.Scan(&h.Term, &h.SegmentID, &segType, &h.DocumentID, &h.Filename,
			&h.Context, &numeric, &h.Frequency, &h.Weight, &h.Relevance); err != nil {
			return nil, fmt.Errorf("scanning hit row: %w", err)
		}
		h.SegmentType = SegmentType(segType)
		if numeric.Valid {
			v := numeric.Float64
			h.NumericValue = &v
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// FilesByKeywords returns documents containing ALL of the required terms,
// ranked by how many of the terms each document matches across its segments.
func (s *SQLiteStore) FilesByKeywords(ctx context.Context, terms []string) ([]FileMatch, error) {
	if len(terms) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(
		`SELECT d.id, d.filename, COUNT(DISTINCT k.term) AS matched
		 FROM documents d
		 JOIN segments sg ON sg.document_id = d.id
		 JOIN keyword_occurrences ko ON ko.segment_id = sg.id
		 JOIN keywords k ON k.id = ko.keyword_id
		 WHERE k.term IN (%s)
		 GROUP BY d.id, d.filename
		 HAVING matched = ?
		 ORDER BY matched DESC, d.created_at DESC`, placeholders(len(terms)))

	args := make([]interface{}, 0, len(terms)+1)
	for _, t := range terms {
		args = append(args, t)
	}
	args = append(args, len(terms))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("matching files by keywords: %w", err)
	}
	defer rows.Close()

	var matches []FileMatch
	for rows.Next() {
		var m FileMatch
		if err := rows.Scan(&m.DocumentID, &m.Filename, &m.MatchCount); err != nil {
			return nil, fmt.Errorf("scanning match row: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// ComputeStats recomputes the corpus statistics snapshot from durable state.
// Nothing here is incrementally maintained.
func (s *SQLiteStore) ComputeStats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		SegmentsByType: make(map[SegmentType]int64),
		ComputedAt:     time.Now().UTC(),
	}

	counts := []struct {
		query string
		dest  *int64
	}{
		{`SELECT COUNT(*) FROM documents`, &st.Documents},
		{`SELECT COUNT(*) FROM segments`, &st.Segments},
		{`SELECT COUNT(*) FROM keywords`, &st.Keywords},
		{`SELECT COUNT(*) FROM keyword_occurrences`, &st.Occurrences},
		{`SELECT COUNT(*) FROM cases`, &st.Cases},
		{`SELECT COUNT(*) FROM pending_assignments WHERE status = 'pending'`, &st.PendingReview},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("computing stats: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT segment_type, COUNT(*) FROM segments GROUP BY segment_type`)
	if err != nil {
		return nil, fmt.Errorf("counting segments by type: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t string
		var n int64
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("scanning type count: %w", err)
		}
		st.SegmentsByType[SegmentType(t)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	st.TopKeywords, err = topKeywords(ctx, s.db, 10)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
