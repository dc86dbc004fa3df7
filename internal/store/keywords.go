package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"
)

// OccurrenceInput is one extracted term being recorded against a segment.
type OccurrenceInput struct {
	Term         string
	IsPhrase     bool
	Frequency    int64
	Context      string
	NumericValue *float64
	Weight       float64
}

// addOccurrence upserts the keyword row for the term and appends one
// occurrence record. The counter updates are single UPDATE statements, never
// a read-then-write pair, and the surrounding transaction serializes
// concurrent writers on the same normalized term.
//
// document_frequency increments only on the first occurrence contributed by
// a given document; total_frequency accumulates on every occurrence. The
// relevance score is recomputed with the updated counters in the same
// transaction.
func addOccurrence(ctx context.Context, q dbtx, seg *Segment, in OccurrenceInput) (int64, error) {
	if in.Term == "" {
		return 0, &ValidationError{Field: "term", Reason: "empty"}
	}
	if in.Frequency <= 0 {
		in.Frequency = 1
	}
	if in.Weight == 0 {
		in.Weight = 1.0
	}

	now := time.Now().UTC()

	if _, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO keywords (term, is_phrase, total_frequency, document_frequency, relevance, created_at, updated_at)
		 VALUES (?, ?, 0, 0, 0, ?, ?)`,
		in.Term, boolToInt(in.IsPhrase), now, now,
	); err != nil {
		return 0, fmt.Errorf("inserting keyword %q: %w", in.Term, err)
	}

	var keywordID int64
	if err := q.QueryRowContext(ctx,
		`SELECT id FROM keywords WHERE term = ?`, in.Term,
	).Scan(&keywordID); err != nil {
		return 0, fmt.Errorf("resolving keyword %q: %w", in.Term, err)
	}

	var seenFromDoc int
	if err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM keyword_occurrences ko
		                JOIN segments sg ON sg.id = ko.segment_id
		                WHERE ko.keyword_id = ? AND sg.document_id = ?)`,
		keywordID, seg.DocumentID,
	).Scan(&seenFromDoc); err != nil {
		return 0, fmt.Errorf("checking document contribution for %q: %w", in.Term, err)
	}

	docIncrement := 0
	if seenFromDoc == 0 {
		docIncrement = 1
	}

	if _, err := q.ExecContext(ctx,
		`UPDATE keywords SET total_frequency = total_frequency + ?,
		                     document_frequency = document_frequency + ?,
		                     updated_at = ?
		 WHERE id = ?`,
		in.Frequency, docIncrement, now, keywordID,
	); err != nil {
		return 0, fmt.Errorf("incrementing keyword %q counters: %w", in.Term, err)
	}

	if _, err := q.ExecContext(ctx,
		`INSERT INTO keyword_occurrences (keyword_id, segment_id, segment_type, context, numeric_value, frequency, weight, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		keywordID, seg.ID, string(seg.SegmentType), in.Context, in.NumericValue, in.Frequency, in.Weight, now,
	); err != nil {
		return 0, fmt.Errorf("inserting occurrence of %q: %w", in.Term, err)
	}

	if err := recomputeRelevance(ctx, q, keywordID, in.Frequency, in.Weight); err != nil {
		return 0, err
	}

	return keywordID, nil
}

// recomputeRelevance recalculates tf-idf with position weight using the
// keyword's freshly updated document_frequency.
//
//	relevance = tf × ln(totalDocs / df) × weight
//
// Both totalDocs and df are floored at 1 to avoid division by zero.
func recomputeRelevance(ctx context.Context, q dbtx, keywordID, tf int64, weight float64) error {
	var totalDocs, df int64
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&totalDocs); err != nil {
		return fmt.Errorf("counting documents: %w", err)
	}
	if err := q.QueryRowContext(ctx,
		`SELECT document_frequency FROM keywords WHERE id = ?`, keywordID,
	).Scan(&df); err != nil {
		return fmt.Errorf("reading document frequency: %w", err)
	}

	relevance := RelevanceScore(tf, df, totalDocs, weight)

	if _, err := q.ExecContext(ctx,
		`UPDATE keywords SET relevance = ? WHERE id = ?`, relevance, keywordID,
	); err != nil {
		return fmt.Errorf("updating relevance: %w", err)
	}
	return nil
}

// RelevanceScore is the corpus relevance formula:
//
//	tf × ln(totalDocs / df) × positionWeight
//
// totalDocs and df are floored at 1 to avoid division by zero, so a term
// present in every document scores ln(1) = 0 regardless of frequency.
func RelevanceScore(tf, df, totalDocs int64, weight float64) float64 {
	if totalDocs < 1 {
		totalDocs = 1
	}
	if df < 1 {
		df = 1
	}
	return float64(tf) * math.Log(float64(totalDocs)/float64(df)) * weight
}

// GetKeywordByTerm retrieves a keyword by its normalized term.
// Returns nil if not found.
func (s *SQLiteStore) GetKeywordByTerm(ctx context.Context, term string) (*Keyword, error) {
	return getKeywordByTerm(ctx, s.db, term)
}

func getKeywordByTerm(ctx context.Context, q dbtx, term string) (*Keyword, error) {
	k := &Keyword{}
	var isPhrase int
	err := q.QueryRowContext(ctx,
		`SELECT id, term, is_phrase, total_frequency, document_frequency, relevance, created_at, updated_at
		 FROM keywords WHERE term = ?`, term,
	).Scan(&k.ID, &k.Term, &isPhrase, &k.TotalFreq, &k.DocumentFreq, &k.Relevance, &k.CreatedAt, &k.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting keyword %q: %w", term, err)
	}
	k.IsPhrase = isPhrase != 0
	return k, nil
}

// Evidence is the aggregated keyword evidence for one document, consumed by
// the case resolver.
type Evidence struct {
	DocumentID    int64
	SegmentCount  int64
	KeywordIDs    []int64
	HighRelevance int // keywords with relevance > 0.5
	Types         map[SegmentType]bool
}

// CrossType reports whether the evidence spans both quantitative and
// qualitative occurrences.
func (e *Evidence) CrossType() bool {
	return e.Types[SegmentQuantitative] && e.Types[SegmentQualitative]
}

// DocumentEvidence gathers the distinct keyword ids referenced by all of a
// document's segments, together with segment-type coverage.
func (s *SQLiteStore) DocumentEvidence(ctx context.Context, documentID int64) (*Evidence, error) {
	return documentEvidence(ctx, s.db, documentID)
}

func documentEvidence(ctx context.Context, q dbtx, documentID int64) (*Evidence, error) {
	ev := &Evidence{DocumentID: documentID, Types: make(map[SegmentType]bool)}

	if err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM segments WHERE document_id = ?`, documentID,
	).Scan(&ev.SegmentCount); err != nil {
		return nil, fmt.Errorf("counting segments: %w", err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT DISTINCT ko.keyword_id, k.relevance
		 FROM keyword_occurrences ko
		 JOIN keywords k ON k.id = ko.keyword_id
		 JOIN segments sg ON sg.id = ko.segment_id
		 WHERE sg.document_id = ?
		 ORDER BY ko.keyword_id`, documentID)
	if err != nil {
		return nil, fmt.Errorf("gathering keyword evidence: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var relevance float64
		if err := rows.Scan(&id, &relevance); err != nil {
			return nil, fmt.Errorf("scanning evidence row: %w", err)
		}
		ev.KeywordIDs = append(ev.KeywordIDs, id)
		if relevance > 0.5 {
			ev.HighRelevance++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	typeRows, err := q.QueryContext(ctx,
		`SELECT DISTINCT ko.segment_type
		 FROM keyword_occurrences ko
		 JOIN segments sg ON sg.id = ko.segment_id
		 WHERE sg.document_id = ?`, documentID)
	if err != nil {
		return nil, fmt.Errorf("gathering segment-type coverage: %w", err)
	}
	defer typeRows.Close()

	for typeRows.Next() {
		var t string
		if err := typeRows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scanning type row: %w", err)
		}
		ev.Types[SegmentType(t)] = true
	}
	return ev, typeRows.Err()
}

func topKeywords(ctx context.Context, q dbtx, limit int) ([]Keyword, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := q.QueryContext(ctx,
		`SELECT id, term, is_phrase, total_frequency, document_frequency, relevance, created_at, updated_at
		 FROM keywords ORDER BY relevance DESC, total_frequency DESC, term ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing top keywords: %w", err)
	}
	defer rows.Close()
	return scanKeywords(rows)
}

func scanKeywords(rows *sql.Rows) ([]Keyword, error) {
	var keywords []Keyword
	for rows.Next() {
		var k Keyword
		var isPhrase int
		if err := rows.Scan(&k.ID, &k.Term, &isPhrase, &k.TotalFreq, &k.DocumentFreq,
			&k.Relevance, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning keyword row: %w", err)
		}
		k.IsPhrase = isPhrase != 0
		keywords = append(keywords, k)
	}
	return keywords, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
