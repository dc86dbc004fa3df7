package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Tx is a unit of work. All mutations inside one Tx commit or roll back
// together, so a failed document never leaves orphaned segments or
// occurrences, and SQLite's single-writer transaction serializes concurrent
// upserts on the same keyword term or case row.
type Tx struct {
	tx dbtx
}

// txBusyRetries bounds how often a unit of work is replayed when the
// database stays locked past the busy timeout.
const txBusyRetries = 3

// InTx runs fn inside a single transaction. Any error rolls the whole unit
// back and is returned unchanged, except that a unit failing on a held write
// lock is retried a few times. fn must therefore not carry side effects
// outside the transaction.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !isBusy(err) || attempt >= txBusyRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		}
	}
}

func (s *SQLiteStore) runTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// isBusy reports whether err is SQLITE_BUSY or one of its extended codes.
func isBusy(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_BUSY
}

// Documents

func (t *Tx) UpsertDocument(ctx context.Context, d *Document) (int64, bool, error) {
	return upsertDocument(ctx, t.tx, d)
}

func (t *Tx) GetDocument(ctx context.Context, id int64) (*Document, error) {
	return getDocument(ctx, t.tx, id)
}

func (t *Tx) SetDocumentStatus(ctx context.Context, id int64, status string) error {
	return setDocumentStatus(ctx, t.tx, id, status)
}

// StampDocumentMetadata merges key/value pairs into the document metadata map.
func (t *Tx) StampDocumentMetadata(ctx context.Context, id int64, kv map[string]string) error {
	return stampDocumentMetadata(ctx, t.tx, id, kv)
}

// Segments

func (t *Tx) AddSegment(ctx context.Context, seg *Segment) (int64, error) {
	return addSegment(ctx, t.tx, seg)
}

func (t *Tx) GetSegment(ctx context.Context, id int64) (*Segment, error) {
	return getSegment(ctx, t.tx, id)
}

func (t *Tx) SegmentsByDocument(ctx context.Context, documentID int64) ([]*Segment, error) {
	return segmentsByDocument(ctx, t.tx, documentID)
}

// Keywords

func (t *Tx) AddOccurrence(ctx context.Context, seg *Segment, in OccurrenceInput) (int64, error) {
	return addOccurrence(ctx, t.tx, seg, in)
}

func (t *Tx) DocumentEvidence(ctx context.Context, documentID int64) (*Evidence, error) {
	return documentEvidence(ctx, t.tx, documentID)
}

// Cases

func (t *Tx) GetCaseBySignature(ctx context.Context, signature string) (*Case, error) {
	return getCaseBySignature(ctx, t.tx, signature)
}

func (t *Tx) GetCaseByLabel(ctx context.Context, label string) (*Case, error) {
	return getCaseByLabel(ctx, t.tx, label)
}

func (t *Tx) CreateCase(ctx context.Context, c *Case, documentID, segmentCount int64) (int64, error) {
	return createCase(ctx, t.tx, c, documentID, segmentCount)
}

func (t *Tx) MergeCase(ctx context.Context, caseID, documentID, segmentCount int64) error {
	return mergeCase(ctx, t.tx, caseID, documentID, segmentCount)
}

func (t *Tx) HasCaseVersionForDocument(ctx context.Context, caseID, documentID int64) (bool, error) {
	return hasCaseVersionForDocument(ctx, t.tx, caseID, documentID)
}

// RederiveCaseEvidence recomputes the derived keyword_count and
// cross_type_validated columns from the case's contributing documents.
func (t *Tx) RederiveCaseEvidence(ctx context.Context, caseID int64) error {
	return rederiveCaseEvidence(ctx, t.tx, caseID)
}

// Review queue

func (t *Tx) AddPendingAssignment(ctx context.Context, p *PendingAssignment) (int64, error) {
	return addPendingAssignment(ctx, t.tx, p)
}

func (t *Tx) GetPending(ctx context.Context, id int64) (*PendingAssignment, error) {
	return getPending(ctx, t.tx, id)
}

func (t *Tx) ResolvePending(ctx context.Context, id int64, status, reviewer, note string) error {
	return resolvePending(ctx, t.tx, id, status, reviewer, note)
}

func (t *Tx) MergePendingForDocument(ctx context.Context, documentID int64, note string) error {
	return mergePendingForDocument(ctx, t.tx, documentID, note)
}
