// Package assign commits case resolutions into the registry or routes them
// to the human review queue, and applies manual reviewer decisions.
package assign

import (
	"context"
	"fmt"
	"time"

	"github.com/caseline/caseline/internal/resolve"
	"github.com/caseline/caseline/internal/store"
)

// Apply commits or queues a resolution inside the caller's unit of work.
//
// Auto path: get-or-create the case by signature, merge the document's
// evidence, and stamp the document metadata with the resolved identity.
// Review path (below threshold or no detection): one pending row per segment,
// document metadata left unstamped.
func Apply(ctx context.Context, tx *store.Tx, doc *store.Document, segs []*store.Segment, ev *store.Evidence, res resolve.Resolution) error {
	if res.AutoAssign {
		return applyAuto(ctx, tx, doc, ev, res)
	}
	return queueForReview(ctx, tx, segs, res)
}

func applyAuto(ctx context.Context, tx *store.Tx, doc *store.Document, ev *store.Evidence, res resolve.Resolution) error {
	var segmentCount int64
	var keywordCount int64
	crossType := false
	if ev != nil {
		segmentCount = ev.SegmentCount
		keywordCount = int64(len(ev.KeywordIDs))
		crossType = ev.CrossType()
	}

	existing, err := tx.GetCaseBySignature(ctx, res.Signature)
	if err != nil {
		return err
	}

	var caseID int64
	if existing != nil {
		caseID = existing.ID
		counted, err := tx.HasCaseVersionForDocument(ctx, caseID, doc.ID)
		if err != nil {
			return err
		}
		// Re-resolving a document already folded into this case must not
		// inflate its counters a second time.
		if !counted {
			if err := tx.MergeCase(ctx, caseID, doc.ID, segmentCount); err != nil {
				return err
			}
		}
	} else {
		c := &store.Case{
			Signature:          res.Signature,
			Label:              res.Label,
			Method:             res.Method,
			Confidence:         res.Confidence,
			CrossTypeValidated: crossType,
			KeywordCount:       keywordCount,
			SegmentCount:       segmentCount,
			FileCount:          1,
		}
		caseID, err = tx.CreateCase(ctx, c, doc.ID, segmentCount)
		if err != nil {
			return err
		}
	}

	if err := stampCase(ctx, tx, doc.ID, caseID, res); err != nil {
		return err
	}

	// Queued suggestions from an earlier low-confidence run are moot now that
	// the document resolved automatically.
	return tx.MergePendingForDocument(ctx, doc.ID,
		fmt.Sprintf("superseded by automatic assignment to %s", res.Label))
}

func queueForReview(ctx context.Context, tx *store.Tx, segs []*store.Segment, res resolve.Resolution) error {
	var suggestedCase *int64
	if res.Signature != "" {
		existing, err := tx.GetCaseBySignature(ctx, res.Signature)
		if err != nil {
			return err
		}
		if existing != nil {
			suggestedCase = &existing.ID
		}
	}

	for _, seg := range segs {
		p := &store.PendingAssignment{
			SegmentID:      seg.ID,
			DocumentID:     seg.DocumentID,
			SuggestedCase:  suggestedCase,
			SuggestedLabel: res.Label,
			Method:         res.Method,
			Confidence:     res.Confidence,
			Signature:      res.Signature,
		}
		if _, err := tx.AddPendingAssignment(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// stampCase records the resolved identity on the document metadata.
func stampCase(ctx context.Context, tx *store.Tx, documentID, caseID int64, res resolve.Resolution) error {
	return tx.StampDocumentMetadata(ctx, documentID, map[string]string{
		store.MetaCaseID:         fmt.Sprintf("%d", caseID),
		store.MetaCaseLabel:      res.Label,
		store.MetaCaseConfidence: fmt.Sprintf("%.4f", res.Confidence),
		store.MetaCaseMethod:     res.Method,
		store.MetaCaseAssignedAt: time.Now().UTC().Format(time.RFC3339),
	})
}
