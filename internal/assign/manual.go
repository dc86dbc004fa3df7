package assign

import (
	"context"
	"fmt"

	"github.com/caseline/caseline/internal/resolve"
	"github.com/caseline/caseline/internal/store"
)

// ManualRequest is a reviewer decision on one pending item.
type ManualRequest struct {
	PendingID int64
	CaseLabel string
	CreateNew bool
	Reviewer  string
	Note      string
}

// Result is the outcome of a reviewer action. Business failures (item not
// found, label conflicts) come back as OK=false with a message; errors are
// reserved for storage faults.
type Result struct {
	OK      bool
	Message string
	CaseID  int64
}

// AssignManually applies a reviewer decision: create a new case for the
// pending item's segment, or append it to an existing case found by label.
// Runs as a single unit of work.
//
// The merge is idempotent with respect to auto-assignment: a document whose
// segments were already counted into the target case contributes no further
// count increments, only the status change.
func AssignManually(ctx context.Context, st store.Store, req ManualRequest) (Result, error) {
	if req.CaseLabel == "" {
		return Result{Message: "case label is required"}, nil
	}

	var res Result
	err := st.InTx(ctx, func(tx *store.Tx) error {
		p, err := tx.GetPending(ctx, req.PendingID)
		if err != nil {
			return err
		}
		if p == nil {
			res = Result{Message: fmt.Sprintf("pending item %d not found", req.PendingID)}
			return nil
		}
		if p.Status != store.ReviewPending {
			res = Result{Message: fmt.Sprintf("pending item %d already resolved (%s)", p.ID, p.Status)}
			return nil
		}

		existing, err := tx.GetCaseByLabel(ctx, req.CaseLabel)
		if err != nil {
			return err
		}

		var caseID int64
		switch {
		case req.CreateNew:
			if existing != nil {
				res = Result{Message: fmt.Sprintf("case %q already exists; retry without create", req.CaseLabel)}
				return nil
			}
			c := &store.Case{
				Signature:    store.SubjectSignature(req.CaseLabel),
				Label:        req.CaseLabel,
				Method:       store.MethodManual,
				Confidence:   1.0,
				SegmentCount: 1,
				FileCount:    1,
			}
			caseID, err = tx.CreateCase(ctx, c, p.DocumentID, 1)
			if err != nil {
				return err
			}
			if err := tx.RederiveCaseEvidence(ctx, caseID); err != nil {
				return err
			}
		case existing == nil:
			res = Result{Message: fmt.Sprintf("case %q not found; retry with create", req.CaseLabel)}
			return nil
		default:
			caseID = existing.ID
			counted, err := tx.HasCaseVersionForDocument(ctx, caseID, p.DocumentID)
			if err != nil {
				return err
			}
			if !counted {
				if err := tx.MergeCase(ctx, caseID, p.DocumentID, 1); err != nil {
					return err
				}
			}
		}

		if err := tx.ResolvePending(ctx, p.ID, store.ReviewAssigned, req.Reviewer, req.Note); err != nil {
			return err
		}

		if err := stampIfUnset(ctx, tx, p.DocumentID, caseID, req.CaseLabel); err != nil {
			return err
		}

		res = Result{OK: true, Message: fmt.Sprintf("assigned to case %q", req.CaseLabel), CaseID: caseID}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// Reject marks a pending item rejected. Rejection is terminal: re-running
// detection for the document creates fresh pending rows rather than
// resurrecting this one.
func Reject(ctx context.Context, st store.Store, pendingID int64, reviewer, note string) (Result, error) {
	return review(ctx, st, pendingID, store.ReviewRejected, reviewer, note)
}

func review(ctx context.Context, st store.Store, pendingID int64, status, reviewer, note string) (Result, error) {
	var res Result
	err := st.InTx(ctx, func(tx *store.Tx) error {
		p, err := tx.GetPending(ctx, pendingID)
		if err != nil {
			return err
		}
		if p == nil {
			res = Result{Message: fmt.Sprintf("pending item %d not found", pendingID)}
			return nil
		}
		if p.Status != store.ReviewPending {
			res = Result{Message: fmt.Sprintf("pending item %d already resolved (%s)", p.ID, p.Status)}
			return nil
		}
		if err := tx.ResolvePending(ctx, p.ID, status, reviewer, note); err != nil {
			return err
		}
		res = Result{OK: true, Message: fmt.Sprintf("pending item %d marked %s", p.ID, status)}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// stampIfUnset writes the case stamp onto the document unless an earlier
// assignment already claimed it.
func stampIfUnset(ctx context.Context, tx *store.Tx, documentID, caseID int64, label string) error {
	doc, err := tx.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("document %d: %w", documentID, store.ErrNotFound)
	}
	if doc.Metadata[store.MetaCaseID] != "" {
		return nil
	}
	return stampCase(ctx, tx, documentID, caseID, resolve.Resolution{
		Label:      label,
		Method:     store.MethodManual,
		Confidence: 1.0,
	})
}
