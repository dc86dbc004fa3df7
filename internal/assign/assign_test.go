package assign

import (
	"context"
	"testing"

	"github.com/caseline/caseline/internal/resolve"
	"github.com/caseline/caseline/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewStore(store.StoreConfig{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedDocument creates a document with one qualitative segment per term,
// each carrying a keyword occurrence.
func seedDocument(t *testing.T, s store.Store, filename, hash string, terms ...string) (*store.Document, []*store.Segment) {
	t.Helper()
	ctx := context.Background()

	doc := &store.Document{Filename: filename, Extension: "txt", ContentHash: hash}
	var segs []*store.Segment
	err := s.InTx(ctx, func(tx *store.Tx) error {
		if _, _, err := tx.UpsertDocument(ctx, doc); err != nil {
			return err
		}
		for _, term := range terms {
			seg := &store.Segment{
				DocumentID:   doc.ID,
				SegmentType:  store.SegmentQualitative,
				Payload:      term,
				NumericRatio: 0.1,
			}
			if _, err := tx.AddSegment(ctx, seg); err != nil {
				return err
			}
			if _, err := tx.AddOccurrence(ctx, seg, store.OccurrenceInput{Term: term, Frequency: 1}); err != nil {
				return err
			}
			segs = append(segs, seg)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seeding %s: %v", filename, err)
	}
	return doc, segs
}

func applyResolution(t *testing.T, s store.Store, doc *store.Document, segs []*store.Segment, res resolve.Resolution) {
	t.Helper()
	ctx := context.Background()
	err := s.InTx(ctx, func(tx *store.Tx) error {
		ev, err := tx.DocumentEvidence(ctx, doc.ID)
		if err != nil {
			return err
		}
		return Apply(ctx, tx, doc, segs, ev, res)
	})
	if err != nil {
		t.Fatalf("applying resolution: %v", err)
	}
}

func TestApplyAutoCreatesCase(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc, segs := seedDocument(t, s, "LIDC-IDRI-0001.xml", "h1", "nodule")
	res := resolve.Resolution{
		Label:      "LIDC-IDRI-0001",
		Signature:  store.SubjectSignature("LIDC-IDRI-0001"),
		Method:     store.MethodFilenameRegex,
		Confidence: 1.0,
		AutoAssign: true,
	}
	applyResolution(t, s, doc, segs, res)

	c, err := s.GetCaseByLabel(ctx, "LIDC-IDRI-0001")
	if err != nil {
		t.Fatalf("GetCaseByLabel: %v", err)
	}
	if c == nil {
		t.Fatal("auto path must create the case")
	}
	if c.FileCount != 1 || c.SegmentCount != 1 {
		t.Errorf("case counts = files %d segments %d, want 1/1", c.FileCount, c.SegmentCount)
	}

	// Document metadata carries the stamp.
	got, _ := s.GetDocument(ctx, doc.ID)
	if got.Metadata[store.MetaCaseLabel] != "LIDC-IDRI-0001" {
		t.Errorf("metadata stamp = %v, want case label", got.Metadata)
	}
	if got.Metadata[store.MetaCaseMethod] != store.MethodFilenameRegex {
		t.Errorf("metadata method = %q", got.Metadata[store.MetaCaseMethod])
	}
}

func TestApplyAutoMergesExistingCase(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res := resolve.Resolution{
		Label:      "LIDC-IDRI-0002",
		Signature:  store.SubjectSignature("LIDC-IDRI-0002"),
		Method:     store.MethodFilenameRegex,
		Confidence: 1.0,
		AutoAssign: true,
	}

	doc1, segs1 := seedDocument(t, s, "LIDC-IDRI-0002-a.xml", "h1", "nodule")
	applyResolution(t, s, doc1, segs1, res)

	doc2, segs2 := seedDocument(t, s, "LIDC-IDRI-0002-b.xml", "h2", "opacity")
	applyResolution(t, s, doc2, segs2, res)

	detail, err := s.CaseDetailByLabel(ctx, "LIDC-IDRI-0002")
	if err != nil {
		t.Fatalf("CaseDetailByLabel: %v", err)
	}
	if detail.Case.FileCount != 2 || detail.Case.SegmentCount != 2 {
		t.Errorf("counts = files %d segments %d, want 2/2", detail.Case.FileCount, detail.Case.SegmentCount)
	}
	if len(detail.Versions) != 2 {
		t.Errorf("version entries = %d, want exactly one per contribution", len(detail.Versions))
	}

	// Re-applying the same document must not inflate counters.
	applyResolution(t, s, doc2, segs2, res)
	detail, _ = s.CaseDetailByLabel(ctx, "LIDC-IDRI-0002")
	if detail.Case.SegmentCount != 2 || detail.Case.FileCount != 2 {
		t.Errorf("re-apply changed counts to files %d segments %d", detail.Case.FileCount, detail.Case.SegmentCount)
	}
}

func TestApplyBelowThresholdQueues(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc, segs := seedDocument(t, s, "notes.txt", "h1", "nodule")
	res := resolve.Resolution{
		Label:      "CLUSTER-ABC",
		Signature:  "sig-abc",
		Method:     store.MethodKeywordSignature,
		Confidence: 0.55,
		AutoAssign: false,
	}
	applyResolution(t, s, doc, segs, res)

	items, err := s.ListPending(ctx, store.PendingFilter{DocumentID: doc.ID})
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("pending rows = %d, want one per segment", len(items))
	}
	p := items[0]
	if p.SuggestedLabel != "CLUSTER-ABC" || p.Confidence != 0.55 || p.Method != store.MethodKeywordSignature {
		t.Errorf("pending row = %+v", p)
	}

	// The document metadata stays unstamped on the review path.
	got, _ := s.GetDocument(ctx, doc.ID)
	if got.Metadata[store.MetaCaseID] != "" {
		t.Error("review path must leave document metadata unstamped")
	}

	// No case appears until a reviewer decides.
	if c, _ := s.GetCaseBySignature(ctx, "sig-abc"); c != nil {
		t.Error("review path must not create a case")
	}
}

func TestAssignManuallyCreate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc, segs := seedDocument(t, s, "notes.txt", "h1", "nodule")
	applyResolution(t, s, doc, segs, resolve.Resolution{Method: store.MethodNoDetection})

	items, _ := s.ListPending(ctx, store.PendingFilter{})
	if len(items) != 1 {
		t.Fatalf("expected one pending row, got %d", len(items))
	}

	res, err := AssignManually(ctx, s, ManualRequest{
		PendingID: items[0].ID,
		CaseLabel: "STUDY-7",
		CreateNew: true,
		Reviewer:  "alice",
	})
	if err != nil {
		t.Fatalf("AssignManually: %v", err)
	}
	if !res.OK {
		t.Fatalf("result = %+v, want OK", res)
	}

	c, _ := s.GetCaseByLabel(ctx, "STUDY-7")
	if c == nil {
		t.Fatal("manual creation must produce the case")
	}
	if c.Method != store.MethodManual || c.Confidence != 1.0 {
		t.Errorf("case = %+v, want manual method at confidence 1.0", c)
	}

	p, _ := s.GetPending(ctx, items[0].ID)
	if p.Status != store.ReviewAssigned || p.Reviewer != "alice" {
		t.Errorf("pending after decision = %+v", p)
	}
}

func TestAssignManuallyExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Case exists from an auto-assignment of another document.
	doc1, segs1 := seedDocument(t, s, "LIDC-IDRI-0003.xml", "h1", "nodule")
	applyResolution(t, s, doc1, segs1, resolve.Resolution{
		Label: "LIDC-IDRI-0003", Signature: store.SubjectSignature("LIDC-IDRI-0003"),
		Method: store.MethodFilenameRegex, Confidence: 1.0, AutoAssign: true,
	})

	doc2, segs2 := seedDocument(t, s, "followup.txt", "h2", "opacity")
	applyResolution(t, s, doc2, segs2, resolve.Resolution{Method: store.MethodNoDetection})

	items, _ := s.ListPending(ctx, store.PendingFilter{DocumentID: doc2.ID})
	res, err := AssignManually(ctx, s, ManualRequest{
		PendingID: items[0].ID,
		CaseLabel: "LIDC-IDRI-0003",
		Reviewer:  "bob",
	})
	if err != nil {
		t.Fatalf("AssignManually: %v", err)
	}
	if !res.OK {
		t.Fatalf("result = %+v", res)
	}

	c, _ := s.GetCaseByLabel(ctx, "LIDC-IDRI-0003")
	if c.FileCount != 2 {
		t.Errorf("file_count = %d, want 2 after manual append", c.FileCount)
	}
}

func TestApplyAutoSupersedesQueuedRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Queued first, then a later run clears the threshold.
	doc, segs := seedDocument(t, s, "LIDC-IDRI-0004.xml", "h1", "nodule")
	applyResolution(t, s, doc, segs, resolve.Resolution{Method: store.MethodNoDetection})
	applyResolution(t, s, doc, segs, resolve.Resolution{
		Label: "LIDC-IDRI-0004", Signature: store.SubjectSignature("LIDC-IDRI-0004"),
		Method: store.MethodFilenameRegex, Confidence: 1.0, AutoAssign: true,
	})

	open, _ := s.ListPending(ctx, store.PendingFilter{Status: store.ReviewPending, DocumentID: doc.ID})
	if len(open) != 0 {
		t.Errorf("open pending rows = %d, want 0 after auto-assignment", len(open))
	}
	merged, _ := s.ListPending(ctx, store.PendingFilter{Status: store.ReviewMerged, DocumentID: doc.ID})
	if len(merged) != 1 {
		t.Fatalf("merged pending rows = %d, want 1", len(merged))
	}
	if merged[0].Reviewer != "auto" {
		t.Errorf("reviewer = %q, want auto", merged[0].Reviewer)
	}
}

func TestAssignManuallyIdempotentAcrossSegments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Two segments of the same document queued separately.
	doc, segs := seedDocument(t, s, "notes.txt", "h1", "nodule", "opacity")
	applyResolution(t, s, doc, segs, resolve.Resolution{Method: store.MethodNoDetection})

	items, _ := s.ListPending(ctx, store.PendingFilter{DocumentID: doc.ID})
	if len(items) != 2 {
		t.Fatalf("pending rows = %d, want one per segment", len(items))
	}

	res, err := AssignManually(ctx, s, ManualRequest{
		PendingID: items[0].ID, CaseLabel: "STUDY-9", CreateNew: true, Reviewer: "carol",
	})
	if err != nil || !res.OK {
		t.Fatalf("first assignment: res=%+v err=%v", res, err)
	}
	before, _ := s.GetCaseByLabel(ctx, "STUDY-9")

	// The document is already counted into the case: the second segment's
	// decision changes status only, never the counters.
	res, err = AssignManually(ctx, s, ManualRequest{
		PendingID: items[1].ID, CaseLabel: "STUDY-9", Reviewer: "carol",
	})
	if err != nil || !res.OK {
		t.Fatalf("second assignment: res=%+v err=%v", res, err)
	}

	after, _ := s.GetCaseByLabel(ctx, "STUDY-9")
	if after.SegmentCount != before.SegmentCount || after.FileCount != before.FileCount {
		t.Errorf("counts changed from %d/%d to %d/%d",
			before.SegmentCount, before.FileCount, after.SegmentCount, after.FileCount)
	}

	p, _ := s.GetPending(ctx, items[1].ID)
	if p.Status != store.ReviewAssigned {
		t.Errorf("pending status = %q, want assigned", p.Status)
	}
}

func TestAssignManuallyBusinessFailures(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Missing pending item.
	res, err := AssignManually(ctx, s, ManualRequest{PendingID: 42, CaseLabel: "X"})
	if err != nil {
		t.Fatalf("unexpected storage error: %v", err)
	}
	if res.OK {
		t.Error("missing pending item must be a business failure")
	}

	// Missing case without create.
	doc, segs := seedDocument(t, s, "notes.txt", "h1", "nodule")
	applyResolution(t, s, doc, segs, resolve.Resolution{Method: store.MethodNoDetection})
	items, _ := s.ListPending(ctx, store.PendingFilter{})

	res, err = AssignManually(ctx, s, ManualRequest{PendingID: items[0].ID, CaseLabel: "NOPE"})
	if err != nil {
		t.Fatalf("unexpected storage error: %v", err)
	}
	if res.OK {
		t.Error("unknown label without create must be a business failure")
	}

	// Empty label.
	res, _ = AssignManually(ctx, s, ManualRequest{PendingID: items[0].ID})
	if res.OK {
		t.Error("empty label must be a business failure")
	}

	// The pending item is still workable after failed attempts.
	p, _ := s.GetPending(ctx, items[0].ID)
	if p.Status != store.ReviewPending {
		t.Errorf("status = %q, want still pending", p.Status)
	}
}

func TestReject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc, segs := seedDocument(t, s, "notes.txt", "h1", "nodule")
	applyResolution(t, s, doc, segs, resolve.Resolution{Method: store.MethodNoDetection})
	items, _ := s.ListPending(ctx, store.PendingFilter{})

	res, err := Reject(ctx, s, items[0].ID, "alice", "not a real cluster")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if !res.OK {
		t.Fatalf("result = %+v", res)
	}

	p, _ := s.GetPending(ctx, items[0].ID)
	if p.Status != store.ReviewRejected {
		t.Errorf("status = %q, want rejected", p.Status)
	}

	// Terminal: a second decision is a business failure.
	res, err = Reject(ctx, s, items[0].ID, "bob", "")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if res.OK {
		t.Error("rejection is terminal")
	}
}
