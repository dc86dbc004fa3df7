package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/caseline/caseline/internal/extract"
	"github.com/caseline/caseline/internal/resolve"
	"github.com/caseline/caseline/internal/store"
)

func newTestPipeline(t *testing.T) (*Pipeline, store.Store) {
	t.Helper()
	return newPipelineAt(t, ":memory:", 1)
}

func newPipelineAt(t *testing.T, dbPath string, workers int) (*Pipeline, store.Store) {
	t.Helper()
	s, err := store.NewStore(store.StoreConfig{DBPath: dbPath})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	norm := extract.NewNormalizer(extract.Dictionary{
		StopWords: []string{"the", "and", "with"},
	})
	extractor := extract.NewExtractor(norm, extract.Options{})
	resolver, err := resolve.New(resolve.Options{})
	if err != nil {
		t.Fatalf("creating resolver: %v", err)
	}
	return New(s, extractor, resolver, nil, workers), s
}

func subjectInput(filename, content string) DocumentInput {
	return DocumentInput{
		Filename: filename,
		Content:  []byte(content),
		Segments: []SegmentInput{
			{Payload: "spiculated nodule noted in the upper lobe", Position: "para:1", Region: "body", NumericRatio: 0.1},
			{Payload: "diameter 4.5 margin 3 lobulation 2 subtlety 5", Position: "para:2", Region: "body", NumericRatio: 0.8},
		},
	}
}

func TestProcessAutoAssignsByFilename(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()

	res, err := p.Process(ctx, subjectInput("LIDC-IDRI-0001-scan.xml", "content-1"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !res.Created {
		t.Error("first run must create the document")
	}
	if res.Segments != 2 {
		t.Errorf("segments = %d, want 2", res.Segments)
	}
	if res.Resolution.Method != store.MethodFilenameRegex {
		t.Errorf("method = %q, want filename_regex", res.Resolution.Method)
	}
	if !res.Resolution.AutoAssign {
		t.Error("filename match must auto-assign")
	}

	doc, err := s.GetDocument(ctx, res.DocumentID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Status != store.DocStatusComplete {
		t.Errorf("status = %q, want complete", doc.Status)
	}
	if doc.Metadata[store.MetaCaseLabel] != "LIDC-IDRI-0001" {
		t.Errorf("metadata = %v, want case stamp", doc.Metadata)
	}

	c, err := s.GetCaseByLabel(ctx, "LIDC-IDRI-0001")
	if err != nil {
		t.Fatalf("GetCaseByLabel: %v", err)
	}
	if c == nil {
		t.Fatal("case must exist after auto-assignment")
	}
	if c.SegmentCount != 2 || c.FileCount != 1 {
		t.Errorf("case counts = %d segments %d files, want 2/1", c.SegmentCount, c.FileCount)
	}
	// Evidence spans qualitative and quantitative segments.
	if !c.CrossTypeValidated {
		t.Error("cross-type flag must derive from the contributed segments")
	}
}

func TestProcessClassifiesSegments(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()

	in := DocumentInput{
		Filename: "doc.txt",
		Content:  []byte("content"),
		Segments: []SegmentInput{
			{Payload: "narrative text", NumericRatio: 0.1},
			{Payload: "1 2 3 4 5", NumericRatio: 0.9},
			{Payload: "half and half", NumericRatio: 0.5},
		},
	}
	res, err := p.Process(ctx, in)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	segs, err := s.SegmentsByDocument(ctx, res.DocumentID)
	if err != nil {
		t.Fatalf("SegmentsByDocument: %v", err)
	}
	want := []store.SegmentType{store.SegmentQualitative, store.SegmentQuantitative, store.SegmentMixed}
	for i, seg := range segs {
		if seg.SegmentType != want[i] {
			t.Errorf("segment %d type = %q, want %q", i, seg.SegmentType, want[i])
		}
	}
}

func TestProcessDuplicateSkipsReExtraction(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()

	first, err := p.Process(ctx, subjectInput("LIDC-IDRI-0005.xml", "same-bytes"))
	if err != nil {
		t.Fatalf("first Process: %v", err)
	}

	k1, _ := s.GetKeywordByTerm(ctx, "nodule")

	// Same content under a new name: no second document, no counter drift.
	second, err := p.Process(ctx, subjectInput("renamed.xml", "same-bytes"))
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if !second.Duplicate {
		t.Error("identical content must be reported as duplicate")
	}
	if second.DocumentID != first.DocumentID {
		t.Errorf("duplicate got document %d, want %d", second.DocumentID, first.DocumentID)
	}

	k2, _ := s.GetKeywordByTerm(ctx, "nodule")
	if k2.TotalFreq != k1.TotalFreq || k2.DocumentFreq != k1.DocumentFreq {
		t.Errorf("duplicate import drifted counters: %d/%d -> %d/%d",
			k1.TotalFreq, k1.DocumentFreq, k2.TotalFreq, k2.DocumentFreq)
	}

	docs, _ := s.ListDocuments(ctx, store.DocumentFilter{})
	if len(docs) != 1 {
		t.Errorf("document count = %d, want 1", len(docs))
	}
}

func TestProcessQueuesLowConfidence(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()

	// No subject id anywhere; sparse evidence lands under the threshold.
	in := DocumentInput{
		Filename: "anon.txt",
		Content:  []byte("anon"),
		Segments: []SegmentInput{
			{Payload: "spiculated nodule", NumericRatio: 0.1},
			{Payload: "opacity margin texture", NumericRatio: 0.1},
		},
	}
	res, err := p.Process(ctx, in)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Resolution.Method != store.MethodKeywordSignature {
		t.Fatalf("method = %q, want keyword_signature", res.Resolution.Method)
	}
	if res.Resolution.AutoAssign {
		t.Fatalf("confidence %v should not clear the threshold", res.Resolution.Confidence)
	}

	items, err := s.ListPending(ctx, store.PendingFilter{DocumentID: res.DocumentID})
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("pending rows = %d, want one per segment", len(items))
	}

	doc, _ := s.GetDocument(ctx, res.DocumentID)
	if doc.Status != store.DocStatusComplete {
		t.Errorf("status = %q, want complete even on the review path", doc.Status)
	}
	if doc.Metadata[store.MetaCaseID] != "" {
		t.Error("review path must leave the case stamp unset")
	}
}

func TestProcessNoEvidence(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()

	// Stop words only: zero keyword occurrences.
	in := DocumentInput{
		Filename: "empty.txt",
		Content:  []byte("empty"),
		Segments: []SegmentInput{{Payload: "the and with", NumericRatio: 0.0}},
	}
	res, err := p.Process(ctx, in)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Resolution.Method != store.MethodNoDetection {
		t.Errorf("method = %q, want no_detection", res.Resolution.Method)
	}
	if res.Resolution.Confidence != 0.0 || res.Resolution.AutoAssign {
		t.Errorf("resolution = %+v, want zero confidence and no auto-assign", res.Resolution)
	}

	items, _ := s.ListPending(ctx, store.PendingFilter{DocumentID: res.DocumentID})
	if len(items) != 1 {
		t.Errorf("pending rows = %d, want 1", len(items))
	}
}

func TestProcessMergesMatchingSubject(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()

	if _, err := p.Process(ctx, subjectInput("LIDC-IDRI-0007-a.xml", "bytes-a")); err != nil {
		t.Fatalf("first Process: %v", err)
	}
	if _, err := p.Process(ctx, subjectInput("LIDC-IDRI-0007-b.xml", "bytes-b")); err != nil {
		t.Fatalf("second Process: %v", err)
	}

	detail, err := s.CaseDetailByLabel(ctx, "LIDC-IDRI-0007")
	if err != nil {
		t.Fatalf("CaseDetailByLabel: %v", err)
	}
	if detail.Case.FileCount != 2 {
		t.Errorf("file_count = %d, want 2", detail.Case.FileCount)
	}
	if detail.Case.SegmentCount != 4 {
		t.Errorf("segment_count = %d, want 4", detail.Case.SegmentCount)
	}
	if len(detail.Versions) != 2 {
		t.Errorf("versions = %d, want exactly one per document", len(detail.Versions))
	}
	if len(detail.Files) != 2 {
		t.Errorf("files = %v, want both source documents", detail.Files)
	}
}

func TestProcessBatch(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()

	inputs := []DocumentInput{
		subjectInput("LIDC-IDRI-0010.xml", "b1"),
		subjectInput("LIDC-IDRI-0011.xml", "b2"),
		subjectInput("LIDC-IDRI-0012.xml", "b3"),
	}
	results := p.ProcessBatch(ctx, inputs)
	if len(results) != 3 {
		t.Fatalf("batch results = %d, want 3", len(results))
	}
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("batch item %s failed: %v", r.Input.Filename, r.Err)
		}
	}

	docs, _ := s.ListDocuments(ctx, store.DocumentFilter{})
	if len(docs) != 3 {
		t.Errorf("document count = %d, want 3", len(docs))
	}
}

func TestProcessBatchConcurrentWriters(t *testing.T) {
	const (
		docs    = 40
		workers = 8
	)

	// A file-backed database gives every worker its own pooled connection,
	// unlike :memory: where the pool is pinned to one.
	p, s := newPipelineAt(t, filepath.Join(t.TempDir(), "caseline.db"), workers)
	ctx := context.Background()

	// Ten documents per subject: all workers contend on the same keyword
	// terms and a handful of shared case rows.
	inputs := make([]DocumentInput, 0, docs)
	for i := 0; i < docs; i++ {
		name := fmt.Sprintf("LIDC-IDRI-%04d-scan-%02d.xml", 9100+i%4, i)
		inputs = append(inputs, subjectInput(name, fmt.Sprintf("bytes-%d", i)))
	}

	results := p.ProcessBatch(ctx, inputs)
	if len(results) != docs {
		t.Fatalf("batch results = %d, want %d", len(results), docs)
	}
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("batch item %s failed: %v", r.Input.Filename, r.Err)
		}
	}

	// Document frequency counts each contributing document exactly once even
	// when the increments raced.
	k, err := s.GetKeywordByTerm(ctx, "nodule")
	if err != nil {
		t.Fatalf("GetKeywordByTerm: %v", err)
	}
	if k == nil {
		t.Fatal("keyword nodule must exist")
	}
	if k.DocumentFreq != docs {
		t.Errorf("document_frequency = %d, want %d", k.DocumentFreq, docs)
	}
	if k.TotalFreq != docs {
		t.Errorf("total_frequency = %d, want %d", k.TotalFreq, docs)
	}

	for j := 0; j < 4; j++ {
		label := fmt.Sprintf("LIDC-IDRI-%04d", 9100+j)
		c, err := s.GetCaseByLabel(ctx, label)
		if err != nil {
			t.Fatalf("GetCaseByLabel(%s): %v", label, err)
		}
		if c == nil {
			t.Fatalf("case %s must exist", label)
		}
		if c.FileCount != docs/4 {
			t.Errorf("case %s file_count = %d, want %d", label, c.FileCount, docs/4)
		}
	}
}

func TestReResolve(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()

	// Processed without a subject match, queued for review.
	in := DocumentInput{
		Filename: "anon.txt",
		Content:  []byte("anon"),
		Segments: []SegmentInput{{Payload: "spiculated nodule opacity", NumericRatio: 0.1}},
	}
	first, err := p.Process(ctx, in)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	// The operator later records the subject id in metadata.
	err = s.InTx(ctx, func(tx *store.Tx) error {
		return tx.StampDocumentMetadata(ctx, first.DocumentID, map[string]string{
			store.MetaSubjectID: "LIDC-IDRI-0020",
		})
	})
	if err != nil {
		t.Fatalf("stamping subject: %v", err)
	}

	res, err := p.ReResolve(ctx, first.DocumentID)
	if err != nil {
		t.Fatalf("ReResolve: %v", err)
	}
	if res.Resolution.Method != store.MethodMetadataLookup {
		t.Errorf("method = %q, want metadata_lookup", res.Resolution.Method)
	}
	if !res.Resolution.AutoAssign {
		t.Error("metadata match must auto-assign")
	}

	c, _ := s.GetCaseByLabel(ctx, "LIDC-IDRI-0020")
	if c == nil {
		t.Fatal("re-resolution must create the case")
	}

	// The earlier queued suggestion is superseded, not left dangling.
	open, _ := s.ListPending(ctx, store.PendingFilter{Status: store.ReviewPending, DocumentID: first.DocumentID})
	if len(open) != 0 {
		t.Errorf("open pending rows after auto-assignment = %d, want 0", len(open))
	}
	merged, _ := s.ListPending(ctx, store.PendingFilter{Status: store.ReviewMerged, DocumentID: first.DocumentID})
	if len(merged) != 1 {
		t.Errorf("merged pending rows = %d, want 1", len(merged))
	}

	if _, err := p.ReResolve(ctx, 9999); err == nil {
		t.Error("expected ErrNotFound for a missing document")
	}
}
