package resolve

import (
	"math"
	"testing"

	"github.com/caseline/caseline/internal/store"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := New(Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func evidence(keywords int, segments int64, types ...store.SegmentType) *store.Evidence {
	ev := &store.Evidence{
		SegmentCount: segments,
		Types:        make(map[store.SegmentType]bool),
	}
	for i := 0; i < keywords; i++ {
		ev.KeywordIDs = append(ev.KeywordIDs, int64(i+1))
	}
	for _, t := range types {
		ev.Types[t] = true
	}
	return ev
}

func TestNewValidatesOptions(t *testing.T) {
	if _, err := New(Options{SubjectPattern: "("}); err == nil {
		t.Error("invalid pattern must be rejected")
	}
	if _, err := New(Options{AutoAssignThreshold: 1.5}); err == nil {
		t.Error("out-of-range threshold must be rejected")
	}
}

func TestResolveFilenameRegex(t *testing.T) {
	r := newTestResolver(t)

	doc := &store.Document{Filename: "LIDC-IDRI-0001-scan.xml"}
	res, err := r.Resolve(doc, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Label != "LIDC-IDRI-0001" {
		t.Errorf("label = %q, want LIDC-IDRI-0001", res.Label)
	}
	if res.Method != store.MethodFilenameRegex {
		t.Errorf("method = %q, want filename_regex", res.Method)
	}
	if res.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0", res.Confidence)
	}
	if !res.AutoAssign {
		t.Error("filename match must auto-assign")
	}
	if res.Signature == "" {
		t.Error("subject match must carry a signature")
	}
}

func TestResolveMetadataLookup(t *testing.T) {
	r := newTestResolver(t)

	doc := &store.Document{
		Filename: "untitled.txt",
		Metadata: map[string]string{store.MetaSubjectID: "LIDC-IDRI-0042"},
	}
	res, err := r.Resolve(doc, evidence(3, 2, store.SegmentQualitative))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Method != store.MethodMetadataLookup {
		t.Errorf("method = %q, want metadata_lookup", res.Method)
	}
	if res.Label != "LIDC-IDRI-0042" || res.Confidence != 1.0 || !res.AutoAssign {
		t.Errorf("unexpected resolution %+v", res)
	}
}

func TestResolveStrategyOrder(t *testing.T) {
	r := newTestResolver(t)

	// Filename wins over metadata when both would match.
	doc := &store.Document{
		Filename: "LIDC-IDRI-0001.xml",
		Metadata: map[string]string{store.MetaSubjectID: "LIDC-IDRI-0002"},
	}
	res, err := r.Resolve(doc, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Method != store.MethodFilenameRegex || res.Label != "LIDC-IDRI-0001" {
		t.Errorf("filename strategy must win, got %+v", res)
	}
}

func TestResolveNoEvidence(t *testing.T) {
	r := newTestResolver(t)

	doc := &store.Document{Filename: "notes.txt"}
	for _, ev := range []*store.Evidence{nil, evidence(0, 3)} {
		res, err := r.Resolve(doc, ev)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if res.Method != store.MethodNoDetection {
			t.Errorf("method = %q, want no_detection", res.Method)
		}
		if res.Confidence != 0.0 {
			t.Errorf("confidence = %v, want 0.0", res.Confidence)
		}
		if res.AutoAssign {
			t.Error("no detection must never auto-assign")
		}
	}
}

func TestResolveKeywordSignature(t *testing.T) {
	r := newTestResolver(t)

	ev := evidence(4, 1, store.SegmentQualitative)
	doc := &store.Document{Filename: "notes.txt"}
	res, err := r.Resolve(doc, ev)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Method != store.MethodKeywordSignature {
		t.Errorf("method = %q, want keyword_signature", res.Method)
	}

	wantSig, _ := store.CaseSignature(ev.KeywordIDs)
	if res.Signature != wantSig {
		t.Errorf("signature = %q, want deterministic hash %q", res.Signature, wantSig)
	}
	if res.Label != store.ClusterLabel(wantSig) {
		t.Errorf("label = %q, want cluster label for the signature", res.Label)
	}

	// base = min(4/2, 0.70) = 0.70, no bonuses.
	if math.Abs(res.Confidence-0.70) > 1e-9 {
		t.Errorf("confidence = %v, want 0.70", res.Confidence)
	}
	if res.AutoAssign {
		t.Error("0.70 is below the default threshold")
	}
}

func TestConfidenceModel(t *testing.T) {
	tests := []struct {
		name          string
		keywords      int64
		segments      int64
		crossType     bool
		highRelevance int
		want          float64
	}{
		{"base capped at 0.70", 100, 1, false, 0, 0.70},
		{"small evidence", 1, 1, false, 0, 0.50},
		{"cross-type adds exactly 0.20", 100, 1, true, 0, 0.90},
		{"relevance bonus per keyword", 100, 1, false, 3, 0.76},
		{"relevance bonus capped at 0.10", 100, 1, false, 50, 0.80},
		{"total capped at 1.0", 100, 1, true, 50, 1.0},
		{"zero evidence", 0, 0, false, 0, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Confidence(tt.keywords, tt.segments, tt.crossType, tt.highRelevance)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Confidence(%d,%d,%v,%d) = %v, want %v",
					tt.keywords, tt.segments, tt.crossType, tt.highRelevance, got, tt.want)
			}
			if got < 0 || got > 1 {
				t.Errorf("confidence %v outside [0,1]", got)
			}
		})
	}
}

func TestCrossTypeDelta(t *testing.T) {
	// Identical evidence with and without type spread differs by exactly 0.20.
	single := Confidence(10, 4, false, 2)
	cross := Confidence(10, 4, true, 2)
	if math.Abs(cross-single-0.20) > 1e-9 {
		t.Errorf("cross-type delta = %v, want exactly 0.20", cross-single)
	}
}

func TestAutoAssignBoundary(t *testing.T) {
	r := newTestResolver(t)
	doc := &store.Document{Filename: "notes.txt"}

	// base 0.70 + two high-relevance keywords = 0.74 < threshold.
	below := evidence(100, 1, store.SegmentQualitative)
	below.HighRelevance = 2
	res, err := r.Resolve(doc, below)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.AutoAssign {
		t.Errorf("confidence %v below 0.80 must not auto-assign", res.Confidence)
	}

	// base 0.70 + relevance bonus capped at 0.10 = exactly 0.80: boundary included.
	at := evidence(100, 1, store.SegmentQualitative)
	at.HighRelevance = 5
	res, err = r.Resolve(doc, at)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if math.Abs(res.Confidence-0.80) > 1e-9 {
		t.Fatalf("confidence = %v, want exactly 0.80", res.Confidence)
	}
	if !res.AutoAssign {
		t.Error("confidence exactly at the threshold must auto-assign")
	}
}

func TestConfigurableThreshold(t *testing.T) {
	r, err := New(Options{AutoAssignThreshold: 0.60})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	doc := &store.Document{Filename: "notes.txt"}

	res, err := r.Resolve(doc, evidence(100, 1, store.SegmentQualitative))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.AutoAssign {
		t.Errorf("confidence %v should clear a lowered threshold of 0.60", res.Confidence)
	}
}
