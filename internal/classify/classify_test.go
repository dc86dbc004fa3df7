package classify

import (
	"testing"

	"github.com/caseline/caseline/internal/store"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		ratio float64
		want  store.SegmentType
	}{
		{"all numeric", 1.0, store.SegmentQuantitative},
		{"just above upper bound", 0.71, store.SegmentQuantitative},
		{"upper bound is mixed", 0.70, store.SegmentMixed},
		{"middle of the band", 0.50, store.SegmentMixed},
		{"lower bound is mixed", 0.30, store.SegmentMixed},
		{"just below lower bound", 0.29, store.SegmentQualitative},
		{"pure text", 0.0, store.SegmentQualitative},
		{"clamps below zero", -0.5, store.SegmentQualitative},
		{"clamps above one", 1.5, store.SegmentQuantitative},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.ratio); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.ratio, got, tt.want)
			}
		})
	}
}
