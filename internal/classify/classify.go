// Package classify assigns parsed content units to segment categories by
// numeric-density ratio. Classification is a pure function of the documented
// thresholds; it has no side effects and no failure mode — every ratio maps
// deterministically to exactly one category.
package classify

import "github.com/caseline/caseline/internal/store"

// Density thresholds. The mixed band is inclusive at both edges, so a ratio
// of exactly 0.30 or 0.70 is mixed, never a policy gap.
const (
	QuantitativeThreshold = 0.70
	QualitativeThreshold  = 0.30
)

// Classify maps a numeric-density ratio to a segment type:
//
//	ratio > 0.70          → quantitative
//	0.30 ≤ ratio ≤ 0.70   → mixed
//	ratio < 0.30          → qualitative (text density ≥ 0.70)
//
// Ratios outside [0,1] clamp to the nearest category.
func Classify(numericRatio float64) store.SegmentType {
	switch {
	case numericRatio > QuantitativeThreshold:
		return store.SegmentQuantitative
	case numericRatio >= QualitativeThreshold:
		return store.SegmentMixed
	default:
		return store.SegmentQualitative
	}
}
