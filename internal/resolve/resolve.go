// Package resolve decides which case a document belongs to.
//
// Detection strategies run in a fixed order and the first match wins:
// subject id in the filename, subject id already present in document
// metadata, then keyword-signature clustering with a graded confidence
// model. A document with no usable evidence resolves to no_detection with
// confidence zero rather than an error.
package resolve

import (
	"fmt"
	"regexp"

	"github.com/caseline/caseline/internal/store"
)

// DefaultSubjectPattern matches LIDC-IDRI subject identifiers.
const DefaultSubjectPattern = `LIDC-IDRI-\d{4}`

// DefaultAutoAssignThreshold is the confidence at or above which a
// resolution commits without human review.
const DefaultAutoAssignThreshold = 0.80

// Confidence model constants for keyword-signature clustering.
const (
	baseCap           = 0.70
	crossTypeBonus    = 0.20
	relevanceStep     = 0.02
	relevanceBonusCap = 0.10
)

// Resolution is the outcome of running detection for one document.
type Resolution struct {
	Label      string
	Signature  string
	Method     string
	Confidence float64
	AutoAssign bool
}

// Options configures a Resolver. Zero values fall back to the defaults.
type Options struct {
	SubjectPattern      string
	AutoAssignThreshold float64
}

// Resolver applies the ordered detection strategies.
type Resolver struct {
	subjectRE *regexp.Regexp
	threshold float64
}

// New compiles the subject pattern and validates the threshold.
func New(opts Options) (*Resolver, error) {
	pattern := opts.SubjectPattern
	if pattern == "" {
		pattern = DefaultSubjectPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling subject pattern %q: %w", pattern, err)
	}

	threshold := opts.AutoAssignThreshold
	if threshold == 0 {
		threshold = DefaultAutoAssignThreshold
	}
	if err := store.ValidateConfidence(threshold); err != nil {
		return nil, fmt.Errorf("auto-assign threshold: %w", err)
	}

	return &Resolver{subjectRE: re, threshold: threshold}, nil
}

// Resolve runs the detection strategies for a document with its aggregated
// keyword evidence. Evidence may be nil when the document produced no
// occurrences.
func (r *Resolver) Resolve(doc *store.Document, ev *store.Evidence) (Resolution, error) {
	if subject := r.subjectRE.FindString(doc.Filename); subject != "" {
		return Resolution{
			Label:      subject,
			Signature:  store.SubjectSignature(subject),
			Method:     store.MethodFilenameRegex,
			Confidence: 1.0,
			AutoAssign: true,
		}, nil
	}

	if subject := r.subjectRE.FindString(doc.Metadata[store.MetaSubjectID]); subject != "" {
		return Resolution{
			Label:      subject,
			Signature:  store.SubjectSignature(subject),
			Method:     store.MethodMetadataLookup,
			Confidence: 1.0,
			AutoAssign: true,
		}, nil
	}

	return r.resolveBySignature(ev)
}

// resolveBySignature clusters the document by the hash of its distinct
// keyword-id set and grades confidence from how the evidence looks.
func (r *Resolver) resolveBySignature(ev *store.Evidence) (Resolution, error) {
	if ev == nil || len(ev.KeywordIDs) == 0 {
		return Resolution{Method: store.MethodNoDetection}, nil
	}

	sig, err := store.CaseSignature(ev.KeywordIDs)
	if err != nil {
		return Resolution{}, fmt.Errorf("computing case signature: %w", err)
	}

	confidence := Confidence(int64(len(ev.KeywordIDs)), ev.SegmentCount, ev.CrossType(), ev.HighRelevance)

	return Resolution{
		Label:      store.ClusterLabel(sig),
		Signature:  sig,
		Method:     store.MethodKeywordSignature,
		Confidence: confidence,
		AutoAssign: confidence >= r.threshold,
	}, nil
}

// Confidence grades keyword-signature evidence:
//
//	base  = min(keywords / (segments + 1), 0.70)
//	+0.20 when evidence spans both quantitative and qualitative occurrences
//	+min(highRelevance × 0.02, 0.10)
//
// capped at 1.0. Exported so review tooling can explain a score.
func Confidence(keywords, segments int64, crossType bool, highRelevance int) float64 {
	base := float64(keywords) / float64(segments+1)
	if base > baseCap {
		base = baseCap
	}

	confidence := base
	if crossType {
		confidence += crossTypeBonus
	}

	bonus := float64(highRelevance) * relevanceStep
	if bonus > relevanceBonusCap {
		bonus = relevanceBonusCap
	}
	confidence += bonus

	if confidence > 1.0 {
		confidence = 1.0
	}
	return confidence
}
