// Package extract implements the keyword extractor and scorer.
//
// Text payloads are normalized, tokenized, and filtered against a terminology
// dictionary; structured payloads are flattened depth-first into dotted field
// paths. Both paths produce ranked, capped candidate term sets that the
// pipeline records as keyword occurrences.
package extract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Defaults for extraction limits.
const (
	DefaultMinTokenLength     = 3
	DefaultMaxTextTerms       = 50
	DefaultMaxStructuredTerms = 30
)

// TitleWeight is the position boost for title/header/abstract segments.
const TitleWeight = 1.5

// Segment regions that receive the position boost.
var boostedRegions = map[string]bool{
	"title":    true,
	"header":   true,
	"abstract": true,
}

// nonSemanticKeys are structured field names carrying bookkeeping rather than
// meaning. They never become candidate terms.
var nonSemanticKeys = map[string]bool{
	"id":         true,
	"uuid":       true,
	"guid":       true,
	"created_at": true,
	"updated_at": true,
	"timestamp":  true,
	"checksum":   true,
	"version":    true,
}

var tokenSplitRE = regexp.MustCompile(`[^a-z0-9_]+`)

// Options configures an Extractor. Zero values fall back to the defaults.
type Options struct {
	MinTokenLength     int
	MaxTextTerms       int
	MaxStructuredTerms int
}

func (o *Options) normalize() {
	if o.MinTokenLength <= 0 {
		o.MinTokenLength = DefaultMinTokenLength
	}
	if o.MaxTextTerms <= 0 {
		o.MaxTextTerms = DefaultMaxTextTerms
	}
	if o.MaxStructuredTerms <= 0 {
		o.MaxStructuredTerms = DefaultMaxStructuredTerms
	}
}

// Candidate is one extracted term before it is recorded against a segment.
type Candidate struct {
	Term         string
	IsPhrase     bool
	Frequency    int64
	Context      string
	NumericValue *float64
}

// Extractor turns segment payloads into ranked candidate terms.
type Extractor struct {
	normalizer *Normalizer
	opts       Options
}

// NewExtractor creates an extractor. A nil normalizer gets an empty dictionary.
func NewExtractor(n *Normalizer, opts Options) *Extractor {
	if n == nil {
		n = NewNormalizer(Dictionary{})
	}
	opts.normalize()
	return &Extractor{normalizer: n, opts: opts}
}

// Normalizer exposes the underlying dictionary normalizer (used by the
// search layer for query expansion).
func (e *Extractor) Normalizer() *Normalizer {
	return e.normalizer
}

// ExtractSegment dispatches on payload shape: payloads that parse as JSON
// objects or arrays take the structured path, everything else is text.
func (e *Extractor) ExtractSegment(payload string) []Candidate {
	trimmed := strings.TrimSpace(payload)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		if v, err := ParseJSON([]byte(trimmed)); err == nil {
			return e.ExtractStructured(v)
		}
		// Malformed structured payload degrades to text extraction.
	}
	return e.ExtractText(payload)
}

// ExtractText extracts candidate terms from free text: dictionary phrases
// first, then normalized single tokens. Tokens shorter than the minimum,
// pure-numeric tokens, and stop words are discarded. Results are ranked by
// frequency (descending) with lexical order as tie-break and capped.
func (e *Extractor) ExtractText(text string) []Candidate {
	normalized := normalizeText(text)
	if normalized == "" {
		return nil
	}

	freq := make(map[string]int64)
	phrase := make(map[string]bool)
	context := make(map[string]string)

	// Dictionary phrases claim their spans so their words are not
	// double-counted as single tokens.
	spans := e.normalizer.DetectMultiWordTerms(normalized)
	remainder := []byte(normalized)
	for _, sp := range spans {
		term := e.normalizer.Normalize(sp.Term)
		freq[term]++
		phrase[term] = strings.Contains(term, " ")
		if _, ok := context[term]; !ok {
			context[term] = snippet(normalized, sp.Start, sp.End)
		}
		for i := sp.Start; i < sp.End; i++ {
			remainder[i] = ' '
		}
	}

	for _, tok := range tokenSplitRE.Split(string(remainder), -1) {
		if tok == "" || isNumericToken(tok) || e.normalizer.IsStopWord(tok) {
			continue
		}
		// Normalize before the length check so short abbreviations like "ct"
		// still expand to their full term.
		term := e.normalizer.Normalize(tok)
		if len(term) < e.opts.MinTokenLength || e.normalizer.IsStopWord(term) {
			continue
		}
		freq[term]++
		if strings.Contains(term, " ") {
			phrase[term] = true
		}
		if _, ok := context[term]; !ok {
			if pos := strings.Index(normalized, tok); pos >= 0 {
				context[term] = snippet(normalized, pos, pos+len(tok))
			}
		}
	}

	return rankCandidates(freq, phrase, context, nil, e.opts.MaxTextTerms)
}

// ExtractStructured flattens a structured payload into dotted field paths.
// Each path becomes a candidate term; numeric leaves attach their value.
// Known non-semantic keys and underscore-prefixed fields are excluded.
func (e *Extractor) ExtractStructured(v Value) []Candidate {
	freq := make(map[string]int64)
	context := make(map[string]string)
	numeric := make(map[string]*float64)

	v.Walk(func(path string, leaf Value) {
		if hasNonSemanticKey(path) {
			return
		}
		term := strings.ToLower(path)
		freq[term]++
		if _, ok := context[term]; !ok {
			context[term] = path + "=" + leafString(leaf)
		}
		if leaf.Kind == KindNumber {
			if _, ok := numeric[term]; !ok {
				val := leaf.Number
				numeric[term] = &val
			}
		}
	})

	return rankCandidates(freq, nil, context, numeric, e.opts.MaxStructuredTerms)
}

// PositionWeight returns the occurrence weight for a segment region:
// 1.5 for title/header/abstract, 1.0 otherwise.
func PositionWeight(region string) float64 {
	if boostedRegions[strings.ToLower(region)] {
		return TitleWeight
	}
	return 1.0
}

func rankCandidates(freq map[string]int64, phrase map[string]bool, context map[string]string, numeric map[string]*float64, cap int) []Candidate {
	terms := make([]string, 0, len(freq))
	for t := range freq {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if freq[terms[i]] != freq[terms[j]] {
			return freq[terms[i]] > freq[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > cap {
		terms = terms[:cap]
	}

	out := make([]Candidate, 0, len(terms))
	for _, t := range terms {
		c := Candidate{
			Term:      t,
			Frequency: freq[t],
			Context:   context[t],
			IsPhrase:  strings.Contains(t, " "),
		}
		if phrase != nil && phrase[t] {
			c.IsPhrase = true
		}
		if numeric != nil {
			c.NumericValue = numeric[t]
		}
		out = append(out, c)
	}
	return out
}

// normalizeText lowercases, trims, and collapses internal whitespace.
func normalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(text))), " ")
}

func isNumericToken(tok string) bool {
	_, err := strconv.ParseFloat(tok, 64)
	return err == nil
}

// NumericDensity measures the fraction of whitespace-separated tokens that
// parse as numbers, stripped of common unit punctuation. Empty text is 0.
func NumericDensity(text string) float64 {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0
	}
	numeric := 0
	for _, f := range fields {
		if isNumericToken(strings.Trim(f, ".,;:%()[]")) {
			numeric++
		}
	}
	return float64(numeric) / float64(len(fields))
}

func hasNonSemanticKey(path string) bool {
	for _, part := range strings.Split(path, ".") {
		p := strings.ToLower(part)
		if nonSemanticKeys[p] || strings.HasPrefix(p, "_") {
			return true
		}
	}
	return false
}

// snippet cuts a context window around a match. The fixed margin counts
// bytes, so both cut points back off to a rune boundary to keep the window
// valid UTF-8.
func snippet(text string, start, end int) string {
	const margin = 40
	from := start - margin
	if from < 0 {
		from = 0
	}
	for from > 0 && !utf8.RuneStart(text[from]) {
		from--
	}
	to := end + margin
	if to > len(text) {
		to = len(text)
	}
	for to < len(text) && !utf8.RuneStart(text[to]) {
		to--
	}
	return strings.TrimSpace(text[from:to])
}
