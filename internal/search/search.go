// Package search is the outbound query surface: keyword lookup, boolean
// term search with synonym expansion, file lookup by required keyword set,
// and the cached corpus statistics snapshot.
package search

import (
	"context"
	"sort"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/caseline/caseline/internal/extract"
	"github.com/caseline/caseline/internal/store"
)

const (
	statsCacheKey = "stats"
	statsCacheTTL = 5 * time.Minute
)

// Service answers read queries against the store. Statistics snapshots are
// derived state: cached briefly for cheap repeated reads, recomputable on
// demand at any time.
type Service struct {
	st    store.Store
	norm  *extract.Normalizer
	cache *gocache.Cache
}

// New creates a query service. A nil normalizer disables synonym expansion.
func New(st store.Store, norm *extract.Normalizer) *Service {
	if norm == nil {
		norm = extract.NewNormalizer(extract.Dictionary{})
	}
	return &Service{
		st:    st,
		norm:  norm,
		cache: gocache.New(statsCacheTTL, 2*statsCacheTTL),
	}
}

// Lookup returns every occurrence of the term. With expansion enabled the
// lookup also covers the term's synonyms and abbreviation expansions.
func (s *Service) Lookup(ctx context.Context, term string, expand bool) ([]store.KeywordHit, error) {
	terms := []string{s.norm.Normalize(term)}
	if expand {
		terms = s.norm.AllForms(term)
	}
	return s.st.LookupKeyword(ctx, terms)
}

// Result is one document matched by a boolean search.
type Result struct {
	DocumentID   int64
	Filename     string
	MatchedTerms []string
	Score        float64
}

// Search evaluates a boolean AND/OR expression. Each query term matches
// through any of its synonym forms; a document satisfies the query when at
// least one AND-group matches completely. Results rank by summed relevance
// of the matched keywords.
func (s *Service) Search(ctx context.Context, rawQuery string) ([]Result, error) {
	q := ParseQuery(rawQuery)
	if q.Empty() {
		return nil, nil
	}

	// One lookup over every form of every term, then match in memory.
	forms := make(map[string][]string) // query term -> all lookup forms
	var allForms []string
	for _, t := range q.Terms() {
		f := s.norm.AllForms(t)
		forms[t] = f
		allForms = append(allForms, f...)
	}

	hits, err := s.st.LookupKeyword(ctx, dedupe(allForms))
	if err != nil {
		return nil, err
	}

	type docState struct {
		filename string
		matched  map[string]struct{}
		score    map[string]float64 // best relevance per query term
	}
	docs := make(map[int64]*docState)

	for _, h := range hits {
		for term, termForms := range forms {
			if !contains(termForms, h.Term) {
				continue
			}
			d := docs[h.DocumentID]
			if d == nil {
				d = &docState{
					filename: h.Filename,
					matched:  make(map[string]struct{}),
					score:    make(map[string]float64),
				}
				docs[h.DocumentID] = d
			}
			d.matched[term] = struct{}{}
			if h.Relevance > d.score[term] {
				d.score[term] = h.Relevance
			}
		}
	}

	var results []Result
	for id, d := range docs {
		group := matchingGroup(q, d.matched)
		if group == nil {
			continue
		}
		r := Result{DocumentID: id, Filename: d.filename, MatchedTerms: group}
		for _, t := range group {
			r.Score += d.score[t]
		}
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocumentID < results[j].DocumentID
	})
	return results, nil
}

// matchingGroup returns the first AND-group fully covered by the matched
// terms, or nil when none is.
func matchingGroup(q Query, matched map[string]struct{}) []string {
	for _, group := range q.Groups {
		ok := true
		for _, t := range group {
			if _, hit := matched[t]; !hit {
				ok = false
				break
			}
		}
		if ok {
			return group
		}
	}
	return nil
}

// FilesByKeywords returns documents containing all required terms, ranked
// by match count. Terms normalize through the dictionary first.
func (s *Service) FilesByKeywords(ctx context.Context, terms []string) ([]store.FileMatch, error) {
	normalized := make([]string, 0, len(terms))
	for _, t := range terms {
		normalized = append(normalized, s.norm.Normalize(t))
	}
	return s.st.FilesByKeywords(ctx, dedupe(normalized))
}

// ListDocuments proxies the filtered listing.
func (s *Service) ListDocuments(ctx context.Context, f store.DocumentFilter) ([]*store.Document, error) {
	return s.st.ListDocuments(ctx, f)
}

// CaseByLabel returns the aggregated case view.
func (s *Service) CaseByLabel(ctx context.Context, label string) (*store.CaseDetail, error) {
	return s.st.CaseDetailByLabel(ctx, label)
}

// ListPending proxies the review-queue listing.
func (s *Service) ListPending(ctx context.Context, f store.PendingFilter) ([]*store.PendingAssignment, error) {
	return s.st.ListPending(ctx, f)
}

// Stats returns the corpus snapshot, served from cache when fresh.
func (s *Service) Stats(ctx context.Context) (*store.Stats, error) {
	if cached, ok := s.cache.Get(statsCacheKey); ok {
		return cached.(*store.Stats), nil
	}
	return s.RecomputeStats(ctx)
}

// RecomputeStats rebuilds the snapshot from the durable tables and refreshes
// the cache.
func (s *Service) RecomputeStats(ctx context.Context) (*store.Stats, error) {
	stats, err := s.st.ComputeStats(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.Set(statsCacheKey, stats, statsCacheTTL)
	return stats, nil
}

func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}

func contains(items []string, target string) bool {
	for _, it := range items {
		if it == target {
			return true
		}
	}
	return false
}
