package search

import "strings"

// Query is a parsed boolean keyword expression in disjunctive normal form:
// the outer slice is OR'd together, each inner group is AND'd. "nodule AND
// malignancy OR mass" parses to [[nodule malignancy] [mass]].
type Query struct {
	Groups [][]string
}

// ParseQuery splits a raw expression on OR and AND connectives
// (case-insensitive). Terms keep their literal form; normalization and
// synonym expansion happen at search time.
func ParseQuery(raw string) Query {
	var q Query
	for _, disjunct := range splitConnective(raw, "or") {
		var group []string
		for _, term := range splitConnective(disjunct, "and") {
			if t := strings.TrimSpace(term); t != "" {
				group = append(group, strings.ToLower(t))
			}
		}
		if len(group) > 0 {
			q.Groups = append(q.Groups, group)
		}
	}
	return q
}

// Empty reports whether the query carries no usable terms.
func (q Query) Empty() bool {
	return len(q.Groups) == 0
}

// Terms returns every distinct term across all groups.
func (q Query) Terms() []string {
	seen := make(map[string]struct{})
	var terms []string
	for _, group := range q.Groups {
		for _, t := range group {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			terms = append(terms, t)
		}
	}
	return terms
}

// splitConnective splits on a word-level boolean connective, so a term like
// "android" never splits on the "and" inside it.
func splitConnective(s, connective string) []string {
	words := strings.Fields(s)
	var parts []string
	var current []string
	for _, w := range words {
		if strings.EqualFold(w, connective) {
			if len(current) > 0 {
				parts = append(parts, strings.Join(current, " "))
				current = nil
			}
			continue
		}
		current = append(current, w)
	}
	if len(current) > 0 {
		parts = append(parts, strings.Join(current, " "))
	}
	return parts
}
