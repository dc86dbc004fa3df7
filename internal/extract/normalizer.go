package extract

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Dictionary is the terminology dictionary backing the normalizer: canonical
// synonym groups (lung → pulmonary), abbreviation expansions (ct → computed
// tomography), known multi-word terms, and domain stop words.
type Dictionary struct {
	Synonyms      map[string][]string `yaml:"synonyms"`
	Abbreviations map[string]string   `yaml:"abbreviations"`
	MultiWord     []string            `yaml:"multi_word_terms"`
	StopWords     []string            `yaml:"stop_words"`
}

// LoadDictionary reads a YAML terminology dictionary. A missing path returns
// an empty dictionary — running without one is valid, just less precise.
func LoadDictionary(path string) (Dictionary, error) {
	if path == "" {
		return Dictionary{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Dictionary{}, nil
		}
		return Dictionary{}, fmt.Errorf("reading dictionary %s: %w", path, err)
	}

	var d Dictionary
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Dictionary{}, fmt.Errorf("parsing dictionary %s: %w", path, err)
	}
	return d, nil
}

// Normalizer maps terms to canonical forms and detects dictionary phrases.
type Normalizer struct {
	synonymMap    map[string]string
	abbreviations map[string]string
	multiWord     []string // sorted longest first for greedy matching
	multiWordSet  map[string]struct{}
	stopWords     map[string]struct{}
}

// NewNormalizer builds the reverse lookup maps from a dictionary.
func NewNormalizer(d Dictionary) *Normalizer {
	n := &Normalizer{
		synonymMap:    make(map[string]string),
		abbreviations: make(map[string]string),
		multiWordSet:  make(map[string]struct{}),
		stopWords:     make(map[string]struct{}),
	}

	for canonical, synonyms := range d.Synonyms {
		canon := strings.ToLower(canonical)
		n.synonymMap[canon] = canon
		for _, syn := range synonyms {
			n.synonymMap[strings.ToLower(syn)] = canon
		}
	}
	for abbr, full := range d.Abbreviations {
		n.abbreviations[strings.ToLower(abbr)] = strings.ToLower(full)
	}
	for _, term := range d.MultiWord {
		t := strings.ToLower(term)
		n.multiWord = append(n.multiWord, t)
		n.multiWordSet[t] = struct{}{}
	}
	sort.Slice(n.multiWord, func(i, j int) bool { return len(n.multiWord[i]) > len(n.multiWord[j]) })
	for _, w := range d.StopWords {
		n.stopWords[strings.ToLower(w)] = struct{}{}
	}
	return n
}

// Normalize maps a term to its canonical form: abbreviations expand first,
// then synonym groups collapse to their canonical member.
func (n *Normalizer) Normalize(term string) string {
	t := strings.ToLower(strings.TrimSpace(term))
	if full, ok := n.abbreviations[t]; ok {
		t = full
	}
	if canon, ok := n.synonymMap[t]; ok {
		return canon
	}
	return t
}

// IsStopWord reports whether the word is filtered from extraction.
func (n *Normalizer) IsStopWord(word string) bool {
	_, ok := n.stopWords[strings.ToLower(word)]
	return ok
}

// AllForms returns the canonical form plus every synonym, for search-query
// expansion. The input term itself is always included.
func (n *Normalizer) AllForms(term string) []string {
	canon := n.Normalize(term)
	forms := map[string]struct{}{canon: {}, strings.ToLower(strings.TrimSpace(term)): {}}
	for syn, c := range n.synonymMap {
		if c == canon {
			forms[syn] = struct{}{}
		}
	}
	out := make([]string, 0, len(forms))
	for f := range forms {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// MultiWordSpan is one detected dictionary phrase in a text.
type MultiWordSpan struct {
	Term  string
	Start int
	End   int
}

// DetectMultiWordTerms finds dictionary phrases on word boundaries, longest
// terms first so "ground glass opacity" wins over "ground glass".
func (n *Normalizer) DetectMultiWordTerms(text string) []MultiWordSpan {
	lower := strings.ToLower(text)
	var spans []MultiWordSpan
	claimed := make([]bool, len(lower))

	for _, term := range n.multiWord {
		start := 0
		for {
			pos := strings.Index(lower[start:], term)
			if pos < 0 {
				break
			}
			pos += start
			end := pos + len(term)

			beforeOK := pos == 0 || !isAlnum(lower[pos-1])
			afterOK := end == len(lower) || !isAlnum(lower[end])
			if beforeOK && afterOK && !rangeClaimed(claimed, pos, end) {
				spans = append(spans, MultiWordSpan{Term: term, Start: pos, End: end})
				for i := pos; i < end; i++ {
					claimed[i] = true
				}
			}
			start = pos + 1
		}
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })
	return spans
}

func rangeClaimed(claimed []bool, start, end int) bool {
	for i := start; i < end; i++ {
		if claimed[i] {
			return true
		}
	}
	return false
}

func isAlnum(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b >= 'A' && b <= 'Z'
}
