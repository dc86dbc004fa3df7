package extract

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadDictionary(t *testing.T) {
	// Missing path is valid: extraction just runs without a dictionary.
	d, err := LoadDictionary(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing dictionary should not error: %v", err)
	}
	if len(d.Synonyms) != 0 {
		t.Error("missing dictionary should be empty")
	}

	if _, err := LoadDictionary(""); err != nil {
		t.Fatalf("empty path should not error: %v", err)
	}

	path := filepath.Join(t.TempDir(), "terms.yaml")
	content := `synonyms:
  pulmonary: [lung, lungs]
abbreviations:
  ct: computed tomography
multi_word_terms:
  - ground glass opacity
stop_words: [the, and]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing dictionary: %v", err)
	}

	d, err = LoadDictionary(path)
	if err != nil {
		t.Fatalf("LoadDictionary: %v", err)
	}
	if len(d.Synonyms["pulmonary"]) != 2 {
		t.Errorf("synonyms = %v, want two forms for pulmonary", d.Synonyms)
	}
	if d.Abbreviations["ct"] != "computed tomography" {
		t.Errorf("abbreviations = %v", d.Abbreviations)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte(":\n  - ["), 0644)
	if _, err := LoadDictionary(bad); err == nil {
		t.Error("malformed YAML should error")
	}
}

func TestNormalize(t *testing.T) {
	n := testNormalizer()
	tests := []struct {
		in, want string
	}{
		{"lung", "pulmonary"},
		{"Lung", "pulmonary"},
		{"pulmonary", "pulmonary"},
		{"ct", "computed tomography"},
		{"CT", "computed tomography"},
		{"nodule", "nodule"},
		{"  nodule  ", "nodule"},
	}
	for _, tt := range tests {
		if got := n.Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAllForms(t *testing.T) {
	n := testNormalizer()

	forms := n.AllForms("lung")
	want := []string{"lung", "pulmonary"}
	if !reflect.DeepEqual(forms, want) {
		t.Errorf("AllForms(lung) = %v, want %v", forms, want)
	}

	// Unknown terms expand to just themselves.
	forms = n.AllForms("nodule")
	if !reflect.DeepEqual(forms, []string{"nodule"}) {
		t.Errorf("AllForms(nodule) = %v", forms)
	}
}

func TestDetectMultiWordTerms(t *testing.T) {
	n := testNormalizer()

	spans := n.DetectMultiWordTerms("a ground glass opacity and ground glass texture")
	if len(spans) != 2 {
		t.Fatalf("span count = %d, want 2", len(spans))
	}
	// Longest term wins the first span; the shorter matches the later text.
	if spans[0].Term != "ground glass opacity" {
		t.Errorf("first span = %q, want the longer term", spans[0].Term)
	}
	if spans[1].Term != "ground glass" {
		t.Errorf("second span = %q, want ground glass", spans[1].Term)
	}

	// Word boundaries: no match inside a longer word.
	spans = n.DetectMultiWordTerms("underground glassware")
	if len(spans) != 0 {
		t.Errorf("expected no spans inside compound words, got %v", spans)
	}
}

func TestIsStopWord(t *testing.T) {
	n := testNormalizer()
	if !n.IsStopWord("the") || !n.IsStopWord("The") {
		t.Error("stop word check must be case-insensitive")
	}
	if n.IsStopWord("nodule") {
		t.Error("nodule is not a stop word")
	}
}
