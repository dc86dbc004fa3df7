package store

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// HashContent computes SHA-256 of raw document bytes for deduplication.
// This is the canonical hash used throughout Caseline for idempotent import.
func HashContent(content []byte) string {
	h := sha256.Sum256(content)
	return fmt.Sprintf("%x", h)
}

// CaseSignature computes the deterministic signature over an unordered
// keyword-id set: ids are sorted ascending before hashing, so the same
// evidence set always yields the same case identity regardless of insertion
// order. Duplicated ids are collapsed.
func CaseSignature(keywordIDs []int64) (string, error) {
	if len(keywordIDs) == 0 {
		return "", &ValidationError{Field: "signature", Reason: "empty keyword-id set"}
	}

	seen := make(map[int64]struct{}, len(keywordIDs))
	ids := make([]int64, 0, len(keywordIDs))
	for _, id := range keywordIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(id, 10))
	}

	h := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", h[:16]), nil
}

// SubjectSignature derives a case signature from a known subject label, for
// cases identified by filename or metadata rather than keyword evidence. The
// namespace prefix keeps label-derived signatures from ever colliding with
// keyword-set signatures.
func SubjectSignature(label string) string {
	h := sha256.Sum256([]byte("subject:" + label))
	return fmt.Sprintf("%x", h[:16])
}

// ClusterLabel derives a human-readable label for a signature-identified case.
func ClusterLabel(signature string) string {
	if len(signature) > 12 {
		signature = signature[:12]
	}
	return "CLUSTER-" + strings.ToUpper(signature)
}
