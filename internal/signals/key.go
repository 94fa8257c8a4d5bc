package signals

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const keySeparator = "|"

// DedupKey is the normalised identity of a real world event. Two candidates
// with equal keys describe the same job or hire.
type DedupKey string

// NewJobKey builds the key for a job posting.
func NewJobKey(title, company, location string) DedupKey {
	return buildKey(DetectionJob, title, company, location)
}

// NewHireKey builds the key for a hire announcement.
func NewHireKey(person, company, position string) DedupKey {
	return buildKey(DetectionHire, person, company, position)
}

func buildKey(kind DetectionType, parts ...string) DedupKey {
	normalized := make([]string, 0, len(parts)+1)
	normalized = append(normalized, string(kind))
	for _, p := range parts {
		normalized = append(normalized, NormalizeKeyPart(p))
	}
	return DedupKey(strings.Join(normalized, keySeparator))
}

// NormalizeKeyPart folds case, applies NFKC and collapses whitespace.
func NormalizeKeyPart(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	s = strings.ReplaceAll(s, keySeparator, " ")
	return strings.Join(strings.Fields(s), " ")
}

// Type returns the detection type encoded in the key.
func (k DedupKey) Type() DetectionType {
	kind, _, _ := strings.Cut(string(k), keySeparator)
	return DetectionType(kind)
}

// Digest returns a fixed width hex sha256 of the key.
func (k DedupKey) Digest() string {
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:])
}

func (k DedupKey) String() string {
	return string(k)
}
