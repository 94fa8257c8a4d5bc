package signals

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHireKeyNormalization(t *testing.T) {
	t.Parallel()

	a := NewHireKey("John Smith", "Acme", "CTO")
	b := NewHireKey("john smith", "ACME", "cto")
	require.Equal(t, a, b)
	require.Equal(t, a.Digest(), b.Digest())
	require.Equal(t, DetectionHire, a.Type())
}

func TestKeyCollapsesWhitespaceAndWidth(t *testing.T) {
	t.Parallel()

	a := NewJobKey("  Senior   Engineer ", "Acme\tCorp", "Remote")
	b := NewJobKey("senior engineer", "ACME CORP", "ｒｅｍｏｔｅ")
	require.Equal(t, a, b)
	require.Equal(t, DedupKey("job|senior engineer|acme corp|remote"), a)
}

func TestJobAndHireKeysNeverCollide(t *testing.T) {
	t.Parallel()

	require.NotEqual(t, NewJobKey("a", "b", "c"), NewHireKey("a", "b", "c"))
}

func TestSeparatorIsStrippedFromParts(t *testing.T) {
	t.Parallel()

	require.Equal(t, NewJobKey("a|b", "c", "d"), NewJobKey("a b", "c", "d"))
}

func TestCandidateKeyUsesTypeFields(t *testing.T) {
	t.Parallel()

	hire := Candidate{Type: DetectionHire, PersonName: "Jane Doe", Company: "Acme Corp", Position: "VP of Engineering"}
	require.Equal(t, NewHireKey("jane doe", "acme corp", "vp of engineering"), hire.Key())

	job := Candidate{Type: DetectionJob, Title: "Data Engineer", Company: "Acme Corp", Location: "Berlin"}
	require.Equal(t, NewJobKey("data engineer", "acme corp", "berlin"), job.Key())
}

func TestParseDetectionType(t *testing.T) {
	t.Parallel()

	got, err := ParseDetectionType(" Hire ")
	require.NoError(t, err)
	require.Equal(t, DetectionHire, got)

	_, err = ParseDetectionType("press")
	require.Error(t, err)
}

func TestSourceBaseConfidenceOrdering(t *testing.T) {
	t.Parallel()

	require.Greater(t, SourceSession.BaseConfidence(), SourceAPI.BaseConfidence())
	require.Greater(t, SourceAPI.BaseConfidence(), SourceSearch.BaseConfidence())
	require.Greater(t, SourceSearch.BaseConfidence(), SourceHeuristic.BaseConfidence())
}
