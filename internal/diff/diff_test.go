package diff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/redline/internal/domain"
	"github.com/lherron/redline/internal/segment"
)

func compareParagraphs(t *testing.T, original, modified string) []Change {
	t.Helper()
	res, err := CompareText(original, modified, segment.Paragraph, DefaultOptions(), nil)
	require.NoError(t, err)
	return res.Changes
}

func kinds(changes []Change) []Kind {
	out := make([]Kind, len(changes))
	for i, c := range changes {
		out[i] = c.Kind
	}
	return out
}

func TestCompare_SingleClauseEdit(t *testing.T) {
	changes := compareParagraphs(t, "Payment due in 90 days.", "Payment due in 30 days.")
	require.Len(t, changes, 1)

	c := changes[0]
	assert.Contains(t, []Kind{KindModified, KindReworded}, c.Kind)
	assert.Less(t, c.Similarity, 1.0)
	require.NotNil(t, c.OriginalText)
	require.NotNil(t, c.NewText)
	assert.Equal(t, "Payment due in 90 days.", *c.OriginalText)
	assert.Equal(t, "Payment due in 30 days.", *c.NewText)
	assert.Equal(t, 0, *c.OriginalIndex)
	assert.Equal(t, 0, *c.ModifiedIndex)
	assert.Equal(t, "chg-001", c.ID)

	assert.Contains(t, c.Fragments, Fragment{Op: "replace", Text: "90", Replacement: "30"})
}

func TestCompare_IdenticalDocuments(t *testing.T) {
	doc := "1. Parties\n\n2. Payment due in 90 days.\n\n3. Termination on notice."
	res, err := CompareText(doc, doc, segment.Paragraph, DefaultOptions(), nil)
	require.NoError(t, err)

	require.Len(t, res.Changes, 3)
	for _, c := range res.Changes {
		assert.Equal(t, KindUnchanged, c.Kind)
		assert.Equal(t, 1.0, c.Similarity)
	}
	assert.Equal(t, 0, res.Summary.TotalChanges)
	assert.Equal(t, 1.0, res.Summary.SimilarityScore)
}

func TestCompare_EmptySides(t *testing.T) {
	added := compareParagraphs(t, "", "one\n\ntwo")
	assert.Equal(t, []Kind{KindAdded, KindAdded}, kinds(added))
	assert.Equal(t, "before segment 1", added[0].Location)
	assert.Nil(t, added[0].OriginalText)

	deleted := compareParagraphs(t, "one\n\ntwo", "  ")
	assert.Equal(t, []Kind{KindDeleted, KindDeleted}, kinds(deleted))
	assert.Nil(t, deleted[1].NewText)

	res, err := CompareText("", "", segment.Paragraph, DefaultOptions(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Changes)
	assert.Equal(t, 1.0, res.Summary.SimilarityScore)
}

func TestCompare_AddedAfterNearestAnchor(t *testing.T) {
	original := "Scope of services.\n\nGoverning law is Delaware."
	modified := "Scope of services.\n\nXYZ 123 !!!\n\nGoverning law is Delaware."

	changes := compareParagraphs(t, original, modified)
	require.Equal(t, []Kind{KindUnchanged, KindAdded, KindUnchanged}, kinds(changes))
	assert.Equal(t, "after segment 1", changes[1].Location)
	assert.Equal(t, 1, *changes[1].ModifiedIndex)
}

func TestCompare_Moved(t *testing.T) {
	original := "Alpha clause text.\n\nBeta clause text.\n\nConfidentiality survives termination."
	modified := "Confidentiality survives termination.\n\nAlpha clause text.\n\nBeta clause text."

	res, err := CompareText(original, modified, segment.Paragraph, DefaultOptions(), nil)
	require.NoError(t, err)
	require.Equal(t, []Kind{KindUnchanged, KindUnchanged, KindMoved}, kinds(res.Changes))

	moved := res.Changes[2]
	assert.Equal(t, 2, *moved.OriginalIndex)
	assert.Equal(t, 0, *moved.ModifiedIndex)
	assert.Equal(t, 1.0, moved.Similarity)
	assert.Equal(t, 1, res.Summary.TotalChanges)
	assert.Equal(t, 1, res.Summary.MinorChanges)
	assert.Equal(t, 1.0, res.Summary.SimilarityScore)
}

func TestCompare_ClassificationThresholds(t *testing.T) {
	tests := []struct {
		name      string
		original  string
		modified  string
		wantKind  Kind
		wantShift bool
	}{
		{name: "semantic shift", original: "aaaa", modified: "aabb", wantKind: KindModified, wantShift: true},
		{name: "modified", original: "abcdefghij", modified: "abcdefghxy", wantKind: KindModified},
		{name: "case only", original: "Net Thirty", modified: "net thirty", wantKind: KindReworded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changes := compareParagraphs(t, tt.original, tt.modified)
			require.Len(t, changes, 1)
			assert.Equal(t, tt.wantKind, changes[0].Kind)
			assert.Equal(t, tt.wantShift, changes[0].SemanticShift)
		})
	}
}

func TestCompare_EverySegmentAppearsOnce(t *testing.T) {
	original := "a one\n\nb two\n\nc three\n\nd four"
	modified := "d four\n\nb twos\n\nnew thing entirely\n\na one"

	orig := segment.Split(original, segment.Paragraph)
	mod := segment.Split(modified, segment.Paragraph)
	changes := Compare(orig, mod, DefaultOptions())

	seenOrig := map[int]int{}
	seenMod := map[int]int{}
	for _, c := range changes {
		if c.OriginalIndex != nil {
			seenOrig[*c.OriginalIndex]++
		}
		if c.ModifiedIndex != nil {
			seenMod[*c.ModifiedIndex]++
		}
	}
	for i := range orig {
		assert.Equal(t, 1, seenOrig[i], "original %d", i)
	}
	for j := range mod {
		assert.Equal(t, 1, seenMod[j], "modified %d", j)
	}
}

func TestCompare_Deterministic(t *testing.T) {
	original := "x1 clause\n\nx2 clause\n\nx3 clause"
	modified := "x2 clause\n\nx1 clause changed\n\nx4"
	first := compareParagraphs(t, original, modified)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, compareParagraphs(t, original, modified))
	}
}

func TestCompareText_InvalidOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.MatchFloor = 0.95
	_, err := CompareText("a", "b", segment.Paragraph, opts, nil)
	assert.Equal(t, domain.CodeInvalidInput, domain.CodeOf(err))
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("Same  text", "same text"))
	assert.Equal(t, 0.0, Similarity("", "text"))
	assert.Equal(t, 0.5, Similarity("aaaa", "aabb"))

	pairs := [][2]string{
		{"The Supplier shall deliver", "Supplier delivers the goods"},
		{"abcabc", "cbacba"},
		{"payment within 30 days", "30 days payment within"},
	}
	for _, p := range pairs {
		ab, ba := Similarity(p[0], p[1]), Similarity(p[1], p[0])
		assert.Equal(t, ab, ba, "%q vs %q", p[0], p[1])
		assert.GreaterOrEqual(t, ab, 0.0)
		assert.LessOrEqual(t, ab, 1.0)
	}
}

func TestAnchors(t *testing.T) {
	a := []string{"a", "b", "c", "d"}
	b := []string{"b", "x", "d"}
	got := Anchors(len(a), len(b), func(i, j int) bool { return a[i] == b[j] })
	assert.Equal(t, [][2]int{{1, 0}, {3, 2}}, got)
	assert.Nil(t, Anchors(0, 3, nil))
}

func TestPair(t *testing.T) {
	scores := map[[2]int]float64{
		{0, 1}: 0.9,
		{1, 0}: 0.8,
		{0, 0}: 0.5,
		{1, 1}: 0.5,
	}
	score := func(i, j int) (float64, bool) { return scores[[2]int{i, j}], true }

	free := Pair([]int{0, 1}, []int{0, 1}, score, 0.3, false)
	assert.Equal(t, []Match{{I: 0, J: 1, Similarity: 0.9}, {I: 1, J: 0, Similarity: 0.8}}, free)

	monotone := Pair([]int{0, 1}, []int{0, 1}, score, 0.3, true)
	assert.Equal(t, []Match{{I: 0, J: 1, Similarity: 0.9}}, monotone)

	assert.Empty(t, Pair([]int{0, 1}, []int{0, 1}, score, 0.95, false))
}

func TestSummarize(t *testing.T) {
	one := 0
	changes := []Change{
		{Kind: KindUnchanged, Similarity: 1, OriginalIndex: &one, ModifiedIndex: &one},
		{Kind: KindModified, SemanticShift: true, Similarity: 0.5, OriginalIndex: &one, ModifiedIndex: &one},
		{Kind: KindModified, Similarity: 0.8, OriginalIndex: &one, ModifiedIndex: &one},
		{Kind: KindAdded, ModifiedIndex: &one},
		{Kind: KindReworded, Similarity: 0.95, OriginalIndex: &one, ModifiedIndex: &one},
	}
	s := Summarize(changes, KindClassifier{})
	assert.Equal(t, 4, s.TotalChanges)
	assert.Equal(t, 1, s.CriticalChanges)
	assert.Equal(t, 2, s.MajorChanges)
	assert.Equal(t, 1, s.MinorChanges)
	// 2*(1+0.5+0.8+0.95) / (4+5)
	assert.Equal(t, 0.722, s.SimilarityScore)

	custom := Summarize(changes, ClassifierFunc(func(Change) Severity { return SeverityCritical }))
	assert.Equal(t, 4, custom.CriticalChanges)
}

func TestUnified(t *testing.T) {
	out, err := Unified("a\nb\n", "a\nc\n", "v1", "v2", 3)
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, "-b"))
	assert.True(t, strings.Contains(out, "+c"))
	assert.True(t, strings.HasPrefix(out, "--- v1"))
}
