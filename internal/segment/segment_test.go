package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/redline/internal/domain"
)

func TestSplit_Paragraphs(t *testing.T) {
	text := "1. Parties\n\nThe Supplier   and the Buyer.\n\n\n\n2. Payment\nPayment due in 90 days.\n"

	segs := Split(text, Paragraph)
	require.Len(t, segs, 3)

	assert.Equal(t, 0, segs[0].Index)
	assert.Equal(t, "1. Parties", segs[0].Text)
	assert.Equal(t, "The Supplier   and the Buyer.", segs[1].Text)
	assert.Equal(t, "The Supplier and the Buyer.", segs[1].Normalized)
	assert.Equal(t, "2. Payment\nPayment due in 90 days.", segs[2].Text)
	assert.Equal(t, "2. Payment Payment due in 90 days.", segs[2].Normalized)
	assert.Equal(t, 2, segs[2].Index)
}

func TestSplit_BlankLinesWithSpaces(t *testing.T) {
	segs := Split("alpha\n   \nbeta\r\n\r\ngamma", Paragraph)
	require.Len(t, segs, 3)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, texts(segs))
}

func TestSplit_Sentences(t *testing.T) {
	text := "Payment due in 90 days. Late fees apply! Is interest 1.5% monthly? Yes; always.\n\nNew clause"

	segs := Split(text, Sentence)
	assert.Equal(t, []string{
		"Payment due in 90 days.",
		"Late fees apply!",
		"Is interest 1.5% monthly?",
		"Yes;",
		"always.",
		"New clause",
	}, texts(segs))
	for i, s := range segs {
		assert.Equal(t, i, s.Index)
	}
}

func TestSplit_Lines(t *testing.T) {
	segs := Split("one\n\n  two  \nthree", Line)
	assert.Equal(t, []string{"one", "two", "three"}, texts(segs))
}

func TestSplit_Degenerate(t *testing.T) {
	for _, g := range []Granularity{Paragraph, Sentence, Line} {
		assert.Empty(t, Split("", g), string(g))
		assert.Empty(t, Split(" \n\t\n\n  ", g), string(g))
	}
}

func TestSplit_Deterministic(t *testing.T) {
	text := "A clause. Another one.\n\nSecond paragraph."
	assert.Equal(t, Split(text, Sentence), Split(text, Sentence))
	for _, s := range Split(text, Sentence) {
		assert.NotEmpty(t, s.Normalized)
	}
}

func TestParseGranularity(t *testing.T) {
	tests := []struct {
		in   string
		want Granularity
	}{
		{"", Paragraph},
		{"paragraph", Paragraph},
		{"semantic", Paragraph},
		{"Sentence", Sentence},
		{"line", Line},
		{"line-by-line", Line},
	}
	for _, tt := range tests {
		got, err := ParseGranularity(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseGranularity("word")
	assert.Equal(t, domain.CodeInvalidInput, domain.CodeOf(err))
}

func TestJoin(t *testing.T) {
	parts := []string{"a", "b"}
	assert.Equal(t, "a\n\nb", Join(parts, Paragraph))
	assert.Equal(t, "a b", Join(parts, Sentence))
	assert.Equal(t, "a\nb", Join(parts, Line))
}

func texts(segs []Segment) []string {
	out := make([]string, len(segs))
	for i, s := range segs {
		out[i] = s.Text
	}
	return out
}
