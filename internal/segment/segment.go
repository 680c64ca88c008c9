// Package segment splits document text into ordered, comparable units.
package segment

import (
	"regexp"
	"strings"

	"github.com/lherron/redline/internal/domain"
)

// Granularity selects the structural boundary used for splitting
type Granularity string

const (
	Paragraph Granularity = "paragraph"
	Sentence  Granularity = "sentence"
	Line      Granularity = "line"
)

var (
	blankLine = regexp.MustCompile(`\n[ \t\f\v]*\n\s*`)
	// terminal punctuation, optional closing quotes/brackets, then whitespace
	sentenceEnd = regexp.MustCompile(`[.!?;…]+["'”’)\]]*\s+`)
)

// ParseGranularity accepts the canonical names plus the compare-mode
// aliases "line-by-line" and "semantic".
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "paragraph", "semantic":
		return Paragraph, nil
	case "sentence":
		return Sentence, nil
	case "line", "line-by-line":
		return Line, nil
	default:
		return "", domain.Invalid("unknown granularity %q: must be one of: paragraph, sentence, line", s)
	}
}

// Joiner returns the separator used to reassemble segments of this granularity
func (g Granularity) Joiner() string {
	switch g {
	case Sentence:
		return " "
	case Line:
		return "\n"
	default:
		return "\n\n"
	}
}

// Segment is one unit of a document version. Index is the zero-based
// emission order; Normalized is the whitespace-collapsed comparison key.
type Segment struct {
	Index      int    `json:"index"`
	Text       string `json:"text"`
	Normalized string `json:"normalized"`
}

// Normalize collapses every run of whitespace to a single space and trims
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Split segments text at the given granularity. Empty segments are
// dropped, so whitespace-only input yields an empty slice.
func Split(text string, g Granularity) []Segment {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var pieces []string
	switch g {
	case Line:
		pieces = strings.Split(text, "\n")
	case Sentence:
		for _, para := range blankLine.Split(text, -1) {
			pieces = append(pieces, splitSentences(para)...)
		}
	default:
		pieces = blankLine.Split(text, -1)
	}

	segments := make([]Segment, 0, len(pieces))
	for _, p := range pieces {
		raw := strings.TrimSpace(p)
		norm := Normalize(raw)
		if norm == "" {
			continue
		}
		segments = append(segments, Segment{
			Index:      len(segments),
			Text:       raw,
			Normalized: norm,
		})
	}
	return segments
}

func splitSentences(para string) []string {
	var out []string
	start := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(para, -1) {
		end := loc[1]
		out = append(out, para[start:end])
		start = end
	}
	if start < len(para) {
		out = append(out, para[start:])
	}
	return out
}

// Join concatenates texts with the granularity's joiner
func Join(texts []string, g Granularity) string {
	return strings.Join(texts, g.Joiner())
}
