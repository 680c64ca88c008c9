package diff

import (
	"regexp"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// numbers stay whole so "90" -> "30" is one replacement
var tokenPattern = regexp.MustCompile(`\d+[.,]?\d*|\w+|[^\w\s]+|\s+`)

// Fragment is one run of a word-level inline diff. Replacement is set
// only for replace runs.
type Fragment struct {
	Op          string `json:"op"`
	Text        string `json:"text"`
	Replacement string `json:"replacement,omitempty"`
}

// Inline returns the word-level edit runs turning a into b
func Inline(a, b string) []Fragment {
	ta := tokenPattern.FindAllString(a, -1)
	tb := tokenPattern.FindAllString(b, -1)
	m := difflib.NewMatcherWithJunk(ta, tb, false, nil)

	var out []Fragment
	for _, op := range m.GetOpCodes() {
		left := strings.Join(ta[op.I1:op.I2], "")
		right := strings.Join(tb[op.J1:op.J2], "")
		switch op.Tag {
		case 'e':
			out = append(out, Fragment{Op: "equal", Text: left})
		case 'd':
			out = append(out, Fragment{Op: "delete", Text: left})
		case 'i':
			out = append(out, Fragment{Op: "insert", Text: right})
		case 'r':
			out = append(out, Fragment{Op: "replace", Text: left, Replacement: right})
		}
	}
	return out
}

// Unified renders a classic unified diff of two texts
func Unified(a, b, fromName, toName string, context int) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: fromName,
		ToFile:   toName,
		Context:  context,
	})
}
