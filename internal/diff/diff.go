// Package diff aligns two segment sequences and classifies every segment
// as added, deleted, modified, reworded, moved or unchanged.
package diff

import (
	"fmt"

	"github.com/lherron/redline/internal/domain"
	"github.com/lherron/redline/internal/segment"
)

// Kind classifies one aligned or unaligned segment
type Kind string

const (
	KindAdded     Kind = "ADDED"
	KindDeleted   Kind = "DELETED"
	KindModified  Kind = "MODIFIED"
	KindReworded  Kind = "REWORDED"
	KindMoved     Kind = "MOVED"
	KindUnchanged Kind = "UNCHANGED"
)

// Options holds the similarity thresholds used for pairing and classification
type Options struct {
	RewordThreshold        float64 `json:"reword_threshold" yaml:"reword_threshold"`
	SemanticShiftThreshold float64 `json:"semantic_shift_threshold" yaml:"semantic_shift_threshold"`
	MatchFloor             float64 `json:"match_floor" yaml:"match_floor"`
}

// DefaultOptions returns the standard thresholds
func DefaultOptions() Options {
	return Options{
		RewordThreshold:        0.9,
		SemanticShiftThreshold: 0.7,
		MatchFloor:             0.3,
	}
}

// Validate checks thresholds are in [0,1] and ordered floor <= shift <= reword
func (o Options) Validate() error {
	for name, v := range map[string]float64{
		"reword_threshold":         o.RewordThreshold,
		"semantic_shift_threshold": o.SemanticShiftThreshold,
		"match_floor":              o.MatchFloor,
	} {
		if v < 0 || v > 1 {
			return domain.Invalid("%s must be between 0 and 1, got %v", name, v)
		}
	}
	if o.MatchFloor > o.SemanticShiftThreshold || o.SemanticShiftThreshold > o.RewordThreshold {
		return domain.Invalid("thresholds must satisfy match_floor <= semantic_shift_threshold <= reword_threshold")
	}
	return nil
}

// Classify maps a paired similarity to a kind and semantic-shift flag
func (o Options) Classify(similarity float64) (Kind, bool) {
	switch {
	case similarity >= o.RewordThreshold:
		return KindReworded, false
	case similarity < o.SemanticShiftThreshold:
		return KindModified, true
	default:
		return KindModified, false
	}
}

// Change is the classification of one segment or segment pair
type Change struct {
	ID            string     `json:"id"`
	Kind          Kind       `json:"kind"`
	OriginalText  *string    `json:"original_text"`
	NewText       *string    `json:"new_text"`
	Similarity    float64    `json:"similarity"`
	SemanticShift bool       `json:"semantic_shift"`
	OriginalIndex *int       `json:"original_index"`
	ModifiedIndex *int       `json:"modified_index"`
	Location      string     `json:"location"`
	Fragments     []Fragment `json:"fragments,omitempty"`
}

type pairing struct {
	j          int
	similarity float64
	kind       Kind
	shift      bool
}

// Compare aligns original against modified. Every input segment appears
// in exactly one returned Change; output follows original order with
// added segments placed right after their nearest preceding anchor.
func Compare(original, modified []segment.Segment, opts Options) []Change {
	n, m := len(original), len(modified)

	paired := make(map[int]pairing, n)
	modUsed := make([]bool, m)

	anchors := Anchors(n, m, func(i, j int) bool {
		return original[i].Normalized == modified[j].Normalized
	})
	isAnchor := make(map[int]int, len(anchors))
	for _, a := range anchors {
		paired[a[0]] = pairing{j: a[1], similarity: 1, kind: KindUnchanged}
		modUsed[a[1]] = true
		isAnchor[a[0]] = a[1]
	}

	// exact copies outside the anchor chain are moves
	byText := make(map[string][]int)
	for j := 0; j < m; j++ {
		if !modUsed[j] {
			byText[modified[j].Normalized] = append(byText[modified[j].Normalized], j)
		}
	}
	for i := 0; i < n; i++ {
		if _, ok := paired[i]; ok {
			continue
		}
		if js := byText[original[i].Normalized]; len(js) > 0 {
			paired[i] = pairing{j: js[0], similarity: 1, kind: KindMoved}
			modUsed[js[0]] = true
			byText[original[i].Normalized] = js[1:]
		}
	}

	// similarity pairing inside each gap between anchors
	prevI, prevJ := -1, -1
	bounds := append(append([][2]int{}, anchors...), [2]int{n, m})
	for _, b := range bounds {
		var left, right []int
		for i := prevI + 1; i < b[0]; i++ {
			if _, ok := paired[i]; !ok {
				left = append(left, i)
			}
		}
		for j := prevJ + 1; j < b[1]; j++ {
			if !modUsed[j] {
				right = append(right, j)
			}
		}
		score := func(i, j int) (float64, bool) {
			return SimilarityAtLeast(original[i].Text, modified[j].Text, opts.MatchFloor)
		}
		for _, mt := range Pair(left, right, score, opts.MatchFloor, false) {
			kind, shift := opts.Classify(mt.Similarity)
			paired[mt.I] = pairing{j: mt.J, similarity: mt.Similarity, kind: kind, shift: shift}
			modUsed[mt.J] = true
		}
		prevI, prevJ = b[0], b[1]
	}

	// unmatched modified segments hang off the nearest preceding anchor
	addedAfter := make(map[int][]int)
	ai := 0
	for j := 0; j < m; j++ {
		for ai < len(anchors) && anchors[ai][1] < j {
			ai++
		}
		if modUsed[j] {
			continue
		}
		key := -1
		if ai > 0 {
			key = anchors[ai-1][0]
		}
		addedAfter[key] = append(addedAfter[key], j)
	}

	changes := make([]Change, 0, n+m)
	emitAdded := func(key int) {
		for _, j := range addedAfter[key] {
			changes = append(changes, addedChange(modified[j], key))
		}
	}

	emitAdded(-1)
	for i := 0; i < n; i++ {
		p, ok := paired[i]
		if !ok {
			changes = append(changes, Change{
				Kind:          KindDeleted,
				OriginalText:  strPtr(original[i].Text),
				OriginalIndex: intPtr(i),
				Location:      fmt.Sprintf("segment %d", i+1),
			})
		} else {
			c := Change{
				Kind:          p.kind,
				OriginalText:  strPtr(original[i].Text),
				NewText:       strPtr(modified[p.j].Text),
				Similarity:    round3(p.similarity),
				SemanticShift: p.shift,
				OriginalIndex: intPtr(i),
				ModifiedIndex: intPtr(p.j),
				Location:      fmt.Sprintf("segment %d", i+1),
			}
			if p.kind == KindModified || p.kind == KindReworded {
				c.Fragments = Inline(original[i].Text, modified[p.j].Text)
			}
			changes = append(changes, c)
		}
		if _, ok := isAnchor[i]; ok {
			emitAdded(i)
		}
	}

	for k := range changes {
		changes[k].ID = fmt.Sprintf("chg-%03d", k+1)
	}
	return changes
}

func addedChange(s segment.Segment, anchor int) Change {
	loc := "before segment 1"
	if anchor >= 0 {
		loc = fmt.Sprintf("after segment %d", anchor+1)
	}
	return Change{
		Kind:          KindAdded,
		NewText:       strPtr(s.Text),
		ModifiedIndex: intPtr(s.Index),
		Location:      loc,
	}
}

// Result is the outcome of a text-level comparison
type Result struct {
	Mode    segment.Granularity `json:"mode"`
	Changes []Change            `json:"changes"`
	Summary Summary             `json:"summary"`
}

// CompareText segments both texts and compares them. A nil classifier
// falls back to KindClassifier.
func CompareText(original, modified string, g segment.Granularity, opts Options, classifier Classifier) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if classifier == nil {
		classifier = KindClassifier{}
	}
	changes := Compare(segment.Split(original, g), segment.Split(modified, g), opts)
	return &Result{
		Mode:    g,
		Changes: changes,
		Summary: Summarize(changes, classifier),
	}, nil
}

func strPtr(s string) *string { return &s }

func intPtr(i int) *int { return &i }
