package diff

import (
	"math"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/lherron/redline/internal/segment"
)

// Similarity returns a symmetric character-level ratio in [0,1] between
// two texts, compared case-insensitively after whitespace normalization.
func Similarity(a, b string) float64 {
	s, _ := SimilarityAtLeast(a, b, 0)
	return s
}

// SimilarityAtLeast computes the similarity ratio, returning ok=false without
// the full computation when the cheap upper bounds already fall below floor.
func SimilarityAtLeast(a, b string, floor float64) (float64, bool) {
	a = strings.ToLower(segment.Normalize(a))
	b = strings.ToLower(segment.Normalize(b))
	if a == b {
		return 1, true
	}
	if a == "" || b == "" {
		return 0, floor <= 0
	}
	// SequenceMatcher is not symmetric in general; fix the argument order.
	if b < a {
		a, b = b, a
	}
	m := difflib.NewMatcherWithJunk(strings.Split(a, ""), strings.Split(b, ""), false, nil)
	if m.RealQuickRatio() < floor || m.QuickRatio() < floor {
		return 0, false
	}
	r := m.Ratio()
	return r, r >= floor
}

// Anchors returns index pairs of a longest common subsequence of two
// sequences of lengths n and m under eq, in increasing order of both indices.
func Anchors(n, m int, eq func(i, j int) bool) [][2]int {
	if n == 0 || m == 0 {
		return nil
	}
	match := make([][]bool, n)
	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		match[i] = make([]bool, m)
		for j := m - 1; j >= 0; j-- {
			switch {
			case eq(i, j):
				match[i][j] = true
				dp[i][j] = dp[i+1][j+1] + 1
			case dp[i+1][j] >= dp[i][j+1]:
				dp[i][j] = dp[i+1][j]
			default:
				dp[i][j] = dp[i][j+1]
			}
		}
	}

	var out [][2]int
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case match[i][j]:
			out = append(out, [2]int{i, j})
			i++
			j++
		case dp[i+1][j] >= dp[i][j+1]:
			i++
		default:
			j++
		}
	}
	return out
}

// Match is one accepted pairing between a left and a right element.
type Match struct {
	I          int
	J          int
	Similarity float64
}

// Pair greedily matches left indices to right indices by highest score at
// or above floor. Ties go to the lower left index, then the lower right
// index. With monotone set, a candidate that would cross an accepted match
// is rejected.
func Pair(left, right []int, score func(i, j int) (float64, bool), floor float64, monotone bool) []Match {
	if len(left) == 0 || len(right) == 0 {
		return nil
	}

	var candidates []Match
	for _, i := range left {
		for _, j := range right {
			s, ok := score(i, j)
			if !ok || s < floor {
				continue
			}
			candidates = append(candidates, Match{I: i, J: j, Similarity: s})
		}
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		ca, cb := candidates[a], candidates[b]
		if ca.Similarity != cb.Similarity {
			return ca.Similarity > cb.Similarity
		}
		if ca.I != cb.I {
			return ca.I < cb.I
		}
		return ca.J < cb.J
	})

	usedL := make(map[int]bool)
	usedR := make(map[int]bool)
	var accepted []Match
	for _, c := range candidates {
		if usedL[c.I] || usedR[c.J] {
			continue
		}
		if monotone && crosses(c, accepted) {
			continue
		}
		usedL[c.I] = true
		usedR[c.J] = true
		accepted = append(accepted, c)
	}
	sort.Slice(accepted, func(a, b int) bool { return accepted[a].I < accepted[b].I })
	return accepted
}

func crosses(c Match, accepted []Match) bool {
	for _, a := range accepted {
		if (c.I < a.I && c.J > a.J) || (c.I > a.I && c.J < a.J) {
			return true
		}
	}
	return false
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
