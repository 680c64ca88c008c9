package merge

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/lherron/redline/internal/diff"
	"github.com/lherron/redline/internal/domain"
	"github.com/lherron/redline/internal/segment"
)

// MergeUnit is one position of the merged output. Segments maps a source
// id to its segment at this position; a missing key means the version
// lacks the unit.
type MergeUnit struct {
	Ordinal   int                         `json:"ordinal"`
	Segments  map[string]*segment.Segment `json:"segments"`
	InBase    bool                        `json:"in_base"`
	BaseIndex int                         `json:"base_index"`
	Agreement bool                        `json:"agreement"`
}

// Alignment is the common axis built across all versions
type Alignment struct {
	Versions    []Version
	Base        int
	Granularity segment.Granularity
	Segments    [][]segment.Segment
	Units       []MergeUnit
}

type axisUnit struct {
	members map[int]int // version -> segment index
	texts   []string    // distinct normalized texts
	baseIdx int
}

func (u *axisUnit) has(text string) bool {
	for _, t := range u.texts {
		if t == text {
			return true
		}
	}
	return false
}

func (u *axisUnit) add(version, seg int, text string) {
	u.members[version] = seg
	if !u.has(text) {
		u.texts = append(u.texts, text)
	}
}

// Align segments every version and folds them, in submission order, onto
// the base version's axis.
func Align(ctx context.Context, in Input) (*Alignment, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	total := len(in.Versions)

	segs := make([][]segment.Segment, total)
	g, gctx := errgroup.WithContext(ctx)
	for i, v := range in.Versions {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			segs[i] = segment.Split(v.Text, in.Granularity)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	in.report("segment", total, total)

	base := in.baseIndex()
	axis := make([]*axisUnit, 0, len(segs[base]))
	for k, s := range segs[base] {
		axis = append(axis, &axisUnit{
			members: map[int]int{base: k},
			texts:   []string{s.Normalized},
			baseIdx: k,
		})
	}
	done := 1
	in.report("align", done, total)

	for v := range in.Versions {
		if v == base {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		axis = alignVersion(axis, v, segs[v], in.Options)
		done++
		in.report("align", done, total)
	}

	if err := verifyAxis(axis, segs, in.Versions); err != nil {
		return nil, err
	}

	al := &Alignment{
		Versions:    in.Versions,
		Base:        base,
		Granularity: in.Granularity,
		Segments:    segs,
		Units:       make([]MergeUnit, len(axis)),
	}
	for k, u := range axis {
		mu := MergeUnit{
			Ordinal:   k,
			Segments:  make(map[string]*segment.Segment, len(u.members)),
			InBase:    u.baseIdx >= 0,
			BaseIndex: u.baseIdx,
			Agreement: len(u.members) == total && len(u.texts) == 1,
		}
		for v, j := range u.members {
			mu.Segments[in.Versions[v].SourceID] = &segs[v][j]
		}
		al.Units[k] = mu
	}
	return al, nil
}

// alignVersion matches one version's segments against the axis and
// returns the axis with the version's unmatched segments inserted.
func alignVersion(axis []*axisUnit, v int, segs []segment.Segment, opts diff.Options) []*axisUnit {
	u, s := len(axis), len(segs)

	anchors := diff.Anchors(u, s, func(i, j int) bool {
		return axis[i].has(segs[j].Normalized)
	})

	unitToSeg := make(map[int]int, s)
	segMatched := make([]bool, s)
	for _, a := range anchors {
		unitToSeg[a[0]] = a[1]
		segMatched[a[1]] = true
	}

	prevU, prevS := -1, -1
	bounds := append(append([][2]int{}, anchors...), [2]int{u, s})
	for _, b := range bounds {
		var left, right []int
		for i := prevU + 1; i < b[0]; i++ {
			left = append(left, i)
		}
		for j := prevS + 1; j < b[1]; j++ {
			right = append(right, j)
		}
		score := func(i, j int) (float64, bool) {
			best, ok := 0.0, false
			for _, t := range axis[i].texts {
				if sc, hit := diff.SimilarityAtLeast(t, segs[j].Normalized, opts.MatchFloor); hit && sc > best {
					best, ok = sc, true
				}
			}
			return best, ok
		}
		accepted := diff.Pair(left, right, score, opts.MatchFloor, true)
		for _, m := range accepted {
			unitToSeg[m.I] = m.J
			segMatched[m.J] = true
		}

		// equal leftovers of base units are treated as in-place replacements;
		// inserts from earlier versions keep their own units
		var restL, restR []int
		for _, i := range left {
			if _, ok := unitToSeg[i]; !ok && axis[i].baseIdx >= 0 {
				restL = append(restL, i)
			}
		}
		for _, j := range right {
			if !segMatched[j] {
				restR = append(restR, j)
			}
		}
		if len(restL) > 0 && len(restL) == len(restR) && zipMonotone(restL, restR, accepted) {
			for k := range restL {
				unitToSeg[restL[k]] = restR[k]
				segMatched[restR[k]] = true
			}
		}
		prevU, prevS = b[0], b[1]
	}

	type pair struct{ unit, seg int }
	matched := make([]pair, 0, len(unitToSeg))
	for ui, sj := range unitToSeg {
		matched = append(matched, pair{ui, sj})
	}
	sort.Slice(matched, func(a, b int) bool { return matched[a].unit < matched[b].unit })

	// group unmatched segments by their nearest shared predecessor unit
	groups := make(map[int][]int)
	next := make(map[int]int)
	mi := 0
	for j := 0; j < s; j++ {
		for mi < len(matched) && matched[mi].seg < j {
			mi++
		}
		if segMatched[j] {
			continue
		}
		pred := -1
		if mi > 0 {
			pred = matched[mi-1].unit
		}
		nxt := u
		if mi < len(matched) {
			nxt = matched[mi].unit
		}
		groups[pred] = append(groups[pred], j)
		next[pred] = nxt
	}

	inserts := make(map[int][]*axisUnit)
	for pred, js := range groups {
		// skip past units earlier versions already inserted at this point
		pos := pred + 1
		for pos < next[pred] && axis[pos].baseIdx < 0 {
			pos++
		}
		for _, j := range js {
			inserts[pos] = append(inserts[pos], &axisUnit{
				members: map[int]int{v: j},
				texts:   []string{segs[j].Normalized},
				baseIdx: -1,
			})
		}
	}

	for ui, sj := range unitToSeg {
		axis[ui].add(v, sj, segs[sj].Normalized)
	}

	out := make([]*axisUnit, 0, u+s)
	for k := 0; k <= u; k++ {
		out = append(out, inserts[k]...)
		if k < u {
			out = append(out, axis[k])
		}
	}
	return out
}

func zipMonotone(left, right []int, accepted []diff.Match) bool {
	all := append([]diff.Match(nil), accepted...)
	for k := range left {
		all = append(all, diff.Match{I: left[k], J: right[k]})
	}
	sort.Slice(all, func(a, b int) bool { return all[a].I < all[b].I })
	for k := 1; k < len(all); k++ {
		if all[k].J <= all[k-1].J {
			return false
		}
	}
	return true
}

// verifyAxis checks that every version appears exactly once per segment,
// in its original order.
func verifyAxis(axis []*axisUnit, segs [][]segment.Segment, versions []Version) error {
	for v := range segs {
		want := 0
		for _, u := range axis {
			j, ok := u.members[v]
			if !ok {
				continue
			}
			if j != want {
				return domain.AlignmentError("version %q: segment %d placed where segment %d was expected", versions[v].SourceID, j+1, want+1)
			}
			want++
		}
		if want != len(segs[v]) {
			return domain.AlignmentError("version %q: %d of %d segments placed", versions[v].SourceID, want, len(segs[v]))
		}
	}
	return nil
}
