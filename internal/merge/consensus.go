package merge

import (
	"fmt"
	"time"

	"github.com/lherron/redline/internal/diff"
	"github.com/lherron/redline/internal/segment"
)

// ConflictType is derived from the shape of a conflict's variants
type ConflictType string

const (
	ConflictReplace   ConflictType = "REPLACE"
	ConflictDelete    ConflictType = "DELETE"
	ConflictInsert    ConflictType = "INSERT"
	ConflictConsensus ConflictType = "CONSENSUS"
	ConflictManual    ConflictType = "MANUAL"
)

// VariantKind tags a variant as carrying content or standing for absence
type VariantKind string

const (
	VariantContent VariantKind = "content"
	VariantAbsent  VariantKind = "absent"
)

// Variant is one de-duplicated candidate for a unit. Absent variants
// group the versions that lack the unit; Content is empty for them.
type Variant struct {
	Kind    VariantKind `json:"kind"`
	Content string      `json:"content,omitempty"`
	Sources []string    `json:"sources"`
	Votes   int         `json:"votes"`
}

// Conflict is a unit with more than one variant
type Conflict struct {
	Index            int          `json:"index"`
	Location         string       `json:"location"`
	Type             ConflictType `json:"type"`
	Variants         []Variant    `json:"variants"`
	ConsensusVariant *int         `json:"consensus_variant"`
	ResolvedVariant  *int         `json:"resolved_variant"`
	UnitOrdinal      int          `json:"unit_ordinal"`
	Similarity       float64      `json:"similarity"`
}

// Choice returns the variant that will be emitted: the user's resolution,
// else the consensus pick.
func (c *Conflict) Choice() (int, bool) {
	if c.ResolvedVariant != nil {
		return *c.ResolvedVariant, true
	}
	if c.ConsensusVariant != nil {
		return *c.ConsensusVariant, true
	}
	return 0, false
}

// Settled reports whether the conflict no longer needs a decision
func (c *Conflict) Settled() bool {
	_, ok := c.Choice()
	return ok
}

// Unit is the plan's view of one merge unit
type Unit struct {
	Ordinal  int       `json:"ordinal"`
	Location string    `json:"location"`
	Variants []Variant `json:"variants"`
	Conflict *int      `json:"conflict,omitempty"`
}

// Source describes one contributing version
type Source struct {
	SourceID    string    `json:"source_id"`
	SubmittedAt time.Time `json:"submitted_at"`
	Base        bool      `json:"base,omitempty"`
}

// Plan is the full conflict set for one merge
type Plan struct {
	Strategy          Strategy            `json:"strategy"`
	Granularity       segment.Granularity `json:"granularity"`
	Sources           []Source            `json:"sources"`
	Units             []Unit              `json:"units"`
	Conflicts         []Conflict          `json:"conflicts"`
	ConflictsCount    int                 `json:"conflicts_count"`
	AutoResolvedCount int                 `json:"auto_resolved_count"`
}

// Detect builds variants for every unit and a conflict for every unit
// with more than one, assigning consensus picks per strategy.
func Detect(al *Alignment, strategy Strategy) *Plan {
	plan := &Plan{
		Strategy:    strategy,
		Granularity: al.Granularity,
		Sources:     make([]Source, len(al.Versions)),
		Units:       make([]Unit, 0, len(al.Units)),
		Conflicts:   []Conflict{},
	}
	for i, v := range al.Versions {
		plan.Sources[i] = Source{SourceID: v.SourceID, SubmittedAt: v.SubmittedAt, Base: i == al.Base}
	}

	lastBase := -1
	for _, mu := range al.Units {
		loc := location(mu, lastBase)
		if mu.InBase {
			lastBase = mu.BaseIndex
		}

		variants := buildVariants(mu, al.Versions)
		unit := Unit{Ordinal: mu.Ordinal, Location: loc, Variants: variants}
		if len(variants) > 1 {
			idx := len(plan.Conflicts)
			c := Conflict{
				Index:            idx,
				Location:         loc,
				Type:             conflictType(variants, mu.InBase, len(al.Versions)),
				Variants:         cloneVariants(variants),
				ConsensusVariant: pickConsensus(strategy, variants, al.Versions),
				UnitOrdinal:      mu.Ordinal,
				Similarity:       lowestSimilarity(variants),
			}
			if c.ConsensusVariant != nil {
				plan.AutoResolvedCount++
			}
			plan.Conflicts = append(plan.Conflicts, c)
			unit.Conflict = &idx
		}
		plan.Units = append(plan.Units, unit)
	}
	plan.ConflictsCount = len(plan.Conflicts)
	return plan
}

func location(mu MergeUnit, lastBase int) string {
	switch {
	case mu.InBase:
		return fmt.Sprintf("segment %d", mu.BaseIndex+1)
	case lastBase >= 0:
		return fmt.Sprintf("after segment %d", lastBase+1)
	default:
		return "before segment 1"
	}
}

// buildVariants groups versions by normalized text, absence included,
// ordered by the earliest submitted contributor.
func buildVariants(mu MergeUnit, versions []Version) []Variant {
	var variants []Variant
	byKey := make(map[string]int)
	for _, v := range versions {
		key, variant := "\x00absent", Variant{Kind: VariantAbsent}
		if seg, ok := mu.Segments[v.SourceID]; ok {
			key, variant = seg.Normalized, Variant{Kind: VariantContent, Content: seg.Text}
		}
		idx, ok := byKey[key]
		if !ok {
			idx = len(variants)
			byKey[key] = idx
			variants = append(variants, variant)
		}
		variants[idx].Sources = append(variants[idx].Sources, v.SourceID)
		variants[idx].Votes++
	}
	return variants
}

func conflictType(variants []Variant, inBase bool, total int) ConflictType {
	for _, v := range variants {
		if v.Kind == VariantAbsent {
			if inBase {
				return ConflictDelete
			}
			return ConflictInsert
		}
	}
	for _, v := range variants {
		if v.Votes*2 > total {
			return ConflictConsensus
		}
	}
	if len(variants) == 2 {
		return ConflictReplace
	}
	return ConflictManual
}

func pickConsensus(strategy Strategy, variants []Variant, versions []Version) *int {
	switch strategy {
	case StrategyConsensus:
		best, tied := -1, false
		for i, v := range variants {
			switch {
			case best < 0 || v.Votes > variants[best].Votes:
				best, tied = i, false
			case v.Votes == variants[best].Votes:
				tied = true
			}
		}
		if best < 0 || tied {
			return nil
		}
		return &best

	case StrategyMostRecent:
		recent := 0
		for i := 1; i < len(versions); i++ {
			// later submission wins ties on SubmittedAt
			if !versions[i].SubmittedAt.Before(versions[recent].SubmittedAt) {
				recent = i
			}
		}
		for i, v := range variants {
			for _, src := range v.Sources {
				if src == versions[recent].SourceID {
					idx := i
					return &idx
				}
			}
		}
		return nil

	default:
		return nil
	}
}

func lowestSimilarity(variants []Variant) float64 {
	lowest, seen := 1.0, false
	for i := 0; i < len(variants); i++ {
		for j := i + 1; j < len(variants); j++ {
			if variants[i].Kind != VariantContent || variants[j].Kind != VariantContent {
				continue
			}
			if s := diff.Similarity(variants[i].Content, variants[j].Content); s < lowest {
				lowest = s
			}
			seen = true
		}
	}
	if !seen {
		return 0
	}
	return lowest
}

func cloneVariants(in []Variant) []Variant {
	out := make([]Variant, len(in))
	for i, v := range in {
		v.Sources = append([]string(nil), v.Sources...)
		out[i] = v
	}
	return out
}

// Unresolved counts conflicts with neither a resolution nor a consensus pick
func (p *Plan) Unresolved() int {
	n := 0
	for i := range p.Conflicts {
		if !p.Conflicts[i].Settled() {
			n++
		}
	}
	return n
}

// Resolved counts conflicts with an explicit user resolution
func (p *Plan) Resolved() int {
	n := 0
	for i := range p.Conflicts {
		if p.Conflicts[i].ResolvedVariant != nil {
			n++
		}
	}
	return n
}

// CanAutoMerge reports whether the plan can be finalized without input
func (p *Plan) CanAutoMerge() bool {
	return p.Unresolved() == 0
}

// Recommendation summarizes what the caller needs to do next
func (p *Plan) Recommendation() string {
	unresolved := p.Unresolved()
	switch {
	case p.ConflictsCount == 0:
		return "No conflicts detected; the versions can be merged automatically"
	case unresolved == 0:
		return fmt.Sprintf("All %d conflicts have a consensus variant; the merge can be finalized", p.ConflictsCount)
	default:
		return fmt.Sprintf("%d of %d conflicts need a manual decision", unresolved, p.ConflictsCount)
	}
}

// Clone returns a deep copy of the plan
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	out := *p
	out.Sources = append([]Source(nil), p.Sources...)
	out.Units = make([]Unit, len(p.Units))
	for i, u := range p.Units {
		u.Variants = cloneVariants(u.Variants)
		u.Conflict = cloneInt(u.Conflict)
		out.Units[i] = u
	}
	out.Conflicts = CloneConflicts(p.Conflicts)
	return &out
}

// CloneConflicts deep-copies a conflict list
func CloneConflicts(in []Conflict) []Conflict {
	out := make([]Conflict, len(in))
	for i, c := range in {
		c.Variants = cloneVariants(c.Variants)
		c.ConsensusVariant = cloneInt(c.ConsensusVariant)
		c.ResolvedVariant = cloneInt(c.ResolvedVariant)
		out[i] = c
	}
	return out
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
