package merge

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/redline/internal/domain"
	"github.com/lherron/redline/internal/segment"
)

func versions(texts ...string) []Version {
	out := make([]Version, len(texts))
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, t := range texts {
		out[i] = Version{
			SourceID:    fmt.Sprintf("v%d", i+1),
			Text:        t,
			SubmittedAt: base.Add(time.Duration(i) * time.Hour),
		}
	}
	return out
}

func build(t *testing.T, strategy Strategy, vs []Version) *Plan {
	t.Helper()
	plan, err := Build(context.Background(), Input{Versions: vs, Strategy: strategy})
	require.NoError(t, err)
	return plan
}

func TestBuild_MajorityConsensus(t *testing.T) {
	plan := build(t, StrategyConsensus, versions("A", "A", "B"))

	require.Len(t, plan.Conflicts, 1)
	c := plan.Conflicts[0]
	require.Len(t, c.Variants, 2)
	assert.Equal(t, "A", c.Variants[0].Content)
	assert.Equal(t, 2, c.Variants[0].Votes)
	assert.Equal(t, []string{"v1", "v2"}, c.Variants[0].Sources)
	assert.Equal(t, "B", c.Variants[1].Content)
	assert.Equal(t, 1, c.Variants[1].Votes)
	require.NotNil(t, c.ConsensusVariant)
	assert.Equal(t, 0, *c.ConsensusVariant)
	assert.Equal(t, ConflictConsensus, c.Type)

	assert.Equal(t, 1, plan.ConflictsCount)
	assert.Equal(t, 1, plan.AutoResolvedCount)
	assert.True(t, plan.CanAutoMerge())
}

func TestBuild_ManualNeverPicks(t *testing.T) {
	plan := build(t, StrategyManual, versions("A", "A", "B"))
	require.Len(t, plan.Conflicts, 1)
	assert.Nil(t, plan.Conflicts[0].ConsensusVariant)
	assert.Equal(t, 0, plan.AutoResolvedCount)
	assert.False(t, plan.CanAutoMerge())
	assert.Equal(t, "1 of 1 conflicts need a manual decision", plan.Recommendation())
}

func TestBuild_TieLeavesConflictOpen(t *testing.T) {
	plan := build(t, StrategyConsensus, versions("A", "B"))
	require.Len(t, plan.Conflicts, 1)
	c := plan.Conflicts[0]
	assert.Nil(t, c.ConsensusVariant)
	assert.Equal(t, ConflictReplace, c.Type)
	assert.False(t, c.Settled())
	assert.Equal(t, 1, plan.Unresolved())
}

func TestBuild_VersionLimits(t *testing.T) {
	texts := make([]string, 11)
	for i := range texts {
		texts[i] = "clause"
	}
	_, err := Build(context.Background(), Input{Versions: versions(texts...)})
	assert.Equal(t, domain.CodeInvalidInput, domain.CodeOf(err))

	_, err = Build(context.Background(), Input{Versions: versions("only one")})
	assert.Equal(t, domain.CodeInvalidInput, domain.CodeOf(err))

	_, err = Build(context.Background(), Input{Versions: versions(texts[:10]...)})
	assert.NoError(t, err)
}

func TestInput_Validate(t *testing.T) {
	dup := versions("a", "b")
	dup[1].SourceID = dup[0].SourceID
	in := Input{Versions: dup}
	assert.Equal(t, domain.CodeInvalidInput, domain.CodeOf(in.Validate()))

	in = Input{Versions: versions("a", "b"), BaseSourceID: "missing"}
	assert.Equal(t, domain.CodeInvalidInput, domain.CodeOf(in.Validate()))

	in = Input{Versions: versions("a", "b"), Strategy: "LOUDEST"}
	assert.Equal(t, domain.CodeInvalidInput, domain.CodeOf(in.Validate()))

	in = Input{Versions: versions("a", "b")}
	require.NoError(t, in.Validate())
	assert.Equal(t, StrategyConsensus, in.Strategy)
	assert.Equal(t, segment.Paragraph, in.Granularity)
	assert.Equal(t, 0.3, in.Options.MatchFloor)
}

func TestBuild_VotesCoverEveryVersion(t *testing.T) {
	vs := versions(
		"Intro.\n\nPayment due in 90 days.\n\nGoverning law: Delaware.",
		"Intro.\n\nPayment due in 30 days.\n\nGoverning law: Delaware.\n\nNotices by email.",
		"Intro.\n\nGoverning law: New York.",
		"Intro.\n\nPayment due in 30 days.\n\nGoverning law: Delaware.",
	)
	plan := build(t, StrategyConsensus, vs)

	for _, u := range plan.Units {
		total := 0
		for _, v := range u.Variants {
			total += v.Votes
			assert.Equal(t, len(v.Sources), v.Votes)
		}
		assert.Equal(t, len(vs), total, "unit %d", u.Ordinal)
	}
	for _, c := range plan.Conflicts {
		total := 0
		for _, v := range c.Variants {
			total += v.Votes
		}
		assert.Equal(t, len(vs), total, "conflict %d", c.Index)
	}
	for i, c := range plan.Conflicts {
		assert.Equal(t, i, c.Index)
	}
}

func TestBuild_DeletionConflict(t *testing.T) {
	plan := build(t, StrategyConsensus, versions("Alpha one.\n\nBravo two.\n\nCharlie three.", "Alpha one.\n\nCharlie three."))

	require.Len(t, plan.Units, 3)
	require.Len(t, plan.Conflicts, 1)
	c := plan.Conflicts[0]
	assert.Equal(t, ConflictDelete, c.Type)
	assert.Equal(t, "segment 2", c.Location)
	require.Len(t, c.Variants, 2)
	assert.Equal(t, VariantContent, c.Variants[0].Kind)
	assert.Equal(t, VariantAbsent, c.Variants[1].Kind)
	assert.Equal(t, []string{"v2"}, c.Variants[1].Sources)
	assert.Nil(t, c.ConsensusVariant)
}

func TestBuild_InsertPlacementFollowsSubmissionOrder(t *testing.T) {
	plan := build(t, StrategyConsensus, versions(
		"Alpha clause one.\n\nOmega clause end.",
		"Alpha clause one.\n\n1111 2222 3333\n\nOmega clause end.",
		"Alpha clause one.\n\nwxyz vuts\n\nOmega clause end.",
	))

	require.Len(t, plan.Units, 4)
	assert.Equal(t, "1111 2222 3333", contentOf(plan.Units[1]))
	assert.Equal(t, "wxyz vuts", contentOf(plan.Units[2]))
	assert.Equal(t, "after segment 1", plan.Units[1].Location)
	assert.Equal(t, "after segment 1", plan.Units[2].Location)
	assert.Equal(t, "segment 2", plan.Units[3].Location)

	require.Len(t, plan.Conflicts, 2)
	for _, c := range plan.Conflicts {
		assert.Equal(t, ConflictInsert, c.Type)
		// the two non-inserting versions outvote the inserter
		require.NotNil(t, c.ConsensusVariant)
		assert.Equal(t, VariantAbsent, c.Variants[*c.ConsensusVariant].Kind)
	}
}

func TestBuild_SimilarClausesShareUnit(t *testing.T) {
	plan := build(t, StrategyConsensus, versions(
		"Scope.\n\nPayment due in 90 days.",
		"Scope.\n\nPayment due in 30 days.",
	))
	require.Len(t, plan.Units, 2)
	require.Len(t, plan.Conflicts, 1)
	assert.Equal(t, ConflictReplace, plan.Conflicts[0].Type)
	assert.Greater(t, plan.Conflicts[0].Similarity, 0.9)
}

func TestBuild_MostRecent(t *testing.T) {
	vs := versions("A", "B", "C")
	vs[1].SubmittedAt = vs[0].SubmittedAt.Add(10 * time.Hour)
	plan := build(t, StrategyMostRecent, vs)
	require.Len(t, plan.Conflicts, 1)
	require.NotNil(t, plan.Conflicts[0].ConsensusVariant)
	assert.Equal(t, "B", plan.Conflicts[0].Variants[*plan.Conflicts[0].ConsensusVariant].Content)

	// equal timestamps fall back to the last submitted version
	same := versions("A", "B", "C")
	for i := range same {
		same[i].SubmittedAt = time.Time{}
	}
	plan = build(t, StrategyMostRecent, same)
	assert.Equal(t, "C", plan.Conflicts[0].Variants[*plan.Conflicts[0].ConsensusVariant].Content)
}

func TestBuild_MostRecentPicksAbsence(t *testing.T) {
	// the latest version drops the middle clause the others keep
	plan := build(t, StrategyMostRecent, versions(
		"Alpha clause one.\n\nIndemnity survives termination.\n\nOmega clause end.",
		"Alpha clause one.\n\nIndemnity survives termination.\n\nOmega clause end.",
		"Alpha clause one.\n\nOmega clause end.",
	))

	require.Len(t, plan.Conflicts, 1)
	c := plan.Conflicts[0]
	require.NotNil(t, c.ConsensusVariant)
	picked := c.Variants[*c.ConsensusVariant]
	assert.Equal(t, VariantAbsent, picked.Kind)
	assert.Equal(t, []string{"v3"}, picked.Sources)
	assert.Equal(t, 1, plan.AutoResolvedCount)
}

func TestBuild_Deterministic(t *testing.T) {
	vs := versions(
		"One.\n\nTwo.\n\nThree.",
		"One.\n\nTwo!\n\nThree.\n\nFour.",
		"Zero.\n\nOne.\n\nThree.",
	)
	for _, s := range []Strategy{StrategyConsensus, StrategyMostRecent, StrategyManual} {
		first := build(t, s, vs)
		for i := 0; i < 3; i++ {
			assert.Equal(t, first, build(t, s, vs))
		}
	}
}

func TestBuild_DesignatedBase(t *testing.T) {
	plan, err := Build(context.Background(), Input{
		Versions:     versions("Alpha.\n\nExtra clause here.", "Alpha."),
		BaseSourceID: "v2",
	})
	require.NoError(t, err)
	assert.True(t, plan.Sources[1].Base)
	require.Len(t, plan.Conflicts, 1)
	assert.Equal(t, ConflictInsert, plan.Conflicts[0].Type)
	assert.Equal(t, "after segment 1", plan.Conflicts[0].Location)
}

func TestBuild_ReportsProgress(t *testing.T) {
	var stages []string
	_, err := Build(context.Background(), Input{
		Versions: versions("a", "b", "c"),
		OnProgress: func(stage string, done, total int) {
			stages = append(stages, fmt.Sprintf("%s %d/%d", stage, done, total))
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"segment 3/3", "align 1/3", "align 2/3", "align 3/3", "detect 1/1"}, stages)
}

func TestBuild_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Build(ctx, Input{Versions: versions("a", "b")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVerifyAxis_RejectsOutOfOrder(t *testing.T) {
	segs := [][]segment.Segment{
		segment.Split("a\n\nb", segment.Paragraph),
		segment.Split("b\n\na", segment.Paragraph),
	}
	axis := []*axisUnit{
		{members: map[int]int{0: 0, 1: 1}},
		{members: map[int]int{0: 1, 1: 0}},
	}
	err := verifyAxis(axis, segs, versions("a\n\nb", "b\n\na"))
	assert.Equal(t, domain.CodeAlignment, domain.CodeOf(err))
}

func TestPlan_Clone(t *testing.T) {
	plan := build(t, StrategyConsensus, versions("A", "B"))
	cp := plan.Clone()
	idx := 1
	cp.Conflicts[0].ResolvedVariant = &idx
	cp.Conflicts[0].Variants[0].Sources[0] = "mutated"
	assert.Nil(t, plan.Conflicts[0].ResolvedVariant)
	assert.Equal(t, "v1", plan.Conflicts[0].Variants[0].Sources[0])
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("most-recent")
	require.NoError(t, err)
	assert.Equal(t, StrategyMostRecent, s)
	s, err = ParseStrategy("manual")
	require.NoError(t, err)
	assert.Equal(t, StrategyManual, s)
	_, err = ParseStrategy("vote")
	assert.Error(t, err)
}

func contentOf(u Unit) string {
	for _, v := range u.Variants {
		if v.Kind == VariantContent {
			return v.Content
		}
	}
	return ""
}
