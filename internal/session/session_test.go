package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/redline/internal/domain"
	"github.com/lherron/redline/internal/merge"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestManager() *Manager {
	n := 0
	return NewManager(
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerators(
			func() string { n++; return fmt.Sprintf("sess-%d", n) },
			func() string { return "doc-1" },
		),
	)
}

func versions(texts ...string) []merge.Version {
	out := make([]merge.Version, len(texts))
	for i, t := range texts {
		out[i] = merge.Version{
			SourceID:    fmt.Sprintf("v%d", i+1),
			Text:        t,
			SubmittedAt: fixedNow.Add(time.Duration(i) * time.Minute),
		}
	}
	return out
}

func start(t *testing.T, m *Manager, strategy merge.Strategy, texts ...string) *Session {
	t.Helper()
	s, err := m.StartMerge(context.Background(), merge.Input{Versions: versions(texts...), Strategy: strategy})
	require.NoError(t, err)
	return s
}

// tenConflicts returns two versions that disagree on each of ten clauses
func tenConflicts() (string, string) {
	var a, b []string
	for k := 0; k < 10; k++ {
		a = append(a, fmt.Sprintf("Section %d reads red.", k))
		b = append(b, fmt.Sprintf("Section %d reads blue.", k))
	}
	return strings.Join(a, "\n\n"), strings.Join(b, "\n\n")
}

func TestStartMerge_OpensSession(t *testing.T) {
	m := newTestManager()
	s := start(t, m, merge.StrategyConsensus, "A", "A", "B")

	v := s.Status()
	assert.Equal(t, "sess-1", v.ID)
	assert.Equal(t, domain.MergeStatusOpen, v.Status)
	assert.Equal(t, 1, v.ConflictsCount)
	assert.Equal(t, 1, v.AutoResolvedCount)
	assert.Equal(t, 0, v.UnresolvedCount)
	assert.Equal(t, 100, v.ProgressPercent)
	assert.True(t, v.CanFinalize)
	assert.Equal(t, "detect", v.Progress.Stage)
	assert.Equal(t, fixedNow, v.CreatedAt)
}

func TestStartMerge_InvalidInput(t *testing.T) {
	m := newTestManager()
	_, err := m.StartMerge(context.Background(), merge.Input{Versions: versions("only")})
	assert.Equal(t, domain.CodeInvalidInput, domain.CodeOf(err))
	assert.Empty(t, m.List())
}

func TestFinalize_ManualNeedsResolution(t *testing.T) {
	m := newTestManager()
	s := start(t, m, merge.StrategyManual, "A", "A", "B")

	_, err := m.Finalize(s.ID(), "")
	require.Error(t, err)
	assert.Equal(t, domain.CodeConflictState, domain.CodeOf(err))
	assert.Equal(t, domain.MergeStatusOpen, domain.StatusOf(err))
	assert.Contains(t, err.Error(), "select a variant for all conflicts before finalizing")

	v, err := m.ResolveConflict(s.ID(), 0, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.MergeStatusResolved, v.Status)
	assert.Equal(t, 1, v.ResolvedCount)

	res, err := m.Finalize(s.ID(), "Final")
	require.NoError(t, err)
	assert.Equal(t, "B", res.MergedText)
	assert.Equal(t, "Final", res.DocumentName)
	require.Len(t, res.UnitManifest, 1)
	assert.Equal(t, OriginResolved, res.UnitManifest[0].Origin)
	assert.Equal(t, []string{"v3"}, res.UnitManifest[0].Sources)
}

func TestFinalize_Idempotent(t *testing.T) {
	m := newTestManager()
	s := start(t, m, merge.StrategyConsensus, "Intro.\n\nA", "Intro.\n\nA", "Intro.\n\nB")

	first, err := m.Finalize(s.ID(), "")
	require.NoError(t, err)
	assert.Equal(t, "Intro.\n\nA", first.MergedText)
	assert.Equal(t, "doc-1", first.DocumentID)
	assert.Equal(t, "Merged Document 2025-03-01 12:00", first.DocumentName)
	assert.Equal(t, len("Intro.\n\nA"), first.ContentSize)
	require.Len(t, first.UnitManifest, 2)
	assert.Equal(t, OriginAgreed, first.UnitManifest[0].Origin)
	assert.Equal(t, OriginConsensus, first.UnitManifest[1].Origin)

	second, err := m.Finalize(s.ID(), "another name")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	assert.Equal(t, a, b)
	assert.Equal(t, domain.MergeStatusFinalized, s.CurrentStatus())
}

func TestFinalize_ContentSizeCountsBytes(t *testing.T) {
	m := newTestManager()
	s := start(t, m, merge.StrategyConsensus, "Café résumé", "Café résumé")
	res, err := s.Finalize("")
	require.NoError(t, err)
	assert.Equal(t, len("Café résumé"), res.ContentSize)
	assert.Greater(t, res.ContentSize, len([]rune("Café résumé")))
}

func TestFinalize_AbsentChoiceEmitsNothing(t *testing.T) {
	m := newTestManager()
	s := start(t, m, merge.StrategyConsensus, "Alpha clause.\n\nBravo clause.", "Alpha clause.")

	conflicts, err := s.Conflicts()
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	require.Equal(t, merge.VariantAbsent, conflicts[0].Variants[1].Kind)

	require.NoError(t, s.ApplyResolution(0, 1))
	res, err := s.Finalize("")
	require.NoError(t, err)
	assert.Equal(t, "Alpha clause.", res.MergedText)
	require.Len(t, res.UnitManifest, 1)
	assert.Equal(t, []string{"v1", "v2"}, res.UnitManifest[0].Sources)
}

func TestApplyResolution_LastWriteWins(t *testing.T) {
	m := newTestManager()
	s := start(t, m, merge.StrategyConsensus, "A", "B")

	require.NoError(t, s.ApplyResolution(0, 0))
	require.NoError(t, s.ApplyResolution(0, 1))
	conflicts, err := s.Conflicts()
	require.NoError(t, err)
	require.NotNil(t, conflicts[0].ResolvedVariant)
	assert.Equal(t, 1, *conflicts[0].ResolvedVariant)
}

func TestApplyResolution_InvalidIndices(t *testing.T) {
	m := newTestManager()
	s := start(t, m, merge.StrategyConsensus, "A", "B")

	for _, r := range []Resolution{{-1, 0}, {1, 0}, {0, 2}, {0, -1}} {
		err := s.ApplyResolution(r.ConflictIndex, r.VariantIndex)
		assert.Equal(t, domain.CodeInvalidInput, domain.CodeOf(err), "%+v", r)
	}
	assert.Equal(t, domain.MergeStatusOpen, s.CurrentStatus())
}

func TestApplyBulk_Atomic(t *testing.T) {
	m := newTestManager()
	a, b := tenConflicts()
	s := start(t, m, merge.StrategyConsensus, a, b)
	require.Equal(t, 10, s.Status().ConflictsCount)

	batch := make([]Resolution, 10)
	for i := range batch {
		batch[i] = Resolution{ConflictIndex: i, VariantIndex: 1}
	}
	batch[7].VariantIndex = 5

	_, err := m.ResolveBulk(s.ID(), batch)
	assert.Equal(t, domain.CodeInvalidInput, domain.CodeOf(err))
	v := s.Status()
	assert.Equal(t, 0, v.ResolvedCount)
	assert.Equal(t, 10, v.UnresolvedCount)
	assert.Equal(t, domain.MergeStatusOpen, v.Status)

	batch[7].VariantIndex = 1
	v, err = m.ResolveBulk(s.ID(), batch)
	require.NoError(t, err)
	assert.Equal(t, 10, v.ResolvedCount)
	assert.Equal(t, domain.MergeStatusResolved, v.Status)
	assert.Equal(t, 100, v.ProgressPercent)

	res, err := s.Finalize("")
	require.NoError(t, err)
	assert.Equal(t, b, res.MergedText)
}

func TestApplyBulk_Empty(t *testing.T) {
	m := newTestManager()
	s := start(t, m, merge.StrategyConsensus, "A", "B")
	assert.Equal(t, domain.CodeInvalidInput, domain.CodeOf(s.ApplyBulk(nil)))
}

func TestStatus_ProgressPercent(t *testing.T) {
	m := newTestManager()
	a, b := tenConflicts()
	s := start(t, m, merge.StrategyManual, a, b)

	require.NoError(t, s.ApplyBulk([]Resolution{{0, 0}, {1, 0}, {2, 1}}))
	v := s.Status()
	assert.Equal(t, 30, v.ProgressPercent)
	assert.Equal(t, 7, v.UnresolvedCount)
	assert.False(t, v.CanFinalize)
}

func TestCancel(t *testing.T) {
	m := newTestManager()
	s := start(t, m, merge.StrategyConsensus, "A", "B")

	v, err := m.Cancel(s.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.MergeStatusCancelled, v.Status)
	assert.Nil(t, s.Plan())
	require.NotNil(t, v.CompletedAt)

	err = s.ApplyResolution(0, 0)
	assert.Equal(t, domain.CodeConflictState, domain.CodeOf(err))
	assert.Equal(t, domain.MergeStatusCancelled, domain.StatusOf(err))

	_, err = s.Finalize("")
	assert.Equal(t, domain.CodeConflictState, domain.CodeOf(err))

	_, err = s.Conflicts()
	assert.Equal(t, domain.CodeConflictState, domain.CodeOf(err))

	_, err = m.Cancel(s.ID())
	assert.Equal(t, domain.CodeConflictState, domain.CodeOf(err))
}

func TestFinalizedSessionIsFrozen(t *testing.T) {
	m := newTestManager()
	s := start(t, m, merge.StrategyConsensus, "A", "A")
	_, err := s.Finalize("")
	require.NoError(t, err)

	err = s.Cancel()
	assert.Equal(t, domain.MergeStatusFinalized, domain.StatusOf(err))
	err = s.ApplyBulk([]Resolution{{0, 0}})
	assert.Equal(t, domain.CodeConflictState, domain.CodeOf(err))
}

func TestConcurrentResolutions(t *testing.T) {
	m := newTestManager()
	a, b := tenConflicts()
	s := start(t, m, merge.StrategyManual, a, b)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.ApplyResolution(i, i%2))
		}(i)
		go func() {
			defer wg.Done()
			v := s.Status()
			assert.Equal(t, v.ConflictsCount, v.ResolvedCount+v.UnresolvedCount)
		}()
	}
	wg.Wait()

	v := s.Status()
	assert.Equal(t, 10, v.ResolvedCount)
	assert.Equal(t, domain.MergeStatusResolved, v.Status)
}

func TestRecordRoundTrip(t *testing.T) {
	m := newTestManager()
	s := start(t, m, merge.StrategyManual, "Intro.\n\nA", "Intro.\n\nB", "Intro.\n\nC")
	require.NoError(t, s.ApplyResolution(0, 2))

	data, err := json.Marshal(s.Record())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"resolved_variant":2`)

	var rec Record
	require.NoError(t, json.Unmarshal(data, &rec))

	other := NewManager(WithClock(func() time.Time { return fixedNow }), WithIDGenerators(nil, func() string { return "doc-1" }))
	restored, err := other.Restore(rec)
	require.NoError(t, err)
	assert.Equal(t, s.Status(), restored.Status())

	want, err := s.Finalize("x")
	require.NoError(t, err)
	got, err := restored.Finalize("x")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRecord_Validate(t *testing.T) {
	assert.Error(t, Record{}.Validate())
	assert.Error(t, Record{ID: "x", Status: "DONE"}.Validate())
	assert.Error(t, Record{ID: "x", Status: domain.MergeStatusOpen}.Validate())
	assert.NoError(t, Record{ID: "x", Status: domain.MergeStatusCancelled}.Validate())
}

func TestManager_UnknownSession(t *testing.T) {
	m := newTestManager()
	_, err := m.GetStatus("nope")
	assert.Equal(t, domain.CodeInvalidInput, domain.CodeOf(err))
	_, err = m.Finalize("nope", "")
	assert.Equal(t, domain.CodeInvalidInput, domain.CodeOf(err))
}

func TestManager_ListAndForget(t *testing.T) {
	m := newTestManager()
	start(t, m, merge.StrategyConsensus, "A", "B")
	start(t, m, merge.StrategyConsensus, "C", "D")

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, "sess-1", list[0].ID)
	assert.Equal(t, "sess-2", list[1].ID)

	m.Forget("sess-1")
	list = m.List()
	require.Len(t, list, 1)
	assert.Equal(t, "sess-2", list[0].ID)
}
