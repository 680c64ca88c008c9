package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lherron/redline/internal/db"
	"github.com/lherron/redline/internal/domain"
	"github.com/lherron/redline/internal/merge"
	"github.com/lherron/redline/internal/session"
	"github.com/lherron/redline/internal/store"
	"github.com/lherron/redline/internal/testutil"
)

// tickingClock returns a clock that advances one second per call
func tickingClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func setupService(t *testing.T) (*mergeService, *store.Store) {
	t.Helper()
	database, _ := testutil.TempDB(t)
	st := store.New(database)
	return newMergeService(st, nil, nil, session.WithClock(tickingClock())), st
}

func manualInput(texts ...string) merge.Input {
	in := merge.Input{Strategy: merge.StrategyManual}
	for i, text := range texts {
		in.Versions = append(in.Versions, merge.Version{SourceID: fmt.Sprintf("v%d", i+1), Text: text})
	}
	return in
}

func TestConcurrentResolve_ETagConflict(t *testing.T) {
	ms, _ := setupService(t)
	if _, err := ms.Start(context.Background(), manualInput(draftText, counterText)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var successes, mismatches int
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(variant int) {
			defer wg.Done()
			_, err := ms.Resolve("M-00001", 0, variant, 1)
			mu.Lock()
			defer mu.Unlock()
			var mismatch *domain.ETagMismatchError
			switch {
			case err == nil:
				successes++
			case errors.As(err, &mismatch):
				mismatches++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if successes != 1 || mismatches != 1 {
		t.Fatalf("expected 1 success and 1 etag mismatch, got %d and %d", successes, mismatches)
	}
	v, err := ms.Status("M-00001")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if v.ETag != 2 {
		t.Errorf("expected etag 2, got %d", v.ETag)
	}
}

func TestConcurrentResolve_WithoutIfMatch(t *testing.T) {
	ms, st := setupService(t)
	if _, err := ms.Start(context.Background(), manualInput(
		"A.\n\nPayment due in 90 days.\n\nTerm is one year.",
		"A.\n\nPayment due in 30 days.\n\nTerm is two years.",
	)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var wg sync.WaitGroup
	for c := 0; c < 2; c++ {
		wg.Add(1)
		go func(conflict int) {
			defer wg.Done()
			if _, err := ms.Resolve("M-00001", conflict, 1, 0); err != nil {
				t.Errorf("Resolve %d failed: %v", conflict, err)
			}
		}(c)
	}
	wg.Wait()

	// both writes land; neither overwrites the other
	v, err := ms.Status("M-00001")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if v.ResolvedCount != 2 || v.ETag != 3 {
		t.Fatalf("expected 2 resolutions at etag 3, got %d at %d", v.ResolvedCount, v.ETag)
	}

	row, err := st.Sessions.Get("M-00001")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	evs, err := st.Events().List(row.UUID)
	if err != nil {
		t.Fatalf("List events failed: %v", err)
	}
	if len(evs) != 3 {
		t.Errorf("expected 3 events, got %d", len(evs))
	}
}

func TestConcurrentFinalize_SingleWrite(t *testing.T) {
	ms, st := setupService(t)
	if _, err := ms.Start(context.Background(), manualInput(draftText, counterText)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := ms.Resolve("M-00001", 0, 1, 0); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// Hold the mutation lock so every caller reads RESOLVED before any
	// of them can write.
	const callers = 8
	ms.mu.Lock()
	var wg sync.WaitGroup
	results := make([]*FinalizeView, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = ms.Finalize("M-00001", "Agreed terms", 0)
		}(i)
	}
	time.Sleep(100 * time.Millisecond)
	ms.mu.Unlock()
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d failed: %v", i, err)
		}
	}
	for i, r := range results {
		if r.DocumentID != results[0].DocumentID || r.MergedText != results[0].MergedText {
			t.Errorf("caller %d got a different document: %+v", i, r.Result)
		}
		if r.ETag != 3 {
			t.Errorf("caller %d saw etag %d, want 3", i, r.ETag)
		}
	}

	row, err := st.Sessions.Get("M-00001")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if row.ETag != 3 {
		t.Errorf("expected one finalize write (etag 3), got etag %d", row.ETag)
	}
	evs, err := st.Events().List(row.UUID)
	if err != nil {
		t.Fatalf("List events failed: %v", err)
	}
	finalized := 0
	for _, e := range evs {
		if e.EventType == "merge.finalized" {
			finalized++
		}
	}
	if finalized != 1 {
		t.Errorf("expected one merge.finalized event, got %d", finalized)
	}
}

func TestConcurrentStarts(t *testing.T) {
	ms, _ := setupService(t)

	const n = 8
	var wg sync.WaitGroup
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := ms.Start(context.Background(), manualInput(draftText, counterText))
			if err != nil {
				t.Errorf("Start failed: %v", err)
				return
			}
			ids <- v.MergeID
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		if seen[id] {
			t.Errorf("duplicate merge id %s", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d sessions, got %d", n, len(seen))
	}
	for i := 1; i <= n; i++ {
		if id := fmt.Sprintf("M-%05d", i); !seen[id] {
			t.Errorf("missing %s", id)
		}
	}
}

func TestETagCheckFunction(t *testing.T) {
	tests := []struct {
		name     string
		expected int64
		actual   int64
		wantErr  bool
	}{
		{"match", 1, 1, false},
		{"mismatch", 1, 2, true},
		{"stale", 3, 5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := domain.CheckETag(tt.expected, tt.actual)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckETag(%d, %d) error = %v, wantErr %v", tt.expected, tt.actual, err, tt.wantErr)
			}
			if err != nil && ExitCode(err) != exitState {
				t.Errorf("etag mismatch should exit %d, got %d", exitState, ExitCode(err))
			}
		})
	}
}

func BenchmarkStartMerge(b *testing.B) {
	database, err := db.Open(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatal(err)
	}
	defer database.Close()
	if err := database.Migrate(); err != nil {
		b.Fatal(err)
	}
	ms := newMergeService(store.New(database), nil, nil)

	in := manualInput(draftText, counterText, counterText)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ms.Start(context.Background(), in); err != nil {
			b.Fatal(err)
		}
	}
}
