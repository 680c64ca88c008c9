// Package session holds the resolution state machine for one merge: it
// owns the conflict plan, applies user resolutions, and finalizes the
// merged document exactly once.
package session

import (
	"sync"
	"time"

	"github.com/lherron/redline/internal/domain"
	"github.com/lherron/redline/internal/merge"
)

// Progress is the last stage reported while the plan was being built
type Progress struct {
	Stage string `json:"stage"`
	Done  int    `json:"done"`
	Total int    `json:"total"`
}

// Resolution selects one variant of one conflict
type Resolution struct {
	ConflictIndex int `json:"conflict_index" yaml:"conflict_index"`
	VariantIndex  int `json:"variant_index" yaml:"variant_index"`
}

// Session is one merge in progress. All methods are safe for concurrent use;
// readers observe either the state before or after a write.
type Session struct {
	mu sync.RWMutex

	id          string
	status      domain.MergeStatus
	plan        *merge.Plan
	progress    Progress
	result      *Result
	createdAt   time.Time
	updatedAt   time.Time
	completedAt *time.Time

	now   func() time.Time
	newID func() string
}

func newSession(id string, plan *merge.Plan, progress Progress, now func() time.Time, newID func() string) *Session {
	ts := now()
	return &Session{
		id:        id,
		status:    domain.MergeStatusOpen,
		plan:      plan,
		progress:  progress,
		createdAt: ts,
		updatedAt: ts,
		now:       now,
		newID:     newID,
	}
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// CurrentStatus returns the lifecycle status
func (s *Session) CurrentStatus() domain.MergeStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Plan returns a copy of the conflict plan, or nil once cancelled
func (s *Session) Plan() *merge.Plan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.plan.Clone()
}

// Conflicts returns a copy of the conflict list
func (s *Session) Conflicts() ([]merge.Conflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.plan == nil {
		return nil, domain.StateError(s.status, "merge has no conflicts to show")
	}
	return merge.CloneConflicts(s.plan.Conflicts), nil
}

// ApplyResolution records variantIndex as the choice for conflictIndex.
// A later call for the same conflict replaces the earlier choice.
func (s *Session) ApplyResolution(conflictIndex, variantIndex int) error {
	return s.ApplyBulk([]Resolution{{ConflictIndex: conflictIndex, VariantIndex: variantIndex}})
}

// ApplyBulk validates every resolution before applying any of them. One
// invalid entry rejects the whole batch.
func (s *Session) ApplyBulk(resolutions []Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireMutable(); err != nil {
		return err
	}
	if len(resolutions) == 0 {
		return domain.Invalid("no resolutions given")
	}
	for _, r := range resolutions {
		if err := s.checkResolution(r); err != nil {
			return err
		}
	}

	for _, r := range resolutions {
		v := r.VariantIndex
		s.plan.Conflicts[r.ConflictIndex].ResolvedVariant = &v
	}
	s.recompute()
	s.updatedAt = s.now()
	return nil
}

func (s *Session) requireMutable() error {
	switch s.status {
	case domain.MergeStatusOpen, domain.MergeStatusResolved:
		return nil
	default:
		return domain.StateError(s.status, "merge is %s and can no longer be changed", s.status)
	}
}

func (s *Session) checkResolution(r Resolution) error {
	if r.ConflictIndex < 0 || r.ConflictIndex >= len(s.plan.Conflicts) {
		return domain.Invalid("conflict index %d out of range (0..%d)", r.ConflictIndex, len(s.plan.Conflicts)-1)
	}
	c := s.plan.Conflicts[r.ConflictIndex]
	if r.VariantIndex < 0 || r.VariantIndex >= len(c.Variants) {
		return domain.Invalid("variant index %d out of range for conflict %d (0..%d)", r.VariantIndex, r.ConflictIndex, len(c.Variants)-1)
	}
	return nil
}

// recompute moves between OPEN and RESOLVED after a resolution
func (s *Session) recompute() {
	if s.plan.Unresolved() == 0 {
		s.status = domain.MergeStatusResolved
	} else {
		s.status = domain.MergeStatusOpen
	}
}

// Cancel abandons the merge and discards its plan
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireMutable(); err != nil {
		return err
	}
	ts := s.now()
	s.status = domain.MergeStatusCancelled
	s.plan = nil
	s.updatedAt = ts
	s.completedAt = &ts
	return nil
}

// StatusView is a point-in-time summary of a session
type StatusView struct {
	ID                string             `json:"id"`
	Status            domain.MergeStatus `json:"status"`
	Strategy          merge.Strategy     `json:"strategy,omitempty"`
	Granularity       string             `json:"granularity,omitempty"`
	Sources           []merge.Source     `json:"sources,omitempty"`
	Conflicts         []merge.Conflict   `json:"conflicts"`
	ConflictsCount    int                `json:"conflicts_count"`
	AutoResolvedCount int                `json:"auto_resolved_count"`
	ResolvedCount     int                `json:"resolved_count"`
	UnresolvedCount   int                `json:"unresolved_count"`
	ProgressPercent   int                `json:"progress_percent"`
	CanFinalize       bool               `json:"can_finalize"`
	Recommendation    string             `json:"recommendation,omitempty"`
	Progress          Progress           `json:"progress"`
	DocumentID        string             `json:"document_id,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
	CompletedAt       *time.Time         `json:"completed_at,omitempty"`
}

// Status returns a deep-copied summary of the session
func (s *Session) Status() StatusView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := StatusView{
		ID:          s.id,
		Status:      s.status,
		Conflicts:   []merge.Conflict{},
		Progress:    s.progress,
		CreatedAt:   s.createdAt,
		UpdatedAt:   s.updatedAt,
		CompletedAt: cloneTime(s.completedAt),
	}
	if s.result != nil {
		v.DocumentID = s.result.DocumentID
	}
	if s.plan == nil {
		return v
	}

	p := s.plan
	v.Strategy = p.Strategy
	v.Granularity = string(p.Granularity)
	v.Sources = append([]merge.Source(nil), p.Sources...)
	v.Conflicts = merge.CloneConflicts(p.Conflicts)
	v.ConflictsCount = p.ConflictsCount
	v.AutoResolvedCount = p.AutoResolvedCount
	v.ResolvedCount = p.Resolved()
	v.UnresolvedCount = p.Unresolved()
	v.ProgressPercent = 100
	if p.ConflictsCount > 0 {
		v.ProgressPercent = (p.ConflictsCount - v.UnresolvedCount) * 100 / p.ConflictsCount
	}
	v.CanFinalize = s.status == domain.MergeStatusResolved ||
		(s.status == domain.MergeStatusOpen && v.UnresolvedCount == 0)
	v.Recommendation = p.Recommendation()
	return v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
