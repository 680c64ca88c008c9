package session

import (
	"time"

	"github.com/lherron/redline/internal/domain"
	"github.com/lherron/redline/internal/merge"
)

// Record is the serializable form of a session
type Record struct {
	ID          string             `json:"id"`
	Status      domain.MergeStatus `json:"status"`
	Plan        *merge.Plan        `json:"plan,omitempty"`
	Progress    Progress           `json:"progress"`
	Result      *Result            `json:"result,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
}

// Record returns a deep copy of the session state
func (s *Session) Record() Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Record{
		ID:          s.id,
		Status:      s.status,
		Plan:        s.plan.Clone(),
		Progress:    s.progress,
		Result:      s.result.clone(),
		CreatedAt:   s.createdAt,
		UpdatedAt:   s.updatedAt,
		CompletedAt: cloneTime(s.completedAt),
	}
}

// Validate checks that a record describes a consistent session
func (r Record) Validate() error {
	if r.ID == "" {
		return domain.Invalid("record has no id")
	}
	if err := domain.ValidateMergeStatus(string(r.Status)); err != nil {
		return domain.Invalid("%s", err)
	}
	if r.Status != domain.MergeStatusCancelled && r.Plan == nil {
		return domain.Invalid("record %s has status %s but no plan", r.ID, r.Status)
	}
	if r.Status == domain.MergeStatusFinalized && r.Result == nil {
		return domain.Invalid("finalized record %s has no result", r.ID)
	}
	if r.Plan != nil {
		for i, c := range r.Plan.Conflicts {
			if c.ResolvedVariant != nil && (*c.ResolvedVariant < 0 || *c.ResolvedVariant >= len(c.Variants)) {
				return domain.Invalid("record %s: conflict %d resolves to missing variant %d", r.ID, i, *c.ResolvedVariant)
			}
		}
	}
	return nil
}

// FromRecord rebuilds a session from its record
func FromRecord(r Record, now func() time.Time, newID func() string) (*Session, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	if newID == nil {
		newID = newDocumentID
	}
	return &Session{
		id:          r.ID,
		status:      r.Status,
		plan:        r.Plan.Clone(),
		progress:    r.Progress,
		result:      r.Result.clone(),
		createdAt:   r.CreatedAt,
		updatedAt:   r.UpdatedAt,
		completedAt: cloneTime(r.CompletedAt),
		now:         now,
		newID:       newID,
	}, nil
}
