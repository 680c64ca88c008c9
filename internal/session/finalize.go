package session

import (
	"strings"
	"time"

	"github.com/lherron/redline/internal/domain"
	"github.com/lherron/redline/internal/merge"
	"github.com/lherron/redline/internal/segment"
)

// Origin records why a unit's text ended up in the merged document
type Origin string

const (
	OriginAgreed    Origin = "agreed"
	OriginResolved  Origin = "resolved"
	OriginConsensus Origin = "consensus"
)

// ManifestEntry describes one emitted unit
type ManifestEntry struct {
	Ordinal int      `json:"ordinal"`
	Sources []string `json:"sources"`
	Origin  Origin   `json:"origin"`
}

// Result is the finalized merged document
type Result struct {
	DocumentID   string          `json:"document_id"`
	DocumentName string          `json:"document_name"`
	MergedText   string          `json:"merged_text"`
	ContentSize  int             `json:"content_size"`
	UnitManifest []ManifestEntry `json:"unit_manifest"`
	FinalizedAt  time.Time       `json:"finalized_at"`
}

func (r *Result) clone() *Result {
	if r == nil {
		return nil
	}
	out := *r
	out.UnitManifest = make([]ManifestEntry, len(r.UnitManifest))
	for i, e := range r.UnitManifest {
		e.Sources = append([]string(nil), e.Sources...)
		out.UnitManifest[i] = e
	}
	return &out
}

// DefaultDocumentName is used when Finalize is called without a name
func DefaultDocumentName(t time.Time) string {
	return "Merged Document " + t.Format("2006-01-02 15:04")
}

// Finalize produces the merged document. Calling it again on a finalized
// session returns the stored result unchanged.
func (s *Session) Finalize(name string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.status {
	case domain.MergeStatusFinalized:
		return s.result.clone(), nil
	case domain.MergeStatusCancelled:
		return nil, domain.StateError(s.status, "cancelled merges cannot be finalized")
	}

	texts, manifest, err := assemble(s.plan)
	if err != nil {
		return nil, domain.StateError(s.status, "%s", err)
	}

	ts := s.now()
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultDocumentName(ts)
	}
	merged := segment.Join(texts, s.plan.Granularity)
	s.result = &Result{
		DocumentID:   s.newID(),
		DocumentName: name,
		MergedText:   merged,
		ContentSize:  len(merged),
		UnitManifest: manifest,
		FinalizedAt:  ts,
	}
	s.status = domain.MergeStatusFinalized
	s.updatedAt = ts
	s.completedAt = &ts
	return s.result.clone(), nil
}

type unsettledError struct{}

func (unsettledError) Error() string {
	return "select a variant for all conflicts before finalizing"
}

// assemble picks one variant per unit in axis order. Absent picks emit
// nothing.
func assemble(plan *merge.Plan) ([]string, []ManifestEntry, error) {
	texts := make([]string, 0, len(plan.Units))
	manifest := make([]ManifestEntry, 0, len(plan.Units))

	for _, u := range plan.Units {
		var chosen merge.Variant
		origin := OriginAgreed
		if u.Conflict == nil {
			chosen = u.Variants[0]
		} else {
			c := plan.Conflicts[*u.Conflict]
			idx, ok := c.Choice()
			if !ok {
				return nil, nil, unsettledError{}
			}
			origin = OriginConsensus
			if c.ResolvedVariant != nil {
				origin = OriginResolved
			}
			chosen = c.Variants[idx]
		}
		if chosen.Kind == merge.VariantAbsent {
			continue
		}
		texts = append(texts, chosen.Content)
		manifest = append(manifest, ManifestEntry{
			Ordinal: u.Ordinal,
			Sources: append([]string(nil), chosen.Sources...),
			Origin:  origin,
		})
	}
	return texts, manifest, nil
}
