// Package merge aligns two to ten document versions onto a common axis of
// merge units and derives conflicts and consensus picks from them.
package merge

import (
	"context"
	"strings"
	"time"

	"github.com/lherron/redline/internal/diff"
	"github.com/lherron/redline/internal/domain"
	"github.com/lherron/redline/internal/segment"
)

const (
	MinVersions = 2
	MaxVersions = 10
)

// Strategy selects how a consensus variant is picked for a conflict
type Strategy string

const (
	StrategyConsensus  Strategy = "CONSENSUS"
	StrategyMostRecent Strategy = "MOST_RECENT"
	StrategyManual     Strategy = "MANUAL"
)

// ParseStrategy accepts strategy names case-insensitively; empty means CONSENSUS
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")) {
	case "", "CONSENSUS":
		return StrategyConsensus, nil
	case "MOST_RECENT":
		return StrategyMostRecent, nil
	case "MANUAL":
		return StrategyManual, nil
	default:
		return "", domain.Invalid("unknown strategy %q: must be one of: CONSENSUS, MOST_RECENT, MANUAL", s)
	}
}

// Version is one submitted document body. Slice order is submission order.
type Version struct {
	SourceID    string    `json:"source_id"`
	Text        string    `json:"text"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// ProgressFunc receives coarse progress while a merge is being built
type ProgressFunc func(stage string, done, total int)

// Input describes one merge request
type Input struct {
	Versions     []Version
	BaseSourceID string
	Granularity  segment.Granularity
	Strategy     Strategy
	Options      diff.Options
	OnProgress   ProgressFunc
}

// Validate checks the request and fills defaults for granularity,
// strategy and zero-valued options.
func (in *Input) Validate() error {
	if len(in.Versions) < MinVersions {
		return domain.Invalid("at least %d documents required for merge, got %d", MinVersions, len(in.Versions))
	}
	if len(in.Versions) > MaxVersions {
		return domain.Invalid("maximum %d documents can be merged at once, got %d", MaxVersions, len(in.Versions))
	}

	seen := make(map[string]bool, len(in.Versions))
	for i, v := range in.Versions {
		if strings.TrimSpace(v.SourceID) == "" {
			return domain.Invalid("version %d has an empty source id", i+1)
		}
		if seen[v.SourceID] {
			return domain.Invalid("duplicate source id %q", v.SourceID)
		}
		seen[v.SourceID] = true
	}
	if in.BaseSourceID != "" && !seen[in.BaseSourceID] {
		return domain.Invalid("base %q is not among the submitted versions", in.BaseSourceID)
	}

	g, err := segment.ParseGranularity(string(in.Granularity))
	if err != nil {
		return err
	}
	in.Granularity = g

	s, err := ParseStrategy(string(in.Strategy))
	if err != nil {
		return err
	}
	in.Strategy = s

	if in.Options == (diff.Options{}) {
		in.Options = diff.DefaultOptions()
	}
	return in.Options.Validate()
}

func (in *Input) baseIndex() int {
	for i, v := range in.Versions {
		if v.SourceID == in.BaseSourceID {
			return i
		}
	}
	return 0
}

func (in *Input) report(stage string, done, total int) {
	if in.OnProgress != nil {
		in.OnProgress(stage, done, total)
	}
}

// Build aligns the versions and derives the conflict plan
func Build(ctx context.Context, in Input) (*Plan, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	al, err := Align(ctx, in)
	if err != nil {
		return nil, err
	}
	plan := Detect(al, in.Strategy)
	in.report("detect", 1, 1)
	return plan, nil
}
