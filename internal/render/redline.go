package render

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/lherron/redline/internal/diff"
	"github.com/lherron/redline/internal/merge"
)

type palette struct {
	removed *color.Color
	added   *color.Color
	heading *color.Color
	muted   *color.Color
	warn    *color.Color
	ok      *color.Color
}

func (r *Renderer) palette() palette {
	p := palette{
		removed: color.New(color.FgRed, color.CrossedOut),
		added:   color.New(color.FgGreen, color.Underline),
		heading: color.New(color.FgCyan, color.Bold),
		muted:   color.New(color.FgHiBlack),
		warn:    color.New(color.FgYellow),
		ok:      color.New(color.FgGreen),
	}
	for _, c := range []*color.Color{p.removed, p.added, p.heading, p.muted, p.warn, p.ok} {
		if r.opts.Color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// RenderComparison prints a compare result as a redline: one block per
// change with inline word edits, followed by the summary.
func (r *Renderer) RenderComparison(res *diff.Result, showUnchanged bool) error {
	p := r.palette()
	for _, c := range res.Changes {
		if c.Kind == diff.KindUnchanged && !showUnchanged {
			continue
		}
		label := string(c.Kind)
		if c.SemanticShift {
			label += " (semantic shift)"
		}
		header := fmt.Sprintf("%s %s", label, c.Location)
		if c.Kind == diff.KindModified || c.Kind == diff.KindReworded || c.Kind == diff.KindMoved {
			header += fmt.Sprintf(" similarity=%.3f", c.Similarity)
		}
		fmt.Fprintln(r.writer, p.heading.Sprint(header))

		switch {
		case len(c.Fragments) > 0:
			fmt.Fprintln(r.writer, "  "+r.inline(p, c.Fragments))
		case c.Kind == diff.KindAdded:
			fmt.Fprintln(r.writer, "  "+p.added.Sprint(deref(c.NewText)))
		case c.Kind == diff.KindDeleted:
			fmt.Fprintln(r.writer, "  "+p.removed.Sprint(deref(c.OriginalText)))
		case c.Kind == diff.KindMoved:
			fmt.Fprintln(r.writer, "  "+p.muted.Sprint(deref(c.NewText)))
		default:
			fmt.Fprintln(r.writer, "  "+deref(c.OriginalText))
		}
	}

	s := res.Summary
	fmt.Fprintf(r.writer, "\n%s changes: %d (critical %d, major %d, minor %d), similarity %.3f\n",
		p.heading.Sprint("Summary"), s.TotalChanges, s.CriticalChanges, s.MajorChanges, s.MinorChanges, s.SimilarityScore)
	return nil
}

func (r *Renderer) inline(p palette, frags []diff.Fragment) string {
	var sb strings.Builder
	for _, f := range frags {
		switch f.Op {
		case "delete":
			sb.WriteString(p.removed.Sprint(f.Text))
		case "insert":
			sb.WriteString(p.added.Sprint(f.Text))
		case "replace":
			sb.WriteString(p.removed.Sprint(f.Text))
			sb.WriteString(p.added.Sprint(f.Replacement))
		default:
			sb.WriteString(f.Text)
		}
	}
	return sb.String()
}

// RenderConflicts prints every conflict with its variants. The emitted
// variant is marked with "*", consensus picks with "(consensus)".
func (r *Renderer) RenderConflicts(conflicts []merge.Conflict) error {
	p := r.palette()
	if len(conflicts) == 0 {
		fmt.Fprintln(r.writer, p.ok.Sprint("No conflicts"))
		return nil
	}
	for _, c := range conflicts {
		state := p.warn.Sprint("unresolved")
		if c.ResolvedVariant != nil {
			state = p.ok.Sprint("resolved")
		} else if c.ConsensusVariant != nil {
			state = p.ok.Sprint("auto")
		}
		fmt.Fprintf(r.writer, "%s %s %s [%s]\n", p.heading.Sprintf("#%d", c.Index), c.Type, c.Location, state)

		choice, hasChoice := c.Choice()
		for i, v := range c.Variants {
			mark := " "
			if hasChoice && choice == i {
				mark = "*"
			}
			text := v.Content
			if v.Kind == merge.VariantAbsent {
				text = p.muted.Sprint("<absent>")
			}
			note := ""
			if c.ConsensusVariant != nil && *c.ConsensusVariant == i {
				note = " (consensus)"
			}
			fmt.Fprintf(r.writer, "  %s [%d] %d vote(s) %s%s\n      %s\n",
				mark, i, v.Votes, p.muted.Sprint(strings.Join(v.Sources, ",")), note, text)
		}
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
