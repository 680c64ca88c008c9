package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lherron/redline/internal/cli/appctx"
	"github.com/lherron/redline/internal/domain"
	"github.com/lherron/redline/internal/merge"
	"github.com/lherron/redline/internal/render"
	"github.com/lherron/redline/internal/session"
	"github.com/lherron/redline/internal/store"
	"github.com/lherron/redline/internal/webhooks"
)

func newMergeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge several versions into one document",
		Long: `Merge aligns two to ten versions into merge units, votes on each unit
and records a conflict wherever the versions disagree. Conflicts are
settled by the chosen strategy or resolved by hand before the merged
document is finalized.

Sessions are referenced by friendly ID (M-00001) or UUID.`,
	}
	cmd.AddCommand(
		newMergeStartCmd(),
		newMergePreviewCmd(),
		newMergeStatusCmd(),
		newMergeConflictsCmd(),
		newMergeResolveCmd(),
		newMergeResolveBulkCmd(),
		newMergeFinalizeCmd(),
		newMergeCancelCmd(),
		newMergeListCmd(),
		newMergeLogCmd(),
	)
	return cmd
}

// withMerges wraps fn with app bootstrap and a merge service bound to it
func withMerges(fn func(app *appctx.App, ms *mergeService, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return appctx.WithApp(appctx.DefaultOptions(), func(app *appctx.App, cmd *cobra.Command, args []string) error {
		hooks := webhooks.New(app.Config.WebhookURLs, app.Log)
		return fn(app, newMergeService(app.Store, hooks, app.Log), cmd, args)
	})
}

type inputFlags struct {
	strategy    string
	granularity string
	base        string
	globs       []string
	progress    bool
}

func (f *inputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.strategy, "strategy", "", "CONSENSUS, MOST_RECENT or MANUAL (default from config)")
	cmd.Flags().StringVar(&f.granularity, "granularity", "", "paragraph, sentence or line (default from config)")
	cmd.Flags().StringVar(&f.base, "base", "", "Source ID of the base version (default: first)")
	cmd.Flags().StringArrayVar(&f.globs, "glob", nil, "Additional doublestar pattern selecting input files")
	cmd.Flags().BoolVar(&f.progress, "progress", false, "Report build progress on stderr")
}

func (f *inputFlags) input(cmd *cobra.Command, app *appctx.App, args []string) (merge.Input, error) {
	paths, err := expandInputs(append(append([]string{}, args...), f.globs...))
	if err != nil {
		return merge.Input{}, err
	}
	versions, err := readVersions(paths)
	if err != nil {
		return merge.Input{}, err
	}

	strategy := app.Config.DefaultStrategy()
	if f.strategy != "" {
		if strategy, err = merge.ParseStrategy(f.strategy); err != nil {
			return merge.Input{}, exitError(exitInvalid, err)
		}
	}
	g, err := granularity(f.granularity, app.Config.DefaultGranularity())
	if err != nil {
		return merge.Input{}, err
	}

	in := merge.Input{
		Versions:     versions,
		BaseSourceID: f.base,
		Granularity:  g,
		Strategy:     strategy,
		Options:      app.Config.DiffOptions(),
	}
	if f.progress {
		errOut := cmd.ErrOrStderr()
		in.OnProgress = func(stage string, done, total int) {
			fmt.Fprintf(errOut, "%s %d/%d\n", stage, done, total)
		}
	}
	return in, nil
}

func newMergeStartCmd() *cobra.Command {
	var f inputFlags
	cmd := &cobra.Command{
		Use:   "start FILE...",
		Short: "Start a merge session from two or more files",
		Args:  cobra.ArbitraryArgs,
		RunE: withMerges(func(app *appctx.App, ms *mergeService, cmd *cobra.Command, args []string) error {
			in, err := f.input(cmd, app, args)
			if err != nil {
				return err
			}
			v, err := ms.Start(context.Background(), in)
			if err != nil {
				return err
			}
			return renderStatus(cmd, app, v)
		}),
	}
	f.register(cmd)
	addOutputFlags(cmd)
	return cmd
}

func newMergePreviewCmd() *cobra.Command {
	var f inputFlags
	cmd := &cobra.Command{
		Use:   "preview FILE...",
		Short: "Show the conflicts a merge would produce without saving it",
		Args:  cobra.ArbitraryArgs,
		RunE: appctx.WithApp(appctx.NoDB(), func(app *appctx.App, cmd *cobra.Command, args []string) error {
			in, err := f.input(cmd, app, args)
			if err != nil {
				return err
			}
			ms := newMergeService(nil, nil, app.Log)
			plan, err := ms.Preview(context.Background(), in)
			if err != nil {
				return err
			}
			r, err := newRenderer(cmd, app.Config)
			if err != nil {
				return err
			}
			if r.Structured() {
				return r.RenderValue(plan)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d units, %d conflicts (%d auto-resolved)\n%s\n\n",
				len(plan.Units), plan.ConflictsCount, plan.AutoResolvedCount, plan.Recommendation())
			return r.RenderConflicts(plan.Conflicts)
		}),
	}
	f.register(cmd)
	addOutputFlags(cmd)
	return cmd
}

func newMergeStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status ID",
		Short: "Show the state of a merge session",
		Args:  cobra.ExactArgs(1),
		RunE: withMerges(func(app *appctx.App, ms *mergeService, cmd *cobra.Command, args []string) error {
			v, err := ms.Status(args[0])
			if err != nil {
				return err
			}
			return renderStatus(cmd, app, v)
		}),
	}
	addOutputFlags(cmd)
	return cmd
}

func newMergeConflictsCmd() *cobra.Command {
	var unresolved bool
	cmd := &cobra.Command{
		Use:   "conflicts ID",
		Short: "List the conflicts of a merge session with their variants",
		Args:  cobra.ExactArgs(1),
		RunE: withMerges(func(app *appctx.App, ms *mergeService, cmd *cobra.Command, args []string) error {
			conflicts, err := ms.Conflicts(args[0])
			if err != nil {
				return err
			}
			if unresolved {
				open := conflicts[:0]
				for _, c := range conflicts {
					if !c.Settled() {
						open = append(open, c)
					}
				}
				conflicts = open
			}
			r, err := newRenderer(cmd, app.Config)
			if err != nil {
				return err
			}
			if r.Structured() {
				return r.RenderValue(conflicts)
			}
			return r.RenderConflicts(conflicts)
		}),
	}
	cmd.Flags().BoolVar(&unresolved, "unresolved", false, "Only show conflicts that still need a decision")
	addOutputFlags(cmd)
	return cmd
}

func newMergeResolveCmd() *cobra.Command {
	var ifMatch int64
	cmd := &cobra.Command{
		Use:   "resolve ID CONFLICT VARIANT",
		Short: "Pick the variant to emit for one conflict",
		Args:  cobra.ExactArgs(3),
		RunE: withMerges(func(app *appctx.App, ms *mergeService, cmd *cobra.Command, args []string) error {
			c, err := parseIndex("conflict", args[1])
			if err != nil {
				return err
			}
			variant, err := parseIndex("variant", args[2])
			if err != nil {
				return err
			}
			v, err := ms.Resolve(args[0], c, variant, ifMatch)
			if err != nil {
				return err
			}
			return renderStatus(cmd, app, v)
		}),
	}
	cmd.Flags().Int64Var(&ifMatch, "if-match", 0, "Only apply if the session etag matches")
	addOutputFlags(cmd)
	return cmd
}

func parseIndex(what, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, exitError(exitInvalid, fmt.Errorf("invalid %s index %q", what, s))
	}
	return n, nil
}

func newMergeResolveBulkCmd() *cobra.Command {
	var file string
	var ifMatch int64
	cmd := &cobra.Command{
		Use:   "resolve-bulk ID",
		Short: "Apply several resolutions at once",
		Long: `Resolve-bulk reads a YAML (or JSON) list of resolutions from --file, or
from stdin when --file is "-" or omitted:

  - conflict_index: 0
    variant_index: 1
  - conflict_index: 3
    variant_index: 0

The batch is atomic: if any entry is invalid nothing is applied.`,
		Args: cobra.ExactArgs(1),
		RunE: withMerges(func(app *appctx.App, ms *mergeService, cmd *cobra.Command, args []string) error {
			resolutions, err := readResolutions(cmd, file)
			if err != nil {
				return err
			}
			v, err := ms.ResolveBulk(args[0], resolutions, ifMatch)
			if err != nil {
				return err
			}
			return renderStatus(cmd, app, v)
		}),
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "Resolutions file (YAML or JSON)")
	cmd.Flags().Int64Var(&ifMatch, "if-match", 0, "Only apply if the session etag matches")
	addOutputFlags(cmd)
	return cmd
}

func readResolutions(cmd *cobra.Command, file string) ([]session.Resolution, error) {
	var r io.Reader = cmd.InOrStdin()
	if file != "" && file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return nil, exitError(exitInvalid, fmt.Errorf("failed to open %s: %w", file, err))
		}
		defer f.Close()
		r = f
	}
	var resolutions []session.Resolution
	if err := yaml.NewDecoder(r).Decode(&resolutions); err != nil {
		if err == io.EOF {
			return nil, domain.Invalid("no resolutions given")
		}
		return nil, exitError(exitInvalid, fmt.Errorf("failed to parse resolutions: %w", err))
	}
	return resolutions, nil
}

func newMergeFinalizeCmd() *cobra.Command {
	var name, out string
	var ifMatch int64
	cmd := &cobra.Command{
		Use:   "finalize ID",
		Short: "Produce the merged document",
		Long: `Finalize assembles the merged document once every conflict is settled.
The text is written to --out, or to stdout. Finalizing a finalized session
again returns the same document.`,
		Args: cobra.ExactArgs(1),
		RunE: withMerges(func(app *appctx.App, ms *mergeService, cmd *cobra.Command, args []string) error {
			res, err := ms.Finalize(args[0], name, ifMatch)
			if err != nil {
				return err
			}
			if out != "" {
				if err := os.WriteFile(out, []byte(res.MergedText), 0644); err != nil {
					return fmt.Errorf("failed to write %s: %w", out, err)
				}
			}

			r, err := newRenderer(cmd, app.Config)
			if err != nil {
				return err
			}
			if r.Structured() {
				return r.RenderValue(res)
			}
			if out == "" {
				fmt.Fprint(cmd.OutOrStdout(), res.MergedText)
				if !strings.HasSuffix(res.MergedText, "\n") {
					fmt.Fprintln(cmd.OutOrStdout())
				}
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Finalized %s: %q (%s), %d bytes written to %s\n",
				res.MergeID, res.DocumentName, res.DocumentID, res.ContentSize, out)
			return nil
		}),
	}
	cmd.Flags().StringVar(&name, "name", "", "Document name (default \"Merged Document <date>\")")
	cmd.Flags().StringVar(&out, "out", "", "Write the merged text to this file")
	cmd.Flags().Int64Var(&ifMatch, "if-match", 0, "Only finalize if the session etag matches")
	addOutputFlags(cmd)
	return cmd
}

func newMergeCancelCmd() *cobra.Command {
	var ifMatch int64
	cmd := &cobra.Command{
		Use:   "cancel ID",
		Short: "Abandon a merge session",
		Args:  cobra.ExactArgs(1),
		RunE: withMerges(func(app *appctx.App, ms *mergeService, cmd *cobra.Command, args []string) error {
			v, err := ms.Cancel(args[0], ifMatch)
			if err != nil {
				return err
			}
			return renderStatus(cmd, app, v)
		}),
	}
	cmd.Flags().Int64Var(&ifMatch, "if-match", 0, "Only cancel if the session etag matches")
	addOutputFlags(cmd)
	return cmd
}

func newMergeListCmd() *cobra.Command {
	var status, cursor string
	var limit int
	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List merge sessions, newest first",
		Args:    cobra.NoArgs,
		RunE: withMerges(func(app *appctx.App, ms *mergeService, cmd *cobra.Command, args []string) error {
			rows, next, err := ms.List(store.ListParams{
				Status: domain.MergeStatus(strings.ToUpper(status)),
				Limit:  limit,
				Cursor: cursor,
			})
			if err != nil {
				return err
			}
			r, err := newRenderer(cmd, app.Config)
			if err != nil {
				return err
			}
			if r.Structured() {
				return r.RenderValue(map[string]interface{}{"merges": rows, "next_cursor": next})
			}
			table := make([][]string, 0, len(rows))
			for _, m := range rows {
				doc := ""
				if m.DocumentName != nil {
					doc = render.Truncate(*m.DocumentName, 40)
				}
				table = append(table, []string{
					m.ID, string(m.Status), m.Strategy, strconv.Itoa(m.VersionCount),
					fmt.Sprintf("%d/%d", m.ResolvedCount, m.ConflictsCount),
					m.CreatedAt.Format("2006-01-02 15:04"), doc,
				})
			}
			if err := r.RenderRows([]string{"ID", "STATUS", "STRATEGY", "VERSIONS", "RESOLVED", "CREATED", "DOCUMENT"}, table); err != nil {
				return err
			}
			if next != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "\nMore results: --cursor %s\n", next)
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (OPEN, RESOLVED, FINALIZED, CANCELLED)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of sessions")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Continue from a previous listing")
	addOutputFlags(cmd)
	return cmd
}

func newMergeLogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log ID",
		Short: "Show the event history of a merge session",
		Args:  cobra.ExactArgs(1),
		RunE: withMerges(func(app *appctx.App, ms *mergeService, cmd *cobra.Command, args []string) error {
			evs, err := ms.Events(args[0])
			if err != nil {
				return err
			}
			r, err := newRenderer(cmd, app.Config)
			if err != nil {
				return err
			}
			if r.Structured() {
				return r.RenderValue(evs)
			}
			rows := make([][]string, 0, len(evs))
			for _, e := range evs {
				etag := ""
				if e.ETag != nil {
					etag = strconv.FormatInt(*e.ETag, 10)
				}
				payload := ""
				if e.Payload != nil {
					payload = render.Truncate(*e.Payload, 60)
				}
				rows = append(rows, []string{e.Timestamp.Format("2006-01-02 15:04:05"), e.EventType, etag, payload})
			}
			return r.RenderRows([]string{"TIME", "EVENT", "ETAG", "PAYLOAD"}, rows)
		}),
	}
	addOutputFlags(cmd)
	return cmd
}

func renderStatus(cmd *cobra.Command, app *appctx.App, v *MergeView) error {
	r, err := newRenderer(cmd, app.Config)
	if err != nil {
		return err
	}
	if r.Structured() {
		return r.RenderValue(v)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s  %s  (etag %d)\n", v.MergeID, v.Status, v.ETag)
	if v.Strategy != "" {
		fmt.Fprintf(w, "strategy:   %s, %s granularity, %d versions\n", v.Strategy, v.Granularity, len(v.Sources))
	}
	fmt.Fprintf(w, "conflicts:  %d (%d auto-resolved, %d resolved, %d open)\n",
		v.ConflictsCount, v.AutoResolvedCount, v.ResolvedCount, v.UnresolvedCount)
	fmt.Fprintf(w, "progress:   %d%%\n", v.ProgressPercent)
	if v.DocumentID != "" {
		fmt.Fprintf(w, "document:   %s\n", v.DocumentID)
	}
	if v.Recommendation != "" {
		fmt.Fprintf(w, "\n%s\n", v.Recommendation)
	}
	return nil
}
