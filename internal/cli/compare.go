package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/spf13/cobra"

	"github.com/lherron/redline/internal/bulk"
	"github.com/lherron/redline/internal/cli/appctx"
	"github.com/lherron/redline/internal/diff"
	"github.com/lherron/redline/internal/domain"
	"github.com/lherron/redline/internal/segment"
	"github.com/lherron/redline/internal/store"
)

// ComparisonView is a compare result, with its stored row when saved
type ComparisonView struct {
	ID            string `json:"id,omitempty"`
	OriginalLabel string `json:"original_label"`
	ModifiedLabel string `json:"modified_label"`
	*diff.Result
}

type compareFlags struct {
	mode          string
	unified       bool
	context       int
	showUnchanged bool
	save          bool
	keepChanges   bool
}

func newCompareCmd() *cobra.Command {
	var f compareFlags
	cmd := &cobra.Command{
		Use:   "compare ORIGINAL MODIFIED",
		Short: "Classify the changes between two versions",
		Long: `Compare segments both texts and classifies every segment as UNCHANGED,
ADDED, DELETED, MODIFIED, REWORDED or MOVED. Use "-" to read one side
from stdin.

--mode selects the segment boundary: paragraph (alias semantic), sentence,
or line (alias line-by-line). --unified prints a classic unified diff
instead. --save records the comparison summary in the database.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompare(cmd, args, f)
		},
	}
	cmd.Flags().StringVar(&f.mode, "mode", "", "Segment boundary: paragraph, sentence, line (default from config)")
	cmd.Flags().BoolVar(&f.unified, "unified", false, "Print a unified diff")
	cmd.Flags().IntVar(&f.context, "context", 3, "Context lines for --unified")
	cmd.Flags().BoolVar(&f.showUnchanged, "all", false, "Include unchanged segments")
	cmd.Flags().BoolVar(&f.save, "save", false, "Record the comparison in the database")
	cmd.Flags().BoolVar(&f.keepChanges, "keep-changes", false, "With --save, store the full change list")
	addOutputFlags(cmd)
	return cmd
}

func compareOptions(f compareFlags) appctx.Options {
	if f.save {
		return appctx.DefaultOptions()
	}
	return appctx.NoDB()
}

func runCompare(cmd *cobra.Command, args []string, f compareFlags) error {
	app, err := appctx.Bootstrap(cmd, compareOptions(f))
	if err != nil {
		return err
	}
	defer app.Close()

	original, err := readText(cmd, args[0])
	if err != nil {
		return err
	}
	modified, err := readText(cmd, args[1])
	if err != nil {
		return err
	}

	if f.unified {
		out, err := diff.Unified(original, modified, args[0], args[1], f.context)
		if err != nil {
			return fmt.Errorf("failed to build unified diff: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	}

	g, err := granularity(f.mode, app.Config.DefaultGranularity())
	if err != nil {
		return err
	}
	result, err := diff.CompareText(original, modified, g, app.Config.DiffOptions(), nil)
	if err != nil {
		return err
	}

	v := &ComparisonView{OriginalLabel: args[0], ModifiedLabel: args[1], Result: result}
	if f.save {
		row, err := app.Store.Comparisons.Create(store.ComparisonParams{
			OriginalLabel: args[0],
			ModifiedLabel: args[1],
			Result:        result,
			KeepChanges:   f.keepChanges,
		})
		if err != nil {
			return err
		}
		v.ID = row.ID
		app.Log.Info("comparison saved", "id", row.ID, "changes", result.Summary.TotalChanges)
	}

	r, err := newRenderer(cmd, app.Config)
	if err != nil {
		return err
	}
	if r.Structured() {
		return r.RenderValue(v)
	}
	if v.ID != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Saved as %s\n\n", v.ID)
	}
	return r.RenderComparison(result, f.showUnchanged)
}

func granularity(flag string, fallback segment.Granularity) (segment.Granularity, error) {
	if flag == "" {
		return fallback, nil
	}
	g, err := segment.ParseGranularity(flag)
	if err != nil {
		return "", exitError(exitInvalid, err)
	}
	return g, nil
}

type batchFlags struct {
	mode            string
	jobs            int
	continueOnError bool
	save            bool
}

// BatchRow is one line of compare-batch output
type BatchRow struct {
	File         string        `json:"file"`
	ComparisonID string        `json:"comparison_id,omitempty"`
	Summary      *diff.Summary `json:"summary,omitempty"`
	Error        string        `json:"error,omitempty"`
}

func newCompareBatchCmd() *cobra.Command {
	var f batchFlags
	cmd := &cobra.Command{
		Use:   "compare-batch BASE VERSION...",
		Short: "Compare many versions against one base in parallel",
		Long: `Compare-batch compares every VERSION against BASE and prints one
summary row per version. VERSION arguments may be doublestar glob patterns
such as 'drafts/**/*.txt'. Work is spread over --jobs workers.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompareBatch(cmd, args, f)
		},
	}
	cmd.Flags().StringVar(&f.mode, "mode", "", "Segment boundary: paragraph, sentence, line (default from config)")
	cmd.Flags().IntVarP(&f.jobs, "jobs", "j", 0, "Parallel workers (0 = number of CPUs)")
	cmd.Flags().BoolVar(&f.continueOnError, "continue-on-error", true, "Keep going after a failed comparison")
	cmd.Flags().BoolVar(&f.save, "save", false, "Record each comparison in the database")
	addOutputFlags(cmd)
	return cmd
}

func runCompareBatch(cmd *cobra.Command, args []string, f batchFlags) error {
	app, err := appctx.Bootstrap(cmd, compareOptions(compareFlags{save: f.save}))
	if err != nil {
		return err
	}
	defer app.Close()

	base, err := readText(cmd, args[0])
	if err != nil {
		return err
	}
	files, err := expandInputs(args[1:])
	if err != nil {
		return err
	}
	g, err := granularity(f.mode, app.Config.DefaultGranularity())
	if err != nil {
		return err
	}
	opts := app.Config.DiffOptions()

	var mu sync.Mutex
	rows := make(map[string]*BatchRow, len(files))

	op := &bulk.Operation{
		Jobs:            f.jobs,
		ContinueOnError: f.continueOnError,
		ShowProgress:    true,
		Log:             cmd.ErrOrStderr(),
	}
	result := op.Execute(context.Background(), files, func(_ context.Context, file string) error {
		text, err := readText(cmd, file)
		if err != nil {
			return err
		}
		res, err := diff.CompareText(base, text, g, opts, nil)
		if err != nil {
			return err
		}
		row := &BatchRow{File: file, Summary: &res.Summary}
		if f.save {
			c, err := app.Store.Comparisons.Create(store.ComparisonParams{
				OriginalLabel: args[0],
				ModifiedLabel: file,
				Result:        res,
			})
			if err != nil {
				return err
			}
			row.ComparisonID = c.ID
		}
		mu.Lock()
		rows[file] = row
		mu.Unlock()
		return nil
	})

	for _, e := range result.Errors {
		rows[e.Item] = &BatchRow{File: e.Item, Error: e.Error.Error()}
	}
	ordered := make([]*BatchRow, 0, len(files))
	for _, file := range files {
		if row, ok := rows[file]; ok {
			ordered = append(ordered, row)
		}
	}

	r, err := newRenderer(cmd, app.Config)
	if err != nil {
		return err
	}
	if r.Structured() {
		if err := r.RenderValue(ordered); err != nil {
			return err
		}
	} else {
		table := make([][]string, 0, len(ordered))
		for _, row := range ordered {
			if row.Summary == nil {
				table = append(table, []string{filepath.ToSlash(row.File), "-", "-", "-", "-", "-", "error: " + row.Error})
				continue
			}
			s := row.Summary
			table = append(table, []string{
				filepath.ToSlash(row.File),
				strconv.Itoa(s.TotalChanges),
				strconv.Itoa(s.CriticalChanges),
				strconv.Itoa(s.MajorChanges),
				strconv.Itoa(s.MinorChanges),
				strconv.FormatFloat(s.SimilarityScore, 'f', 3, 64),
				row.ComparisonID,
			})
		}
		if err := r.RenderRows([]string{"FILE", "CHANGES", "CRITICAL", "MAJOR", "MINOR", "SIMILARITY", "ID"}, table); err != nil {
			return err
		}
		if result.Failed > 0 || result.Skipped > 0 {
			result.PrintSummary(cmd.ErrOrStderr())
		}
	}

	if code := result.ExitCode(); code != 0 {
		return exitError(code, fmt.Errorf("%d of %d comparisons failed", result.Failed, result.TotalItems))
	}
	return nil
}

func newComparisonsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "comparisons [ID]",
		Short: "List saved comparisons, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: appctx.WithApp(appctx.DefaultOptions(), func(app *appctx.App, cmd *cobra.Command, args []string) error {
			r, err := newRenderer(cmd, app.Config)
			if err != nil {
				return err
			}
			var list []domain.Comparison
			if len(args) == 1 {
				c, err := app.Store.Comparisons.Get(args[0])
				if err != nil {
					return err
				}
				list = []domain.Comparison{*c}
			} else if list, err = app.Store.Comparisons.Recent(limit); err != nil {
				return err
			}

			if r.Structured() {
				if len(args) == 1 {
					return r.RenderValue(list[0])
				}
				return r.RenderValue(list)
			}
			rows := make([][]string, 0, len(list))
			for i := range list {
				c := &list[i]
				rows = append(rows, []string{
					c.ID, c.OriginalLabel, c.ModifiedLabel, c.Mode,
					strconv.Itoa(c.TotalChanges), strconv.FormatFloat(c.SimilarityScore, 'f', 3, 64),
					c.CreatedAt.Format("2006-01-02 15:04"),
				})
			}
			return r.RenderRows([]string{"ID", "ORIGINAL", "MODIFIED", "MODE", "CHANGES", "SIMILARITY", "CREATED"}, rows)
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of comparisons")
	addOutputFlags(cmd)
	return cmd
}
