package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lherron/redline/internal/cli/appctx"
	"github.com/lherron/redline/internal/domain"
	"github.com/lherron/redline/internal/store"
	"github.com/spf13/cobra"
)

func newPruneAdmCmd() *cobra.Command {
	var olderThan string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished merge sessions",
		Long: `Prune deletes FINALIZED and CANCELLED merge sessions completed before
the --older-than cutoff. Their events stay in the event log.

Durations accept Go syntax (e.g. 72h) or whole days (e.g. 30d).`,
		Args: cobra.NoArgs,
		RunE: appctx.WithApp(appctx.Options{NeedsDB: true}, func(app *appctx.App, cmd *cobra.Command, args []string) error {
			age, err := parseAge(olderThan)
			if err != nil {
				return exitError(exitInvalid, err)
			}
			cutoff := time.Now().UTC().Add(-age)

			victims, err := pruneCandidates(app.Store, cutoff)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, m := range victims {
				if dryRun {
					fmt.Fprintf(out, "would delete %s (%s)\n", m.ID, m.Status)
					continue
				}
				if err := app.Store.Sessions.Delete(m.UUID); err != nil {
					return err
				}
				app.Log.Info("pruned merge session", "id", m.ID, "status", m.Status)
				fmt.Fprintf(out, "deleted %s (%s)\n", m.ID, m.Status)
			}
			verb := "Deleted"
			if dryRun {
				verb = "Would delete"
			}
			fmt.Fprintf(out, "%s %d merge session(s) completed before %s.\n", verb, len(victims), cutoff.Format(time.RFC3339))
			return nil
		}),
	}

	cmd.Flags().StringVar(&olderThan, "older-than", "30d", "Minimum age since completion")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List sessions without deleting them")
	return cmd
}

func parseAge(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid age %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid age %q", s)
	}
	return d, nil
}

func pruneCandidates(st *store.Store, cutoff time.Time) ([]domain.MergeSession, error) {
	var out []domain.MergeSession
	for _, status := range []domain.MergeStatus{domain.MergeStatusFinalized, domain.MergeStatusCancelled} {
		cur := ""
		for {
			rows, next, err := st.Sessions.List(store.ListParams{Status: status, Limit: 200, Cursor: cur})
			if err != nil {
				return nil, err
			}
			for _, m := range rows {
				done := m.UpdatedAt
				if m.CompletedAt != nil {
					done = *m.CompletedAt
				}
				if done.Before(cutoff) {
					out = append(out, m)
				}
			}
			if next == "" {
				break
			}
			cur = next
		}
	}
	return out, nil
}
