package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/lherron/redline/internal/cli/appctx"
	"github.com/lherron/redline/internal/db"
	"github.com/lherron/redline/internal/domain"
	"github.com/lherron/redline/internal/render"
	"github.com/lherron/redline/internal/session"
	"github.com/spf13/cobra"
)

type checkResult struct {
	Name    string   `json:"name"`
	Status  string   `json:"status"` // "ok", "warning", "error"
	Message string   `json:"message,omitempty"`
	Details []string `json:"details,omitempty"`
}

type doctorReport struct {
	Version       string        `json:"version"`
	DBPath        string        `json:"db_path"`
	Checks        []checkResult `json:"checks"`
	Fixes         []string      `json:"fixes,omitempty"`
	Warnings      int           `json:"warnings"`
	Errors        int           `json:"errors"`
	OverallStatus string        `json:"overall_status"`
}

func newDoctorAdmCmd() *cobra.Command {
	var asJSON, fix, details bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check database health",
		Long: `Performs health checks on the database file, pragmas, schema, stored
merge sessions and friendly-ID sequences.

Use --fix to advance friendly-ID counters that fell behind their tables.`,
		Args: cobra.NoArgs,
		RunE: appctx.WithApp(appctx.NoDB(), func(app *appctx.App, cmd *cobra.Command, args []string) error {
			report := runDoctor(app.Config.DBPath, fix)
			app.Log.Info("doctor finished", "errors", report.Errors, "warnings", report.Warnings)

			if asJSON {
				r := render.NewRenderer(cmd.OutOrStdout(), render.Options{Format: render.FormatJSON})
				if err := r.RenderJSON(report); err != nil {
					return err
				}
			} else {
				printDoctorReport(cmd.OutOrStdout(), report, details)
			}

			if report.Errors > 0 {
				return exitError(exitGeneric, fmt.Errorf("doctor found %d error(s)", report.Errors))
			}
			return nil
		}),
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	cmd.Flags().BoolVar(&fix, "fix", false, "Auto-repair issues")
	cmd.Flags().BoolVar(&details, "details", false, "Show details for each check")
	return cmd
}

func runDoctor(dbPath string, fix bool) *doctorReport {
	report := &doctorReport{
		Version:       Version,
		DBPath:        dbPath,
		Checks:        []checkResult{},
		OverallStatus: "ok",
	}

	report.Checks = append(report.Checks, checkDatabaseFile(dbPath)...)

	var database *db.DB
	if _, err := os.Stat(dbPath); err == nil {
		database, err = db.Open(dbPath)
		if err != nil {
			report.Checks = append(report.Checks, checkResult{
				Name:    "database_open",
				Status:  "error",
				Message: fmt.Sprintf("Failed to open database: %v", err),
			})
		}
	}
	if database != nil {
		defer database.Close()
		report.Checks = append(report.Checks, checkDatabasePragmas(database)...)
		report.Checks = append(report.Checks, checkMigrations(database)...)
		report.Checks = append(report.Checks, checkSchema(database)...)
		report.Checks = append(report.Checks, checkSessionSnapshots(database)...)
		report.Checks = append(report.Checks, checkSequenceDrift(database)...)
		report.Checks = append(report.Checks, checkVolume(database)...)
	}

	for _, check := range report.Checks {
		switch check.Status {
		case "warning":
			report.Warnings++
		case "error":
			report.Errors++
			report.OverallStatus = "error"
		}
	}
	if report.Warnings > 0 && report.OverallStatus == "ok" {
		report.OverallStatus = "warning"
	}

	if fix && database != nil {
		report.Fixes = applyFixes(database)
	}
	return report
}

func checkDatabaseFile(dbPath string) []checkResult {
	info, err := os.Stat(dbPath)
	if err != nil {
		return []checkResult{{
			Name:    "db_file_exists",
			Status:  "error",
			Message: fmt.Sprintf("Database file not found: %s", dbPath),
			Details: []string{"Run 'redlineadm migrate' to create it"},
		}}
	}

	results := []checkResult{{
		Name:    "db_file_exists",
		Status:  "ok",
		Message: fmt.Sprintf("Database file: %s (%.1f MB)", dbPath, float64(info.Size())/(1024*1024)),
	}}

	f, err := os.OpenFile(dbPath, os.O_RDWR, 0)
	if err != nil {
		results = append(results, checkResult{
			Name:    "db_file_permissions",
			Status:  "error",
			Message: fmt.Sprintf("Database file not writable: %v", err),
		})
	} else {
		f.Close()
		results = append(results, checkResult{
			Name:    "db_file_permissions",
			Status:  "ok",
			Message: "Database file is readable and writable",
		})
	}
	return results
}

func checkDatabasePragmas(database *db.DB) []checkResult {
	var results []checkResult

	var journalMode string
	database.QueryRow("PRAGMA journal_mode").Scan(&journalMode)
	if journalMode == "wal" {
		results = append(results, checkResult{Name: "wal_mode", Status: "ok", Message: "WAL mode enabled"})
	} else {
		results = append(results, checkResult{
			Name:    "wal_mode",
			Status:  "warning",
			Message: fmt.Sprintf("WAL mode not enabled (current: %s)", journalMode),
			Details: []string{"Run 'PRAGMA journal_mode=WAL' to enable"},
		})
	}

	var foreignKeys int
	database.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys)
	if foreignKeys == 1 {
		results = append(results, checkResult{Name: "foreign_keys", Status: "ok", Message: "Foreign keys enabled"})
	} else {
		results = append(results, checkResult{
			Name:    "foreign_keys",
			Status:  "error",
			Message: "Foreign keys not enabled",
		})
	}

	var integrity string
	database.QueryRow("PRAGMA integrity_check").Scan(&integrity)
	if integrity == "ok" {
		results = append(results, checkResult{Name: "integrity_check", Status: "ok", Message: "Database integrity check passed"})
	} else {
		results = append(results, checkResult{
			Name:    "integrity_check",
			Status:  "error",
			Message: fmt.Sprintf("Database integrity check failed: %s", integrity),
			Details: []string{"Database may be corrupted", "Restore from backup recommended"},
		})
	}
	return results
}

func checkMigrations(database *db.DB) []checkResult {
	applied, pending, err := database.MigrationStatus()
	if err != nil {
		return []checkResult{{
			Name:    "migrations",
			Status:  "error",
			Message: fmt.Sprintf("Failed to read migration status: %v", err),
		}}
	}
	if len(pending) > 0 {
		return []checkResult{{
			Name:    "migrations",
			Status:  "error",
			Message: fmt.Sprintf("%d pending migration(s)", len(pending)),
			Details: append([]string{"Run 'redlineadm migrate' to apply:"}, pending...),
		}}
	}
	return []checkResult{{
		Name:    "migrations",
		Status:  "ok",
		Message: fmt.Sprintf("Schema up to date (%d migration(s) applied)", len(applied)),
	}}
}

var requiredTables = []string{
	"schema_migrations", "merge_seq", "comparison_seq", "merge_sessions", "comparisons", "event_log",
}

func checkSchema(database *db.DB) []checkResult {
	var missing []string
	for _, table := range requiredTables {
		var count int
		err := database.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if err != nil || count == 0 {
			missing = append(missing, table)
		}
	}

	if len(missing) > 0 {
		return []checkResult{{
			Name:    "schema_tables",
			Status:  "error",
			Message: fmt.Sprintf("Missing tables: %v", missing),
			Details: []string{"Run migrations to create missing tables"},
		}}
	}
	return []checkResult{{
		Name:    "schema_tables",
		Status:  "ok",
		Message: fmt.Sprintf("All required tables present (%d/%d)", len(requiredTables), len(requiredTables)),
	}}
}

// checkSessionSnapshots decodes every stored session and compares it with
// its summary columns.
func checkSessionSnapshots(database *db.DB) []checkResult {
	rows, err := database.Query("SELECT id, status, document_id, snapshot FROM merge_sessions ORDER BY id")
	if err != nil {
		return []checkResult{{
			Name:    "session_snapshots",
			Status:  "error",
			Message: fmt.Sprintf("Failed to read merge sessions: %v", err),
		}}
	}
	defer rows.Close()

	var total int
	var undecodable, mismatched, missingDoc []string
	for rows.Next() {
		var id, status, snapshot string
		var documentID *string
		if err := rows.Scan(&id, &status, &documentID, &snapshot); err != nil {
			undecodable = append(undecodable, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		total++

		var rec session.Record
		if err := json.Unmarshal([]byte(snapshot), &rec); err != nil {
			undecodable = append(undecodable, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		if _, err := session.FromRecord(rec, nil, nil); err != nil {
			undecodable = append(undecodable, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		if string(rec.Status) != status {
			mismatched = append(mismatched, fmt.Sprintf("%s: column %s, snapshot %s", id, status, rec.Status))
		}
		if domain.MergeStatus(status) == domain.MergeStatusFinalized && documentID == nil {
			missingDoc = append(missingDoc, id)
		}
	}

	var results []checkResult
	if len(undecodable) == 0 {
		results = append(results, checkResult{
			Name:    "session_snapshots",
			Status:  "ok",
			Message: fmt.Sprintf("%d merge session snapshot(s) decode cleanly", total),
		})
	} else {
		results = append(results, checkResult{
			Name:    "session_snapshots",
			Status:  "error",
			Message: fmt.Sprintf("%d merge session snapshot(s) cannot be restored", len(undecodable)),
			Details: undecodable,
		})
	}

	if len(mismatched) == 0 {
		results = append(results, checkResult{Name: "session_status", Status: "ok", Message: "Session status columns match snapshots"})
	} else {
		results = append(results, checkResult{
			Name:    "session_status",
			Status:  "warning",
			Message: fmt.Sprintf("%d session(s) with a status column that disagrees with the snapshot", len(mismatched)),
			Details: mismatched,
		})
	}

	if len(missingDoc) == 0 {
		results = append(results, checkResult{Name: "finalized_documents", Status: "ok", Message: "Every finalized session has a document"})
	} else {
		results = append(results, checkResult{
			Name:    "finalized_documents",
			Status:  "warning",
			Message: fmt.Sprintf("%d finalized session(s) without a document id", len(missingDoc)),
			Details: missingDoc,
		})
	}
	return results
}

func checkSequenceDrift(database *db.DB) []checkResult {
	drifts, err := db.CheckSequences(database)
	if err != nil {
		return []checkResult{{
			Name:    "sequence_drift",
			Status:  "error",
			Message: fmt.Sprintf("Failed to check friendly-ID counters: %v", err),
		}}
	}
	if len(drifts) == 0 {
		return []checkResult{{
			Name:    "sequence_drift",
			Status:  "ok",
			Message: "Friendly-ID counters are ahead of every stored ID",
		}}
	}

	details := make([]string, 0, len(drifts))
	for _, drift := range drifts {
		details = append(details, drift.String())
	}
	return []checkResult{{
		Name:    "sequence_drift",
		Status:  "error",
		Message: fmt.Sprintf("%d friendly-ID counter(s) behind their table", len(drifts)),
		Details: append(details, "Use --fix to repair"),
	}}
}

func checkVolume(database *db.DB) []checkResult {
	var results []checkResult

	counts := map[string]int{}
	rows, err := database.Query("SELECT status, COUNT(*) FROM merge_sessions GROUP BY status")
	if err == nil {
		for rows.Next() {
			var status string
			var n int
			if rows.Scan(&status, &n) == nil {
				counts[status] = n
			}
		}
		rows.Close()
	}
	results = append(results, checkResult{
		Name:   "session_counts",
		Status: "ok",
		Message: fmt.Sprintf("%d open, %d resolved, %d finalized, %d cancelled merge sessions",
			counts[string(domain.MergeStatusOpen)], counts[string(domain.MergeStatusResolved)],
			counts[string(domain.MergeStatusFinalized)], counts[string(domain.MergeStatusCancelled)]),
	})

	var comparisons, events int
	database.QueryRow("SELECT COUNT(*) FROM comparisons").Scan(&comparisons)
	database.QueryRow("SELECT COUNT(*) FROM event_log").Scan(&events)
	results = append(results, checkResult{
		Name:    "history_counts",
		Status:  "ok",
		Message: fmt.Sprintf("%d saved comparisons, %d events", comparisons, events),
	})

	var pageCount, pageSize int64
	database.QueryRow("PRAGMA page_count").Scan(&pageCount)
	database.QueryRow("PRAGMA page_size").Scan(&pageSize)
	results = append(results, checkResult{
		Name:    "database_size",
		Status:  "ok",
		Message: fmt.Sprintf("Database size: %.1f MB (%d pages)", float64(pageCount*pageSize)/(1024*1024), pageCount),
	})
	return results
}

func applyFixes(database *db.DB) []string {
	drifts, err := db.RepairSequences(database)
	switch {
	case err != nil:
		return []string{fmt.Sprintf("Sequence repair failed: %v", err)}
	case len(drifts) > 0:
		return []string{fmt.Sprintf("Advanced %d friendly-ID counter(s)", len(drifts))}
	default:
		return []string{"No friendly-ID counter needed repair"}
	}
}

var doctorCategories = []struct {
	title  string
	checks []string
}{
	{"Database File", []string{"db_file_exists", "db_file_permissions", "database_open"}},
	{"Database Health", []string{"wal_mode", "foreign_keys", "integrity_check"}},
	{"Schema", []string{"migrations", "schema_tables"}},
	{"Merge Sessions", []string{"session_snapshots", "session_status", "finalized_documents"}},
	{"Sequences", []string{"sequence_drift"}},
	{"Volume", []string{"session_counts", "history_counts", "database_size"}},
}

func printDoctorReport(out io.Writer, report *doctorReport, details bool) {
	fmt.Fprintf(out, "redlineadm doctor %s\n\n", report.Version)
	fmt.Fprintf(out, "Database: %s\n\n", report.DBPath)

	byName := make(map[string]checkResult, len(report.Checks))
	for _, check := range report.Checks {
		byName[check.Name] = check
	}

	for _, category := range doctorCategories {
		var checks []checkResult
		for _, name := range category.checks {
			if check, ok := byName[name]; ok {
				checks = append(checks, check)
			}
		}
		if len(checks) == 0 {
			continue
		}

		fmt.Fprintf(out, "%s\n", category.title)
		for _, check := range checks {
			icon := "✓"
			switch check.Status {
			case "warning":
				icon = "⚠"
			case "error":
				icon = "✗"
			}
			fmt.Fprintf(out, "  %s %s\n", icon, check.Message)
			if details {
				for _, detail := range check.Details {
					fmt.Fprintf(out, "      %s\n", detail)
				}
			}
		}
		fmt.Fprintln(out)
	}

	if len(report.Fixes) > 0 {
		fmt.Fprintln(out, "--fix results")
		fmt.Fprintln(out, strings.Join(report.Fixes, "\n"))
		fmt.Fprintln(out)
	}

	switch {
	case report.Errors > 0:
		fmt.Fprintf(out, "Summary: %d error(s), %d warning(s)\n", report.Errors, report.Warnings)
	case report.Warnings > 0:
		fmt.Fprintf(out, "Summary: %d warning(s)\n", report.Warnings)
	default:
		fmt.Fprintln(out, "Summary: All checks passed ✓")
	}
	if (report.Warnings > 0 || report.Errors > 0) && !details {
		fmt.Fprintln(out, "\nRun with --details for more information")
	}
}
