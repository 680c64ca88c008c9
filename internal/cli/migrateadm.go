package cli

import (
	"fmt"
	"io"

	"github.com/lherron/redline/internal/cli/appctx"
	"github.com/lherron/redline/internal/db"
	"github.com/spf13/cobra"
)

func newMigrateAdmCmd() *cobra.Command {
	var dryRun, status bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run any pending database migrations",
		Long: `Migrate applies any pending SQL migrations to the database, creating
the database file if it does not exist.

Migrations are embedded in the binary and tracked via the schema_migrations
table. Each migration file (e.g., 000001_init.sql) is applied exactly once,
so the command is safe to run repeatedly.

Use --dry-run to see which migrations would be applied without running them.
Use --status to show the current migration status.`,
		Args: cobra.NoArgs,
		RunE: appctx.WithApp(appctx.NoDB(), func(app *appctx.App, cmd *cobra.Command, args []string) error {
			if app.Config.DBPath == "" {
				return exitError(exitInvalid, fmt.Errorf("database path not specified (use --db flag or set REDLINE_DB_PATH)"))
			}

			database, err := db.Open(app.Config.DBPath)
			if err != nil {
				return exitError(exitGeneric, fmt.Errorf("failed to open database: %w", err))
			}
			defer database.Close()

			out := cmd.OutOrStdout()
			switch {
			case status:
				return showMigrationStatus(out, database)
			case dryRun:
				return showPendingMigrations(out, database)
			}

			applied, err := database.MigrateWithInfo()
			if err != nil {
				return exitError(exitGeneric, fmt.Errorf("failed to run migrations: %w", err))
			}
			app.Log.Info("migrations applied", "db", app.Config.DBPath, "count", len(applied))

			if len(applied) == 0 {
				fmt.Fprintln(out, "Database is up to date. No migrations to apply.")
				return nil
			}
			for _, m := range applied {
				fmt.Fprintf(out, "✓ Applied migration: %s\n", m)
			}
			fmt.Fprintf(out, "\nApplied %d migration(s).\n", len(applied))
			return nil
		}),
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show which migrations would be applied without running them")
	cmd.Flags().BoolVar(&status, "status", false, "Show current migration status")
	return cmd
}

func showMigrationStatus(out io.Writer, database *db.DB) error {
	applied, pending, err := database.MigrationStatus()
	if err != nil {
		return exitError(exitGeneric, fmt.Errorf("failed to get migration status: %w", err))
	}

	if len(applied) == 0 && len(pending) == 0 {
		fmt.Fprintln(out, "No migrations found.")
		return nil
	}

	if len(applied) > 0 {
		fmt.Fprintln(out, "Applied migrations:")
		for _, m := range applied {
			fmt.Fprintf(out, "  ✓ %s\n", m)
		}
	}

	if len(pending) > 0 {
		if len(applied) > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintln(out, "Pending migrations:")
		for _, m := range pending {
			fmt.Fprintf(out, "  ○ %s\n", m)
		}
	}
	return nil
}

func showPendingMigrations(out io.Writer, database *db.DB) error {
	_, pending, err := database.MigrationStatus()
	if err != nil {
		return exitError(exitGeneric, fmt.Errorf("failed to get migration status: %w", err))
	}

	if len(pending) == 0 {
		fmt.Fprintln(out, "No pending migrations. Database is up to date.")
		return nil
	}

	fmt.Fprintln(out, "Pending migrations (would be applied):")
	for _, m := range pending {
		fmt.Fprintf(out, "  ○ %s\n", m)
	}
	fmt.Fprintf(out, "\nTotal: %d migration(s) would be applied.\n", len(pending))
	return nil
}
