package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/lherron/redline/internal/cli/appctx"
	"github.com/lherron/redline/internal/render"
	"github.com/spf13/cobra"
)

type snapshotManifest struct {
	Timestamp      string `json:"timestamp"`
	SourceDBPath   string `json:"source_db_path"`
	SnapshotDBPath string `json:"snapshot_db_path"`
	SizeBytes      int64  `json:"size_bytes"`
}

func newDBAdmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database lifecycle operations",
	}
	cmd.AddCommand(newDBSnapshotCmd())
	return cmd
}

func newDBSnapshotCmd() *cobra.Command {
	var out string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Create a WAL-safe database snapshot",
		Long: `Creates a consistent point-in-time copy of the database with VACUUM INTO.
The snapshot is immediately usable without WAL/SHM files.`,
		Args: cobra.NoArgs,
		RunE: appctx.WithApp(appctx.Options{NeedsDB: true}, func(app *appctx.App, cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(out); err == nil {
				return exitError(exitInvalid, fmt.Errorf("output file already exists: %s (remove it first or choose a different path)", out))
			}

			if _, err := app.DB.Exec("VACUUM INTO ?", out); err != nil {
				os.Remove(out)
				return fmt.Errorf("failed to create snapshot: %w", err)
			}

			manifest := snapshotManifest{
				Timestamp:      time.Now().UTC().Format(time.RFC3339),
				SourceDBPath:   app.Config.DBPath,
				SnapshotDBPath: out,
			}
			if info, err := os.Stat(out); err == nil {
				manifest.SizeBytes = info.Size()
			}
			app.Log.Info("snapshot created", "out", out, "bytes", manifest.SizeBytes)

			if asJSON {
				return render.NewRenderer(cmd.OutOrStdout(), render.Options{Format: render.FormatJSON}).RenderJSON(manifest)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "✓ Created snapshot: %s\n", out)
			fmt.Fprintf(w, "  Source: %s\n", app.Config.DBPath)
			fmt.Fprintf(w, "  Timestamp: %s\n", manifest.Timestamp)
			fmt.Fprintf(w, "\nTo use this snapshot:\n")
			fmt.Fprintf(w, "  export REDLINE_DB_PATH=%s\n", out)
			return nil
		}),
	}

	cmd.Flags().StringVar(&out, "out", "", "Output path for snapshot database (required)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON manifest")
	cmd.MarkFlagRequired("out")
	return cmd
}
