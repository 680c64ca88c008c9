package appctx

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/lherron/redline/internal/db"
)

func testCmd() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Flags().String("db", "", "Database path")
	cmd.Flags().Bool("verbose", false, "Verbose")
	return cmd
}

func TestBootstrap_ConfigOnly(t *testing.T) {
	t.Setenv("REDLINE_DB_PATH", filepath.Join(t.TempDir(), "never.db"))

	app, err := Bootstrap(testCmd(), NoDB())
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	defer app.Close()

	if app.Config == nil || app.Log == nil {
		t.Fatal("Config and Log should be set")
	}
	if app.DB != nil || app.Store != nil {
		t.Error("DB should be nil when NeedsDB is false")
	}
	if _, err := os.Stat(app.Config.DBPath); !os.IsNotExist(err) {
		t.Error("config-only bootstrap must not create the database")
	}
}

func TestBootstrap_CreatesFreshDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "redline.db")
	t.Setenv("REDLINE_DB_PATH", dbPath)

	app, err := Bootstrap(testCmd(), DefaultOptions())
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	defer app.Close()

	if app.Store == nil {
		t.Fatal("Store should be set")
	}
	_, pending, err := app.DB.MigrationStatus()
	if err != nil {
		t.Fatalf("MigrationStatus failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("fresh database should be fully migrated, %d pending", len(pending))
	}
}

func TestBootstrap_DBFlagOverride(t *testing.T) {
	t.Setenv("REDLINE_DB_PATH", filepath.Join(t.TempDir(), "env.db"))
	flagPath := filepath.Join(t.TempDir(), "flag.db")

	cmd := testCmd()
	if err := cmd.Flags().Set("db", flagPath); err != nil {
		t.Fatal(err)
	}
	app, err := Bootstrap(cmd, DefaultOptions())
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	defer app.Close()

	if app.Config.DBPath != flagPath {
		t.Errorf("expected --db to win, got %s", app.Config.DBPath)
	}
}

func TestBootstrap_MissingDBWithoutCreate(t *testing.T) {
	t.Setenv("REDLINE_DB_PATH", filepath.Join(t.TempDir(), "missing.db"))

	_, err := Bootstrap(testCmd(), Options{NeedsDB: true})
	if err == nil || !strings.Contains(err.Error(), "redlineadm migrate") {
		t.Fatalf("expected missing database error, got %v", err)
	}
}

func TestBootstrap_RejectsPendingMigrations(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "old.db")
	database, err := db.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	// an existing file that was never migrated
	if _, err := database.Exec("CREATE TABLE placeholder (id INTEGER)"); err != nil {
		t.Fatal(err)
	}
	database.Close()
	t.Setenv("REDLINE_DB_PATH", dbPath)

	_, err = Bootstrap(testCmd(), DefaultOptions())
	if err == nil || !strings.Contains(err.Error(), "pending migration") {
		t.Fatalf("expected pending migration error, got %v", err)
	}
}
