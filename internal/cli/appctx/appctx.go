// Package appctx provides a shared bootstrap helper for CLI commands.
// It centralizes config loading, logging setup and database opening.
package appctx

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lherron/redline/internal/config"
	"github.com/lherron/redline/internal/db"
	"github.com/lherron/redline/internal/logging"
	"github.com/lherron/redline/internal/store"
)

// App holds the shared application context for commands.
type App struct {
	Config *config.Config

	// DB and Store are nil when the command did not ask for a database
	DB    *db.DB
	Store *store.Store

	Log *slog.Logger
}

// Close releases resources held by the App.
// Safe to call multiple times.
func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
		a.DB = nil
		a.Store = nil
	}
}

// Options configures the bootstrap behavior.
type Options struct {
	NeedsDB bool

	// CreateDB creates and migrates the database when the file does not
	// exist yet. Existing databases with pending migrations are still
	// rejected.
	CreateDB bool
}

// DefaultOptions returns options for commands that read and write
// merge sessions.
func DefaultOptions() Options {
	return Options{NeedsDB: true, CreateDB: true}
}

// NoDB returns options for commands that never touch the database.
func NoDB() Options {
	return Options{}
}

// RunFunc is the signature for command run functions.
type RunFunc func(app *App, cmd *cobra.Command, args []string) error

// WithApp wraps a command's run function with shared bootstrap logic.
// The database is closed automatically when the wrapped function returns.
func WithApp(opts Options, fn RunFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := Bootstrap(cmd, opts)
		if err != nil {
			return err
		}
		defer app.Close()

		return fn(app, cmd, args)
	}
}

// Bootstrap initializes the App according to the given options.
// Callers are responsible for calling App.Close() when done.
func Bootstrap(cmd *cobra.Command, opts Options) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	app := &App{Config: cfg}

	if dbFlag := cmd.Flag("db"); dbFlag != nil {
		if dbPath := dbFlag.Value.String(); dbPath != "" {
			app.Config.DBPath = dbPath
		}
	}

	// Commands print their results on stdout; logs stay quiet on stderr
	// unless --verbose is set.
	level := "warn"
	if v := cmd.Flag("verbose"); v != nil && v.Value.String() == "true" {
		level = cfg.LogLevel
	}
	app.Log, err = logging.New(cmd.ErrOrStderr(), level, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	if opts.NeedsDB {
		database, err := openDB(app.Config.DBPath, opts.CreateDB)
		if err != nil {
			return nil, err
		}
		app.DB = database
		app.Store = store.New(database)
	}

	return app, nil
}

func openDB(dbPath string, create bool) (*db.DB, error) {
	fresh := false
	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		if !create {
			return nil, fmt.Errorf("database not found: %s (run 'redlineadm migrate' to create it)", dbPath)
		}
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		fresh = true
	}

	database, err := db.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if fresh {
		if err := database.Migrate(); err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return database, nil
	}

	if err := database.RequiresMigrationError(); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

// Quiet returns a logger for tests and library callers that want no output.
func Quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
