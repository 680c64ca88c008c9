// Package store provides a persistence layer that abstracts database operations,
// automatically handling etag management, timestamps, and event logging.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lherron/redline/internal/db"
	"github.com/lherron/redline/internal/domain"
	"github.com/lherron/redline/internal/events"
)

// Store is the root store that provides access to domain-specific stores.
type Store struct {
	db *db.DB

	// Domain-specific stores
	Sessions    *SessionStore
	Comparisons *ComparisonStore
}

// New creates a new Store wrapping the given database connection.
func New(database *db.DB) *Store {
	s := &Store{db: database}
	s.Sessions = &SessionStore{store: s}
	s.Comparisons = &ComparisonStore{store: s}
	return s
}

// DB returns the underlying database connection (for read-only queries).
func (s *Store) DB() *db.DB {
	return s.db
}

// withTx executes fn within a transaction. If fn returns nil, the transaction
// is committed; otherwise it is rolled back.
func (s *Store) withTx(fn func(tx *sql.Tx, ew *events.Writer) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ew := events.NewWriter(s.db.DB)
	if err := fn(tx, ew); err != nil {
		return err
	}

	return tx.Commit()
}

// checkETag verifies etag matches if ifMatch > 0, returns ETagMismatchError on mismatch.
func checkETag(currentETag, ifMatch int64) error {
	if ifMatch > 0 && currentETag != ifMatch {
		return &domain.ETagMismatchError{Expected: ifMatch, Actual: currentETag}
	}
	return nil
}

// Events returns an event writer for reading the event log.
func (s *Store) Events() *events.Writer {
	return events.NewWriter(s.db.DB)
}

const timeLayout = "2006-01-02T15:04:05Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}
