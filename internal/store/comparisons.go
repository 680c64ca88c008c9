package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lherron/redline/internal/diff"
	"github.com/lherron/redline/internal/domain"
	"github.com/lherron/redline/internal/events"
	"github.com/lherron/redline/internal/id"
)

// ComparisonStore persists compare runs.
type ComparisonStore struct {
	store *Store
}

// ComparisonParams describes a finished compare run to record.
type ComparisonParams struct {
	OriginalLabel string
	ModifiedLabel string
	Result        *diff.Result
	KeepChanges   bool // store the full change list, not just the summary
}

const comparisonColumns = `uuid, id, original_label, modified_label, mode, total_changes,
	critical_changes, major_changes, minor_changes, similarity_score, changes, created_at`

func scanComparison(row rowScanner) (*domain.Comparison, error) {
	var c domain.Comparison
	var createdAt string
	err := row.Scan(&c.UUID, &c.ID, &c.OriginalLabel, &c.ModifiedLabel, &c.Mode, &c.TotalChanges,
		&c.CriticalChanges, &c.MajorChanges, &c.MinorChanges, &c.SimilarityScore, &c.Changes, &createdAt)
	if err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// Create records a compare run and logs compare.completed.
func (cs *ComparisonStore) Create(p ComparisonParams) (*domain.Comparison, error) {
	if p.Result == nil {
		return nil, domain.Invalid("comparison result is required")
	}

	var changes *string
	if p.KeepChanges {
		data, err := json.Marshal(p.Result.Changes)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal changes: %w", err)
		}
		s := string(data)
		changes = &s
	}

	var created *domain.Comparison
	err := cs.store.withTx(func(tx *sql.Tx, ew *events.Writer) error {
		sum := p.Result.Summary
		res, err := tx.Exec(`
			INSERT INTO comparisons (
				id, original_label, modified_label, mode, total_changes, critical_changes,
				major_changes, minor_changes, similarity_score, changes
			)
			VALUES ('', ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, p.OriginalLabel, p.ModifiedLabel, string(p.Result.Mode), sum.TotalChanges, sum.CriticalChanges,
			sum.MajorChanges, sum.MinorChanges, sum.SimilarityScore, changes)
		if err != nil {
			return fmt.Errorf("failed to create comparison: %w", err)
		}

		rowID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert ID: %w", err)
		}
		created, err = scanComparison(tx.QueryRow("SELECT "+comparisonColumns+" FROM comparisons WHERE rowid = ?", rowID))
		if err != nil {
			return fmt.Errorf("failed to read comparison: %w", err)
		}

		if err := ew.LogComparison(tx, created); err != nil {
			return fmt.Errorf("failed to log event: %w", err)
		}
		return nil
	})
	return created, err
}

// Get looks a comparison up by uuid or friendly ID.
func (cs *ComparisonStore) Get(ref string) (*domain.Comparison, error) {
	column := "uuid"
	if id.IsFriendlyID(ref) {
		column = "id"
	}
	c, err := scanComparison(cs.store.db.QueryRow("SELECT "+comparisonColumns+" FROM comparisons WHERE "+column+" = ?", strings.TrimSpace(ref)))
	if err == sql.ErrNoRows {
		return nil, domain.NotFound("comparison not found: %s", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load comparison: %w", err)
	}
	return c, nil
}

// Recent returns the latest comparisons, newest first.
func (cs *ComparisonStore) Recent(limit int) ([]domain.Comparison, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := cs.store.db.Query("SELECT "+comparisonColumns+" FROM comparisons ORDER BY created_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list comparisons: %w", err)
	}
	defer rows.Close()

	var out []domain.Comparison
	for rows.Next() {
		c, err := scanComparison(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan comparison: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
