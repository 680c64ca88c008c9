package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lherron/redline/internal/cursor"
	"github.com/lherron/redline/internal/domain"
	"github.com/lherron/redline/internal/events"
	"github.com/lherron/redline/internal/id"
	"github.com/lherron/redline/internal/session"
)

// SessionStore persists merge session records.
type SessionStore struct {
	store *Store
}

const sessionColumns = `uuid, id, status, strategy, granularity, version_count, conflicts_count,
	resolved_count, document_id, document_name, snapshot, etag, created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*domain.MergeSession, error) {
	var m domain.MergeSession
	var createdAt, updatedAt string
	var completedAt sql.NullString
	err := row.Scan(&m.UUID, &m.ID, &m.Status, &m.Strategy, &m.Granularity, &m.VersionCount,
		&m.ConflictsCount, &m.ResolvedCount, &m.DocumentID, &m.DocumentName, &m.Snapshot,
		&m.ETag, &createdAt, &updatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, err
		}
		m.CompletedAt = &t
	}
	return &m, nil
}

// sessionFields are the summary columns derived from a record
type sessionFields struct {
	status         domain.MergeStatus
	strategy       string
	granularity    string
	versionCount   int
	conflictsCount int
	resolvedCount  int
	documentID     *string
	documentName   *string
	completedAt    *string
	snapshot       string
}

func fieldsFromRecord(rec session.Record) (sessionFields, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return sessionFields{}, fmt.Errorf("failed to marshal session record: %w", err)
	}
	f := sessionFields{status: rec.Status, snapshot: string(data)}
	if rec.Plan != nil {
		f.strategy = string(rec.Plan.Strategy)
		f.granularity = string(rec.Plan.Granularity)
		f.versionCount = len(rec.Plan.Sources)
		f.conflictsCount = rec.Plan.ConflictsCount
		f.resolvedCount = rec.Plan.Resolved()
	}
	if rec.Result != nil {
		f.documentID = &rec.Result.DocumentID
		f.documentName = &rec.Result.DocumentName
	}
	if rec.CompletedAt != nil {
		s := formatTime(*rec.CompletedAt)
		f.completedAt = &s
	}
	return f, nil
}

// Create persists a newly started session and logs merge.started.
func (ss *SessionStore) Create(rec session.Record) (*domain.MergeSession, error) {
	if rec.Plan == nil {
		return nil, domain.Invalid("cannot persist session %s without a plan", rec.ID)
	}
	f, err := fieldsFromRecord(rec)
	if err != nil {
		return nil, err
	}

	var created *domain.MergeSession
	err = ss.store.withTx(func(tx *sql.Tx, ew *events.Writer) error {
		_, err := tx.Exec(`
			INSERT INTO merge_sessions (
				uuid, id, status, strategy, granularity, version_count, conflicts_count,
				resolved_count, document_id, document_name, snapshot, created_at, updated_at, completed_at
			)
			VALUES (?, '', ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			rec.ID, f.status, f.strategy, f.granularity, f.versionCount, f.conflictsCount,
			f.resolvedCount, f.documentID, f.documentName, f.snapshot,
			formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt), f.completedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create merge session: %w", err)
		}

		created, err = scanSession(tx.QueryRow("SELECT "+sessionColumns+" FROM merge_sessions WHERE uuid = ?", rec.ID))
		if err != nil {
			return fmt.Errorf("failed to read merge session: %w", err)
		}

		if err := ew.LogMergeEvent(tx, events.MergeStarted, created, map[string]interface{}{
			"strategy":        created.Strategy,
			"granularity":     created.Granularity,
			"version_count":   created.VersionCount,
			"conflicts_count": created.ConflictsCount,
			"auto_resolved":   rec.Plan.AutoResolvedCount,
		}); err != nil {
			return fmt.Errorf("failed to log event: %w", err)
		}
		return nil
	})
	return created, err
}

// Save writes an updated record, bumping the etag, and logs eventType.
// ifMatch > 0 enables the optimistic concurrency check.
func (ss *SessionStore) Save(rec session.Record, ifMatch int64, eventType string, payload map[string]interface{}) (*domain.MergeSession, error) {
	f, err := fieldsFromRecord(rec)
	if err != nil {
		return nil, err
	}

	var saved *domain.MergeSession
	err = ss.store.withTx(func(tx *sql.Tx, ew *events.Writer) error {
		var currentETag int64
		err := tx.QueryRow("SELECT etag FROM merge_sessions WHERE uuid = ?", rec.ID).Scan(&currentETag)
		if err != nil {
			if err == sql.ErrNoRows {
				return domain.NotFound("merge session not found: %s", rec.ID)
			}
			return fmt.Errorf("failed to get current etag: %w", err)
		}
		if err := checkETag(currentETag, ifMatch); err != nil {
			return err
		}

		// A cancelled record has no plan; keep the summary columns it had.
		setClauses := []string{
			"status = ?", "snapshot = ?", "document_id = ?", "document_name = ?",
			"completed_at = ?", "updated_at = ?", "etag = etag + 1",
		}
		args := []interface{}{f.status, f.snapshot, f.documentID, f.documentName, f.completedAt, formatTime(rec.UpdatedAt)}
		if rec.Plan != nil {
			setClauses = append(setClauses, "conflicts_count = ?", "resolved_count = ?")
			args = append(args, f.conflictsCount, f.resolvedCount)
		}
		args = append(args, rec.ID)

		query := fmt.Sprintf("UPDATE merge_sessions SET %s WHERE uuid = ?", strings.Join(setClauses, ", "))
		if _, err := tx.Exec(query, args...); err != nil {
			return fmt.Errorf("failed to update merge session: %w", err)
		}

		saved, err = scanSession(tx.QueryRow("SELECT "+sessionColumns+" FROM merge_sessions WHERE uuid = ?", rec.ID))
		if err != nil {
			return fmt.Errorf("failed to read merge session: %w", err)
		}

		if err := ew.LogMergeEvent(tx, eventType, saved, payload); err != nil {
			return fmt.Errorf("failed to log event: %w", err)
		}
		return nil
	})
	return saved, err
}

// Get looks a session up by uuid or friendly ID.
func (ss *SessionStore) Get(ref string) (*domain.MergeSession, error) {
	column := "uuid"
	if id.IsFriendlyID(ref) {
		column = "id"
	}
	m, err := scanSession(ss.store.db.QueryRow("SELECT "+sessionColumns+" FROM merge_sessions WHERE "+column+" = ?", strings.TrimSpace(ref)))
	if err == sql.ErrNoRows {
		return nil, domain.NotFound("merge session not found: %s", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load merge session: %w", err)
	}
	return m, nil
}

// Load returns the stored row and the decoded session record.
func (ss *SessionStore) Load(ref string) (*domain.MergeSession, session.Record, error) {
	m, err := ss.Get(ref)
	if err != nil {
		return nil, session.Record{}, err
	}
	var rec session.Record
	if err := json.Unmarshal([]byte(m.Snapshot), &rec); err != nil {
		return nil, session.Record{}, fmt.Errorf("failed to decode session %s: %w", m.ID, err)
	}
	return m, rec, nil
}

// ListParams filters and pages session listings.
type ListParams struct {
	Status domain.MergeStatus
	Limit  int
	Cursor string
}

// List returns sessions newest first and the cursor for the next page,
// empty when there are no more rows.
func (ss *SessionStore) List(p ListParams) ([]domain.MergeSession, string, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 50
	}

	var where []string
	var args []interface{}
	if p.Status != "" {
		if err := domain.ValidateMergeStatus(string(p.Status)); err != nil {
			return nil, "", domain.Invalid("%s", err)
		}
		where = append(where, "status = ?")
		args = append(args, p.Status)
	}
	if p.Cursor != "" {
		c, err := cursor.Decode(p.Cursor)
		if err != nil {
			return nil, "", domain.Invalid("%s", err)
		}
		if err := c.Expect("created_at"); err != nil {
			return nil, "", domain.Invalid("%s", err)
		}
		clause, params, err := c.BuildWhereClause([]bool{true})
		if err != nil {
			return nil, "", domain.Invalid("%s", err)
		}
		where = append(where, clause)
		args = append(args, params...)
	}

	query := "SELECT " + sessionColumns + " FROM merge_sessions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit+1)

	rows, err := ss.store.db.Query(query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list merge sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.MergeSession
	for rows.Next() {
		m, err := scanSession(rows)
		if err != nil {
			return nil, "", fmt.Errorf("failed to scan merge session: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("error iterating merge sessions: %w", err)
	}

	var next string
	if len(out) > limit {
		out = out[:limit]
		last := out[len(out)-1]
		c, err := cursor.NewCursor([]string{"created_at"}, []interface{}{formatTime(last.CreatedAt)}, last.ID)
		if err != nil {
			return nil, "", err
		}
		if next, err = c.Encode(); err != nil {
			return nil, "", err
		}
	}
	return out, next, nil
}

// Delete removes a session row. Its events stay in the log.
func (ss *SessionStore) Delete(uuid string) error {
	res, err := ss.store.db.Exec("DELETE FROM merge_sessions WHERE uuid = ?", uuid)
	if err != nil {
		return fmt.Errorf("failed to delete merge session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("merge session not found: %s", uuid)
	}
	return nil
}
