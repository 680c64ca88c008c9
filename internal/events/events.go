package events

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lherron/redline/internal/domain"
)

// Event types written by the store
const (
	MergeStarted          = "merge.started"
	MergeConflictResolved = "merge.conflict_resolved"
	MergeBulkResolved     = "merge.bulk_resolved"
	MergeFinalized        = "merge.finalized"
	MergeCancelled        = "merge.cancelled"
	CompareCompleted      = "compare.completed"
)

// Writer handles writing events to the event log
type Writer struct {
	db *sql.DB
}

// NewWriter creates a new event writer
func NewWriter(db *sql.DB) *Writer {
	return &Writer{db: db}
}

// LogEvent writes an event to the event log
func (w *Writer) LogEvent(tx *sql.Tx, event *domain.Event) error {
	query := `
		INSERT INTO event_log (resource_type, resource_uuid, event_type, etag, payload)
		VALUES (?, ?, ?, ?, ?)
	`

	executor := w.getExecutor(tx)
	_, err := executor.Exec(query, event.ResourceType, event.ResourceUUID, event.EventType, event.ETag, event.Payload)
	if err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	return nil
}

// LogMergeEvent logs a merge lifecycle event with an arbitrary payload
func (w *Writer) LogMergeEvent(tx *sql.Tx, eventType string, session *domain.MergeSession, payload map[string]interface{}) error {
	event := &domain.Event{
		ResourceType: "merge",
		ResourceUUID: &session.UUID,
		EventType:    eventType,
		ETag:         &session.ETag,
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["id"] = session.ID
	payload["status"] = session.Status
	if err := event.SetPayload(payload); err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return w.LogEvent(tx, event)
}

// LogComparison logs a completed compare run
func (w *Writer) LogComparison(tx *sql.Tx, c *domain.Comparison) error {
	payload, err := json.Marshal(map[string]interface{}{
		"id":               c.ID,
		"mode":             c.Mode,
		"total_changes":    c.TotalChanges,
		"similarity_score": c.SimilarityScore,
	})
	if err != nil {
		return err
	}

	payloadStr := string(payload)
	return w.LogEvent(tx, &domain.Event{
		ResourceType: "comparison",
		ResourceUUID: &c.UUID,
		EventType:    CompareCompleted,
		Payload:      &payloadStr,
	})
}

// List returns events for one resource in log order
func (w *Writer) List(resourceUUID string) ([]domain.Event, error) {
	rows, err := w.db.Query(`
		SELECT id, timestamp, resource_type, resource_uuid, event_type, etag, payload
		FROM event_log
		WHERE resource_uuid = ?
		ORDER BY id
	`, resourceUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.ResourceType, &e.ResourceUUID, &e.EventType, &e.ETag, &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if e.Timestamp, err = domain.ValidateTimestamp(ts); err != nil {
			return nil, fmt.Errorf("event %d: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// getExecutor returns the appropriate executor (tx or db)
func (w *Writer) getExecutor(tx *sql.Tx) interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
} {
	if tx != nil {
		return tx
	}
	return w.db
}
