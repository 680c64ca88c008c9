package domain

import (
	"encoding/json"
	"time"
)

// MergeStatus is the persisted lifecycle state of a merge session
type MergeStatus string

const (
	MergeStatusOpen      MergeStatus = "OPEN"
	MergeStatusResolved  MergeStatus = "RESOLVED"
	MergeStatusFinalized MergeStatus = "FINALIZED"
	MergeStatusCancelled MergeStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are allowed
func (s MergeStatus) Terminal() bool {
	return s == MergeStatusFinalized || s == MergeStatusCancelled
}

// MergeSession is the stored row for one merge session. Snapshot holds
// the full JSON session record.
type MergeSession struct {
	UUID           string      `json:"uuid" db:"uuid"`
	ID             string      `json:"id" db:"id"`
	Status         MergeStatus `json:"status" db:"status"`
	Strategy       string      `json:"strategy" db:"strategy"`
	Granularity    string      `json:"granularity" db:"granularity"`
	VersionCount   int         `json:"version_count" db:"version_count"`
	ConflictsCount int         `json:"conflicts_count" db:"conflicts_count"`
	ResolvedCount  int         `json:"resolved_count" db:"resolved_count"`
	DocumentID     *string     `json:"document_id,omitempty" db:"document_id"`
	DocumentName   *string     `json:"document_name,omitempty" db:"document_name"`
	Snapshot       string      `json:"-" db:"snapshot"`
	ETag           int64       `json:"etag" db:"etag"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at" db:"updated_at"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty" db:"completed_at"`
}

// Comparison is the stored summary of a two-way compare run
type Comparison struct {
	UUID            string    `json:"uuid" db:"uuid"`
	ID              string    `json:"id" db:"id"`
	OriginalLabel   string    `json:"original_label" db:"original_label"`
	ModifiedLabel   string    `json:"modified_label" db:"modified_label"`
	Mode            string    `json:"mode" db:"mode"`
	TotalChanges    int       `json:"total_changes" db:"total_changes"`
	CriticalChanges int       `json:"critical_changes" db:"critical_changes"`
	MajorChanges    int       `json:"major_changes" db:"major_changes"`
	MinorChanges    int       `json:"minor_changes" db:"minor_changes"`
	SimilarityScore float64   `json:"similarity_score" db:"similarity_score"`
	Changes         *string   `json:"changes,omitempty" db:"changes"` // JSON
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// Event represents an event in the event log
type Event struct {
	ID           int64     `json:"id" db:"id"`
	Timestamp    time.Time `json:"timestamp" db:"timestamp"`
	ResourceType string    `json:"resource_type" db:"resource_type"`
	ResourceUUID *string   `json:"resource_uuid,omitempty" db:"resource_uuid"`
	EventType    string    `json:"event_type" db:"event_type"`
	ETag         *int64    `json:"etag,omitempty" db:"etag"`
	Payload      *string   `json:"payload,omitempty" db:"payload"` // JSON
}

// GetPayload parses the payload JSON into a map
func (e *Event) GetPayload() (map[string]interface{}, error) {
	if e.Payload == nil || *e.Payload == "" {
		return map[string]interface{}{}, nil
	}
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(*e.Payload), &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// SetPayload sets the payload from a map
func (e *Event) SetPayload(payload map[string]interface{}) error {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s := string(data)
	e.Payload = &s
	return nil
}
