package domain

import (
	"fmt"
	"regexp"
	"time"
)

// UUIDv4Regex validates lowercase UUIDv4 format
var UUIDv4Regex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// ValidateUUID validates a UUID v4 format (lowercase with hyphens)
func ValidateUUID(uuid string) error {
	if !UUIDv4Regex.MatchString(uuid) {
		return fmt.Errorf("invalid UUID: must be lowercase UUIDv4 format (e.g., 550e8400-e29b-41d4-a716-446655440000)")
	}
	return nil
}

// ValidateMergeStatus validates a persisted merge session status
func ValidateMergeStatus(status string) error {
	switch MergeStatus(status) {
	case MergeStatusOpen, MergeStatusResolved, MergeStatusFinalized, MergeStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid merge status: must be one of: OPEN, RESOLVED, FINALIZED, CANCELLED")
	}
}

// ValidateResourceType validates an event resource type
func ValidateResourceType(resourceType string) error {
	switch resourceType {
	case "merge", "comparison", "system":
		return nil
	default:
		return fmt.Errorf("invalid resource type: must be one of: merge, comparison, system")
	}
}

// ValidateTimestamp validates and parses an ISO8601 timestamp
func ValidateTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp format: expected ISO8601/RFC3339")
	}
	return t, nil
}
