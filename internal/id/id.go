package id

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/oklog/ulid/v2"
)

var (
	mergeIDPattern      = regexp.MustCompile(`^M-\d{5,}$`)
	comparisonIDPattern = regexp.MustCompile(`^CMP-\d{5,}$`)
	uuidPattern         = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

// Type represents the type of resource
type Type string

const (
	TypeMerge      Type = "merge"
	TypeComparison Type = "comparison"
)

// FormatMerge formats a merge session friendly ID
func FormatMerge(seq int) string {
	return fmt.Sprintf("M-%05d", seq)
}

// FormatComparison formats a comparison friendly ID
func FormatComparison(seq int) string {
	return fmt.Sprintf("CMP-%05d", seq)
}

// Parse parses an ID string and returns the type and sequence number
func Parse(id string) (Type, int, error) {
	id = strings.TrimSpace(id)

	switch {
	case mergeIDPattern.MatchString(id):
		seq, _ := strconv.Atoi(id[2:])
		return TypeMerge, seq, nil
	case comparisonIDPattern.MatchString(id):
		seq, _ := strconv.Atoi(id[4:])
		return TypeComparison, seq, nil
	default:
		return "", 0, fmt.Errorf("invalid friendly ID format: %s", id)
	}
}

// IsUUID checks if a string is a valid UUID
func IsUUID(s string) bool {
	return uuidPattern.MatchString(strings.ToLower(s))
}

// IsFriendlyID checks if a string is a valid friendly ID
func IsFriendlyID(s string) bool {
	_, _, err := Parse(s)
	return err == nil
}

// IsDocumentID checks if a string is a finalized document ID (a ULID)
func IsDocumentID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
