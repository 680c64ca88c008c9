// Package cursor implements opaque keyset pagination cursors for listings
// ordered by one or more columns plus the friendly ID.
package cursor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var columnName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Cursor represents a pagination cursor with sort fields and last seen values
type Cursor struct {
	SortFields []string      `json:"sort_fields"`
	LastValues []interface{} `json:"last_values"`
	LastID     string        `json:"last_id"`
}

// NewCursor creates a new cursor from the last row values
func NewCursor(sortFields []string, lastValues []interface{}, lastID string) (*Cursor, error) {
	if len(sortFields) != len(lastValues) {
		return nil, fmt.Errorf("sort fields and last values length mismatch")
	}
	if lastID == "" {
		return nil, fmt.Errorf("last ID required")
	}
	return &Cursor{SortFields: sortFields, LastValues: lastValues, LastID: lastID}, nil
}

// Encode serializes the cursor to an opaque base64 string
func (c *Cursor) Encode() (string, error) {
	if len(c.SortFields) != len(c.LastValues) {
		return "", fmt.Errorf("sort fields and last values length mismatch")
	}
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal cursor: %w", err)
	}
	return base64.URLEncoding.EncodeToString(data), nil
}

// Decode deserializes a cursor from an opaque base64 string
func Decode(encoded string) (*Cursor, error) {
	if encoded == "" {
		return nil, fmt.Errorf("empty cursor string")
	}
	data, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("invalid cursor format: %w", err)
	}
	if len(c.SortFields) == 0 {
		return nil, fmt.Errorf("cursor missing sort fields")
	}
	if len(c.SortFields) != len(c.LastValues) {
		return nil, fmt.Errorf("cursor sort fields and values length mismatch")
	}
	if c.LastID == "" {
		return nil, fmt.Errorf("cursor missing last ID")
	}
	return &c, nil
}

// Expect checks that the cursor was issued for the given ordering. Sort
// fields end up in SQL, so a decoded cursor must pass this before
// BuildWhereClause.
func (c *Cursor) Expect(fields ...string) error {
	if strings.Join(c.SortFields, ",") != strings.Join(fields, ",") {
		return fmt.Errorf("cursor was issued for ordering %v, not %v", c.SortFields, fields)
	}
	return nil
}

// BuildWhereClause constructs the keyset predicate for the cursor and its
// parameters. For ORDER BY a DESC, b DESC, id DESC it generates
//
//	(a < ? OR (a = ? AND b < ?) OR (a = ? AND b = ? AND id < ?))
//
// The id tie-breaker follows the direction of the last sort field.
func (c *Cursor) BuildWhereClause(descending []bool) (string, []interface{}, error) {
	if len(c.SortFields) != len(descending) {
		return "", nil, fmt.Errorf("sort fields and descending flags length mismatch")
	}
	for _, f := range c.SortFields {
		if !columnName.MatchString(f) {
			return "", nil, fmt.Errorf("invalid sort field %q", f)
		}
	}

	var params []interface{}
	var or []string

	level := func(n int, last string, op string, value interface{}) {
		var and []string
		for j := 0; j < n; j++ {
			and = append(and, c.SortFields[j]+" = ?")
			params = append(params, c.LastValues[j])
		}
		and = append(and, fmt.Sprintf("%s %s ?", last, op))
		params = append(params, value)
		if len(and) == 1 {
			or = append(or, and[0])
		} else {
			or = append(or, "("+strings.Join(and, " AND ")+")")
		}
	}

	for i, field := range c.SortFields {
		level(i, field, direction(descending[i]), c.LastValues[i])
	}
	level(len(c.SortFields), "id", direction(descending[len(descending)-1]), c.LastID)

	return "(" + strings.Join(or, " OR ") + ")", params, nil
}

func direction(desc bool) string {
	if desc {
		return "<"
	}
	return ">"
}
