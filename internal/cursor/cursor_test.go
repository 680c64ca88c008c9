package cursor

import (
	"encoding/base64"
	"reflect"
	"testing"
)

func TestEncodeDecode(t *testing.T) {
	c, err := NewCursor([]string{"created_at"}, []interface{}{"2025-03-01T09:00:00Z"}, "M-00042")
	if err != nil {
		t.Fatalf("NewCursor failed: %v", err)
	}
	encoded, err := c.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !reflect.DeepEqual(decoded, c) {
		t.Errorf("round trip mismatch: %+v vs %+v", decoded, c)
	}
}

func TestDecode_Invalid(t *testing.T) {
	enc := func(s string) string { return base64.URLEncoding.EncodeToString([]byte(s)) }
	tests := map[string]string{
		"empty":           "",
		"not base64":      "!!!",
		"not json":        enc("nope"),
		"no sort fields":  enc(`{"sort_fields":[],"last_values":[],"last_id":"M-00001"}`),
		"length mismatch": enc(`{"sort_fields":["created_at"],"last_values":[],"last_id":"M-00001"}`),
		"no last id":      enc(`{"sort_fields":["created_at"],"last_values":["x"],"last_id":""}`),
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(in); err == nil {
				t.Errorf("expected error for %s", name)
			}
		})
	}
}

func TestNewCursor_Invalid(t *testing.T) {
	if _, err := NewCursor([]string{"a", "b"}, []interface{}{1}, "M-00001"); err == nil {
		t.Error("expected length mismatch error")
	}
	if _, err := NewCursor([]string{"a"}, []interface{}{1}, ""); err == nil {
		t.Error("expected missing id error")
	}
}

func TestBuildWhereClause(t *testing.T) {
	tests := []struct {
		name       string
		cursor     Cursor
		descending []bool
		wantClause string
		wantParams []interface{}
	}{
		{
			name:       "single field descending",
			cursor:     Cursor{SortFields: []string{"created_at"}, LastValues: []interface{}{"T1"}, LastID: "M-00007"},
			descending: []bool{true},
			wantClause: "(created_at < ? OR (created_at = ? AND id < ?))",
			wantParams: []interface{}{"T1", "T1", "M-00007"},
		},
		{
			name:       "two fields ascending",
			cursor:     Cursor{SortFields: []string{"status", "created_at"}, LastValues: []interface{}{"OPEN", "T1"}, LastID: "M-00003"},
			descending: []bool{false, false},
			wantClause: "(status > ? OR (status = ? AND created_at > ?) OR (status = ? AND created_at = ? AND id > ?))",
			wantParams: []interface{}{"OPEN", "OPEN", "T1", "OPEN", "T1", "M-00003"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clause, params, err := tt.cursor.BuildWhereClause(tt.descending)
			if err != nil {
				t.Fatalf("BuildWhereClause failed: %v", err)
			}
			if clause != tt.wantClause {
				t.Errorf("clause\n got: %s\nwant: %s", clause, tt.wantClause)
			}
			if !reflect.DeepEqual(params, tt.wantParams) {
				t.Errorf("params got %v, want %v", params, tt.wantParams)
			}
		})
	}
}

func TestBuildWhereClause_RejectsInjectedField(t *testing.T) {
	c := Cursor{SortFields: []string{"created_at; DROP TABLE merge_sessions"}, LastValues: []interface{}{1}, LastID: "M-00001"}
	if _, _, err := c.BuildWhereClause([]bool{true}); err == nil {
		t.Error("expected invalid field to be rejected")
	}
	if _, _, err := c.BuildWhereClause([]bool{true, false}); err == nil {
		t.Error("expected flag length mismatch error")
	}
}

func TestExpect(t *testing.T) {
	c := Cursor{SortFields: []string{"created_at"}, LastValues: []interface{}{"T"}, LastID: "M-00001"}
	if err := c.Expect("created_at"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := c.Expect("updated_at"); err == nil {
		t.Error("expected ordering mismatch")
	}
}
